package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/app"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a signed token for this actor ID and exit")
	tokenRole := flag.String("role", string(model.RoleStudent), "role of the token printed by -issue-token")
	quizFile := flag.String("quizzes", "", "JSON file of answer keys loaded in memory storage mode")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	if *issueToken != "" {
		printToken(cfg, log, *issueToken, model.Role(*tokenRole))
		return
	}

	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Initialize Storage ────────────────────────────────────────────
	var (
		stores  app.Stores
		pool    *pgxpool.Pool
		rdb     *redis.Client
		secRepo *repository.SecurityEventRepository
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		quizzes, err := loadQuizzes(*quizFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", *quizFile).Msg("Failed to load quizzes")
		}
		stores = app.MemoryStores(quizzes, nil)
		log.Warn().Int("quizzes", len(quizzes)).Msg("Memory storage: state is lost on restart")

	case config.StoragePostgres:
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		secRepo = repository.NewSecurityEventRepository(pool)
		monitorChannel := repository.NewMonitorChannel(rdb, log)
		stores = app.Stores{
			Attempts:    repository.NewAttemptRepository(pool),
			Batches:     repository.NewBatchRepository(pool),
			Quizzes:     repository.NewQuizCache(rdb, repository.NewQuizRepository(pool), cfg.QuizCacheTTL),
			Directory:   repository.NewActorRepository(pool),
			Presence:    repository.NewPresenceRepository(rdb, cfg.PresenceTTL),
			EventSink:   repository.NewEventQueue(rdb),
			EventReader: secRepo,
			Notifier:    monitorChannel,
			Notices:     monitorChannel,
		}

	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("Unknown STORAGE_DRIVER")
	}

	// ─── Wire Services & Router ────────────────────────────────────────
	a := app.New(cfg, stores, log)

	if pool != nil {
		a.Handlers.Health.AddCheck("postgres", pool.Ping)
	}
	if rdb != nil {
		a.Handlers.Health.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		a.Handlers.Health.AddGauge("event_queue_depth", func(ctx context.Context) (int64, error) {
			return rdb.LLen(ctx, config.WorkerKey.PersistSecurityEventsQueue).Result()
		})
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if rdb != nil {
		eventWorker := worker.NewEventWorker(rdb, secRepo, log)
		workers.Go(func() { eventWorker.Start(workerCtx) })
	}

	expiryWorker := worker.NewExpiryWorker(a.Attempts, cfg.ExpirySweepInterval, log)
	workers.Go(func() { expiryWorker.Start(workerCtx) })
	workers.Go(func() { a.StartLimiter.Run(workerCtx.Done()) })

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Open SSE and WebSocket streams
	// end when their request context is cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the event worker flushes its buffer.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func printToken(cfg *config.Config, log zerolog.Logger, actorID string, role model.Role) {
	auth := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	token, err := auth.IssueToken(actorID, role, model.DefaultPermissions(role))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(token)
}

// loadQuizzes reads a JSON array of answer keys. An empty path loads none.
func loadQuizzes(path string) ([]model.Quiz, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var quizzes []model.Quiz
	if err := json.Unmarshal(raw, &quizzes); err != nil {
		return nil, fmt.Errorf("decode quizzes: %w", err)
	}
	return quizzes, nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
