// Package app wires stores, services and transport into a runnable server.
package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Stores is the storage backend: pgx and Redis in production, the memory
// package for demos and tests.
type Stores struct {
	Attempts    service.AttemptRepository
	Batches     service.BatchRepository
	Quizzes     service.QuizProvider
	Directory   service.ActorDirectory
	Presence    service.PresenceStore
	EventSink   service.EventSink
	EventReader service.EventReader
	Notifier    service.Notifier
	Notices     handler.NoticeSubscriber
}

// MemoryStores returns a Stores backed entirely by process memory.
func MemoryStores(quizzes []model.Quiz, names map[string]string) Stores {
	events := memory.NewEventLog()
	notifier := memory.NewNotifier()
	return Stores{
		Attempts:    memory.NewAttemptStore(),
		Batches:     memory.NewBatchStore(),
		Quizzes:     memory.NewQuizStore(quizzes...),
		Directory:   memory.NewDirectory(names),
		Presence:    memory.NewPresenceStore(),
		EventSink:   events,
		EventReader: events,
		Notifier:    notifier,
		Notices:     notifier,
	}
}

// App holds the wired services and the HTTP router.
type App struct {
	Auth     *service.AuthService
	Events   *service.EventService
	Presence *service.PresenceService
	Attempts *service.AttemptService
	Batches  *service.BatchService
	Monitor  *service.MonitorService

	Handlers     *router.Handlers
	StartLimiter *middleware.RateLimiter
	Router       *gin.Engine
}

// New wires an App over stores.
func New(cfg *config.Config, stores Stores, log zerolog.Logger) *App {
	a := &App{Auth: service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)}

	a.Events = service.NewEventService(stores.EventSink, stores.EventReader, stores.Attempts, log)
	a.Presence = service.NewPresenceService(stores.Presence, log)
	a.Attempts = service.NewAttemptService(stores.Attempts, stores.Batches, stores.Quizzes, a.Events, a.Presence, stores.Notifier, log)
	a.Batches = service.NewBatchService(stores.Batches, stores.Attempts, a.Attempts, a.Events, cfg.CascadeConcurrency, log)
	a.Monitor = service.NewMonitorService(stores.Batches, stores.Attempts, stores.Presence, stores.Directory, stores.EventReader, cfg.OnlineWindow, log)

	// Start is the only student route that checks a secret (the entry token).
	a.StartLimiter = middleware.NewRateLimiter(30, time.Minute)

	a.Handlers = &router.Handlers{
		Attempt:      handler.NewAttemptHandler(a.Attempts, a.Presence, a.Events),
		Operator:     handler.NewOperatorHandler(a.Batches, a.Attempts, a.Events),
		Monitor:      handler.NewMonitorHandler(a.Monitor, stores.Notices, cfg.RosterRefreshInterval, log),
		WS:           handler.NewWSHandler(a.Attempts, a.Presence, a.Events, log, cfg.AllowedOrigins),
		Health:       handler.NewHealthHandler(log),
		StartLimiter: a.StartLimiter,
	}
	a.Router = router.SetupRouter(a.Auth, a.Handlers, cfg, log)
	return a
}

// SetClock replaces the time source of every service.
func (a *App) SetClock(now func() time.Time) {
	a.Events.SetClock(now)
	a.Presence.SetClock(now)
	a.Batches.SetClock(now)
	a.Monitor.SetClock(now)
}
