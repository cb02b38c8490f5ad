package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorChannel carries roster change notices over Redis Pub/Sub so every
// server instance can wake its streaming monitors.
type MonitorChannel struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorChannel creates a new MonitorChannel.
func NewMonitorChannel(rdb *redis.Client, log zerolog.Logger) *MonitorChannel {
	return &MonitorChannel{rdb: rdb, log: log.With().Str("component", "monitor_channel").Logger()}
}

// Publish sends a notice on the batch's channel.
func (m *MonitorChannel) Publish(ctx context.Context, notice model.MonitorNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	channel := config.CacheKey.BatchMonitorChannel(notice.BatchID.String())
	if err := m.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

// Subscribe streams notices for batchID until ctx ends. Malformed payloads
// are skipped.
func (m *MonitorChannel) Subscribe(ctx context.Context, batchID uuid.UUID) (<-chan model.MonitorNotice, error) {
	pubsub := m.rdb.Subscribe(ctx, config.CacheKey.BatchMonitorChannel(batchID.String()))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe monitor channel: %w", err)
	}

	out := make(chan model.MonitorNotice, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var notice model.MonitorNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					m.log.Debug().Err(err).Msg("Skipping malformed monitor notice")
					continue
				}
				select {
				case out <- notice:
				default:
				}
			}
		}
	}()
	return out, nil
}
