package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// NoticeSubscriber streams roster change notices for a batch.
type NoticeSubscriber interface {
	Subscribe(ctx context.Context, batchID uuid.UUID) (<-chan model.MonitorNotice, error)
}

// MonitorHandler serves the live roster by polling and as an SSE stream.
type MonitorHandler struct {
	monitor         *service.MonitorService
	notices         NoticeSubscriber
	refreshInterval time.Duration
	log             zerolog.Logger
}

func NewMonitorHandler(
	monitor *service.MonitorService,
	notices NoticeSubscriber,
	refreshInterval time.Duration,
	log zerolog.Logger,
) *MonitorHandler {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Second
	}
	return &MonitorHandler{
		monitor:         monitor,
		notices:         notices,
		refreshInterval: refreshInterval,
		log:             log.With().Str("component", "monitor_handler").Logger(),
	}
}

type rosterSnapshot struct {
	Type     string              `json:"type"`
	BatchID  uuid.UUID           `json:"batch_id"`
	Summary  model.RosterSummary `json:"summary"`
	Attempts []model.LiveStatus  `json:"attempts"`
}

func newSnapshot(batchID uuid.UUID, rows []model.LiveStatus) rosterSnapshot {
	return rosterSnapshot{
		Type:     "snapshot",
		BatchID:  batchID,
		Summary:  service.Summarize(rows),
		Attempts: rows,
	}
}

// GetLiveStatus godoc
// GET /api/v1/admin/batches/:id/live
func (h *MonitorHandler) GetLiveStatus(c *gin.Context) {
	batchID, ok := parseID(c, "id")
	if !ok {
		return
	}

	rows, err := h.monitor.RosterFor(c.Request.Context(), batchID)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, newSnapshot(batchID, rows))
}

// StreamLiveStatus godoc
// GET /api/v1/admin/batches/:id/live/stream
// Sends a snapshot on connect, on every refresh tick, and right after any
// attempt transition in the batch.
func (h *MonitorHandler) StreamLiveStatus(c *gin.Context) {
	batchID, ok := parseID(c, "id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	// Fail with a normal envelope while headers can still change.
	rows, err := h.roster(reqCtx, batchID)
	if err != nil {
		response.FailError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before the first snapshot so no transition falls between them.
	notices, err := h.notices.Subscribe(reqCtx, batchID)
	if err != nil {
		// Ticker refreshes still work without notices.
		h.log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Monitor notices unavailable")
	}

	c.SSEvent("message", newSnapshot(batchID, rows))
	c.Writer.Flush()

	refreshTicker := time.NewTicker(h.refreshInterval)
	defer refreshTicker.Stop()
	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("batch_id", batchID.String()).Msg("Operator attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("batch_id", batchID.String()).Msg("Operator disconnected from live monitor SSE")
			return

		case notice, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			c.SSEvent("message", notice)
			h.sendRefresh(c, reqCtx, batchID)

		case <-refreshTicker.C:
			h.sendRefresh(c, reqCtx, batchID)

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) roster(parent context.Context, batchID uuid.UUID) ([]model.LiveStatus, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	return h.monitor.RosterFor(ctx, batchID)
}

// sendRefresh recomputes the roster. A failed refresh is skipped; the next
// tick retries.
func (h *MonitorHandler) sendRefresh(c *gin.Context, ctx context.Context, batchID uuid.UUID) {
	rows, err := h.roster(ctx, batchID)
	if err != nil {
		if ctx.Err() == nil {
			h.log.Warn().Err(err).Str("batch_id", batchID.String()).Msg("Roster refresh failed")
		}
		return
	}
	c.SSEvent("message", newSnapshot(batchID, rows))
	c.Writer.Flush()
}
