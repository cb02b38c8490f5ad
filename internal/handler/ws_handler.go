package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: autosave, submit,
// heartbeat, security events and clock queries share the connection.
type WSHandler struct {
	attempts *service.AttemptService
	presence *service.PresenceService
	events   *service.EventService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	attempts *service.AttemptService,
	presence *service.PresenceService,
	events *service.EventService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		presence: presence,
		events:   events,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:id/stream?token=
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	attemptID, ok := parseID(c, "id")
	if !ok {
		return
	}

	// SECURITY: ownership is checked before the upgrade so a rejected
	// caller gets a normal error envelope.
	if err := h.attempts.VerifyOwner(c.Request.Context(), attemptID, claims.ActorID()); err != nil {
		response.FailError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)

	wsLog := h.log.With().
		Str("actor_id", claims.ActorID()).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx := c.Request.Context()
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if err := h.dispatch(ctx, conn, attemptID, claims.ActorID(), msg); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed, closing")
			return
		}
	}
}

// dispatch handles one client frame. It returns an error only when the
// connection can no longer be written to.
func (h *WSHandler) dispatch(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, actorID string, msg ws.RequestEnvelope) error {
	switch msg.Action {
	case ws.ActionAutosave:
		var req ws.AutosaveRequest
		if !decode(msg.Data, &req) || req.QuestionID == "" || req.QuestionIndex < 0 {
			return writeCode(conn, response.ErrInvalidPayload)
		}
		if _, err := h.attempts.SaveAnswer(ctx, attemptID, req.AnswerInput, req.QuestionIndex); err != nil {
			return writeServiceError(conn, err)
		}
		saved := ws.SavedData{QuestionID: req.QuestionID}
		if rt, err := h.attempts.RemainingTime(ctx, attemptID); err == nil {
			saved.RemainingSeconds = rt.RemainingSeconds
		}
		return ws.Write(conn, ws.EventSaved, saved)

	case ws.ActionSubmit:
		var req ws.SubmitRequest
		if !decode(msg.Data, &req) {
			return writeCode(conn, response.ErrInvalidPayload)
		}
		a, err := h.attempts.Submit(ctx, attemptID, req.Answers)
		if err != nil {
			return writeServiceError(conn, err)
		}
		return ws.Write(conn, ws.EventSubmitted, ws.SubmittedData{Status: a.Status, Score: a.Score, MaxScore: a.MaxScore})

	case ws.ActionPing:
		var req ws.PingRequest
		_ = decode(msg.Data, &req)
		h.presence.Ping(ctx, attemptID, max(req.QuestionIndex, 0))
		return ws.Write(conn, ws.EventPong, nil)

	case ws.ActionEvent:
		var req ws.EventRequest
		_ = decode(msg.Data, &req)
		h.events.Record(ctx, attemptID, actorID, req.Kind, req.Detail)
		return nil

	case ws.ActionTime:
		rt, err := h.attempts.RemainingTime(ctx, attemptID)
		if err != nil {
			return writeServiceError(conn, err)
		}
		return ws.Write(conn, ws.EventTime, rt)

	default:
		return writeCode(conn, response.ErrInvalidPayload)
	}
}

// decode unmarshals an optional data object. Absent data decodes to the zero value.
func decode(data json.RawMessage, v any) bool {
	if len(data) == 0 || string(data) == "null" {
		return true
	}
	return json.Unmarshal(data, v) == nil
}

func writeCode(conn *websocket.Conn, code response.ErrCode) error {
	return ws.WriteError(conn, string(code), response.GetMessage(code))
}

func writeServiceError(conn *websocket.Conn, err error) error {
	_, code := response.FromDomain(err)
	return writeCode(conn, code)
}
