package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/attempt"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
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

// WSHandler streams a running attempt over a WebSocket.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream?examinee_id=...
// Forwards answer, focus and submit actions into the session and pushes
// tick, expired and graded events back.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	sess, ok := h.attempts.Get(attemptID)
	if !ok {
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		return
	}
	if strings.TrimSpace(c.Query("examinee_id")) != sess.ExamineeID() {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("attempt_id", attemptID.String()).
		Str("examinee_id", sess.ExamineeID()).
		Logger()

	unsubscribe := sess.Subscribe(&streamListener{conn: conn, log: wsLog})
	defer unsubscribe()

	wsLog.Info().Msg("Examinee connected")
	conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: sess.Snapshot()})

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, sess, &msg)
		case ws.ActionFocusLost:
			sess.FocusLost()
		case ws.ActionFocusGained:
			sess.FocusGained()
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, sess)
		case ws.ActionState:
			conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: sess.Snapshot()})
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *ws.Conn, sess *attempt.Session, msg *ws.RequestPayload) {
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	if err := sess.RecordResponse(qid, msg.Answer); err != nil {
		if errors.Is(err, attempt.ErrUnknownQuestion) {
			conn.WriteError("question is not part of this attempt")
			return
		}
		conn.WriteError("save failed")
		return
	}
	conn.WriteTyped(ws.SuccessResponse{Event: ws.EventSuccess, Status: "saved"})
}

// handleSubmit finalizes the attempt. The graded event itself reaches every
// subscriber through the session listener.
func (h *WSHandler) handleSubmit(conn *ws.Conn, wsLog zerolog.Logger, sess *attempt.Session) {
	_, err := sess.Submit(context.Background(), model.SubmitExplicit)
	if errors.Is(err, attempt.ErrAlreadySubmitted) {
		conn.WriteError("attempt already submitted")
		return
	}
	if err != nil {
		wsLog.Warn().Err(err).Msg("Submitted with queued writes")
	}
}

// streamListener relays session events to one connection.
type streamListener struct {
	conn *ws.Conn
	log  zerolog.Logger
}

func (l *streamListener) OnTick(remaining int) {
	if err := l.conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remaining}); err != nil {
		l.log.Debug().Err(err).Msg("Tick write failed")
	}
}

func (l *streamListener) OnSubmitted(a *model.Attempt, err error) {
	if a.SubmitReason == model.SubmitTimeExpired {
		l.conn.WriteTyped(ws.ExpiredResponse{Event: ws.EventExpired})
	}
	werr := l.conn.WriteTyped(ws.GradedResponse{
		Event:         ws.EventGraded,
		Status:        string(a.Status),
		Reason:        a.SubmitReason,
		Score:         a.Score,
		TotalPossible: a.TotalPossible,
		Answered:      len(a.Responses),
		Persisted:     err == nil,
	})
	if werr != nil {
		l.log.Debug().Err(werr).Msg("Graded write failed")
	}
}
