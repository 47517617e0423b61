package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"horoquiz/internal/app"
	"horoquiz/internal/domain"
)

// WSHandler upgrades websocket requests for /ws/sessions/{roomCode} and
// wires each connection into its room actor.
type WSHandler struct {
	registry *app.Registry
	cfg      WSConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry, cfg WSConfig, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		registry: registry,
		cfg:      cfg.withDefaults(),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS resolves the room before upgrading so protocol-level failures map
// to plain HTTP statuses.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomCode := r.PathValue("roomCode")
	if !domain.ValidRoomCode(roomCode) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	room, err := h.registry.Acquire(r.Context(), roomCode)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
		case errors.Is(err, domain.ErrRoomClosed):
			http.Error(w, "room closed", http.StatusGone)
		default:
			h.log.Error("acquire room", "room", roomCode, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "room", roomCode, "err", err)
		room.Release()
		return
	}

	conn := newWSConn(sock, h.cfg, h.log.With("room", roomCode))
	go conn.writeLoop()
	h.readLoop(sock, conn, room)

	room.ConnClosed(conn)
	conn.Kick("")
	<-conn.dead
	room.Release()
}

// readLoop parses inbound envelopes and posts typed events into the room
// actor. It returns when the socket dies or the heartbeat lapses.
func (h *WSHandler) readLoop(sock *websocket.Conn, conn *wsConn, room *app.Room) {
	sock.SetReadLimit(64 * 1024)
	resetDeadline := func() {
		_ = sock.SetReadDeadline(time.Now().Add(h.cfg.HeartbeatInterval + h.cfg.PongTimeout))
	}
	resetDeadline()
	sock.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.badRequest(conn, "", "envelope is not valid JSON")
			continue
		}

		switch env.Event {
		case app.EvtJoinRoom:
			var p joinPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				h.badRequest(conn, env.RequestID, "invalid join_room payload")
				continue
			}
			room.Join(conn, p.Role, p.Nickname, p.CSRF, env.RequestID)

		case app.EvtAnswerSubmit:
			var p answerSubmitPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || p.QuestionID == "" || len(p.Answer) == 0 {
				h.badRequest(conn, env.RequestID, "invalid answer_submit payload")
				continue
			}
			answer, err := domain.ParseAnswer(p.Answer)
			if err != nil {
				h.badRequest(conn, env.RequestID, err.Error())
				continue
			}
			room.SubmitAnswer(conn, p.QuestionID, answer, env.RequestID)

		case app.EvtRequestQuestion:
			var p requestQuestionPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil || !validReason(p.Reason) {
				h.badRequest(conn, env.RequestID, "reason must be death, level_up or retry")
				continue
			}
			room.RequestQuestion(conn, p.Reason, env.RequestID)

		case app.EvtRequestStats:
			room.RequestStats(conn, env.RequestID)

		case app.EvtStartQuiz:
			room.StartQuiz(conn, env.RequestID)

		case app.EvtEndQuiz:
			room.EndQuiz(conn, env.RequestID)

		default:
			h.badRequest(conn, env.RequestID, "unsupported event")
		}
	}
}

func (h *WSHandler) badRequest(conn *wsConn, requestID, message string) {
	conn.Send(app.Frame{
		Event:     app.EvtBadRequest,
		RequestID: requestID,
		Critical:  true,
		Payload:   app.ErrorPayload{Code: app.CodeBadRequest, Message: message},
	})
}
