package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"quizzana/internal/app"
	"quizzana/internal/domain"
	"quizzana/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// WSHandler streams a room to one player or to the owning admin.
type WSHandler struct {
	rooms    *app.RoomService
	auth     Authenticator
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(rooms *app.RoomService, auth Authenticator, m *metrics.Metrics, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		rooms:   rooms,
		auth:    auth,
		metrics: m,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type choicePayload struct {
	QuestionID string `json:"questionId"`
	Choice     string `json:"choice"`
}

type advancePayload struct {
	FromIndex *int `json:"fromIndex"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsClient is who sits on the other end of the socket.
type wsClient struct {
	roomID   string
	playerID string
	admin    domain.Identity
}

// ServeWS upgrades GET /ws/rooms/{roomID}. Players pass ?playerId=, admins ?token=.
// Every write goes through a single writer goroutine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	client := wsClient{roomID: chi.URLParam(r, "roomID"), playerID: r.URL.Query().Get("playerId")}
	log := h.log.WithField("room_id", client.roomID)

	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	switch {
	case token != "":
		ident, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, log, err)
			return
		}
		client.admin = ident
	case client.playerID == "":
		writeError(w, log, domain.Validation("playerId or token is required"))
		return
	}

	state, err := h.rooms.State(r.Context(), client.roomID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	if client.playerID != "" {
		if _, err := h.rooms.Connect(r.Context(), client.roomID, client.playerID); err != nil {
			writeError(w, log, err)
			return
		}
		defer h.rooms.Disconnect(context.Background(), client.roomID, client.playerID)
		log = log.WithField("player_id", client.playerID)
	}

	updates, cancel, err := h.rooms.Subscribe(r.Context(), client.roomID)
	if err != nil {
		writeError(w, log, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()
	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.WithError(err).Debug("ws write")
					// Unblock the reader so the handler can shut down.
					conn.Close()
					for range send {
					}
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					for range send {
					}
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: string(ev.Type), Payload: ev}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "state", Payload: state}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if reply, ok := h.handle(r.Context(), client, inbound); ok {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// handle runs one inbound command and returns the direct reply, if any.
func (h *WSHandler) handle(ctx context.Context, c wsClient, in inboundMessage) (outboundMessage, bool) {
	switch in.Type {
	case "select", "answer":
		if c.playerID == "" {
			return errorMessageFor(domain.Validation("only players can answer")), true
		}
		var p choicePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessageFor(domain.Validation("invalid " + in.Type + " payload")), true
		}
		if in.Type == "select" {
			if err := h.rooms.Select(ctx, c.roomID, c.playerID, p.QuestionID, p.Choice); err != nil {
				return errorMessageFor(err), true
			}
			return outboundMessage{}, false
		}
		outcome, err := h.rooms.SubmitAnswer(ctx, c.roomID, c.playerID, p.QuestionID, p.Choice)
		if err != nil {
			return errorMessageFor(err), true
		}
		return outboundMessage{Type: "answerResult", Payload: outcome}, true

	case "start", "advance", "finish":
		if !c.admin.Authenticated() {
			return errorMessageFor(domain.ErrUnauthenticated), true
		}
		var err error
		switch in.Type {
		case "start":
			_, err = h.rooms.Start(ctx, c.admin, c.roomID)
		case "advance":
			var p advancePayload
			if len(in.Payload) > 0 {
				if jerr := json.Unmarshal(in.Payload, &p); jerr != nil {
					return errorMessageFor(domain.Validation("invalid advance payload")), true
				}
			}
			from := -1
			if p.FromIndex != nil {
				from = *p.FromIndex
			}
			_, err = h.rooms.Advance(ctx, c.admin, c.roomID, from)
		case "finish":
			_, err = h.rooms.Finish(ctx, c.admin, c.roomID)
		}
		if err != nil {
			return errorMessageFor(err), true
		}
		return outboundMessage{}, false

	case "sync":
		state, err := h.rooms.State(ctx, c.roomID)
		if err != nil {
			return errorMessageFor(err), true
		}
		return outboundMessage{Type: "state", Payload: state}, true
	}
	return errorMessageFor(domain.Validation("unsupported message type")), true
}

func errorMessageFor(err error) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Message: errorMessage(err, statusFor(err))}}
}
