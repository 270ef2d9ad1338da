package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/model"
	"multiplymonsters/internal/participant"
	"multiplymonsters/internal/repository"
	"multiplymonsters/internal/service"
	"multiplymonsters/internal/transport/rest/middleware"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client message types
const (
	MsgAnswer = "answer"
	MsgReady  = "ready"
)

// ClientMessage is the envelope browsers send
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type AnswerPayload struct {
	Correct bool `json:"correct"`
}

type ReadyPayload struct {
	Ready bool `json:"ready"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens gate access, not origins
	},
}

// Settings are the round rules handed to every participant tracker
type Settings struct {
	Clock             clockwork.Clock
	Tolerance         time.Duration
	CountdownBeats    int
	SquadRoundSeconds int
	Lives             int
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	auth     *middleware.AuthMiddleware
	sessions *service.SessionService
	squads   *service.SquadService
	settings Settings
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, auth *middleware.AuthMiddleware, sessions *service.SessionService, squads *service.SquadService, settings Settings) *Handler {
	if settings.Clock == nil {
		settings.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		hub:      hub,
		auth:     auth,
		sessions: sessions,
		squads:   squads,
		settings: settings,
	}
}

// SessionWS handles GET /v1/ws/sessions/{code}
func (h *Handler) SessionWS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.CollectionSessions)
}

// SquadWS handles GET /v1/ws/squads/{code}
func (h *Handler) SquadWS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.CollectionSquadBattles)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, collection string) {
	claims, status, msg := h.auth.Authorize(r, collection)
	if claims == nil {
		http.Error(w, msg, status)
		return
	}
	code := mux.Vars(r)["code"]

	// the subscription outlives this request once the connection is hijacked
	ctx, cancel := context.WithCancel(context.Background())
	snaps, closeStream, err := h.subscribe(ctx, collection, code, claims)
	if err != nil {
		cancel()
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, "battle not found", http.StatusNotFound)
			return
		case errors.Is(err, service.ErrNotParticipant):
			http.Error(w, "not on the roster", http.StatusForbidden)
			return
		}
		log.Error().Err(err).Str("code", code).Msg("failed to subscribe")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		closeStream()
		cancel()
		log.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	conn := newConnection(claims, cancel)
	tracker := participant.New(participant.Config{
		Role:              claims.Role,
		Collection:        collection,
		Code:              code,
		Name:              claims.Name,
		Clock:             h.settings.Clock,
		Tolerance:         h.settings.Tolerance,
		CountdownBeats:    h.settings.CountdownBeats,
		SquadRoundSeconds: h.settings.SquadRoundSeconds,
		Lives:             h.settings.Lives,
		OnRoundOver: func(ctx context.Context, s participant.State) {
			if err := h.persist(ctx, conn, s.Correct, s.Total, s.Streak); err != nil {
				log.Warn().Err(err).Str("code", code).Str("name", claims.Name).Msg("failed to submit final score")
			}
		},
	})
	h.hub.Register(conn)

	go func() {
		defer closeStream()
		if err := tracker.Run(ctx, snaps); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("code", code).Str("name", claims.Name).Msg("tracker stopped")
		}
	}()
	go h.forward(tracker, conn)
	go h.writePump(wsConn, conn)
	go h.readPump(ctx, wsConn, conn, tracker)
}

// subscribe checks the document exists and that a playing role is still on
// its roster, then opens the snapshot stream
func (h *Handler) subscribe(ctx context.Context, collection, code string, claims *model.ParticipantClaims) (<-chan repository.Snapshot, func(), error) {
	playing := !claims.Role.Monitoring()
	if collection == model.CollectionSquadBattles {
		b, err := h.squads.GetSquadBattle(ctx, code)
		if err != nil {
			return nil, nil, err
		}
		if playing && b.PlayerIndex(claims.Name) < 0 {
			return nil, nil, service.ErrNotParticipant
		}
		stream, err := h.squads.ListenToSquadBattle(ctx, code)
		if err != nil {
			return nil, nil, err
		}
		return stream.Snapshots(), stream.Close, nil
	}

	s, err := h.sessions.GetSession(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if playing && s.StudentIndex(claims.Name) < 0 {
		return nil, nil, service.ErrNotParticipant
	}
	stream, err := h.sessions.SubscribeToSession(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	return stream.Snapshots(), stream.Close, nil
}

// forward relays tracker events to the client. A deleted document closes
// every connection following it.
func (h *Handler) forward(tracker *participant.Tracker, conn *Connection) {
	for ev := range tracker.Events() {
		h.send(conn, ev)
		if ev.Type == participant.EventTerminated {
			h.hub.Disconnect(conn.Collection, conn.Code)
		}
	}
}

func (h *Handler) send(conn *Connection, ev participant.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
		return
	}
	if !conn.Deliver(data) {
		log.Debug().Str("code", conn.Code).Str("name", conn.Name).Str("type", string(ev.Type)).Msg("event dropped")
	}
}

func (h *Handler) sendError(conn *Connection, err error) {
	h.send(conn, participant.Event{Type: participant.EventError, Payload: participant.ErrorPayload{Message: err.Error()}})
}

func (h *Handler) readPump(ctx context.Context, wsConn *websocket.Conn, conn *Connection, tracker *participant.Tracker) {
	defer func() {
		h.hub.Unregister(conn)
		conn.close()
		wsConn.Close()
		h.abandonLobby(conn, tracker.State())
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("code", conn.Code).Msg("websocket error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(conn, errors.New("invalid message"))
			continue
		}
		h.handleMessage(ctx, conn, tracker, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *Connection, tracker *participant.Tracker, msg ClientMessage) {
	switch msg.Type {
	case MsgAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(conn, errors.New("invalid answer"))
			return
		}
		if conn.Role.Monitoring() {
			h.sendError(conn, participant.ErrNotActive)
			return
		}
		out, err := tracker.RecordAnswer(p.Correct)
		if err != nil {
			h.sendError(conn, err)
			return
		}
		if err := h.persist(ctx, conn, out.Correct, out.Total, out.Streak); err != nil {
			h.sendError(conn, err)
			return
		}
		if out.KnockedOut {
			if _, err := h.squads.EliminatePlayer(ctx, conn.Code, conn.Name); err != nil {
				h.sendError(conn, err)
				return
			}
		}
		h.send(conn, participant.Event{Type: participant.EventAnswer, Payload: out})

	case MsgReady:
		var p ReadyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(conn, errors.New("invalid ready"))
			return
		}
		var err error
		if conn.Collection == model.CollectionSquadBattles {
			_, err = h.squads.UpdatePlayerReady(ctx, conn.Code, conn.Name, p.Ready)
		} else {
			_, err = h.sessions.SetStudentReady(ctx, conn.Code, conn.Name, p.Ready)
		}
		if err != nil {
			h.sendError(conn, err)
		}

	default:
		h.sendError(conn, errors.New("unknown message type"))
	}
}

// persist writes the participant's tally to its roster entry
func (h *Handler) persist(ctx context.Context, conn *Connection, correct, total, streak int) error {
	if conn.Collection == model.CollectionSquadBattles {
		_, err := h.squads.UpdateSquadPlayerScore(ctx, conn.Code, conn.Name, correct, streak)
		return err
	}
	_, err := h.sessions.UpdateStudentScore(ctx, conn.Code, conn.Name, model.Score{Correct: correct, Total: total}, streak)
	return err
}

// abandonLobby drops a participant who closed the page before the round
// started. Monitors never sit on a roster.
func (h *Handler) abandonLobby(conn *Connection, s participant.State) {
	if s.Screen != participant.ScreenLobby || conn.Role.Monitoring() {
		return
	}
	if conn.Collection == model.CollectionSquadBattles {
		h.squads.Abandon(conn.Code, conn.Name)
		return
	}
	h.sessions.Abandon(conn.Code, conn.Name)
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
