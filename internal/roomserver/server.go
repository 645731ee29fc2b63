// Package roomserver exposes a [store.Store] over HTTP. Mutations are plain
// JSON requests; subscriptions are WebSocket connections that receive one
// JSON snapshot per change.
package roomserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/medlingo/internal/observe"
	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/remote"
)

const (
	maxBodyBytes = 64 << 10
	writeTimeout = 10 * time.Second
)

// Server serves the room API.
type Server struct {
	store          store.Store
	metrics        *observe.Metrics
	originPatterns []string
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records store operations and subscriptions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the given patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// New returns a Server over st.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{store: st}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the room routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(remote.RouteCreate, s.handleCreate)
	mux.HandleFunc(remote.RouteGet, s.handleGet)
	mux.HandleFunc(remote.RouteJoin, s.handleJoin)
	mux.HandleFunc(remote.RouteLeave, s.handleLeave)
	mux.HandleFunc(remote.RouteEnd, s.handleEnd)
	mux.HandleFunc(remote.RouteTurns, s.handleAppendTurn)
	mux.HandleFunc(remote.RouteSetLive, s.handleSetLive)
	mux.HandleFunc(remote.RouteClearLive, s.handleClearLive)
	mux.HandleFunc(remote.RouteSubscribe, s.handleSubscribe)
}

func roomCode(r *http.Request) string {
	return store.NormalizeCode(r.PathValue("code"))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var creator store.Participant
	if !decode(w, r, &creator) {
		return
	}
	room, err := s.store.CreateRoom(r.Context(), creator)
	s.record(r.Context(), "create_room", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveRooms.Add(r.Context(), 1)
	}
	observe.Logger(r.Context()).Info("room created", "room", room.Code, "role", creator.Role)
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.GetRoom(r.Context(), roomCode(r))
	s.record(r.Context(), "get_room", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var p store.Participant
	if !decode(w, r, &p) {
		return
	}
	code := roomCode(r)
	ctx, span := observe.StartRoomSpan(r.Context(), "join", code)
	joined, err := s.store.JoinRoom(ctx, code, p)
	observe.EndSpan(span, err)
	s.record(r.Context(), "join_room", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("participant joined", "room", code, "participant", joined.ID, "role", joined.Role)
	writeJSON(w, http.StatusOK, joined)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req remote.LeaveRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, "participantId is required")
		return
	}
	err := s.store.LeaveRoom(r.Context(), roomCode(r), req.ParticipantID)
	s.record(r.Context(), "leave_room", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	ctx, span := observe.StartRoomSpan(r.Context(), "end", code)
	before, err := s.store.GetRoom(ctx, code)
	if err == nil {
		err = s.store.EndRoom(ctx, code)
	}
	observe.EndSpan(span, err)
	s.record(ctx, "end_room", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !before.Ended {
		if s.metrics != nil {
			s.metrics.ActiveRooms.Add(ctx, -1)
		}
		observe.Logger(ctx).Info("room ended", "room", code)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	var t store.Turn
	if !decode(w, r, &t) {
		return
	}
	ctx, span := observe.StartRoomSpan(r.Context(), "append_turn", roomCode(r))
	stored, err := s.store.AppendTurn(ctx, roomCode(r), t)
	observe.EndSpan(span, err)
	s.record(r.Context(), "append_turn", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.TurnsAppended.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("role", string(stored.SpeakerRole))))
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleSetLive(w http.ResponseWriter, r *http.Request) {
	var ls store.LiveSpeech
	if !decode(w, r, &ls) {
		return
	}
	ls.SpeakerID = r.PathValue("speakerID")
	err := s.store.SetLiveSpeech(r.Context(), roomCode(r), ls)
	s.record(r.Context(), "set_live", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearLive(w http.ResponseWriter, r *http.Request) {
	err := s.store.ClearLiveSpeech(r.Context(), roomCode(r), r.PathValue("speakerID"))
	s.record(r.Context(), "clear_live", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	code := roomCode(r)
	topic := r.URL.Query().Get("topic")
	var (
		next func(context.Context) (any, bool)
		err  error
	)
	switch topic {
	case remote.TopicRoster:
		next, err = stream(ctx, code, s.store.SubscribeRoster)
	case remote.TopicTurns:
		next, err = stream(ctx, code, s.store.SubscribeTurns)
	case remote.TopicLive:
		next, err = stream(ctx, code, s.store.SubscribeLiveSpeech)
	default:
		writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, "unknown topic "+topic)
		return
	}
	s.record(ctx, "subscribe_"+topic, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(ctx).Warn("websocket accept failed", "room", code, "err", err)
		return
	}
	defer conn.CloseNow()

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("topic", topic))
		s.metrics.ActiveSubscriptions.Add(ctx, 1, attrs)
		defer s.metrics.ActiveSubscriptions.Add(context.WithoutCancel(ctx), -1, attrs)
	}

	// Clients never send; CloseRead cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)
	for {
		v, ok := next(ctx)
		if !ok {
			break
		}
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(wctx, conn, v)
		wcancel()
		if err != nil {
			observe.Logger(ctx).Debug("subscription write failed", "room", code, "topic", topic, "err", err)
			return
		}
	}
	conn.Close(websocket.StatusGoingAway, "subscription ended")
}

// stream subscribes with fn and returns a blocking iterator over the
// snapshots. The iterator reports false once the subscription is over.
func stream[T any](ctx context.Context, code string, fn func(context.Context, string) (<-chan T, error)) (func(context.Context) (any, bool), error) {
	ch, err := fn(ctx, code)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, bool) {
		select {
		case v, ok := <-ch:
			return v, ok
		case <-ctx.Done():
			return nil, false
		}
	}, nil
}

func (s *Server) record(ctx context.Context, op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordStoreOp(ctx, op, err)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := remote.Classify(err)
	if status == http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("room store failure", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, code, err.Error())
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, remote.CodeInvalidRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, remote.CodeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, remote.ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
