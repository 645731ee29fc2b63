// Package memstore is an in-process [store.Store]. It is authoritative for
// the lifetime of the process and is the default backend of the room server.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/hub"
)

var _ store.Store = (*Store)(nil)

type roomState struct {
	room  store.Room
	turns []store.Turn
	live  *store.LiveBoard
}

// Store keeps rooms, transcripts and live-speech slots in memory.
type Store struct {
	clock   clockwork.Clock
	newCode func() string

	mu    sync.Mutex
	rooms map[string]*roomState

	roster *hub.Hub[store.Room]
	turns  *hub.Hub[[]store.Turn]
	live   *hub.Hub[[]store.LiveSpeech]
}

// Option configures a [Store].
type Option func(*Store)

// WithClock sets the time source used for join and turn timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithCodeGenerator replaces [store.NewCode].
func WithCodeGenerator(fn func() string) Option {
	return func(s *Store) { s.newCode = fn }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:   clockwork.NewRealClock(),
		newCode: store.NewCode,
		rooms:   make(map[string]*roomState),
		roster:  hub.New[store.Room](),
		turns:   hub.New[[]store.Turn](),
		live:    hub.New[[]store.LiveSpeech](),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close ends every open subscription.
func (s *Store) Close() {
	s.roster.Close()
	s.turns.Close()
	s.live.Close()
}

// lookup must be called with s.mu held.
func (s *Store) lookup(code string) (*roomState, error) {
	rs, ok := s.rooms[store.NormalizeCode(code)]
	if !ok {
		return nil, store.ErrRoomNotFound
	}
	return rs, nil
}

// CreateRoom implements store.Store.
func (s *Store) CreateRoom(_ context.Context, creator store.Participant) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := s.newCode()
	for attempt := 0; s.rooms[code] != nil; attempt++ {
		if attempt >= 16 {
			return store.Room{}, fmt.Errorf("memstore: create room: no free code after %d attempts", attempt)
		}
		code = s.newCode()
	}

	room, _, err := store.NewRoom(code, creator, s.clock.Now())
	if err != nil {
		return store.Room{}, err
	}
	s.rooms[code] = &roomState{room: room, live: store.NewLiveBoard()}
	return room.Clone(), nil
}

// JoinRoom implements store.Store.
func (s *Store) JoinRoom(_ context.Context, code string, p store.Participant) (store.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return store.Participant{}, err
	}
	next := rs.room.Clone()
	admitted, err := store.Admit(&next, p, s.clock.Now())
	if err != nil {
		return store.Participant{}, err
	}
	rs.room = next
	s.roster.Publish(rs.room.Code, rs.room.Clone())
	return admitted, nil
}

// LeaveRoom implements store.Store.
func (s *Store) LeaveRoom(_ context.Context, code, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return err
	}
	if store.Depart(&rs.room, participantID) {
		s.roster.Publish(rs.room.Code, rs.room.Clone())
	}
	if rs.live.Forget(participantID) {
		s.live.Publish(rs.room.Code, rs.live.Snapshot())
	}
	return nil
}

// EndRoom implements store.Store.
func (s *Store) EndRoom(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return err
	}
	if rs.room.Ended {
		return nil
	}
	rs.room.Ended = true
	for i := range rs.room.Participants {
		rs.room.Participants[i].Active = false
	}
	rs.live = store.NewLiveBoard()
	s.roster.Publish(rs.room.Code, rs.room.Clone())
	s.live.Publish(rs.room.Code, nil)
	return nil
}

// GetRoom implements store.Store.
func (s *Store) GetRoom(_ context.Context, code string) (store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return store.Room{}, err
	}
	return rs.room.Clone(), nil
}

// SubscribeRoster implements store.Store.
func (s *Store) SubscribeRoster(ctx context.Context, code string) (<-chan store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return nil, err
	}
	return s.roster.Subscribe(ctx, rs.room.Code, rs.room.Clone()), nil
}

// AppendTurn implements store.Store.
func (s *Store) AppendTurn(_ context.Context, code string, t store.Turn) (store.Turn, error) {
	if err := t.ValidateContent(); err != nil {
		return store.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return store.Turn{}, err
	}
	if prior, ok := store.FindRetry(rs.turns, t); ok {
		return prior, nil
	}
	if rs.room.Ended {
		return store.Turn{}, store.ErrRoomEnded
	}

	var last store.Turn
	if n := len(rs.turns); n > 0 {
		last = rs.turns[n-1]
	}
	t.ID = uuid.NewString()
	t.Timestamp = store.NextTimestamp(last.Timestamp, s.clock.Now())
	rs.turns = append(rs.turns, t)
	s.turns.Publish(rs.room.Code, slices.Clone(rs.turns))
	return t, nil
}

// SubscribeTurns implements store.Store.
func (s *Store) SubscribeTurns(ctx context.Context, code string) (<-chan []store.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return nil, err
	}
	return s.turns.Subscribe(ctx, rs.room.Code, slices.Clone(rs.turns)), nil
}

// SetLiveSpeech implements store.Store.
func (s *Store) SetLiveSpeech(_ context.Context, code string, ls store.LiveSpeech) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return err
	}
	if rs.room.Ended {
		return store.ErrRoomEnded
	}
	if ls.UpdatedAt.IsZero() {
		ls.UpdatedAt = s.clock.Now()
	}
	if rs.live.Set(ls) {
		s.live.Publish(rs.room.Code, rs.live.Snapshot())
	}
	return nil
}

// ClearLiveSpeech implements store.Store.
func (s *Store) ClearLiveSpeech(_ context.Context, code, speakerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return err
	}
	if rs.live.Clear(speakerID) {
		s.live.Publish(rs.room.Code, rs.live.Snapshot())
	}
	return nil
}

// SubscribeLiveSpeech implements store.Store.
func (s *Store) SubscribeLiveSpeech(ctx context.Context, code string) (<-chan []store.LiveSpeech, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookup(code)
	if err != nil {
		return nil, err
	}
	return s.live.Subscribe(ctx, rs.room.Code, rs.live.Snapshot()), nil
}
