package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/hub"
)

var _ store.Store = (*Store)(nil)

// maxCodeAttempts bounds the retries of CreateRoom on code collisions.
const maxCodeAttempts = 16

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed store. All methods are safe for concurrent
// use.
type Store struct {
	pool    *pgxpool.Pool
	clock   clockwork.Clock
	newCode func() string

	// mu orders snapshot reads against subscription registration so that no
	// subscriber misses a change committed while it was subscribing.
	mu   sync.Mutex
	live map[string]*store.LiveBoard

	roster    *hub.Hub[store.Room]
	turns     *hub.Hub[[]store.Turn]
	liveSlots *hub.Hub[[]store.LiveSpeech]
}

// Option configures a [Store].
type Option func(*Store)

// WithClock sets the time source for join and turn timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithCodeGenerator replaces [store.NewCode].
func WithCodeGenerator(fn func() string) Option {
	return func(s *Store) { s.newCode = fn }
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{
		pool:      pool,
		clock:     clockwork.NewRealClock(),
		newCode:   store.NewCode,
		live:      make(map[string]*store.LiveBoard),
		roster:    hub.New[store.Room](),
		turns:     hub.New[[]store.Turn](),
		liveSlots: hub.New[[]store.LiveSpeech](),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Ping checks database connectivity. It backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close ends all subscriptions and releases the connection pool.
func (s *Store) Close() {
	s.roster.Close()
	s.turns.Close()
	s.liveSlots.Close()
	s.pool.Close()
}

// CreateRoom implements store.Store.
func (s *Store) CreateRoom(ctx context.Context, creator store.Participant) (store.Room, error) {
	for range maxCodeAttempts {
		room, p, err := store.NewRoom(s.newCode(), creator, s.clock.Now().UTC())
		if err != nil {
			return store.Room{}, err
		}

		created := false
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO rooms (code, created_at) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`,
				room.Code, room.CreatedAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			created = true
			return upsertParticipant(ctx, tx, room.Code, 0, p)
		})
		if err != nil {
			return store.Room{}, fmt.Errorf("postgres store: create room: %w", err)
		}
		if created {
			return room.Clone(), nil
		}
	}
	return store.Room{}, fmt.Errorf("postgres store: create room: no free code after %d attempts", maxCodeAttempts)
}

// JoinRoom implements store.Store.
func (s *Store) JoinRoom(ctx context.Context, code string, p store.Participant) (store.Participant, error) {
	code = store.NormalizeCode(code)
	var admitted store.Participant
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		room, err := loadRoom(ctx, tx, code, true)
		if err != nil {
			return err
		}
		admitted, err = store.Admit(&room, p, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		pos := slices.IndexFunc(room.Participants, func(x store.Participant) bool { return x.ID == admitted.ID })
		return upsertParticipant(ctx, tx, code, pos, admitted)
	})
	if err != nil {
		return store.Participant{}, wrap("join room", err)
	}
	s.publishRoster(ctx, code)
	return admitted, nil
}

// LeaveRoom implements store.Store.
func (s *Store) LeaveRoom(ctx context.Context, code, participantID string) error {
	code = store.NormalizeCode(code)
	if _, err := loadRoom(ctx, s.pool, code, false); err != nil {
		return wrap("leave room", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET active = false WHERE room_code = $1 AND id = $2 AND active`,
		code, participantID)
	if err != nil {
		return wrap("leave room", err)
	}
	if tag.RowsAffected() > 0 {
		s.publishRoster(ctx, code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.live[code]; b != nil && b.Forget(participantID) {
		s.liveSlots.Publish(code, b.Snapshot())
	}
	return nil
}

// EndRoom implements store.Store.
func (s *Store) EndRoom(ctx context.Context, code string) error {
	code = store.NormalizeCode(code)
	changed := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		room, err := loadRoom(ctx, tx, code, true)
		if err != nil {
			return err
		}
		if room.Ended {
			return nil
		}
		changed = true
		if _, err := tx.Exec(ctx, `UPDATE rooms SET ended = true WHERE code = $1`, code); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE participants SET active = false WHERE room_code = $1`, code)
		return err
	})
	if err != nil {
		return wrap("end room", err)
	}
	if !changed {
		return nil
	}
	s.publishRoster(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, code)
	s.liveSlots.Publish(code, nil)
	return nil
}

// GetRoom implements store.Store.
func (s *Store) GetRoom(ctx context.Context, code string) (store.Room, error) {
	room, err := loadRoom(ctx, s.pool, store.NormalizeCode(code), false)
	if err != nil {
		return store.Room{}, wrap("get room", err)
	}
	return room, nil
}

// SubscribeRoster implements store.Store.
func (s *Store) SubscribeRoster(ctx context.Context, code string) (<-chan store.Room, error) {
	code = store.NormalizeCode(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := loadRoom(ctx, s.pool, code, false)
	if err != nil {
		return nil, wrap("subscribe roster", err)
	}
	return s.roster.Subscribe(ctx, code, room), nil
}

// AppendTurn implements store.Store. Appends to one room are serialised by a
// row lock on the room.
func (s *Store) AppendTurn(ctx context.Context, code string, t store.Turn) (store.Turn, error) {
	if err := t.ValidateContent(); err != nil {
		return store.Turn{}, err
	}
	code = store.NormalizeCode(code)

	inserted := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		room, err := loadRoom(ctx, tx, code, true)
		if err != nil {
			return err
		}
		if t.RequestKey != "" {
			prior, err := findRetry(ctx, tx, code, t)
			if err == nil {
				t = prior
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		if room.Ended {
			return store.ErrRoomEnded
		}

		var last *time.Time
		if err := tx.QueryRow(ctx, `SELECT max(ts) FROM turns WHERE room_code = $1`, code).Scan(&last); err != nil {
			return err
		}
		var prev time.Time
		if last != nil {
			prev = last.UTC()
		}
		t.ID = uuid.NewString()
		t.Timestamp = store.NextTimestamp(prev, s.clock.Now())
		_, err = tx.Exec(ctx, `
			INSERT INTO turns
			    (id, room_code, ts, speaker_id, speaker_name, speaker_role,
			     source_language, original_text, target_language, translated_text, request_key)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, code, t.Timestamp, t.SpeakerID, t.SpeakerName, string(t.SpeakerRole),
			t.SourceLanguage, t.OriginalText, t.TargetLanguage, t.TranslatedText, t.RequestKey)
		inserted = err == nil
		return err
	})
	if err != nil {
		return store.Turn{}, wrap("append turn", err)
	}
	if inserted {
		s.publishTurns(ctx, code)
	}
	return t, nil
}

// SubscribeTurns implements store.Store.
func (s *Store) SubscribeTurns(ctx context.Context, code string) (<-chan []store.Turn, error) {
	code = store.NormalizeCode(code)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := loadRoom(ctx, s.pool, code, false); err != nil {
		return nil, wrap("subscribe turns", err)
	}
	turns, err := loadTurns(ctx, s.pool, code)
	if err != nil {
		return nil, wrap("subscribe turns", err)
	}
	return s.turns.Subscribe(ctx, code, turns), nil
}

// SetLiveSpeech implements store.Store.
func (s *Store) SetLiveSpeech(ctx context.Context, code string, ls store.LiveSpeech) error {
	code = store.NormalizeCode(code)
	room, err := loadRoom(ctx, s.pool, code, false)
	if err != nil {
		return wrap("set live speech", err)
	}
	if room.Ended {
		return store.ErrRoomEnded
	}
	if ls.UpdatedAt.IsZero() {
		ls.UpdatedAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.board(code)
	if b.Set(ls) {
		s.liveSlots.Publish(code, b.Snapshot())
	}
	return nil
}

// ClearLiveSpeech implements store.Store.
func (s *Store) ClearLiveSpeech(ctx context.Context, code, speakerID string) error {
	code = store.NormalizeCode(code)
	if _, err := loadRoom(ctx, s.pool, code, false); err != nil {
		return wrap("clear live speech", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.live[code]; b != nil && b.Clear(speakerID) {
		s.liveSlots.Publish(code, b.Snapshot())
	}
	return nil
}

// SubscribeLiveSpeech implements store.Store.
func (s *Store) SubscribeLiveSpeech(ctx context.Context, code string) (<-chan []store.LiveSpeech, error) {
	code = store.NormalizeCode(code)
	if _, err := loadRoom(ctx, s.pool, code, false); err != nil {
		return nil, wrap("subscribe live speech", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveSlots.Subscribe(ctx, code, s.board(code).Snapshot()), nil
}

// board must be called with s.mu held.
func (s *Store) board(code string) *store.LiveBoard {
	b, ok := s.live[code]
	if !ok {
		b = store.NewLiveBoard()
		s.live[code] = b
	}
	return b
}

func (s *Store) publishRoster(ctx context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, err := loadRoom(context.WithoutCancel(ctx), s.pool, code, false)
	if err != nil {
		slog.Warn("postgres store: reload roster", "room", code, "err", err)
		return
	}
	s.roster.Publish(code, room)
}

func (s *Store) publishTurns(ctx context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, err := loadTurns(context.WithoutCancel(ctx), s.pool, code)
	if err != nil {
		slog.Warn("postgres store: reload turns", "room", code, "err", err)
		return
	}
	s.turns.Publish(code, turns)
}

// wrap maps driver errors to store sentinels and leaves store sentinels as
// they are.
func wrap(op string, err error) error {
	for _, sentinel := range []error{
		store.ErrRoomNotFound, store.ErrRoomFull, store.ErrRoomEnded,
		store.ErrInvalidTurn, store.ErrInvalidParticipant,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("postgres store: %s: duplicate %s: %w", op, pgErr.ConstraintName, err)
	}
	return fmt.Errorf("postgres store: %s: %w", op, err)
}

func upsertParticipant(ctx context.Context, tx pgx.Tx, code string, pos int, p store.Participant) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO participants (room_code, id, position, name, role, active, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_code, id) DO UPDATE
		SET name = EXCLUDED.name, active = EXCLUDED.active`,
		code, p.ID, pos, p.Name, string(p.Role), p.Active, p.JoinedAt)
	return err
}

func loadRoom(ctx context.Context, q querier, code string, forUpdate bool) (store.Room, error) {
	sql := `SELECT code, created_at, ended FROM rooms WHERE code = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var room store.Room
	err := q.QueryRow(ctx, sql, code).Scan(&room.Code, &room.CreatedAt, &room.Ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Room{}, store.ErrRoomNotFound
	}
	if err != nil {
		return store.Room{}, err
	}
	room.CreatedAt = room.CreatedAt.UTC()

	rows, err := q.Query(ctx, `
		SELECT id, name, role, active, joined_at
		FROM   participants
		WHERE  room_code = $1
		ORDER  BY position`, code)
	if err != nil {
		return store.Room{}, err
	}
	room.Participants, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Participant, error) {
		var (
			p    store.Participant
			role string
		)
		if err := row.Scan(&p.ID, &p.Name, &role, &p.Active, &p.JoinedAt); err != nil {
			return store.Participant{}, err
		}
		p.Role = store.Role(role)
		p.JoinedAt = p.JoinedAt.UTC()
		return p, nil
	})
	if err != nil {
		return store.Room{}, err
	}
	return room, nil
}

const turnColumns = `id::text, ts, speaker_id, speaker_name, speaker_role,
       source_language, original_text, target_language, translated_text, request_key`

func loadTurns(ctx context.Context, q querier, code string) ([]store.Turn, error) {
	rows, err := q.Query(ctx, `
		SELECT `+turnColumns+`
		FROM   turns
		WHERE  room_code = $1
		ORDER  BY ts`, code)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTurn)
}

func findRetry(ctx context.Context, q querier, code string, t store.Turn) (store.Turn, error) {
	rows, err := q.Query(ctx, `
		SELECT `+turnColumns+`
		FROM   turns
		WHERE  room_code = $1 AND speaker_id = $2 AND request_key = $3 AND original_text = $4`,
		code, t.SpeakerID, t.RequestKey, t.OriginalText)
	if err != nil {
		return store.Turn{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanTurn)
}

func scanTurn(row pgx.CollectableRow) (store.Turn, error) {
	var (
		t    store.Turn
		role string
	)
	err := row.Scan(&t.ID, &t.Timestamp, &t.SpeakerID, &t.SpeakerName, &role,
		&t.SourceLanguage, &t.OriginalText, &t.TargetLanguage, &t.TranslatedText, &t.RequestKey)
	if err != nil {
		return store.Turn{}, err
	}
	t.SpeakerRole = store.Role(role)
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}
