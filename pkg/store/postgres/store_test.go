package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/postgres"
	"github.com/MrWong99/medlingo/pkg/store/storetest"
)

// testDSN returns the test database DSN or skips the test when
// MEDLINGO_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MEDLINGO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDLINGO_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore returns a store on a freshly dropped schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS turns CASCADE",
		"DROP TABLE IF EXISTS participants CASCADE",
		"DROP TABLE IF EXISTS rooms CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	s, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore(t *testing.T) {
	testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestStore_TranscriptSurvivesReopen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, store.Participant{ID: "dr", Name: "Dr. Lee", Role: store.RoleDoctor})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	appended, err := s.AppendTurn(ctx, room.Code, store.Turn{
		SpeakerID: "dr", SpeakerName: "Dr. Lee", SpeakerRole: store.RoleDoctor,
		SourceLanguage: "en-US", OriginalText: "Take one tablet daily",
		TargetLanguage: "es-ES", TranslatedText: "Tome una tableta al día",
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	reopened, err := postgres.NewStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer reopened.Close()

	ch, err := reopened.SubscribeTurns(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeTurns: %v", err)
	}
	turns := <-ch
	if len(turns) != 1 {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[0].ID != appended.ID || !turns[0].Timestamp.Equal(appended.Timestamp) {
		t.Errorf("reloaded turn = %+v, want %+v", turns[0], appended)
	}
}
