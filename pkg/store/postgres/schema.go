// Package postgres is a durable [store.Store] backed by PostgreSQL.
//
// Rooms, participants and transcripts live in three tables sharing one
// [pgxpool.Pool]. Live-speech slots are ephemeral and stay in process
// memory. Subscriptions are served by the process that performed the write,
// so every client of a room must talk to the same instance.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRooms = `
CREATE TABLE IF NOT EXISTS rooms (
    code        TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended       BOOLEAN      NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS participants (
    room_code   TEXT         NOT NULL REFERENCES rooms (code) ON DELETE CASCADE,
    id          TEXT         NOT NULL,
    position    SMALLINT     NOT NULL,
    name        TEXT         NOT NULL DEFAULT '',
    role        TEXT         NOT NULL,
    active      BOOLEAN      NOT NULL DEFAULT true,
    joined_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (room_code, id),
    UNIQUE (room_code, position)
);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id               UUID         PRIMARY KEY,
    room_code        TEXT         NOT NULL REFERENCES rooms (code) ON DELETE CASCADE,
    ts               TIMESTAMPTZ  NOT NULL,
    speaker_id       TEXT         NOT NULL,
    speaker_name     TEXT         NOT NULL,
    speaker_role     TEXT         NOT NULL,
    source_language  TEXT         NOT NULL,
    original_text    TEXT         NOT NULL,
    target_language  TEXT         NOT NULL,
    translated_text  TEXT         NOT NULL,
    request_key      TEXT         NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_room_ts
    ON turns (room_code, ts);

CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_request_key
    ON turns (room_code, speaker_id, request_key, md5(original_text))
    WHERE request_key <> '';
`

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlRooms, ddlTurns} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
