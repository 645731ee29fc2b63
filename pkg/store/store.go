// Package store defines MedLingo's realtime store adapter: rooms with at most
// two participants, an append-only transcript of conversation turns, and one
// ephemeral live-speech slot per speaker.
//
// Every collection can be read once or subscribed to. A subscription delivers
// the current state immediately and then a complete snapshot after every
// change; each snapshot supersedes the previous one, so a slow reader only
// ever sees the latest. Channels close when the subscription context ends.
//
// Implementations live in the subpackages memstore (in-process), postgres
// (durable) and remote (client of the room server).
package store

import (
	"context"
	"errors"
)

var (
	// ErrRoomNotFound is returned for unknown room codes.
	ErrRoomNotFound = errors.New("store: room not found")

	// ErrRoomFull is returned when a third distinct identity tries to join.
	ErrRoomFull = errors.New("store: room already has two participants")

	// ErrRoomEnded is returned for mutations on a room that has been ended.
	ErrRoomEnded = errors.New("store: room has ended")

	// ErrInvalidTurn is returned when a turn lacks a required field.
	ErrInvalidTurn = errors.New("store: invalid turn")

	// ErrInvalidParticipant is returned when a participant lacks an ID or
	// carries an unknown role.
	ErrInvalidParticipant = errors.New("store: invalid participant")
)

// Store is the realtime store adapter. Implementations must be safe for
// concurrent use.
type Store interface {
	// CreateRoom opens a room with a fresh code. creator becomes the first
	// participant with the role it asked for.
	CreateRoom(ctx context.Context, creator Participant) (Room, error)

	// JoinRoom admits p. Its role is assigned opposite to the participant
	// already present. A returning identity is reactivated with its original
	// role. A third distinct identity fails with [ErrRoomFull].
	JoinRoom(ctx context.Context, code string, p Participant) (Participant, error)

	// LeaveRoom marks the participant inactive and clears its live-speech
	// slot. Leaving twice is not an error.
	LeaveRoom(ctx context.Context, code, participantID string) error

	// EndRoom marks the room ended. Roster subscribers receive a snapshot with
	// Ended set.
	EndRoom(ctx context.Context, code string) error

	// GetRoom returns the current roster.
	GetRoom(ctx context.Context, code string) (Room, error)

	// SubscribeRoster streams roster snapshots.
	SubscribeRoster(ctx context.Context, code string) (<-chan Room, error)

	// AppendTurn persists t and returns it with the store-assigned ID and
	// timestamp. Re-sending a turn with the same speaker, original text and
	// request key returns the stored turn without appending again.
	AppendTurn(ctx context.Context, code string, t Turn) (Turn, error)

	// SubscribeTurns streams the full ordered transcript on every change.
	SubscribeTurns(ctx context.Context, code string) (<-chan []Turn, error)

	// SetLiveSpeech updates the caller's slot. Empty text clears it. Updates
	// with a sequence number lower than the stored one are ignored.
	SetLiveSpeech(ctx context.Context, code string, ls LiveSpeech) error

	// ClearLiveSpeech removes a slot. Clearing an absent slot is not an error.
	ClearLiveSpeech(ctx context.Context, code, speakerID string) error

	// SubscribeLiveSpeech streams the full slot set on every change.
	SubscribeLiveSpeech(ctx context.Context, code string) (<-chan []LiveSpeech, error)
}
