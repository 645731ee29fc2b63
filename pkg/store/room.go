package store

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// MaxParticipants is the number of distinct identities a room admits over
// its whole lifetime.
const MaxParticipants = 2

// CodeLength is the length of a room code.
const CodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCode returns a random room code of [CodeLength] uppercase alphanumerics.
func NewCode() string {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("store: read random bytes: %v", err))
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// NormalizeCode trims and upper-cases a user-entered room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewRoom builds the roster of a freshly created room.
func NewRoom(code string, creator Participant, now time.Time) (Room, Participant, error) {
	if strings.TrimSpace(creator.ID) == "" {
		return Room{}, Participant{}, fmt.Errorf("%w: missing id", ErrInvalidParticipant)
	}
	if creator.Role == "" {
		creator.Role = RoleDoctor
	}
	if !creator.Role.Valid() {
		return Room{}, Participant{}, fmt.Errorf("%w: unknown role %q", ErrInvalidParticipant, creator.Role)
	}
	creator.Active = true
	creator.JoinedAt = now
	return Room{Code: code, CreatedAt: now, Participants: []Participant{creator}}, creator, nil
}

// Admit applies a join attempt of p to room in place and returns the admitted
// participant. It enforces the lifetime cap of [MaxParticipants] identities.
func Admit(room *Room, p Participant, now time.Time) (Participant, error) {
	if room.Ended {
		return Participant{}, ErrRoomEnded
	}
	if strings.TrimSpace(p.ID) == "" {
		return Participant{}, fmt.Errorf("%w: missing id", ErrInvalidParticipant)
	}

	for i := range room.Participants {
		existing := &room.Participants[i]
		if existing.ID != p.ID {
			continue
		}
		existing.Active = true
		if p.Name != "" {
			existing.Name = p.Name
		}
		return *existing, nil
	}

	if len(room.Participants) >= MaxParticipants {
		return Participant{}, ErrRoomFull
	}

	switch {
	case len(room.Participants) > 0:
		p.Role = room.Participants[0].Role.Opposite()
	case p.Role == "":
		p.Role = RoleDoctor
	case !p.Role.Valid():
		return Participant{}, fmt.Errorf("%w: unknown role %q", ErrInvalidParticipant, p.Role)
	}
	p.Active = true
	p.JoinedAt = now
	room.Participants = append(room.Participants, p)
	return p, nil
}

// Depart marks the participant inactive. It reports whether anything changed.
func Depart(room *Room, participantID string) bool {
	for i := range room.Participants {
		if room.Participants[i].ID == participantID && room.Participants[i].Active {
			room.Participants[i].Active = false
			return true
		}
	}
	return false
}

// NextTimestamp returns the timestamp for a turn appended at now after a
// transcript whose latest turn is at last. Timestamps are truncated to
// microseconds and strictly increase within a room.
func NextTimestamp(last, now time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	return ts
}

// FindRetry returns the stored turn that t is a retry of, if any. Only turns
// carrying a request key can match.
func FindRetry(turns []Turn, t Turn) (Turn, bool) {
	if t.RequestKey == "" {
		return Turn{}, false
	}
	for _, existing := range turns {
		if existing.RequestKey == t.RequestKey &&
			existing.SpeakerID == t.SpeakerID &&
			existing.OriginalText == t.OriginalText {
			return existing, true
		}
	}
	return Turn{}, false
}
