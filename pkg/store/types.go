package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role is one of the two fixed sides of a conversation.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleDoctor || r == RolePatient }

// Opposite returns the other role.
func (r Role) Opposite() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// Participant is one of the two slots of a room.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     Role      `json:"role"`
	Active   bool      `json:"active"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is a roster snapshot.
type Room struct {
	Code         string        `json:"code"`
	CreatedAt    time.Time     `json:"createdAt"`
	Ended        bool          `json:"ended"`
	Participants []Participant `json:"participants"`
}

// Participant returns the participant with the given id.
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// Clone returns a deep copy of r.
func (r Room) Clone() Room {
	r.Participants = slices.Clone(r.Participants)
	return r
}

// Turn is one durable conversation turn.
type Turn struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SpeakerID      string    `json:"speakerId"`
	SpeakerName    string    `json:"speakerName"`
	SpeakerRole    Role      `json:"speakerRole"`
	SourceLanguage string    `json:"sourceLanguage"`
	OriginalText   string    `json:"originalText"`
	TargetLanguage string    `json:"targetLanguage"`
	TranslatedText string    `json:"translatedText"`

	// RequestKey is chosen by the author to make retried appends idempotent.
	RequestKey string `json:"requestKey,omitempty"`
}

// ValidateContent checks the fields an author must provide before
// appending. The returned error wraps [ErrInvalidTurn].
func (t Turn) ValidateContent() error {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("speakerId", t.SpeakerID)
	check("speakerName", t.SpeakerName)
	check("speakerRole", string(t.SpeakerRole))
	check("sourceLanguage", t.SourceLanguage)
	check("originalText", t.OriginalText)
	check("targetLanguage", t.TargetLanguage)
	check("translatedText", t.TranslatedText)

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	if t.SpeakerRole != "" && !t.SpeakerRole.Valid() {
		errs = append(errs, fmt.Errorf("unknown role %q", t.SpeakerRole))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTurn, errors.Join(errs...))
	}
	return nil
}

// ValidateDurable additionally requires the store-assigned ID and timestamp.
func (t Turn) ValidateDurable() error {
	if t.ID == "" || t.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing id or timestamp", ErrInvalidTurn)
	}
	return t.ValidateContent()
}

// LiveSpeech is a per-speaker preview of in-progress speech.
type LiveSpeech struct {
	SpeakerID      string    `json:"speakerId"`
	SpeakerName    string    `json:"speakerName"`
	SpeakerRole    Role      `json:"speakerRole"`
	SourceLanguage string    `json:"sourceLanguage"`
	TargetLanguage string    `json:"targetLanguage"`
	Text           string    `json:"text"`
	Seq            uint64    `json:"seq"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
