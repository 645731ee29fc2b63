package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/medlingo/pkg/store"
)

// Pending is shown as the translation of a turn whose translation is not
// known yet.
const Pending = "..."

// Placeholder id prefixes. Durable ids never carry them.
const (
	inProgressPrefix  = "temp-rec-"
	translatingPrefix = "temp-tr-"
)

// Kind distinguishes durable turns from the two kinds of placeholder.
type Kind int

const (
	// KindDurable turns come from the store.
	KindDurable Kind = iota

	// KindInProgress is the local utterance while it is still being spoken.
	KindInProgress

	// KindTranslating is a finished local utterance awaiting translation
	// and persistence.
	KindTranslating
)

func (k Kind) String() string {
	switch k {
	case KindDurable:
		return "durable"
	case KindInProgress:
		return "in-progress"
	case KindTranslating:
		return "translating"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is one row of the visible conversation.
type Entry struct {
	store.Turn
	Kind Kind
}

// Placeholder is a locally synthesised turn that has not been confirmed by
// the store. It is never written to the store as is.
type Placeholder struct {
	Turn store.Turn
	Kind Kind

	// AckID is the id the store returned for the persisted version of this
	// placeholder, once known.
	AckID string

	// Submitted is set once the translated turn has been sent to the store.
	// Only submitted placeholders are retired by text.
	Submitted bool

	// History holds the ids of the durable turns known when the placeholder
	// was created. None of them can stand for it.
	History map[string]bool
}

func newInProgress(text string, speaker store.Participant, src, dst string, now time.Time) Placeholder {
	return Placeholder{
		Kind: KindInProgress,
		Turn: placeholderTurn(inProgressPrefix+uuid.NewString(), text, speaker, src, dst, now),
	}
}

// newTranslating derives the id from the creation time so that placeholders
// of successive utterances never share an identity. history is the durable
// set at creation.
func newTranslating(text string, speaker store.Participant, src, dst string, now time.Time, history []store.Turn) Placeholder {
	id := fmt.Sprintf("%s%d-%s", translatingPrefix, now.UnixNano(), uuid.NewString())
	seen := make(map[string]bool, len(history))
	for _, t := range history {
		seen[t.ID] = true
	}
	return Placeholder{
		Kind:    KindTranslating,
		Turn:    placeholderTurn(id, text, speaker, src, dst, now),
		History: seen,
	}
}

func placeholderTurn(id, text string, speaker store.Participant, src, dst string, now time.Time) store.Turn {
	return store.Turn{
		ID:             id,
		Timestamp:      now,
		SpeakerID:      speaker.ID,
		SpeakerName:    speaker.Name,
		SpeakerRole:    speaker.Role,
		SourceLanguage: src,
		OriginalText:   text,
		TargetLanguage: dst,
		TranslatedText: Pending,
	}
}

// IsPlaceholderID reports whether id was generated locally.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, inProgressPrefix) || strings.HasPrefix(id, translatingPrefix)
}

// Merge returns durable turns and placeholders as one list ordered by
// timestamp. Equal timestamps keep insertion order: durable turns in store
// order first, then placeholders in creation order. Merge does not modify
// its arguments.
func Merge(durable []store.Turn, placeholders []Placeholder) []Entry {
	out := make([]Entry, 0, len(durable)+len(placeholders))
	for _, t := range durable {
		out = append(out, Entry{Turn: t, Kind: KindDurable})
	}
	for _, p := range placeholders {
		out = append(out, Entry{Turn: p.Turn, Kind: p.Kind})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Converge returns the placeholders that are not yet represented by a
// durable turn. A translating placeholder is retired by the durable turn
// whose id it was acknowledged with. Once submitted it is also retired by a
// turn of the same speaker with the same original text that is not in its
// history and is stamped no earlier than the placeholder's creation minus
// skew. Each durable turn retires at most one placeholder.
func Converge(durable []store.Turn, placeholders []Placeholder, skew time.Duration) []Placeholder {
	claimed := make(map[string]bool)
	retired := make([]bool, len(placeholders))

	// Acknowledged ids first, so a text match cannot steal a turn that is
	// known to belong to a later placeholder.
	byID := make(map[string]bool, len(durable))
	for _, t := range durable {
		byID[t.ID] = true
	}
	for i, p := range placeholders {
		if p.Kind == KindTranslating && p.AckID != "" && byID[p.AckID] && !claimed[p.AckID] {
			claimed[p.AckID] = true
			retired[i] = true
		}
	}
	acked := make(map[string]bool)
	for _, p := range placeholders {
		if p.AckID != "" {
			acked[p.AckID] = true
		}
	}

	for i, p := range placeholders {
		if retired[i] || p.Kind != KindTranslating || !p.Submitted {
			continue
		}
		notBefore := p.Turn.Timestamp.Add(-skew)
		for _, t := range durable {
			if claimed[t.ID] || p.History[t.ID] || (acked[t.ID] && t.ID != p.AckID) {
				continue
			}
			if t.SpeakerID == p.Turn.SpeakerID && t.OriginalText == p.Turn.OriginalText &&
				!t.Timestamp.Before(notBefore) {
				claimed[t.ID] = true
				retired[i] = true
				break
			}
		}
	}

	out := make([]Placeholder, 0, len(placeholders))
	for i, p := range placeholders {
		if !retired[i] {
			out = append(out, p)
		}
	}
	return out
}

// validDurable drops turns the store should never have delivered.
func validDurable(turns []store.Turn) (valid []store.Turn, dropped []error) {
	valid = make([]store.Turn, 0, len(turns))
	for _, t := range turns {
		if err := t.ValidateDurable(); err != nil {
			dropped = append(dropped, fmt.Errorf("turn %q: %w", t.ID, err))
			continue
		}
		valid = append(valid, t)
	}
	return valid, dropped
}
