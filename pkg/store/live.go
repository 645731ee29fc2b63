package store

import (
	"sort"
	"strings"
)

// LiveBoard holds the live-speech slots of one room. It is not safe for
// concurrent use; the owning store serialises access.
type LiveBoard struct {
	slots map[string]LiveSpeech
	// seen remembers the highest sequence number per speaker, including
	// cleared slots, so a late update cannot resurrect a cleared slot.
	seen map[string]uint64
}

// NewLiveBoard returns an empty board.
func NewLiveBoard() *LiveBoard {
	return &LiveBoard{
		slots: make(map[string]LiveSpeech),
		seen:  make(map[string]uint64),
	}
}

// Set applies ls and reports whether the visible slot set changed. Empty
// text clears the slot.
func (b *LiveBoard) Set(ls LiveSpeech) bool {
	if last, ok := b.seen[ls.SpeakerID]; ok && ls.Seq < last {
		return false
	}
	b.seen[ls.SpeakerID] = ls.Seq

	if strings.TrimSpace(ls.Text) == "" {
		return b.Clear(ls.SpeakerID)
	}
	if cur, ok := b.slots[ls.SpeakerID]; ok && cur.Text == ls.Text &&
		cur.SourceLanguage == ls.SourceLanguage && cur.TargetLanguage == ls.TargetLanguage {
		cur.Seq, cur.UpdatedAt = ls.Seq, ls.UpdatedAt
		b.slots[ls.SpeakerID] = cur
		return false
	}
	b.slots[ls.SpeakerID] = ls
	return true
}

// Clear removes the slot and reports whether one existed.
func (b *LiveBoard) Clear(speakerID string) bool {
	if _, ok := b.slots[speakerID]; !ok {
		return false
	}
	delete(b.slots, speakerID)
	return true
}

// Forget clears the slot and drops the speaker's sequence number, so a
// speaker who leaves and rejoins can count from one again. It reports
// whether a slot was removed.
func (b *LiveBoard) Forget(speakerID string) bool {
	delete(b.seen, speakerID)
	return b.Clear(speakerID)
}

// Snapshot returns the slots ordered by speaker ID.
func (b *LiveBoard) Snapshot() []LiveSpeech {
	out := make([]LiveSpeech, 0, len(b.slots))
	for _, ls := range b.slots {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpeakerID < out[j].SpeakerID })
	return out
}
