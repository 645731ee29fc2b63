package engine

import (
	"strings"
	"time"

	"github.com/MrWong99/medlingo/pkg/store"
)

// Viewer is the local participant together with its language selection.
// The left panel shows the viewer's source language, the right panel its
// target language.
type Viewer struct {
	ID             string
	SourceLanguage string
	TargetLanguage string
}

// Display is what the two panels show for one turn.
type Display struct {
	Left  string
	Right string
}

// DisplayData derives the panel texts of t for viewer. It holds no state and
// is meant to be recomputed on every render.
//
// The viewer's own turns show original text left and translation right.
// For the other party the texts are placed by language: a turn spoken in
// the viewer's source language keeps that layout, a turn translated into the
// viewer's source language is flipped. When neither language matches, the
// right panel takes the text tagged with the viewer's target language and
// the left panel the other one.
func DisplayData(t store.Turn, viewer Viewer) Display {
	straight := Display{Left: t.OriginalText, Right: t.TranslatedText}
	flipped := Display{Left: t.TranslatedText, Right: t.OriginalText}

	if t.SpeakerID == viewer.ID {
		return straight
	}
	switch {
	case sameLanguage(t.SourceLanguage, viewer.SourceLanguage):
		return straight
	case sameLanguage(t.TargetLanguage, viewer.SourceLanguage):
		return flipped
	case sameLanguage(t.SourceLanguage, viewer.TargetLanguage):
		return flipped
	default:
		return straight
	}
}

func sameLanguage(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// PanelRow is one rendered row of the two-panel transcript.
type PanelRow struct {
	ID          string
	Kind        Kind
	Timestamp   time.Time
	SpeakerName string
	SpeakerRole store.Role
	Own         bool
	Display
}

// PanelRows renders the turns of v for viewer, in display order.
func PanelRows(v View, viewer Viewer) []PanelRow {
	rows := make([]PanelRow, 0, len(v.Turns))
	for _, e := range v.Turns {
		rows = append(rows, PanelRow{
			ID:          e.ID,
			Kind:        e.Kind,
			Timestamp:   e.Timestamp,
			SpeakerName: e.SpeakerName,
			SpeakerRole: e.SpeakerRole,
			Own:         e.SpeakerID == viewer.ID,
			Display:     DisplayData(e.Turn, viewer),
		})
	}
	return rows
}
