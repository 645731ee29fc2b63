package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/medlingo/internal/config"
	"github.com/MrWong99/medlingo/pkg/engine"
	"github.com/MrWong99/medlingo/pkg/store"
)

func TestTalkFlags_Resolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		flags   talkFlags
		client  config.ClientConfig
		want    talkFlags
		wantErr bool
	}{
		{
			name: "defaults",
			want: talkFlags{server: "http://localhost:8080", name: "Guest", role: "doctor", src: "en-US", dst: "es-ES"},
		},
		{
			name:   "config fills unset flags",
			flags:  talkFlags{name: "Ana"},
			client: config.ClientConfig{ServerURL: "https://medlingo.example", Name: "ignored", Role: store.RolePatient, SourceLanguage: "es-ES", TargetLanguage: "en-US"},
			want:   talkFlags{server: "https://medlingo.example", name: "Ana", role: "patient", src: "es-ES", dst: "en-US"},
		},
		{
			name:    "invalid role",
			flags:   talkFlags{role: "nurse"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := tt.flags
			err := f.resolve(tt.client)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolve error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && f != tt.want {
				t.Errorf("resolve = %+v, want %+v", f, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	viewer := engine.Viewer{ID: "pt-1", SourceLanguage: "es-ES", TargetLanguage: "en-US"}
	turn := store.Turn{
		ID:             "t1",
		Timestamp:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		SpeakerID:      "dr-1",
		SpeakerName:    "Dr. Ruiz",
		SpeakerRole:    store.RoleDoctor,
		SourceLanguage: "en-US",
		OriginalText:   "Where does it hurt?",
		TargetLanguage: "es-ES",
		TranslatedText: "¿Dónde le duele?",
	}
	pending := engine.Entry{Turn: store.Turn{ID: "temp-tr-1", OriginalText: "Me duele", TranslatedText: engine.Pending}, Kind: engine.KindTranslating}

	updates := make(chan engine.View, 4)
	updates <- engine.View{Viewer: viewer, Turns: []engine.Entry{pending}}
	updates <- engine.View{Viewer: viewer, Turns: []engine.Entry{{Turn: turn}}, Speaking: []store.LiveSpeech{{SpeakerName: "Dr. Ruiz", Text: "and since"}}}
	updates <- engine.View{Viewer: viewer, Turns: []engine.Entry{{Turn: turn}}, Error: "Translation Error: boom"}
	updates <- engine.View{Viewer: viewer, Turns: []engine.Entry{{Turn: turn}}, RoomEnded: true}
	close(updates)

	var out bytes.Buffer
	render(&out, updates)
	got := out.String()

	if strings.Contains(got, "Me duele") {
		t.Errorf("placeholder rendered:\n%s", got)
	}
	if n := strings.Count(got, "Dr. Ruiz (doctor)"); n != 1 {
		t.Errorf("durable turn printed %d times:\n%s", n, got)
	}
	// The patient reads the flipped layout: their language on the left.
	if !strings.Contains(got, "    ¿Dónde le duele?\n    Where does it hurt?\n") {
		t.Errorf("unexpected panel layout:\n%s", got)
	}
	for _, want := range []string{"... Dr. Ruiz: and since", "! Translation Error: boom", "The conversation has ended."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
