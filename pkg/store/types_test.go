package store

import (
	"errors"
	"strings"
	"testing"
)

func validTurn() Turn {
	return Turn{
		SpeakerID:      "a",
		SpeakerName:    "Dr. Ruiz",
		SpeakerRole:    RoleDoctor,
		SourceLanguage: "en-US",
		OriginalText:   "The patient has a fever",
		TargetLanguage: "es-ES",
		TranslatedText: "El paciente tiene fiebre",
	}
}

func TestTurn_ValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Turn)
		wantErr string
	}{
		{"valid", func(*Turn) {}, ""},
		{"missing translation", func(t *Turn) { t.TranslatedText = "" }, "translatedText"},
		{"blank original", func(t *Turn) { t.OriginalText = "  " }, "originalText"},
		{"bad role", func(t *Turn) { t.SpeakerRole = "nurse" }, `unknown role "nurse"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			turn := validTurn()
			tc.mutate(&turn)
			err := turn.ValidateContent()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidTurn) {
				t.Fatalf("err = %v, want ErrInvalidTurn", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestTurn_ValidateDurable(t *testing.T) {
	turn := validTurn()
	if err := turn.ValidateDurable(); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("err = %v, want ErrInvalidTurn without id/timestamp", err)
	}
	turn.ID, turn.Timestamp = "t1", t0
	if err := turn.ValidateDurable(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRole_Opposite(t *testing.T) {
	if RoleDoctor.Opposite() != RolePatient || RolePatient.Opposite() != RoleDoctor {
		t.Error("Opposite is not symmetric")
	}
}
