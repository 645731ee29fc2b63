// Package storetest is a behavioural test suite shared by every
// [store.Store] implementation.
package storetest

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/medlingo/pkg/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// waitTimeout bounds every wait for a subscription snapshot.
const waitTimeout = 5 * time.Second

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateRoom", testCreateRoom},
		{"JoinAssignsOppositeRole", testJoinAssignsOppositeRole},
		{"AdmissionCap", testAdmissionCap},
		{"RejoinReactivates", testRejoinReactivates},
		{"UnknownRoom", testUnknownRoom},
		{"JoinNormalizesCode", testJoinNormalizesCode},
		{"LeaveClearsLiveSpeech", testLeaveClearsLiveSpeech},
		{"RejoinRestartsLiveSequence", testRejoinRestartsLiveSequence},
		{"EndRoom", testEndRoom},
		{"AppendTurn", testAppendTurn},
		{"AppendTurnRetry", testAppendTurnRetry},
		{"AppendInvalidTurn", testAppendInvalidTurn},
		{"SubscribeTurns", testSubscribeTurns},
		{"LiveSpeech", testLiveSpeech},
		{"ClearLiveSpeechIdempotent", testClearLiveSpeechIdempotent},
		{"SubscriptionEndsWithContext", testSubscriptionEndsWithContext},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Await reads snapshots from ch until one satisfies ok.
func Await[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v, open := <-ch:
			if !open {
				t.Fatal("subscription closed while waiting")
			}
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func doctor(id string) store.Participant {
	return store.Participant{ID: id, Name: "Dr. " + id, Role: store.RoleDoctor}
}

func turn(speaker, text, key string) store.Turn {
	return store.Turn{
		SpeakerID:      speaker,
		SpeakerName:    "Dr. " + speaker,
		SpeakerRole:    store.RoleDoctor,
		SourceLanguage: "en-US",
		OriginalText:   text,
		TargetLanguage: "es-ES",
		TranslatedText: "traducido: " + text,
		RequestKey:     key,
	}
}

func mustCreate(t *testing.T, s store.Store, creator store.Participant) store.Room {
	t.Helper()
	room, err := s.CreateRoom(ctxT(t), creator)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func testCreateRoom(t *testing.T, s store.Store) {
	room := mustCreate(t, s, store.Participant{ID: "p1", Name: "Sam", Role: store.RolePatient})
	if !codePattern.MatchString(room.Code) {
		t.Errorf("code = %q, want 6 uppercase alphanumerics", room.Code)
	}
	if len(room.Participants) != 1 {
		t.Fatalf("participants = %+v", room.Participants)
	}
	p := room.Participants[0]
	if p.ID != "p1" || p.Role != store.RolePatient || !p.Active {
		t.Errorf("creator = %+v, want active patient p1", p)
	}

	got, err := s.GetRoom(ctxT(t), room.Code)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Code != room.Code || len(got.Participants) != 1 {
		t.Errorf("GetRoom = %+v", got)
	}
}

func testJoinAssignsOppositeRole(t *testing.T, s store.Store) {
	room := mustCreate(t, s, doctor("a"))
	p, err := s.JoinRoom(ctxT(t), room.Code, store.Participant{ID: "b", Name: "Sam", Role: store.RoleDoctor})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if p.Role != store.RolePatient || !p.Active {
		t.Errorf("joined = %+v, want active patient", p)
	}
}

func testAdmissionCap(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	if _, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b", Name: "B"}); err != nil {
		t.Fatalf("JoinRoom b: %v", err)
	}
	before, _ := s.GetRoom(ctx, room.Code)

	_, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "c", Name: "C"})
	if !errors.Is(err, store.ErrRoomFull) {
		t.Fatalf("third identity: err = %v, want ErrRoomFull", err)
	}
	after, _ := s.GetRoom(ctx, room.Code)
	if len(after.Participants) != len(before.Participants) {
		t.Fatalf("roster changed: %+v -> %+v", before.Participants, after.Participants)
	}
	for i := range after.Participants {
		b, a := before.Participants[i], after.Participants[i]
		if a.ID != b.ID || a.Role != b.Role || a.Active != b.Active {
			t.Errorf("participant %d changed: %+v -> %+v", i, b, a)
		}
	}

	if err := s.LeaveRoom(ctx, room.Code, "b"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "c"}); !errors.Is(err, store.ErrRoomFull) {
		t.Fatalf("third identity after a leave: err = %v, want ErrRoomFull", err)
	}
}

func testRejoinReactivates(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	first, _ := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b", Name: "B"})

	if err := s.LeaveRoom(ctx, room.Code, "b"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if err := s.LeaveRoom(ctx, room.Code, "b"); err != nil {
		t.Fatalf("second LeaveRoom: %v", err)
	}
	got, _ := s.GetRoom(ctx, room.Code)
	if p, _ := got.Participant("b"); p.Active {
		t.Fatal("participant still active after leaving")
	}

	again, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b", Name: "B", Role: store.RoleDoctor})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !again.Active || again.Role != first.Role {
		t.Errorf("rejoined = %+v, want active with role %q", again, first.Role)
	}
}

func testUnknownRoom(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	if _, err := s.GetRoom(ctx, "ZZZZZZ"); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("GetRoom: err = %v", err)
	}
	if _, err := s.JoinRoom(ctx, "ZZZZZZ", doctor("a")); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("JoinRoom: err = %v", err)
	}
	if _, err := s.AppendTurn(ctx, "ZZZZZZ", turn("a", "hi", "k")); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("AppendTurn: err = %v", err)
	}
	if _, err := s.SubscribeTurns(ctx, "ZZZZZZ"); !errors.Is(err, store.ErrRoomNotFound) {
		t.Errorf("SubscribeTurns: err = %v", err)
	}
}

func testJoinNormalizesCode(t *testing.T, s store.Store) {
	room := mustCreate(t, s, doctor("a"))
	code := "  " + strings.ToLower(room.Code) + " "
	if _, err := s.JoinRoom(ctxT(t), code, store.Participant{ID: "b"}); err != nil {
		t.Fatalf("JoinRoom(%q): %v", code, err)
	}
}

func testLeaveClearsLiveSpeech(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	live, err := s.SubscribeLiveSpeech(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeLiveSpeech: %v", err)
	}
	Await(t, live, func(v []store.LiveSpeech) bool { return len(v) == 0 })

	if err := s.SetLiveSpeech(ctx, room.Code, store.LiveSpeech{SpeakerID: "a", Text: "The pat", Seq: 1}); err != nil {
		t.Fatalf("SetLiveSpeech: %v", err)
	}
	Await(t, live, func(v []store.LiveSpeech) bool { return len(v) == 1 })

	if err := s.LeaveRoom(ctx, room.Code, "a"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	Await(t, live, func(v []store.LiveSpeech) bool { return len(v) == 0 })
}

func testRejoinRestartsLiveSequence(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	if _, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b", Name: "Ana"}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	live, err := s.SubscribeLiveSpeech(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeLiveSpeech: %v", err)
	}
	set := func(text string, seq uint64) {
		t.Helper()
		if err := s.SetLiveSpeech(ctx, room.Code, store.LiveSpeech{SpeakerID: "b", Text: text, Seq: seq}); err != nil {
			t.Fatalf("SetLiveSpeech(%q, %d): %v", text, seq, err)
		}
	}
	for seq := uint64(1); seq <= 10; seq++ {
		set("hola", seq)
	}
	set("", 11)
	Await(t, live, func(v []store.LiveSpeech) bool { return len(v) == 0 })

	if err := s.LeaveRoom(ctx, room.Code, "b"); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b", Name: "Ana"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	set("me duele", 1)
	got := Await(t, live, func(v []store.LiveSpeech) bool { return len(v) == 1 })
	if got[0].Text != "me duele" {
		t.Errorf("slot text = %q", got[0].Text)
	}
}

func testEndRoom(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	roster, err := s.SubscribeRoster(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeRoster: %v", err)
	}
	Await(t, roster, func(r store.Room) bool { return !r.Ended })

	if err := s.EndRoom(ctx, room.Code); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	Await(t, roster, func(r store.Room) bool { return r.Ended })

	if err := s.EndRoom(ctx, room.Code); err != nil {
		t.Fatalf("second EndRoom: %v", err)
	}
	if _, err := s.JoinRoom(ctx, room.Code, store.Participant{ID: "b"}); !errors.Is(err, store.ErrRoomEnded) {
		t.Errorf("JoinRoom after end: err = %v, want ErrRoomEnded", err)
	}
	if _, err := s.AppendTurn(ctx, room.Code, turn("a", "hi", "k")); !errors.Is(err, store.ErrRoomEnded) {
		t.Errorf("AppendTurn after end: err = %v, want ErrRoomEnded", err)
	}
}

func testAppendTurn(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))

	var prev store.Turn
	for i, text := range []string{"first", "second", "third"} {
		got, err := s.AppendTurn(ctx, room.Code, turn("a", text, text))
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
		if got.ID == "" || got.Timestamp.IsZero() {
			t.Fatalf("turn %d missing id or timestamp: %+v", i, got)
		}
		if err := got.ValidateDurable(); err != nil {
			t.Fatalf("turn %d not durable: %v", i, err)
		}
		if i > 0 && !got.Timestamp.After(prev.Timestamp) {
			t.Errorf("timestamps not increasing: %v then %v", prev.Timestamp, got.Timestamp)
		}
		prev = got
	}
}

func testAppendTurnRetry(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))

	first, err := s.AppendTurn(ctx, room.Code, turn("a", "The patient has a fever", "temp-tr-1"))
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	retry, err := s.AppendTurn(ctx, room.Code, turn("a", "The patient has a fever", "temp-tr-1"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.ID != first.ID {
		t.Errorf("retry created turn %q, want existing %q", retry.ID, first.ID)
	}

	// Saying the same words again is a new turn.
	if _, err := s.AppendTurn(ctx, room.Code, turn("a", "The patient has a fever", "temp-tr-2")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	ch, _ := s.SubscribeTurns(ctx, room.Code)
	got := Await(t, ch, func([]store.Turn) bool { return true })
	if len(got) != 2 {
		t.Errorf("transcript has %d turns, want 2", len(got))
	}
}

func testAppendInvalidTurn(t *testing.T, s store.Store) {
	room := mustCreate(t, s, doctor("a"))
	bad := turn("a", "hi", "k")
	bad.TranslatedText = ""
	if _, err := s.AppendTurn(ctxT(t), room.Code, bad); !errors.Is(err, store.ErrInvalidTurn) {
		t.Fatalf("err = %v, want ErrInvalidTurn", err)
	}
}

func testSubscribeTurns(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	if _, err := s.AppendTurn(ctx, room.Code, turn("a", "before", "k0")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	ch, err := s.SubscribeTurns(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeTurns: %v", err)
	}
	initial := Await(t, ch, func([]store.Turn) bool { return true })
	if len(initial) != 1 || initial[0].OriginalText != "before" {
		t.Fatalf("initial snapshot = %+v", initial)
	}

	if _, err := s.AppendTurn(ctx, room.Code, turn("a", "after", "k1")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	got := Await(t, ch, func(v []store.Turn) bool { return len(v) == 2 })
	if got[0].OriginalText != "before" || got[1].OriginalText != "after" {
		t.Errorf("snapshot order = %q, %q", got[0].OriginalText, got[1].OriginalText)
	}
}

func testLiveSpeech(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	ch, err := s.SubscribeLiveSpeech(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeLiveSpeech: %v", err)
	}

	set := func(text string, seq uint64) {
		t.Helper()
		if err := s.SetLiveSpeech(ctx, room.Code, store.LiveSpeech{
			SpeakerID: "a", SpeakerRole: store.RoleDoctor, Text: text, Seq: seq,
			SourceLanguage: "en-US", TargetLanguage: "es-ES",
		}); err != nil {
			t.Fatalf("SetLiveSpeech(%q): %v", text, err)
		}
	}

	set("The patient", 2)
	Await(t, ch, func(v []store.LiveSpeech) bool { return len(v) == 1 && v[0].Text == "The patient" })

	set("The", 1)
	set("The patient has", 3)
	got := Await(t, ch, func(v []store.LiveSpeech) bool { return len(v) == 1 && v[0].Seq == 3 })
	if got[0].Text != "The patient has" {
		t.Errorf("slot text = %q", got[0].Text)
	}

	set("", 4)
	Await(t, ch, func(v []store.LiveSpeech) bool { return len(v) == 0 })
}

func testClearLiveSpeechIdempotent(t *testing.T, s store.Store) {
	ctx := ctxT(t)
	room := mustCreate(t, s, doctor("a"))
	if err := s.SetLiveSpeech(ctx, room.Code, store.LiveSpeech{SpeakerID: "a", Text: "hola", Seq: 1}); err != nil {
		t.Fatalf("SetLiveSpeech: %v", err)
	}

	ch, _ := s.SubscribeLiveSpeech(ctx, room.Code)
	for i := range 2 {
		if err := s.ClearLiveSpeech(ctx, room.Code, "a"); err != nil {
			t.Fatalf("ClearLiveSpeech #%d: %v", i+1, err)
		}
	}
	Await(t, ch, func(v []store.LiveSpeech) bool { return len(v) == 0 })
	if err := s.ClearLiveSpeech(ctx, room.Code, "nobody"); err != nil {
		t.Fatalf("ClearLiveSpeech of absent slot: %v", err)
	}
}

func testSubscriptionEndsWithContext(t *testing.T, s store.Store) {
	room := mustCreate(t, s, doctor("a"))
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.SubscribeRoster(ctx, room.Code)
	if err != nil {
		t.Fatalf("SubscribeRoster: %v", err)
	}
	cancel()

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after cancel")
		}
	}
}
