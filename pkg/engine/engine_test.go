package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/medlingo/pkg/engine"
	"github.com/MrWong99/medlingo/pkg/gateway"
	"github.com/MrWong99/medlingo/pkg/provider/stt"
	sttmock "github.com/MrWong99/medlingo/pkg/provider/stt/mock"
	"github.com/MrWong99/medlingo/pkg/recognition"
	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/memstore"
)

type translatorFunc func(ctx context.Context, text, src, dst string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, src, dst string) (string, error) {
	return f(ctx, text, src, dst)
}

// dictionary translates by lookup and counts calls.
type dictionary struct {
	words map[string]string
	calls atomic.Int32
}

func (d *dictionary) Translate(_ context.Context, text, _, _ string) (string, error) {
	d.calls.Add(1)
	if tr, ok := d.words[text]; ok {
		return tr, nil
	}
	return "[" + text + "]", nil
}

type spoken struct {
	text, language string
}

type speakerFunc func(ctx context.Context, text, language string) error

func (f speakerFunc) Speak(ctx context.Context, text, language string) error {
	return f(ctx, text, language)
}

type fixture struct {
	clock   *clockwork.FakeClock
	store   *memstore.Store
	code    string
	doctor  store.Participant
	patient store.Participant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	st := memstore.New(memstore.WithClock(clk))
	t.Cleanup(st.Close)

	room, err := st.CreateRoom(ctx, store.Participant{ID: "dr-1", Name: "Dr. Ruiz", Role: store.RoleDoctor})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	pt, err := st.JoinRoom(ctx, room.Code, store.Participant{ID: "pt-1", Name: "Ana"})
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return &fixture{clock: clk, store: st, code: room.Code, doctor: room.Participants[0], patient: pt}
}

func (f *fixture) engine(t *testing.T, self store.Participant, src, dst string, tr engine.Translator, mutate ...func(*engine.Config)) *engine.Engine {
	t.Helper()
	cfg := engine.Config{
		Store:          f.store,
		Translator:     tr,
		Clock:          f.clock,
		RoomCode:       f.code,
		Self:           self,
		SourceLanguage: src,
		TargetLanguage: dst,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitView(t *testing.T, e *engine.Engine, what string, ok func(engine.View) bool) engine.View {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if v := e.View(); ok(v) {
			return v
		}
		select {
		case <-e.Updates():
		case <-deadline:
			t.Fatalf("timed out waiting for %s; view: %+v", what, e.View())
		}
	}
}

func kinds(v engine.View, k engine.Kind) int {
	n := 0
	for _, e := range v.Turns {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func hasInProgress(text string) func(engine.View) bool {
	return func(v engine.View) bool {
		for _, e := range v.Turns {
			if e.Kind == engine.KindInProgress && e.OriginalText == text {
				return true
			}
		}
		return false
	}
}

func durableTurns(t *testing.T, st store.Store, code string) []store.Turn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := st.SubscribeTurns(ctx, code)
	if err != nil {
		t.Fatalf("SubscribeTurns: %v", err)
	}
	return <-ch
}

func TestNew_Validation(t *testing.T) {
	_, err := engine.New(engine.Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"store is required", "translator is required", "room code is required", "participant id is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestStart_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	e, err := engine.New(engine.Config{
		Store: f.store, Translator: &dictionary{}, RoomCode: "ZZZZZZ",
		Self: f.doctor, SourceLanguage: "en-US", TargetLanguage: "es-ES",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	if err := e.Start(context.Background()); !errors.Is(err, store.ErrRoomNotFound) {
		t.Fatalf("Start = %v, want ErrRoomNotFound", err)
	}
}

func TestEngine_TranslatesAndPersistsUtterance(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var gotSrc, gotDst string
	tr := translatorFunc(func(ctx context.Context, text, src, dst string) (string, error) {
		gotSrc, gotDst = src, dst
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if text != "The patient has a fever" {
			return "", errors.New("unexpected text " + text)
		}
		return "El paciente tiene fiebre", nil
	})
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)
	viewer := e.View().Viewer

	if err := e.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	e.HandleInterim("The patient")
	waitView(t, e, "first interim", hasInProgress("The patient"))
	e.HandleInterim("The patient has a fever")
	v := waitView(t, e, "second interim", hasInProgress("The patient has a fever"))
	if v.State != engine.Recording || kinds(v, engine.KindInProgress) != 1 || len(v.Turns) != 1 {
		t.Fatalf("while recording: %+v", v)
	}

	e.StopRecording()
	v = waitView(t, e, "translating placeholder", func(v engine.View) bool { return v.State == engine.Translating })
	if len(v.Turns) != 1 || v.Turns[0].Kind != engine.KindTranslating || v.Turns[0].TranslatedText != engine.Pending {
		t.Fatalf("while translating: %+v", v.Turns)
	}
	if !engine.IsPlaceholderID(v.Turns[0].ID) {
		t.Errorf("placeholder id = %q", v.Turns[0].ID)
	}

	close(release)
	v = waitView(t, e, "durable turn", func(v engine.View) bool {
		return len(v.Turns) == 1 && v.Turns[0].Kind == engine.KindDurable
	})
	if v.State != engine.Idle || v.Error != "" {
		t.Errorf("state = %v error = %q", v.State, v.Error)
	}
	turn := v.Turns[0]
	if turn.OriginalText != "The patient has a fever" || turn.TranslatedText != "El paciente tiene fiebre" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.SpeakerRole != store.RoleDoctor || turn.SpeakerName != "Dr. Ruiz" || turn.SourceLanguage != "en-US" || turn.TargetLanguage != "es-ES" {
		t.Errorf("turn attribution = %+v", turn)
	}
	if gotSrc != "en-US" || gotDst != "es-ES" {
		t.Errorf("translated %s -> %s", gotSrc, gotDst)
	}

	rows := engine.PanelRows(v, viewer)
	if rows[0].Left != "The patient has a fever" || rows[0].Right != "El paciente tiene fiebre" {
		t.Errorf("panels = %+v", rows[0].Display)
	}

	if got := durableTurns(t, f.store, f.code); len(got) != 1 {
		t.Errorf("store holds %d turns, want 1", len(got))
	}
}

func TestEngine_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(gateway.ErrorResponse{Error: "Translation rate limit hit. Please wait and try again."})
	}))
	defer srv.Close()

	f := newFixture(t)
	e := f.engine(t, f.doctor, "en-US", "es-ES", gateway.NewClient(srv.URL))

	if err := e.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	e.HandleInterim("The patient has a fever")
	waitView(t, e, "interim", hasInProgress("The patient has a fever"))
	e.StopRecording()

	v := waitView(t, e, "error", func(v engine.View) bool { return v.Error != "" })
	if !strings.Contains(strings.ToLower(v.Error), "rate limit") {
		t.Errorf("error = %q, want a rate limit message", v.Error)
	}
	if len(v.Turns) != 0 {
		t.Errorf("turns = %+v, want none", v.Turns)
	}
	if v.State != engine.Idle {
		t.Errorf("state = %v, want idle", v.State)
	}
	if got := durableTurns(t, f.store, f.code); len(got) != 0 {
		t.Errorf("store holds %d turns, want 0", len(got))
	}

	// A failed translation never blocks a new recording.
	if err := e.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording after failure: %v", err)
	}
	v = waitView(t, e, "recording again", func(v engine.View) bool { return v.State == engine.Recording })
	if v.Error != "" {
		t.Errorf("starting did not clear the error: %q", v.Error)
	}
}

func TestEngine_DismissError(t *testing.T) {
	f := newFixture(t)
	tr := translatorFunc(func(context.Context, string, string, string) (string, error) {
		return "", &gateway.Error{Status: http.StatusInternalServerError, Message: "Failed to translate text", Details: "upstream"}
	})
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)

	_ = e.StartRecording(context.Background())
	e.HandleInterim("hello")
	waitView(t, e, "interim", hasInProgress("hello"))
	e.StopRecording()
	v := waitView(t, e, "error", func(v engine.View) bool { return v.Error != "" })
	if v.Error != "Translation Error: Failed to translate text" {
		t.Errorf("error = %q", v.Error)
	}

	e.DismissError()
	waitView(t, e, "dismissed", func(v engine.View) bool { return v.Error == "" })
}

func TestEngine_EmptyUtterance(t *testing.T) {
	f := newFixture(t)
	tr := &dictionary{}
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)

	_ = e.StartRecording(context.Background())
	waitView(t, e, "recording", func(v engine.View) bool { return v.State == engine.Recording })
	e.HandleInterim("   ")
	e.StopRecording()
	v := waitView(t, e, "idle", func(v engine.View) bool { return v.State == engine.Idle })
	if len(v.Turns) != 0 {
		t.Errorf("turns = %+v", v.Turns)
	}
	if tr.calls.Load() != 0 {
		t.Errorf("translator called %d times", tr.calls.Load())
	}
}

func TestEngine_RapidStopStart(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	tr := translatorFunc(func(ctx context.Context, text, _, _ string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "es: " + text, nil
	})
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)

	_ = e.StartRecording(context.Background())
	e.HandleInterim("first")
	waitView(t, e, "first interim", hasInProgress("first"))
	e.StopRecording()
	_ = e.StartRecording(context.Background())
	e.HandleInterim("second")

	v := waitView(t, e, "second interim", hasInProgress("second"))
	if kinds(v, engine.KindInProgress) != 1 || kinds(v, engine.KindTranslating) != 1 {
		t.Fatalf("turns = %+v", v.Turns)
	}
	if v.State != engine.Recording {
		t.Errorf("state = %v, want recording", v.State)
	}

	e.StopRecording()
	v = waitView(t, e, "two translating", func(v engine.View) bool { return kinds(v, engine.KindTranslating) == 2 })
	if v.Turns[0].ID == v.Turns[1].ID {
		t.Error("placeholders share an identity")
	}
	if kinds(v, engine.KindInProgress) != 0 {
		t.Error("stale in-progress placeholder")
	}

	close(release)
	v = waitView(t, e, "both durable", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 2 })
	got := map[string]bool{}
	for _, entry := range v.Turns {
		got[entry.OriginalText] = true
	}
	if len(v.Turns) != 2 || !got["first"] || !got["second"] {
		t.Errorf("turns = %+v", v.Turns)
	}
	if v.State != engine.Idle {
		t.Errorf("state = %v", v.State)
	}
}

// Saying the same thing twice in a row yields two turns, even when the other
// party's turn lands while the second one is still being translated.
func TestEngine_RepeatedUtteranceIsPersisted(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{}, 2)
	release <- struct{}{}
	tr := translatorFunc(func(ctx context.Context, text, _, _ string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "Sí", nil
	})
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)
	say := func(text string) {
		t.Helper()
		if err := e.StartRecording(context.Background()); err != nil {
			t.Fatalf("StartRecording: %v", err)
		}
		e.HandleInterim(text)
		waitView(t, e, "interim", hasInProgress(text))
		e.StopRecording()
	}

	say("Yes")
	waitView(t, e, "first turn", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 1 && len(v.Turns) == 1 })

	f.clock.Advance(time.Second)
	say("Yes")
	waitView(t, e, "second translating", func(v engine.View) bool { return kinds(v, engine.KindTranslating) == 1 })

	_, err := f.store.AppendTurn(context.Background(), f.code, store.Turn{
		SpeakerID:      f.patient.ID,
		SpeakerName:    "Ana",
		SpeakerRole:    store.RolePatient,
		SourceLanguage: "es-ES",
		OriginalText:   "Vale",
		TargetLanguage: "en-US",
		TranslatedText: "Okay",
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	v := waitView(t, e, "patient turn", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 2 })
	if kinds(v, engine.KindTranslating) != 1 {
		t.Fatalf("second utterance lost before translation: %+v", v.Turns)
	}

	release <- struct{}{}
	v = waitView(t, e, "three durable", func(v engine.View) bool {
		return kinds(v, engine.KindDurable) == 3 && len(v.Turns) == 3
	})
	if got := durableTurns(t, f.store, f.code); len(got) != 3 {
		t.Errorf("store holds %d turns, want 3", len(got))
	}
	yes := 0
	for _, entry := range v.Turns {
		if entry.OriginalText == "Yes" {
			yes++
		}
	}
	if yes != 2 {
		t.Errorf("turns = %+v, want both utterances", v.Turns)
	}
}

func TestEngine_CrossLanguageDisplay(t *testing.T) {
	f := newFixture(t)
	dict := &dictionary{words: map[string]string{
		"Me duele la cabeza": "My head hurts",
		"Since when?":        "¿Desde cuándo?",
	}}
	a := f.engine(t, f.doctor, "en-US", "es-ES", dict)
	b := f.engine(t, f.patient, "es-ES", "en-US", dict)

	_ = b.StartRecording(context.Background())
	b.HandleInterim("Me duele la cabeza")
	waitView(t, b, "interim", hasInProgress("Me duele la cabeza"))
	b.StopRecording()

	va := waitView(t, a, "patient's turn", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 1 })
	rows := engine.PanelRows(va, va.Viewer)
	if rows[0].Own || rows[0].Left != "My head hurts" || rows[0].Right != "Me duele la cabeza" {
		t.Errorf("doctor's panels = %+v", rows[0])
	}
	if rows[0].SpeakerRole != store.RolePatient || rows[0].SpeakerName != "Ana" {
		t.Errorf("attribution = %+v", rows[0])
	}

	vb := waitView(t, b, "own turn", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 1 && len(v.Turns) == 1 })
	rows = engine.PanelRows(vb, vb.Viewer)
	if !rows[0].Own || rows[0].Left != "Me duele la cabeza" || rows[0].Right != "My head hurts" {
		t.Errorf("patient's panels = %+v", rows[0])
	}

	_ = a.StartRecording(context.Background())
	a.HandleInterim("Since when?")
	waitView(t, a, "interim", hasInProgress("Since when?"))
	a.StopRecording()

	vb = waitView(t, b, "doctor's reply", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 2 })
	rows = engine.PanelRows(vb, vb.Viewer)
	if rows[1].Left != "¿Desde cuándo?" || rows[1].Right != "Since when?" {
		t.Errorf("patient sees reply as %+v", rows[1].Display)
	}
}

func TestEngine_LiveSpeech(t *testing.T) {
	f := newFixture(t)
	a := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{})
	b := f.engine(t, f.patient, "es-ES", "en-US", &dictionary{})

	_ = a.StartRecording(context.Background())
	a.HandleInterim("Take")
	waitView(t, a, "interim", hasInProgress("Take"))
	if len(b.View().Speaking) != 0 {
		t.Fatal("live speech published before the debounce interval")
	}

	a.HandleInterim("Take two")
	waitView(t, a, "interim", hasInProgress("Take two"))
	f.clock.Advance(engine.DefaultLiveDebounce)
	vb := waitView(t, b, "speaking", func(v engine.View) bool { return len(v.Speaking) == 1 })
	if got := vb.Speaking[0]; got.Text != "Take two" || got.SpeakerID != f.doctor.ID {
		t.Errorf("speaking = %+v", got)
	}
	if len(a.View().Speaking) != 0 {
		t.Error("own live speech shown as remote")
	}

	a.HandleInterim("Take two pills")
	waitView(t, a, "interim", hasInProgress("Take two pills"))
	f.clock.Advance(engine.DefaultLiveDebounce)
	waitView(t, b, "updated speaking", func(v engine.View) bool {
		return len(v.Speaking) == 1 && v.Speaking[0].Text == "Take two pills"
	})

	a.StopRecording()
	waitView(t, b, "speaking cleared", func(v engine.View) bool { return len(v.Speaking) == 0 })
}

func TestEngine_StaleLiveSpeechHidden(t *testing.T) {
	f := newFixture(t)
	a := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{})
	b := f.engine(t, f.patient, "es-ES", "en-US", &dictionary{})

	_ = a.StartRecording(context.Background())
	a.HandleInterim("Hold on")
	waitView(t, a, "interim", hasInProgress("Hold on"))
	f.clock.Advance(engine.DefaultLiveDebounce)
	waitView(t, b, "speaking", func(v engine.View) bool { return len(v.Speaking) == 1 })

	f.clock.Advance(engine.DefaultStaleAfter + time.Millisecond)
	waitView(t, b, "stale slot hidden", func(v engine.View) bool { return len(v.Speaking) == 0 })
}

func TestEngine_CloseClearsLiveSpeech(t *testing.T) {
	f := newFixture(t)
	a := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{})
	b := f.engine(t, f.patient, "es-ES", "en-US", &dictionary{})

	_ = a.StartRecording(context.Background())
	a.HandleInterim("Wait")
	waitView(t, a, "interim", hasInProgress("Wait"))
	f.clock.Advance(engine.DefaultLiveDebounce)
	waitView(t, b, "speaking", func(v engine.View) bool { return len(v.Speaking) == 1 })

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitView(t, b, "slot cleared", func(v engine.View) bool { return len(v.Speaking) == 0 })
}

type failingAppends struct {
	store.Store
	err error
}

func (s failingAppends) AppendTurn(context.Context, string, store.Turn) (store.Turn, error) {
	return store.Turn{}, s.err
}

func TestEngine_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{}, func(c *engine.Config) {
		c.Store = failingAppends{Store: f.store, err: errors.New("disk full")}
	})

	_ = e.StartRecording(context.Background())
	e.HandleInterim("hello")
	waitView(t, e, "interim", hasInProgress("hello"))
	e.StopRecording()

	v := waitView(t, e, "error", func(v engine.View) bool { return v.Error != "" })
	if len(v.Turns) != 0 {
		t.Errorf("placeholder left behind: %+v", v.Turns)
	}
	if v.RoomEnded {
		t.Error("ordinary write failure ended the room")
	}
}

func TestEngine_RoomEnded(t *testing.T) {
	f := newFixture(t)
	ended := make(chan struct{})
	var once sync.Once
	e := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{}, func(c *engine.Config) {
		c.OnRoomEnded = func() { once.Do(func() { close(ended) }) }
	})

	_ = e.StartRecording(context.Background())
	e.HandleInterim("goodbye")
	waitView(t, e, "interim", hasInProgress("goodbye"))

	if err := f.store.EndRoom(context.Background(), f.code); err != nil {
		t.Fatalf("EndRoom: %v", err)
	}
	v := waitView(t, e, "room ended", func(v engine.View) bool { return v.RoomEnded })
	if v.Error == "" || v.State != engine.Idle || len(v.Turns) != 0 {
		t.Errorf("view = %+v", v)
	}
	if err := e.StartRecording(context.Background()); !errors.Is(err, engine.ErrRoomEnded) {
		t.Errorf("StartRecording = %v, want ErrRoomEnded", err)
	}

	select {
	case <-ended:
		t.Fatal("OnRoomEnded fired before the delay")
	default:
	}
	f.clock.Advance(engine.DefaultRoomEndedDelay)
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("OnRoomEnded not called")
	}
}

func TestEngine_SpeaksOtherPartysNewTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	history := store.Turn{
		SpeakerID: f.patient.ID, SpeakerName: "Ana", SpeakerRole: store.RolePatient,
		SourceLanguage: "es-ES", OriginalText: "Hola", TargetLanguage: "en-US", TranslatedText: "Hello",
	}
	if _, err := f.store.AppendTurn(ctx, f.code, history); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	said := make(chan spoken, 4)
	e := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{}, func(c *engine.Config) {
		c.Speaker = speakerFunc(func(_ context.Context, text, language string) error {
			said <- spoken{text, language}
			return nil
		})
	})
	waitView(t, e, "history", func(v engine.View) bool { return len(v.Turns) == 1 })

	// Own turns are never read aloud.
	_ = e.StartRecording(ctx)
	e.HandleInterim("How are you?")
	waitView(t, e, "interim", hasInProgress("How are you?"))
	e.StopRecording()
	waitView(t, e, "own turn", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 2 })

	reply := history
	reply.OriginalText, reply.TranslatedText = "Me duele la espalda", "My back hurts"
	if _, err := f.store.AppendTurn(ctx, f.code, reply); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	select {
	case got := <-said:
		if got != (spoken{"My back hurts", "en-US"}) {
			t.Errorf("spoke %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("new turn was not spoken")
	}
	select {
	case got := <-said:
		t.Errorf("unexpected speech %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type scriptedTurns struct {
	store.Store
	turns chan []store.Turn
}

func (s scriptedTurns) SubscribeTurns(ctx context.Context, _ string) (<-chan []store.Turn, error) {
	out := make(chan []store.Turn)
	go func() {
		defer close(out)
		for {
			select {
			case turns := <-s.turns:
				select {
				case out <- turns:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestEngine_DropsInvalidDurableTurns(t *testing.T) {
	f := newFixture(t)
	turns := make(chan []store.Turn, 1)
	e := f.engine(t, f.doctor, "en-US", "es-ES", &dictionary{}, func(c *engine.Config) {
		c.Store = scriptedTurns{Store: f.store, turns: turns}
	})

	good := store.Turn{
		ID: "t1", Timestamp: f.clock.Now(), SpeakerID: f.patient.ID, SpeakerName: "Ana", SpeakerRole: store.RolePatient,
		SourceLanguage: "es-ES", OriginalText: "Sí", TargetLanguage: "en-US", TranslatedText: "Yes",
	}
	bad := good
	bad.ID, bad.TranslatedText = "t2", ""
	turns <- []store.Turn{good, bad}

	v := waitView(t, e, "turns", func(v engine.View) bool { return len(v.Turns) > 0 })
	if len(v.Turns) != 1 || v.Turns[0].ID != "t1" {
		t.Errorf("turns = %+v", v.Turns)
	}
}

func TestEngine_LanguageChangeAffectsNewUtterances(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var pairs []string
	tr := translatorFunc(func(_ context.Context, text, src, dst string) (string, error) {
		mu.Lock()
		pairs = append(pairs, src+">"+dst)
		mu.Unlock()
		return "t: " + text, nil
	})
	e := f.engine(t, f.doctor, "en-US", "es-ES", tr)

	e.SetLanguages("en-US", "fr-FR")
	_ = e.StartRecording(context.Background())
	e.HandleInterim("hello")
	waitView(t, e, "interim", hasInProgress("hello"))
	e.StopRecording()
	v := waitView(t, e, "durable", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 1 })

	if v.Turns[0].TargetLanguage != "fr-FR" || v.Viewer.TargetLanguage != "fr-FR" {
		t.Errorf("turn = %+v viewer = %+v", v.Turns[0], v.Viewer)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pairs) != 1 || pairs[0] != "en-US>fr-FR" {
		t.Errorf("translated %v", pairs)
	}
}

func TestEngine_WithRecognitionSession(t *testing.T) {
	f := newFixture(t)
	p := &sttmock.Provider{}
	dict := &dictionary{words: map[string]string{"The patient has a fever": "El paciente tiene fiebre"}}

	e, err := engine.New(engine.Config{
		Store: f.store, Translator: dict, Clock: f.clock, RoomCode: f.code,
		Self: f.doctor, SourceLanguage: "en-US", TargetLanguage: "es-ES",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.AttachRecognition(recognition.Config{Provider: p, Clock: f.clock})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if err := e.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if got := p.StartStreamCalls[0].Cfg.Language; got != "en-US" {
		t.Errorf("stream language = %q", got)
	}
	p.Last().EmitPartial("The patient")
	waitView(t, e, "partial", hasInProgress("The patient"))
	p.Last().EmitFinal("The patient has a fever")
	waitView(t, e, "final", hasInProgress("The patient has a fever"))

	e.StopRecording()
	v := waitView(t, e, "durable", func(v engine.View) bool { return kinds(v, engine.KindDurable) == 1 })
	if v.Turns[0].TranslatedText != "El paciente tiene fiebre" || len(v.Turns) != 1 {
		t.Errorf("turns = %+v", v.Turns)
	}

	// Losing the microphone mid-utterance discards it.
	if err := e.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	p.Last().EmitFinal("Any allergies")
	waitView(t, e, "final", hasInProgress("Any allergies"))
	p.Last().End(stt.ErrPermissionDenied)
	v = waitView(t, e, "capture lost", func(v engine.View) bool { return v.State == engine.Idle && v.Error != "" })
	if v.Error != "Microphone access denied." {
		t.Errorf("error = %q", v.Error)
	}
	if kinds(v, engine.KindInProgress) != 0 || dict.calls.Load() != 1 {
		t.Errorf("turns = %+v, translations = %d", v.Turns, dict.calls.Load())
	}
}

func TestEngine_RecognitionUnavailable(t *testing.T) {
	f := newFixture(t)
	e, err := engine.New(engine.Config{
		Store: f.store, Translator: &dictionary{}, Clock: f.clock, RoomCode: f.code,
		Self: f.doctor, SourceLanguage: "en-US", TargetLanguage: "es-ES",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.AttachRecognition(recognition.Config{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if err := e.StartRecording(context.Background()); !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("StartRecording = %v, want ErrUnavailable", err)
	}
	v := waitView(t, e, "error", func(v engine.View) bool { return v.Error != "" })
	if v.State != engine.Idle || v.Error != "Speech recognition is not supported." {
		t.Errorf("view = %+v", v)
	}
}
