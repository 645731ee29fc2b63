// Package engine reconciles one participant's view of a MedLingo room.
//
// An [Engine] merges four sources into a single ordered conversation:
// the local user's in-progress recognition text, the local user's finished
// utterances while they are translated and persisted, the durable turns
// delivered by the store subscription, and the other party's live-speech
// preview. Local utterances are represented by placeholders until the store
// delivers their durable version; the durable turn always wins.
//
// All state is owned by a single event loop goroutine. Inputs are posted as
// events and long-latency work (translation, store writes, speech output)
// runs in goroutines that post their completion back into the loop, so a
// completion may race with any other input without corrupting the view.
//
// The result is published as an immutable [View]. [DisplayData] and
// [PanelRows] derive what each of the two panels shows.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MrWong99/medlingo/pkg/provider/stt"
	"github.com/MrWong99/medlingo/pkg/recognition"
	"github.com/MrWong99/medlingo/pkg/store"
)

// Defaults for the zero values of [Config].
const (
	DefaultLiveDebounce   = 250 * time.Millisecond
	DefaultStaleAfter     = 10 * time.Second
	DefaultSkewTolerance  = 5 * time.Second
	DefaultRoomEndedDelay = 3 * time.Second
)

// closeTimeout bounds the final live-speech clear performed by Close.
const closeTimeout = 5 * time.Second

// ErrRoomEnded is returned by [Engine.StartRecording] once the room is gone.
var ErrRoomEnded = errors.New("engine: room has ended")

// Translator translates finished utterances. *gateway.Client implements it.
type Translator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Speaker reads text aloud. *tts.Speaker implements it.
type Speaker interface {
	Speak(ctx context.Context, text, language string) error
}

// Recognizer is the local speech recognition session. *recognition.Session
// implements it. Stop returns the accumulated final text.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() string
}

// Config configures an [Engine].
type Config struct {
	// Store is the realtime store adapter. Required.
	Store store.Store

	// Translator translates finished utterances. Required.
	Translator Translator

	// Recognizer is started and stopped with recording. When nil, the text
	// of the last HandleInterim call is taken as the finished utterance.
	Recognizer Recognizer

	// Speaker, if set, reads the other party's new turns aloud in the
	// viewer's source language.
	Speaker Speaker

	// Clock drives debounce, staleness and the room-ended delay. Defaults to
	// the real clock.
	Clock clockwork.Clock

	// RoomCode is the room to follow. Required.
	RoomCode string

	// Self is the local participant. ID is required; an empty Role or Name
	// is filled in from the roster.
	Self store.Participant

	// SourceLanguage and TargetLanguage are the viewer's selection.
	SourceLanguage string
	TargetLanguage string

	// LiveDebounce is the minimum interval between live-speech writes.
	LiveDebounce time.Duration

	// StaleAfter hides live-speech slots whose client timestamp is older.
	StaleAfter time.Duration

	// SkewTolerance is how much earlier than a placeholder a durable turn
	// may be stamped and still replace it.
	SkewTolerance time.Duration

	// RoomEndedDelay is the pause between a room-lifecycle failure and the
	// OnRoomEnded callback.
	RoomEndedDelay time.Duration

	// OnRoomEnded is called once, after RoomEndedDelay, when the room ended,
	// vanished or could not be followed. Typically it returns the user to
	// the entry screen. May be nil.
	OnRoomEnded func()
}

// View is an immutable snapshot of the engine's output.
type View struct {
	State        State
	Turns        []Entry
	Speaking     []store.LiveSpeech
	Error        string
	RoomEnded    bool
	Participants []store.Participant
	Viewer       Viewer
}

// Engine is the turn reconciliation engine of one participant.
// All methods are safe for concurrent use.
type Engine struct {
	store       store.Store
	translator  Translator
	recognizer  Recognizer
	speaker     Speaker
	clock       clockwork.Clock
	code        string
	debounce    time.Duration
	staleAfter  time.Duration
	skew        time.Duration
	endedDelay  time.Duration
	onRoomEnded func()

	events   chan event
	updates  chan View
	view     atomic.Pointer[View]
	quit     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state         State
	self          store.Participant
	src, dst      string
	durable       []store.Turn
	placeholders  []Placeholder
	interim       string
	outstanding   int
	slots         []store.LiveSpeech
	roster        store.Room
	errMsg        string
	roomEnded     bool
	endedTimer    clockwork.Timer
	liveSeq       uint64
	liveText      string
	liveDirty     bool
	livePublished bool
	liveTimer     clockwork.Timer
	liveGen       uint64
	staleTimer    clockwork.Timer
	spoken        map[string]bool
	primed        bool
}

// New validates cfg and returns an engine that has not started yet.
func New(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Translator == nil {
		errs = append(errs, errors.New("translator is required"))
	}
	if strings.TrimSpace(cfg.RoomCode) == "" {
		errs = append(errs, errors.New("room code is required"))
	}
	if strings.TrimSpace(cfg.Self.ID) == "" {
		errs = append(errs, errors.New("participant id is required"))
	}
	if cfg.SourceLanguage == "" || cfg.TargetLanguage == "" {
		errs = append(errs, errors.New("source and target language are required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("engine: invalid config: %w", errors.Join(errs...))
	}

	e := &Engine{
		store:       cfg.Store,
		translator:  cfg.Translator,
		recognizer:  cfg.Recognizer,
		speaker:     cfg.Speaker,
		clock:       cfg.Clock,
		code:        store.NormalizeCode(cfg.RoomCode),
		debounce:    orDefault(cfg.LiveDebounce, DefaultLiveDebounce),
		staleAfter:  orDefault(cfg.StaleAfter, DefaultStaleAfter),
		skew:        orDefault(cfg.SkewTolerance, DefaultSkewTolerance),
		endedDelay:  orDefault(cfg.RoomEndedDelay, DefaultRoomEndedDelay),
		onRoomEnded: cfg.OnRoomEnded,
		events:      make(chan event, 64),
		updates:     make(chan View, 1),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		self:        cfg.Self,
		src:         cfg.SourceLanguage,
		dst:         cfg.TargetLanguage,
		spoken:      make(map[string]bool),
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	v := e.snapshot()
	e.view.Store(&v)
	return e, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Start subscribes to the room and starts the event loop. It fails when a
// subscription cannot be opened, e.g. with store.ErrRoomNotFound. Inputs
// must not be sent before Start returns.
func (e *Engine) Start(ctx context.Context) error {
	err := errors.New("engine: already started")
	e.startOnce.Do(func() { err = e.start(ctx) })
	return err
}

func (e *Engine) start(ctx context.Context) error {
	// Subscriptions live as long as the engine, not as long as ctx.
	subCtx := e.ctx
	if err := ctx.Err(); err != nil {
		return err
	}

	roster, err := e.store.SubscribeRoster(subCtx, e.code)
	if err != nil {
		return fmt.Errorf("engine: subscribe roster: %w", err)
	}
	turns, err := e.store.SubscribeTurns(subCtx, e.code)
	if err != nil {
		e.cancel()
		return fmt.Errorf("engine: subscribe turns: %w", err)
	}
	live, err := e.store.SubscribeLiveSpeech(subCtx, e.code)
	if err != nil {
		e.cancel()
		return fmt.Errorf("engine: subscribe live speech: %w", err)
	}

	e.started.Store(true)
	go e.run()
	e.wg.Go(func() { forward(e, "roster", roster, func(r store.Room) event { return rosterEvent{r} }) })
	e.wg.Go(func() { forward(e, "turns", turns, func(t []store.Turn) event { return turnsEvent{t} }) })
	e.wg.Go(func() { forward(e, "live", live, func(s []store.LiveSpeech) event { return liveEvent{s} }) })

	slog.Info("engine started", "room", e.code, "participant", e.self.ID)
	return nil
}

// forward posts every snapshot of ch into the loop. A subscription that
// ends while the engine is running means the room can no longer be
// followed.
func forward[T any](e *Engine, topic string, ch <-chan T, wrap func(T) event) {
	for v := range ch {
		e.post(wrap(v))
	}
	if e.ctx.Err() == nil {
		e.post(subscriptionClosedEvent{topic: topic})
	}
}

// Close stops the engine. It stops recording, waits for in-flight work to
// finish or abort and clears the local live-speech slot.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.quit)
		if e.started.Load() {
			<-e.loopDone
		}
		if e.recognizer != nil {
			e.recognizer.Stop()
		}
		e.cancel()
		e.wg.Wait()

		for _, t := range []clockwork.Timer{e.liveTimer, e.staleTimer, e.endedTimer} {
			if t != nil {
				t.Stop()
			}
		}
		if e.livePublished {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if cerr := e.store.ClearLiveSpeech(ctx, e.code, e.self.ID); cerr != nil {
				err = fmt.Errorf("engine: clear live speech: %w", cerr)
			}
		}
		close(e.updates)
		slog.Info("engine closed", "room", e.code, "participant", e.self.ID)
	})
	return err
}

// View returns the latest snapshot.
func (e *Engine) View() View { return *e.view.Load() }

// Updates delivers a new View after every change. Only the latest
// undelivered view is kept. The channel is closed by Close.
func (e *Engine) Updates() <-chan View { return e.updates }

// StartRecording starts a new utterance. With a Recognizer configured it
// also starts the recognition session and returns its error, which is
// surfaced in the view as well.
func (e *Engine) StartRecording(ctx context.Context) error {
	if e.View().RoomEnded {
		return ErrRoomEnded
	}
	e.post(startEvent{})
	if e.recognizer == nil {
		return nil
	}
	if err := e.recognizer.Start(ctx); err != nil {
		e.post(captureLostEvent{err: err})
		return fmt.Errorf("engine: start recording: %w", err)
	}
	return nil
}

// StopRecording finishes the current utterance and sends it for
// translation. It waits for the recognizer to flush.
func (e *Engine) StopRecording() {
	ev := stopEvent{}
	if e.recognizer != nil {
		ev.text, ev.recognized = e.recognizer.Stop(), true
	}
	e.post(ev)
}

// HandleInterim receives the full known text of the current utterance.
func (e *Engine) HandleInterim(text string) { e.post(interimEvent{text: text}) }

// HandleRecognitionError receives a capability error from the recognizer.
// Transient errors are only logged.
func (e *Engine) HandleRecognitionError(err error) { e.post(recognitionErrorEvent{err: err}) }

// HandleRecognitionEnded tells the engine that recognition stopped on its
// own. The current utterance is discarded.
func (e *Engine) HandleRecognitionEnded(err error) { e.post(captureLostEvent{err: err}) }

// AttachRecognition builds a recognition session whose callbacks feed this
// engine and makes it the engine's Recognizer. It must be called before
// Start.
func (e *Engine) AttachRecognition(cfg recognition.Config) *recognition.Session {
	cfg.OnText = e.HandleInterim
	cfg.OnError = e.HandleRecognitionError
	cfg.OnStateChange = func(s recognition.State, err error) {
		if s == recognition.Idle && err != nil {
			e.HandleRecognitionEnded(err)
		}
	}
	if cfg.Language == "" {
		cfg.Language = e.src
	}
	sess := recognition.New(cfg)
	e.recognizer = sess
	return sess
}

// SetLanguages changes the viewer's language selection. It affects
// utterances started from now on and the panel layout.
func (e *Engine) SetLanguages(src, dst string) { e.post(languagesEvent{src: src, dst: dst}) }

// DismissError clears the error surface.
func (e *Engine) DismissError() { e.post(dismissEvent{}) }

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}

// async runs f on a tracked goroutine with the engine context.
func (e *Engine) async(f func(ctx context.Context)) {
	e.wg.Go(func() { f(e.ctx) })
}

func (e *Engine) run() {
	defer close(e.loopDone)
	e.publish()
	for {
		select {
		case ev := <-e.events:
			e.handle(ev)
			e.publish()
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case startEvent:
		e.onStart()
	case interimEvent:
		e.onInterim(ev.text)
	case stopEvent:
		e.onStop(ev)
	case captureLostEvent:
		e.onCaptureLost(ev.err)
	case recognitionErrorEvent:
		e.onRecognitionError(ev.err)
	case translationDoneEvent:
		e.onTranslationDone(ev)
	case appendDoneEvent:
		e.onAppendDone(ev)
	case turnsEvent:
		e.onTurns(ev.turns)
	case liveEvent:
		e.slots = ev.slots
		e.scheduleStaleTick()
	case staleTickEvent:
		e.staleTimer = nil
		e.scheduleStaleTick()
	case liveFlushEvent:
		e.onLiveFlush(ev.gen)
	case rosterEvent:
		e.onRoster(ev.room)
	case subscriptionClosedEvent:
		slog.Warn("engine: subscription ended", "room", e.code, "topic", ev.topic)
		if !e.roomEnded {
			e.roomLost(msgRoomLost)
		}
	case languagesEvent:
		e.src, e.dst = ev.src, ev.dst
	case dismissEvent:
		e.errMsg = ""
	default:
		slog.Error("engine: unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) setState(in input) {
	next := transition(e.state, in, e.outstanding)
	if next != e.state {
		slog.Debug("engine state", "from", e.state, "to", next, "input", in)
		e.state = next
	}
}

func (e *Engine) setError(msg string) {
	e.errMsg = msg
}

func (e *Engine) onStart() {
	if e.roomEnded {
		e.setError(msgRoomEnded)
		e.stopRecognizer()
		return
	}
	e.removeInProgress()
	e.interim = ""
	e.errMsg = ""
	e.setState(inputStart)
}

func (e *Engine) onInterim(text string) {
	if e.state != Recording {
		return
	}
	text = strings.TrimSpace(text)
	e.interim = text
	if text == "" {
		return
	}
	if i := e.inProgressIndex(); i >= 0 {
		e.placeholders[i].Turn.OriginalText = text
	} else {
		e.placeholders = append(e.placeholders, newInProgress(text, e.self, e.src, e.dst, e.clock.Now()))
	}
	e.queueLive(text)
}

// onStop removes the in-progress placeholder before any translation starts
// so that a quick stop/start cannot leave it behind.
func (e *Engine) onStop(ev stopEvent) {
	if e.state != Recording {
		return
	}
	text := e.interim
	if ev.recognized {
		text = ev.text
	}
	text = strings.TrimSpace(text)

	e.removeInProgress()
	e.interim = ""
	e.clearLive()

	if text == "" {
		e.setState(inputStop)
		return
	}
	ph := newTranslating(text, e.self, e.src, e.dst, e.clock.Now(), e.durable)
	e.placeholders = append(e.placeholders, ph)
	e.outstanding++
	e.setState(inputStop)

	id, src, dst := ph.Turn.ID, ph.Turn.SourceLanguage, ph.Turn.TargetLanguage
	e.async(func(ctx context.Context) {
		translation, err := e.translator.Translate(ctx, text, src, dst)
		e.post(translationDoneEvent{id: id, translation: translation, err: err})
	})
}

func (e *Engine) onCaptureLost(err error) {
	if e.state == Recording {
		e.removeInProgress()
		e.interim = ""
		e.clearLive()
		e.setState(inputCaptureLost)
	}
	if err != nil {
		slog.Warn("engine: recognition stopped", "room", e.code, "error", err)
		e.setError(recognition.UserMessage(err))
	}
}

func (e *Engine) onRecognitionError(err error) {
	if stt.IsTransient(err) {
		slog.Debug("engine: transient recognition error", "error", err)
		return
	}
	slog.Warn("engine: recognition error", "error", err)
	e.setError(recognition.UserMessage(err))
}

func (e *Engine) onTranslationDone(ev translationDoneEvent) {
	e.outstanding--
	defer e.setState(inputTranslationDone)

	i := e.placeholderIndex(ev.id)
	if i < 0 {
		return
	}
	err := ev.err
	translation := strings.TrimSpace(ev.translation)
	if err == nil && translation == "" {
		err = errEmptyTranslation
	}
	if err != nil {
		slog.Warn("engine: translation failed", "room", e.code, "placeholder", ev.id, "error", err)
		e.placeholders = slices.Delete(e.placeholders, i, i+1)
		e.setError(translationMessage(err))
		return
	}

	e.placeholders[i].Submitted = true
	turn := e.placeholders[i].Turn
	turn.ID = ""
	turn.Timestamp = time.Time{}
	turn.TranslatedText = translation
	turn.RequestKey = ev.id
	e.async(func(ctx context.Context) {
		stored, err := e.store.AppendTurn(ctx, e.code, turn)
		e.post(appendDoneEvent{id: ev.id, turn: stored, err: err})
	})
}

func (e *Engine) onAppendDone(ev appendDoneEvent) {
	i := e.placeholderIndex(ev.id)
	if ev.err != nil {
		slog.Warn("engine: persist turn failed", "room", e.code, "placeholder", ev.id, "error", ev.err)
		if i >= 0 {
			e.placeholders = slices.Delete(e.placeholders, i, i+1)
		}
		if msg, ok := roomFailure(ev.err); ok {
			e.roomLost(msg)
			return
		}
		e.setError(msgSaveFailed)
		return
	}
	if i >= 0 {
		e.placeholders[i].AckID = ev.turn.ID
		e.placeholders = Converge(e.durable, e.placeholders, e.skew)
	}
}

func (e *Engine) onTurns(turns []store.Turn) {
	valid, dropped := validDurable(turns)
	for _, err := range dropped {
		slog.Warn("engine: dropped invalid turn", "room", e.code, "error", err)
	}
	e.durable = valid
	e.placeholders = Converge(e.durable, e.placeholders, e.skew)
	e.speakNew()
}

// speakNew reads out turns of the other party that arrived after the first
// snapshot. History present at start is never read.
func (e *Engine) speakNew() {
	viewer := e.viewer()
	for _, t := range e.durable {
		if e.spoken[t.ID] {
			continue
		}
		e.spoken[t.ID] = true
		if !e.primed || e.speaker == nil || t.SpeakerID == e.self.ID {
			continue
		}
		text, lang := DisplayData(t, viewer).Left, viewer.SourceLanguage
		e.async(func(ctx context.Context) {
			if err := e.speaker.Speak(ctx, text, lang); err != nil && ctx.Err() == nil {
				slog.Warn("engine: speak turn", "turn", t.ID, "error", err)
			}
		})
	}
	e.primed = true
}

func (e *Engine) onRoster(room store.Room) {
	e.roster = room
	if p, ok := room.Participant(e.self.ID); ok {
		if e.self.Role == "" {
			e.self.Role = p.Role
		}
		if e.self.Name == "" {
			e.self.Name = p.Name
		}
	}
	if room.Ended && !e.roomEnded {
		e.roomLost(msgRoomEnded)
	}
}

// roomLost handles a room-lifecycle failure: recording stops, the error is
// shown and OnRoomEnded fires after the configured delay.
func (e *Engine) roomLost(msg string) {
	slog.Warn("engine: room lost", "room", e.code, "reason", msg)
	e.roomEnded = true
	e.setError(msg)
	if e.state == Recording {
		e.removeInProgress()
		e.interim = ""
		e.clearLive()
		e.setState(inputCaptureLost)
		e.stopRecognizer()
	}
	if e.onRoomEnded != nil && e.endedTimer == nil {
		e.endedTimer = e.clock.AfterFunc(e.endedDelay, e.onRoomEnded)
	}
}

// stopRecognizer must not block the loop: Stop waits for the recognizer's
// callbacks, which post into the loop.
func (e *Engine) stopRecognizer() {
	if e.recognizer != nil {
		e.wg.Go(func() { e.recognizer.Stop() })
	}
}

// queueLive schedules a live-speech write of text. Writes happen at most
// once per debounce interval and always carry the latest text.
func (e *Engine) queueLive(text string) {
	e.liveText = text
	e.liveDirty = true
	if e.liveTimer != nil {
		return
	}
	gen := e.liveGen
	e.liveTimer = e.clock.AfterFunc(e.debounce, func() { e.post(liveFlushEvent{gen: gen}) })
}

func (e *Engine) onLiveFlush(gen uint64) {
	if gen != e.liveGen {
		return
	}
	e.liveTimer = nil
	if !e.liveDirty || e.state != Recording {
		return
	}
	e.liveDirty = false
	e.writeLive(e.liveText)
	e.livePublished = true
}

// clearLive cancels a pending write and empties the slot. The clear is an
// ordinary write with a higher sequence number so that a slower earlier
// write cannot bring the slot back.
func (e *Engine) clearLive() {
	if e.liveTimer != nil {
		e.liveTimer.Stop()
		e.liveTimer = nil
	}
	e.liveGen++
	e.liveDirty = false
	if !e.livePublished {
		return
	}
	e.livePublished = false
	e.writeLive("")
}

func (e *Engine) writeLive(text string) {
	e.liveSeq++
	ls := store.LiveSpeech{
		SpeakerID:      e.self.ID,
		SpeakerName:    e.self.Name,
		SpeakerRole:    e.self.Role,
		SourceLanguage: e.src,
		TargetLanguage: e.dst,
		Text:           text,
		Seq:            e.liveSeq,
		UpdatedAt:      e.clock.Now(),
	}
	e.async(func(ctx context.Context) {
		if err := e.store.SetLiveSpeech(ctx, e.code, ls); err != nil && ctx.Err() == nil {
			slog.Warn("engine: publish live speech", "room", e.code, "seq", ls.Seq, "error", err)
		}
	})
}

// speaking returns the other party's visible live-speech slots.
func (e *Engine) speaking(now time.Time) []store.LiveSpeech {
	var out []store.LiveSpeech
	for _, ls := range e.slots {
		if ls.SpeakerID == e.self.ID || strings.TrimSpace(ls.Text) == "" {
			continue
		}
		if now.Sub(ls.UpdatedAt) > e.staleAfter {
			continue
		}
		out = append(out, ls)
	}
	return out
}

// scheduleStaleTick arranges for a re-render when the next visible slot
// goes stale, so it disappears even if nothing else happens.
func (e *Engine) scheduleStaleTick() {
	if e.staleTimer != nil {
		e.staleTimer.Stop()
		e.staleTimer = nil
	}
	now := e.clock.Now()
	var next time.Time
	for _, ls := range e.speaking(now) {
		if exp := ls.UpdatedAt.Add(e.staleAfter); next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	if next.IsZero() {
		return
	}
	e.staleTimer = e.clock.AfterFunc(next.Sub(now)+time.Nanosecond, func() { e.post(staleTickEvent{}) })
}

func (e *Engine) inProgressIndex() int {
	return slices.IndexFunc(e.placeholders, func(p Placeholder) bool { return p.Kind == KindInProgress })
}

func (e *Engine) placeholderIndex(id string) int {
	return slices.IndexFunc(e.placeholders, func(p Placeholder) bool { return p.Turn.ID == id })
}

func (e *Engine) removeInProgress() {
	e.placeholders = slices.DeleteFunc(e.placeholders, func(p Placeholder) bool { return p.Kind == KindInProgress })
}

func (e *Engine) viewer() Viewer {
	return Viewer{ID: e.self.ID, SourceLanguage: e.src, TargetLanguage: e.dst}
}

func (e *Engine) snapshot() View {
	return View{
		State:        e.state,
		Turns:        Merge(e.durable, e.placeholders),
		Speaking:     e.speaking(e.clock.Now()),
		Error:        e.errMsg,
		RoomEnded:    e.roomEnded,
		Participants: slices.Clone(e.roster.Participants),
		Viewer:       e.viewer(),
	}
}

// publish stores the new view and replaces any undelivered one.
func (e *Engine) publish() {
	v := e.snapshot()
	e.view.Store(&v)
	select {
	case e.updates <- v:
		return
	default:
	}
	select {
	case <-e.updates:
	default:
	}
	e.updates <- v
}
