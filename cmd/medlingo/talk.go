package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/medlingo/internal/config"
	"github.com/MrWong99/medlingo/pkg/engine"
	"github.com/MrWong99/medlingo/pkg/gateway"
	"github.com/MrWong99/medlingo/pkg/language"
	"github.com/MrWong99/medlingo/pkg/provider/tts"
	"github.com/MrWong99/medlingo/pkg/recognition"
	"github.com/MrWong99/medlingo/pkg/store"
	"github.com/MrWong99/medlingo/pkg/store/remote"
)

// audioChunkSize is 100ms of 16 kHz mono PCM16.
const audioChunkSize = 3200

const talkHelp = `commands:
  <text>          send a typed utterance
  /rec            start or stop speech recognition
  /lang SRC DST   change your spoken and translated languages
  /languages      list supported languages
  /dismiss        clear the current error
  /end            end the conversation for both parties
  /quit           leave the room`

type talkFlags struct {
	server   string
	room     string
	name     string
	role     string
	src      string
	dst      string
	audioIn  string
	audioOut string
}

func registerTalkFlags(fs *flag.FlagSet) *talkFlags {
	f := &talkFlags{}
	fs.StringVar(&f.server, "server", "", "MedLingo server base URL (default from client.server_url)")
	fs.StringVar(&f.room, "room", "", "room code to join; empty creates a new room")
	fs.StringVar(&f.name, "name", "", "display name")
	fs.StringVar(&f.role, "role", "", "doctor or patient (ignored when joining)")
	fs.StringVar(&f.src, "src", "", "language you speak, e.g. en-US")
	fs.StringVar(&f.dst, "dst", "", "language to translate into, e.g. es-ES")
	fs.StringVar(&f.audioIn, "audio-in", "", "raw 16-bit PCM input (file, FIFO or device) for speech recognition")
	fs.StringVar(&f.audioOut, "audio-out", "", "raw PCM output for spoken translations")
	return f
}

// resolve fills unset flags from the client section of the config.
func (f *talkFlags) resolve(c config.ClientConfig) error {
	f.server = firstNonEmpty(f.server, c.ServerURL, "http://localhost"+config.DefaultListenAddr)
	f.name = firstNonEmpty(f.name, c.Name, "Guest")
	f.role = firstNonEmpty(f.role, string(c.Role), string(store.RoleDoctor))
	f.src = firstNonEmpty(f.src, c.SourceLanguage, language.DefaultSource)
	f.dst = firstNonEmpty(f.dst, c.TargetLanguage, language.DefaultTarget)
	if !store.Role(f.role).Valid() {
		return fmt.Errorf("talk: invalid role %q", f.role)
	}
	for _, code := range []string{f.src, f.dst} {
		if !language.Known(code) {
			slog.Warn("language not in catalogue", "code", code)
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// runTalk joins or creates a room on a MedLingo server and runs an
// interactive participant on the terminal.
func runTalk(ctx context.Context, cfg *config.Config, reg *config.Registry, f *talkFlags) error {
	if err := f.resolve(cfg.Client); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := remote.New(f.server)
	self := store.Participant{ID: uuid.NewString(), Name: f.name, Role: store.Role(f.role)}

	code := strings.ToUpper(strings.TrimSpace(f.room))
	if code == "" {
		room, err := st.CreateRoom(ctx, self)
		if err != nil {
			return fmt.Errorf("talk: create room: %w", err)
		}
		code = room.Code
		fmt.Printf("Room %s created. Share the code with the other party.\n", code)
	} else {
		joined, err := st.JoinRoom(ctx, code, self)
		if err != nil {
			return fmt.Errorf("talk: join room %s: %w", code, err)
		}
		self = joined
		fmt.Printf("Joined room %s as %s.\n", code, self.Role)
	}
	defer func() {
		lctx, lcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer lcancel()
		if err := st.LeaveRoom(lctx, code, self.ID); err != nil && !errors.Is(err, store.ErrRoomEnded) {
			slog.Warn("leave room", "room", code, "err", err)
		}
	}()

	ecfg := engine.Config{
		Store:          st,
		Translator:     gateway.NewClient(f.server),
		RoomCode:       code,
		Self:           self,
		SourceLanguage: f.src,
		TargetLanguage: f.dst,
		OnRoomEnded:    cancel,
	}
	if speaker, closeSink, err := openSpeaker(cfg, reg, f.audioOut); err != nil {
		slog.Warn("spoken translations disabled", "err", err)
	} else if speaker != nil {
		defer closeSink()
		ecfg.Speaker = speaker
	}

	e, err := engine.New(ecfg)
	if err != nil {
		return err
	}
	var sess *recognition.Session
	if cfg.Providers.STT.Name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			slog.Warn("speech recognition disabled; falling back to typed input", "err", err)
		} else {
			sess = e.AttachRecognition(recognition.Config{Provider: p})
		}
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()

	go render(os.Stdout, e.Updates())
	if sess != nil && f.audioIn != "" {
		go pumpAudio(ctx, sess, f.audioIn)
	}

	fmt.Printf("Speaking %s, reading %s. Type /help for commands.\n", language.Label(f.src), language.Label(f.dst))
	lines := readLines(ctx, os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := talkCommand(ctx, e, sess, st, code, line); quit {
				return nil
			}
		}
	}
}

// talkCommand executes one line of user input and reports whether the
// client should exit.
func talkCommand(ctx context.Context, e *engine.Engine, sess *recognition.Session, st store.Store, code, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if sess != nil {
			fmt.Println("Speech recognition is active; use /rec to talk.")
			return false
		}
		// Without a recognizer a typed line is a whole utterance.
		if err := e.StartRecording(ctx); err != nil {
			fmt.Println(err)
			return false
		}
		e.HandleInterim(line)
		e.StopRecording()
		return false
	}

	cmd, args, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/help":
		fmt.Println(talkHelp)
	case "/languages":
		for _, l := range language.All() {
			fmt.Printf("  %-6s %s\n", l.Code, l.Label)
		}
	case "/rec":
		if sess == nil {
			fmt.Println("Speech recognition is not configured.")
			return false
		}
		if e.View().State == engine.Recording {
			e.StopRecording()
			return false
		}
		if err := e.StartRecording(ctx); err != nil {
			fmt.Println(err)
		}
	case "/lang":
		fields := strings.Fields(args)
		if len(fields) != 2 {
			fmt.Println("usage: /lang SRC DST")
			return false
		}
		e.SetLanguages(fields[0], fields[1])
		if sess != nil {
			sess.SetLanguage(fields[0])
		}
		fmt.Printf("Speaking %s, reading %s.\n", language.Label(fields[0]), language.Label(fields[1]))
	case "/dismiss":
		e.DismissError()
	case "/end":
		if err := st.EndRoom(ctx, code); err != nil {
			fmt.Println("Could not end the conversation:", err)
		}
	default:
		fmt.Printf("unknown command %q; type /help\n", cmd)
	}
	return false
}

// openSpeaker builds a speaker writing to path when both an output and a
// TTS provider are configured. It returns a nil speaker otherwise.
func openSpeaker(cfg *config.Config, reg *config.Registry, path string) (*tts.Speaker, func(), error) {
	if path == "" || cfg.Providers.TTS.Name == "" {
		return nil, nil, nil
	}
	p, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, nil, err
	}
	out, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("talk: audio output: %w", err)
	}
	return tts.NewSpeaker(p, out), func() { _ = out.Close() }, nil
}

// readLines forwards lines from r until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// render prints each durable turn once, plus changes to the other party's
// live speech and to the error surface.
func render(w io.Writer, updates <-chan engine.View) {
	printed := make(map[string]bool)
	var lastSpeaking, lastErr string
	for v := range updates {
		for _, row := range engine.PanelRows(v, v.Viewer) {
			if row.Kind != engine.KindDurable || printed[row.ID] {
				continue
			}
			printed[row.ID] = true
			who := row.SpeakerName
			if row.Own {
				who = "you"
			}
			fmt.Fprintf(w, "[%s] %s (%s)\n    %s\n    %s\n",
				row.Timestamp.Local().Format("15:04:05"), who, row.SpeakerRole, row.Left, row.Right)
		}

		var speaking []string
		for _, ls := range v.Speaking {
			speaking = append(speaking, ls.SpeakerName+": "+ls.Text)
		}
		if s := strings.Join(speaking, " | "); s != lastSpeaking {
			if s != "" {
				fmt.Fprintf(w, "  ... %s\n", s)
			}
			lastSpeaking = s
		}

		if v.Error != lastErr {
			if v.Error != "" {
				fmt.Fprintf(w, "! %s\n", v.Error)
			}
			lastErr = v.Error
		}
		if v.RoomEnded {
			fmt.Fprintln(w, "The conversation has ended.")
			return
		}
	}
}

// pumpAudio streams raw PCM from path into sess. Chunks read while the
// session is not recording are dropped. Reads pace the stream, so path
// should be a FIFO or capture device rather than a regular file.
func pumpAudio(ctx context.Context, sess *recognition.Session, path string) {
	in, err := os.Open(path)
	if err != nil {
		slog.Error("open audio input", "path", path, "err", err)
		return
	}
	defer in.Close()

	buf := make([]byte, audioChunkSize)
	for ctx.Err() == nil {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if serr := sess.SendAudio(chunk); serr != nil && !errors.Is(serr, recognition.ErrNotRecording) {
				slog.Warn("send audio", "err", serr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Error("read audio input", "path", path, "err", err)
			}
			return
		}
	}
}
