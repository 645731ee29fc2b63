package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/medlingo/pkg/provider/tts"
)

func TestBuildURL(t *testing.T) {
	p, _ := New("key")
	u, err := url.Parse(p.buildURL(tts.VoiceProfile{ID: "voice-abc123", Language: "es-MX"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" || !strings.HasSuffix(u.Path, "/voice-abc123/stream-input") {
		t.Errorf("url = %s", u)
	}
	q := u.Query()
	if q.Get("model_id") != defaultModel || q.Get("output_format") != defaultOutputFmt || q.Get("language_code") != "es" {
		t.Errorf("query = %v", q)
	}

	u, _ = url.Parse(p.buildURL(tts.VoiceProfile{ID: "v"}))
	if _, ok := u.Query()["language_code"]; ok {
		t.Error("language_code set for a voice without language")
	}
}

func TestToProfiles(t *testing.T) {
	raw := []byte(`{"voices":[
		{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"gender":"female"},
		 "verified_languages":[{"language":"en","locale":"en-US"},{"language":"es","locale":"es-MX"}]},
		{"voice_id":"x1","name":"Ghost","category":"","labels":null}
	]}`)
	var vr voicesResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	profiles := toProfiles(vr)
	if len(profiles) != 3 {
		t.Fatalf("profiles = %+v", profiles)
	}
	if profiles[0].Language != "en-US" || profiles[1].Language != "es-MX" || profiles[1].ID != "abc123" {
		t.Errorf("verified profiles = %+v", profiles[:2])
	}
	if profiles[0].Metadata["category"] != "premade" || profiles[0].Metadata["gender"] != "female" {
		t.Errorf("metadata = %v", profiles[0].Metadata)
	}
	if profiles[2].Language != "" {
		t.Errorf("unverified voice should stay multilingual: %+v", profiles[2])
	}
	if _, ok := profiles[2].Metadata["category"]; ok {
		t.Error("empty category should not appear in metadata")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Aria"}]}`))
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURLs("ws://unused", srv.URL+"/v1"))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}

	p, _ = New("wrong", WithBaseURLs("ws://unused", srv.URL+"/v1"))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected error for rejected key")
	}
}

func TestSynthesizeStream(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	got := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var texts []string
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			text, _ := m["text"].(string)
			if text == "" {
				break
			}
			texts = append(texts, text)
		}
		got <- texts

		audio, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(pcm)})
		_ = conn.Write(ctx, websocket.MessageText, audio)
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, final)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, _ := New("key", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Tome una tableta al día"
	close(text)
	audio, err := p.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: "v1", Language: "es-ES"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	var out []byte
	for chunk := range audio {
		out = append(out, chunk...)
	}
	if string(out) != string(pcm) {
		t.Errorf("audio = %v, want %v", out, pcm)
	}
	texts := <-got
	// texts[0] is the BOI handshake.
	if len(texts) != 2 || texts[1] != "Tome una tableta al día " {
		t.Errorf("server received %q", texts)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" || p.outputFormat != "pcm_24000" {
		t.Errorf("options not applied: %+v", p)
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), nil, tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}
