package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/callpilot/pkg/provider/tts"
)

// ---- helpers ----

// fakeServer accepts one stream-input session, records the text frames and
// answers with the given audio chunks followed by isFinal.
func fakeServer(t *testing.T, chunks [][]byte) (*httptest.Server, <-chan []textMessage, <-chan string) {
	t.Helper()
	frames := make(chan []textMessage, 1)
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.String()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		var got []textMessage
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			got = append(got, m)
			if m.Text == "" {
				break
			}
		}
		frames <- got

		for _, ch := range chunks {
			b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(ch)})
			_ = c.Write(ctx, websocket.MessageText, b)
		}
		b, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = c.Write(ctx, websocket.MessageText, b)
		_, _, _ = c.Read(ctx)
	}))
	t.Cleanup(srv.Close)
	return srv, frames, paths
}

func wsOrigin(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ---- Synthesize ----

func TestSynthesize_CollectsAudioUntilFinal(t *testing.T) {
	t.Parallel()

	srv, frames, paths := fakeServer(t, [][]byte{{1, 0, 2, 0}, {3, 0}})
	p, err := New("key", WithEndpoint(wsOrigin(srv)), WithVoice("voice-1"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatal(err)
	}

	sp, err := p.Synthesize(t.Context(), tts.Request{Text: "Hello caller"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(sp.PCM) != string([]byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("PCM = %v", sp.PCM)
	}
	if sp.Format.SampleRate != 24000 || sp.Format.Channels != 1 {
		t.Errorf("Format = %+v", sp.Format)
	}

	got := <-frames
	if len(got) != 3 {
		t.Fatalf("want 3 text frames (BOI, text, flush), got %d", len(got))
	}
	if got[0].XiAPIKey != "key" || got[0].VoiceSettings == nil {
		t.Errorf("BOI frame = %+v", got[0])
	}
	if strings.TrimSpace(got[1].Text) != "Hello caller" {
		t.Errorf("text frame = %+v", got[1])
	}
	path := <-paths
	if !strings.Contains(path, "/v1/text-to-speech/voice-1/stream-input") || !strings.Contains(path, "output_format=pcm_24000") {
		t.Errorf("path = %s", path)
	}
}

func TestSynthesize_RequestVoiceOverridesDefault(t *testing.T) {
	t.Parallel()

	srv, _, paths := fakeServer(t, [][]byte{{0, 0}})
	p, _ := New("key", WithEndpoint(wsOrigin(srv)), WithVoice("default"))
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: "hi", Voice: "special"}); err != nil {
		t.Fatal(err)
	}
	if path := <-paths; !strings.Contains(path, "/special/") {
		t.Errorf("path = %s", path)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithVoice("v"))
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: "   "}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error without a voice")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_RejectsNonPCMFormat(t *testing.T) {
	t.Parallel()
	for _, f := range []string{"mp3_44100_128", "pcm_", "pcm_abc"} {
		if _, err := New("key", WithOutputFormat(f)); err == nil {
			t.Errorf("%s: expected error", f)
		}
	}
}
