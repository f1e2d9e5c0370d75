package openai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/callpilot/pkg/provider/tts"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk", "", WithSpeed(9)); err == nil {
		t.Error("expected error for out-of-range speed")
	}
	p, err := New("sk", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.model != defaultModel || p.voice != defaultVoice {
		t.Errorf("defaults = %q/%q", p.model, p.voice)
	}
}

func TestSynthesize_RequestsPCM(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
			return
		}
		data, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		bodies <- m
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write([]byte{1, 2, 3, 4, 5})
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini-tts", WithBaseURL(srv.URL), WithVoice("coral"))
	if err != nil {
		t.Fatal(err)
	}
	sp, err := p.Synthesize(t.Context(), tts.Request{Text: " Thanks for calling. "})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(sp.PCM) != 4 {
		t.Errorf("PCM length = %d, want 4 (sample aligned)", len(sp.PCM))
	}
	if sp.Format.SampleRate != 24000 || sp.Format.Channels != 1 {
		t.Errorf("Format = %+v", sp.Format)
	}

	body := <-bodies
	if body["response_format"] != "pcm" || body["voice"] != "coral" || body["input"] != "Thanks for calling." {
		t.Errorf("request body = %v", body)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad voice"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("sk-test", "")
	if _, err := p.Synthesize(t.Context(), tts.Request{Text: ""}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}
}
