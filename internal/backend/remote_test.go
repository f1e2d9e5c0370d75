package backend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemote_RespondRoundTrip(t *testing.T) {
	t.Parallel()

	type seen struct {
		path, auth, session string
		body               remoteRequest
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body remoteRequest
		_ = json.Unmarshal(data, &body)
		got <- seen{r.URL.Path, r.Header.Get("Authorization"), r.Header.Get("X-Session-ID"), body}
		_ = json.NewEncoder(w).Encode(remoteReply{Text: "Sure.", Audio: []byte{1, 0, 2, 0}, SampleRate: 16000})
	}))
	defer srv.Close()

	r, err := NewRemote(srv.URL+"/", WithAuthToken("tok"))
	if err != nil {
		t.Fatal(err)
	}
	rep, err := r.Respond(t.Context(), Request{UtteranceText: "Book a table", SessionID: "s-1"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Text != "Sure." || len(rep.Audio) != 4 || rep.SampleRate != 16000 {
		t.Fatalf("reply = %+v", rep)
	}
	s := <-got
	if s.path != "/respond" || s.auth != "Bearer tok" || s.session != "s-1" || s.body.Utterance != "Book a table" {
		t.Fatalf("server saw %+v", s)
	}
}

func TestRemote_Greeting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/greeting" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(remoteReply{Text: "Hello", Audio: []byte{0, 0}, SampleRate: 8000})
	}))
	defer srv.Close()

	r, _ := NewRemote(srv.URL)
	rep, err := r.Greeting(t.Context(), "s")
	if err != nil || rep.Text != "Hello" {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestRemote_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		is      error
	}{
		{"server error with message", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(remoteReply{Error: "llm timeout"})
		}, nil},
		{"non-json failure", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, nil},
		{"no audio", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(remoteReply{Text: "hi"})
		}, ErrNoAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			r, _ := NewRemote(srv.URL)
			_, err := r.Respond(t.Context(), Request{UtteranceText: "x", SessionID: "s"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestNewRemote_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := NewRemote(""); err == nil {
		t.Fatal("expected error")
	}
}
