package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/callpilot/internal/observe"
)

const defaultRemoteTimeout = 30 * time.Second

// Remote is a [Responder] backed by an HTTP service exposing
//
//	POST {base}/greeting  {"sessionId": "..."}
//	POST {base}/respond   {"sessionId": "...", "utterance": "..."}
//
// Both answer {"text": "...", "audio": "<base64 pcm16>", "sampleRate": 16000}.
type Remote struct {
	base    string
	token   string
	client  *http.Client
	metrics *observe.Metrics
}

var _ Responder = (*Remote)(nil)

// RemoteOption configures a [Remote].
type RemoteOption func(*Remote)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithAuthToken sends token as a bearer credential.
func WithAuthToken(token string) RemoteOption {
	return func(r *Remote) { r.token = token }
}

// WithMetrics records each request as a provider call.
func WithMetrics(m *observe.Metrics) RemoteOption {
	return func(r *Remote) { r.metrics = m }
}

// NewRemote creates a [Remote] for baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) (*Remote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend: remote base URL must not be empty")
	}
	r := &Remote{
		base:    strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRemoteTimeout},
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

type remoteRequest struct {
	SessionID string `json:"sessionId"`
	Utterance string `json:"utterance,omitempty"`
}

type remoteReply struct {
	Text       string `json:"text"`
	Audio      []byte `json:"audio"`
	SampleRate int    `json:"sampleRate"`
	Error      string `json:"error,omitempty"`
}

// Greeting implements Responder.
func (r *Remote) Greeting(ctx context.Context, sessionID string) (Reply, error) {
	return r.post(ctx, "/greeting", remoteRequest{SessionID: sessionID})
}

// Respond implements Responder.
func (r *Remote) Respond(ctx context.Context, req Request) (Reply, error) {
	return r.post(ctx, "/respond", remoteRequest{SessionID: req.SessionID, Utterance: req.UtteranceText})
}

func (r *Remote) post(ctx context.Context, path string, body remoteRequest) (rep Reply, err error) {
	ctx, span := observe.StartSpan(ctx, "backend.remote"+strings.ReplaceAll(path, "/", "."))
	defer span.End()
	start := time.Now()
	defer func() { r.metrics.RecordProviderCall(ctx, "remote", "backend", start, err) }()

	data, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("backend: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(data))
	if err != nil {
		return Reply{}, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", body.SessionID)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("backend: %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("backend: read %s: %w", path, err)
	}

	var out remoteReply
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Reply{}, fmt.Errorf("backend: %s: status %d", path, resp.StatusCode)
		}
		return Reply{}, fmt.Errorf("backend: decode %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("backend: %s: status %d: %s", path, resp.StatusCode, out.Error)
	}
	rep = Reply{Text: out.Text, Audio: out.Audio, SampleRate: out.SampleRate}
	if !rep.HasAudio() {
		return Reply{}, ErrNoAudio
	}
	return rep, nil
}
