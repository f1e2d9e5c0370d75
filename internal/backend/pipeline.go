package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/provider/llm"
	"github.com/MrWong99/callpilot/pkg/provider/tts"
)

const (
	defaultGreeting    = "Hello, how can I help?"
	defaultMaxReply    = 200
	defaultHistoryKeep = 64
)

// PipelineConfig configures a [Pipeline].
type PipelineConfig struct {
	// SystemPrompt is sent with every completion.
	SystemPrompt string

	// Greeting is spoken verbatim when the AI path starts.
	Greeting string

	// Voice is passed to the TTS provider.
	Voice string

	// HistoryTokens caps the conversation sent to the LLM. Zero sends the
	// whole stored history.
	HistoryTokens int

	// Model names the tokenizer used for the history budget.
	Model string

	// MaxReplyTokens caps each completion. Default: 200.
	MaxReplyTokens int

	// Temperature is passed to the LLM. Zero uses the provider default.
	Temperature float64
}

// Pipeline is a [Responder] that completes with an LLM and speaks the result
// with a TTS provider.
type Pipeline struct {
	llm    llm.Provider
	tts    tts.Provider
	cfg    PipelineConfig
	budget *llm.Budget

	mu       sync.Mutex
	sessions map[string][]llm.Message
}

var (
	_ Responder    = (*Pipeline)(nil)
	_ SessionEnder = (*Pipeline)(nil)
)

// NewPipeline creates a [Pipeline].
func NewPipeline(l llm.Provider, t tts.Provider, cfg PipelineConfig) (*Pipeline, error) {
	if l == nil || t == nil {
		return nil, fmt.Errorf("backend: pipeline needs both an LLM and a TTS provider")
	}
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = defaultMaxReply
	}
	return &Pipeline{
		llm:      l,
		tts:      t,
		cfg:      cfg,
		budget:   llm.NewBudget(cfg.Model, cfg.HistoryTokens),
		sessions: make(map[string][]llm.Message),
	}, nil
}

// Greeting speaks the configured greeting and seeds the session history with
// it.
func (p *Pipeline) Greeting(ctx context.Context, sessionID string) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "backend.greeting")
	defer span.End()

	reply, err := p.speak(ctx, p.cfg.Greeting)
	if err != nil {
		return Reply{}, err
	}
	p.append(sessionID, llm.Message{Role: llm.RoleAssistant, Content: p.cfg.Greeting})
	return reply, nil
}

// Respond completes the conversation with the caller's utterance and
// synthesizes the answer.
func (p *Pipeline) Respond(ctx context.Context, req Request) (Reply, error) {
	ctx, span := observe.StartSpan(ctx, "backend.respond")
	defer span.End()

	utterance := strings.TrimSpace(req.UtteranceText)
	if utterance == "" {
		return Reply{}, fmt.Errorf("backend: empty utterance")
	}
	history := p.append(req.SessionID, llm.Message{Role: llm.RoleUser, Content: utterance})

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.cfg.SystemPrompt,
		Messages:     p.budget.Fit(p.cfg.SystemPrompt, history),
		MaxTokens:    p.cfg.MaxReplyTokens,
		Temperature:  p.cfg.Temperature,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("backend: complete: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if resp.Truncated() {
		text = llm.CompleteSentences(text)
	}
	if text == "" {
		return Reply{}, fmt.Errorf("backend: %w: empty completion", ErrNoAudio)
	}

	reply, err := p.speak(ctx, text)
	if err != nil {
		return Reply{}, err
	}
	p.append(req.SessionID, llm.Message{Role: llm.RoleAssistant, Content: text})
	return reply, nil
}

// EndSession drops the stored history for sessionID.
func (p *Pipeline) EndSession(sessionID string) {
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
}

// speak synthesizes text and normalises the audio to mono.
func (p *Pipeline) speak(ctx context.Context, text string) (Reply, error) {
	sp, err := p.tts.Synthesize(ctx, tts.Request{Text: text, Voice: p.cfg.Voice})
	if err != nil {
		return Reply{}, fmt.Errorf("backend: synthesize: %w", err)
	}
	if len(sp.PCM) < 2 || sp.Format.SampleRate <= 0 {
		return Reply{}, ErrNoAudio
	}
	pcm := sp.PCM
	if sp.Format.Channels > 1 {
		pcm = audio.DownmixToMono(pcm, sp.Format.Channels)
	}
	return Reply{Text: text, Audio: pcm, SampleRate: sp.Format.SampleRate}, nil
}

// append adds m to the session history and returns a snapshot of it. The
// stored history is capped so an abandoned session cannot grow unbounded.
func (p *Pipeline) append(sessionID string, m llm.Message) []llm.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := append(p.sessions[sessionID], m)
	if len(h) > defaultHistoryKeep {
		h = append([]llm.Message(nil), h[len(h)-defaultHistoryKeep:]...)
	}
	p.sessions[sessionID] = h
	out := make([]llm.Message, len(h))
	copy(out, h)
	return out
}
