package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callpilot/internal/call"
	"github.com/MrWong99/callpilot/internal/statefeed"
	"github.com/MrWong99/callpilot/internal/turn"
	"github.com/MrWong99/callpilot/pkg/audio"
)

const (
	defaultListenAddr       = ":8080"
	defaultMaxReconnects    = 5
	defaultReconnectBackoff = 2 * time.Second
	defaultPlaybackTail     = 500 * time.Millisecond
)

// ValidProviderNames lists the built-in provider names per kind. [Validate]
// warns about names outside this list; they may still be registered by a
// custom build.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anyllm", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Call
	if c.Mode == "" {
		c.Mode = turn.ModeBatched
	}
	if c.PollInterval == 0 {
		c.PollInterval = call.DefaultPollInterval
	}
	if c.ChunkInterval == 0 {
		c.ChunkInterval = call.DefaultChunkInterval
	}
	if c.AnswerSettleDelay == 0 {
		c.AnswerSettleDelay = call.DefaultAnswerSettleDelay
	}
	if c.IncomingTimeout == 0 {
		c.IncomingTimeout = call.DefaultIncomingTimeout
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = call.DefaultHistoryLimit
	}

	d := &cfg.Device
	if d.SampleRate == 0 {
		d.SampleRate = audio.DefaultSampleRate
	}
	if d.Channels == 0 {
		d.Channels = audio.DefaultChannels
	}
	if d.FrameBytes == 0 {
		d.FrameBytes = audio.DefaultFrameBytes
	}
	if d.PlaybackTail == 0 {
		d.PlaybackTail = defaultPlaybackTail
	}

	t := &cfg.Transport
	if t.MaxReconnectAttempts == 0 {
		t.MaxReconnectAttempts = defaultMaxReconnects
	}
	if t.ReconnectBackoff == 0 {
		t.ReconnectBackoff = defaultReconnectBackoff
	}

	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendPipeline
	}
	if cfg.StateFeed.Subject == "" {
		cfg.StateFeed.Subject = statefeed.DefaultSubject
	}
}

// Validate checks that cfg is coherent. It returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		add("server.tls needs both cert_file and key_file")
	}

	// Call
	c := cfg.Call
	if !c.Mode.Valid() {
		add("call.mode %q is invalid; valid values: batched, dual, streaming", c.Mode)
	}
	for name, d := range map[string]time.Duration{
		"call.poll_interval":       c.PollInterval,
		"call.chunk_interval":      c.ChunkInterval,
		"call.answer_settle_delay": c.AnswerSettleDelay,
		"call.incoming_timeout":    c.IncomingTimeout,
	} {
		if d < 0 {
			add("%s must not be negative", name)
		}
	}
	if c.HistoryLimit < 0 {
		add("call.history_limit must not be negative")
	}
	if c.SilenceRMS < 0 {
		add("call.silence_rms must not be negative")
	}

	// Device
	if cfg.Device.SampleRate < 8000 || cfg.Device.SampleRate > 48000 {
		add("device.sample_rate %d is out of range [8000, 48000]", cfg.Device.SampleRate)
	}
	if cfg.Device.Channels != 1 && cfg.Device.Channels != 2 {
		add("device.channels must be 1 or 2")
	}
	if cfg.Device.FrameBytes <= 0 || cfg.Device.FrameBytes%2 != 0 {
		add("device.frame_bytes must be a positive even number")
	}

	// Mode ↔ backend cross-validation
	switch c.Mode {
	case turn.ModeStreaming:
		if cfg.Transport.URL == "" {
			add("call.mode streaming requires transport.url")
		} else if u, err := url.Parse(cfg.Transport.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("transport.url %q must be a ws:// or wss:// URL", cfg.Transport.URL)
		}
	case turn.ModeBatched, turn.ModeDual:
		errs = append(errs, validateBatched(cfg)...)
	}
	if cfg.Transport.MaxReconnectAttempts < 0 {
		add("transport.max_reconnect_attempts must not be negative")
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.FastLLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			add("providers.stt_fallbacks[%d].name is required", i)
		}
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			add("providers.llm_fallbacks[%d].name is required", i)
		}
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			add("providers.tts_fallbacks[%d].name is required", i)
		}
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; the call log is kept in memory only")
	}

	return errors.Join(errs...)
}

// validateBatched checks what the batched and dual processors need.
func validateBatched(cfg *Config) []error {
	var errs []error
	mode := cfg.Call.Mode
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("call.mode %s requires providers.stt", mode))
	}
	b := cfg.Backend
	switch b.Kind {
	case BackendPipeline:
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("backend.kind pipeline requires providers.llm"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, fmt.Errorf("backend.kind pipeline requires providers.tts"))
		}
		if mode == turn.ModeDual && cfg.Providers.FastLLM.Name == "" {
			errs = append(errs, fmt.Errorf("call.mode dual with backend.kind pipeline requires providers.fast_llm"))
		}
	case BackendRemote:
		if b.RemoteURL == "" {
			errs = append(errs, fmt.Errorf("backend.kind remote requires backend.remote_url"))
		}
		if mode == turn.ModeDual && b.InterimURL == "" {
			errs = append(errs, fmt.Errorf("call.mode dual with backend.kind remote requires backend.interim_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.kind %q is invalid; valid values: pipeline, remote", b.Kind))
	}
	if b.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("backend.history_tokens must not be negative"))
	}
	return errs
}

// validateProviderName warns when name is set but not a built-in provider.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
