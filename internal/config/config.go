// Package config provides the configuration schema, loader, provider
// registry and file watcher for the callpilot server.
package config

import (
	"time"

	"github.com/MrWong99/callpilot/internal/turn"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BackendKind selects the batched-mode responder.
type BackendKind string

const (
	// BackendPipeline runs the LLM and TTS providers in process.
	BackendPipeline BackendKind = "pipeline"

	// BackendRemote delegates to an HTTP responder service.
	BackendRemote BackendKind = "remote"
)

// IsValid reports whether k is a recognised backend kind.
func (k BackendKind) IsValid() bool {
	return k == BackendPipeline || k == BackendRemote
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Call      CallConfig      `yaml:"call"`
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	Backend   BackendConfig   `yaml:"backend"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	StateFeed StateFeedConfig `yaml:"statefeed"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CallConfig tunes the call orchestrator. Fields other than SilenceRMS and
// Language are hot-reloadable and take effect for the next call session.
type CallConfig struct {
	Mode turn.Mode `yaml:"mode"`

	// AutoAnswer answers ringing calls automatically. Default true.
	AutoAnswer *bool `yaml:"auto_answer"`

	PollInterval      time.Duration `yaml:"poll_interval"`
	ChunkInterval     time.Duration `yaml:"chunk_interval"`
	AnswerSettleDelay time.Duration `yaml:"answer_settle_delay"`
	IncomingTimeout   time.Duration `yaml:"incoming_timeout"`
	HistoryLimit      int           `yaml:"history_limit"`

	// SilenceRMS skips chunks quieter than this without calling STT.
	// Zero disables the gate.
	SilenceRMS float64 `yaml:"silence_rms"`

	// Language is passed to STT as a hint.
	Language string `yaml:"language"`
}

// AutoAnswerEnabled resolves the AutoAnswer default.
func (c CallConfig) AutoAnswerEnabled() bool {
	return c.AutoAnswer == nil || *c.AutoAnswer
}

// DeviceConfig configures the handset bridge and capture format.
type DeviceConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// FrameBytes is the playback write size. Default 2048.
	FrameBytes int `yaml:"frame_bytes"`

	// AuthToken, when set, must be presented as a bearer token by the
	// handset app connecting to /v1/device.
	AuthToken string `yaml:"auth_token"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PlaybackTail is waited after the last playback frame. Default 500ms.
	PlaybackTail time.Duration `yaml:"playback_tail"`
}

// TransportConfig configures the streaming-mode websocket backend.
type TransportConfig struct {
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
}

// BackendConfig configures the batched and dual mode responder.
type BackendConfig struct {
	Kind BackendKind `yaml:"kind"`

	// RemoteURL is the base URL of the remote responder.
	RemoteURL string `yaml:"remote_url"`

	// InterimURL is the remote responder raced in dual mode.
	InterimURL string `yaml:"interim_url"`

	RemoteToken string `yaml:"remote_token"`

	SystemPrompt   string  `yaml:"system_prompt"`
	Greeting       string  `yaml:"greeting"`
	Voice          string  `yaml:"voice"`
	HistoryTokens  int     `yaml:"history_tokens"`
	MaxReplyTokens int     `yaml:"max_reply_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// ProvidersConfig selects the pipeline providers by registered name. The
// fallback lists are tried in order when the primary fails.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`

	// FastLLM answers first in dual mode.
	FastLLM ProviderEntry `yaml:"fast_llm"`

	TTS ProviderEntry `yaml:"tts"`

	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// StorageConfig configures the call log.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL call log. Empty keeps calls in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// StateFeedConfig configures snapshot publishing over NATS.
type StateFeedConfig struct {
	NATSURL   string `yaml:"nats_url"`
	NATSToken string `yaml:"nats_token"`
	Subject   string `yaml:"subject"`
}
