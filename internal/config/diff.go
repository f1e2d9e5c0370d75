package config

import "fmt"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked; everything else is reported
// through RestartRequired.
type ConfigDiff struct {
	// CallChanged is set when any call.* setting differs. The new values
	// apply to the next call session.
	CallChanged bool
	Call        CallConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections and keys that changed but are only
	// read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.CallChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{Call: new.Call}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !sameCall(old.Call, new.Call) {
		d.CallChanged = true
	}
	// The processor factory captures these at startup.
	if old.Call.SilenceRMS != new.Call.SilenceRMS {
		d.RestartRequired = append(d.RestartRequired, "call.silence_rms")
	}
	if old.Call.Language != new.Call.Language {
		d.RestartRequired = append(d.RestartRequired, "call.language")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Device != new.Device {
		d.RestartRequired = append(d.RestartRequired, "device")
	}
	if old.Transport != new.Transport {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.StateFeed != new.StateFeed {
		d.RestartRequired = append(d.RestartRequired, "statefeed")
	}
	return d
}

func sameCall(a, b CallConfig) bool {
	if a.AutoAnswerEnabled() != b.AutoAnswerEnabled() {
		return false
	}
	a.AutoAnswer, b.AutoAnswer = nil, nil
	return a == b
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.STT, b.STT) || !sameEntry(a.LLM, b.LLM) || !sameEntry(a.FastLLM, b.FastLLM) || !sameEntry(a.TTS, b.TTS) {
		return false
	}
	return sameEntries(a.STTFallbacks, b.STTFallbacks) &&
		sameEntries(a.LLMFallbacks, b.LLMFallbacks) &&
		sameEntries(a.TTSFallbacks, b.TTSFallbacks)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares entries. Options are compared by their formatted
// values since they may hold nested maps.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
