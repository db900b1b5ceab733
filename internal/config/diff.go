package config

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running server without restart are tracked individually;
// everything else lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SystemPromptChanged bool
	NewSystemPrompt     string

	ChatModelChanged bool
	NewChatModel     string

	VADChanged bool
	NewVAD     VADConfig

	// RestartRequired lists config sections whose changes only take effect
	// after a restart (e.g. "server", "capture", "history").
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SystemPromptChanged && !d.ChatModelChanged &&
		!d.VADChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.SystemPrompt != new.Session.SystemPrompt {
		d.SystemPromptChanged = true
		d.NewSystemPrompt = new.Session.SystemPrompt
	}

	if old.Providers.Chat.Model != new.Providers.Chat.Model {
		d.ChatModelChanged = true
		d.NewChatModel = new.Providers.Chat.Model
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	if providerChanged(old.Providers.STT, new.Providers.STT) {
		d.RestartRequired = append(d.RestartRequired, "providers.stt")
	}
	if providerChangedIgnoringModel(old.Providers.Chat, new.Providers.Chat) {
		d.RestartRequired = append(d.RestartRequired, "providers.chat")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providerChanged(a, b ProviderEntry) bool {
	return a.Name != b.Name || a.APIKey != b.APIKey || a.APIKeyEnv != b.APIKeyEnv ||
		a.BaseURL != b.BaseURL || a.Model != b.Model || a.Language != b.Language
}

// providerChangedIgnoringModel treats a chat model change as hot-reloadable;
// everything else about the entry needs a provider rebuild at restart.
func providerChangedIgnoringModel(a, b ProviderEntry) bool {
	a.Model, b.Model = "", ""
	return providerChanged(a, b)
}
