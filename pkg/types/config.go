package types

// Config represents the diffview configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Logging
	LogLevel string `json:"logLevel,omitempty"` // "debug"|"info"|"warn"|"error"
	LogFile  bool   `json:"logFile,omitempty"`

	// HTTP API
	Server *ServerConfig `json:"server,omitempty"`

	// Review behavior
	Review *ReviewConfig `json:"review,omitempty"`

	// LSP
	LSP *LSPConfig `json:"lsp,omitempty"`

	// Formatter settings
	Formatter map[string]FormatterConfig `json:"formatter,omitempty"`

	// File watcher
	Watcher *WatcherConfig `json:"watcher,omitempty"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Host string   `json:"host,omitempty"`
	Port int      `json:"port,omitempty"`
	CORS []string `json:"cors,omitempty"` // allowed origins, empty = "*"
}

// ReviewConfig holds review service settings.
type ReviewConfig struct {
	// Deny lists doublestar globs (relative to the project root) that may
	// never be opened for review.
	Deny []string `json:"deny,omitempty"`

	// Severities counted as new problems: "error", "warning", "information", "hint".
	Severities []string `json:"severities,omitempty"`

	// SettleMs bounds the wait for diagnostics after a save.
	SettleMs int `json:"settleMs,omitempty"`

	// FuzzyThreshold is the minimum similarity for search/replace edits.
	FuzzyThreshold float64 `json:"fuzzyThreshold,omitempty"`
}

// FormatterConfig holds code formatter configuration.
type FormatterConfig struct {
	Disabled    bool              `json:"disabled,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Extensions  []string          `json:"extensions,omitempty"`
}

// LSPConfig holds LSP server configuration.
type LSPConfig struct {
	Disabled bool              `json:"disabled,omitempty"`
	Servers  map[string]string `json:"servers,omitempty"` // language -> command
}

// WatcherConfig holds file watcher configuration.
type WatcherConfig struct {
	Disabled bool     `json:"disabled,omitempty"`
	Ignore   []string `json:"ignore,omitempty"`
}
