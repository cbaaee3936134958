// Package config provides configuration loading, merging, and path management for diffview.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order:
//
//  1. Global config (~/.config/diffview/diffview.json[c])
//  2. Project config (diffview.json[c], then .diffview/diffview.json[c])
//  3. DIFFVIEW_CONFIG file
//  4. DIFFVIEW_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Missing files are skipped. A file that exists but does not parse is an
// error, reported as a *ParseError.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments) are accepted; comments and trailing
// commas are stripped with tidwall/jsonc.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable value
//   - {file:path} expands to file contents (escaped for JSON)
//
// Relative {file:} paths resolve against the directory of the config file.
//
//	{
//	  "review": {
//	    "deny": ["**/.env", "{env:EXTRA_DENY}"]
//	  },
//	  "formatter": {
//	    "gofmt": { "command": ["gofumpt", "-w", "$file"], "extensions": [".go"] }
//	  }
//	}
//
// # Merging
//
// Scalars are overwritten by later sources, formatter maps are merged by key,
// and review deny globs accumulate.
//
// # Environment Variable Overrides
//
//   - DIFFVIEW_LOG_LEVEL - log level
//   - DIFFVIEW_PORT - HTTP port
//   - DIFFVIEW_DENY - comma-separated deny globs, appended
//   - DIFFVIEW_DISABLE_LSP - "true" disables language servers
//   - DIFFVIEW_CONFIG - path to a specific config file
//   - DIFFVIEW_CONFIG_CONTENT - inline JSON configuration
//   - DIFFVIEW_CONFIG_DIR - override the config directory location
//
// # Path Management
//
// Paths follows the XDG Base Directory layout:
//   - Data: ~/.local/share/diffview (XDG_DATA_HOME), review history lives in Data/storage
//   - Config: ~/.config/diffview (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/diffview (XDG_CACHE_HOME)
//   - State: ~/.local/state/diffview (XDG_STATE_HOME), logs live in State/log
package config
