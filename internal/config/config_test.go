package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-ai/diffview/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the XDG config dir at a temp directory so no real
// user config is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("DIFFVIEW_CONFIG", "")
	t.Setenv("DIFFVIEW_CONFIG_DIR", "")
	t.Setenv("DIFFVIEW_CONFIG_CONTENT", "")
	t.Setenv("DIFFVIEW_LOG_LEVEL", "")
	t.Setenv("DIFFVIEW_PORT", "")
	t.Setenv("DIFFVIEW_DENY", "")
	t.Setenv("DIFFVIEW_DISABLE_LSP", "")
	return home
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, DefaultSettleMs, cfg.Review.SettleMs)
	assert.Equal(t, DefaultFuzzyThreshold, cfg.Review.FuzzyThreshold)
	assert.Empty(t, cfg.Review.Deny)
}

func TestLoadProjectConfig(t *testing.T) {
	isolate(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, "diffview.json"), `{
		"$schema": "https://example.com/diffview.json",
		"logLevel": "debug",
		"server": {"port": 9000, "cors": ["http://localhost:3000"]},
		"review": {
			"deny": ["**/.env"],
			"severities": ["error", "warning"],
			"settleMs": 500
		},
		"lsp": {"servers": {"go": "gopls"}},
		"formatter": {
			"gofmt": {"command": ["gofumpt", "-w", "$file"], "extensions": [".go"]}
		},
		"watcher": {"ignore": ["**/node_modules/**"]}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/diffview.json", cfg.Schema)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORS)
	assert.Equal(t, []string{"**/.env"}, cfg.Review.Deny)
	assert.Equal(t, []string{"error", "warning"}, cfg.Review.Severities)
	assert.Equal(t, 500, cfg.Review.SettleMs)
	assert.Equal(t, "gopls", cfg.LSP.Servers["go"])
	assert.Equal(t, []string{"gofumpt", "-w", "$file"}, cfg.Formatter["gofmt"].Command)
	assert.Equal(t, []string{"**/node_modules/**"}, cfg.Watcher.Ignore)
}

func TestJSONCComments(t *testing.T) {
	isolate(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, ".diffview", "diffview.jsonc"), `{
		// This is a single-line comment
		"logLevel": "warn",
		/* This is a
		   multi-line comment */
		"review": {
			"deny": ["secrets/**"], // inline comment
		},
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"secrets/**"}, cfg.Review.Deny)
}

func TestEnvInterpolation(t *testing.T) {
	isolate(t)
	t.Setenv("TEST_DENY_GLOB", "private/**")
	project := t.TempDir()

	writeConfig(t, filepath.Join(project, "diffview.json"), `{
		"review": {"deny": ["{env:TEST_DENY_GLOB}"]}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, []string{"private/**"}, cfg.Review.Deny)
}

func TestFileInterpolation(t *testing.T) {
	isolate(t)
	project := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(project, "level.txt"), []byte("error"), 0644))
	writeConfig(t, filepath.Join(project, ".diffview", "diffview.json"), `{
		"logLevel": "{file:../level.txt}"
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestConfigMerge(t *testing.T) {
	home := isolate(t)
	project := t.TempDir()

	writeConfig(t, filepath.Join(home, ".config", "diffview", "diffview.json"), `{
		"logLevel": "debug",
		"server": {"port": 8000},
		"review": {"deny": ["**/.env"]},
		"formatter": {"gofmt": {"disabled": true}}
	}`)
	writeConfig(t, filepath.Join(project, "diffview.json"), `{
		"server": {"host": "0.0.0.0"},
		"review": {"deny": ["vendor/**"]},
		"formatter": {"black": {"command": ["ruff", "format", "$file"]}}
	}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	// Global scalars survive when the project does not set them
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Deny globs accumulate
	assert.Equal(t, []string{"**/.env", "vendor/**"}, cfg.Review.Deny)

	// Formatter maps merge by key
	assert.True(t, cfg.Formatter["gofmt"].Disabled)
	assert.Equal(t, []string{"ruff", "format", "$file"}, cfg.Formatter["black"].Command)
}

func TestEnvVarOverride(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	writeConfig(t, filepath.Join(project, "diffview.json"), `{
		"logLevel": "debug",
		"server": {"port": 8000},
		"review": {"deny": ["a/**"]}
	}`)

	t.Setenv("DIFFVIEW_LOG_LEVEL", "error")
	t.Setenv("DIFFVIEW_PORT", "9999")
	t.Setenv("DIFFVIEW_DENY", "b/**, c/**")
	t.Setenv("DIFFVIEW_DISABLE_LSP", "true")

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"a/**", "b/**", "c/**"}, cfg.Review.Deny)
	assert.True(t, cfg.LSP.Disabled)
}

func TestDIFFVIEW_CONFIG(t *testing.T) {
	home := isolate(t)

	customConfigPath := filepath.Join(home, "custom-config.json")
	writeConfig(t, customConfigPath, `{"logLevel": "warn"}`)
	t.Setenv("DIFFVIEW_CONFIG", customConfigPath)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDIFFVIEW_CONFIG_CONTENT(t *testing.T) {
	isolate(t)
	t.Setenv("DIFFVIEW_CONFIG_CONTENT", `{"logLevel": "debug", "review": {"settleMs": 10}}`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Review.SettleMs)
}

func TestLoadInvalidConfig(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	writeConfig(t, filepath.Join(project, "diffview.json"), `{"logLevel": `)

	_, err := Load(project)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, filepath.Join(project, "diffview.json"), perr.Path)
}

func TestConfigSerialization(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "diffview.json")

	cfg := &types.Config{
		LogLevel: "info",
		Review:   &types.ReviewConfig{Deny: []string{"**/.git/**"}, SettleMs: 100},
	}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded types.Config
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg.Review.Deny, decoded.Review.Deny)
	assert.Nil(t, decoded.Server)
}

func TestGetPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")

	paths := GetPaths()
	assert.Equal(t, filepath.Join("/xdg/data", "diffview"), paths.Data)
	assert.Equal(t, filepath.Join("/xdg/config", "diffview"), paths.Config)
	assert.Equal(t, filepath.Join("/xdg/data", "diffview", "storage"), paths.StoragePath())
	assert.Equal(t, filepath.Join("/xdg/state", "diffview", "log"), paths.LogPath())

	t.Setenv("DIFFVIEW_CONFIG_DIR", "/custom")
	assert.Equal(t, "/custom", GetConfigDir())
	assert.Equal(t, filepath.Join("/custom", "diffview.jsonc"), GlobalConfigPath())
}
