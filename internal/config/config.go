package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/opencode-ai/diffview/pkg/types"
	"github.com/tidwall/jsonc"
)

const (
	DefaultPort           = 4097
	DefaultSettleMs       = 3000
	DefaultFuzzyThreshold = 0.7
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (GetConfigDir)
// 2. Project config (diffview.json[c], then .diffview/)
// 3. DIFFVIEW_CONFIG file
// 4. DIFFVIEW_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if err == nil {
			loaded[absPath] = true
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sources [][2]string

	// 1. Global config
	globalPath := GetConfigDir()
	sources = append(sources,
		[2]string{filepath.Join(globalPath, "diffview.json"), globalPath},
		[2]string{filepath.Join(globalPath, "diffview.jsonc"), globalPath},
	)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".diffview")
		sources = append(sources,
			[2]string{filepath.Join(directory, "diffview.json"), directory},
			[2]string{filepath.Join(directory, "diffview.jsonc"), directory},
			[2]string{filepath.Join(projectConfigDir, "diffview.json"), projectConfigDir},
			[2]string{filepath.Join(projectConfigDir, "diffview.jsonc"), projectConfigDir},
		)
	}

	// 3. DIFFVIEW_CONFIG file override
	if configPath := os.Getenv("DIFFVIEW_CONFIG"); configPath != "" {
		sources = append(sources, [2]string{configPath, filepath.Dir(configPath)})
	}

	for _, src := range sources {
		if err := loadOnce(src[0], src[1]); err != nil {
			return nil, err
		}
	}

	// 4. DIFFVIEW_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("DIFFVIEW_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	applyDefaults(config)
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return &ParseError{Path: path, Err: err}
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// ParseError reports a config file that exists but is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return "parse " + e.Path + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogFile {
		target.LogFile = true
	}

	if source.Server != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if source.Server.Host != "" {
			target.Server.Host = source.Server.Host
		}
		if source.Server.Port != 0 {
			target.Server.Port = source.Server.Port
		}
		if len(source.Server.CORS) > 0 {
			target.Server.CORS = source.Server.CORS
		}
	}

	if source.Review != nil {
		if target.Review == nil {
			target.Review = &types.ReviewConfig{}
		}
		// Deny globs accumulate across sources
		target.Review.Deny = append(target.Review.Deny, source.Review.Deny...)
		if len(source.Review.Severities) > 0 {
			target.Review.Severities = source.Review.Severities
		}
		if source.Review.SettleMs != 0 {
			target.Review.SettleMs = source.Review.SettleMs
		}
		if source.Review.FuzzyThreshold != 0 {
			target.Review.FuzzyThreshold = source.Review.FuzzyThreshold
		}
	}

	if source.Formatter != nil {
		if target.Formatter == nil {
			target.Formatter = make(map[string]types.FormatterConfig)
		}
		for k, v := range source.Formatter {
			target.Formatter[k] = v
		}
	}

	if source.LSP != nil {
		target.LSP = source.LSP
	}

	if source.Watcher != nil {
		target.Watcher = source.Watcher
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if level := os.Getenv("DIFFVIEW_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if port := os.Getenv("DIFFVIEW_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			if config.Server == nil {
				config.Server = &types.ServerConfig{}
			}
			config.Server.Port = n
		}
	}

	if deny := os.Getenv("DIFFVIEW_DENY"); deny != "" {
		if config.Review == nil {
			config.Review = &types.ReviewConfig{}
		}
		for _, g := range strings.Split(deny, ",") {
			if g = strings.TrimSpace(g); g != "" {
				config.Review.Deny = append(config.Review.Deny, g)
			}
		}
	}

	if os.Getenv("DIFFVIEW_DISABLE_LSP") == "true" {
		if config.LSP == nil {
			config.LSP = &types.LSPConfig{}
		}
		config.LSP.Disabled = true
	}
}

func applyDefaults(config *types.Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Server == nil {
		config.Server = &types.ServerConfig{}
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Review == nil {
		config.Review = &types.ReviewConfig{}
	}
	if config.Review.SettleMs == 0 {
		config.Review.SettleMs = DefaultSettleMs
	}
	if config.Review.FuzzyThreshold == 0 {
		config.Review.FuzzyThreshold = DefaultFuzzyThreshold
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers DIFFVIEW_CONFIG_DIR, then ~/.config/diffview.
func GetConfigDir() string {
	if dir := os.Getenv("DIFFVIEW_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
