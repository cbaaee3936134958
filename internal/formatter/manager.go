// Package formatter runs external code formatters on files saved from a
// review surface.
package formatter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opencode-ai/diffview/pkg/types"
)

// Formatter is one formatter command bound to a set of file extensions.
type Formatter struct {
	Name        string            `json:"name"`
	Extensions  []string          `json:"extensions"`
	Command     []string          `json:"command"`
	Environment map[string]string `json:"environment,omitempty"`
	Disabled    bool              `json:"disabled"`
}

// FormatResult describes one format run.
type FormatResult struct {
	FilePath  string `json:"filePath"`
	Formatter string `json:"formatter,omitempty"`
	Changed   bool   `json:"changed"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Duration  int64  `json:"duration"` // milliseconds
}

var defaultFormatters = []*Formatter{
	{Name: "gofmt", Extensions: []string{"go"}, Command: []string{"gofmt", "-w", "$file"}},
	{Name: "prettier", Extensions: []string{"js", "jsx", "ts", "tsx", "json", "css", "scss", "md", "yaml", "yml"}, Command: []string{"npx", "prettier", "--write", "$file"}},
	{Name: "black", Extensions: []string{"py"}, Command: []string{"black", "$file"}},
	{Name: "rustfmt", Extensions: []string{"rs"}, Command: []string{"rustfmt", "$file"}},
}

// Manager maps file extensions to formatters and runs them.
type Manager struct {
	mu      sync.RWMutex
	workDir string
	byName  map[string]*Formatter
	byExt   map[string]*Formatter
	enabled bool
}

// NewManager creates a manager from cfg. Configured formatters take
// precedence over the built-in defaults for the same extension.
func NewManager(workDir string, cfg *types.Config) *Manager {
	m := &Manager{
		workDir: workDir,
		byName:  make(map[string]*Formatter),
		byExt:   make(map[string]*Formatter),
		enabled: true,
	}

	if cfg != nil {
		for name, fc := range cfg.Formatter {
			m.add(&Formatter{
				Name:        name,
				Extensions:  fc.Extensions,
				Command:     fc.Command,
				Environment: fc.Environment,
				Disabled:    fc.Disabled,
			})
		}
	}
	for _, f := range defaultFormatters {
		if _, ok := m.byName[f.Name]; ok {
			continue
		}
		cp := *f
		for _, ext := range cp.Extensions {
			if _, ok := m.byExt[ext]; !ok {
				m.byExt[ext] = &cp
			}
		}
		m.byName[cp.Name] = &cp
	}
	return m
}

func (m *Manager) add(f *Formatter) {
	m.byName[f.Name] = f
	for _, ext := range f.Extensions {
		m.byExt[strings.TrimPrefix(ext, ".")] = f
	}
}

// Add registers or replaces a formatter.
func (m *Manager) Add(f *Formatter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(f)
}

// SetEnabled turns formatting on or off.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// ForFile returns the formatter that handles path.
func (m *Manager) ForFile(path string) (*Formatter, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.byExt[ext]
	return f, ok
}

// Format formats path in place. Files without an enabled formatter are left
// untouched and reported as a successful, unchanged run.
func (m *Manager) Format(ctx context.Context, path string) (*FormatResult, error) {
	start := time.Now()
	result := &FormatResult{FilePath: path}
	done := func(err error) (*FormatResult, error) {
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}
		result.Duration = time.Since(start).Milliseconds()
		return result, err
	}

	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()
	f, ok := m.ForFile(path)
	if !enabled || !ok || f.Disabled {
		return done(nil)
	}
	result.Formatter = f.Name

	before, err := os.ReadFile(path)
	if err != nil {
		return done(fmt.Errorf("failed to read file: %w", err))
	}
	if err := m.run(ctx, f, path); err != nil {
		return done(err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		return done(fmt.Errorf("failed to read formatted file: %w", err))
	}
	result.Changed = !bytes.Equal(before, after)

	log.Debug().
		Str("formatter", f.Name).
		Str("path", path).
		Bool("changed", result.Changed).
		Msg("formatted file")
	return done(nil)
}

func (m *Manager) run(ctx context.Context, f *Formatter, path string) error {
	if len(f.Command) == 0 {
		return fmt.Errorf("no command configured for formatter: %s", f.Name)
	}

	args := make([]string, len(f.Command))
	for i, arg := range f.Command {
		arg = strings.ReplaceAll(arg, "${file}", path)
		args[i] = strings.ReplaceAll(arg, "$file", path)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = m.workDir
	cmd.Env = os.Environ()
	for k, v := range f.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("formatter %s failed: %s", f.Name, msg)
	}
	return nil
}
