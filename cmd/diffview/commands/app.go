package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opencode-ai/diffview/internal/config"
	"github.com/opencode-ai/diffview/internal/diagnostics"
	"github.com/opencode-ai/diffview/internal/event"
	"github.com/opencode-ai/diffview/internal/formatter"
	"github.com/opencode-ai/diffview/internal/logging"
	"github.com/opencode-ai/diffview/internal/lsp"
	"github.com/opencode-ai/diffview/internal/review"
	"github.com/opencode-ai/diffview/internal/storage"
	"github.com/opencode-ai/diffview/internal/surface"
	"github.com/opencode-ai/diffview/internal/watch"
	"github.com/opencode-ai/diffview/pkg/types"
)

// app is the wired review stack shared by serve, mcp and apply.
type app struct {
	root    string
	cfg     *types.Config
	bus     *event.Bus
	host    *surface.MemoryHost
	format  *formatter.Manager
	lsp     *lsp.Client
	watcher *watch.Watcher
	history *storage.History
	reviews *review.Service
}

// newApp builds the review service for root from cfg.
func newApp(root string, cfg *types.Config) (*app, error) {
	a := &app{
		root: root,
		cfg:  cfg,
		bus:  event.Default(),
	}

	a.format = formatter.NewManager(root, cfg)
	a.host = surface.NewMemoryHost(surface.WithFormatter(a.format))

	lspDisabled := cfg.LSP != nil && cfg.LSP.Disabled
	a.lsp = lsp.NewClient(root, lspDisabled)
	if cfg.LSP != nil {
		configureServers(a.lsp, cfg.LSP.Servers)
	}

	var diags diagnostics.Provider
	if !lspDisabled {
		settle := time.Duration(cfg.Review.SettleMs) * time.Millisecond
		diags = diagnostics.NewLSPProvider(a.lsp, settle)
	}

	severities, err := parseSeverities(cfg.Review.Severities)
	if err != nil {
		return nil, err
	}

	if cfg.Watcher == nil || !cfg.Watcher.Disabled {
		var ignore []string
		if cfg.Watcher != nil {
			ignore = cfg.Watcher.Ignore
		}
		w, err := watch.New(root, ignore)
		if err != nil {
			return nil, fmt.Errorf("file watcher: %w", err)
		}
		w.Start()
		a.watcher = w
	}

	a.history = storage.NewHistory(storage.New(config.GetPaths().StoragePath()), root)

	a.reviews, err = review.NewService(review.Options{
		Root:           root,
		Host:           a.host,
		Diagnostics:    diags,
		History:        a.history,
		Watcher:        a.watcher,
		Bus:            a.bus,
		Deny:           cfg.Review.Deny,
		Severities:     severities,
		FuzzyThreshold: cfg.Review.FuzzyThreshold,
	})
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.host.AddListener(a.reviews.OnSurfaceChange)
	return a, nil
}

// configureServers overrides the command of built-in language servers, or
// adds a server whose ID doubles as its only file extension.
func configureServers(client *lsp.Client, servers map[string]string) {
	known := client.GetServers()
	for id, command := range servers {
		argv := strings.Fields(command)
		if len(argv) == 0 {
			continue
		}
		if existing, ok := known[id]; ok {
			override := *existing
			override.Command = argv
			client.AddServer(&override)
			continue
		}
		client.AddServer(&lsp.ServerConfig{ID: id, Extensions: []string{"." + id}, Command: argv})
	}
}

func parseSeverities(names []string) ([]diagnostics.Severity, error) {
	var out []diagnostics.Severity
	for _, name := range names {
		sev, err := diagnostics.ParseSeverity(name)
		if err != nil {
			return nil, err
		}
		out = append(out, sev)
	}
	return out, nil
}

// close rejects open reviews and stops background work.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.reviews != nil {
		errs = append(errs, a.reviews.Close(ctx))
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.lsp != nil {
		errs = append(errs, a.lsp.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		logging.Warn().Err(err).Msg("shutdown")
	}
	return err
}
