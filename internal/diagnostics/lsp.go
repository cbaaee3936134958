package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/opencode-ai/diffview/internal/lsp"
)

// DefaultSettle bounds how long a snapshot waits for a language server to
// publish diagnostics for a touched file.
const DefaultSettle = 3 * time.Second

var errNotSettled = errors.New("diagnostics not yet published")

// LSPClient is the subset of lsp.Client used by LSPProvider.
type LSPClient interface {
	Handles(path string) bool
	TouchFile(ctx context.Context, path string) error
	Diagnostics() map[string][]lsp.Diagnostic
	DiagnosticsUpdatedAt(path string) time.Time
}

// LSPProvider serves snapshots from diagnostics published by language
// servers.
type LSPProvider struct {
	client LSPClient
	settle time.Duration

	mu      sync.Mutex
	touched map[string]time.Time
}

// NewLSPProvider wraps client. A non-positive settle uses DefaultSettle.
func NewLSPProvider(client LSPClient, settle time.Duration) *LSPProvider {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &LSPProvider{
		client:  client,
		settle:  settle,
		touched: make(map[string]time.Time),
	}
}

// Touch sends the file's current content to its language server. Files no
// server handles are ignored.
func (p *LSPProvider) Touch(ctx context.Context, absPath string) error {
	if !p.client.Handles(absPath) {
		return nil
	}
	at := time.Now()
	if err := p.client.TouchFile(ctx, absPath); err != nil {
		return fmt.Errorf("touch %s: %w", absPath, err)
	}
	p.mu.Lock()
	p.touched[absPath] = at
	p.mu.Unlock()
	return nil
}

// Snapshot waits until every touched file has diagnostics published after
// its touch, or the settle window passes, then returns all diagnostics.
func (p *LSPProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	pending := make(map[string]time.Time, len(p.touched))
	for path, at := range p.touched {
		pending[path] = at
	}
	p.touched = make(map[string]time.Time)
	p.mu.Unlock()

	if len(pending) > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 25 * time.Millisecond
		b.MaxInterval = 250 * time.Millisecond
		b.MaxElapsedTime = p.settle

		err := backoff.Retry(func() error {
			for path, at := range pending {
				if p.client.DiagnosticsUpdatedAt(path).Before(at) {
					return errNotSettled
				}
				delete(pending, path)
			}
			return nil
		}, backoff.WithContext(b, ctx))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Debug().Int("files", len(pending)).Msg("language server did not settle, using last known diagnostics")
		}
	}

	return fromLSP(p.client.Diagnostics()), nil
}

func fromLSP(in map[string][]lsp.Diagnostic) Snapshot {
	out := make(Snapshot, len(in))
	for path, diags := range in {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		converted := make([]Diagnostic, 0, len(diags))
		for _, d := range diags {
			sev := Severity(d.Severity)
			if sev == 0 {
				sev = SeverityError
			}
			converted = append(converted, Diagnostic{
				Range: Range{
					Start: Position{Line: d.Range.Start.Line, Character: d.Range.Start.Character},
					End:   Position{Line: d.Range.End.Line, Character: d.Range.End.Character},
				},
				Severity: sev,
				Source:   d.Source,
				Code:     codeString(d.Code),
				Message:  d.Message,
			})
		}
		out[abs] = converted
	}
	return out
}

func codeString(code any) string {
	switch c := code.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int64(c))
	default:
		return fmt.Sprint(c)
	}
}
