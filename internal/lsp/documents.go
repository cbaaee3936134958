package lsp

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// URIFromPath converts an absolute file path to a file:// URI.
func URIFromPath(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// PathFromURI converts a file:// URI back to a file path. Other URIs are
// returned unchanged.
func PathFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}

// TouchFile syncs the on-disk content of file to its language server:
// didOpen the first time, didChange plus didSave afterwards.
func (c *Client) TouchFile(ctx context.Context, file string) error {
	client, err := c.getClient(ctx, file)
	if err != nil {
		return err
	}
	return client.touchFile(file)
}

func (lc *languageClient) touchFile(file string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	content, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	uri := URIFromPath(file)

	if version, ok := lc.openFiles[uri]; ok {
		version++
		lc.openFiles[uri] = version
		change := DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: string(content)}},
		}
		if err := lc.conn.notify("textDocument/didChange", change); err != nil {
			return err
		}
		return lc.conn.notify("textDocument/didSave", DidSaveTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		})
	}

	lc.openFiles[uri] = 1
	return lc.conn.notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: detectLanguageID(file),
			Version:    1,
			Text:       string(content),
		},
	})
}

// CloseFile notifies the server that a file is closed.
func (c *Client) CloseFile(ctx context.Context, file string) error {
	client, err := c.getClient(ctx, file)
	if err != nil {
		return err
	}
	return client.closeFile(file)
}

func (lc *languageClient) closeFile(file string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	uri := URIFromPath(file)
	if _, ok := lc.openFiles[uri]; !ok {
		return nil
	}
	delete(lc.openFiles, uri)
	return lc.conn.notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// Diagnostics returns the latest published diagnostics keyed by file path.
// Files whose last publish was empty are omitted.
func (c *Client) Diagnostics() map[string][]Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()

	out := make(map[string][]Diagnostic, len(c.diagnostics))
	for uri, d := range c.diagnostics {
		if len(d.items) == 0 {
			continue
		}
		out[PathFromURI(uri)] = append([]Diagnostic(nil), d.items...)
	}
	return out
}

// DiagnosticsUpdatedAt returns when diagnostics for file were last
// published, or the zero time.
func (c *Client) DiagnosticsUpdatedAt(file string) time.Time {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	return c.diagnostics[URIFromPath(file)].updatedAt
}

// detectLanguageID detects the language ID from a file path.
func detectLanguageID(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".go":
		return "go"
	case ".ts":
		return "typescript"
	case ".tsx":
		return "typescriptreact"
	case ".js":
		return "javascript"
	case ".jsx":
		return "javascriptreact"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c":
		return "c"
	case ".cpp", ".cc", ".cxx", ".h", ".hpp":
		return "cpp"
	case ".rb":
		return "ruby"
	case ".php":
		return "php"
	case ".cs":
		return "csharp"
	case ".sh", ".bash":
		return "shellscript"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	case ".md":
		return "markdown"
	default:
		return "plaintext"
	}
}
