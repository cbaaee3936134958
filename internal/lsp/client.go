package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Client manages connections to language servers and the diagnostics they
// publish.
type Client struct {
	mu       sync.RWMutex
	clients  map[string]*languageClient
	servers  map[string]*ServerConfig
	workDir  string
	disabled bool

	diagMu      sync.RWMutex
	diagnostics map[string]publishedDiagnostics // URI -> latest publish
}

type publishedDiagnostics struct {
	items     []Diagnostic
	updatedAt time.Time
}

// languageClient wraps a connection to a language server.
type languageClient struct {
	mu        sync.Mutex
	conn      *jsonrpcConn
	cmd       *exec.Cmd
	root      string
	serverID  string
	openFiles map[string]int // URI -> version
}

// NewClient creates a new LSP client manager.
func NewClient(workDir string, disabled bool) *Client {
	return &Client{
		clients:     make(map[string]*languageClient),
		servers:     builtInServers(),
		workDir:     workDir,
		disabled:    disabled,
		diagnostics: make(map[string]publishedDiagnostics),
	}
}

// builtInServers returns default language server configurations.
func builtInServers() map[string]*ServerConfig {
	servers := []*ServerConfig{
		{
			ID:          "typescript",
			Extensions:  []string{".ts", ".tsx", ".js", ".jsx"},
			Command:     []string{"typescript-language-server", "--stdio"},
			RootMarkers: []string{"package.json", "tsconfig.json"},
		},
		{ID: "go", Extensions: []string{".go"}, Command: []string{"gopls"}, RootMarkers: []string{"go.mod"}},
		{
			ID:          "python",
			Extensions:  []string{".py"},
			Command:     []string{"pyright-langserver", "--stdio"},
			RootMarkers: []string{"pyproject.toml", "setup.py", "requirements.txt"},
		},
		{ID: "rust", Extensions: []string{".rs"}, Command: []string{"rust-analyzer"}, RootMarkers: []string{"Cargo.toml"}},
	}
	out := make(map[string]*ServerConfig, len(servers))
	for _, cfg := range servers {
		out[cfg.ID] = cfg
	}
	return out
}

// AddServer adds or replaces a server configuration.
func (c *Client) AddServer(config *ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[config.ID] = config
}

// serverFor returns the server configured for the file's extension.
func (c *Client) serverFor(filePath string) *ServerConfig {
	ext := filepath.Ext(filePath)
	if ext == "" {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cfg := range c.servers {
		for _, e := range cfg.Extensions {
			if e == ext {
				return cfg
			}
		}
	}
	return nil
}

// Handles reports whether some language server is configured for filePath.
func (c *Client) Handles(filePath string) bool {
	return !c.IsDisabled() && c.serverFor(filePath) != nil
}

func clientKey(serverID, root string) string {
	return fmt.Sprintf("%s:%s", serverID, root)
}

// getClient returns or creates a client for the given file.
func (c *Client) getClient(ctx context.Context, filePath string) (*languageClient, error) {
	if c.IsDisabled() {
		return nil, fmt.Errorf("LSP disabled")
	}
	cfg := c.serverFor(filePath)
	if cfg == nil {
		return nil, fmt.Errorf("no server for file: %s", filePath)
	}

	root := c.findProjectRoot(filePath, cfg)
	key := clientKey(cfg.ID, root)

	c.mu.RLock()
	if client, ok := c.clients[key]; ok {
		c.mu.RUnlock()
		return client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	client, err := c.spawnServer(ctx, cfg, root)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}

// spawnServer starts a language server process.
func (c *Client) spawnServer(ctx context.Context, config *ServerConfig, root string) (*languageClient, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("empty command for server: %s", config.ID)
	}

	// The server outlives the request that started it.
	cmd := exec.Command(config.Command[0], config.Command[1:]...)
	cmd.Dir = root

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	client, err := c.connect(ctx, config.ID, root, stdout, stdin)
	if err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	client.cmd = cmd

	log.Info().Str("server", config.ID).Str("root", root).Msg("language server started")
	return client, nil
}

// connect performs the initialize handshake over an established stream.
func (c *Client) connect(ctx context.Context, serverID, root string, in io.Reader, out io.WriteCloser) (*languageClient, error) {
	client := &languageClient{
		conn:      newConn(in, out, c.handleNotification),
		root:      root,
		serverID:  serverID,
		openFiles: make(map[string]int),
	}
	if err := client.initialize(ctx, root); err != nil {
		client.conn.close()
		return nil, err
	}
	return client, nil
}

// initialize sends the initialize request to the server.
func (lc *languageClient) initialize(ctx context.Context, root string) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   URIFromPath(root),
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization:    &SynchronizationCapability{DidSave: true},
				PublishDiagnostics: &PublishDiagnosticsCapabilities{VersionSupport: true},
			},
		},
	}

	var result json.RawMessage
	if err := lc.conn.call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	return lc.conn.notify("initialized", struct{}{})
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method != "textDocument/publishDiagnostics" {
		return
	}
	var p PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		log.Warn().Err(err).Msg("malformed publishDiagnostics")
		return
	}

	c.diagMu.Lock()
	c.diagnostics[p.URI] = publishedDiagnostics{items: p.Diagnostics, updatedAt: time.Now()}
	c.diagMu.Unlock()

	log.Debug().Str("uri", p.URI).Int("count", len(p.Diagnostics)).Msg("diagnostics published")
}

// findProjectRoot walks up from the file to the nearest directory holding
// one of cfg's root markers, falling back to the work dir.
func (c *Client) findProjectRoot(filePath string, cfg *ServerConfig) string {
	markers := cfg.RootMarkers
	if len(markers) == 0 {
		markers = []string{".git"}
	}

	for dir := filepath.Dir(filePath); ; {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return c.workDir
		}
		dir = parent
	}
}

// Status returns the status of all LSP servers.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var status []ServerStatus
	for key, client := range c.clients {
		status = append(status, ServerStatus{
			ID:     client.serverID,
			Root:   client.root,
			Key:    key,
			Active: true,
		})
	}
	return status
}

// Close shuts down all language servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		client.conn.call(ctx, "shutdown", nil, nil)
		cancel()
		client.conn.notify("exit", nil)
		client.conn.close()
		if client.cmd != nil && client.cmd.Process != nil {
			client.cmd.Process.Kill()
			client.cmd.Wait()
		}
	}
	c.clients = make(map[string]*languageClient)
	return nil
}

// IsDisabled returns whether LSP is disabled.
func (c *Client) IsDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

// GetServers returns the configured servers.
func (c *Client) GetServers() map[string]*ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	servers := make(map[string]*ServerConfig, len(c.servers))
	for k, v := range c.servers {
		servers[k] = v
	}
	return servers
}
