package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/diffview/pkg/types"
)

// TestServer_MCPClient drives the review tools over stdio with the
// modelcontextprotocol go-sdk client.
func TestServer_MCPClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mcpServer, root := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# Notes\n"), 0644))
	stdioServer := server.NewStdioServer(mcpServer)

	// serverReader <- clientWriter, clientReader <- serverWriter
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	go func() {
		_ = stdioServer.Listen(ctx, serverReader, serverWriter)
	}()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	transport := &sdkmcp.IOTransport{
		Reader: clientReader,
		Writer: clientWriter,
	}

	session, err := client.Connect(ctx, transport, nil)
	require.NoError(t, err, "failed to connect client to server")
	defer session.Close()

	listResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"review_open", "review_update", "review_edit", "review_approve", "review_reject", "review_status"}, names)

	callJSON := func(name string, args map[string]any, v any) {
		t.Helper()
		result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
		require.NoError(t, err, "failed to call %s", name)
		require.NotEmpty(t, result.Content)
		textContent, ok := result.Content[0].(*sdkmcp.TextContent)
		require.True(t, ok, "content should be TextContent")
		require.False(t, result.IsError, textContent.Text)
		require.NoError(t, json.Unmarshal([]byte(textContent.Text), v))
	}

	var opened types.Review
	callJSON("review_open", map[string]any{"path": "notes.md"}, &opened)
	require.NotEmpty(t, opened.ID)

	var updated types.Review
	callJSON("review_update", map[string]any{"id": opened.ID, "content": "# Notes\n\n- ship it\n", "final": true}, &updated)
	assert.Equal(t, types.ReviewFinal, updated.Status)

	var res types.ReviewResult
	callJSON("review_approve", map[string]any{"id": opened.ID}, &res)
	assert.Equal(t, "# Notes\n\n- ship it\n", res.FinalContent)

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "review_approve", Arguments: map[string]any{"id": opened.ID}})
	require.NoError(t, err)
	assert.True(t, result.IsError, "second approve should fail")

	cancel()
	clientWriter.Close()
	serverWriter.Close()
}
