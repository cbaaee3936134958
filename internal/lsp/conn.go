package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

// notificationHandler receives notifications sent by the peer.
type notificationHandler func(method string, params json.RawMessage)

// jsonrpcConn manages JSON-RPC communication over a Content-Length framed
// stream. Requests from the peer are answered with a null result.
type jsonrpcConn struct {
	in       *bufio.Reader
	out      io.WriteCloser
	onNotify notificationHandler

	nextID  int64
	mu      sync.Mutex
	pending map[int64]chan *JSONRPCMessage
	closed  bool

	writeMu sync.Mutex
	done    chan struct{}
}

func newConn(in io.Reader, out io.WriteCloser, onNotify notificationHandler) *jsonrpcConn {
	c := &jsonrpcConn{
		in:       bufio.NewReader(in),
		out:      out,
		onNotify: onNotify,
		pending:  make(map[int64]chan *JSONRPCMessage),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop dispatches incoming messages until the stream ends.
func (c *jsonrpcConn) readLoop() {
	defer close(c.done)
	for {
		msg, err := c.readMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = make(map[int64]chan *JSONRPCMessage)
			c.mu.Unlock()
			return
		}

		switch {
		case msg.Method != "" && len(msg.ID) > 0:
			reply := JSONRPCReply{JSONRPC: "2.0", ID: msg.ID}
			if err := c.writeMessage(reply); err != nil {
				log.Debug().Err(err).Str("method", msg.Method).Msg("failed to answer server request")
			}
		case msg.Method != "":
			if c.onNotify != nil {
				c.onNotify(msg.Method, msg.Params)
			}
		default:
			id, err := strconv.ParseInt(string(msg.ID), 10, 64)
			if err != nil {
				continue
			}
			c.mu.Lock()
			if ch, ok := c.pending[id]; ok {
				ch <- msg
				delete(c.pending, id)
			}
			c.mu.Unlock()
		}
	}
}

// readMessage reads a single JSON-RPC message.
func (c *jsonrpcConn) readMessage() (*JSONRPCMessage, error) {
	var contentLength int
	for {
		line, err := c.in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
		}
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("no content-length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.in, body); err != nil {
		return nil, err
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// call sends a request and waits for a response.
func (c *jsonrpcConn) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnClosed
	}
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan *JSONRPCMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeMessage(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return errConnClosed
		}
		if resp.Error != nil {
			return fmt.Errorf("LSP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// notify sends a notification (no response expected).
func (c *jsonrpcConn) notify(method string, params any) error {
	return c.writeMessage(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *jsonrpcConn) writeMessage(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := io.WriteString(c.out, header); err != nil {
		return err
	}
	_, err = c.out.Write(body)
	return err
}

func (c *jsonrpcConn) close() error {
	return c.out.Close()
}
