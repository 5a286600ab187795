package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/dwnsync/internal/dwn"
)

// DefaultHandshakeTimeout bounds the websocket opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

var errConnectionClosed = errors.New("connection closed")

// WebSocket sends messages as JSON-RPC over one persistent connection per
// endpoint. Responses are matched to requests by id, so many requests may
// be in flight on one connection. A broken connection fails its pending
// requests and is redialed on the next send.
type WebSocket struct {
	dialer *websocket.Dialer
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*wsConn
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketLogger sets the logger for connection-level diagnostics.
func WithWebSocketLogger(l *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = l
	}
}

// NewWebSocket creates a websocket transport.
func NewWebSocket(handshakeTimeout time.Duration, opts ...WebSocketOption) *WebSocket {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	w := &WebSocket{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger: slog.Default(),
		conns:  make(map[string]*wsConn),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebSocket) Schemes() []string {
	return []string{"ws", "wss"}
}

func (w *WebSocket) SendDwnRequest(ctx context.Context, endpoint string, req *Request) (*dwn.Reply, error) {
	conn, err := w.connect(ctx, endpoint)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	rpcReq := NewRPCRequest(req.Target, req.Message)
	if req.Data != nil && req.Message != nil {
		rpcReq.Params.Message = req.Message.WithoutData()
		rpcReq.Params.EncodedData = req.Data
	}

	resp, err := conn.call(ctx, rpcReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: ctx.Err()}
		}
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	reply, err := resp.reply()
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	return reply, nil
}

// connect returns the live connection for endpoint, dialing if needed.
func (w *WebSocket) connect(ctx context.Context, endpoint string) (*wsConn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.conns[endpoint]; ok && !c.isClosed() {
		return c, nil
	}

	ws, _, err := w.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := newWSConn(ws, endpoint, w.logger)
	w.conns[endpoint] = c
	go c.readLoop()
	return c, nil
}

// Close closes all connections.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for endpoint, c := range w.conns {
		c.close(errConnectionClosed)
		delete(w.conns, endpoint)
	}
	return nil
}

type wsConn struct {
	ws       *websocket.Conn
	endpoint string
	logger   *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *RPCResponse
	closed  bool
	err     error
}

func newWSConn(ws *websocket.Conn, endpoint string, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:       ws,
		endpoint: endpoint,
		logger:   logger,
		pending:  make(map[string]chan *RPCResponse),
	}
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) call(ctx context.Context, req *RPCRequest) (*RPCResponse, error) {
	ch := make(chan *RPCResponse, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.close(fmt.Errorf("write: %w", err))
		return nil, fmt.Errorf("write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return nil, err
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop delivers responses to pending calls until the connection fails.
func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(fmt.Errorf("read: %w", err))
			return
		}
		resp, err := decodeResponse(data)
		if err != nil {
			c.logger.Warn("discarding malformed websocket response", "endpoint", c.endpoint, "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// close fails all pending calls with err. Safe to call more than once.
func (c *wsConn) close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[string]chan *RPCResponse)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	_ = c.ws.Close()
}
