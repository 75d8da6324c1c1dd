package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// readLimit covers full depth book snapshots for several pairs.
const readLimit = 1 << 20

// Client is a single websocket session. Run returns when the session ends;
// reconnecting is the caller's job.
type Client struct {
	url          string
	pingInterval time.Duration
	log          *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	reqID atomic.Int64
}

func New(url string, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{url: url, pingInterval: pingInterval, log: log}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	return nil
}

func (c *Client) Subscribe(ctx context.Context, sub map[string]any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	msg := make(map[string]any, len(sub)+1)
	for k, v := range sub {
		msg[k] = v
	}
	msg["reqid"] = c.reqID.Add(1)
	return writeJSON(ctx, conn, msg)
}

// Run reads frames until the connection fails or ctx is done, passing each
// frame to handler. The connection is released before Run returns.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	pingCtx, cancel := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(pingCtx, conn)
	}()
	err := c.readLoop(ctx, conn, handler)
	cancel()
	<-pingDone
	c.resetConn()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logReadLoopError(err)
	return err
}

func (c *Client) Close() {
	c.resetConn()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler func(json.RawMessage)) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := map[string]any{"event": "ping", "reqid": c.reqID.Add(1)}
			if err := writeJSON(ctx, conn, ping); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
