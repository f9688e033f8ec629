// client.go implements the websocket transport: one connection per account,
// auto-reconnecting with exponential backoff (1s -> 30s max). A read deadline
// (90s, ~2 missed pings) detects silent server failures. Writes are guarded
// by a mutex so RPC requests and the ping loop never interleave frames.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Client maintains the websocket connection for one account and parses the
// inbound packet stream.
type Client struct {
	url       string
	token     string
	accountID string

	conn   *websocket.Conn
	connMu sync.Mutex

	// handler receives every parsed packet, sequentially from the read loop.
	// onConnect fires after each successful (re)connection.
	handler   func(Packet)
	onConnect func()

	logger *slog.Logger
}

// NewClient creates a transport client. The handler is invoked for every
// inbound packet from the read goroutine; onConnect may be nil.
func NewClient(wsURL, token, accountID string, handler func(Packet), logger *slog.Logger) *Client {
	return &Client{
		url:       wsURL,
		token:     token,
		accountID: accountID,
		handler:   handler,
		logger:    logger.With("component", "ws", "account_id", accountID),
	}
}

// SetOnConnect registers a callback fired after every successful connection,
// used to replay subscriptions.
func (c *Client) SetOnConnect(fn func()) { c.onConnect = fn }

// Run connects and maintains the connection with auto-reconnect. Blocks until
// ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Send marshals and writes one outbound request frame.
func (c *Client) Send(ctx context.Context, v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	header.Set("auth-token", c.token)
	header.Set("account-id", c.accountID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	c.logger.Info("websocket connected")
	if c.onConnect != nil {
		c.onConnect()
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent.
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		c.dispatchMessage(msg)
	}
}

func (c *Client) dispatchMessage(data []byte) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Debug("ignoring malformed packet", "data", string(data))
		return
	}
	if p.Type == "" {
		c.logger.Debug("packet without type", "data", string(data))
		return
	}
	c.handler(p)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				c.connMu.Unlock()
				if err != nil {
					c.logger.Warn("ping failed", "error", err)
					return
				}
				continue
			}
			c.connMu.Unlock()
		}
	}
}
