// Package stream implements the streaming connection for one trading
// account: websocket transport, packet dispatch to the terminal replica and
// health monitor, request/response correlation and the typed trade facade.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mtcloud-sdk/internal/health"
	"mtcloud-sdk/internal/terminal"
	"mtcloud-sdk/pkg/types"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultSyncPoll       = time.Second
)

// Transport writes outbound request frames. The websocket client implements
// it; tests substitute a fake.
type Transport interface {
	Send(ctx context.Context, v any) error
}

// Connection owns the event pipeline for one account: it feeds inbound
// packets to the terminal replica and health monitor, correlates RPC
// responses, and tracks market data subscriptions.
type Connection struct {
	accountID  string
	transport  Transport
	client     *Client
	state      *terminal.State
	monitor    *health.Monitor
	dispatcher *Dispatcher
	calls      *correlator
	limits     *RateLimiter
	logger     *slog.Logger

	subMu      sync.RWMutex
	subscribed map[string]bool

	requestTimeout time.Duration
	syncPoll       time.Duration
	newRequestID   func() string
}

// NewConnection creates a connection with its own websocket transport.
// metrics may be nil.
func NewConnection(wsURL, token, accountID string, logger *slog.Logger, metrics *health.Metrics) *Connection {
	c := newConnection(accountID, nil, logger, metrics)
	client := NewClient(wsURL, token, accountID, c.handlePacket, logger)
	client.SetOnConnect(c.replaySubscriptions)
	c.transport = client
	c.client = client
	return c
}

func newConnection(accountID string, transport Transport, logger *slog.Logger, metrics *health.Metrics) *Connection {
	c := &Connection{
		accountID:      accountID,
		transport:      transport,
		state:          terminal.NewState(),
		calls:          newCorrelator(),
		limits:         NewRateLimiter(),
		logger:         logger.With("component", "connection", "account_id", accountID),
		subscribed:     make(map[string]bool),
		requestTimeout: defaultRequestTimeout,
		syncPoll:       defaultSyncPoll,
		newRequestID:   uuid.NewString,
	}
	c.dispatcher = NewDispatcher(accountID, logger)
	c.dispatcher.Register(c.state)
	c.monitor = health.NewMonitor(accountID, c, logger, metrics)
	c.dispatcher.Register(c.monitor)
	return c
}

// Run starts the health monitor jobs and drives the websocket transport.
// Blocks until ctx is cancelled.
func (c *Connection) Run(ctx context.Context) error {
	c.monitor.Start(ctx)
	defer c.monitor.Stop()
	if c.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return c.client.Run(ctx)
}

// State returns the terminal-state replica.
func (c *Connection) State() *terminal.State { return c.state }

// HealthMonitor returns the connection health monitor.
func (c *Connection) HealthMonitor() *health.Monitor { return c.monitor }

// AddListener registers an additional packet listener behind the built-in
// replica and health monitor.
func (c *Connection) AddListener(listener any) { c.dispatcher.Register(listener) }

// Connected reports whether any instance is connected to the terminal.
func (c *Connection) Connected() bool { return c.state.Connected() }

// ConnectedToBroker reports whether the terminal reports a live broker link.
func (c *Connection) ConnectedToBroker() bool { return c.state.ConnectedToBroker() }

// Synchronized reports whether every present instance finished all
// synchronization stages.
func (c *Connection) Synchronized() bool { return c.state.Synchronized() }

// Specification resolves a symbol specification from the replica.
func (c *Connection) Specification(symbol string) (types.Specification, bool) {
	return c.state.Specification(symbol)
}

// SubscribedSymbols returns the currently subscribed market data symbols.
func (c *Connection) SubscribedSymbols() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	symbols := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		symbols = append(symbols, s)
	}
	return symbols
}

// WaitSynchronized blocks until every present instance reaches full
// synchronization, failing with types.ErrTimeout when timeout elapses first.
func (c *Connection) WaitSynchronized(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.syncPoll)
	defer ticker.Stop()

	for {
		if c.state.Synchronized() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("waiting for synchronization: %w", types.ErrTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reconnect asks the server to tear down and rebuild the account stream.
func (c *Connection) Reconnect(ctx context.Context) error {
	if err := c.limits.Control.Wait(ctx); err != nil {
		return err
	}
	_, err := c.request(ctx, requestReconnect, nil)
	return err
}

// SubscribeToMarketData subscribes the account to streaming prices for a
// symbol. The subscription survives reconnects.
func (c *Connection) SubscribeToMarketData(ctx context.Context, symbol string) error {
	if symbol == "" {
		return &types.ValidationError{Message: "symbol is required"}
	}
	if err := c.limits.Subscribe.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.request(ctx, requestSubscribe, map[string]any{"symbol": symbol}); err != nil {
		return err
	}
	c.subMu.Lock()
	c.subscribed[symbol] = true
	c.subMu.Unlock()
	return nil
}

// UnsubscribeFromMarketData removes a market data subscription.
func (c *Connection) UnsubscribeFromMarketData(ctx context.Context, symbol string) error {
	if symbol == "" {
		return &types.ValidationError{Message: "symbol is required"}
	}
	if err := c.limits.Subscribe.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.request(ctx, requestUnsubscribe, map[string]any{"symbol": symbol}); err != nil {
		return err
	}
	c.subMu.Lock()
	delete(c.subscribed, symbol)
	c.subMu.Unlock()
	return nil
}

// handlePacket routes one inbound packet: responses and errors resolve
// pending RPC calls, everything else goes through the dispatcher.
func (c *Connection) handlePacket(p Packet) {
	switch p.Type {
	case packetResponse, packetError:
		c.calls.deliver(p)
	default:
		c.dispatcher.Dispatch(p)
	}
}

// request sends one correlated request and waits for its response packet.
func (c *Connection) request(ctx context.Context, reqType string, payload map[string]any) (*types.TradeResponse, error) {
	id := c.newRequestID()
	req := map[string]any{
		"type":      reqType,
		"accountId": c.accountID,
		"requestId": id,
	}
	for k, v := range payload {
		req[k] = v
	}

	ch := c.calls.register(id)
	if err := c.transport.Send(ctx, req); err != nil {
		c.calls.forget(id)
		return nil, fmt.Errorf("send %s request: %w", reqType, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.response, res.err
	case <-timer.C:
		c.calls.forget(id)
		return nil, fmt.Errorf("%s request %s: %w", reqType, id, types.ErrTimeout)
	case <-ctx.Done():
		c.calls.forget(id)
		return nil, ctx.Err()
	}
}

// replaySubscriptions re-sends the subscription set after a reconnect. Fire
// and forget: failures are logged, the server's resynchronization covers the
// rest.
func (c *Connection) replaySubscriptions() {
	for _, symbol := range c.SubscribedSymbols() {
		req := map[string]any{
			"type":      requestSubscribe,
			"accountId": c.accountID,
			"requestId": c.newRequestID(),
			"symbol":    symbol,
		}
		if err := c.transport.Send(context.Background(), req); err != nil {
			c.logger.Warn("failed to replay subscription", "symbol", symbol, "error", err)
		}
	}
}
