// Package health tracks connection health for one account: broker clock
// offset, quote streaming liveness, and a one-week uptime percentage sampled
// into a sliding-window reservoir.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mtcloud-sdk/internal/stats"
	"mtcloud-sdk/pkg/types"
)

// minQuoteInterval is the longest silence tolerated from an in-session
// subscribed symbol before quote streaming counts as unhealthy.
const minQuoteInterval = 60 * time.Second

const brokerTimeLayout = "2006-01-02 15:04:05.000000"

var dayNames = [...]string{
	"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY",
}

// ConnectionState is the view of the connection the monitor reads. The
// streaming connection implements it.
type ConnectionState interface {
	Connected() bool
	ConnectedToBroker() bool
	Synchronized() bool
	SubscribedSymbols() []string
	Specification(symbol string) (types.Specification, bool)
}

// Status is a point-in-time health report.
type Status struct {
	Connected             bool
	ConnectedToBroker     bool
	QuoteStreamingHealthy bool
	Synchronized          bool
	Healthy               bool
	Message               string
}

// Monitor derives health booleans and uptime from the connection state. Two
// background jobs tick once per second between Start and Stop; everything
// else is passive reads.
type Monitor struct {
	accountID string
	conn      ConnectionState
	logger    *slog.Logger
	metrics   *Metrics

	mu             sync.Mutex
	quotesHealthy  bool
	offset         time.Duration // local clock minus broker clock
	priceUpdatedAt time.Time
	uptime         *stats.Reservoir

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for one account. metrics may be nil when gauge
// export is not wanted.
func NewMonitor(accountID string, conn ConnectionState, logger *slog.Logger, metrics *Metrics) *Monitor {
	return &Monitor{
		accountID: accountID,
		conn:      conn,
		logger:    logger.With("component", "health", "account_id", accountID),
		metrics:   metrics,
		uptime:    stats.NewReservoir(24*7, 7*24*time.Hour),
		now:       time.Now,
	}
}

// Start launches the quote-health and uptime jobs. Stop (or ctx cancellation)
// ends them.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(2)
	go m.runJob(ctx, m.updateQuoteHealth)
	go m.runJob(ctx, m.measureUptime)
}

// Stop terminates the background jobs and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) runJob(ctx context.Context, tick func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeTick(tick)
		}
	}
}

// safeTick runs one job tick, never letting a panic kill the job.
func (m *Monitor) safeTick(tick func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health job tick failed", "panic", fmt.Sprint(r))
		}
	}()
	tick()
}

// OnSymbolPricesUpdated records the broker clock offset from the freshest
// price. It implements the price listener interface of the event dispatcher.
func (m *Monitor) OnSymbolPricesUpdated(instanceIndex string, prices []types.Price, update types.AccountUpdate) {
	for _, price := range prices {
		brokerTime, err := time.Parse(brokerTimeLayout, price.BrokerTime)
		if err != nil {
			m.logger.Error("failed to update quote streaming health status on price update",
				"symbol", price.Symbol, "broker_time", price.BrokerTime, "error", err)
			continue
		}
		m.mu.Lock()
		m.priceUpdatedAt = m.now()
		m.offset = m.priceUpdatedAt.Sub(brokerTime)
		m.mu.Unlock()
	}
}

// HealthStatus composes the current health booleans and a human-readable
// message enumerating the failing parts.
func (m *Monitor) HealthStatus() Status {
	m.mu.Lock()
	quotesHealthy := m.quotesHealthy
	m.mu.Unlock()

	s := Status{
		Connected:             m.conn.Connected(),
		ConnectedToBroker:     m.conn.ConnectedToBroker(),
		QuoteStreamingHealthy: quotesHealthy,
		Synchronized:          m.conn.Synchronized(),
	}
	s.Healthy = s.Connected && s.ConnectedToBroker && s.QuoteStreamingHealthy && s.Synchronized
	if s.Healthy {
		s.Message = "Connection to broker is stable. No health issues detected."
		return s
	}
	var reasons []string
	if !s.Connected {
		reasons = append(reasons, "connection to API server is not established or lost")
	}
	if !s.ConnectedToBroker {
		reasons = append(reasons, "connection to broker is not established or lost")
	}
	if !s.Synchronized {
		reasons = append(reasons, "local terminal state is not synchronized to broker")
	}
	if !s.QuoteStreamingHealthy {
		reasons = append(reasons, "quotes are not streamed from the broker properly")
	}
	s.Message = "Connection is not healthy because " + strings.Join(reasons, " and ") + "."
	return s
}

// Uptime returns the uptime percentage measured over the trailing week.
func (m *Monitor) Uptime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uptime.Statistics().Average
}

// measureUptime pushes one 100/0 sample and refreshes the exported gauges.
func (m *Monitor) measureUptime() {
	status := m.HealthStatus()

	m.mu.Lock()
	if status.Healthy {
		m.uptime.Push(100)
	} else {
		m.uptime.Push(0)
	}
	uptime := m.uptime.Statistics().Average
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Observe(status, uptime)
	}
}

// updateQuoteHealth recomputes the quote streaming flag: quotes are healthy
// when nothing is subscribed, no subscribed symbol is inside a quote session
// right now, or a price arrived within the last minute.
func (m *Monitor) updateQuoteHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	serverTime := m.now().Add(-m.offset)
	day := dayNames[(int(serverTime.Weekday())+6)%7]
	clock := serverTime.Format("15:04:05.000000")

	symbols := m.conn.SubscribedSymbols()
	inSession := false
	for _, symbol := range symbols {
		specification, ok := m.conn.Specification(symbol)
		if !ok {
			continue
		}
		for _, session := range specification.QuoteSessions[day] {
			if session.From <= clock && clock <= session.To {
				inSession = true
			}
		}
	}

	recentPrice := !m.priceUpdatedAt.IsZero() &&
		m.now().Sub(m.priceUpdatedAt) < minQuoteInterval
	m.quotesHealthy = len(symbols) == 0 || !inSession || recentPrice
}
