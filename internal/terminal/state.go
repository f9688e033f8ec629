// Package terminal maintains a local replica of the remote trading terminal
// state: account information, open positions, pending orders, symbol
// specifications and streaming prices.
//
// The service may run several replicas ("instances") of one account; the
// State keeps an independent snapshot per instance index and resolves every
// read through best-state selection, so consumers always see the most
// synchronized view available. Events are reduced into snapshots in arrival
// order per instance; the replica is volatile and rebuilt on every
// synchronization.
package terminal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"mtcloud-sdk/pkg/types"
)

// tombstoneTTL is how long removed-position / completed-order ids suppress
// late out-of-order updates.
const tombstoneTTL = 5 * time.Minute

// snapshot is the full terminal state of one account instance.
type snapshot struct {
	instanceIndex         string
	connected             bool
	connectedToBroker     bool
	accountInformation    *types.AccountInformation
	positions             []*types.Position
	orders                []*types.Order
	specificationsBySymbol map[string]*types.Specification
	pricesBySymbol        map[string]*types.Price
	completedOrders       map[string]float64 // order id -> tombstone epoch seconds
	removedPositions      map[string]float64 // position id -> tombstone epoch seconds
	ordersInitialized     bool
	positionsInitialized  bool
	lastUpdateTime        float64 // max price time seen, epoch seconds
	initializationCounter int     // 0 none, 1 account info, 2 positions, 3 orders
	specificationCount    int
}

func newSnapshot(instanceIndex string) *snapshot {
	return &snapshot{
		instanceIndex:          instanceIndex,
		specificationsBySymbol: make(map[string]*types.Specification),
		pricesBySymbol:         make(map[string]*types.Price),
		completedOrders:        make(map[string]float64),
		removedPositions:       make(map[string]float64),
	}
}

// State is the terminal-state replica. It registers as a synchronization
// listener and owns its snapshots exclusively; readers get copies.
type State struct {
	mu           sync.Mutex
	byInstance   map[string]*snapshot
	priceWaiters map[string][]chan struct{}

	now func() time.Time
}

// NewState creates an empty replica.
func NewState() *State {
	return &State{
		byInstance:   make(map[string]*snapshot),
		priceWaiters: make(map[string][]chan struct{}),
		now:          time.Now,
	}
}

// Connected reports whether any instance is connected to the terminal.
func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.byInstance {
		if st.connected {
			return true
		}
	}
	return false
}

// ConnectedToBroker reports whether any instance reports a live broker link.
func (s *State) ConnectedToBroker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.byInstance {
		if st.connectedToBroker {
			return true
		}
	}
	return false
}

// Synchronized reports whether at least one instance exists and every
// present instance has completed all three synchronization stages.
func (s *State) Synchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byInstance) == 0 {
		return false
	}
	for _, st := range s.byInstance {
		if st.initializationCounter != 3 {
			return false
		}
	}
	return true
}

// AccountInformation returns the best snapshot's account information, or nil
// before the first account update.
func (s *State) AccountInformation() *types.AccountInformation {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.bestStateLocked("", "")
	if st.accountInformation == nil {
		return nil
	}
	ai := *st.accountInformation
	return &ai
}

// Positions returns a copy of the open positions of the best snapshot.
func (s *State) Positions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.bestStateLocked("", "")
	out := make([]types.Position, len(st.positions))
	for i, p := range st.positions {
		out[i] = *p
	}
	return out
}

// Orders returns a copy of the pending orders of the best snapshot.
func (s *State) Orders() []types.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.bestStateLocked("", "")
	out := make([]types.Order, len(st.orders))
	for i, o := range st.orders {
		out[i] = *o
	}
	return out
}

// Specifications returns the best snapshot's symbol specifications sorted by
// symbol.
func (s *State) Specifications() []types.Specification {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.bestStateLocked("", "")
	out := make([]types.Specification, 0, len(st.specificationsBySymbol))
	for _, spec := range st.specificationsBySymbol {
		out = append(out, *spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Specification returns the specification for a symbol from the best
// snapshot that actually has it.
func (s *State) Specification(symbol string) (types.Specification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specificationLocked(symbol)
}

func (s *State) specificationLocked(symbol string) (types.Specification, bool) {
	st := s.bestStateLocked(symbol, "specification")
	if spec, ok := st.specificationsBySymbol[symbol]; ok {
		return *spec, true
	}
	return types.Specification{}, false
}

// Price returns the latest price for a symbol from the best snapshot that
// actually has it.
func (s *State) Price(symbol string) (types.Price, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.bestStateLocked(symbol, "price")
	if p, ok := st.pricesBySymbol[symbol]; ok {
		return *p, true
	}
	return types.Price{}, false
}

// WaitForPrice returns the price for symbol, parking until the next matching
// price update when none is known yet. It fails with types.ErrTimeout when
// the timeout elapses first.
func (s *State) WaitForPrice(ctx context.Context, symbol string, timeout time.Duration) (types.Price, error) {
	s.mu.Lock()
	if st := s.bestStateLocked(symbol, "price"); st.pricesBySymbol[symbol] != nil {
		p := *st.pricesBySymbol[symbol]
		s.mu.Unlock()
		return p, nil
	}
	ch := make(chan struct{})
	s.priceWaiters[symbol] = append(s.priceWaiters[symbol], ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		if p, ok := s.Price(symbol); ok {
			return p, nil
		}
		return types.Price{}, fmt.Errorf("price for %s vanished after update", symbol)
	case <-timer.C:
		return types.Price{}, fmt.Errorf("waiting for %s price: %w", symbol, types.ErrTimeout)
	case <-ctx.Done():
		return types.Price{}, ctx.Err()
	}
}

// OnConnected marks an instance as connected to the terminal.
func (s *State) OnConnected(instanceIndex string, replicas int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStateLocked(instanceIndex).connected = true
}

// OnDisconnected marks an instance as disconnected.
func (s *State) OnDisconnected(instanceIndex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.connected = false
	st.connectedToBroker = false
}

// OnBrokerConnectionStatusChanged records the terminal-to-broker link state.
func (s *State) OnBrokerConnectionStatusChanged(instanceIndex string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStateLocked(instanceIndex).connectedToBroker = connected
}

// OnSynchronizationStarted resets the parts of the snapshot the server is
// about to resend.
func (s *State) OnSynchronizationStarted(instanceIndex string, specificationsUpdated, positionsUpdated, ordersUpdated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.accountInformation = nil
	st.pricesBySymbol = make(map[string]*types.Price)
	st.initializationCounter = 0
	if positionsUpdated {
		st.positions = nil
		st.removedPositions = make(map[string]float64)
		st.positionsInitialized = false
	}
	if ordersUpdated {
		st.orders = nil
		st.completedOrders = make(map[string]float64)
		st.ordersInitialized = false
	}
	if specificationsUpdated {
		st.specificationsBySymbol = make(map[string]*types.Specification)
		st.specificationCount = 0
	}
}

// OnAccountInformationUpdated stores account information and advances the
// initialization counter to the first stage.
func (s *State) OnAccountInformationUpdated(instanceIndex string, accountInformation types.AccountInformation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	ai := accountInformation
	st.accountInformation = &ai
	if st.initializationCounter < 1 {
		st.initializationCounter = 1
	}
}

// OnPositionsReplaced replaces the position list wholesale.
func (s *State) OnPositionsReplaced(instanceIndex string, positions []types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.positions = make([]*types.Position, len(positions))
	for i := range positions {
		p := positions[i]
		st.positions[i] = &p
	}
}

// OnPositionsSynchronized marks position sync complete and clears position
// tombstones.
func (s *State) OnPositionsSynchronized(instanceIndex, synchronizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.removedPositions = make(map[string]float64)
	st.positionsInitialized = true
	if st.initializationCounter < 2 {
		st.initializationCounter = 2
	}
}

// OnPositionUpdated upserts a position by id. Updates for tombstoned ids are
// dropped so late events cannot resurrect a removed position.
func (s *State) OnPositionUpdated(instanceIndex string, position types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	for i, p := range st.positions {
		if p.ID == position.ID {
			cp := position
			st.positions[i] = &cp
			return
		}
	}
	if _, tombstoned := st.removedPositions[position.ID]; !tombstoned {
		cp := position
		st.positions = append(st.positions, &cp)
	}
}

// OnPositionRemoved removes a position, or records a tombstone when the
// position is unknown (removal arrived before the update). Expired
// tombstones are purged on the way.
func (s *State) OnPositionRemoved(instanceIndex, positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	for i, p := range st.positions {
		if p.ID == positionID {
			st.positions = append(st.positions[:i], st.positions[i+1:]...)
			return
		}
	}
	nowSec := float64(s.now().UnixNano()) / 1e9
	for id, stamp := range st.removedPositions {
		if stamp+tombstoneTTL.Seconds() < nowSec {
			delete(st.removedPositions, id)
		}
	}
	st.removedPositions[positionID] = nowSec
}

// OnPendingOrdersReplaced replaces the pending order list wholesale.
func (s *State) OnPendingOrdersReplaced(instanceIndex string, orders []types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.orders = make([]*types.Order, len(orders))
	for i := range orders {
		o := orders[i]
		st.orders[i] = &o
	}
}

// OnPendingOrdersSynchronized marks order sync complete; the snapshot is now
// fully initialized.
func (s *State) OnPendingOrdersSynchronized(instanceIndex, synchronizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	st.completedOrders = make(map[string]float64)
	st.ordersInitialized = true
	if st.initializationCounter < 3 {
		st.initializationCounter = 3
	}
}

// OnPendingOrderUpdated upserts a pending order by id unless tombstoned.
func (s *State) OnPendingOrderUpdated(instanceIndex string, order types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	for i, o := range st.orders {
		if o.ID == order.ID {
			cp := order
			st.orders[i] = &cp
			return
		}
	}
	if _, tombstoned := st.completedOrders[order.ID]; !tombstoned {
		cp := order
		st.orders = append(st.orders, &cp)
	}
}

// OnPendingOrderCompleted removes a completed order or records a tombstone,
// symmetric to position removal.
func (s *State) OnPendingOrderCompleted(instanceIndex, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	for i, o := range st.orders {
		if o.ID == orderID {
			st.orders = append(st.orders[:i], st.orders[i+1:]...)
			return
		}
	}
	nowSec := float64(s.now().UnixNano()) / 1e9
	for id, stamp := range st.completedOrders {
		if stamp+tombstoneTTL.Seconds() < nowSec {
			delete(st.completedOrders, id)
		}
	}
	st.completedOrders[orderID] = nowSec
}

// OnSymbolSpecificationsUpdated upserts and removes symbol specifications.
func (s *State) OnSymbolSpecificationsUpdated(instanceIndex string, specifications []types.Specification, removedSymbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)
	for i := range specifications {
		spec := specifications[i]
		st.specificationsBySymbol[spec.Symbol] = &spec
	}
	for _, symbol := range removedSymbols {
		delete(st.specificationsBySymbol, symbol)
	}
	st.specificationCount = len(st.specificationsBySymbol)
}

// OnSymbolPricesUpdated stores prices, recomputes position P&L and order
// current prices, resolves price waiters and refreshes the account equity
// figures.
func (s *State) OnSymbolPricesUpdated(instanceIndex string, prices []types.Price, update types.AccountUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getStateLocked(instanceIndex)

	st.lastUpdateTime = 0
	for _, p := range prices {
		if t := float64(p.Time.UnixNano()) / 1e9; t > st.lastUpdateTime {
			st.lastUpdateTime = t
		}
	}

	pricesInitialized := false
	for i := range prices {
		price := prices[i]
		st.pricesBySymbol[price.Symbol] = &price
		pricesInitialized = true

		for _, position := range st.positions {
			if position.Symbol == price.Symbol {
				s.updatePositionProfits(position, &price)
				continue
			}
			// Positions on other symbols only count as priced when a quote
			// for their symbol has already arrived.
			if other, ok := st.pricesBySymbol[position.Symbol]; ok {
				if position.UnrealizedProfit == nil {
					s.updatePositionProfits(position, other)
				}
			} else {
				pricesInitialized = false
			}
		}

		for _, order := range st.orders {
			if order.Symbol != price.Symbol {
				continue
			}
			current := price.Bid
			if types.IsBuyOrderType(order.Type) {
				current = price.Ask
			}
			cp := current
			order.CurrentPrice = &cp
		}

		// Resolve single-shot waiters before the handler returns so awaiters
		// observe at least the price that woke them.
		if waiters := s.priceWaiters[price.Symbol]; len(waiters) > 0 {
			for _, ch := range waiters {
				close(ch)
			}
			delete(s.priceWaiters, price.Symbol)
		}
	}

	if st.accountInformation != nil {
		s.updateAccountFigures(st, update, pricesInitialized)
	}
}

// updateAccountFigures recomputes equity from position contributions when the
// snapshot is fully priced, otherwise falls back to the server-supplied value
// or keeps the previous one. The marginLevel propagation is gated on
// freeMargin, matching the upstream service behaviour; see the pinning test.
func (s *State) updateAccountFigures(st *snapshot, update types.AccountUpdate, pricesInitialized bool) {
	ai := st.accountInformation
	if st.positionsInitialized && pricesInitialized {
		var equity float64
		if update.Equity != nil {
			equity = *update.Equity
		} else {
			equity = ai.Balance
			for _, p := range st.positions {
				var unrealized float64
				if p.UnrealizedProfit != nil {
					unrealized = *p.UnrealizedProfit
				}
				equity += roundCents(unrealized) + roundCents(p.Swap)
				if ai.Platform != types.PlatformMT5 {
					equity += roundCents(p.Commission)
				}
			}
		}
		equity = roundCents(equity)
		ai.Equity = &equity
	} else if truthy(update.Equity) {
		ai.Equity = update.Equity
	}
	if truthy(update.Margin) {
		ai.Margin = update.Margin
	}
	if truthy(update.FreeMargin) {
		ai.FreeMargin = update.FreeMargin
	}
	if truthy(update.FreeMargin) {
		ai.MarginLevel = update.MarginLevel
	}
}

// OnStreamClosed drops the snapshot for an instance whose stream ended.
func (s *State) OnStreamClosed(instanceIndex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byInstance, instanceIndex)
}

// updatePositionProfits recomputes a position's unrealized/realized split and
// marks it to the given price. The first recompute captures realizedProfit
// from the pre-update profit before unrealized is replaced.
func (s *State) updatePositionProfits(position *types.Position, price *types.Price) {
	specification, ok := s.specificationLocked(position.Symbol)
	if !ok {
		return
	}
	multiplier := math.Pow(10, float64(specification.Digits))
	position.Profit = math.Round(position.Profit*multiplier) / multiplier
	if position.UnrealizedProfit == nil || position.RealizedProfit == nil {
		sign := 1.0
		if position.Type != types.PositionTypeBuy {
			sign = -1
		}
		unrealized := sign * (position.CurrentPrice - position.OpenPrice) *
			position.CurrentTickValue * position.Volume / specification.TickSize
		unrealized = math.Round(unrealized*multiplier) / multiplier
		realized := position.Profit - unrealized
		position.UnrealizedProfit = &unrealized
		position.RealizedProfit = &realized
	}

	sign := 1.0
	if position.Type != types.PositionTypeBuy {
		sign = -1
	}
	newPrice := price.Bid
	if position.Type != types.PositionTypeBuy {
		newPrice = price.Ask
	}
	isProfitable := sign * (newPrice - position.OpenPrice)
	tickValue := price.LossTickValue
	if isProfitable > 0 {
		tickValue = price.ProfitTickValue
	}
	unrealized := sign * (newPrice - position.OpenPrice) * tickValue *
		position.Volume / specification.TickSize
	unrealized = math.Round(unrealized*multiplier) / multiplier
	position.UnrealizedProfit = &unrealized
	profit := math.Round((unrealized+*position.RealizedProfit)*multiplier) / multiplier
	position.Profit = profit
	position.CurrentPrice = newPrice
	position.CurrentTickValue = tickValue
}

func (s *State) getStateLocked(instanceIndex string) *snapshot {
	st, ok := s.byInstance[instanceIndex]
	if !ok {
		st = newSnapshot(instanceIndex)
		s.byInstance[instanceIndex] = st
	}
	return st
}

// bestStateLocked selects the snapshot reads resolve through: highest
// initialization counter, ties broken by lastUpdateTime for fully
// synchronized snapshots and by specification count for uninitialized ones.
// The optional symbol/mode filter restricts candidates to snapshots that
// actually hold the symbol in the chosen sub-map. Returns an empty
// placeholder when nothing qualifies.
func (s *State) bestStateLocked(symbol, mode string) *snapshot {
	keys := make([]string, 0, len(s.byInstance))
	for k := range s.byInstance {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result *snapshot
	maxUpdateTime := -1.0
	maxCounter := -1
	maxSpecCount := -1
	for _, k := range keys {
		st := s.byInstance[k]
		better := maxCounter < st.initializationCounter ||
			(maxCounter == st.initializationCounter && maxCounter == 3 && maxUpdateTime < st.lastUpdateTime) ||
			(maxCounter == st.initializationCounter && maxCounter == 0 && maxSpecCount < st.specificationCount)
		if !better {
			continue
		}
		if symbol != "" {
			switch mode {
			case "specification":
				if _, ok := st.specificationsBySymbol[symbol]; !ok {
					continue
				}
			case "price":
				if _, ok := st.pricesBySymbol[symbol]; !ok {
					continue
				}
			}
		}
		maxUpdateTime = st.lastUpdateTime
		maxCounter = st.initializationCounter
		maxSpecCount = st.specificationCount
		result = st
	}
	if result == nil {
		return newSnapshot("")
	}
	return result
}

// roundCents rounds to two decimals, half away from zero.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// truthy mirrors the upstream optional-float semantics where both an absent
// and a zero value leave the previous figure in place.
func truthy(v *float64) bool {
	return v != nil && *v != 0
}
