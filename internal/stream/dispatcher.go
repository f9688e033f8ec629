// dispatcher.go fans inbound packets out to registered listeners. Listeners
// implement whichever capability interfaces they care about; the terminal
// replica implements all of them, the health monitor only prices.
//
// Dispatch is sequential: listeners run in registration order and each call
// completes before the next starts, so reducers observe events in arrival
// order. A panicking listener is logged and skipped, never allowed to kill
// the read loop.
package stream

import (
	"fmt"
	"log/slog"

	"mtcloud-sdk/pkg/types"
)

// StatusListener receives connection lifecycle events.
type StatusListener interface {
	OnConnected(instanceIndex string, replicas int)
	OnDisconnected(instanceIndex string)
	OnBrokerConnectionStatusChanged(instanceIndex string, connected bool)
}

// SyncListener receives synchronization lifecycle and account events.
type SyncListener interface {
	OnSynchronizationStarted(instanceIndex string, specificationsUpdated, positionsUpdated, ordersUpdated bool)
	OnAccountInformationUpdated(instanceIndex string, accountInformation types.AccountInformation)
}

// PositionListener receives position stream events.
type PositionListener interface {
	OnPositionsReplaced(instanceIndex string, positions []types.Position)
	OnPositionsSynchronized(instanceIndex, synchronizationID string)
	OnPositionUpdated(instanceIndex string, position types.Position)
	OnPositionRemoved(instanceIndex, positionID string)
}

// OrderListener receives pending-order stream events.
type OrderListener interface {
	OnPendingOrdersReplaced(instanceIndex string, orders []types.Order)
	OnPendingOrdersSynchronized(instanceIndex, synchronizationID string)
	OnPendingOrderUpdated(instanceIndex string, order types.Order)
	OnPendingOrderCompleted(instanceIndex, orderID string)
}

// SpecificationListener receives symbol specification updates.
type SpecificationListener interface {
	OnSymbolSpecificationsUpdated(instanceIndex string, specifications []types.Specification, removedSymbols []string)
}

// PriceListener receives streaming price updates together with the optional
// account figures attached to the packet.
type PriceListener interface {
	OnSymbolPricesUpdated(instanceIndex string, prices []types.Price, update types.AccountUpdate)
}

// StreamListener is notified when the server closes an instance stream.
type StreamListener interface {
	OnStreamClosed(instanceIndex string)
}

// Dispatcher routes parsed packets to listeners.
type Dispatcher struct {
	accountID string
	logger    *slog.Logger
	listeners []any
}

// NewDispatcher creates a dispatcher for one account's event stream.
func NewDispatcher(accountID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		accountID: accountID,
		logger:    logger.With("component", "dispatcher", "account_id", accountID),
	}
}

// Register appends a listener. Registration order is dispatch order.
func (d *Dispatcher) Register(listener any) {
	d.listeners = append(d.listeners, listener)
}

// Dispatch routes one packet to every listener implementing the matching
// capability.
func (d *Dispatcher) Dispatch(p Packet) {
	switch p.Type {
	case packetAuthenticated:
		d.each(func(l any) {
			if s, ok := l.(StatusListener); ok {
				s.OnConnected(p.InstanceIndex, p.Replicas)
			}
		})
	case packetDisconnected:
		d.each(func(l any) {
			if s, ok := l.(StatusListener); ok {
				s.OnDisconnected(p.InstanceIndex)
			}
		})
	case packetStatus:
		d.each(func(l any) {
			if s, ok := l.(StatusListener); ok {
				s.OnBrokerConnectionStatusChanged(p.InstanceIndex, boolOr(p.Connected, false))
			}
		})
	case packetSynchronizationStarted:
		d.each(func(l any) {
			if s, ok := l.(SyncListener); ok {
				s.OnSynchronizationStarted(p.InstanceIndex,
					boolOr(p.SpecificationsUpdated, true),
					boolOr(p.PositionsUpdated, true),
					boolOr(p.OrdersUpdated, true))
			}
		})
	case packetAccountInformation:
		if p.AccountInformation == nil {
			return
		}
		d.each(func(l any) {
			if s, ok := l.(SyncListener); ok {
				s.OnAccountInformationUpdated(p.InstanceIndex, *p.AccountInformation)
			}
		})
	case packetPositions:
		d.each(func(l any) {
			if s, ok := l.(PositionListener); ok {
				s.OnPositionsReplaced(p.InstanceIndex, p.Positions)
			}
		})
	case packetPositionsSynchronized:
		d.each(func(l any) {
			if s, ok := l.(PositionListener); ok {
				s.OnPositionsSynchronized(p.InstanceIndex, p.SynchronizationID)
			}
		})
	case packetPositionUpdated:
		if p.Position == nil {
			return
		}
		d.each(func(l any) {
			if s, ok := l.(PositionListener); ok {
				s.OnPositionUpdated(p.InstanceIndex, *p.Position)
			}
		})
	case packetPositionRemoved:
		d.each(func(l any) {
			if s, ok := l.(PositionListener); ok {
				s.OnPositionRemoved(p.InstanceIndex, p.PositionID)
			}
		})
	case packetOrders:
		d.each(func(l any) {
			if s, ok := l.(OrderListener); ok {
				s.OnPendingOrdersReplaced(p.InstanceIndex, p.Orders)
			}
		})
	case packetOrdersSynchronized:
		d.each(func(l any) {
			if s, ok := l.(OrderListener); ok {
				s.OnPendingOrdersSynchronized(p.InstanceIndex, p.SynchronizationID)
			}
		})
	case packetOrderUpdated:
		if p.Order == nil {
			return
		}
		d.each(func(l any) {
			if s, ok := l.(OrderListener); ok {
				s.OnPendingOrderUpdated(p.InstanceIndex, *p.Order)
			}
		})
	case packetOrderCompleted:
		d.each(func(l any) {
			if s, ok := l.(OrderListener); ok {
				s.OnPendingOrderCompleted(p.InstanceIndex, p.OrderID)
			}
		})
	case packetSpecifications:
		d.each(func(l any) {
			if s, ok := l.(SpecificationListener); ok {
				s.OnSymbolSpecificationsUpdated(p.InstanceIndex, p.Specifications, p.RemovedSymbols)
			}
		})
	case packetPrices:
		update := p.accountUpdate()
		d.each(func(l any) {
			if s, ok := l.(PriceListener); ok {
				s.OnSymbolPricesUpdated(p.InstanceIndex, p.Prices, update)
			}
		})
	case packetStreamClosed:
		d.each(func(l any) {
			if s, ok := l.(StreamListener); ok {
				s.OnStreamClosed(p.InstanceIndex)
			}
		})
	case packetKeepalive:
		// Nothing to do; the read deadline handles liveness.
	default:
		d.logger.Debug("unknown packet type", "type", p.Type)
	}
}

// each runs fn for every listener, recovering from listener panics so one bad
// reducer cannot take down dispatch.
func (d *Dispatcher) each(fn func(l any)) {
	for _, l := range d.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("listener failed", "panic", fmt.Sprint(r))
				}
			}()
			fn(l)
		}()
	}
}
