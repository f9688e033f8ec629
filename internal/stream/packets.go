// packets.go defines the websocket wire envelope. Every inbound message is a
// single JSON object with a "type" discriminator; the remaining fields are
// populated per type and left zero otherwise.
package stream

import (
	"mtcloud-sdk/pkg/types"
)

// Inbound packet types.
const (
	packetAuthenticated          = "authenticated"
	packetDisconnected           = "disconnected"
	packetStatus                 = "status"
	packetSynchronizationStarted = "synchronizationStarted"
	packetAccountInformation     = "accountInformation"
	packetPositions              = "positions"
	packetPositionsSynchronized  = "positionsSynchronized"
	packetPositionUpdated        = "positionUpdated"
	packetPositionRemoved        = "positionRemoved"
	packetOrders                 = "orders"
	packetOrdersSynchronized     = "ordersSynchronized"
	packetOrderUpdated           = "orderUpdated"
	packetOrderCompleted         = "orderCompleted"
	packetSpecifications         = "specifications"
	packetPrices                 = "prices"
	packetStreamClosed           = "streamClosed"
	packetResponse               = "response"
	packetError                  = "error"
	packetKeepalive              = "keepalive"
)

// Outbound request types.
const (
	requestTrade       = "trade"
	requestSubscribe   = "subscribeToMarketData"
	requestUnsubscribe = "unsubscribeFromMarketData"
	requestReconnect   = "reconnect"
)

// Packet is the inbound wire envelope.
type Packet struct {
	Type              string `json:"type"`
	AccountID         string `json:"accountId,omitempty"`
	InstanceIndex     string `json:"instanceIndex,omitempty"`
	SynchronizationID string `json:"synchronizationId,omitempty"`
	RequestID         string `json:"requestId,omitempty"`

	// authenticated
	Replicas int `json:"replicas,omitempty"`

	// status
	Connected *bool `json:"connected,omitempty"`

	// synchronizationStarted
	SpecificationsUpdated *bool `json:"specificationsUpdated,omitempty"`
	PositionsUpdated      *bool `json:"positionsUpdated,omitempty"`
	OrdersUpdated         *bool `json:"ordersUpdated,omitempty"`

	// accountInformation
	AccountInformation *types.AccountInformation `json:"accountInformation,omitempty"`

	// positions / positionUpdated / positionRemoved
	Positions  []types.Position `json:"positions,omitempty"`
	Position   *types.Position  `json:"position,omitempty"`
	PositionID string           `json:"positionId,omitempty"`

	// orders / orderUpdated / orderCompleted
	Orders  []types.Order `json:"orders,omitempty"`
	Order   *types.Order  `json:"order,omitempty"`
	OrderID string        `json:"orderId,omitempty"`

	// specifications
	Specifications []types.Specification `json:"specifications,omitempty"`
	RemovedSymbols []string              `json:"removedSymbols,omitempty"`

	// prices, with the optional account figures attached
	Prices      []types.Price `json:"prices,omitempty"`
	Equity      *float64      `json:"equity,omitempty"`
	Margin      *float64      `json:"margin,omitempty"`
	FreeMargin  *float64      `json:"freeMargin,omitempty"`
	MarginLevel *float64      `json:"marginLevel,omitempty"`

	// response / error
	Response *types.TradeResponse `json:"response,omitempty"`
	Error    string               `json:"error,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// accountUpdate extracts the optional account figures of a prices packet.
func (p *Packet) accountUpdate() types.AccountUpdate {
	return types.AccountUpdate{
		Equity:      p.Equity,
		Margin:      p.Margin,
		FreeMargin:  p.FreeMargin,
		MarginLevel: p.MarginLevel,
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
