// Package types defines the wire-level data model shared between the
// streaming connection, the terminal-state replica and the trade facade:
// account information, positions, pending orders, symbol specifications,
// streaming prices and trade requests/responses.
//
// All structs carry json tags matching the service wire format (camelCase).
// Optional fields that may legitimately be absent on the wire are pointers
// so that presence can be distinguished from a zero value.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Position types.
const (
	PositionTypeBuy  = "POSITION_TYPE_BUY"
	PositionTypeSell = "POSITION_TYPE_SELL"
)

// Pending order types.
const (
	OrderTypeBuy           = "ORDER_TYPE_BUY"
	OrderTypeSell          = "ORDER_TYPE_SELL"
	OrderTypeBuyLimit      = "ORDER_TYPE_BUY_LIMIT"
	OrderTypeSellLimit     = "ORDER_TYPE_SELL_LIMIT"
	OrderTypeBuyStop       = "ORDER_TYPE_BUY_STOP"
	OrderTypeSellStop      = "ORDER_TYPE_SELL_STOP"
	OrderTypeBuyStopLimit  = "ORDER_TYPE_BUY_STOP_LIMIT"
	OrderTypeSellStopLimit = "ORDER_TYPE_SELL_STOP_LIMIT"
)

// Trade action types beyond the order types above.
const (
	ActionPositionModify       = "POSITION_MODIFY"
	ActionPositionPartial      = "POSITION_PARTIAL"
	ActionPositionCloseID      = "POSITION_CLOSE_ID"
	ActionPositionCloseBy      = "POSITION_CLOSE_BY"
	ActionPositionsCloseSymbol = "POSITIONS_CLOSE_SYMBOL"
	ActionOrderModify          = "ORDER_MODIFY"
	ActionOrderCancel          = "ORDER_CANCEL"
)

// Stop-loss / take-profit units.
const (
	UnitsAbsolutePrice    = "ABSOLUTE_PRICE"
	UnitsRelativePrice    = "RELATIVE_PRICE"
	UnitsRelativePoints   = "RELATIVE_POINTS"
	UnitsRelativePips     = "RELATIVE_PIPS"
	UnitsRelativeCurrency = "RELATIVE_CURRENCY"
	UnitsRelativeBalance  = "RELATIVE_BALANCE_PERCENTAGE"
)

// Terminal platforms.
const (
	PlatformMT4 = "mt4"
	PlatformMT5 = "mt5"
)

// Account generations used by hashing normalization.
const (
	AccountTypeCloudG1 = "cloud-g1"
	AccountTypeCloudG2 = "cloud-g2"
)

// TradeRetcodeDone is the string code of a successfully executed trade.
const TradeRetcodeDone = "TRADE_RETCODE_DONE"

// IsBuyOrderType reports whether t belongs to the BUY family of order types.
func IsBuyOrderType(t string) bool {
	switch t {
	case OrderTypeBuy, OrderTypeBuyLimit, OrderTypeBuyStop, OrderTypeBuyStopLimit:
		return true
	}
	return false
}

// AccountInformation is the terminal account summary.
type AccountInformation struct {
	Platform     string   `json:"platform"`
	Broker       string   `json:"broker,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Server       string   `json:"server,omitempty"`
	Name         string   `json:"name,omitempty"`
	Login        int64    `json:"login,omitempty"`
	Balance      float64  `json:"balance"`
	Equity       *float64 `json:"equity,omitempty"`
	Credit       float64  `json:"credit,omitempty"`
	Margin       *float64 `json:"margin,omitempty"`
	FreeMargin   *float64 `json:"freeMargin,omitempty"`
	MarginLevel  *float64 `json:"marginLevel,omitempty"`
	Leverage     float64  `json:"leverage,omitempty"`
	TradeAllowed bool     `json:"tradeAllowed,omitempty"`
}

// Position is one open position of the terminal.
type Position struct {
	ID                          string    `json:"id"`
	Platform                    string    `json:"platform,omitempty"`
	Type                        string    `json:"type"`
	Symbol                      string    `json:"symbol"`
	Magic                       int64     `json:"magic"`
	Time                        time.Time `json:"time"`
	BrokerTime                  string    `json:"brokerTime,omitempty"`
	UpdateTime                  time.Time `json:"updateTime"`
	OpenPrice                   float64   `json:"openPrice"`
	CurrentPrice                float64   `json:"currentPrice"`
	CurrentTickValue            float64   `json:"currentTickValue"`
	Volume                      float64   `json:"volume"`
	Swap                        float64   `json:"swap"`
	Profit                      float64   `json:"profit"`
	Commission                  float64   `json:"commission,omitempty"`
	ClientID                    string    `json:"clientId,omitempty"`
	StopLoss                    *float64  `json:"stopLoss,omitempty"`
	TakeProfit                  *float64  `json:"takeProfit,omitempty"`
	UnrealizedProfit            *float64  `json:"unrealizedProfit,omitempty"`
	RealizedProfit              *float64  `json:"realizedProfit,omitempty"`
	Comment                     string    `json:"comment,omitempty"`
	OriginalComment             string    `json:"originalComment,omitempty"`
	Reason                      string    `json:"reason,omitempty"`
	UpdateSequenceNumber        *float64  `json:"updateSequenceNumber,omitempty"`
	AccountCurrencyExchangeRate *float64  `json:"accountCurrencyExchangeRate,omitempty"`
}

// Order is one pending order of the terminal.
type Order struct {
	ID                          string    `json:"id"`
	Platform                    string    `json:"platform,omitempty"`
	Type                        string    `json:"type"`
	State                       string    `json:"state,omitempty"`
	Symbol                      string    `json:"symbol"`
	Magic                       int64     `json:"magic"`
	Time                        time.Time `json:"time"`
	BrokerTime                  string    `json:"brokerTime,omitempty"`
	OpenPrice                   float64   `json:"openPrice"`
	CurrentPrice                *float64  `json:"currentPrice,omitempty"`
	Volume                      float64   `json:"volume"`
	CurrentVolume               float64   `json:"currentVolume,omitempty"`
	StopLoss                    *float64  `json:"stopLoss,omitempty"`
	TakeProfit                  *float64  `json:"takeProfit,omitempty"`
	ClientID                    string    `json:"clientId,omitempty"`
	Comment                     string    `json:"comment,omitempty"`
	OriginalComment             string    `json:"originalComment,omitempty"`
	UpdateSequenceNumber        *float64  `json:"updateSequenceNumber,omitempty"`
	AccountCurrencyExchangeRate *float64  `json:"accountCurrencyExchangeRate,omitempty"`
}

// QuoteSession is one broker session window in HH:MM:SS.ffffff broker time.
type QuoteSession struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Specification describes one tradable symbol. QuoteSessions maps day names
// (MONDAY..SUNDAY) to the windows during which quotes are expected.
type Specification struct {
	Symbol        string                    `json:"symbol"`
	Description   string                    `json:"description,omitempty"`
	Digits        int                       `json:"digits"`
	TickSize      float64                   `json:"tickSize"`
	Point         float64                   `json:"point,omitempty"`
	MinVolume     float64                   `json:"minVolume,omitempty"`
	MaxVolume     float64                   `json:"maxVolume,omitempty"`
	VolumeStep    float64                   `json:"volumeStep,omitempty"`
	ContractSize  float64                   `json:"contractSize,omitempty"`
	QuoteSessions map[string][]QuoteSession `json:"quoteSessions,omitempty"`
}

// Price is one streaming quote. Time is the platform timestamp, BrokerTime
// the same instant rendered in the broker timezone ("2006-01-02 15:04:05.000000").
type Price struct {
	Symbol                      string    `json:"symbol"`
	Bid                         float64   `json:"bid"`
	Ask                         float64   `json:"ask"`
	ProfitTickValue             float64   `json:"profitTickValue"`
	LossTickValue               float64   `json:"lossTickValue"`
	AccountCurrencyExchangeRate *float64  `json:"accountCurrencyExchangeRate,omitempty"`
	Time                        time.Time `json:"time"`
	BrokerTime                  string    `json:"brokerTime"`
}

// AccountUpdate carries the optional account-level figures attached to a
// price packet. Nil means the server did not send the field.
type AccountUpdate struct {
	Equity                      *float64 `json:"equity,omitempty"`
	Margin                      *float64 `json:"margin,omitempty"`
	FreeMargin                  *float64 `json:"freeMargin,omitempty"`
	MarginLevel                 *float64 `json:"marginLevel,omitempty"`
	AccountCurrencyExchangeRate *float64 `json:"accountCurrencyExchangeRate,omitempty"`
}

// StopOptions expresses a stop-loss or take-profit level. An empty Units
// means Value is an absolute price and is emitted as a bare number.
type StopOptions struct {
	Value float64
	Units string
}

// TradeResponse is the broker's answer to a trade request.
type TradeResponse struct {
	NumericCode int    `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	Message     string `json:"message"`
	OrderID     string `json:"orderId,omitempty"`
	PositionID  string `json:"positionId,omitempty"`
}

// HashingIgnoredFields lists the volatile fields excluded from content
// hashing for one account generation.
type HashingIgnoredFields struct {
	Specification []string `json:"specification"`
	Position      []string `json:"position"`
	Order         []string `json:"order"`
}

// HashingIgnoredFieldLists holds the per-generation ignore lists served by
// the client API.
type HashingIgnoredFieldLists struct {
	G1 HashingIgnoredFields `json:"g1"`
	G2 HashingIgnoredFields `json:"g2"`
}

// ForAccountType returns the ignore lists matching an account generation tag.
func (l HashingIgnoredFieldLists) ForAccountType(accountType string) HashingIgnoredFields {
	if accountType == AccountTypeCloudG1 {
		return l.G1
	}
	return l.G2
}

// ErrTimeout marks wait_for_price / wait_synchronized / RPC deadline expiry.
var ErrTimeout = errors.New("timed out")

// TradeError is returned when the broker rejects a trade request.
// It preserves the broker retcode so callers can branch on it.
type TradeError struct {
	NumericCode int
	StringCode  string
	Message     string
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade failed with code %d (%s): %s", e.NumericCode, e.StringCode, e.Message)
}

// ValidationError marks malformed input to the trade facade.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
