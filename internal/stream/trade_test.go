package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mtcloud-sdk/pkg/types"
)

// fakeTransport records outbound requests and synthesizes response packets.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []map[string]any
	conn    *Connection
	respond func(req map[string]any) *Packet
}

func (t *fakeTransport) Send(ctx context.Context, v any) error {
	req := v.(map[string]any)
	t.mu.Lock()
	t.sent = append(t.sent, req)
	t.mu.Unlock()
	if t.respond != nil {
		if p := t.respond(req); p != nil {
			t.conn.handlePacket(*p)
		}
	}
	return nil
}

func (t *fakeTransport) requests() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.sent...)
}

func okResponse(req map[string]any) *Packet {
	return &Packet{
		Type:      packetResponse,
		RequestID: req["requestId"].(string),
		Response: &types.TradeResponse{
			NumericCode: 10009,
			StringCode:  types.TradeRetcodeDone,
			Message:     "Request completed",
			OrderID:     "46870472",
		},
	}
}

func newTestConnection(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn := newConnection("accountId", nil, logger, nil)
	conn.requestTimeout = 200 * time.Millisecond
	conn.syncPoll = 5 * time.Millisecond
	ft := &fakeTransport{conn: conn, respond: okResponse}
	conn.transport = ft
	return conn, ft
}

func lastTrade(t *testing.T, ft *fakeTransport) map[string]any {
	t.Helper()
	reqs := ft.requests()
	if len(reqs) == 0 {
		t.Fatal("no request sent")
	}
	req := reqs[len(reqs)-1]
	if req["type"] != requestTrade {
		t.Fatalf("request type = %v, want trade", req["type"])
	}
	trade, ok := req["trade"].(map[string]any)
	if !ok {
		t.Fatalf("trade payload missing: %v", req)
	}
	return trade
}

func TestCreateMarketBuyOrder(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	resp, err := conn.CreateMarketBuyOrder(context.Background(), "GBPUSD", 0.07, nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateMarketBuyOrder: %v", err)
	}
	if resp.StringCode != types.TradeRetcodeDone || resp.OrderID != "46870472" {
		t.Errorf("response = %+v", resp)
	}

	trade := lastTrade(t, ft)
	if trade["actionType"] != types.OrderTypeBuy {
		t.Errorf("actionType = %v", trade["actionType"])
	}
	if trade["symbol"] != "GBPUSD" || trade["volume"] != 0.07 {
		t.Errorf("trade = %v", trade)
	}
	if _, ok := trade["openPrice"]; ok {
		t.Error("market order must not carry openPrice")
	}
}

func TestCreateLimitSellOrderWithAbsoluteStops(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	_, err := conn.CreateLimitSellOrder(context.Background(), "AUDNZD", 0.07, 1.10,
		&types.StopOptions{Value: 1.15}, &types.StopOptions{Value: 1.05}, nil)
	if err != nil {
		t.Fatalf("CreateLimitSellOrder: %v", err)
	}

	trade := lastTrade(t, ft)
	if trade["actionType"] != types.OrderTypeSellLimit || trade["openPrice"] != 1.10 {
		t.Errorf("trade = %v", trade)
	}
	// Absolute stops are bare numbers without a units field.
	if trade["stopLoss"] != 1.15 || trade["takeProfit"] != 1.05 {
		t.Errorf("stops = %v / %v", trade["stopLoss"], trade["takeProfit"])
	}
	if _, ok := trade["stopLossUnits"]; ok {
		t.Error("absolute stopLoss must not emit units")
	}
	if _, ok := trade["takeProfitUnits"]; ok {
		t.Error("absolute takeProfit must not emit units")
	}
}

func TestCreateStopLimitBuyOrderWithRelativeStops(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	_, err := conn.CreateStopLimitBuyOrder(context.Background(), "EURUSD", 0.1, 1.2, 1.19,
		&types.StopOptions{Value: 100, Units: types.UnitsRelativePoints},
		&types.StopOptions{Value: 0.005, Units: types.UnitsRelativePrice}, nil)
	if err != nil {
		t.Fatalf("CreateStopLimitBuyOrder: %v", err)
	}

	trade := lastTrade(t, ft)
	if trade["actionType"] != types.OrderTypeBuyStopLimit {
		t.Errorf("actionType = %v", trade["actionType"])
	}
	if trade["openPrice"] != 1.2 || trade["stopLimitPrice"] != 1.19 {
		t.Errorf("prices = %v / %v", trade["openPrice"], trade["stopLimitPrice"])
	}
	if trade["stopLoss"] != 100.0 || trade["stopLossUnits"] != types.UnitsRelativePoints {
		t.Errorf("stopLoss = %v %v", trade["stopLoss"], trade["stopLossUnits"])
	}
	if trade["takeProfit"] != 0.005 || trade["takeProfitUnits"] != types.UnitsRelativePrice {
		t.Errorf("takeProfit = %v %v", trade["takeProfit"], trade["takeProfitUnits"])
	}
}

func TestOptionsMergeLast(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	_, err := conn.CreateMarketSellOrder(context.Background(), "EURUSD", 0.05, nil, nil,
		map[string]any{"magic": 123456, "comment": "COMMENT2", "symbol": "OVERRIDDEN"})
	if err != nil {
		t.Fatalf("CreateMarketSellOrder: %v", err)
	}

	trade := lastTrade(t, ft)
	if trade["magic"] != 123456 || trade["comment"] != "COMMENT2" {
		t.Errorf("options not merged: %v", trade)
	}
	if trade["symbol"] != "OVERRIDDEN" {
		t.Error("options must be merged last and win over generated fields")
	}
}

func TestModifyPositionDescriptor(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	_, err := conn.ModifyPosition(context.Background(), "46870472",
		&types.StopOptions{Value: 2.0}, &types.StopOptions{Value: 0.9})
	if err != nil {
		t.Fatalf("ModifyPosition: %v", err)
	}

	trade := lastTrade(t, ft)
	if trade["actionType"] != types.ActionPositionModify || trade["positionId"] != "46870472" {
		t.Errorf("trade = %v", trade)
	}
}

func TestCloseOperations(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (types.TradeResponse, error)
		want map[string]any
	}{
		{
			name: "partial close",
			call: func() (types.TradeResponse, error) {
				return conn.ClosePositionPartially(ctx, "46870472", 0.02, nil)
			},
			want: map[string]any{"actionType": types.ActionPositionPartial, "positionId": "46870472", "volume": 0.02},
		},
		{
			name: "full close",
			call: func() (types.TradeResponse, error) {
				return conn.ClosePosition(ctx, "46870472", nil)
			},
			want: map[string]any{"actionType": types.ActionPositionCloseID, "positionId": "46870472"},
		},
		{
			name: "close by",
			call: func() (types.TradeResponse, error) {
				return conn.CloseBy(ctx, "46870472", "46870473", nil)
			},
			want: map[string]any{"actionType": types.ActionPositionCloseBy, "positionId": "46870472", "closeByPositionId": "46870473"},
		},
		{
			name: "close symbol",
			call: func() (types.TradeResponse, error) {
				return conn.ClosePositionsBySymbol(ctx, "EURUSD", nil)
			},
			want: map[string]any{"actionType": types.ActionPositionsCloseSymbol, "symbol": "EURUSD"},
		},
		{
			name: "cancel order",
			call: func() (types.TradeResponse, error) {
				return conn.CancelOrder(ctx, "46870472")
			},
			want: map[string]any{"actionType": types.ActionOrderCancel, "orderId": "46870472"},
		},
	}
	for _, tt := range tests {
		if _, err := tt.call(); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		trade := lastTrade(t, ft)
		for k, v := range tt.want {
			if trade[k] != v {
				t.Errorf("%s: trade[%q] = %v, want %v", tt.name, k, trade[k], v)
			}
		}
	}
}

func TestModifyOrderDescriptor(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	_, err := conn.ModifyOrder(context.Background(), "46870472", 1.25,
		&types.StopOptions{Value: 50, Units: types.UnitsRelativePips}, nil)
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}

	trade := lastTrade(t, ft)
	if trade["actionType"] != types.ActionOrderModify || trade["orderId"] != "46870472" {
		t.Errorf("trade = %v", trade)
	}
	if trade["openPrice"] != 1.25 || trade["stopLossUnits"] != types.UnitsRelativePips {
		t.Errorf("trade = %v", trade)
	}
}

func TestTradeErrorOnRejectedRetcode(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)
	ft.respond = func(req map[string]any) *Packet {
		return &Packet{
			Type:      packetResponse,
			RequestID: req["requestId"].(string),
			Response: &types.TradeResponse{
				NumericCode: 10018,
				StringCode:  "TRADE_RETCODE_MARKET_CLOSED",
				Message:     "Market is closed",
			},
		}
	}

	resp, err := conn.CreateMarketBuyOrder(context.Background(), "GBPUSD", 0.07, nil, nil, nil)
	var tradeErr *types.TradeError
	if !errors.As(err, &tradeErr) {
		t.Fatalf("err = %v, want TradeError", err)
	}
	if tradeErr.NumericCode != 10018 || tradeErr.StringCode != "TRADE_RETCODE_MARKET_CLOSED" {
		t.Errorf("tradeErr = %+v", tradeErr)
	}
	// The raw response is still returned for inspection.
	if resp.StringCode != "TRADE_RETCODE_MARKET_CLOSED" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestValidationBeforeDispatch(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)

	var validationErr *types.ValidationError
	if _, err := conn.CreateMarketBuyOrder(context.Background(), "", 0.07, nil, nil, nil); !errors.As(err, &validationErr) {
		t.Errorf("empty symbol: err = %v, want ValidationError", err)
	}
	if _, err := conn.CreateMarketBuyOrder(context.Background(), "GBPUSD", 0, nil, nil, nil); !errors.As(err, &validationErr) {
		t.Errorf("zero volume: err = %v, want ValidationError", err)
	}
	if _, err := conn.ModifyPosition(context.Background(), "", nil, nil); !errors.As(err, &validationErr) {
		t.Errorf("empty positionId: err = %v, want ValidationError", err)
	}

	if n := len(ft.requests()); n != 0 {
		t.Errorf("%d requests sent, validation must reject before dispatch", n)
	}
}

func TestTradeTimeout(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)
	ft.respond = nil

	_, err := conn.CreateMarketBuyOrder(context.Background(), "GBPUSD", 0.07, nil, nil, nil)
	if !errors.Is(err, types.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestErrorPacketSurfacesToCaller(t *testing.T) {
	t.Parallel()
	conn, ft := newTestConnection(t)
	ft.respond = func(req map[string]any) *Packet {
		return &Packet{
			Type:      packetError,
			RequestID: req["requestId"].(string),
			Error:     "ValidationError",
			Message:   "Volume step mismatch",
		}
	}

	_, err := conn.CreateMarketBuyOrder(context.Background(), "GBPUSD", 0.07, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Error(); !strings.Contains(got, "ValidationError") || !strings.Contains(got, "Volume step mismatch") {
		t.Errorf("err = %q", got)
	}
}
