// trade.go is the typed trade facade: each method builds a wire trade
// descriptor ({actionType, ...}), dispatches it as a correlated request and
// maps non-successful retcodes to TradeError.
package stream

import (
	"context"
	"fmt"

	"mtcloud-sdk/pkg/types"
)

// CreateMarketBuyOrder opens a long position at market price.
func (c *Connection) CreateMarketBuyOrder(ctx context.Context, symbol string, volume float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeBuy, symbol, volume, nil, nil, stopLoss, takeProfit, options)
}

// CreateMarketSellOrder opens a short position at market price.
func (c *Connection) CreateMarketSellOrder(ctx context.Context, symbol string, volume float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeSell, symbol, volume, nil, nil, stopLoss, takeProfit, options)
}

// CreateLimitBuyOrder places a buy limit order at openPrice.
func (c *Connection) CreateLimitBuyOrder(ctx context.Context, symbol string, volume, openPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeBuyLimit, symbol, volume, &openPrice, nil, stopLoss, takeProfit, options)
}

// CreateLimitSellOrder places a sell limit order at openPrice.
func (c *Connection) CreateLimitSellOrder(ctx context.Context, symbol string, volume, openPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeSellLimit, symbol, volume, &openPrice, nil, stopLoss, takeProfit, options)
}

// CreateStopBuyOrder places a buy stop order at openPrice.
func (c *Connection) CreateStopBuyOrder(ctx context.Context, symbol string, volume, openPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeBuyStop, symbol, volume, &openPrice, nil, stopLoss, takeProfit, options)
}

// CreateStopSellOrder places a sell stop order at openPrice.
func (c *Connection) CreateStopSellOrder(ctx context.Context, symbol string, volume, openPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeSellStop, symbol, volume, &openPrice, nil, stopLoss, takeProfit, options)
}

// CreateStopLimitBuyOrder places a buy stop-limit order triggering at
// openPrice with limit stopLimitPrice.
func (c *Connection) CreateStopLimitBuyOrder(ctx context.Context, symbol string, volume, openPrice, stopLimitPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeBuyStopLimit, symbol, volume, &openPrice, &stopLimitPrice, stopLoss, takeProfit, options)
}

// CreateStopLimitSellOrder places a sell stop-limit order triggering at
// openPrice with limit stopLimitPrice.
func (c *Connection) CreateStopLimitSellOrder(ctx context.Context, symbol string, volume, openPrice, stopLimitPrice float64,
	stopLoss, takeProfit *types.StopOptions, options map[string]any) (types.TradeResponse, error) {
	return c.createOrder(ctx, types.OrderTypeSellStopLimit, symbol, volume, &openPrice, &stopLimitPrice, stopLoss, takeProfit, options)
}

// ModifyPosition changes the stop loss / take profit of an open position.
func (c *Connection) ModifyPosition(ctx context.Context, positionID string,
	stopLoss, takeProfit *types.StopOptions) (types.TradeResponse, error) {
	if positionID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "positionId is required"}
	}
	trade := map[string]any{
		"actionType": types.ActionPositionModify,
		"positionId": positionID,
	}
	applyStops(trade, stopLoss, takeProfit)
	return c.trade(ctx, trade)
}

// ClosePositionPartially closes volume lots of an open position.
func (c *Connection) ClosePositionPartially(ctx context.Context, positionID string, volume float64,
	options map[string]any) (types.TradeResponse, error) {
	if positionID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "positionId is required"}
	}
	if volume <= 0 {
		return types.TradeResponse{}, &types.ValidationError{Message: "volume must be positive"}
	}
	trade := map[string]any{
		"actionType": types.ActionPositionPartial,
		"positionId": positionID,
		"volume":     volume,
	}
	mergeOptions(trade, options)
	return c.trade(ctx, trade)
}

// ClosePosition fully closes an open position.
func (c *Connection) ClosePosition(ctx context.Context, positionID string,
	options map[string]any) (types.TradeResponse, error) {
	if positionID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "positionId is required"}
	}
	trade := map[string]any{
		"actionType": types.ActionPositionCloseID,
		"positionId": positionID,
	}
	mergeOptions(trade, options)
	return c.trade(ctx, trade)
}

// CloseBy closes a position against an opposite one.
func (c *Connection) CloseBy(ctx context.Context, positionID, oppositePositionID string,
	options map[string]any) (types.TradeResponse, error) {
	if positionID == "" || oppositePositionID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "positionId and closeByPositionId are required"}
	}
	trade := map[string]any{
		"actionType":        types.ActionPositionCloseBy,
		"positionId":        positionID,
		"closeByPositionId": oppositePositionID,
	}
	mergeOptions(trade, options)
	return c.trade(ctx, trade)
}

// ClosePositionsBySymbol closes all open positions on a symbol.
func (c *Connection) ClosePositionsBySymbol(ctx context.Context, symbol string,
	options map[string]any) (types.TradeResponse, error) {
	if symbol == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "symbol is required"}
	}
	trade := map[string]any{
		"actionType": types.ActionPositionsCloseSymbol,
		"symbol":     symbol,
	}
	mergeOptions(trade, options)
	return c.trade(ctx, trade)
}

// ModifyOrder changes the prices of a pending order.
func (c *Connection) ModifyOrder(ctx context.Context, orderID string, openPrice float64,
	stopLoss, takeProfit *types.StopOptions) (types.TradeResponse, error) {
	if orderID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "orderId is required"}
	}
	trade := map[string]any{
		"actionType": types.ActionOrderModify,
		"orderId":    orderID,
		"openPrice":  openPrice,
	}
	applyStops(trade, stopLoss, takeProfit)
	return c.trade(ctx, trade)
}

// CancelOrder cancels a pending order.
func (c *Connection) CancelOrder(ctx context.Context, orderID string) (types.TradeResponse, error) {
	if orderID == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "orderId is required"}
	}
	return c.trade(ctx, map[string]any{
		"actionType": types.ActionOrderCancel,
		"orderId":    orderID,
	})
}

func (c *Connection) createOrder(ctx context.Context, actionType, symbol string, volume float64,
	openPrice, stopLimitPrice *float64, stopLoss, takeProfit *types.StopOptions,
	options map[string]any) (types.TradeResponse, error) {
	if symbol == "" {
		return types.TradeResponse{}, &types.ValidationError{Message: "symbol is required"}
	}
	if volume <= 0 {
		return types.TradeResponse{}, &types.ValidationError{Message: "volume must be positive"}
	}
	trade := map[string]any{
		"actionType": actionType,
		"symbol":     symbol,
		"volume":     volume,
	}
	if openPrice != nil {
		trade["openPrice"] = *openPrice
	}
	if stopLimitPrice != nil {
		trade["stopLimitPrice"] = *stopLimitPrice
	}
	applyStops(trade, stopLoss, takeProfit)
	mergeOptions(trade, options)
	return c.trade(ctx, trade)
}

// trade dispatches a descriptor and maps the response: transport errors and
// timeouts pass through, non-DONE retcodes become TradeError.
func (c *Connection) trade(ctx context.Context, descriptor map[string]any) (types.TradeResponse, error) {
	if err := c.limits.Trade.Wait(ctx); err != nil {
		return types.TradeResponse{}, err
	}
	resp, err := c.request(ctx, requestTrade, map[string]any{"trade": descriptor})
	if err != nil {
		return types.TradeResponse{}, err
	}
	if resp == nil {
		return types.TradeResponse{}, fmt.Errorf("trade request returned no response payload")
	}
	if resp.StringCode != types.TradeRetcodeDone {
		return *resp, &types.TradeError{
			NumericCode: resp.NumericCode,
			StringCode:  resp.StringCode,
			Message:     resp.Message,
		}
	}
	return *resp, nil
}

// applyStops writes stop loss / take profit into a descriptor. An empty Units
// means an absolute price and is emitted as a bare number; otherwise the
// units field accompanies the value.
func applyStops(trade map[string]any, stopLoss, takeProfit *types.StopOptions) {
	if stopLoss != nil {
		trade["stopLoss"] = stopLoss.Value
		if stopLoss.Units != "" && stopLoss.Units != types.UnitsAbsolutePrice {
			trade["stopLossUnits"] = stopLoss.Units
		}
	}
	if takeProfit != nil {
		trade["takeProfit"] = takeProfit.Value
		if takeProfit.Units != "" && takeProfit.Units != types.UnitsAbsolutePrice {
			trade["takeProfitUnits"] = takeProfit.Units
		}
	}
}

// mergeOptions shallow-merges caller options last, so they can override the
// generated fields.
func mergeOptions(trade, options map[string]any) {
	for k, v := range options {
		trade[k] = v
	}
}
