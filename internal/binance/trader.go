package binance

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

// Venue is the raw venue surface the trader composes. *Client
// implements it; tests substitute fakes.
type Venue interface {
	SymbolExists(ctx context.Context, symbol string) bool
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
	LotFilters(ctx context.Context, symbol string) (step, minQty decimal.Decimal, ok bool)
	TickSize(ctx context.Context, symbol string) (decimal.Decimal, bool)
	PlaceMarketOrder(ctx context.Context, symbol, side, qty, positionSide string) (model.OrderResult, error)
	PlaceConditionalOrder(ctx context.Context, symbol, side, orderType, stopPrice, positionSide string) (model.OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// Trader opens hedging shorts with exchange-compliant sizing and
// places protective orders around them.
type Trader struct {
	venue  Venue
	logger *zap.Logger
}

// NewTrader wraps a venue with order sizing and placement logic.
func NewTrader(venue Venue, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trader{venue: venue, logger: logger}
}

// SymbolExists reports whether the futures market is tradable.
func (t *Trader) SymbolExists(ctx context.Context, symbol string) bool {
	return t.venue.SymbolExists(ctx, symbol)
}

// MarkPrice returns the venue mark price.
func (t *Trader) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	return t.venue.MarkPrice(ctx, symbol)
}

// OpenShortMarket opens a market short for the requested notional.
// Margin-type and leverage changes are best-effort: a rejection there
// is logged and the order still goes out. A venue rejection of the
// order itself is final; inputs are stale by retry time.
func (t *Trader) OpenShortMarket(ctx context.Context, req model.HedgeOrderRequest) (*model.OrderResult, bool) {
	price, ok := t.venue.MarkPrice(ctx, req.Symbol)
	if !ok || price.Sign() <= 0 {
		t.logger.Warn("mark price unavailable, skip trade", zap.String("symbol", req.Symbol))
		return nil, false
	}

	step, minQty, ok := t.venue.LotFilters(ctx, req.Symbol)
	if !ok {
		t.logger.Warn("lot filters unavailable, skip trade", zap.String("symbol", req.Symbol))
		return nil, false
	}

	notional := decimal.NewFromFloat(req.NotionalUSDT)
	qty, ok := SizeOrder(notional, price, step, minQty)
	if !ok {
		t.logger.Warn("quantity below venue minimum, skip",
			zap.String("symbol", req.Symbol),
			zap.String("mark_price", price.String()),
			zap.String("min_qty", minQty.String()),
		)
		return nil, false
	}

	if err := t.venue.SetMarginType(ctx, req.Symbol, req.MarginType); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == -4046 {
			// No need to change margin type.
			t.logger.Debug("margin type already set", zap.String("symbol", req.Symbol))
		} else {
			t.logger.Info("change margin type failed", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}
	if err := t.venue.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		t.logger.Info("change leverage failed", zap.String("symbol", req.Symbol), zap.Error(err))
	}

	order, err := t.venue.PlaceMarketOrder(ctx, req.Symbol, req.Side, qty.String(), "SHORT")
	if err != nil {
		t.logger.Error("order placement failed",
			zap.String("symbol", req.Symbol),
			zap.String("qty", qty.String()),
			zap.Error(err),
		)
		return nil, false
	}
	return &order, true
}

// PlaceShortProtection places take-profit and stop-loss triggers for an
// open short, using entry as the reference price. Each leg is skipped
// when its pct is zero; a failed leg is logged and does not block the
// other.
func (t *Trader) PlaceShortProtection(ctx context.Context, symbol string, entry decimal.Decimal, tpPct, slPct float64) (tp, sl *model.OrderResult) {
	tpPrice, slPrice, hasTP, hasSL := ShortTriggerPrices(entry, tpPct, slPct)
	if !hasTP && !hasSL {
		return nil, nil
	}

	tick, ok := t.venue.TickSize(ctx, symbol)
	if !ok {
		t.logger.Warn("tick size unavailable, protection skipped", zap.String("symbol", symbol))
		return nil, nil
	}

	if hasTP {
		trigger := FormatPriceWithTick(tpPrice, tick)
		order, err := t.venue.PlaceConditionalOrder(ctx, symbol, "BUY", "TAKE_PROFIT_MARKET", trigger, "SHORT")
		if err != nil {
			t.logger.Error("take profit placement failed", zap.String("symbol", symbol), zap.String("trigger", trigger), zap.Error(err))
		} else {
			tp = &order
		}
	}
	if hasSL {
		trigger := FormatPriceWithTick(slPrice, tick)
		order, err := t.venue.PlaceConditionalOrder(ctx, symbol, "BUY", "STOP_MARKET", trigger, "SHORT")
		if err != nil {
			t.logger.Error("stop loss placement failed", zap.String("symbol", symbol), zap.String("trigger", trigger), zap.Error(err))
		} else {
			sl = &order
		}
	}
	return tp, sl
}
