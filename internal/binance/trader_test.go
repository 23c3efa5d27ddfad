package binance

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
)

type fakeVenue struct {
	exists    bool
	mark      decimal.Decimal
	markOK    bool
	step      decimal.Decimal
	minQty    decimal.Decimal
	filtersOK bool
	tick      decimal.Decimal
	tickOK    bool

	marginErr   error
	leverageErr error
	orderErr    error

	marketOrders      []string
	conditionalOrders []string
	nextOrderID       int64
}

func (f *fakeVenue) SymbolExists(ctx context.Context, symbol string) bool { return f.exists }

func (f *fakeVenue) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	return f.mark, f.markOK
}

func (f *fakeVenue) LotFilters(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, bool) {
	return f.step, f.minQty, f.filtersOK
}

func (f *fakeVenue) TickSize(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	return f.tick, f.tickOK
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, symbol, side, qty, positionSide string) (model.OrderResult, error) {
	if f.orderErr != nil {
		return model.OrderResult{}, f.orderErr
	}
	f.marketOrders = append(f.marketOrders, fmt.Sprintf("%s %s %s %s", symbol, side, qty, positionSide))
	f.nextOrderID++
	return model.OrderResult{OrderID: f.nextOrderID, Symbol: symbol, Status: "NEW"}, nil
}

func (f *fakeVenue) PlaceConditionalOrder(ctx context.Context, symbol, side, orderType, stopPrice, positionSide string) (model.OrderResult, error) {
	if f.orderErr != nil {
		return model.OrderResult{}, f.orderErr
	}
	f.conditionalOrders = append(f.conditionalOrders, fmt.Sprintf("%s %s %s %s %s", symbol, side, orderType, stopPrice, positionSide))
	f.nextOrderID++
	return model.OrderResult{OrderID: f.nextOrderID, Symbol: symbol, Status: "NEW"}, nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return f.leverageErr
}

func (f *fakeVenue) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return f.marginErr
}

func shortReq() model.HedgeOrderRequest {
	return model.HedgeOrderRequest{
		Symbol:       "ABCUSDT",
		Side:         "SELL",
		NotionalUSDT: 100,
		Leverage:     3,
		MarginType:   "ISOLATED",
	}
}

func TestOpenShortMarketSizesAndPlaces(t *testing.T) {
	venue := &fakeVenue{
		mark:      dec("2"),
		markOK:    true,
		step:      dec("0.001"),
		minQty:    dec("0.001"),
		filtersOK: true,
	}
	trader := NewTrader(venue, nil)

	order, ok := trader.OpenShortMarket(context.Background(), shortReq())
	if !ok || order == nil {
		t.Fatalf("expected placed order")
	}
	if len(venue.marketOrders) != 1 || venue.marketOrders[0] != "ABCUSDT SELL 50 SHORT" {
		t.Fatalf("orders = %v", venue.marketOrders)
	}
}

func TestOpenShortMarketRejectsBelowMinQty(t *testing.T) {
	venue := &fakeVenue{
		mark:      dec("1"),
		markOK:    true,
		step:      dec("0.001"),
		minQty:    dec("200"),
		filtersOK: true,
	}
	trader := NewTrader(venue, nil)

	if _, ok := trader.OpenShortMarket(context.Background(), shortReq()); ok {
		t.Fatalf("expected min-qty rejection")
	}
	if len(venue.marketOrders) != 0 {
		t.Fatalf("no order should have been placed")
	}
}

func TestOpenShortMarketSkipsWithoutMarkPrice(t *testing.T) {
	venue := &fakeVenue{markOK: false}
	trader := NewTrader(venue, nil)

	if _, ok := trader.OpenShortMarket(context.Background(), shortReq()); ok {
		t.Fatalf("expected skip without mark price")
	}
}

func TestOpenShortMarketBestEffortSetup(t *testing.T) {
	venue := &fakeVenue{
		mark:        dec("2"),
		markOK:      true,
		step:        dec("0.001"),
		minQty:      dec("0.001"),
		filtersOK:   true,
		marginErr:   &APIError{Code: -4046, Msg: "No need to change margin type."},
		leverageErr: fmt.Errorf("leverage api down"),
	}
	trader := NewTrader(venue, nil)

	if _, ok := trader.OpenShortMarket(context.Background(), shortReq()); !ok {
		t.Fatalf("setup failures must not block the order")
	}
}

func TestOpenShortMarketNoRetryOnRejection(t *testing.T) {
	venue := &fakeVenue{
		mark:      dec("2"),
		markOK:    true,
		step:      dec("0.001"),
		minQty:    dec("0.001"),
		filtersOK: true,
		orderErr:  &APIError{Code: -2019, Msg: "Margin is insufficient."},
	}
	trader := NewTrader(venue, nil)

	if _, ok := trader.OpenShortMarket(context.Background(), shortReq()); ok {
		t.Fatalf("expected failure surfaced")
	}
	if len(venue.marketOrders) != 0 {
		t.Fatalf("rejected order must not be retried")
	}
}

func TestPlaceShortProtection(t *testing.T) {
	venue := &fakeVenue{tick: dec("0.01"), tickOK: true}
	trader := NewTrader(venue, nil)

	tp, sl := trader.PlaceShortProtection(context.Background(), "ABCUSDT", dec("12.3456"), 0.05, 0.10)
	if tp == nil || sl == nil {
		t.Fatalf("expected both protective orders")
	}
	if len(venue.conditionalOrders) != 2 {
		t.Fatalf("conditional orders = %v", venue.conditionalOrders)
	}
	// 12.3456*0.95 = 11.72832 -> 11.72; 12.3456*1.10 = 13.58016 -> 13.58
	if venue.conditionalOrders[0] != "ABCUSDT BUY TAKE_PROFIT_MARKET 11.72 SHORT" {
		t.Fatalf("tp order = %q", venue.conditionalOrders[0])
	}
	if venue.conditionalOrders[1] != "ABCUSDT BUY STOP_MARKET 13.58 SHORT" {
		t.Fatalf("sl order = %q", venue.conditionalOrders[1])
	}
}

func TestPlaceShortProtectionZeroPcts(t *testing.T) {
	venue := &fakeVenue{tick: dec("0.01"), tickOK: true}
	trader := NewTrader(venue, nil)

	tp, sl := trader.PlaceShortProtection(context.Background(), "ABCUSDT", dec("12"), 0, 0)
	if tp != nil || sl != nil || len(venue.conditionalOrders) != 0 {
		t.Fatalf("expected no protective orders")
	}
}
