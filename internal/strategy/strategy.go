package strategy

import (
	"context"
	"runtime/debug"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shaonianu-ab/binance-short-bot/internal/model"
	"github.com/shaonianu-ab/binance-short-bot/internal/registry"
)

const maxDecimals = 36

// Metadata resolves a token contract to its symbol and decimals.
type Metadata interface {
	Resolve(ctx context.Context, contract common.Address) (model.TokenMeta, bool)
}

// TokenList looks up the cached upstream token list by symbol.
type TokenList interface {
	Get(ctx context.Context, symbol string) (registry.Entry, bool)
}

// Execution is the venue surface the strategy drives.
type Execution interface {
	SymbolExists(ctx context.Context, symbol string) bool
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
	OpenShortMarket(ctx context.Context, req model.HedgeOrderRequest) (*model.OrderResult, bool)
	PlaceShortProtection(ctx context.Context, symbol string, entry decimal.Decimal, tpPct, slPct float64) (tp, sl *model.OrderResult)
}

// Config carries the risk knobs. Notional and leverage are fixed per
// hedge, independent of the triggering transfer's size; risk sizing is
// deliberately decoupled from signal sizing.
type Config struct {
	TriggerValueUSDT        float64
	ShortNotionalUSDT       float64
	Leverage                int
	MarginType              string
	TradeWhenTokenNotInList bool
	TakeProfitPct           float64
	StopLossPct             float64
}

// Strategy decides, for each inbound transfer, whether to open a hedge
// short. Every abort path returns normally; one bad event never stops
// the pipeline.
type Strategy struct {
	registry TokenList
	trader   Execution
	meta     Metadata
	cfg      Config
	dedup    *Deduper
	logger   *zap.Logger
}

// New wires a Strategy from its collaborators.
func New(tokenList TokenList, trader Execution, meta Metadata, cfg Config, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{
		registry: tokenList,
		trader:   trader,
		meta:     meta,
		cfg:      cfg,
		dedup:    NewDeduper(defaultDedupCap, logger),
		logger:   logger,
	}
}

// OnTransferIn handles one admitted transfer end to end. Safe to call
// from a fire-and-forget goroutine per event: internal faults are
// recovered and logged here, never propagated to the feed loop.
func (s *Strategy) OnTransferIn(ctx context.Context, evt model.TransferEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("transfer handler crashed",
				zap.Any("panic", r),
				zap.String("tx", evt.TxHash),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if evt.TxHash != "" && !s.dedup.FirstSeen(evt.TxHash) {
		return
	}

	meta, ok := s.meta.Resolve(ctx, evt.TokenContract)
	if !ok {
		s.logger.Info("metadata unavailable, skip safely",
			zap.String("token", evt.TokenContract.Hex()),
			zap.String("tx", evt.TxHash),
		)
		return
	}
	if meta.Decimals > maxDecimals {
		s.logger.Info("weird decimals, skip",
			zap.Uint8("decimals", meta.Decimals),
			zap.String("symbol", meta.Symbol),
			zap.String("token", evt.TokenContract.Hex()),
		)
		return
	}

	// Exact: shifts the raw integer amount by -decimals, no binary
	// rounding even for 18-decimal tokens and huge raw values.
	amount := decimal.NewFromBigInt(evt.AmountRaw, -int32(meta.Decimals))

	entry, inList := s.registry.Get(ctx, meta.Symbol)
	price, havePrice := registry.ExtractPriceUSDT(entry)

	futuresSymbol := meta.Symbol + "USDT"
	if !havePrice && s.trader.SymbolExists(ctx, futuresSymbol) {
		price, havePrice = s.trader.MarkPrice(ctx, futuresSymbol)
	}
	if !havePrice {
		s.logger.Info("price unavailable, skip",
			zap.String("symbol", meta.Symbol),
			zap.Bool("in_list", inList),
			zap.String("tx", evt.TxHash),
		)
		return
	}

	valueUSDT := amount.Mul(price)

	s.logger.Info("transfer in",
		zap.String("symbol", meta.Symbol),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()),
		zap.String("value_usdt", valueUSDT.StringFixed(2)),
		zap.String("token", evt.TokenContract.Hex()),
		zap.String("tx", evt.TxHash),
	)

	if !inList && !s.cfg.TradeWhenTokenNotInList {
		return
	}
	if valueUSDT.LessThan(decimal.NewFromFloat(s.cfg.TriggerValueUSDT)) {
		return
	}
	if !s.trader.SymbolExists(ctx, futuresSymbol) {
		s.logger.Info("triggered but no futures market",
			zap.String("symbol", futuresSymbol),
			zap.String("tx", evt.TxHash),
		)
		return
	}

	order, ok := s.trader.OpenShortMarket(ctx, model.HedgeOrderRequest{
		Symbol:       futuresSymbol,
		Side:         "SELL",
		NotionalUSDT: s.cfg.ShortNotionalUSDT,
		Leverage:     s.cfg.Leverage,
		MarginType:   s.cfg.MarginType,
	})
	if !ok {
		s.logger.Error("short failed",
			zap.String("symbol", futuresSymbol),
			zap.String("tx", evt.TxHash),
		)
		return
	}

	s.logger.Warn("SHORT OPENED",
		zap.String("symbol", futuresSymbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("tx", evt.TxHash),
	)

	s.placeProtection(ctx, futuresSymbol)
}

// placeProtection brackets the fresh short with TP/SL triggers, using
// the current mark price as an approximate entry reference.
func (s *Strategy) placeProtection(ctx context.Context, futuresSymbol string) {
	if s.cfg.TakeProfitPct <= 0 && s.cfg.StopLossPct <= 0 {
		s.logger.Debug("tp/sl both zero, protection skipped", zap.String("symbol", futuresSymbol))
		return
	}

	entry, ok := s.trader.MarkPrice(ctx, futuresSymbol)
	if !ok || entry.Sign() <= 0 {
		s.logger.Warn("tp/sl skipped, no entry price", zap.String("symbol", futuresSymbol))
		return
	}

	tp, sl := s.trader.PlaceShortProtection(ctx, futuresSymbol, entry, s.cfg.TakeProfitPct, s.cfg.StopLossPct)
	fields := []zap.Field{zap.String("symbol", futuresSymbol)}
	if tp != nil {
		fields = append(fields, zap.Int64("tp_order_id", tp.OrderID))
	}
	if sl != nil {
		fields = append(fields, zap.Int64("sl_order_id", sl.OrderID))
	}
	s.logger.Warn("tp/sl placed", fields...)
}
