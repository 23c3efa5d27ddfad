package binance

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FloorToStep floors qty to the nearest multiple of step. Never rounds
// up: exceeding the requested notional is worse than undershooting it.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// SizeOrder converts a target notional into an exchange-compliant
// quantity: notional/price floored to the lot step, rejected when the
// result is below the venue minimum.
func SizeOrder(notional, markPrice, step, minQty decimal.Decimal) (decimal.Decimal, bool) {
	if markPrice.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	qty := notional.Div(markPrice)
	if step.Sign() > 0 {
		qty = FloorToStep(qty, step)
	}
	if minQty.Sign() > 0 && qty.LessThan(minQty) {
		return decimal.Decimal{}, false
	}
	if qty.Sign() <= 0 {
		return decimal.Decimal{}, false
	}
	return qty, true
}

// FormatPriceWithTick floors price to the tick grid and renders it with
// exactly the tick's number of fractional digits in plain notation, so
// the venue never sees a price off the grid or in scientific form.
// Rounding direction is always floor, regardless of order side.
func FormatPriceWithTick(price, tick decimal.Decimal) string {
	if tick.Sign() <= 0 {
		return price.String()
	}
	floored := price.Div(tick).Floor().Mul(tick)
	digits := tickDigits(tick)
	return floored.StringFixed(digits)
}

// tickDigits counts the fractional digits of a tick size. Venue
// metadata pads ticks like "0.01000000"; String() trims the padding.
func tickDigits(tick decimal.Decimal) int32 {
	s := tick.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// ShortTriggerPrices computes protective triggers for a short position:
// take-profit below entry, stop-loss above. A zero pct or non-positive
// entry skips that leg.
func ShortTriggerPrices(entry decimal.Decimal, tpPct, slPct float64) (tp, sl decimal.Decimal, hasTP, hasSL bool) {
	if entry.Sign() <= 0 {
		return decimal.Decimal{}, decimal.Decimal{}, false, false
	}
	one := decimal.NewFromInt(1)
	if tpPct > 0 {
		tp = entry.Mul(one.Sub(decimal.NewFromFloat(tpPct)))
		hasTP = true
	}
	if slPct > 0 {
		sl = entry.Mul(one.Add(decimal.NewFromFloat(slPct)))
		hasSL = true
	}
	return tp, sl, hasTP, hasSL
}
