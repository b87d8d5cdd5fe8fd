// Package dutch computes Dutch auction clearing prices. Pricing is a pure
// function of the decay schedule and elapsed time, so a settlement price can
// be recomputed and audited after the fact.
package dutch

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// divPrecision bounds the decimal places kept when dividing elapsed by
// duration. 18 matches the smallest unit of the tokens being priced.
const divPrecision = 18

// Price returns the current clearing price for a linear decay from start to
// end over duration. Elapsed is clamped to [0, duration]: anything at or
// past the end of the window yields exactly end, anything at or before the
// start yields exactly start.
func Price(start, end decimal.Decimal, duration, elapsed time.Duration) (decimal.Decimal, error) {
	if start.LessThan(end) {
		return decimal.Zero, fmt.Errorf("start price %s below end price %s", start, end)
	}
	if duration <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive auction duration %s", duration)
	}
	if elapsed <= 0 {
		return start, nil
	}
	if elapsed >= duration {
		return end, nil
	}

	ratio := decimal.NewFromInt(int64(elapsed)).
		DivRound(decimal.NewFromInt(int64(duration)), divPrecision)
	return start.Sub(start.Sub(end).Mul(ratio)), nil
}

// PriceAt prices an auction created at createdAt as observed at the block
// timestamp of the filling event. Settlement must use the fill event's block
// time, not wall-clock time at resolution, so processing delay cannot move
// the price.
func PriceAt(start, end decimal.Decimal, duration time.Duration, createdAt, fillTime time.Time) (decimal.Decimal, error) {
	return Price(start, end, duration, fillTime.Sub(createdAt))
}
