// Package oracle converts amounts between the reference currency fees are
// quoted in and the settlement currency escrow is held in. All amounts are
// int64 fixed-point values with four decimal places; conversion is exact
// integer scaling, never a floating intermediate.
package oracle

import (
	"context"
	"errors"
	"fmt"
)

// ErrBadRate signals a missing, zero or negative price. The engine treats it
// as a fatal precondition failure: no escrow movement may proceed on it.
var ErrBadRate = errors.New("oracle: invalid price")

// Converter supplies the settlement value of a reference-currency amount.
type Converter interface {
	ToSettlement(ctx context.Context, refAmount int64) (int64, error)
}

// FixedRate converts at the rational rate Num/Den settlement units per
// reference unit. A 1:2 quote (one reference unit buys two settlement units)
// is FixedRate{Num: 2, Den: 1}.
type FixedRate struct {
	Num int64
	Den int64
}

// NewFixedRate validates the rate terms.
func NewFixedRate(num, den int64) (FixedRate, error) {
	if num <= 0 || den <= 0 {
		return FixedRate{}, fmt.Errorf("%w: %d/%d", ErrBadRate, num, den)
	}
	return FixedRate{Num: num, Den: den}, nil
}

// ToSettlement converts refAmount into settlement units, truncating toward
// zero. A positive amount that truncates to zero is rejected rather than
// silently escrowing nothing.
func (r FixedRate) ToSettlement(_ context.Context, refAmount int64) (int64, error) {
	if r.Num <= 0 || r.Den <= 0 {
		return 0, fmt.Errorf("%w: %d/%d", ErrBadRate, r.Num, r.Den)
	}
	if refAmount < 0 {
		return 0, fmt.Errorf("oracle: negative amount %d", refAmount)
	}
	out := refAmount * r.Num / r.Den
	if refAmount > 0 && out == 0 {
		return 0, fmt.Errorf("%w: amount %d vanishes at rate %d/%d", ErrBadRate, refAmount, r.Num, r.Den)
	}
	return out, nil
}
