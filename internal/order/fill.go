package order

import (
	"fmt"
	"time"
)

// Fill is a settled execution fact for a single-leg order.
type Fill struct {
	Date  time.Time `json:"date"`
	Qty   int64     `json:"qty"`
	Price float64   `json:"price"`
}

// FillFromOrder extracts the fill of a single-leg order. Spreads must be
// decomposed per leg first.
func FillFromOrder(o Order) (Fill, error) {
	b := o.Common()
	if len(b.Trade) != 1 {
		return Fill{}, fmt.Errorf("%w: order %d has %d legs", ErrMultiLegFill, b.ID, len(b.Trade))
	}
	if b.Fill.IsZero() || b.FillPrice == nil || b.FillDatetime.IsZero() {
		return Fill{}, fmt.Errorf("%w: order %d", ErrNoFill, b.ID)
	}
	return Fill{Date: b.FillDatetime, Qty: b.Fill[0], Price: *b.FillPrice}, nil
}

// Fills is an ordered list of fills for the same order.
type Fills []Fill

// Combine sums quantities; price and date come from the last fill.
func (fs Fills) Combine() (Fill, error) {
	if len(fs) == 0 {
		return Fill{}, ErrNoFill
	}
	out := fs[len(fs)-1]
	out.Qty = 0
	for _, f := range fs {
		out.Qty += f.Qty
	}
	return out, nil
}

// AveragePrice is the quantity-weighted price across fills.
func (fs Fills) AveragePrice() (float64, error) {
	var qty, notional float64
	for _, f := range fs {
		w := float64(f.Qty)
		if w < 0 {
			w = -w
		}
		qty += w
		notional += w * f.Price
	}
	if qty == 0 {
		return 0, ErrNoFill
	}
	return notional / qty, nil
}
