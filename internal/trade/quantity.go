package trade

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrLegMismatch  = errors.New("trade quantities have different leg counts")
	ErrNotASpread   = errors.New("legs do not net to zero")
	ErrMissingPrice = errors.New("missing leg price")
)

// Quantity is a signed size per leg. A vanilla trade has one leg.
type Quantity []int64

// NewQuantity builds a quantity from leg sizes.
func NewQuantity(legs ...int64) Quantity {
	q := make(Quantity, len(legs))
	copy(q, legs)
	return q
}

// Clone returns an independent copy.
func (q Quantity) Clone() Quantity {
	if q == nil {
		return nil
	}
	return NewQuantity(q...)
}

// Total is the sum of leg magnitudes.
func (q Quantity) Total() int64 {
	var t int64
	for _, v := range q {
		t += abs(v)
	}
	return t
}

// Net is the sum of signed legs.
func (q Quantity) Net() int64 {
	var t int64
	for _, v := range q {
		t += v
	}
	return t
}

// IsZero reports whether every leg is zero.
func (q Quantity) IsZero() bool {
	for _, v := range q {
		if v != 0 {
			return false
		}
	}
	return true
}

// ZeroVersion returns an all-zero quantity with the same leg count.
func (q Quantity) ZeroVersion() Quantity {
	return make(Quantity, len(q))
}

// Equal compares leg by leg.
func (q Quantity) Equal(other Quantity) bool {
	if len(q) != len(other) {
		return false
	}
	for i := range q {
		if q[i] != other[i] {
			return false
		}
	}
	return true
}

// Add returns q + other.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if len(q) != len(other) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLegMismatch, len(q), len(other))
	}
	out := make(Quantity, len(q))
	for i := range q {
		out[i] = q[i] + other[i]
	}
	return out, nil
}

// Sub returns q - other.
func (q Quantity) Sub(other Quantity) (Quantity, error) {
	if len(q) != len(other) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLegMismatch, len(q), len(other))
	}
	out := make(Quantity, len(q))
	for i := range q {
		out[i] = q[i] - other[i]
	}
	return out, nil
}

// FillLessThanOrEqual reports whether fill is a valid cumulative fill of q:
// same leg count and, per leg, zero or same sign with no larger magnitude.
func (q Quantity) FillLessThanOrEqual(fill Quantity) bool {
	if len(q) != len(fill) {
		return false
	}
	for i, t := range q {
		f := fill[i]
		if f == 0 {
			continue
		}
		if sign(f) != sign(t) || abs(f) > abs(t) {
			return false
		}
	}
	return true
}

// IsNotLessThan reports whether q has at least the magnitude of prev on every
// leg, with no sign flips. Used to reject regressive fill reports.
func (q Quantity) IsNotLessThan(prev Quantity) bool {
	if len(q) != len(prev) {
		return false
	}
	for i, p := range prev {
		if p == 0 {
			continue
		}
		if sign(q[i]) != sign(p) || abs(q[i]) < abs(p) {
			return false
		}
	}
	return true
}

// ReduceToLowestCommonFactor divides every leg by the greatest common divisor
// of the leg magnitudes. Signs are untouched.
func (q Quantity) ReduceToLowestCommonFactor() Quantity {
	g := q.commonFactor()
	if g <= 1 {
		return q.Clone()
	}
	out := make(Quantity, len(q))
	for i, v := range q {
		out[i] = v / g
	}
	return out
}

// Canonical returns the reduced leg ratios with the first leg made positive,
// the direction (+1 buy, -1 sell, 0 for a zero trade) and the number of ratio
// units. q == ratios * direction * size.
func (q Quantity) Canonical() (ratios Quantity, direction int, size int64) {
	if q.IsZero() {
		return q.ZeroVersion(), 0, 0
	}
	g := q.commonFactor()
	ratios = make(Quantity, len(q))
	for i, v := range q {
		ratios[i] = v / g
	}
	direction = 1
	first := firstNonZero(ratios)
	if first < 0 {
		direction = -1
		for i := range ratios {
			ratios[i] = -ratios[i]
		}
	}
	return ratios, direction, g
}

// RatioSignature identifies the leg ratios independent of size and direction.
func (q Quantity) RatioSignature() string {
	ratios, _, _ := q.Canonical()
	return ratios.String()
}

// ScaleToTotal returns the largest quantity with the same leg ratios as q
// whose total magnitude does not exceed target.
func (q Quantity) ScaleToTotal(target int64) Quantity {
	if target <= 0 || q.IsZero() {
		return q.ZeroVersion()
	}
	reduced := q.ReduceToLowestCommonFactor()
	units := target / reduced.Total()
	out := make(Quantity, len(q))
	for i, v := range reduced {
		out[i] = v * units
	}
	return out
}

// SpreadPrice blends per-leg prices into one price using the canonical ratios.
// A single leg returns its own price; several legs must net to zero.
func (q Quantity) SpreadPrice(prices []float64) (float64, error) {
	if len(prices) != len(q) {
		return 0, fmt.Errorf("%w: %d legs, %d prices", ErrLegMismatch, len(q), len(prices))
	}
	for _, p := range prices {
		if math.IsNaN(p) {
			return 0, ErrMissingPrice
		}
	}
	if len(q) == 1 {
		return prices[0], nil
	}
	if q.Net() != 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotASpread, q)
	}
	ratios, _, _ := q.Canonical()
	var price float64
	for i, r := range ratios {
		price += float64(r) * prices[i]
	}
	return price, nil
}

// SortWithIndex reorders legs so that out[i] = q[idx[i]].
func (q Quantity) SortWithIndex(idx []int) (Quantity, error) {
	if len(idx) != len(q) {
		return nil, fmt.Errorf("%w: %d legs, index of %d", ErrLegMismatch, len(q), len(idx))
	}
	out := make(Quantity, len(q))
	for i, j := range idx {
		if j < 0 || j >= len(q) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrLegMismatch, j)
		}
		out[i] = q[j]
	}
	return out, nil
}

// Leg returns a one-leg quantity holding leg i.
func (q Quantity) Leg(i int) Quantity {
	return Quantity{q[i]}
}

func (q Quantity) String() string {
	parts := make([]string, len(q))
	for i, v := range q {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (q Quantity) commonFactor() int64 {
	var g int64
	for _, v := range q {
		g = gcd(g, abs(v))
	}
	return g
}

func firstNonZero(q Quantity) int64 {
	for _, v := range q {
		if v != 0 {
			return v
		}
	}
	return 0
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
