package order

import (
	"fmt"
	"slices"
	"time"

	"execution-core/internal/trade"
)

// Tier names the level of the order hierarchy a stack holds.
type Tier string

const (
	TierInstrument Tier = "instrument"
	TierContract   Tier = "contract"
	TierBroker     Tier = "broker"
)

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case TierInstrument, TierContract, TierBroker:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Type is the execution style requested for an order.
type Type string

const (
	TypeMarket       Type = "market"
	TypeLimit        Type = "limit"
	TypeBest         Type = "best"
	TypeBalanceTrade Type = "balance_trade"
	TypeZeroRoll     Type = "zero_roll"
)

// Modification states for an in-place trade change.
const (
	ModificationNone     = ""
	ModificationModified = "modified"
)

// Order is implemented by *InstrumentOrder, *ContractOrder and *BrokerOrder
// only. Shared lifecycle state lives in the embedded Base.
type Order interface {
	Key() string
	Tier() Tier
	Common() *Base
	isOrder()
}

// Base is the lifecycle state every tier carries.
type Base struct {
	ID                   int64          `json:"order_id"`
	Trade                trade.Quantity `json:"trade"`
	Fill                 trade.Quantity `json:"fill"`
	FillPrice            *float64       `json:"fill_price,omitempty"`
	FillDatetime         time.Time      `json:"fill_datetime"`
	Locked               bool           `json:"locked"`
	ModificationStatus   string         `json:"modification_status,omitempty"`
	ModificationQuantity trade.Quantity `json:"modification_quantity,omitempty"`
	ParentID             int64          `json:"parent,omitempty"`
	ChildIDs             []int64        `json:"children,omitempty"`
	Active               bool           `json:"active"`
	OrderType            Type           `json:"order_type"`
	ManualTrade          bool           `json:"manual_trade,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

func newBase(qty trade.Quantity, typ Type) Base {
	if typ == "" {
		typ = TypeMarket
	}
	return Base{
		Trade:     qty.Clone(),
		Fill:      qty.ZeroVersion(),
		Active:    true,
		OrderType: typ,
		CreatedAt: time.Now().UTC(),
	}
}

func (b *Base) Common() *Base { return b }

// OrderID returns the stack-assigned ID; ok is false until the order is put
// on a stack.
func (b *Base) OrderID() (id int64, ok bool) {
	return b.ID, b.ID != 0
}

// SetOrderID assigns the ID once.
func (b *Base) SetOrderID(id int64) error {
	if b.ID != 0 {
		return fmt.Errorf("%w: %d", ErrOrderIDAlreadySet, b.ID)
	}
	if id <= 0 {
		return fmt.Errorf("invalid order id %d", id)
	}
	b.ID = id
	return nil
}

// IsZeroTrade reports an all-zero trade.
func (b *Base) IsZeroTrade() bool { return b.Trade.IsZero() }

// FullyFilled reports fill == trade.
func (b *Base) FullyFilled() bool { return b.Fill.Equal(b.Trade) }

// PartiallyFilled reports a non-zero fill short of the trade.
func (b *Base) PartiallyFilled() bool { return !b.Fill.IsZero() && !b.FullyFilled() }

// Remaining is trade - fill.
func (b *Base) Remaining() trade.Quantity {
	r, err := b.Trade.Sub(b.Fill)
	if err != nil {
		return b.Trade.ZeroVersion()
	}
	return r
}

// Lock claims the order. Inactive orders cannot be locked.
func (b *Base) Lock() error {
	if !b.Active {
		return ErrInactiveOrder
	}
	if b.Locked {
		return ErrLockedOrder
	}
	b.Locked = true
	return nil
}

func (b *Base) Unlock() { b.Locked = false }

// Deactivate makes the order terminal.
func (b *Base) Deactivate() {
	b.Active = false
	b.Locked = false
}

// SetFill updates fill, price and time together. The new cumulative fill must
// be valid against the trade and must not regress below the current fill.
func (b *Base) SetFill(fill trade.Quantity, price *float64, at time.Time) error {
	if !b.Active {
		return ErrInactiveOrder
	}
	if !b.Trade.FillLessThanOrEqual(fill) {
		return fmt.Errorf("%w: fill %s against trade %s", ErrInvalidFillQuantity, fill, b.Trade)
	}
	if !fill.IsNotLessThan(b.Fill) {
		return fmt.Errorf("%w: fill %s regresses from %s", ErrInvalidFillQuantity, fill, b.Fill)
	}
	b.Fill = fill.Clone()
	if price != nil {
		p := *price
		b.FillPrice = &p
	} else if fill.IsZero() {
		b.FillPrice = nil
	}
	if !at.IsZero() {
		b.FillDatetime = at.UTC()
	}
	return nil
}

// ReplaceTrade changes the desired trade in place. The existing fill must
// still fit inside the new trade.
func (b *Base) ReplaceTrade(qty trade.Quantity) error {
	if !b.Active {
		return ErrInactiveOrder
	}
	if b.Locked {
		return ErrLockedOrder
	}
	if !qty.FillLessThanOrEqual(b.Fill) {
		return fmt.Errorf("%w: new trade %s below fill %s", ErrInvalidFillQuantity, qty, b.Fill)
	}
	b.ModificationQuantity = b.Trade.Clone()
	b.ModificationStatus = ModificationModified
	b.Trade = qty.Clone()
	return nil
}

// Children returns the spawned child IDs.
func (b *Base) Children() []int64 { return slices.Clone(b.ChildIDs) }

// HasChildren reports whether children have been recorded.
func (b *Base) HasChildren() bool { return len(b.ChildIDs) > 0 }

// AddChildren appends child IDs that are not already recorded.
func (b *Base) AddChildren(ids ...int64) {
	for _, id := range ids {
		if !slices.Contains(b.ChildIDs, id) {
			b.ChildIDs = append(b.ChildIDs, id)
		}
	}
}

// SetParent records the parent ID.
func (b *Base) SetParent(id int64) { b.ParentID = id }

// HasParent reports whether a parent was recorded.
func (b *Base) HasParent() bool { return b.ParentID != 0 }
