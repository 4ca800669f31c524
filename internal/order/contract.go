package order

import (
	"fmt"

	"execution-core/internal/trade"
)

// ContractOrder is intent on one contract, or a spread across several.
type ContractOrder struct {
	Base
	trade.ContractKey

	AlgoToUse      string   `json:"algo_to_use,omitempty"`
	ReferencePrice *float64 `json:"reference_price,omitempty"`
	LimitPrice     *float64 `json:"limit_price,omitempty"`
	SidePrice      *float64 `json:"side_price,omitempty"`
	OffsidePrice   *float64 `json:"offside_price,omitempty"`
	CalendarSpread bool     `json:"calendar_spread_order,omitempty"`
	InterSpread    bool     `json:"inter_spread_order,omitempty"`
	RollOrder      bool     `json:"roll_order,omitempty"`
	ManualFill     bool     `json:"manual_fill,omitempty"`
	SplitFrom      int64    `json:"split_from,omitempty"`
	Controller     string   `json:"reference_of_controlling_algo,omitempty"`
}

// NewContractOrder builds an unplaced contract order. legs are given in the
// same order as dates and are reordered with the canonical key.
func NewContractOrder(strategy, instrument string, dates []string, legs trade.Quantity, typ Type) (*ContractOrder, error) {
	if len(dates) != len(legs) {
		return nil, fmt.Errorf("%w: %d dates, %d legs", trade.ErrLegMismatch, len(dates), len(legs))
	}
	key, idx, err := trade.NewContractKey(strategy, instrument, dates)
	if err != nil {
		return nil, err
	}
	sorted, err := legs.SortWithIndex(idx)
	if err != nil {
		return nil, err
	}
	o := &ContractOrder{
		Base:        newBase(sorted, typ),
		ContractKey: key,
	}
	o.CalendarSpread = key.IsSpread()
	return o, nil
}

func (o *ContractOrder) Key() string { return o.ContractKey.Key() }
func (o *ContractOrder) Tier() Tier  { return TierContract }
func (*ContractOrder) isOrder()      {}

// HasController reports whether an execution algo has claimed the order.
func (o *ContractOrder) HasController() bool { return o.Controller != "" }

// AddController claims the order for one algo. A second claim without a
// release is an error.
func (o *ContractOrder) AddController(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty controller reference")
	}
	if o.Controller != "" {
		return fmt.Errorf("%w: %s", ErrControllerAlreadySet, o.Controller)
	}
	o.Controller = ref
	return nil
}

// ReleaseController gives up the claim held by ref.
func (o *ContractOrder) ReleaseController(ref string) error {
	if o.Controller != ref {
		return fmt.Errorf("%w: held by %q", ErrNotController, o.Controller)
	}
	o.Controller = ""
	return nil
}

// SplitSpread turns a spread into single-leg orders, one per contract date.
// The new orders share the original's parent and remember where they came
// from. The original must not be filled at all.
func (o *ContractOrder) SplitSpread() ([]*ContractOrder, error) {
	if !o.IsSpread() {
		return nil, fmt.Errorf("order %d is not a spread", o.ID)
	}
	if !o.Fill.IsZero() {
		return nil, fmt.Errorf("%w: cannot split partially filled spread %d", ErrInvalidFillQuantity, o.ID)
	}
	out := make([]*ContractOrder, 0, len(o.ContractDates))
	for i, date := range o.ContractDates {
		if o.Trade[i] == 0 {
			continue
		}
		child, err := NewContractOrder(o.Strategy, o.Instrument, []string{date}, o.Trade.Leg(i), o.OrderType)
		if err != nil {
			return nil, err
		}
		child.ParentID = o.ParentID
		child.SplitFrom = o.ID
		child.AlgoToUse = o.AlgoToUse
		child.RollOrder = o.RollOrder
		child.ManualTrade = o.ManualTrade
		child.CalendarSpread = false
		out = append(out, child)
	}
	return out, nil
}
