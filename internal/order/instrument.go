package order

import (
	"execution-core/internal/trade"
)

// InstrumentOrder is strategy-level intent on an instrument.
type InstrumentOrder struct {
	Base
	trade.InstrumentKey

	LimitContract     string   `json:"limit_contract,omitempty"`
	LimitPrice        *float64 `json:"limit_price,omitempty"`
	ReferenceContract string   `json:"reference_contract,omitempty"`
	ReferencePrice    *float64 `json:"reference_price,omitempty"`
	RollOrder         bool     `json:"roll_order,omitempty"`
}

// NewInstrumentOrder builds an unplaced instrument order. Instrument orders
// always have one leg.
func NewInstrumentOrder(strategy, instrument string, qty int64, typ Type) (*InstrumentOrder, error) {
	key, err := trade.NewInstrumentKey(strategy, instrument)
	if err != nil {
		return nil, err
	}
	return &InstrumentOrder{
		Base:          newBase(trade.NewQuantity(qty), typ),
		InstrumentKey: key,
	}, nil
}

func (o *InstrumentOrder) Key() string { return o.InstrumentKey.Key() }
func (o *InstrumentOrder) Tier() Tier  { return TierInstrument }
func (*InstrumentOrder) isOrder()      {}
