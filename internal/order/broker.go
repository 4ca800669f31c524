package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/internal/trade"
)

// ExchangeStatus is the venue-side state of a broker order.
type ExchangeStatus string

const (
	StatusUnsubmitted     ExchangeStatus = "unsubmitted"
	StatusSubmitted       ExchangeStatus = "submitted"
	StatusPartiallyFilled ExchangeStatus = "partially_filled"
	StatusFilled          ExchangeStatus = "filled"
	StatusCancelled       ExchangeStatus = "cancelled"
)

var exchangeTransitions = map[ExchangeStatus][]ExchangeStatus{
	StatusUnsubmitted:     {StatusSubmitted},
	StatusSubmitted:       {StatusSubmitted, StatusPartiallyFilled, StatusFilled, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// Terminal reports filled or cancelled.
func (s ExchangeStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// CanTransition reports whether the venue state may move from s to next.
func (s ExchangeStatus) CanTransition(next ExchangeStatus) bool {
	for _, allowed := range exchangeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CurrencyValue is an amount tagged with its currency.
type CurrencyValue struct {
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// Commission is a set of currency-tagged charges.
type Commission []CurrencyValue

// Add merges another charge, summing amounts in the same currency.
func (c Commission) Add(v CurrencyValue) Commission {
	for i := range c {
		if c[i].Currency == v.Currency {
			out := append(Commission(nil), c...)
			out[i].Value = out[i].Value.Add(v.Value)
			return out
		}
	}
	return append(append(Commission(nil), c...), v)
}

// Merge adds every charge of other.
func (c Commission) Merge(other Commission) Commission {
	out := c
	for _, v := range other {
		out = out.Add(v)
	}
	return out
}

// Leg describes one venue sub-contract of a submitted order. Ratio is signed
// and relative to one unit of the combo.
type Leg struct {
	ContractDate  string `json:"contract_date"`
	VenueContract string `json:"venue_contract_id"`
	Ratio         int64  `json:"ratio"`
}

// BrokerOrder is what was (or will be) sent to the venue.
type BrokerOrder struct {
	Base
	trade.ContractKey

	Account        string         `json:"broker_account,omitempty"`
	ClientID       int            `json:"broker_clientid,omitempty"`
	BrokerPermID   string         `json:"broker_permid,omitempty"`
	BrokerTempID   string         `json:"broker_tempid,omitempty"`
	OrderRef       string         `json:"order_ref,omitempty"`
	Commission     Commission     `json:"commission,omitempty"`
	AlgoUsed       string         `json:"algo_used,omitempty"`
	AlgoComment    string         `json:"algo_comment,omitempty"`
	ManualFill     bool           `json:"manual_fill,omitempty"`
	RollOrder      bool           `json:"roll_order,omitempty"`
	LimitPrice     *float64       `json:"limit_price,omitempty"`
	SubmitPrice    *float64       `json:"submit_price,omitempty"`
	SidePrice      *float64       `json:"side_price,omitempty"`
	OffsidePrice   *float64       `json:"offside_price,omitempty"`
	MidPrice       *float64       `json:"mid_price,omitempty"`
	Status         ExchangeStatus `json:"exchange_status"`
	Legs           []Leg          `json:"legs,omitempty"`
	SubmitDatetime time.Time      `json:"submit_datetime"`
}

// NewBrokerOrder builds an unsubmitted broker order for a contract order's
// remaining quantity.
func NewBrokerOrder(parent *ContractOrder, qty trade.Quantity, typ Type) (*BrokerOrder, error) {
	if len(qty) != len(parent.Trade) {
		return nil, fmt.Errorf("%w: broker %d legs, contract %d legs", trade.ErrLegMismatch, len(qty), len(parent.Trade))
	}
	if !parent.Trade.FillLessThanOrEqual(qty) {
		return nil, fmt.Errorf("%w: broker trade %s exceeds contract trade %s", ErrInvalidFillQuantity, qty, parent.Trade)
	}
	o := &BrokerOrder{
		Base:        newBase(qty, typ),
		ContractKey: parent.ContractKey,
		RollOrder:   parent.RollOrder,
		Status:      StatusUnsubmitted,
	}
	o.ContractKey.ContractDates = append([]string(nil), parent.ContractDates...)
	o.ParentID = parent.ID
	o.ManualTrade = parent.ManualTrade
	o.ManualFill = parent.ManualFill
	if parent.LimitPrice != nil {
		p := *parent.LimitPrice
		o.LimitPrice = &p
	}
	return o, nil
}

func (o *BrokerOrder) Key() string { return o.ContractKey.Key() }
func (o *BrokerOrder) Tier() Tier  { return TierBroker }
func (*BrokerOrder) isOrder()      {}

// Transition moves the exchange status forward.
func (o *BrokerOrder) Transition(next ExchangeStatus) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	return nil
}

// MarkSubmitted records venue identifiers after a successful submission.
func (o *BrokerOrder) MarkSubmitted(permID, tempID string, clientID int, legs []Leg, at time.Time) error {
	if err := o.Transition(StatusSubmitted); err != nil {
		return err
	}
	o.BrokerPermID = permID
	o.BrokerTempID = tempID
	o.ClientID = clientID
	o.Legs = legs
	o.SubmitDatetime = at.UTC()
	return nil
}

// ApplyFill records a cumulative fill and moves the exchange status to match.
func (o *BrokerOrder) ApplyFill(fill trade.Quantity, price *float64, at time.Time) error {
	if o.Status == StatusUnsubmitted && !o.ManualFill {
		return fmt.Errorf("%w: fill for unsubmitted order %d", ErrInvalidTransition, o.ID)
	}
	if o.Status == StatusCancelled {
		return fmt.Errorf("%w: fill for cancelled order %d", ErrInvalidTransition, o.ID)
	}
	if err := o.SetFill(fill, price, at); err != nil {
		return err
	}
	if o.ManualFill && o.Status == StatusUnsubmitted {
		o.Status = StatusSubmitted
	}
	switch {
	case o.FullyFilled():
		o.Status = StatusFilled
	case !o.Fill.IsZero():
		o.Status = StatusPartiallyFilled
	}
	return nil
}
