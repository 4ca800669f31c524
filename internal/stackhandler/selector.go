package stackhandler

import (
	"context"
	"errors"
	"fmt"

	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/instruments"
)

var ErrRollBlocked = errors.New("roll state blocks this trade")

// Allocation is the part of an instrument trade that goes to one contract.
type Allocation struct {
	ContractDate string
	Qty          int64
}

// ContractSelector decides which contract(s) an instrument order trades.
type ContractSelector interface {
	Select(ctx context.Context, o *order.InstrumentOrder) ([]Allocation, error)
}

// PositionSource reports the current position in one contract.
type PositionSource interface {
	ContractPosition(ctx context.Context, account string, key trade.ContractKey) (int64, error)
}

// RollSelector picks contracts from the instrument's roll state and the
// position held in the priced contract.
type RollSelector struct {
	Instruments *instruments.Config
	Positions   PositionSource
	Account     string
}

func (s *RollSelector) Select(ctx context.Context, o *order.InstrumentOrder) ([]Allocation, error) {
	qty := o.Trade[0]
	if o.LimitContract != "" {
		date, err := trade.NormaliseContractDate(o.LimitContract)
		if err != nil {
			return nil, err
		}
		return []Allocation{{ContractDate: date, Qty: qty}}, nil
	}

	in, err := s.Instruments.Get(o.Instrument)
	if err != nil {
		return nil, err
	}
	switch in.RollState {
	case instruments.RollNone:
		return []Allocation{{ContractDate: in.PriceContract, Qty: qty}}, nil
	case instruments.RollAdjusted:
		return []Allocation{{ContractDate: in.ForwardContract, Qty: qty}}, nil
	case instruments.RollForce, instruments.RollForceOutright:
		return nil, fmt.Errorf("%w: %s is in %s, only roll orders trade", ErrRollBlocked, in.Code, in.RollState)
	}

	held, err := s.pricedPosition(ctx, o, in)
	if err != nil {
		return nil, err
	}
	reducing, rest := splitReducing(held, qty)

	switch in.RollState {
	case instruments.RollPassive:
		var out []Allocation
		if reducing != 0 {
			out = append(out, Allocation{ContractDate: in.PriceContract, Qty: reducing})
		}
		if rest != 0 {
			out = append(out, Allocation{ContractDate: in.ForwardContract, Qty: rest})
		}
		return out, nil
	default: // close, no_open
		if reducing == 0 {
			return nil, fmt.Errorf("%w: %s is in %s and trade %d does not reduce position %d", ErrRollBlocked, in.Code, in.RollState, qty, held)
		}
		return []Allocation{{ContractDate: in.PriceContract, Qty: reducing}}, nil
	}
}

func (s *RollSelector) pricedPosition(ctx context.Context, o *order.InstrumentOrder, in instruments.Instrument) (int64, error) {
	if s.Positions == nil {
		return 0, nil
	}
	key, _, err := trade.NewContractKey(o.Strategy, o.Instrument, []string{in.PriceContract})
	if err != nil {
		return 0, err
	}
	return s.Positions.ContractPosition(ctx, s.Account, key)
}

// splitReducing splits qty into the part that closes held and the rest.
func splitReducing(held, qty int64) (reducing, rest int64) {
	if held == 0 || qty == 0 || (held > 0) == (qty > 0) {
		return 0, qty
	}
	if abs(qty) <= abs(held) {
		return qty, 0
	}
	return -held, qty + held
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
