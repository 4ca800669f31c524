package stackhandler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/internal/order"
	"execution-core/internal/stack"
	"execution-core/internal/trade"
	"execution-core/pkg/instruments"
)

// RollStrategy owns every roll order. Rolls move the account-wide position,
// so they are kept off the trading strategies' keys.
const RollStrategy = "_ROLL_PSEUDO_STRATEGY"

// Roller moves a position from the priced contract to the forward one.
type Roller struct {
	h           *Handler
	instruments *instruments.Config
	positions   PositionSource
	account     string
}

func NewRoller(h *Handler, cfg *instruments.Config, positions PositionSource, account string) *Roller {
	return &Roller{h: h, instruments: cfg, positions: positions, account: account}
}

// CreateRollOrders puts a zero-trade roll parent for the instrument and
// children that close position in the priced contract and open it in the
// forward one, either as one calendar spread or as two outrights.
func (r *Roller) CreateRollOrders(ctx context.Context, code string, position int64, asSpread bool) (int64, []int64, error) {
	if position == 0 {
		return 0, nil, fmt.Errorf("%w: no position in %s to roll", ErrNothingToExecute, code)
	}
	in, err := r.instruments.Get(code)
	if err != nil {
		return 0, nil, err
	}
	if in.PriceContract == in.ForwardContract {
		return 0, nil, fmt.Errorf("%w: %s has no forward contract to roll into", ErrRollBlocked, code)
	}

	parent, err := order.NewInstrumentOrder(RollStrategy, code, 0, order.TypeZeroRoll)
	if err != nil {
		return 0, nil, err
	}
	parent.RollOrder = true

	var children []*order.ContractOrder
	if asSpread {
		co, err := order.NewContractOrder(RollStrategy, code, []string{in.PriceContract, in.ForwardContract}, trade.NewQuantity(-position, position), order.TypeMarket)
		if err != nil {
			return 0, nil, err
		}
		children = append(children, co)
	} else {
		closing, err := order.NewContractOrder(RollStrategy, code, []string{in.PriceContract}, trade.NewQuantity(-position), order.TypeMarket)
		if err != nil {
			return 0, nil, err
		}
		opening, err := order.NewContractOrder(RollStrategy, code, []string{in.ForwardContract}, trade.NewQuantity(position), order.TypeMarket)
		if err != nil {
			return 0, nil, err
		}
		children = append(children, closing, opening)
	}

	var (
		parentID int64
		ids      []int64
	)
	err = r.h.db.RunInTx(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		id, err := r.h.stacks.Instruments.Put(ctx, parent, stack.AllowZeroTrade())
		if err != nil {
			return err
		}
		parentID = id
		for _, c := range children {
			c.SetParent(parentID)
			c.RollOrder = true
			cid, err := r.h.stacks.Contracts.Put(ctx, c)
			if err != nil {
				return fmt.Errorf("roll child %s: %w", c.Key(), err)
			}
			ids = append(ids, cid)
		}
		return r.h.stacks.Instruments.AddChildren(ctx, parentID, ids...)
	})
	if err != nil {
		return 0, nil, err
	}
	r.h.publish(events.EventOrderPut, parent, "roll")
	for _, c := range children {
		r.h.publish(events.EventOrderSpawned, c, "roll")
	}
	r.h.log.Info("roll orders created",
		zap.String("instrument", code),
		zap.Int64("position", position),
		zap.Bool("spread", asSpread),
		zap.Int64s("contract_orders", ids))
	return parentID, ids, nil
}

// RollFromState creates roll orders when the instrument is in a forced roll
// state, sized from the venue position in the priced contract.
func (r *Roller) RollFromState(ctx context.Context, code string) (int64, []int64, error) {
	in, err := r.instruments.Get(code)
	if err != nil {
		return 0, nil, err
	}
	var asSpread bool
	switch in.RollState {
	case instruments.RollForce:
		asSpread = true
	case instruments.RollForceOutright:
	default:
		return 0, nil, fmt.Errorf("%w: %s is in %s", ErrRollBlocked, code, in.RollState)
	}
	key, _, err := trade.NewContractKey(RollStrategy, code, []string{in.PriceContract})
	if err != nil {
		return 0, nil, err
	}
	position, err := r.positions.ContractPosition(ctx, r.account, key)
	if err != nil {
		return 0, nil, err
	}
	return r.CreateRollOrders(ctx, code, position, asSpread)
}

// FinishRoll makes the forward contract the priced one once the roll
// family is complete.
func (r *Roller) FinishRoll(code, nextForward string) error {
	return r.instruments.CompleteRoll(code, nextForward)
}
