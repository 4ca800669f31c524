// Package stackhandler moves orders between the instrument, contract and
// broker stacks: spawning children, sending contract orders to the broker,
// and carrying fills back up.
package stackhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/broker"
	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/stack"
	"execution-core/internal/trade"
	"execution-core/pkg/db"
	"execution-core/pkg/venue"
)

var (
	ErrNotComplete       = errors.New("order family is not complete")
	ErrChildWorking      = errors.New("child order still working at the venue")
	ErrNothingToExecute  = errors.New("nothing left to execute")
	ErrNotSubmitted      = errors.New("broker order not submitted")
	ErrSpreadHasChildren = errors.New("spread order already has broker orders")
)

// Broker is the part of the broker gateway the handler drives.
type Broker interface {
	Submit(ctx context.Context, o *order.BrokerOrder) (venue.OrderHandle, error)
	Cancel(ctx context.Context, o *order.BrokerOrder) error
	Fills(ctx context.Context, o *order.BrokerOrder) (broker.BrokerFill, error)
	// Working reports whether the venue still works o.
	Working(ctx context.Context, o *order.BrokerOrder) (bool, error)
}

// Stacks groups the three tiers.
type Stacks struct {
	Instruments *stack.Stack[*order.InstrumentOrder]
	Contracts   *stack.Stack[*order.ContractOrder]
	Brokers     *stack.Stack[*order.BrokerOrder]
}

// NewStacks opens the three stacks on one database.
func NewStacks(database *db.Database, archive stack.Archiver, log *zap.Logger) Stacks {
	return Stacks{
		Instruments: stack.New[*order.InstrumentOrder](database, "instrument", order.TierInstrument, archive, log),
		Contracts:   stack.New[*order.ContractOrder](database, "contract", order.TierContract, archive, log),
		Brokers:     stack.New[*order.BrokerOrder](database, "broker", order.TierBroker, archive, log),
	}
}

// Handler owns order propagation between tiers.
type Handler struct {
	db       *db.Database
	stacks   Stacks
	broker   Broker
	selector ContractSelector
	bus      *events.Bus
	log      *zap.Logger
	now      func() time.Time
}

func New(database *db.Database, stacks Stacks, b Broker, selector ContractSelector, bus *events.Bus, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		db:       database,
		stacks:   stacks,
		broker:   b,
		selector: selector,
		bus:      bus,
		log:      log.Named("stackhandler"),
		now:      time.Now,
	}
}

func (h *Handler) Stacks() Stacks { return h.stacks }

// PutInstrumentOrder places a strategy order. With modify, an existing
// order for the same key has its trade replaced.
func (h *Handler) PutInstrumentOrder(ctx context.Context, o *order.InstrumentOrder, modify bool) (int64, error) {
	var opts []stack.PutOption
	if modify {
		opts = append(opts, stack.WithModify())
	}
	if o.RollOrder {
		opts = append(opts, stack.AllowZeroTrade())
	}
	id, err := h.stacks.Instruments.Put(ctx, o, opts...)
	if err != nil {
		return id, err
	}
	ev := events.EventOrderPut
	if o.ModificationStatus == order.ModificationModified {
		ev = events.EventOrderModified
	}
	h.publish(ev, o, "")
	return id, nil
}

// SpawnContractOrders creates the contract children of an instrument order.
// Calling it again returns the children already there.
func (h *Handler) SpawnContractOrders(ctx context.Context, instrumentID int64) ([]int64, error) {
	parent, err := h.stacks.Instruments.Get(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if !parent.Active {
		return nil, fmt.Errorf("%w: instrument order %d", order.ErrInactiveOrder, instrumentID)
	}
	if ids, err := h.existingChildren(ctx, parent); err != nil || len(ids) > 0 {
		return ids, err
	}
	if parent.RollOrder || parent.IsZeroTrade() {
		return nil, nil
	}

	allocs, err := h.selector.Select(ctx, parent)
	if err != nil {
		return nil, err
	}
	var (
		ids      []int64
		children []*order.ContractOrder
	)
	err = h.db.RunInTx(ctx, func(ctx context.Context) error {
		ids, children = ids[:0], children[:0]
		for _, a := range allocs {
			child, err := order.NewContractOrder(parent.Strategy, parent.Instrument, []string{a.ContractDate}, trade.NewQuantity(a.Qty), parent.OrderType)
			if err != nil {
				return err
			}
			child.SetParent(parent.ID)
			child.ManualTrade = parent.ManualTrade
			child.ReferencePrice = parent.ReferencePrice
			if parent.LimitPrice != nil && (parent.LimitContract == "" || child.ContractDates[0] == mustNormalise(parent.LimitContract)) {
				p := *parent.LimitPrice
				child.LimitPrice = &p
			}
			id, err := h.stacks.Contracts.Put(ctx, child)
			if err != nil {
				return fmt.Errorf("spawn %s: %w", child.Key(), err)
			}
			ids = append(ids, id)
			children = append(children, child)
		}
		return h.stacks.Instruments.AddChildren(ctx, parent.ID, ids...)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		h.publish(events.EventOrderSpawned, c, "")
	}
	h.log.Info("contract orders spawned", zap.Int64("instrument_order", parent.ID), zap.Int64s("children", ids))
	return ids, nil
}

// existingChildren finds children already on the contract stack, including
// ones put before a crash that never made it into the parent's list.
func (h *Handler) existingChildren(ctx context.Context, parent *order.InstrumentOrder) ([]int64, error) {
	kids, err := h.stacks.Contracts.Children(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	ids := parent.Children()
	for _, k := range kids {
		ids = appendUnique(ids, k.ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) != len(parent.ChildIDs) {
		if err := h.stacks.Instruments.AddChildren(ctx, parent.ID, ids...); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ExecuteContractOrder claims a contract order for algo and sends its
// remaining quantity to the venue as a new broker order. The contract order
// stays locked and controlled until the broker order finishes. On a venue
// failure the broker order is archived unsubmitted and the claim released.
func (h *Handler) ExecuteContractOrder(ctx context.Context, contractID int64, algo string) (int64, error) {
	co, err := h.stacks.Contracts.GetForExecution(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if err := h.stacks.Contracts.SetController(ctx, contractID, algo); err != nil {
		h.unlockContract(ctx, contractID, "")
		return 0, err
	}

	remaining := co.Remaining()
	if remaining.IsZero() {
		h.unlockContract(ctx, contractID, algo)
		return 0, fmt.Errorf("%w: contract order %d", ErrNothingToExecute, contractID)
	}
	bo, err := order.NewBrokerOrder(co, remaining, co.OrderType)
	if err != nil {
		h.unlockContract(ctx, contractID, algo)
		return 0, err
	}
	bo.AlgoUsed = algo

	var brokerID int64
	err = h.db.RunInTx(ctx, func(ctx context.Context) error {
		id, err := h.stacks.Brokers.Put(ctx, bo)
		if err != nil {
			return err
		}
		brokerID = id
		return h.stacks.Contracts.AddChildren(ctx, contractID, id)
	})
	if err != nil {
		h.unlockContract(ctx, contractID, algo)
		return 0, err
	}

	if _, err := h.broker.Submit(ctx, bo); err != nil {
		h.publish(events.EventOrderRejected, bo, err.Error())
		h.publish(events.EventVenueError, bo, err.Error())
		if derr := h.stacks.Brokers.Deactivate(ctx, brokerID); derr != nil {
			h.log.Error("archive rejected broker order", zap.Int64("broker_order", brokerID), zap.Error(derr))
		}
		h.unlockContract(ctx, contractID, algo)
		return brokerID, fmt.Errorf("submit broker order %d: %w", brokerID, err)
	}

	stored, err := h.stacks.Brokers.Update(ctx, brokerID, func(s *order.BrokerOrder) error {
		s.Account, s.OrderRef, s.SubmitPrice = bo.Account, bo.OrderRef, bo.SubmitPrice
		return s.MarkSubmitted(bo.BrokerPermID, bo.BrokerTempID, bo.ClientID, bo.Legs, bo.SubmitDatetime)
	})
	if err != nil {
		// The venue has the order; the fill poller cannot find it without
		// the perm ID, so this needs an operator.
		h.log.Error("record submission", zap.Int64("broker_order", brokerID), zap.String("perm_id", bo.BrokerPermID), zap.Error(err))
		return brokerID, err
	}
	h.publish(events.EventOrderSubmitted, stored, "")
	return brokerID, nil
}

func (h *Handler) unlockContract(ctx context.Context, contractID int64, algo string) {
	if algo != "" {
		if err := h.stacks.Contracts.ReleaseController(ctx, contractID, algo); err != nil && !errors.Is(err, order.ErrNotController) {
			h.log.Warn("release controller", zap.Int64("contract_order", contractID), zap.Error(err))
		}
	}
	if err := h.stacks.Contracts.Unlock(ctx, contractID); err != nil {
		h.log.Warn("unlock contract order", zap.Int64("contract_order", contractID), zap.Error(err))
	}
}

// PollBrokerFill asks the venue for the executions of a broker order and
// applies them. A working order the venue no longer lists was cancelled or
// expired there; it is archived as cancelled with whatever filled.
func (h *Handler) PollBrokerFill(ctx context.Context, brokerID int64) error {
	bo, err := h.stacks.Brokers.Get(ctx, brokerID)
	if err != nil {
		return err
	}
	if bo.BrokerPermID == "" {
		return fmt.Errorf("%w: %d", ErrNotSubmitted, brokerID)
	}
	// Status before executions: every execution of an order is reported
	// before the venue drops it from the open list.
	working := true
	if bo.Active && isWorking(bo.Status) {
		if working, err = h.broker.Working(ctx, bo); err != nil {
			return err
		}
	}
	if err := h.pullFills(ctx, bo); err != nil {
		return err
	}
	if working {
		return nil
	}

	bo, err = h.stacks.Brokers.Get(ctx, brokerID)
	if err != nil {
		return err
	}
	if bo.Status == order.StatusFilled || !bo.Active {
		return nil
	}
	h.log.Warn("broker order no longer working at the venue",
		zap.Int64("broker_order", brokerID),
		zap.String("perm_id", bo.BrokerPermID),
		zap.Stringer("fill", bo.Fill))
	return h.archiveCancelled(ctx, brokerID, "cancelled at venue")
}

func (h *Handler) pullFills(ctx context.Context, bo *order.BrokerOrder) error {
	f, err := h.broker.Fills(ctx, bo)
	if err != nil {
		return err
	}
	if f.Fill.Equal(bo.Fill) {
		return nil
	}
	return h.UpdateBrokerFill(ctx, bo.ID, f.Fill, f.Price, f.At, f.Commission)
}

func isWorking(s order.ExchangeStatus) bool {
	return s == order.StatusSubmitted || s == order.StatusPartiallyFilled
}

// UpdateBrokerFill records a broker order's cumulative fill and recomputes
// the fills of its contract and instrument parents from their children. A
// regressive or oversized fill is rejected and nothing changes.
func (h *Handler) UpdateBrokerFill(ctx context.Context, brokerID int64, fill trade.Quantity, price *float64, at time.Time, commission order.Commission) error {
	if at.IsZero() {
		at = h.now()
	}
	var touched []order.Order
	err := h.db.RunInTx(ctx, func(ctx context.Context) error {
		touched = touched[:0]
		bo, err := h.stacks.Brokers.Update(ctx, brokerID, func(b *order.BrokerOrder) error {
			if err := b.ApplyFill(fill, price, at); err != nil {
				return err
			}
			if commission != nil {
				b.Commission = commission
			}
			return nil
		})
		if err != nil {
			return err
		}
		touched = append(touched, bo)
		if !bo.HasParent() {
			return nil
		}

		co, err := h.refreshContractFill(ctx, bo.ParentID)
		if err != nil {
			return err
		}
		touched = append(touched, co)
		if !co.HasParent() {
			return nil
		}
		io, err := h.refreshInstrumentFill(ctx, co.ParentID)
		if err != nil {
			return err
		}
		if io != nil {
			touched = append(touched, io)
		}
		return nil
	})
	if err != nil {
		h.log.Warn("fill rejected", zap.Int64("broker_order", brokerID), zap.Stringer("fill", fill), zap.Error(err))
		return err
	}
	// Parent fills are counted by their stacks.
	monitor.ObserveFill(string(order.TierBroker))
	for _, o := range touched {
		h.publish(events.EventOrderFilled, o, "")
	}
	return nil
}

// refreshContractFill sets the contract fill to the literal sum of its
// broker children's fills.
func (h *Handler) refreshContractFill(ctx context.Context, contractID int64) (*order.ContractOrder, error) {
	co, err := h.stacks.Contracts.Get(ctx, contractID)
	if err != nil {
		return nil, err
	}
	kids, err := h.stacks.Brokers.Children(ctx, contractID)
	if err != nil {
		return nil, err
	}
	sum := co.Trade.ZeroVersion()
	agg := newPriceAggregate()
	for _, k := range kids {
		if sum, err = sum.Add(k.Fill); err != nil {
			return nil, fmt.Errorf("broker order %d: %w", k.ID, err)
		}
		agg.add(k.Fill.Total(), k.FillPrice, k.FillDatetime)
	}
	return h.stacks.Contracts.ChangeFill(ctx, contractID, sum, agg.price(), agg.at)
}

// refreshInstrumentFill sets the instrument fill to the sum of its contract
// children's net fills. Roll parents carry no fill of their own.
func (h *Handler) refreshInstrumentFill(ctx context.Context, instrumentID int64) (*order.InstrumentOrder, error) {
	io, err := h.stacks.Instruments.Get(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if io.RollOrder {
		return nil, nil
	}
	kids, err := h.stacks.Contracts.Children(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	var net int64
	agg := newPriceAggregate()
	for _, k := range kids {
		net += k.Fill.Net()
		if !k.IsSpread() {
			agg.add(k.Fill.Total(), k.FillPrice, k.FillDatetime)
		}
	}
	return h.stacks.Instruments.ChangeFill(ctx, instrumentID, trade.NewQuantity(net), agg.price(), agg.at)
}

type priceAggregate struct {
	qty, notional float64
	at            time.Time
}

func newPriceAggregate() *priceAggregate { return &priceAggregate{} }

func (a *priceAggregate) add(qty int64, price *float64, at time.Time) {
	if qty == 0 || price == nil {
		return
	}
	a.qty += float64(qty)
	a.notional += float64(qty) * *price
	if at.After(a.at) {
		a.at = at
	}
}

func (a *priceAggregate) price() *float64 {
	if a.qty == 0 {
		return nil
	}
	p := a.notional / a.qty
	return &p
}

// CancelBrokerOrder cancels at the venue, picks up any last fills, and
// archives the order. A completely filled order is left alone, and so is
// one the venue has already finished by itself.
func (h *Handler) CancelBrokerOrder(ctx context.Context, brokerID int64) error {
	bo, err := h.stacks.Brokers.Get(ctx, brokerID)
	if err != nil {
		return err
	}
	if bo.Status == order.StatusFilled || (bo.FullyFilled() && !bo.IsZeroTrade()) {
		return nil
	}
	if !bo.Active {
		if bo.Status == order.StatusCancelled {
			return nil
		}
		return fmt.Errorf("%w: broker order %d", order.ErrInactiveOrder, brokerID)
	}
	if bo.Status == order.StatusUnsubmitted {
		return h.archiveCancelled(ctx, brokerID, "")
	}

	if err := h.broker.Cancel(ctx, bo); err != nil {
		if !errors.Is(err, venue.ErrVenueRejected) {
			h.publish(events.EventVenueError, bo, err.Error())
			return err
		}
		// Rejected cancels are usually orders the venue already filled or
		// cancelled; the poll settles which.
		if perr := h.PollBrokerFill(ctx, brokerID); perr != nil {
			h.log.Warn("fill check after rejected cancel", zap.Int64("broker_order", brokerID), zap.Error(perr))
		}
		after, gerr := h.stacks.Brokers.Get(ctx, brokerID)
		if gerr != nil {
			return gerr
		}
		if after.Status == order.StatusFilled || !after.Active {
			return nil
		}
		h.publish(events.EventVenueError, bo, err.Error())
		return err
	}
	if err := h.pullFills(ctx, bo); err != nil {
		h.log.Warn("final fill check after cancel", zap.Int64("broker_order", brokerID), zap.Error(err))
	}
	return h.archiveCancelled(ctx, brokerID, "")
}

// archiveCancelled marks a broker order cancelled unless it filled, archives
// it and hands its contract parent back.
func (h *Handler) archiveCancelled(ctx context.Context, brokerID int64, msg string) error {
	var cancelled *order.BrokerOrder
	err := h.db.RunInTx(ctx, func(ctx context.Context) error {
		bo, err := h.stacks.Brokers.Update(ctx, brokerID, func(b *order.BrokerOrder) error {
			if b.Status == order.StatusFilled || b.Status == order.StatusUnsubmitted {
				return nil
			}
			return b.Transition(order.StatusCancelled)
		})
		if err != nil {
			return err
		}
		cancelled = bo
		return h.stacks.Brokers.Deactivate(ctx, brokerID)
	})
	if err != nil {
		return err
	}
	if cancelled.HasParent() {
		h.unlockContract(ctx, cancelled.ParentID, cancelled.AlgoUsed)
	}
	h.publish(events.EventOrderCancelled, cancelled, msg)
	return nil
}

// ManualFill books a fill the venue did not report, as a manual broker
// child of the contract order.
func (h *Handler) ManualFill(ctx context.Context, contractID int64, fill trade.Quantity, price float64) (int64, error) {
	co, err := h.stacks.Contracts.Get(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if co.Locked {
		return 0, fmt.Errorf("%w: contract order %d is being executed", order.ErrLockedOrder, contractID)
	}
	if !co.Remaining().FillLessThanOrEqual(fill) || fill.IsZero() {
		return 0, fmt.Errorf("%w: manual fill %s against remaining %s", order.ErrInvalidFillQuantity, fill, co.Remaining())
	}
	bo, err := order.NewBrokerOrder(co, fill, order.TypeMarket)
	if err != nil {
		return 0, err
	}
	bo.ManualFill = true
	bo.ManualTrade = true
	bo.AlgoUsed = "manual"

	var brokerID int64
	err = h.db.RunInTx(ctx, func(ctx context.Context) error {
		id, err := h.stacks.Brokers.Put(ctx, bo)
		if err != nil {
			return err
		}
		brokerID = id
		if err := h.stacks.Contracts.AddChildren(ctx, contractID, id); err != nil {
			return err
		}
		return h.UpdateBrokerFill(ctx, id, fill, &price, h.now(), nil)
	})
	if err != nil {
		return 0, err
	}
	h.log.Info("manual fill booked", zap.Int64("contract_order", contractID), zap.Int64("broker_order", brokerID), zap.Stringer("fill", fill))
	return brokerID, nil
}

// SplitSpreadOrder replaces an untouched spread contract order by one
// outright order per leg.
func (h *Handler) SplitSpreadOrder(ctx context.Context, contractID int64) ([]int64, error) {
	var (
		ids      []int64
		siblings []*order.ContractOrder
	)
	err := h.db.RunInTx(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		co, err := h.stacks.Contracts.Get(ctx, contractID)
		if err != nil {
			return err
		}
		if !co.Active {
			return order.ErrInactiveOrder
		}
		if co.Locked {
			return order.ErrLockedOrder
		}
		if co.HasChildren() {
			return fmt.Errorf("%w: %d", ErrSpreadHasChildren, contractID)
		}
		siblings, err = co.SplitSpread()
		if err != nil {
			return err
		}
		if err := h.stacks.Contracts.Deactivate(ctx, contractID); err != nil {
			return err
		}
		for _, s := range siblings {
			id, err := h.stacks.Contracts.Put(ctx, s)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		if co.HasParent() {
			return h.stacks.Instruments.AddChildren(ctx, co.ParentID, ids...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		h.publish(events.EventOrderSpawned, s, fmt.Sprintf("split from %d", contractID))
	}
	return ids, nil
}

// CompleteOrderFamily deactivates an instrument order with all of its
// contract and broker descendants once everything is filled. force skips
// the fill check but never a broker order still working at the venue.
func (h *Handler) CompleteOrderFamily(ctx context.Context, instrumentID int64, force bool) error {
	var family []order.Order
	err := h.db.RunInTx(ctx, func(ctx context.Context) error {
		family = family[:0]
		io, err := h.stacks.Instruments.Get(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !io.Active {
			return fmt.Errorf("%w: instrument order %d", order.ErrInactiveOrder, instrumentID)
		}
		contracts, err := h.stacks.Contracts.Children(ctx, instrumentID)
		if err != nil {
			return err
		}
		if !force {
			if !io.FullyFilled() {
				return fmt.Errorf("%w: instrument order %d filled %s of %s", ErrNotComplete, instrumentID, io.Fill, io.Trade)
			}
			for _, c := range contracts {
				if c.Active && !c.FullyFilled() {
					return fmt.Errorf("%w: contract order %d filled %s of %s", ErrNotComplete, c.ID, c.Fill, c.Trade)
				}
			}
		}

		var brokers []*order.BrokerOrder
		for _, c := range contracts {
			kids, err := h.stacks.Brokers.Children(ctx, c.ID)
			if err != nil {
				return err
			}
			for _, b := range kids {
				if b.Active && (b.Status == order.StatusSubmitted || b.Status == order.StatusPartiallyFilled) {
					return fmt.Errorf("%w: broker order %d is %s", ErrChildWorking, b.ID, b.Status)
				}
				brokers = append(brokers, b)
			}
		}

		if err := h.stacks.Instruments.Deactivate(ctx, instrumentID); err != nil {
			return err
		}
		family = append(family, io)
		for _, c := range contracts {
			if !c.Active {
				continue
			}
			if err := h.stacks.Contracts.Deactivate(ctx, c.ID); err != nil {
				return err
			}
			family = append(family, c)
		}
		for _, b := range brokers {
			if !b.Active {
				continue
			}
			if err := h.stacks.Brokers.Deactivate(ctx, b.ID); err != nil {
				return err
			}
			family = append(family, b)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, o := range family {
		h.publish(events.EventOrderCompleted, o, "")
	}
	h.log.Info("order family completed", zap.Int64("instrument_order", instrumentID), zap.Bool("forced", force), zap.Int("orders", len(family)))
	return nil
}

// CompleteFinishedOrders completes every instrument order whose family is
// fully filled and returns how many were completed.
func (h *Handler) CompleteFinishedOrders(ctx context.Context) (int, error) {
	list, err := h.stacks.Instruments.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, io := range list {
		if !io.HasChildren() {
			continue
		}
		err := h.CompleteOrderFamily(ctx, io.ID, false)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrNotComplete), errors.Is(err, ErrChildWorking):
		default:
			return n, err
		}
	}
	return n, nil
}

// WorkingBrokerOrders lists active broker orders the venue is working.
func (h *Handler) WorkingBrokerOrders(ctx context.Context) ([]*order.BrokerOrder, error) {
	list, err := h.stacks.Brokers.List(ctx)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, b := range list {
		if b.Status == order.StatusSubmitted || b.Status == order.StatusPartiallyFilled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (h *Handler) publish(ev events.Event, o order.Order, msg string) {
	if h.bus == nil {
		return
	}
	b := o.Common()
	e := events.OrderEvent{
		Type:     ev,
		Tier:     string(o.Tier()),
		OrderID:  b.ID,
		ParentID: b.ParentID,
		Key:      o.Key(),
		Trade:    b.Trade.Clone(),
		Fill:     b.Fill.Clone(),
		Price:    b.FillPrice,
		Message:  msg,
		At:       h.now().UTC(),
	}
	if bo, ok := o.(*order.BrokerOrder); ok {
		e.Status = string(bo.Status)
	}
	h.bus.Publish(ev, e)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func mustNormalise(d string) string {
	n, err := trade.NormaliseContractDate(d)
	if err != nil {
		return d
	}
	return n
}
