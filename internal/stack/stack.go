// Package stack holds the active orders of one tier in SQLite. Every
// read-modify-write goes through a version-checked update, so two processes
// sharing the database cannot both claim, fill or modify the same order from
// the same starting state.
package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/db"
)

// ErrNotConfirmed guards bulk removal.
var ErrNotConfirmed = errors.New("clear needs explicit confirmation")

const maxConflictRetries = 5

// Archiver receives orders as they are deactivated. It must join the
// transaction carried by ctx.
type Archiver interface {
	Archive(ctx context.Context, o order.Order) error
}

// Stack is the persistent, lockable set of orders of one tier.
type Stack[O order.Order] struct {
	db      *db.Database
	name    string
	tier    order.Tier
	archive Archiver
	log     *zap.Logger
}

// New opens the stack called name holding orders of the given tier.
func New[O order.Order](database *db.Database, name string, tier order.Tier, archive Archiver, log *zap.Logger) *Stack[O] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stack[O]{
		db:      database,
		name:    name,
		tier:    tier,
		archive: archive,
		log:     log.Named("stack").With(zap.String("stack", name)),
	}
}

func (s *Stack[O]) Name() string     { return s.name }
func (s *Stack[O]) Tier() order.Tier { return s.tier }
func (s *Stack[O]) DB() *db.Database { return s.db }

type putOptions struct {
	modify    bool
	allowZero bool
}

// PutOption changes how Put treats an existing order or a zero trade.
type PutOption func(*putOptions)

// WithModify replaces the trade of an existing order with the same key
// instead of reporting a duplicate.
func WithModify() PutOption { return func(o *putOptions) { o.modify = true } }

// AllowZeroTrade accepts an all-zero trade, e.g. a roll placeholder.
func AllowZeroTrade() PutOption { return func(o *putOptions) { o.allowZero = true } }

// Put adds o and assigns its ID. When an active order with the same key is
// already there, the existing ID is returned together with
// order.ErrDuplicateOrder, unless WithModify was given and the trades differ.
func (s *Stack[O]) Put(ctx context.Context, o O, opts ...PutOption) (id int64, err error) {
	defer s.observe("put", time.Now(), &err)

	var po putOptions
	for _, opt := range opts {
		opt(&po)
	}
	b := o.Common()
	if b.ID != 0 {
		return b.ID, fmt.Errorf("%w: %d", order.ErrOrderIDAlreadySet, b.ID)
	}
	if b.IsZeroTrade() && !po.allowZero {
		return 0, fmt.Errorf("%w: %s", order.ErrZeroTrade, o.Key())
	}

	err = s.db.RunInTx(ctx, func(ctx context.Context) error {
		rec, err := s.db.GetActiveStackOrderByKey(ctx, s.name, o.Key())
		switch {
		case errors.Is(err, db.ErrNotFound):
			id, err = s.insert(ctx, o)
			return err
		case err != nil:
			return err
		}

		existing, err := s.decode(rec.Body)
		if err != nil {
			return err
		}
		id = rec.OrderID
		eb := existing.Common()
		if eb.Trade.Equal(b.Trade) || !po.modify {
			return fmt.Errorf("%w: %s is order %d", order.ErrDuplicateOrder, o.Key(), id)
		}
		if err := eb.ReplaceTrade(b.Trade); err != nil {
			return fmt.Errorf("modify order %d: %w", id, err)
		}
		rec.Body, err = json.Marshal(existing)
		if err != nil {
			return err
		}
		_, err = s.db.UpdateStackOrder(ctx, rec)
		return s.mapErr(err, id)
	})
	if err != nil {
		if errors.Is(err, order.ErrDuplicateOrder) {
			s.log.Debug("duplicate order", zap.String("key", o.Key()), zap.Int64("order_id", id))
		}
		return id, err
	}
	s.log.Info("order put", zap.Int64("order_id", id), zap.String("key", o.Key()), zap.Stringer("trade", b.Trade))
	return id, nil
}

func (s *Stack[O]) insert(ctx context.Context, o O) (int64, error) {
	b := o.Common()
	id, err := s.db.NextOrderID(ctx, s.name)
	if err != nil {
		return 0, err
	}
	b.ID = id
	body, err := json.Marshal(o)
	if err != nil {
		b.ID = 0
		return 0, err
	}
	err = s.db.InsertStackOrder(ctx, db.StackOrder{
		Stack:    s.name,
		OrderID:  id,
		Key:      o.Key(),
		ParentID: b.ParentID,
		Locked:   b.Locked,
		Active:   b.Active,
		Body:     body,
	})
	if err != nil {
		b.ID = 0
		if errors.Is(err, db.ErrDuplicateKey) {
			return 0, fmt.Errorf("%w: %s", order.ErrDuplicateOrder, o.Key())
		}
		return 0, err
	}
	return id, nil
}

// Get returns the order with this ID, active or not.
func (s *Stack[O]) Get(ctx context.Context, id int64) (O, error) {
	rec, err := s.db.GetStackOrder(ctx, s.name, id)
	if err != nil {
		var zero O
		return zero, s.mapErr(err, id)
	}
	return s.decode(rec.Body)
}

// GetByKey returns the active order for a tradeable object key.
func (s *Stack[O]) GetByKey(ctx context.Context, key string) (O, error) {
	rec, err := s.db.GetActiveStackOrderByKey(ctx, s.name, key)
	if err != nil {
		var zero O
		if errors.Is(err, db.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s key %s", order.ErrMissingOrder, s.name, key)
		}
		return zero, err
	}
	return s.decode(rec.Body)
}

// List returns the active orders.
func (s *Stack[O]) List(ctx context.Context) ([]O, error) {
	return s.list(ctx, db.StackFilter{ActiveOnly: true})
}

// ListAll includes deactivated orders not yet removed.
func (s *Stack[O]) ListAll(ctx context.Context) ([]O, error) {
	return s.list(ctx, db.StackFilter{})
}

// ListIDs returns the IDs of active orders.
func (s *Stack[O]) ListIDs(ctx context.Context) ([]int64, error) {
	recs, err := s.db.ListStackOrders(ctx, s.name, db.StackFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.OrderID
	}
	return ids, nil
}

// Children returns the orders of this stack whose parent is parentID.
func (s *Stack[O]) Children(ctx context.Context, parentID int64) ([]O, error) {
	if parentID == 0 {
		return nil, nil
	}
	return s.list(ctx, db.StackFilter{ParentID: parentID})
}

func (s *Stack[O]) list(ctx context.Context, f db.StackFilter) ([]O, error) {
	recs, err := s.db.ListStackOrders(ctx, s.name, f)
	if err != nil {
		return nil, err
	}
	out := make([]O, 0, len(recs))
	for _, r := range recs {
		o, err := s.decode(r.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Lock claims the order.
func (s *Stack[O]) Lock(ctx context.Context, id int64) (err error) {
	defer s.observe("lock", time.Now(), &err)
	_, err = s.mutate(ctx, id, func(o O) error { return o.Common().Lock() })
	return err
}

// Unlock releases a claim.
func (s *Stack[O]) Unlock(ctx context.Context, id int64) (err error) {
	defer s.observe("unlock", time.Now(), &err)
	_, err = s.mutate(ctx, id, func(o O) error {
		o.Common().Unlock()
		return nil
	})
	return err
}

// GetForExecution locks and returns the order in one step. A second caller
// gets order.ErrLockedOrder.
func (s *Stack[O]) GetForExecution(ctx context.Context, id int64) (o O, err error) {
	defer s.observe("get_for_execution", time.Now(), &err)
	return s.mutate(ctx, id, func(o O) error { return o.Common().Lock() })
}

// ChangeFill sets the cumulative fill, its price and time. The trade is never
// touched.
func (s *Stack[O]) ChangeFill(ctx context.Context, id int64, fill trade.Quantity, price *float64, at time.Time) (o O, err error) {
	defer s.observe("change_fill", time.Now(), &err)
	o, err = s.mutate(ctx, id, func(o O) error { return o.Common().SetFill(fill, price, at) })
	if err == nil {
		monitor.ObserveFill(string(s.tier))
		monitor.Default.IncrementFills()
	}
	return o, err
}

// ModifyTrade replaces the desired trade of an unlocked order.
func (s *Stack[O]) ModifyTrade(ctx context.Context, id int64, qty trade.Quantity) (o O, err error) {
	defer s.observe("modify_trade", time.Now(), &err)
	return s.mutate(ctx, id, func(o O) error { return o.Common().ReplaceTrade(qty) })
}

// AddChildren appends child IDs to the order.
func (s *Stack[O]) AddChildren(ctx context.Context, id int64, children ...int64) (err error) {
	defer s.observe("add_children", time.Now(), &err)
	_, err = s.mutate(ctx, id, func(o O) error {
		b := o.Common()
		if !b.Active {
			return order.ErrInactiveOrder
		}
		b.AddChildren(children...)
		return nil
	})
	return err
}

// Update applies fn to the stored order and writes it back atomically. fn
// may run more than once when another writer gets in first.
func (s *Stack[O]) Update(ctx context.Context, id int64, fn func(O) error) (o O, err error) {
	defer s.observe("update", time.Now(), &err)
	return s.mutate(ctx, id, fn)
}

// SetController claims a contract order for one execution algo.
func (s *Stack[O]) SetController(ctx context.Context, id int64, ref string) (err error) {
	defer s.observe("set_controller", time.Now(), &err)
	_, err = s.mutate(ctx, id, func(o O) error {
		co, ok := any(o).(*order.ContractOrder)
		if !ok {
			return fmt.Errorf("%s orders have no controller", s.tier)
		}
		if !co.Active {
			return order.ErrInactiveOrder
		}
		return co.AddController(ref)
	})
	return err
}

// ReleaseController gives up the claim held by ref.
func (s *Stack[O]) ReleaseController(ctx context.Context, id int64, ref string) (err error) {
	defer s.observe("release_controller", time.Now(), &err)
	_, err = s.mutate(ctx, id, func(o O) error {
		co, ok := any(o).(*order.ContractOrder)
		if !ok {
			return fmt.Errorf("%s orders have no controller", s.tier)
		}
		return co.ReleaseController(ref)
	})
	return err
}

// Deactivate makes the order terminal and archives it in the same
// transaction.
func (s *Stack[O]) Deactivate(ctx context.Context, id int64) (err error) {
	defer s.observe("deactivate", time.Now(), &err)
	err = s.db.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.mutate(ctx, id, func(o O) error {
			b := o.Common()
			if !b.Active {
				return order.ErrInactiveOrder
			}
			b.Deactivate()
			return nil
		})
		if err != nil {
			return err
		}
		if s.archive == nil {
			return nil
		}
		return s.archive.Archive(ctx, o)
	})
	if err == nil {
		s.log.Info("order deactivated", zap.Int64("order_id", id))
	}
	return err
}

// Remove deletes an unlocked order.
func (s *Stack[O]) Remove(ctx context.Context, id int64) (err error) {
	defer s.observe("remove", time.Now(), &err)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rec, err := s.db.GetStackOrder(ctx, s.name, id)
		if err != nil {
			return s.mapErr(err, id)
		}
		if rec.Locked {
			return fmt.Errorf("%w: order %d", order.ErrLockedOrder, id)
		}
		err = s.db.DeleteStackOrder(ctx, s.name, id, rec.Version)
		if errors.Is(err, db.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return s.mapErr(err, id)
		}
		s.log.Info("order removed", zap.Int64("order_id", id))
		return nil
	}
	return fmt.Errorf("remove order %d: %w", id, db.ErrVersionConflict)
}

// RemoveFinished deletes deactivated orders; they are already archived.
func (s *Stack[O]) RemoveFinished(ctx context.Context) (int64, error) {
	n, err := s.db.DeleteStackOrders(ctx, s.name, db.StackFilter{InactiveOnly: true})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("removed finished orders", zap.Int64("count", n))
	}
	return n, nil
}

// Clear deletes every order on the stack. areYouSure must be true.
func (s *Stack[O]) Clear(ctx context.Context, areYouSure bool) (int64, error) {
	if !areYouSure {
		return 0, ErrNotConfirmed
	}
	n, err := s.db.DeleteStackOrders(ctx, s.name, db.StackFilter{})
	if err != nil {
		return 0, err
	}
	s.log.Warn("stack cleared", zap.Int64("count", n))
	return n, nil
}

// mutate is the conditional read-modify-write every change goes through.
func (s *Stack[O]) mutate(ctx context.Context, id int64, fn func(O) error) (O, error) {
	var zero O
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rec, err := s.db.GetStackOrder(ctx, s.name, id)
		if err != nil {
			return zero, s.mapErr(err, id)
		}
		o, err := s.decode(rec.Body)
		if err != nil {
			return zero, err
		}
		if err := fn(o); err != nil {
			return zero, fmt.Errorf("%s order %d: %w", s.name, id, err)
		}
		b := o.Common()
		rec.Body, err = json.Marshal(o)
		if err != nil {
			return zero, err
		}
		rec.Key = o.Key()
		rec.ParentID = b.ParentID
		rec.Locked = b.Locked
		rec.Active = b.Active
		_, err = s.db.UpdateStackOrder(ctx, rec)
		if errors.Is(err, db.ErrVersionConflict) {
			s.log.Debug("version conflict, retrying", zap.Int64("order_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return zero, s.mapErr(err, id)
		}
		return o, nil
	}
	return zero, fmt.Errorf("%s order %d: %w", s.name, id, db.ErrVersionConflict)
}

func (s *Stack[O]) decode(body []byte) (O, error) {
	var zero O
	o, err := order.Decode(s.tier, body)
	if err != nil {
		return zero, err
	}
	typed, ok := o.(O)
	if !ok {
		return zero, fmt.Errorf("stack %s holds %T, not the requested order type", s.name, o)
	}
	return typed, nil
}

func (s *Stack[O]) mapErr(err error, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: %s order %d", order.ErrMissingOrder, s.name, id)
	case errors.Is(err, db.ErrDuplicateKey):
		return fmt.Errorf("%w: %s order %d", order.ErrDuplicateOrder, s.name, id)
	}
	return err
}

var resultLabels = map[error]string{
	order.ErrDuplicateOrder:      "duplicate",
	order.ErrLockedOrder:         "locked",
	order.ErrMissingOrder:        "missing",
	order.ErrInvalidFillQuantity: "invalid_fill",
	order.ErrZeroTrade:           "zero_trade",
	order.ErrInactiveOrder:       "inactive",
	db.ErrVersionConflict:        "conflict",
}

func (s *Stack[O]) observe(op string, started time.Time, err *error) {
	monitor.Default.StackLatency.RecordDuration(time.Since(started))
	monitor.ObserveStackOp(s.name, op, *err, func(e error) string { return monitor.ResultOf(e, resultLabels) })
	if op == "put" && *err == nil {
		monitor.Default.IncrementOrdersPut()
	}
}
