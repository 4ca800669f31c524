// Package historic keeps the immutable record of completed orders.
package historic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/db"
)

// Store archives orders once they leave a stack.
type Store struct {
	db *db.Database
}

func NewStore(database *db.Database) *Store {
	return &Store{db: database}
}

// Scope selects archived orders. Contract is a date list joined with
// trade.ContractSeparator, as it appears in contract keys.
type Scope struct {
	Strategy   string
	Instrument string
	Contract   string
	Since      time.Time
	Limit      int
}

// Archive writes the order's final state. It joins any transaction carried
// by ctx.
func (s *Store) Archive(ctx context.Context, o order.Order) error {
	b := o.Common()
	if b.ID == 0 {
		return fmt.Errorf("archive %s order without id", o.Tier())
	}
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode %s order %d: %w", o.Tier(), b.ID, err)
	}
	rec := db.HistoricOrder{
		Tier:     string(o.Tier()),
		OrderID:  b.ID,
		Key:      o.Key(),
		ParentID: b.ParentID,
		Body:     body,
	}
	switch v := o.(type) {
	case *order.InstrumentOrder:
		rec.Strategy, rec.Instrument = v.Strategy, v.Instrument
	case *order.ContractOrder:
		rec.Strategy, rec.Instrument = v.Strategy, v.Instrument
		rec.Contract = strings.Join(v.ContractDates, trade.ContractSeparator)
	case *order.BrokerOrder:
		rec.Strategy, rec.Instrument = v.Strategy, v.Instrument
		rec.Contract = strings.Join(v.ContractDates, trade.ContractSeparator)
	}
	return s.db.InsertHistoricOrder(ctx, rec)
}

// Get loads one archived order.
func (s *Store) Get(ctx context.Context, tier order.Tier, id int64) (order.Order, error) {
	rec, err := s.db.GetHistoricOrder(ctx, string(tier), id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: historic %s order %d", order.ErrMissingOrder, tier, id)
	}
	if err != nil {
		return nil, err
	}
	return order.Decode(tier, rec.Body)
}

// List returns archived orders of one tier matching the scope.
func (s *Store) List(ctx context.Context, tier order.Tier, scope Scope) ([]order.Order, error) {
	recs, err := s.db.ListHistoricOrders(ctx, string(tier), db.HistoricFilter{
		Strategy:   scope.Strategy,
		Instrument: scope.Instrument,
		Contract:   scope.Contract,
		Since:      scope.Since,
		Limit:      scope.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]order.Order, 0, len(recs))
	for _, rec := range recs {
		o, err := order.Decode(tier, rec.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Fills returns the settled fills of archived single-leg orders in scope.
// Orders without a fill are skipped.
func (s *Store) Fills(ctx context.Context, tier order.Tier, scope Scope) (order.Fills, error) {
	orders, err := s.List(ctx, tier, scope)
	if err != nil {
		return nil, err
	}
	var out order.Fills
	for _, o := range orders {
		f, err := order.FillFromOrder(o)
		if errors.Is(err, order.ErrNoFill) || errors.Is(err, order.ErrMultiLegFill) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
