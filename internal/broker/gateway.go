// Package broker turns contract-level orders into venue orders and venue
// executions back into fills.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/trade"
	"execution-core/pkg/venue"
)

// Sessions hands out venue sessions per account.
type Sessions interface {
	Acquire(ctx context.Context, account string) (venue.Session, error)
	// Report tells the pool how a call on the account's session went.
	Report(account string, err error)
}

// Options configures a Gateway.
type Options struct {
	Account string
	Timeout time.Duration
}

// Gateway is the broker-side protocol: resolution, submission, fills and
// account queries, each under a timeout.
type Gateway struct {
	sessions Sessions
	resolver *ContractResolver
	pacer    *venue.Pacer
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

func NewGateway(sessions Sessions, resolver *ContractResolver, pacer *venue.Pacer, opts Options, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if pacer != nil && pacer.OnWait == nil {
		pacer.OnWait = monitor.ObservePacingWait
	}
	return &Gateway{
		sessions: sessions,
		resolver: resolver,
		pacer:    pacer,
		opts:     opts,
		log:      log.Named("broker"),
		now:      time.Now,
	}
}

// Account is the default account orders go to.
func (g *Gateway) Account() string { return g.opts.Account }

var venueResults = map[error]string{
	venue.ErrVenueTimeout:      "timeout",
	venue.ErrVenueRejected:     "rejected",
	venue.ErrContractNotFound:  "not_found",
	venue.ErrAmbiguousContract: "ambiguous",
	venue.ErrNoHistoricalData:  "no_data",
	context.Canceled:           "cancelled",
}

func call[T any](ctx context.Context, g *Gateway, account, name string, fn func(ctx context.Context, s venue.Session) (T, error)) (T, error) {
	var zero T
	if account == "" {
		account = g.opts.Account
	}
	s, err := g.sessions.Acquire(ctx, account)
	if err != nil {
		return zero, err
	}
	started := time.Now()
	out, err := venue.Call(ctx, g.opts.Timeout, name, func(ctx context.Context) (T, error) {
		return fn(ctx, s)
	})
	monitor.ObserveVenueCall(name, started, monitor.ResultOf(err, venueResults))
	g.sessions.Report(account, err)
	if err != nil {
		g.log.Warn("venue call failed",
			zap.String("call", name),
			zap.String("account", account),
			zap.Int("client_id", s.ClientID),
			zap.Error(err))
	}
	return out, err
}

// ResolveContract finds the venue contracts for key. qty carries spread
// ratios and may be nil.
func (g *Gateway) ResolveContract(ctx context.Context, key trade.ContractKey, qty trade.Quantity) (Resolved, error) {
	return g.resolver.Resolve(ctx, key, qty, func(ctx context.Context, spec venue.ContractSpec) ([]venue.Contract, error) {
		return call(ctx, g, "", "resolve_contract", func(ctx context.Context, s venue.Session) ([]venue.Contract, error) {
			return s.Venue.ResolveContract(ctx, spec)
		})
	})
}

// Submit sends o to the venue and records the venue identifiers on it. On
// any failure o is left unsubmitted.
func (g *Gateway) Submit(ctx context.Context, o *order.BrokerOrder) (venue.OrderHandle, error) {
	if o.Status != order.StatusUnsubmitted {
		return venue.OrderHandle{}, fmt.Errorf("%w: order %d is %s", order.ErrInvalidTransition, o.ID, o.Status)
	}
	if o.IsZeroTrade() {
		return venue.OrderHandle{}, order.ErrZeroTrade
	}
	resolved, err := g.ResolveContract(ctx, o.ContractKey, o.Trade)
	if err != nil {
		return venue.OrderHandle{}, err
	}
	req, legs, err := g.request(o, resolved)
	if err != nil {
		return venue.OrderHandle{}, err
	}

	h, err := call(ctx, g, req.Account, "submit_order", func(ctx context.Context, s venue.Session) (venue.OrderHandle, error) {
		h, err := s.Venue.SubmitOrder(ctx, req)
		if err == nil && h.ClientID == 0 {
			h.ClientID = s.ClientID
		}
		return h, err
	})
	if err != nil {
		if errors.Is(err, venue.ErrVenueRejected) {
			g.resolver.Invalidate(o.ContractKey, o.Trade)
		}
		return venue.OrderHandle{}, err
	}

	o.Account = req.Account
	o.OrderRef = req.OrderRef
	if req.LimitPrice != nil {
		p := *req.LimitPrice
		o.SubmitPrice = &p
	}
	if err := o.MarkSubmitted(h.PermID, h.TempID, h.ClientID, legs, g.now()); err != nil {
		return h, err
	}
	g.log.Info("order submitted",
		zap.Int64("order_id", o.ID),
		zap.String("key", o.Key()),
		zap.String("trade", o.Trade.String()),
		zap.String("perm_id", h.PermID),
		zap.Int("client_id", h.ClientID))
	return h, nil
}

func (g *Gateway) request(o *order.BrokerOrder, r Resolved) (venue.OrderRequest, []order.Leg, error) {
	account := o.Account
	if account == "" {
		account = g.opts.Account
	}
	ref := o.OrderRef
	if ref == "" {
		ref = fmt.Sprintf("%s#%d", o.Key(), o.ID)
	}
	req := venue.OrderRequest{
		Type:     venue.OrderTypeMarket,
		Account:  account,
		OrderRef: ref,
	}
	if o.OrderType == order.TypeLimit {
		if o.LimitPrice == nil {
			return req, nil, fmt.Errorf("limit order %d without limit price", o.ID)
		}
		req.Type = venue.OrderTypeLimit
		p := *o.LimitPrice
		req.LimitPrice = &p
	}

	legs := make([]order.Leg, len(r.Contracts))
	if r.IsCombo() {
		ratios, direction, size := o.Trade.Canonical()
		req.Contract = venue.Contract{
			Symbol:   r.Contracts[0].Symbol,
			Exchange: r.Contracts[0].Exchange,
			Currency: r.Contracts[0].Currency,
		}
		req.Quantity = int64(direction) * size
		req.Legs = make([]venue.ComboLeg, len(r.Contracts))
		for i, c := range r.Contracts {
			req.Legs[i] = venue.ComboLeg{ContractID: c.ID, Ratio: ratios[i]}
			legs[i] = order.Leg{ContractDate: o.ContractDates[i], VenueContract: c.ID, Ratio: ratios[i]}
		}
	} else {
		req.Contract = r.Contracts[0]
		req.Quantity = o.Trade[0]
		legs[0] = order.Leg{ContractDate: o.ContractDates[0], VenueContract: r.Contracts[0].ID, Ratio: 1}
	}
	return req, legs, nil
}

func handleOf(o *order.BrokerOrder) venue.OrderHandle {
	return venue.OrderHandle{PermID: o.BrokerPermID, TempID: o.BrokerTempID, ClientID: o.ClientID}
}

// Cancel asks the venue to cancel o.
func (g *Gateway) Cancel(ctx context.Context, o *order.BrokerOrder) error {
	if o.BrokerPermID == "" {
		return fmt.Errorf("%w: order %d was never submitted", order.ErrInvalidTransition, o.ID)
	}
	_, err := call(ctx, g, o.Account, "cancel_order", func(ctx context.Context, s venue.Session) (struct{}, error) {
		return struct{}{}, s.Venue.CancelOrder(ctx, handleOf(o))
	})
	return err
}

// Working reports whether the venue still lists o among its open orders.
// An order it no longer lists is finished: filled, cancelled or expired.
func (g *Gateway) Working(ctx context.Context, o *order.BrokerOrder) (bool, error) {
	if o.BrokerPermID == "" {
		return false, fmt.Errorf("%w: order %d was never submitted", order.ErrInvalidTransition, o.ID)
	}
	open, err := g.OpenOrders(ctx, o.Account)
	if err != nil {
		return false, err
	}
	for _, oo := range open {
		if oo.PermID == o.BrokerPermID {
			return true, nil
		}
		if oo.PermID == "" && oo.TempID != "" && oo.TempID == o.BrokerTempID && oo.ClientID == o.ClientID {
			return true, nil
		}
	}
	return false, nil
}

// BrokerFill is the cumulative fill of one broker order as the venue sees it.
type BrokerFill struct {
	Fill       trade.Quantity
	Price      *float64
	At         time.Time
	Commission order.Commission
	Executions int
}

// Fills collects the venue executions for o into one cumulative fill. Combo
// executions are matched to legs by venue contract.
func (g *Gateway) Fills(ctx context.Context, o *order.BrokerOrder) (BrokerFill, error) {
	if o.BrokerPermID == "" {
		return BrokerFill{}, fmt.Errorf("%w: order %d was never submitted", order.ErrInvalidTransition, o.ID)
	}
	execs, err := call(ctx, g, o.Account, "executions", func(ctx context.Context, s venue.Session) ([]venue.Execution, error) {
		return s.Venue.Executions(ctx, handleOf(o))
	})
	if err != nil {
		return BrokerFill{}, err
	}
	return aggregate(o, execs)
}

func aggregate(o *order.BrokerOrder, execs []venue.Execution) (BrokerFill, error) {
	legOf := make(map[string]int, len(o.Legs))
	for i, l := range o.Legs {
		legOf[l.VenueContract] = i
	}
	out := BrokerFill{Fill: o.Trade.ZeroVersion()}
	perLeg := make([]order.Fills, len(o.Trade))
	for _, e := range execs {
		i := 0
		if len(o.Trade) > 1 {
			var ok bool
			if i, ok = legOf[e.ContractID]; !ok {
				return BrokerFill{}, fmt.Errorf("execution %s for contract %s matches no leg of order %d", e.ExecID, e.ContractID, o.ID)
			}
		}
		out.Fill[i] += e.Quantity
		perLeg[i] = append(perLeg[i], order.Fill{Date: e.Time, Qty: e.Quantity, Price: e.Price})
		if !e.Commission.IsZero() {
			out.Commission = out.Commission.Add(order.CurrencyValue{Currency: e.CommissionCurrency, Value: e.Commission})
		}
		if e.Time.After(out.At) {
			out.At = e.Time
		}
		out.Executions++
	}
	if out.Executions == 0 {
		return out, nil
	}

	prices := make([]float64, len(perLeg))
	for i, fs := range perLeg {
		p, err := fs.AveragePrice()
		if errors.Is(err, order.ErrNoFill) {
			// A leg with nothing yet: no blended price until every leg trades.
			return out, nil
		}
		prices[i] = p
	}
	if len(prices) == 1 {
		out.Price = &prices[0]
		return out, nil
	}
	ratios, _, _ := o.Trade.Canonical()
	p, err := ratios.SpreadPrice(prices)
	if err != nil {
		return out, nil
	}
	out.Price = &p
	return out, nil
}

// HistoricalBars fetches bars for one contract under the pacing budget. An
// empty answer is ErrNoHistoricalData.
func (g *Gateway) HistoricalBars(ctx context.Context, key trade.ContractKey, barSize, duration, field string) ([]venue.Bar, error) {
	if key.IsSpread() {
		return nil, fmt.Errorf("historical data needs one contract, got spread %s", key)
	}
	resolved, err := g.ResolveContract(ctx, key, nil)
	if err != nil {
		return nil, err
	}
	if err := g.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	req := venue.BarRequest{Contract: resolved.Contracts[0], BarSize: barSize, Duration: duration, Field: field}
	bars, err := call(ctx, g, "", "historical_bars", func(ctx context.Context, s venue.Session) ([]venue.Bar, error) {
		return s.Venue.HistoricalBars(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s %s", venue.ErrNoHistoricalData, key.ContractID(), barSize, field)
	}
	return bars, nil
}

func (g *Gateway) Positions(ctx context.Context, account string) ([]venue.Position, error) {
	return call(ctx, g, account, "positions", func(ctx context.Context, s venue.Session) ([]venue.Position, error) {
		return s.Venue.Positions(ctx, s.Account)
	})
}

func (g *Gateway) AccountSummary(ctx context.Context, account string) ([]venue.AccountValue, error) {
	return call(ctx, g, account, "account_summary", func(ctx context.Context, s venue.Session) ([]venue.AccountValue, error) {
		return s.Venue.AccountSummary(ctx, s.Account)
	})
}

func (g *Gateway) OpenOrders(ctx context.Context, account string) ([]venue.OpenOrder, error) {
	return call(ctx, g, account, "open_orders", func(ctx context.Context, s venue.Session) ([]venue.OpenOrder, error) {
		return s.Venue.OpenOrders(ctx, s.Account)
	})
}

// ContractPosition is the venue position of one contract date.
func (g *Gateway) ContractPosition(ctx context.Context, account string, key trade.ContractKey) (int64, error) {
	resolved, err := g.ResolveContract(ctx, key, nil)
	if err != nil {
		return 0, err
	}
	positions, err := g.Positions(ctx, account)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range positions {
		if p.ContractID == resolved.Contracts[0].ID {
			total += p.Quantity
		}
	}
	return total, nil
}
