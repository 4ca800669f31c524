// Package paper is an in-memory venue for dry runs and tests. It fills
// against operator-set marks and keeps positions and cash per account.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/pkg/venue"
)

// Config tunes the simulation.
type Config struct {
	Currency              string
	InitialCash           decimal.Decimal
	CommissionPerContract decimal.Decimal
	SlippageBps           float64
	// ManualFills leaves submitted orders working until Fill is called.
	ManualFills bool
}

// DefaultConfig fills immediately with a flat commission.
func DefaultConfig() Config {
	return Config{
		Currency:              "USD",
		InitialCash:           decimal.NewFromInt(1_000_000),
		CommissionPerContract: decimal.RequireFromString("2.25"),
	}
}

type workingOrder struct {
	req    venue.OrderRequest
	handle venue.OrderHandle
	filled int64
	status string
}

// Venue is safe for concurrent use.
type Venue struct {
	mu        sync.Mutex
	cfg       Config
	log       *zap.Logger
	clientID  int
	nextTemp  int
	rng       *rand.Rand
	now       func() time.Time
	contracts map[string]venue.Contract
	marks     map[string]float64
	bars      map[string][]venue.Bar
	orders    map[string]*workingOrder
	execs     map[string][]venue.Execution
	positions map[string]map[string]*venue.Position
	cash      map[string]decimal.Decimal
	failures  map[string][]error
}

var _ venue.Venue = (*Venue)(nil)

func New(cfg Config, log *zap.Logger) *Venue {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Venue{
		cfg:       cfg,
		log:       log.With(zap.String("venue", "paper")),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		contracts: make(map[string]venue.Contract),
		marks:     make(map[string]float64),
		bars:      make(map[string][]venue.Bar),
		orders:    make(map[string]*workingOrder),
		execs:     make(map[string][]venue.Execution),
		positions: make(map[string]map[string]*venue.Position),
		cash:      make(map[string]decimal.Decimal),
		failures:  make(map[string][]error),
	}
}

// SetClientID records the session client ID stamped on handles.
func (v *Venue) SetClientID(id int) {
	v.mu.Lock()
	v.clientID = id
	v.mu.Unlock()
}

// ListContract makes a contract resolvable and sets its mark.
func (v *Venue) ListContract(c venue.Contract, mark float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.contracts[c.ID] = c
	v.marks[c.ID] = mark
}

// SetMark moves the price used for fills.
func (v *Venue) SetMark(contractID string, price float64) {
	v.mu.Lock()
	v.marks[contractID] = price
	v.mu.Unlock()
}

// AddBars stores historical bars for a contract.
func (v *Venue) AddBars(contractID string, bars ...venue.Bar) {
	v.mu.Lock()
	v.bars[contractID] = append(v.bars[contractID], bars...)
	v.mu.Unlock()
}

// FailNext makes the next call named call return err. Names match the
// Venue method names.
func (v *Venue) FailNext(call string, err error) {
	v.mu.Lock()
	v.failures[call] = append(v.failures[call], err)
	v.mu.Unlock()
}

func (v *Venue) injected(call string) error {
	q := v.failures[call]
	if len(q) == 0 {
		return nil
	}
	v.failures[call] = q[1:]
	return q[0]
}

func (v *Venue) Ping(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.injected("Ping")
}

func (v *Venue) ResolveContract(ctx context.Context, spec venue.ContractSpec) ([]venue.Contract, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("ResolveContract"); err != nil {
		return nil, err
	}
	var out []venue.Contract
	for _, c := range v.contracts {
		if c.Symbol != spec.Symbol {
			continue
		}
		if spec.Exchange != "" && c.Exchange != spec.Exchange {
			continue
		}
		if spec.Currency != "" && c.Currency != spec.Currency {
			continue
		}
		if spec.TradingClass != "" && c.TradingClass != spec.TradingClass {
			continue
		}
		if len(c.LastTradeDate) < 6 || c.LastTradeDate[:6] != spec.ContractMonth {
			continue
		}
		if spec.ContractDay != "" && c.LastTradeDate[6:] != spec.ContractDay {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastTradeDate < out[j].LastTradeDate })
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("SubmitOrder"); err != nil {
		return venue.OrderHandle{}, err
	}
	if req.Quantity == 0 {
		return venue.OrderHandle{}, fmt.Errorf("%w: zero quantity", venue.ErrVenueRejected)
	}
	for _, leg := range v.legs(req) {
		if _, ok := v.contracts[leg.ContractID]; !ok {
			return venue.OrderHandle{}, fmt.Errorf("%w: unknown contract %q", venue.ErrVenueRejected, leg.ContractID)
		}
	}
	if req.Type == venue.OrderTypeLimit && req.LimitPrice == nil {
		return venue.OrderHandle{}, fmt.Errorf("%w: limit order without price", venue.ErrVenueRejected)
	}

	v.nextTemp++
	h := venue.OrderHandle{
		PermID:   uuid.NewString(),
		TempID:   strconv.Itoa(v.nextTemp),
		ClientID: v.clientID,
		Status:   "Submitted",
	}
	w := &workingOrder{req: req, handle: h, status: "Submitted"}
	v.orders[h.PermID] = w
	v.log.Info("order accepted",
		zap.String("perm_id", h.PermID),
		zap.Int64("qty", req.Quantity),
		zap.String("type", string(req.Type)),
		zap.Int("legs", len(req.Legs)))

	if !v.cfg.ManualFills && v.marketable(w) {
		v.fill(w, req.Quantity, nil)
	}
	h.Status = w.status
	return h, nil
}

// Fill executes qty (signed, combo units) of a working order. A nil price
// fills at the current marks.
func (v *Venue) Fill(permID string, qty int64, price *float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, ok := v.orders[permID]
	if !ok {
		return fmt.Errorf("%w: unknown order %s", venue.ErrVenueRejected, permID)
	}
	if w.status != "Submitted" && w.status != "PartiallyFilled" {
		return fmt.Errorf("%w: order %s is %s", venue.ErrVenueRejected, permID, w.status)
	}
	remaining := w.req.Quantity - w.filled
	if qty == 0 || (qty > 0) != (remaining > 0) || abs(qty) > abs(remaining) {
		return fmt.Errorf("%w: fill %d exceeds remaining %d", venue.ErrVenueRejected, qty, remaining)
	}
	v.fill(w, qty, price)
	return nil
}

func (v *Venue) legs(req venue.OrderRequest) []venue.ComboLeg {
	if len(req.Legs) > 0 {
		return req.Legs
	}
	return []venue.ComboLeg{{ContractID: req.Contract.ID, Ratio: 1}}
}

// marketable compares the combo mark with the limit.
func (v *Venue) marketable(w *workingOrder) bool {
	if w.req.Type != venue.OrderTypeLimit {
		return true
	}
	mark := 0.0
	for _, leg := range v.legs(w.req) {
		mark += float64(leg.Ratio) * v.marks[leg.ContractID]
	}
	if w.req.Quantity > 0 {
		return mark <= *w.req.LimitPrice
	}
	return mark >= *w.req.LimitPrice
}

func (v *Venue) fill(w *workingOrder, qty int64, price *float64) {
	legs := v.legs(w.req)
	at := v.now()
	for i, leg := range legs {
		px := v.marks[leg.ContractID]
		if price != nil && len(legs) == 1 {
			px = *price
		}
		px = v.slip(px, qty*leg.Ratio)
		legQty := qty * leg.Ratio
		commission := v.cfg.CommissionPerContract.Mul(decimal.NewFromInt(abs(legQty)))
		exec := venue.Execution{
			ExecID:             fmt.Sprintf("%s.%d.%d", w.handle.PermID, len(v.execs[w.handle.PermID]), i),
			PermID:             w.handle.PermID,
			ContractID:         leg.ContractID,
			Quantity:           legQty,
			Price:              px,
			Time:               at,
			Commission:         commission,
			CommissionCurrency: v.cfg.Currency,
			OrderRef:           w.req.OrderRef,
		}
		v.execs[w.handle.PermID] = append(v.execs[w.handle.PermID], exec)
		v.book(w.req.Account, exec)
	}
	w.filled += qty
	if w.filled == w.req.Quantity {
		w.status = "Filled"
	} else {
		w.status = "PartiallyFilled"
	}
	v.log.Info("order filled",
		zap.String("perm_id", w.handle.PermID),
		zap.Int64("qty", qty),
		zap.Int64("cumulative", w.filled),
		zap.String("status", w.status))
}

func (v *Venue) slip(px float64, signedQty int64) float64 {
	frac := v.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return px
	}
	noise := v.rng.Float64() * frac
	if signedQty > 0 {
		return px * (1 + noise)
	}
	return px * (1 - noise)
}

func (v *Venue) book(account string, e venue.Execution) {
	byContract, ok := v.positions[account]
	if !ok {
		byContract = make(map[string]*venue.Position)
		v.positions[account] = byContract
	}
	c := v.contracts[e.ContractID]
	pos, ok := byContract[e.ContractID]
	if !ok {
		pos = &venue.Position{Account: account, ContractID: c.ID, Symbol: c.Symbol, LastTradeDate: c.LastTradeDate}
		byContract[e.ContractID] = pos
	}
	next := pos.Quantity + e.Quantity
	switch {
	case next == 0:
		delete(byContract, e.ContractID)
	case pos.Quantity == 0 || (pos.Quantity > 0) != (next > 0):
		pos.AvgCost = e.Price
	case abs(next) > abs(pos.Quantity):
		pos.AvgCost = (pos.AvgCost*float64(abs(pos.Quantity)) + e.Price*float64(abs(e.Quantity))) / float64(abs(next))
	}
	pos.Quantity = next

	cash, ok := v.cash[account]
	if !ok {
		cash = v.cfg.InitialCash
	}
	notional := decimal.NewFromFloat(e.Price).Mul(decimal.NewFromInt(e.Quantity)).Mul(multiplier(c))
	v.cash[account] = cash.Sub(notional).Sub(e.Commission)
}

func (v *Venue) CancelOrder(ctx context.Context, h venue.OrderHandle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("CancelOrder"); err != nil {
		return err
	}
	w, ok := v.orders[h.PermID]
	if !ok {
		return fmt.Errorf("%w: unknown order %s", venue.ErrVenueRejected, h.PermID)
	}
	if w.status == "Filled" || w.status == "Cancelled" {
		return fmt.Errorf("%w: order %s already %s", venue.ErrVenueRejected, h.PermID, w.status)
	}
	w.status = "Cancelled"
	return nil
}

func (v *Venue) OpenOrders(ctx context.Context, account string) ([]venue.OpenOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("OpenOrders"); err != nil {
		return nil, err
	}
	var out []venue.OpenOrder
	for _, w := range v.orders {
		if w.status == "Filled" || w.status == "Cancelled" || (account != "" && w.req.Account != account) {
			continue
		}
		oo := venue.OpenOrder{
			PermID:     w.handle.PermID,
			TempID:     w.handle.TempID,
			ClientID:   w.handle.ClientID,
			ContractID: w.req.Contract.ID,
			Account:    w.req.Account,
			Quantity:   w.req.Quantity,
			Filled:     w.filled,
			Status:     w.status,
			OrderRef:   w.req.OrderRef,
		}
		if w.req.LimitPrice != nil {
			oo.LimitPrice = *w.req.LimitPrice
		}
		out = append(out, oo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TempID < out[j].TempID })
	return out, nil
}

func (v *Venue) Executions(ctx context.Context, h venue.OrderHandle) ([]venue.Execution, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("Executions"); err != nil {
		return nil, err
	}
	execs := v.execs[h.PermID]
	out := make([]venue.Execution, len(execs))
	copy(out, execs)
	return out, nil
}

func (v *Venue) HistoricalBars(ctx context.Context, req venue.BarRequest) ([]venue.Bar, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("HistoricalBars"); err != nil {
		return nil, err
	}
	bars := v.bars[req.Contract.ID]
	out := make([]venue.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (v *Venue) Positions(ctx context.Context, account string) ([]venue.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("Positions"); err != nil {
		return nil, err
	}
	var out []venue.Position
	for acct, byContract := range v.positions {
		if account != "" && acct != account {
			continue
		}
		for _, p := range byContract {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].ContractID < out[j].ContractID
	})
	return out, nil
}

func (v *Venue) AccountSummary(ctx context.Context, account string) ([]venue.AccountValue, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.injected("AccountSummary"); err != nil {
		return nil, err
	}
	cash, ok := v.cash[account]
	if !ok {
		cash = v.cfg.InitialCash
	}
	net := cash
	for id, p := range v.positions[account] {
		mv := decimal.NewFromFloat(v.marks[id]).Mul(decimal.NewFromInt(p.Quantity)).Mul(multiplier(v.contracts[id]))
		net = net.Add(mv)
	}
	return []venue.AccountValue{
		{Account: account, Tag: "TotalCashValue", Currency: v.cfg.Currency, Value: cash},
		{Account: account, Tag: "NetLiquidation", Currency: v.cfg.Currency, Value: net},
	}, nil
}

func multiplier(c venue.Contract) decimal.Decimal {
	if m, err := decimal.NewFromString(c.Multiplier); err == nil && !m.IsZero() {
		return m
	}
	return decimal.NewFromInt(1)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
