package broker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/trade"
	"execution-core/pkg/cache"
	"execution-core/pkg/instruments"
	"execution-core/pkg/venue"
)

// Resolved is the venue form of a contract key.
type Resolved struct {
	// Contracts has one entry per contract date, in key order.
	Contracts []venue.Contract
	// Ratios are the canonical (first leg positive) leg ratios.
	Ratios trade.Quantity
}

// IsCombo reports a multi-leg resolution.
func (r Resolved) IsCombo() bool { return len(r.Contracts) > 1 }

// ComboLegs pairs each venue contract with its canonical ratio.
func (r Resolved) ComboLegs() []venue.ComboLeg {
	out := make([]venue.ComboLeg, len(r.Contracts))
	for i, c := range r.Contracts {
		out[i] = venue.ComboLeg{ContractID: c.ID, Ratio: r.Ratios[i]}
	}
	return out
}

// LookupFunc asks the venue for contracts matching spec.
type LookupFunc func(ctx context.Context, spec venue.ContractSpec) ([]venue.Contract, error)

// ContractResolver maps contract keys to venue contracts and caches the
// answers for the life of the process.
type ContractResolver struct {
	instruments *instruments.Config
	cache       *cache.Sharded[Resolved]
	maxAge      time.Duration
	log         *zap.Logger
}

func NewContractResolver(cfg *instruments.Config, maxAge time.Duration, log *zap.Logger) *ContractResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContractResolver{
		instruments: cfg,
		cache:       cache.New[Resolved](),
		maxAge:      maxAge,
		log:         log.Named("resolver"),
	}
}

// cacheKey ignores strategy and trade size; only the contracts and the leg
// ratios matter.
func cacheKey(key trade.ContractKey, qty trade.Quantity) string {
	return key.ContractID() + "|" + qty.RatioSignature()
}

// Resolve returns the venue contracts for key. qty gives the leg ratios of
// a spread and may be nil for a single contract.
func (r *ContractResolver) Resolve(ctx context.Context, key trade.ContractKey, qty trade.Quantity, lookup LookupFunc) (Resolved, error) {
	qty = withDefaultRatios(key, qty)
	if len(qty) != len(key.ContractDates) {
		return Resolved{}, fmt.Errorf("%w: %d legs for %s", trade.ErrLegMismatch, len(qty), key)
	}
	ck := cacheKey(key, qty)
	if r.maxAge > 0 {
		if hit, ok := r.cache.GetFresh(ck, r.maxAge); ok {
			return hit, nil
		}
	} else if hit, ok := r.cache.Get(ck); ok {
		return hit, nil
	}

	in, err := r.instruments.Get(key.Instrument)
	if err != nil {
		return Resolved{}, err
	}
	out := Resolved{Contracts: make([]venue.Contract, len(key.ContractDates))}
	for i, date := range key.ContractDates {
		c, err := r.resolveOne(ctx, in, date, lookup)
		if err != nil {
			return Resolved{}, err
		}
		out.Contracts[i] = c
	}
	if out.IsCombo() {
		out.Ratios, _, _ = qty.Canonical()
	} else {
		out.Ratios = trade.NewQuantity(1)
	}
	r.cache.Set(ck, out)
	r.log.Debug("contract resolved", zap.String("key", ck), zap.Int("legs", len(out.Contracts)))
	return out, nil
}

// Spec builds the venue query for one contract date.
func Spec(in instruments.Instrument, date string) venue.ContractSpec {
	spec := venue.ContractSpec{
		Symbol:        in.Symbol,
		Exchange:      in.Exchange,
		Currency:      in.Currency,
		Multiplier:    in.Multiplier,
		ContractMonth: trade.ContractMonth(date),
	}
	if len(date) == 8 && date[6:] != "00" {
		spec.ContractDay = date[6:]
	}
	if in.Ambiguity == instruments.AmbiguityTradingClass {
		spec.TradingClass = in.TradingClass
	}
	return spec
}

func (r *ContractResolver) resolveOne(ctx context.Context, in instruments.Instrument, date string, lookup LookupFunc) (venue.Contract, error) {
	spec := Spec(in, date)
	found, err := lookup(ctx, spec)
	if err != nil {
		return venue.Contract{}, err
	}
	c, err := Disambiguate(in, found)
	if err != nil {
		return venue.Contract{}, fmt.Errorf("%s %s: %w", in.Code, date, err)
	}
	return c, nil
}

// Disambiguate applies the instrument's rule to the venue's candidates.
func Disambiguate(in instruments.Instrument, found []venue.Contract) (venue.Contract, error) {
	switch len(found) {
	case 0:
		return venue.Contract{}, venue.ErrContractNotFound
	case 1:
		return found[0], nil
	}

	var keep []venue.Contract
	switch in.Ambiguity {
	case instruments.AmbiguityTradingClass:
		for _, c := range found {
			if c.TradingClass == in.TradingClass {
				keep = append(keep, c)
			}
		}
	case instruments.AmbiguityMonthly:
		// The standard monthly series trades under the bare symbol; weeklies
		// get their own trading class.
		for _, c := range found {
			if c.TradingClass == "" || c.TradingClass == in.Symbol {
				keep = append(keep, c)
			}
		}
	case instruments.AmbiguityEarliest:
		sorted := append([]venue.Contract(nil), found...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LastTradeDate < sorted[j].LastTradeDate })
		if sorted[0].LastTradeDate != sorted[1].LastTradeDate {
			return sorted[0], nil
		}
	}
	if len(keep) == 1 {
		return keep[0], nil
	}
	if len(keep) == 0 && in.Ambiguity == instruments.AmbiguityTradingClass {
		return venue.Contract{}, venue.ErrContractNotFound
	}
	return venue.Contract{}, fmt.Errorf("%w: %d candidates", venue.ErrAmbiguousContract, len(found))
}

// Invalidate drops cached resolutions, for example after a venue reports an
// unknown contract.
func (r *ContractResolver) Invalidate(key trade.ContractKey, qty trade.Quantity) {
	r.cache.Delete(cacheKey(key, withDefaultRatios(key, qty)))
}

func withDefaultRatios(key trade.ContractKey, qty trade.Quantity) trade.Quantity {
	if qty != nil {
		return qty
	}
	qty = make(trade.Quantity, len(key.ContractDates))
	for i := range qty {
		qty[i] = 1
	}
	return qty
}

// CacheSize is the number of cached resolutions.
func (r *ContractResolver) CacheSize() int { return r.cache.Len() }
