// Package trade holds the identity keys orders are about and the signed,
// possibly multi-leg, quantities they trade.
package trade

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// Separator joins scope fields of a key.
	Separator = "/"
	// ContractSeparator joins the contract dates of a multi-leg key.
	ContractSeparator = "_"
)

var (
	ErrInvalidKey          = errors.New("invalid tradeable object key")
	ErrInvalidContractDate = errors.New("invalid contract date")
)

// Object is anything an order can be about.
type Object interface {
	Key() string
}

// InstrumentKey identifies a (strategy, instrument) scope.
type InstrumentKey struct {
	Strategy   string `json:"strategy"`
	Instrument string `json:"instrument"`
}

// NewInstrumentKey validates and builds an instrument scope key.
func NewInstrumentKey(strategy, instrument string) (InstrumentKey, error) {
	if err := checkField(strategy); err != nil {
		return InstrumentKey{}, fmt.Errorf("strategy: %w", err)
	}
	if err := checkField(instrument); err != nil {
		return InstrumentKey{}, fmt.Errorf("instrument: %w", err)
	}
	return InstrumentKey{Strategy: strategy, Instrument: instrument}, nil
}

func (k InstrumentKey) Key() string {
	return k.Strategy + Separator + k.Instrument
}

func (k InstrumentKey) String() string { return k.Key() }

// ParseInstrumentKey reverses InstrumentKey.Key.
func ParseInstrumentKey(s string) (InstrumentKey, error) {
	parts := strings.Split(s, Separator)
	if len(parts) != 2 {
		return InstrumentKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return NewInstrumentKey(parts[0], parts[1])
}

// ContractKey identifies a (strategy, instrument, contract dates) scope. The
// dates are always held in sorted order so a spread has a single key whatever
// order its legs were given in.
type ContractKey struct {
	Strategy      string   `json:"strategy"`
	Instrument    string   `json:"instrument"`
	ContractDates []string `json:"contract_dates"`
}

// NewContractKey builds a canonical contract key. The returned index maps each
// position of the canonical date list to the position it had in dates, so a
// quantity given in the caller's leg order can be reordered with
// Quantity.SortWithIndex.
func NewContractKey(strategy, instrument string, dates []string) (ContractKey, []int, error) {
	ik, err := NewInstrumentKey(strategy, instrument)
	if err != nil {
		return ContractKey{}, nil, err
	}
	if len(dates) == 0 {
		return ContractKey{}, nil, fmt.Errorf("%w: no contract dates", ErrInvalidContractDate)
	}

	normalised := make([]string, len(dates))
	for i, d := range dates {
		n, err := NormaliseContractDate(d)
		if err != nil {
			return ContractKey{}, nil, err
		}
		normalised[i] = n
	}

	idx := make([]int, len(normalised))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return normalised[idx[a]] < normalised[idx[b]] })

	sorted := make([]string, len(normalised))
	seen := make(map[string]struct{}, len(normalised))
	for i, j := range idx {
		if _, dup := seen[normalised[j]]; dup {
			return ContractKey{}, nil, fmt.Errorf("%w: repeated date %s", ErrInvalidContractDate, normalised[j])
		}
		seen[normalised[j]] = struct{}{}
		sorted[i] = normalised[j]
	}

	return ContractKey{Strategy: ik.Strategy, Instrument: ik.Instrument, ContractDates: sorted}, idx, nil
}

func (k ContractKey) Key() string {
	return k.Strategy + Separator + k.Instrument + Separator + strings.Join(k.ContractDates, ContractSeparator)
}

func (k ContractKey) String() string { return k.Key() }

// InstrumentKey drops the contract scope.
func (k ContractKey) InstrumentKey() InstrumentKey {
	return InstrumentKey{Strategy: k.Strategy, Instrument: k.Instrument}
}

// IsSpread reports whether the key spans more than one contract.
func (k ContractKey) IsSpread() bool { return len(k.ContractDates) > 1 }

// ContractID is the strategy-free part of the key, used for venue caches.
func (k ContractKey) ContractID() string {
	return k.Instrument + Separator + strings.Join(k.ContractDates, ContractSeparator)
}

// Equal compares all scope fields.
func (k ContractKey) Equal(other ContractKey) bool {
	return k.Key() == other.Key()
}

// ParseContractKey reverses ContractKey.Key.
func ParseContractKey(s string) (ContractKey, error) {
	parts := strings.Split(s, Separator)
	if len(parts) != 3 {
		return ContractKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k, _, err := NewContractKey(parts[0], parts[1], strings.Split(parts[2], ContractSeparator))
	return k, err
}

// NormaliseContractDate accepts YYYYMM or YYYYMMDD and returns YYYYMMDD, with
// day 00 standing for "month only".
func NormaliseContractDate(d string) (string, error) {
	d = strings.TrimSpace(d)
	for _, r := range d {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidContractDate, d)
		}
	}
	switch len(d) {
	case 6:
		d += "00"
	case 8:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContractDate, d)
	}
	if month := d[4:6]; month < "01" || month > "12" {
		return "", fmt.Errorf("%w: month %q", ErrInvalidContractDate, month)
	}
	return d, nil
}

// ContractMonth returns the YYYYMM part of a normalised contract date.
func ContractMonth(d string) string {
	if len(d) < 6 {
		return d
	}
	return d[:6]
}

func checkField(v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidKey)
	}
	if strings.Contains(v, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, v, Separator)
	}
	return nil
}
