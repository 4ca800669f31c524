// Package instruments loads the per-instrument venue and roll configuration.
package instruments

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"execution-core/internal/trade"
)

// Ambiguity rules for a nominal month that matches several venue contracts.
const (
	AmbiguityError        = "error"
	AmbiguityTradingClass = "trading_class"
	AmbiguityMonthly      = "monthly"
	AmbiguityEarliest     = "earliest"
)

// RollState says which contract new trades go into.
type RollState string

const (
	RollNone          RollState = "no_roll"
	RollPassive       RollState = "passive"
	RollForce         RollState = "force"
	RollForceOutright RollState = "force_outright"
	RollAdjusted      RollState = "roll_adjusted"
	RollClose         RollState = "close"
	RollNoOpen        RollState = "no_open"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Instrument is one YAML entry.
type Instrument struct {
	Code            string    `yaml:"code" json:"code"`
	Symbol          string    `yaml:"symbol" json:"symbol"`
	Exchange        string    `yaml:"exchange" json:"exchange"`
	Currency        string    `yaml:"currency" json:"currency"`
	Multiplier      string    `yaml:"multiplier" json:"multiplier,omitempty"`
	TradingClass    string    `yaml:"trading_class" json:"trading_class,omitempty"`
	Ambiguity       string    `yaml:"ambiguity" json:"ambiguity"`
	PriceContract   string    `yaml:"price_contract" json:"price_contract"`
	ForwardContract string    `yaml:"forward_contract" json:"forward_contract"`
	RollState       RollState `yaml:"roll_state" json:"roll_state"`
}

// File is the top-level YAML structure.
type File struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Config is the loaded, validated set. Roll state and contracts may be
// changed at runtime by the operator.
type Config struct {
	mu    sync.RWMutex
	items map[string]Instrument
}

// Load reads instruments from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates YAML instrument configuration.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	return New(file.Instruments...)
}

// New builds a config from already decoded entries.
func New(items ...Instrument) (*Config, error) {
	c := &Config{items: make(map[string]Instrument, len(items))}
	for _, in := range items {
		in, err := normalise(in)
		if err != nil {
			return nil, err
		}
		if _, dup := c.items[in.Code]; dup {
			return nil, fmt.Errorf("instrument %s configured twice", in.Code)
		}
		c.items[in.Code] = in
	}
	return c, nil
}

func normalise(in Instrument) (Instrument, error) {
	if in.Code == "" || in.Symbol == "" {
		return in, fmt.Errorf("instrument needs code and symbol: %+v", in)
	}
	switch in.Ambiguity {
	case "":
		in.Ambiguity = AmbiguityError
	case AmbiguityError, AmbiguityTradingClass, AmbiguityMonthly, AmbiguityEarliest:
	default:
		return in, fmt.Errorf("instrument %s: unknown ambiguity rule %q", in.Code, in.Ambiguity)
	}
	if in.Ambiguity == AmbiguityTradingClass && in.TradingClass == "" {
		return in, fmt.Errorf("instrument %s: trading_class rule needs trading_class", in.Code)
	}
	switch in.RollState {
	case "":
		in.RollState = RollNone
	case RollNone, RollPassive, RollForce, RollForceOutright, RollAdjusted, RollClose, RollNoOpen:
	default:
		return in, fmt.Errorf("instrument %s: unknown roll state %q", in.Code, in.RollState)
	}
	var err error
	if in.PriceContract, err = trade.NormaliseContractDate(in.PriceContract); err != nil {
		return in, fmt.Errorf("instrument %s price_contract: %w", in.Code, err)
	}
	if in.ForwardContract == "" {
		in.ForwardContract = in.PriceContract
	}
	if in.ForwardContract, err = trade.NormaliseContractDate(in.ForwardContract); err != nil {
		return in, fmt.Errorf("instrument %s forward_contract: %w", in.Code, err)
	}
	return in, nil
}

// Get returns one instrument.
func (c *Config) Get(code string) (Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.items[code]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	return in, nil
}

// All returns instruments sorted by code.
func (c *Config) All() []Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Instrument, 0, len(c.items))
	for _, in := range c.items {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SetRollState changes the roll state of an instrument.
func (c *Config) SetRollState(code string, state RollState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.items[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	in.RollState = state
	in, err := normalise(in)
	if err != nil {
		return err
	}
	c.items[code] = in
	return nil
}

// CompleteRoll makes the forward contract the priced one and goes back to
// no_roll.
func (c *Config) CompleteRoll(code, nextForward string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.items[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, code)
	}
	in.PriceContract = in.ForwardContract
	in.ForwardContract = nextForward
	in.RollState = RollNone
	in, err := normalise(in)
	if err != nil {
		return err
	}
	c.items[code] = in
	return nil
}
