package order

import (
	"encoding/json"
	"fmt"
)

// Decode restores an order of the given tier from its stored JSON body.
func Decode(tier Tier, body []byte) (Order, error) {
	var o Order
	switch tier {
	case TierInstrument:
		o = &InstrumentOrder{}
	case TierContract:
		o = &ContractOrder{}
	case TierBroker:
		o = &BrokerOrder{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	if err := json.Unmarshal(body, o); err != nil {
		return nil, fmt.Errorf("decode %s order: %w", tier, err)
	}
	return o, nil
}

// Clone returns a deep copy through the stored representation.
func Clone[O Order](o O) (O, error) {
	var zero O
	body, err := json.Marshal(o)
	if err != nil {
		return zero, err
	}
	out, err := Decode(o.Tier(), body)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(O)
	if !ok {
		return zero, fmt.Errorf("decode %s order: unexpected type %T", o.Tier(), out)
	}
	return typed, nil
}
