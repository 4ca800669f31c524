package instruments

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
instruments:
  - code: GOLD
    symbol: GC
    exchange: COMEX
    currency: USD
    multiplier: "100"
    price_contract: "202406"
    forward_contract: "202408"
    roll_state: passive
  - code: VIX
    symbol: VIX
    exchange: CFE
    currency: USD
    trading_class: VX
    ambiguity: trading_class
    price_contract: "202405"
`

func TestLoadDefaultsAndNormalises(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	gold, err := c.Get("GOLD")
	require.NoError(t, err)
	assert.Equal(t, "20240600", gold.PriceContract)
	assert.Equal(t, "20240800", gold.ForwardContract)
	assert.Equal(t, RollPassive, gold.RollState)
	assert.Equal(t, AmbiguityError, gold.Ambiguity)

	vix, err := c.Get("VIX")
	require.NoError(t, err)
	assert.Equal(t, vix.PriceContract, vix.ForwardContract)
	assert.Equal(t, RollNone, vix.RollState)

	_, err = c.Get("OIL")
	require.ErrorIs(t, err, ErrUnknownInstrument)
	assert.Len(t, c.All(), 2)
}

func TestParseRejectsBadEntries(t *testing.T) {
	_, err := Parse([]byte("instruments:\n  - code: X\n    symbol: X\n    price_contract: '2024'\n"))
	require.Error(t, err)
	_, err = Parse([]byte("instruments:\n  - code: X\n    symbol: X\n    price_contract: '202401'\n    ambiguity: weekly\n"))
	require.Error(t, err)
	_, err = Parse([]byte("instruments:\n  - code: X\n    symbol: X\n    price_contract: '202401'\n    ambiguity: trading_class\n"))
	require.Error(t, err)
}

func TestCompleteRoll(t *testing.T) {
	c, err := New(Instrument{Code: "GOLD", Symbol: "GC", PriceContract: "202406", ForwardContract: "202408", RollState: RollForce})
	require.NoError(t, err)
	require.NoError(t, c.CompleteRoll("GOLD", "202410"))

	gold, err := c.Get("GOLD")
	require.NoError(t, err)
	assert.Equal(t, "20240800", gold.PriceContract)
	assert.Equal(t, "20241000", gold.ForwardContract)
	assert.Equal(t, RollNone, gold.RollState)

	require.Error(t, c.SetRollState("GOLD", "sideways"))
}
