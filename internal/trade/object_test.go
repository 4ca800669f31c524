package trade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentKeyRoundTrip(t *testing.T) {
	k, err := NewInstrumentKey("carry", "SOFR")
	require.NoError(t, err)
	assert.Equal(t, "carry/SOFR", k.Key())

	back, err := ParseInstrumentKey(k.Key())
	require.NoError(t, err)
	assert.Equal(t, k, back)

	_, err = NewInstrumentKey("a/b", "SOFR")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseInstrumentKey("only-one-field")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSpreadKeyIsCanonical(t *testing.T) {
	a, _, err := NewContractKey("carry", "CRUDE_W", []string{"202412", "202409"})
	require.NoError(t, err)
	b, _, err := NewContractKey("carry", "CRUDE_W", []string{"20240900", "202412"})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, "carry/CRUDE_W/20240900_20241200", a.Key())
	assert.True(t, a.IsSpread())
	assert.Equal(t, "CRUDE_W/20240900_20241200", a.ContractID())

	back, err := ParseContractKey(a.Key())
	require.NoError(t, err)
	assert.True(t, back.Equal(a))
}

func TestContractKeyRejectsBadDates(t *testing.T) {
	for _, d := range []string{"2024", "2024-06", "202413", "2024061"} {
		_, _, err := NewContractKey("s", "i", []string{d})
		assert.ErrorIs(t, err, ErrInvalidContractDate, d)
	}
	_, _, err := NewContractKey("s", "i", []string{"202406", "20240600"})
	assert.ErrorIs(t, err, ErrInvalidContractDate)
	_, _, err = NewContractKey("s", "i", nil)
	assert.ErrorIs(t, err, ErrInvalidContractDate)
}

func TestContractMonth(t *testing.T) {
	assert.Equal(t, "202406", ContractMonth("20240615"))
}
