package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-valuation/ledger"
)

func TestToCents(t *testing.T) {
	cents, err := toCents(ledger.MustParseDecimal("12.34"))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), cents)

	cents, err = toCents(ledger.MaxAmount)
	require.NoError(t, err)
	assert.Equal(t, int64(999999999), cents)

	for _, bad := range []string{"0.001", "10000000", "184467440737095517.16"} {
		_, err := toCents(ledger.MustParseDecimal(bad))
		assert.Error(t, err, bad)
	}
}
