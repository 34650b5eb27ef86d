package core

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func ray(t *testing.T, s string) *uint256.Int {
	v, err := RayFromDecimal(decimal.RequireFromString(s))
	require.NoError(t, err)
	return v
}

func wad(t *testing.T, s string) *uint256.Int {
	v, err := WadFromDecimal(decimal.RequireFromString(s))
	require.NoError(t, err)
	return v
}

func amount(t *testing.T, s string, decimals uint8) *uint256.Int {
	v, err := AmountFromDecimal(decimal.RequireFromString(s), decimals)
	require.NoError(t, err)
	return v
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
