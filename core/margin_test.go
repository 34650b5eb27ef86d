package core

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveCollateral(t *testing.T) {
	testCases := []struct {
		name         string
		snapshot     *MarginSnapshot
		expectAmount string
	}{
		{"missing snapshot", nil, "0"},
		{"nil collateral", &MarginSnapshot{}, "0"},
		{"no mark to market", &MarginSnapshot{Collateral: wad(t, "2")}, "2"},
		{"gain", &MarginSnapshot{Collateral: wad(t, "2"), MarkToMarket: wad(t, "1")}, "2"},
		{"loss", &MarginSnapshot{Collateral: wad(t, "2"), MarkToMarket: neg(wad(t, "0.5"))}, "1.5"},
		{"wipe out", &MarginSnapshot{Collateral: wad(t, "2"), MarkToMarket: neg(wad(t, "3"))}, "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, wad(t, tc.expectAmount).Dec(), tc.snapshot.EffectiveCollateral().Dec())
		})
	}
}

func TestMemoryMarginFeed(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryMarginFeed()

	_, err := feed.Latest(ctx, bob)
	assert.True(t, errors.Is(err, ErrMarginSnapshotNotFound))

	require.NoError(t, feed.Push(ctx, &MarginSnapshot{Account: bob, Sequence: 2, Collateral: wad(t, "1")}))
	err = feed.Push(ctx, &MarginSnapshot{Account: bob, Sequence: 2, Collateral: wad(t, "5")})
	assert.True(t, errors.Is(err, ErrStaleMarginSnapshot))
	err = feed.Push(ctx, &MarginSnapshot{Account: bob, Sequence: 1, Collateral: wad(t, "5")})
	assert.True(t, errors.Is(err, ErrStaleMarginSnapshot))

	snapshot, err := feed.Latest(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snapshot.Sequence)
	assert.Equal(t, wad(t, "1").Dec(), snapshot.Collateral.Dec())
	assert.True(t, snapshot.MarkToMarket.IsZero())

	// readers get a copy
	snapshot.Collateral.SetUint64(0)
	again, err := feed.Latest(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, wad(t, "1").Dec(), again.Collateral.Dec())

	require.NoError(t, feed.Push(ctx, &MarginSnapshot{Account: bob, Sequence: 3, Collateral: wad(t, "4")}))
	again, err = feed.Latest(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, wad(t, "4").Dec(), again.Collateral.Dec())
}

func TestMarginConfigValidate(t *testing.T) {
	config := testMarginConfig()
	assert.NoError(t, config.Validate())

	config.LiquidationBonus = 9000
	assert.Error(t, config.Validate())

	config = testMarginConfig()
	config.Ltv = 10001
	assert.Error(t, config.Validate())

	config = testMarginConfig()
	config.ReferenceDecimals = MAX_DECIMALS + 1
	assert.ErrorIs(t, config.Validate(), ErrInvalidParameter)
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		err  error
		kind ErrorKind
	}{
		{ErrNotGovernance, ErrorKindAuthorization},
		{errors.Wrap(ErrCallerNotPool, "liquidate"), ErrorKindAuthorization},
		{errors.Wrapf(ErrReserveFrozen, "asset %s", "USDC"), ErrorKindPrecondition},
		{ErrHealthFactorNotBelowThreshold, ErrorKindPrecondition},
		{ValidateDecimals(200), ErrorKindPrecondition},
		{ErrNotEnoughLiquidity, ErrorKindArithmetic},
		{errors.WithStack(ErrDivisionByZero), ErrorKindArithmetic},
		{ErrStaleMarginSnapshot, ErrorKindMarketData},
		{errors.New("boom"), ErrorKindUnknown},
		{nil, ErrorKindUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestSettlementLog(t *testing.T) {
	ctx := context.Background()
	log := NewSettlementLog()
	instruction := NewSettlementInstruction(bob, usdm, wad(t, "1"), receiver, usdc, u(100), 7, 1000)

	again := NewSettlementInstruction(bob, usdm, wad(t, "1"), receiver, usdc, u(100), 7, 1000)
	assert.Equal(t, instruction.Id, again.Id)
	other := NewSettlementInstruction(bob, usdm, wad(t, "1"), receiver, usdc, u(100), 8, 1000)
	assert.NotEqual(t, instruction.Id, other.Id)

	log.FailWith(errors.New("offline"))
	assert.Error(t, log.SubmitDebit(ctx, instruction))
	assert.Empty(t, log.Instructions())

	log.FailWith(nil)
	require.NoError(t, log.SubmitDebit(ctx, instruction))
	assert.Len(t, log.Instructions(), 1)
}

func neg(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Neg(x)
}
