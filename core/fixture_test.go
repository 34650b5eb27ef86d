package core

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	governance   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	poolAddress  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	counterparty = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	receiver     = common.HexToAddress("0x00000000000000000000000000000000000000a3")

	lender     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	liquidator = common.HexToAddress("0x00000000000000000000000000000000000000b3")

	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	weth = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	usdm = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

type poolFixture struct {
	ctx        context.Context
	clk        *clock.Mock
	pool       *Pool
	oracle     *StaticPriceOracle
	feed       *MemoryMarginFeed
	settlement *SettlementLog
	sequence   uint64
}

func testMarginConfig() MarginConfig {
	return MarginConfig{
		ReferenceAsset:       usdm,
		ReferenceDecimals:    18,
		Ltv:                  8000,
		LiquidationThreshold: 10000,
		LiquidationBonus:     10500,
	}
}

// newPoolFixture lists USDC (6 decimals, price 1) and WETH (18 decimals,
// price 2000) and seeds USDC with 100k of lender liquidity.
func newPoolFixture(t *testing.T, opts ...PoolOption) *poolFixture {
	f := &poolFixture{
		ctx:        context.Background(),
		clk:        newTestClock(),
		oracle:     NewStaticPriceOracle(),
		feed:       NewMemoryMarginFeed(),
		settlement: NewSettlementLog(),
	}

	config := PoolConfig{
		Address:                poolAddress,
		Governance:             governance,
		SettlementCounterparty: counterparty,
		ReceiverAccount:        receiver,
		Liquidation:            DefaultLiquidationParams(),
		Margin:                 testMarginConfig(),
	}
	pool, err := NewPool(config, f.oracle, f.feed, f.settlement, append([]PoolOption{WithClock(f.clk)}, opts...)...)
	require.NoError(t, err)
	f.pool = pool

	pool.RegisterStrategy(newKinkedStrategy(t))
	require.NoError(t, pool.InitReserve(f.ctx, governance, usdc, "USDC", 6, activeReserveConfig("kinked")))
	wethConfig := activeReserveConfig("kinked")
	wethConfig.LiquidationThreshold = 8250
	require.NoError(t, pool.InitReserve(f.ctx, governance, weth, "WETH", 18, wethConfig))

	f.oracle.SetAssetPrice(usdc, wad(t, "1"))
	f.oracle.SetAssetPrice(weth, wad(t, "2000"))
	f.oracle.SetAssetPrice(usdm, wad(t, "1"))

	require.NoError(t, pool.Deposit(f.ctx, lender, usdc, amount(t, "100000", 6)))
	return f
}

func (f *poolFixture) pushSnapshot(t *testing.T, account common.Address, collateral, markToMarket string) {
	mtm, err := ParseSigned(markToMarket)
	require.NoError(t, err)
	c, err := uint256.FromDecimal(collateral)
	require.NoError(t, err)

	f.sequence++
	require.NoError(t, f.feed.Push(f.ctx, &MarginSnapshot{
		Account:           account,
		Sequence:          f.sequence,
		MaintenanceMargin: zero(),
		MarkToMarket:      mtm,
		Collateral:        c,
		ValueAtRisk:       zero(),
		UpdatedAt:         f.clk.Now().Unix(),
	}))
}

func (f *poolFixture) debt(t *testing.T, user, asset common.Address) *uint256.Int {
	reserve, err := f.pool.GetReserve(asset)
	require.NoError(t, err)
	stable, variable, err := f.pool.GetPosition(user, asset).Debts(reserve, f.clk.Now().Unix())
	require.NoError(t, err)
	return new(uint256.Int).Add(stable, variable)
}

func (f *poolFixture) supply(t *testing.T, user, asset common.Address) *uint256.Int {
	reserve, err := f.pool.GetReserve(asset)
	require.NoError(t, err)
	balance, err := f.pool.GetPosition(user, asset).SupplyBalance(reserve, f.clk.Now().Unix())
	require.NoError(t, err)
	return balance
}

// borrowAgainstWeth has alice supply 1 WETH and borrow 1500 USDC variable,
// leaving her health factor at 1.1.
func (f *poolFixture) borrowAgainstWeth(t *testing.T) {
	require.NoError(t, f.pool.Deposit(f.ctx, alice, weth, wad(t, "1")))
	require.NoError(t, f.pool.Borrow(f.ctx, alice, usdc, amount(t, "1500", 6), RateModeVariable))
}

// borrowAgainstMargin has bob enable margin collateral worth 1 and borrow
// 95% of what it allows.
func (f *poolFixture) borrowAgainstMargin(t *testing.T) {
	require.NoError(t, f.pool.SetUsingMarginCollateral(f.ctx, bob, true))
	f.pushSnapshot(t, bob, "1000000000000000000", "0")
	require.NoError(t, f.pool.Borrow(f.ctx, bob, usdc, amount(t, "0.76", 6), RateModeVariable))
}
