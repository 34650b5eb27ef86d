package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	governance = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	usdc       = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.Must(uuid.NewV4()).String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return New(db)
}

func testClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Add(1_700_000_000 * time.Second)
	return clk
}

func reserveConfig() core.ReserveConfig {
	return core.ReserveConfig{
		BaseLtv:              8000,
		LiquidationThreshold: 8500,
		LiquidationBonus:     10500,
		ReserveFactor:        1000,
		Flags:                core.ReserveFlagsActive | core.ReserveFlagsBorrowingEnabled,
		RateStrategy:         "kinked",
	}
}

func TestU256Column(t *testing.T) {
	allOnes := new(uint256.Int).SetAllOne()
	value, err := newU256(allOnes).Value()
	require.NoError(t, err)
	assert.Equal(t, allOnes.Dec(), value)

	tests := []struct {
		name    string
		raw     any
		want    string
		wantErr bool
	}{
		{name: "string", raw: allOnes.Dec(), want: allOnes.Dec()},
		{name: "bytes", raw: []byte("12345"), want: "12345"},
		{name: "int", raw: int64(42), want: "42"},
		{name: "null", raw: nil, want: "0"},
		{name: "garbage", raw: "0xzz", wantErr: true},
		{name: "float", raw: 1.5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u U256
			err := u.Scan(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.Int().Dec())
		})
	}
}

func TestReserveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	reserve := core.NewReserve(testClock(), usdc, "USDC", 6, reserveConfig())
	reserve.TotalScaledSupply = new(uint256.Int).SetAllOne()
	reserve.CurrentVariableBorrowRate = uint256.MustFromDecimal("140000000000000000000000000")
	require.NoError(t, s.UpsertReserve(ctx, reserve))

	got, err := s.GetReserve(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, reserve, got)

	reserve.Flags |= core.ReserveFlagsFrozen
	reserve.LastUpdateTimestamp++
	require.NoError(t, s.UpsertReserve(ctx, reserve))

	reserves, err := s.ListReserves(ctx)
	require.NoError(t, err)
	require.Len(t, reserves, 1)
	assert.True(t, reserves[0].GetFlag(core.ReserveFlagsFrozen))
	assert.Equal(t, reserve.LastUpdateTimestamp, reserves[0].LastUpdateTimestamp)

	_, err = s.GetReserve(ctx, weth)
	assert.ErrorIs(t, err, core.ErrReserveNotFound)
}

func TestPositionsAndAccounts(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for _, user := range []common.Address{alice, bob} {
		for _, asset := range []common.Address{usdc, weth} {
			position := core.NewPosition(user, asset)
			position.ScaledSupply = uint256.NewInt(100)
			position.UsageAsCollateralEnabled = true
			require.NoError(t, s.UpsertPosition(ctx, position))
		}
	}
	updated := core.NewPosition(alice, usdc)
	updated.StablePrincipal = uint256.NewInt(7)
	updated.StableRate = uint256.NewInt(3)
	updated.StableLastUpdate = 99
	require.NoError(t, s.UpsertPosition(ctx, updated))

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	positions, err := s.ListPositionsByUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, position := range positions {
		if position.Asset == usdc {
			assert.Equal(t, updated, position)
		}
	}

	clk := testClock()
	account := core.NewAccount(clk, alice)
	account.SetFlag(core.UsingMarginCollateralFlag)
	require.NoError(t, s.UpsertAccount(ctx, account))
	got, err := s.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, account, got)
	assert.True(t, got.UsingMarginCollateral())

	_, err = s.GetAccount(ctx, bob)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	err := s.Transaction(ctx, func(store core.PoolStore) error {
		if err := store.UpsertPosition(ctx, core.NewPosition(alice, usdc)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	positions, err := s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	require.NoError(t, s.Transaction(ctx, func(store core.PoolStore) error {
		return store.UpsertPosition(ctx, core.NewPosition(alice, usdc))
	}))
	positions, err = s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestLiquidations(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	standard := &core.LiquidationResult{
		Id:                 uuid.Must(uuid.NewV4()).String(),
		Flow:               core.LiquidationFlowStandard,
		Borrower:           alice,
		Liquidator:         bob,
		DebtAsset:          usdc,
		DebtRepaid:         uint256.NewInt(750_000_000),
		StableDebtRepaid:   uint256.NewInt(0),
		VariableDebtRepaid: uint256.NewInt(750_000_000),
		CollateralAsset:    weth,
		CollateralSeized:   uint256.MustFromDecimal("437499999999999999"),
		PreHealthFactor:    uint256.MustFromDecimal("990000000000000000"),
		PostHealthFactor:   uint256.MustFromDecimal("1020000000000000000"),
		CreatedAt:          100,
	}
	instruction := core.NewSettlementInstruction(bob, usdc, uint256.NewInt(5), governance, usdc, uint256.NewInt(4), 7, 101)
	margin := &core.LiquidationResult{
		Id:                 instruction.Id,
		Flow:               core.LiquidationFlowMarginCollateral,
		Borrower:           bob,
		Liquidator:         governance,
		DebtAsset:          usdc,
		DebtRepaid:         uint256.NewInt(4),
		StableDebtRepaid:   uint256.NewInt(0),
		VariableDebtRepaid: uint256.NewInt(4),
		CollateralAsset:    usdc,
		CollateralSeized:   uint256.NewInt(5),
		PreHealthFactor:    uint256.NewInt(1),
		PostHealthFactor:   uint256.NewInt(2),
		Instruction:        instruction,
		CreatedAt:          101,
	}
	require.NoError(t, s.CreateLiquidation(ctx, standard))
	require.NoError(t, s.CreateLiquidation(ctx, margin))
	assert.Error(t, s.CreateLiquidation(ctx, margin), "duplicate id")

	all, err := s.ListLiquidations(ctx, common.Address{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, margin, all[0])
	assert.Equal(t, standard, all[1])
	assert.Nil(t, all[1].Instruction)

	byBorrower, err := s.ListLiquidations(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, byBorrower, 1)
	assert.Equal(t, standard.Id, byBorrower[0].Id)

	limited, err := s.ListLiquidations(ctx, common.Address{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, margin.Id, limited[0].Id)
}

func TestOperations(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	deposit := core.NewOperation(alice, core.OperationTypeDeposit, core.OperationDetail{
		Type:   core.OperationTypeDeposit,
		Caller: alice,
		Actions: []core.ActionDetail{{
			User:   alice,
			Action: core.ActionTypeSupply,
			Asset:  usdc,
			Amount: decimal.RequireFromString("1500.25"),
		}},
	}, 100)
	borrow := core.NewOperation(alice, core.OperationTypeBorrow, core.OperationDetail{Type: core.OperationTypeBorrow, Caller: alice}, 200)
	other := core.NewOperation(bob, core.OperationTypeDeposit, core.OperationDetail{Type: core.OperationTypeDeposit, Caller: bob}, 300)
	for _, op := range []*core.Operation{deposit, borrow, other} {
		require.NoError(t, s.CreateOperation(ctx, op))
	}

	tests := []struct {
		name          string
		user          common.Address
		typ           core.OperationType
		createdBefore int64
		limit         int
		want          []string
	}{
		{name: "all", want: []string{other.Id, borrow.Id, deposit.Id}},
		{name: "by user", user: alice, want: []string{borrow.Id, deposit.Id}},
		{name: "by type", typ: core.OperationTypeDeposit, want: []string{other.Id, deposit.Id}},
		{name: "before", createdBefore: 200, want: []string{deposit.Id}},
		{name: "limit", limit: 2, want: []string{other.Id, borrow.Id}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operations, err := s.ListOperations(ctx, tt.user, tt.typ, tt.createdBefore, tt.limit)
			require.NoError(t, err)
			ids := make([]string, 0, len(operations))
			for _, op := range operations {
				ids = append(ids, op.Id)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	operations, err := s.ListOperations(ctx, alice, core.OperationTypeDeposit, 0, 0)
	require.NoError(t, err)
	require.Len(t, operations, 1)
	assert.Equal(t, deposit.Detail.Actions[0].Amount.String(), operations[0].Detail.Actions[0].Amount.String())
	assert.Equal(t, usdc, operations[0].Detail.Actions[0].Asset)
}

func TestPoolOverStore(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	clk := testClock()

	oracle := core.NewStaticPriceOracle()
	oracle.SetAssetPrice(usdc, uint256.MustFromDecimal("1000000000000000000"))
	oracle.SetAssetPrice(weth, uint256.MustFromDecimal("2000000000000000000000"))

	strategy, err := core.NewKinkedRateStrategy("kinked", core.KinkedRateParams{
		OptimalUtilization: uint256.MustFromDecimal("800000000000000000000000000"),
		BaseVariableRate:   uint256.MustFromDecimal("100000000000000000000000000"),
		VariableSlope1:     uint256.MustFromDecimal("80000000000000000000000000"),
		VariableSlope2:     uint256.MustFromDecimal("1000000000000000000000000000"),
		BaseStableRate:     uint256.MustFromDecimal("30000000000000000000000000"),
		StableSlope1:       uint256.MustFromDecimal("20000000000000000000000000"),
		StableSlope2:       uint256.MustFromDecimal("600000000000000000000000000"),
	})
	require.NoError(t, err)

	config := core.PoolConfig{
		Address:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Governance:  governance,
		Liquidation: core.DefaultLiquidationParams(),
		Margin: core.MarginConfig{
			ReferenceAsset:       usdc,
			ReferenceDecimals:    6,
			Ltv:                  8000,
			LiquidationThreshold: 10000,
			LiquidationBonus:     10500,
		},
	}
	newPool := func() *core.Pool {
		pool, err := core.NewPool(config, oracle, core.NewMemoryMarginFeed(), core.NewSettlementLog(), core.WithClock(clk), core.WithStore(s))
		require.NoError(t, err)
		pool.RegisterStrategy(strategy)
		require.NoError(t, pool.Load(ctx))
		return pool
	}

	pool := newPool()
	require.NoError(t, pool.InitReserve(ctx, governance, usdc, "USDC", 6, reserveConfig()))
	require.NoError(t, pool.InitReserve(ctx, governance, weth, "WETH", 18, reserveConfig()))
	require.NoError(t, pool.Deposit(ctx, bob, usdc, uint256.NewInt(100_000_000_000)))
	require.NoError(t, pool.Deposit(ctx, alice, weth, uint256.MustFromDecimal("1000000000000000000")))
	require.NoError(t, pool.Borrow(ctx, alice, usdc, uint256.NewInt(1_000_000_000), core.RateModeVariable))
	clk.Add(24 * time.Hour)

	before, err := pool.GetAccountData(ctx, alice)
	require.NoError(t, err)

	restarted := newPool()
	after, err := restarted.GetAccountData(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, pool.ListReserves(), restarted.ListReserves())

	operations, err := restarted.ListOperations(ctx, alice, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, operations, 2)
	assert.Equal(t, core.OperationTypeBorrow, operations[0].Type)
}
