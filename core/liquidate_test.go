package core

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessCloseFactor(t *testing.T) {
	engine := NewLiquidationEngine(poolAddress, DefaultLiquidationParams(), testMarginConfig())

	testCases := []struct {
		name      string
		hf        string
		requested string
		cover     string
		full      bool
		err       error
	}{
		{"healthy", "1", "100", "", false, ErrHealthFactorNotBelowThreshold},
		{"close factor caps", "0.99", "100", "50", false, nil},
		{"close factor keeps smaller request", "0.99", "20", "20", false, nil},
		{"full liquidation", "0.9", "100", "100", true, nil},
		{"full liquidation boundary", "0.95", "100", "50", false, nil},
		{"empty request", "0.9", "0", "", false, ErrInvalidAmount},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			report := &SolvencyReport{HealthFactor: wad(t, tc.hf)}
			assessment, err := engine.Assess(report, wad(t, "40"), wad(t, "60"), wad(t, tc.requested))
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, wad(t, tc.cover).Dec(), assessment.DebtToCover.Dec())
			assert.Equal(t, tc.full, assessment.FullLiquidation)
			assert.False(t, assessment.DebtToCover.Gt(assessment.MaxLiquidatableDebt))
		})
	}

	_, err := engine.Assess(&SolvencyReport{HealthFactor: wad(t, "0.5")}, zero(), zero(), wad(t, "1"))
	assert.True(t, errors.Is(err, ErrSpecifiedCurrencyNotBorrowed))
}

func TestCalculateCollateralSeizure(t *testing.T) {
	testCases := []struct {
		name      string
		in        SeizureInput
		seized    *uint256.Int
		repaid    *uint256.Int
		truncated bool
	}{
		{
			name: "within balance",
			in: SeizureInput{
				CollateralPrice:     wad(t, "2000"),
				DebtPrice:           wad(t, "1"),
				CollateralDecimals:  18,
				DebtDecimals:        6,
				LiquidationBonus:    10500,
				DebtToCover:         amount(t, "1000", 6),
				AvailableCollateral: wad(t, "10"),
			},
			// 1000/2000 * 1.05
			seized: wad(t, "0.525"),
			repaid: amount(t, "1000", 6),
		},
		{
			name: "capped by balance",
			in: SeizureInput{
				CollateralPrice:     wad(t, "2000"),
				DebtPrice:           wad(t, "1"),
				CollateralDecimals:  18,
				DebtDecimals:        6,
				LiquidationBonus:    10500,
				DebtToCover:         amount(t, "1000", 6),
				AvailableCollateral: wad(t, "0.21"),
			},
			seized: wad(t, "0.21"),
			// 0.21 * 2000 / 1.05
			repaid:    amount(t, "400", 6),
			truncated: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seized, repaid, err := CalculateCollateralSeizure(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.seized.Dec(), seized.Dec())
			assert.Equal(t, tc.repaid.Dec(), repaid.Dec())
			assert.False(t, seized.Gt(tc.in.AvailableCollateral))
			assert.Equal(t, tc.truncated, repaid.Lt(tc.in.DebtToCover))
		})
	}
}

func TestLiquidationCall(t *testing.T) {
	testCases := []struct {
		name       string
		wethPrice  string
		receive    bool
		repaid     *uint256.Int
		seized     *uint256.Int
		err        error
		remainDebt bool
	}{
		{
			name:      "healthy position",
			wethPrice: "2000",
			err:       ErrHealthFactorNotBelowThreshold,
		},
		{
			// hf 0.99: half of the debt, 750/1800*1.05 WETH
			name:       "close factor",
			wethPrice:  "1800",
			repaid:     amount(t, "750", 6),
			seized:     u(437499999999999999),
			remainDebt: true,
		},
		{
			name:       "close factor receiving underlying",
			wethPrice:  "1800",
			receive:    true,
			repaid:     amount(t, "750", 6),
			seized:     u(437499999999999999),
			remainDebt: true,
		},
		{
			// hf 0.935: whole debt, 1500/1700*1.05 WETH
			name:      "full liquidation",
			wethPrice: "1700",
			repaid:    amount(t, "1500", 6),
			seized:    u(926470588235294117),
		},
		{
			// 1500/1400*1.05 exceeds the 1 WETH held
			name:       "seizure capped by balance",
			wethPrice:  "1400",
			repaid:     amount(t, "1333.333333", 6),
			seized:     wad(t, "1"),
			remainDebt: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPoolFixture(t)
			f.borrowAgainstWeth(t)
			f.oracle.SetAssetPrice(weth, wad(t, tc.wethPrice))

			wethLiquidity := f.supply(t, alice, weth)
			result, err := f.pool.LiquidationCall(f.ctx, liquidator, weth, usdc, alice, MAX_AMOUNT, tc.receive)
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
				assert.Equal(t, amount(t, "1500", 6).Dec(), f.debt(t, alice, usdc).Dec())
				return
			}
			require.NoError(t, err)

			assert.Equal(t, LiquidationFlowStandard, result.Flow)
			assert.Equal(t, tc.repaid.Dec(), result.DebtRepaid.Dec())
			assert.Equal(t, tc.seized.Dec(), result.CollateralSeized.Dec())
			assert.Equal(t, result.DebtRepaid.Dec(), result.VariableDebtRepaid.Dec())
			assert.True(t, result.StableDebtRepaid.IsZero())
			assert.NotEmpty(t, result.Id)
			assert.True(t, result.PreHealthFactor.Lt(HEALTH_FACTOR_LIQUIDATION_THRESHOLD))

			remaining := f.debt(t, alice, usdc)
			assert.Equal(t, new(uint256.Int).Sub(amount(t, "1500", 6), tc.repaid).Dec(), remaining.Dec())
			assert.Equal(t, tc.remainDebt, !remaining.IsZero())
			assert.Equal(t, new(uint256.Int).Sub(wethLiquidity, tc.seized).Dec(), f.supply(t, alice, weth).Dec())

			if tc.receive {
				assert.True(t, f.supply(t, liquidator, weth).IsZero())
				reserve, err := f.pool.GetReserve(weth)
				require.NoError(t, err)
				assert.Equal(t, new(uint256.Int).Sub(wad(t, "1"), tc.seized).Dec(), reserve.AvailableLiquidity.Dec())
			} else {
				assert.Equal(t, tc.seized.Dec(), f.supply(t, liquidator, weth).Dec())
				assert.True(t, f.pool.GetPosition(liquidator, weth).UsageAsCollateralEnabled)
			}

			liquidations, err := f.pool.ListLiquidations(f.ctx, alice, 10)
			require.NoError(t, err)
			require.Len(t, liquidations, 1)
			assert.Equal(t, result.Id, liquidations[0].Id)
		})
	}
}

func TestLiquidationCallStableDebtFirst(t *testing.T) {
	f := newPoolFixture(t)
	require.NoError(t, f.pool.Deposit(f.ctx, alice, weth, wad(t, "1")))
	require.NoError(t, f.pool.Borrow(f.ctx, alice, usdc, amount(t, "1000", 6), RateModeStable))
	require.NoError(t, f.pool.Borrow(f.ctx, alice, usdc, amount(t, "500", 6), RateModeVariable))
	f.oracle.SetAssetPrice(weth, wad(t, "1800"))

	result, err := f.pool.LiquidationCall(f.ctx, liquidator, weth, usdc, alice, MAX_AMOUNT, false)
	require.NoError(t, err)
	assert.Equal(t, amount(t, "750", 6).Dec(), result.StableDebtRepaid.Dec())
	assert.True(t, result.VariableDebtRepaid.IsZero())

	reserve, err := f.pool.GetReserve(usdc)
	require.NoError(t, err)
	stable, variable, err := f.pool.GetPosition(alice, usdc).Debts(reserve, f.clk.Now().Unix())
	require.NoError(t, err)
	assert.Equal(t, amount(t, "250", 6).Dec(), stable.Dec())
	assert.Equal(t, amount(t, "500", 6).Dec(), variable.Dec())
}

func TestLiquidationCallPreconditions(t *testing.T) {
	f := newPoolFixture(t)
	f.borrowAgainstWeth(t)
	f.oracle.SetAssetPrice(weth, wad(t, "1700"))

	// alice never borrowed WETH
	_, err := f.pool.LiquidationCall(f.ctx, liquidator, weth, weth, alice, MAX_AMOUNT, false)
	assert.True(t, errors.Is(err, ErrSpecifiedCurrencyNotBorrowed))

	// alice holds no USDC collateral
	_, err = f.pool.LiquidationCall(f.ctx, liquidator, usdc, usdc, alice, MAX_AMOUNT, false)
	assert.True(t, errors.Is(err, ErrCollateralCannotBeLiquidated))

	config := activeReserveConfig("kinked")
	config.LiquidationThreshold = 8250
	config.UpdateFlag(true, ReserveFlagsPaused)
	require.NoError(t, f.pool.ConfigureReserve(f.ctx, governance, weth, config))
	_, err = f.pool.LiquidationCall(f.ctx, liquidator, weth, usdc, alice, MAX_AMOUNT, false)
	assert.True(t, errors.Is(err, ErrReservePaused))
	assert.Equal(t, amount(t, "1500", 6).Dec(), f.debt(t, alice, usdc).Dec())
}

func TestLiquidationCallSequential(t *testing.T) {
	f := newPoolFixture(t)
	f.borrowAgainstWeth(t)
	f.oracle.SetAssetPrice(weth, wad(t, "1650"))

	first, err := f.pool.LiquidationCall(f.ctx, liquidator, weth, usdc, alice, amount(t, "100", 6), false)
	require.NoError(t, err)
	second, err := f.pool.LiquidationCall(f.ctx, liquidator, weth, usdc, alice, amount(t, "100", 6), false)
	require.NoError(t, err)

	assert.Equal(t, first.PostHealthFactor.Dec(), second.PreHealthFactor.Dec())
	assert.Equal(t, amount(t, "1300", 6).Dec(), f.debt(t, alice, usdc).Dec())

	liquidations, err := f.pool.ListLiquidations(f.ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, liquidations, 2)
	assert.Equal(t, second.Id, liquidations[0].Id)
}

func TestLiquidateMarginCollateral(t *testing.T) {
	f := newPoolFixture(t)
	f.borrowAgainstMargin(t)
	// effective collateral 0.7 against 0.76 of debt
	f.pushSnapshot(t, bob, "1000000000000000000", "-300000000000000000")

	maxCollateral := wad(t, "0.5")
	result, err := f.pool.LiquidateMarginCollateral(f.ctx, counterparty, bob, MAX_AMOUNT, usdc, usdm, maxCollateral)
	require.NoError(t, err)

	// the bound truncates both the seizure and the repaid debt
	assert.Equal(t, LiquidationFlowMarginCollateral, result.Flow)
	assert.Equal(t, maxCollateral.Dec(), result.CollateralSeized.Dec())
	assert.Equal(t, "476190", result.DebtRepaid.Dec())
	assert.True(t, result.DebtRepaid.Lt(amount(t, "0.76", 6)))
	assert.True(t, result.PostHealthFactor.Lt(HEALTH_FACTOR_LIQUIDATION_THRESHOLD))

	remaining := f.debt(t, bob, usdc)
	assert.Equal(t, "283810", remaining.Dec())

	instructions := f.settlement.Instructions()
	require.Len(t, instructions, 1)
	instruction := instructions[0]
	assert.Equal(t, result.Instruction, instruction)
	assert.Equal(t, bob, instruction.Account)
	assert.Equal(t, usdm, instruction.Asset)
	assert.Equal(t, maxCollateral.Dec(), instruction.Amount.Dec())
	assert.Equal(t, receiver, instruction.Destination)
	assert.Equal(t, f.sequence, instruction.SnapshotSeqNum)

	// the snapshot is owned by the feed and stays untouched
	snapshot, err := f.feed.Latest(f.ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, wad(t, "1").Dec(), snapshot.Collateral.Dec())

	// once the feed reflects the seizure nothing is left to borrow
	f.pushSnapshot(t, bob, "500000000000000000", "-300000000000000000")
	report, err := f.pool.GetAccountData(f.ctx, bob)
	require.NoError(t, err)
	assert.True(t, report.AvailableBorrowsValue.IsZero())
	assert.True(t, report.TotalDebtValue.Gt(zero()))
	assert.Equal(t, report.HealthFactor.Dec(), result.PostHealthFactor.Dec())
}

func TestLiquidateMarginCollateralWipedOut(t *testing.T) {
	f := newPoolFixture(t)
	f.borrowAgainstMargin(t)
	f.pushSnapshot(t, bob, "1000000000000000000", "-1000000000000000000")

	report, err := f.pool.GetAccountData(f.ctx, bob)
	require.NoError(t, err)
	assert.True(t, report.HealthFactor.IsZero())
	assert.True(t, report.AvailableBorrowsValue.IsZero())

	_, err = f.pool.LiquidateMarginCollateral(f.ctx, counterparty, bob, MAX_AMOUNT, usdc, usdm, wad(t, "1"))
	assert.True(t, errors.Is(err, ErrCollateralCannotBeLiquidated))
	assert.Equal(t, amount(t, "0.76", 6).Dec(), f.debt(t, bob, usdc).Dec())
}

func TestLiquidateMarginCollateralRejections(t *testing.T) {
	testCases := []struct {
		name      string
		caller    string
		reference string
		setup     func(t *testing.T, f *poolFixture)
		err       error
	}{
		{
			name:   "not the settlement counterparty",
			caller: "liquidator",
			err:    ErrNotSettlementCounterparty,
		},
		{
			name:      "wrong reference asset",
			reference: "usdc",
			err:       ErrInvalidMarginReferenceAsset,
		},
		{
			name: "healthy account",
			setup: func(t *testing.T, f *poolFixture) {
				f.pushSnapshot(t, bob, "1000000000000000000", "0")
			},
			err: ErrHealthFactorNotBelowThreshold,
		},
		{
			name: "settlement failure rolls back",
			setup: func(t *testing.T, f *poolFixture) {
				f.settlement.FailWith(errors.New("counterparty unavailable"))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPoolFixture(t)
			f.borrowAgainstMargin(t)
			f.pushSnapshot(t, bob, "1000000000000000000", "-300000000000000000")
			if tc.setup != nil {
				tc.setup(t, f)
			}
			caller, reference := counterparty, usdm
			if tc.caller == "liquidator" {
				caller = liquidator
			}
			if tc.reference == "usdc" {
				reference = usdc
			}
			before, err := f.pool.GetReserve(usdc)
			require.NoError(t, err)

			_, err = f.pool.LiquidateMarginCollateral(f.ctx, caller, bob, MAX_AMOUNT, usdc, reference, wad(t, "0.5"))
			require.Error(t, err)
			if tc.err != nil {
				assert.True(t, errors.Is(err, tc.err))
			}

			after, err := f.pool.GetReserve(usdc)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, amount(t, "0.76", 6).Dec(), f.debt(t, bob, usdc).Dec())
			assert.Empty(t, f.settlement.Instructions())
			liquidations, err := f.pool.ListLiquidations(f.ctx, bob, 0)
			require.NoError(t, err)
			assert.Empty(t, liquidations)
		})
	}
}

func TestLiquidationEngineRequiresPoolCaller(t *testing.T) {
	engine := NewLiquidationEngine(poolAddress, DefaultLiquidationParams(), testMarginConfig())
	_, err := engine.LiquidateMarginCollateral(nopLog(), &MarginLiquidation{
		Caller:         counterparty,
		Borrower:       bob,
		ReferenceAsset: usdm,
	})
	assert.True(t, errors.Is(err, ErrCallerNotPool))
	assert.Equal(t, ErrorKindAuthorization, KindOf(err))
}

func TestLiquidationParamsValidate(t *testing.T) {
	params := DefaultLiquidationParams()
	assert.NoError(t, params.Validate())

	params.CloseFactor = 0
	assert.Error(t, params.Validate())

	params = DefaultLiquidationParams()
	params.FullLiquidationThreshold = wad(t, "1.5")
	assert.Error(t, params.Validate())
}
