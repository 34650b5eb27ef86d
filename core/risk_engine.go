package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

type (
	// SolvencyReport values are in the base currency with wad precision;
	// averages are basis points. It is derived on demand and never stored.
	SolvencyReport struct {
		TotalCollateralValue    *uint256.Int `json:"totalCollateralValue"`
		TotalDebtValue          *uint256.Int `json:"totalDebtValue"`
		AvgLtv                  uint64       `json:"avgLtv"`
		AvgLiquidationThreshold uint64       `json:"avgLiquidationThreshold"`
		HealthFactor            *uint256.Int `json:"healthFactor"`
		AvailableBorrowsValue   *uint256.Int `json:"availableBorrowsValue"`

		MarginCollateralValue *uint256.Int `json:"marginCollateralValue"`
	}

	// AccountView is everything the aggregator reads about one user.
	AccountView struct {
		Account   *Account
		Positions map[common.Address]*Position
		// nil when the feed has nothing for the account
		Snapshot *MarginSnapshot
	}

	AccountAggregator struct {
		margin MarginConfig
	}
)

func NewAccountAggregator(margin MarginConfig) *AccountAggregator {
	return &AccountAggregator{margin: margin}
}

func (a *AccountAggregator) MarginConfig() MarginConfig {
	return a.margin
}

func (r *SolvencyReport) Liquidatable() bool {
	return r.HealthFactor.Lt(HEALTH_FACTOR_LIQUIDATION_THRESHOLD)
}

func (r *SolvencyReport) HasDebt() bool {
	return !r.TotalDebtValue.IsZero()
}

// PricedAssets lists the assets whose quotes GetAccountData needs.
func (a *AccountAggregator) PricedAssets(view *AccountView) []common.Address {
	assets := make([]common.Address, 0, len(view.Positions)+1)
	for asset, position := range view.Positions {
		if !position.IsEmpty() {
			assets = append(assets, asset)
		}
	}
	if view.Account != nil && view.Account.UsingMarginCollateral() {
		assets = append(assets, a.margin.ReferenceAsset)
	}
	return assets
}

// AssetValue converts a native amount into the base currency.
func AssetValue(amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if amount.IsZero() {
		return zero(), nil
	}
	return MulDiv(amount, price, Pow10(decimals))
}

// CalculateHealthFactor returns collateral*threshold/debt in wad, or
// MAX_HEALTH_FACTOR when there is no debt.
func CalculateHealthFactor(totalCollateral, totalDebt *uint256.Int, liquidationThreshold uint64) (*uint256.Int, error) {
	if totalDebt.IsZero() {
		return MAX_HEALTH_FACTOR.Clone(), nil
	}
	weighted, err := PercentMul(totalCollateral, liquidationThreshold)
	if err != nil {
		return nil, err
	}
	return WadDiv(weighted, totalDebt)
}

func CalculateAvailableBorrows(totalCollateral, totalDebt *uint256.Int, ltv uint64) (*uint256.Int, error) {
	borrowable, err := PercentMul(totalCollateral, ltv)
	if err != nil {
		return nil, err
	}
	return SubFloor(borrowable, totalDebt), nil
}

// GetAccountData merges the user's reserve balances and margin snapshot into
// a single solvency report. It only reads its arguments.
func (a *AccountAggregator) GetAccountData(reserves map[common.Address]*Reserve, view *AccountView, prices PriceSet, now int64) (*SolvencyReport, error) {
	totalCollateral := zero()
	totalDebt := zero()
	ltvWeighted := zero()
	thresholdWeighted := zero()

	accumulateCollateral := func(value *uint256.Int, ltv, threshold uint64) error {
		var err error
		if totalCollateral, err = Add(totalCollateral, value); err != nil {
			return err
		}
		weightedLtv, err := Mul(value, uint256.NewInt(ltv))
		if err != nil {
			return err
		}
		if ltvWeighted, err = Add(ltvWeighted, weightedLtv); err != nil {
			return err
		}
		weightedThreshold, err := Mul(value, uint256.NewInt(threshold))
		if err != nil {
			return err
		}
		thresholdWeighted, err = Add(thresholdWeighted, weightedThreshold)
		return err
	}

	for asset, position := range view.Positions {
		if position.IsEmpty() {
			continue
		}
		reserve, ok := reserves[asset]
		if !ok {
			return nil, errors.Wrapf(ErrReserveNotFound, "asset %s", asset.Hex())
		}
		price, err := prices.Get(asset)
		if err != nil {
			return nil, err
		}

		if position.IsCollateral(reserve) {
			balance, err := position.SupplyBalance(reserve, now)
			if err != nil {
				return nil, err
			}
			value, err := AssetValue(balance, price, reserve.Decimals)
			if err != nil {
				return nil, err
			}
			if err := accumulateCollateral(value, reserve.BaseLtv, reserve.LiquidationThreshold); err != nil {
				return nil, err
			}
		}

		if position.HasDebt() {
			stableDebt, variableDebt, err := position.Debts(reserve, now)
			if err != nil {
				return nil, err
			}
			debt, err := Add(stableDebt, variableDebt)
			if err != nil {
				return nil, err
			}
			value, err := AssetValue(debt, price, reserve.Decimals)
			if err != nil {
				return nil, err
			}
			if totalDebt, err = Add(totalDebt, value); err != nil {
				return nil, err
			}
		}
	}

	marginValue := zero()
	if view.Account != nil && view.Account.UsingMarginCollateral() {
		collateral := view.Snapshot.EffectiveCollateral()
		if !collateral.IsZero() {
			price, err := prices.Get(a.margin.ReferenceAsset)
			if err != nil {
				return nil, err
			}
			if marginValue, err = AssetValue(collateral, price, a.margin.ReferenceDecimals); err != nil {
				return nil, err
			}
			if err := accumulateCollateral(marginValue, a.margin.Ltv, a.margin.LiquidationThreshold); err != nil {
				return nil, err
			}
		}
	}

	report := &SolvencyReport{
		TotalCollateralValue:  totalCollateral,
		TotalDebtValue:        totalDebt,
		MarginCollateralValue: marginValue,
	}
	if !totalCollateral.IsZero() {
		report.AvgLtv = new(uint256.Int).Div(ltvWeighted, totalCollateral).Uint64()
		report.AvgLiquidationThreshold = new(uint256.Int).Div(thresholdWeighted, totalCollateral).Uint64()
	}

	var err error
	if report.HealthFactor, err = CalculateHealthFactor(totalCollateral, totalDebt, report.AvgLiquidationThreshold); err != nil {
		return nil, err
	}
	if report.AvailableBorrowsValue, err = CalculateAvailableBorrows(totalCollateral, totalDebt, report.AvgLtv); err != nil {
		return nil, err
	}
	return report, nil
}
