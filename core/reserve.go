package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/holiman/uint256"
)

type (
	ReserveStore interface {
		ListReserves(ctx context.Context) ([]*Reserve, error)
		GetReserve(ctx context.Context, asset common.Address) (*Reserve, error)
		UpsertReserve(ctx context.Context, reserve *Reserve) error
	}

	Reserve struct {
		Asset    common.Address `json:"asset"`
		Symbol   string         `json:"symbol"`
		Decimals uint8          `json:"decimals"`

		ReserveConfig `json:"config"`

		// ray, monotonically non-decreasing
		LiquidityIndex      *uint256.Int `json:"liquidityIndex"`
		VariableBorrowIndex *uint256.Int `json:"variableBorrowIndex"`

		CurrentLiquidityRate      *uint256.Int `json:"currentLiquidityRate"`
		CurrentVariableBorrowRate *uint256.Int `json:"currentVariableBorrowRate"`
		CurrentStableBorrowRate   *uint256.Int `json:"currentStableBorrowRate"`

		// supply and variable debt are stored divided by their index
		TotalScaledSupply       *uint256.Int `json:"totalScaledSupply"`
		TotalScaledVariableDebt *uint256.Int `json:"totalScaledVariableDebt"`

		// stable debt principal as of StableDebtLastUpdate, compounding at AverageStableRate
		TotalStableDebt      *uint256.Int `json:"totalStableDebt"`
		AverageStableRate    *uint256.Int `json:"averageStableRate"`
		StableDebtLastUpdate int64        `json:"stableDebtLastUpdate"`

		AvailableLiquidity    *uint256.Int `json:"availableLiquidity"`
		TreasuryScaledBalance *uint256.Int `json:"treasuryScaledBalance"`

		LastUpdateTimestamp int64 `json:"lastUpdateTimestamp"`
		CreatedAt           int64 `json:"createdAt"`
	}

	ReserveConfig struct {
		// basis points
		BaseLtv              uint64 `json:"baseLtv"`
		LiquidationThreshold uint64 `json:"liquidationThreshold"`
		LiquidationBonus     uint64 `json:"liquidationBonus"`
		ReserveFactor        uint64 `json:"reserveFactor"`

		Flags        ReserveFlags `json:"flags"`
		RateStrategy string       `json:"rateStrategy"`
	}
)

type ReserveFlags uint8

const (
	ReserveFlagsActive                 ReserveFlags = 1 << 0
	ReserveFlagsFrozen                 ReserveFlags = 1 << 1
	ReserveFlagsPaused                 ReserveFlags = 1 << 2
	ReserveFlagsBorrowingEnabled       ReserveFlags = 1 << 3
	ReserveFlagsStableBorrowingEnabled ReserveFlags = 1 << 4
)

func (rf ReserveFlags) String() string {
	switch rf {
	case ReserveFlagsActive:
		return "Active"
	case ReserveFlagsFrozen:
		return "Frozen"
	case ReserveFlagsPaused:
		return "Paused"
	case ReserveFlagsBorrowingEnabled:
		return "Borrowing Enabled"
	case ReserveFlagsStableBorrowingEnabled:
		return "Stable Borrowing Enabled"
	default:
		return "Unknown"
	}
}

func (rc *ReserveConfig) Validate() error {
	if rc.BaseLtv > rc.LiquidationThreshold {
		return ErrInvalidReserveConfig
	}
	if rc.LiquidationThreshold != 0 {
		if rc.LiquidationBonus <= PERCENTAGE_FACTOR_BPS {
			return ErrInvalidReserveConfig
		}
		// the bonus on a fully seized position must stay coverable
		bonusOnThreshold := rc.LiquidationThreshold * rc.LiquidationBonus / PERCENTAGE_FACTOR_BPS
		if bonusOnThreshold > PERCENTAGE_FACTOR_BPS {
			return ErrInvalidReserveConfig
		}
	}
	if rc.ReserveFactor >= PERCENTAGE_FACTOR_BPS {
		return ErrInvalidReserveConfig
	}
	if rc.RateStrategy == "" {
		return ErrStrategyNotFound
	}
	return nil
}

func (rc *ReserveConfig) GetFlag(flag ReserveFlags) bool {
	return rc.Flags&flag == flag
}

func (rc *ReserveConfig) UpdateFlag(value bool, flag ReserveFlags) {
	if value {
		rc.Flags |= flag
	} else {
		rc.Flags &= ^flag
	}
}

func (rc *ReserveConfig) UsableAsCollateral() bool {
	return rc.LiquidationThreshold != 0
}

func NewReserve(clk clock.Clock, asset common.Address, symbol string, decimals uint8, config ReserveConfig) *Reserve {
	now := clk.Now().Unix()
	return &Reserve{
		Asset:                     asset,
		Symbol:                    symbol,
		Decimals:                  decimals,
		ReserveConfig:             config,
		LiquidityIndex:            RAY.Clone(),
		VariableBorrowIndex:       RAY.Clone(),
		CurrentLiquidityRate:      zero(),
		CurrentVariableBorrowRate: zero(),
		CurrentStableBorrowRate:   zero(),
		TotalScaledSupply:         zero(),
		TotalScaledVariableDebt:   zero(),
		TotalStableDebt:           zero(),
		AverageStableRate:         zero(),
		StableDebtLastUpdate:      now,
		AvailableLiquidity:        zero(),
		TreasuryScaledBalance:     zero(),
		LastUpdateTimestamp:       now,
		CreatedAt:                 now,
	}
}

func (r *Reserve) Clone() *Reserve {
	return &Reserve{
		Asset:                     r.Asset,
		Symbol:                    r.Symbol,
		Decimals:                  r.Decimals,
		ReserveConfig:             r.ReserveConfig,
		LiquidityIndex:            r.LiquidityIndex.Clone(),
		VariableBorrowIndex:       r.VariableBorrowIndex.Clone(),
		CurrentLiquidityRate:      r.CurrentLiquidityRate.Clone(),
		CurrentVariableBorrowRate: r.CurrentVariableBorrowRate.Clone(),
		CurrentStableBorrowRate:   r.CurrentStableBorrowRate.Clone(),
		TotalScaledSupply:         r.TotalScaledSupply.Clone(),
		TotalScaledVariableDebt:   r.TotalScaledVariableDebt.Clone(),
		TotalStableDebt:           r.TotalStableDebt.Clone(),
		AverageStableRate:         r.AverageStableRate.Clone(),
		StableDebtLastUpdate:      r.StableDebtLastUpdate,
		AvailableLiquidity:        r.AvailableLiquidity.Clone(),
		TreasuryScaledBalance:     r.TreasuryScaledBalance.Clone(),
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
		CreatedAt:                 r.CreatedAt,
	}
}

// AssertOperational rejects any mutation on a paused or inactive reserve, and
// any increase of supply or debt on a frozen one.
func (r *Reserve) AssertOperational(isIncreasing bool) error {
	if !r.GetFlag(ReserveFlagsActive) {
		return ErrReserveInactive
	}
	if r.GetFlag(ReserveFlagsPaused) {
		return ErrReservePaused
	}
	if isIncreasing && r.GetFlag(ReserveFlagsFrozen) {
		return ErrReserveFrozen
	}
	return nil
}

// NormalizedIncome is the liquidity index projected to now.
func (r *Reserve) NormalizedIncome(now int64) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp {
		return r.LiquidityIndex.Clone(), nil
	}
	cumulated, err := CalculateLinearInterest(r.CurrentLiquidityRate, r.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return RayMul(cumulated, r.LiquidityIndex)
}

// NormalizedDebt is the variable borrow index projected to now.
func (r *Reserve) NormalizedDebt(now int64) (*uint256.Int, error) {
	if now <= r.LastUpdateTimestamp {
		return r.VariableBorrowIndex.Clone(), nil
	}
	cumulated, err := CalculateCompoundedInterest(r.CurrentVariableBorrowRate, r.LastUpdateTimestamp, now)
	if err != nil {
		return nil, err
	}
	return RayMul(cumulated, r.VariableBorrowIndex)
}

func (r *Reserve) TotalVariableDebt(now int64) (*uint256.Int, error) {
	index, err := r.NormalizedDebt(now)
	if err != nil {
		return nil, err
	}
	return RayMul(r.TotalScaledVariableDebt, index)
}

func (r *Reserve) TotalStableDebtAt(now int64) (*uint256.Int, error) {
	if r.TotalStableDebt.IsZero() {
		return zero(), nil
	}
	cumulated, err := CalculateCompoundedInterest(r.AverageStableRate, r.StableDebtLastUpdate, now)
	if err != nil {
		return nil, err
	}
	return RayMul(r.TotalStableDebt, cumulated)
}

func (r *Reserve) TotalSupply(now int64) (*uint256.Int, error) {
	index, err := r.NormalizedIncome(now)
	if err != nil {
		return nil, err
	}
	return RayMul(r.TotalScaledSupply, index)
}

// Accrue advances both indices to now, mints the reserve factor share of the
// newly accrued debt interest to the treasury and re-derives the rates. A
// second call at the same timestamp changes nothing.
func (r *Reserve) Accrue(log Log, strategy InterestRateStrategy, now int64) error {
	if now <= r.LastUpdateTimestamp {
		return nil
	}

	previousVariableDebt, err := RayMul(r.TotalScaledVariableDebt, r.VariableBorrowIndex)
	if err != nil {
		return err
	}
	previousStableDebt, err := r.TotalStableDebtAt(r.LastUpdateTimestamp)
	if err != nil {
		return err
	}

	liquidityIndex := r.LiquidityIndex.Clone()
	variableBorrowIndex := r.VariableBorrowIndex.Clone()
	if !r.CurrentLiquidityRate.IsZero() {
		if liquidityIndex, err = r.NormalizedIncome(now); err != nil {
			return err
		}
		if !r.TotalScaledVariableDebt.IsZero() {
			if variableBorrowIndex, err = r.NormalizedDebt(now); err != nil {
				return err
			}
		}
	}

	currentVariableDebt, err := RayMul(r.TotalScaledVariableDebt, variableBorrowIndex)
	if err != nil {
		return err
	}
	currentStableDebt, err := r.TotalStableDebtAt(now)
	if err != nil {
		return err
	}
	previousDebt, err := Add(previousVariableDebt, previousStableDebt)
	if err != nil {
		return err
	}
	currentDebt, err := Add(currentVariableDebt, currentStableDebt)
	if err != nil {
		return err
	}
	toTreasury, err := PercentMul(SubFloor(currentDebt, previousDebt), r.ReserveFactor)
	if err != nil {
		return err
	}
	if !toTreasury.IsZero() {
		scaled, err := RayDiv(toTreasury, liquidityIndex)
		if err != nil {
			return err
		}
		if r.TreasuryScaledBalance, err = Add(r.TreasuryScaledBalance, scaled); err != nil {
			return err
		}
		if r.TotalScaledSupply, err = Add(r.TotalScaledSupply, scaled); err != nil {
			return err
		}
	}

	r.LiquidityIndex = liquidityIndex
	r.VariableBorrowIndex = variableBorrowIndex
	r.LastUpdateTimestamp = now

	return r.UpdateInterestRates(log, strategy, now)
}

// UpdateInterestRates re-derives the current rates from the reserve's debt
// and liquidity at now.
func (r *Reserve) UpdateInterestRates(log Log, strategy InterestRateStrategy, now int64) error {
	totalVariableDebt, err := RayMul(r.TotalScaledVariableDebt, r.VariableBorrowIndex)
	if err != nil {
		return err
	}
	totalStableDebt, err := r.TotalStableDebtAt(now)
	if err != nil {
		return err
	}

	rates, err := strategy.CalculateInterestRates(RateParams{
		AvailableLiquidity: r.AvailableLiquidity,
		TotalStableDebt:    totalStableDebt,
		TotalVariableDebt:  totalVariableDebt,
		AverageStableRate:  r.AverageStableRate,
		ReserveFactor:      r.ReserveFactor,
	})
	if err != nil {
		return err
	}

	r.CurrentLiquidityRate = rates.LiquidityRate
	r.CurrentStableBorrowRate = rates.StableBorrowRate
	r.CurrentVariableBorrowRate = rates.VariableBorrowRate

	log.Debug().
		Str("asset", r.Symbol).
		Str("utilization", FormatRay(rates.Utilization).String()).
		Str("liquidityRate", FormatRay(rates.LiquidityRate).String()).
		Str("variableBorrowRate", FormatRay(rates.VariableBorrowRate).String()).
		Str("stableBorrowRate", FormatRay(rates.StableBorrowRate).String()).
		Msg("reserve rates updated")
	return nil
}

// UpdateStableRate folds a stable debt issuance (increase) or repayment into
// the reserve's average stable rate, keeping averageRate*totalStableDebt equal
// to the sum of principal*rate over the positions.
func (r *Reserve) UpdateStableRate(now int64, amount, rate *uint256.Int, increase bool) error {
	previousTotal, err := r.TotalStableDebtAt(now)
	if err != nil {
		return err
	}
	previousTotalRay, err := WadToRay(previousTotal)
	if err != nil {
		return err
	}
	amountRay, err := WadToRay(amount)
	if err != nil {
		return err
	}
	weightedPrevious, err := RayMul(r.AverageStableRate, previousTotalRay)
	if err != nil {
		return err
	}
	weightedAmount, err := RayMul(rate, amountRay)
	if err != nil {
		return err
	}

	r.StableDebtLastUpdate = now

	if increase {
		newTotal, err := Add(previousTotal, amount)
		if err != nil {
			return err
		}
		newTotalRay, err := WadToRay(newTotal)
		if err != nil {
			return err
		}
		weighted, err := Add(weightedPrevious, weightedAmount)
		if err != nil {
			return err
		}
		if r.AverageStableRate, err = RayDiv(weighted, newTotalRay); err != nil {
			return err
		}
		r.TotalStableDebt = newTotal
		return nil
	}

	if !amount.Lt(previousTotal) || !weightedAmount.Lt(weightedPrevious) {
		r.TotalStableDebt = zero()
		r.AverageStableRate = zero()
		return nil
	}
	newTotal := new(uint256.Int).Sub(previousTotal, amount)
	newTotalRay, err := WadToRay(newTotal)
	if err != nil {
		return err
	}
	if r.AverageStableRate, err = RayDiv(new(uint256.Int).Sub(weightedPrevious, weightedAmount), newTotalRay); err != nil {
		return err
	}
	r.TotalStableDebt = newTotal
	return nil
}

// AddLiquidity and TakeLiquidity track the underlying held by the reserve.
func (r *Reserve) AddLiquidity(amount *uint256.Int) error {
	liquidity, err := Add(r.AvailableLiquidity, amount)
	if err != nil {
		return err
	}
	r.AvailableLiquidity = liquidity
	return nil
}

func (r *Reserve) TakeLiquidity(amount *uint256.Int) error {
	if r.AvailableLiquidity.Lt(amount) {
		return ErrNotEnoughLiquidity
	}
	r.AvailableLiquidity = new(uint256.Int).Sub(r.AvailableLiquidity, amount)
	return nil
}
