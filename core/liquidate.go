package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	LiquidationStore interface {
		CreateLiquidation(ctx context.Context, result *LiquidationResult) error
		ListLiquidations(ctx context.Context, borrower common.Address, limit int) ([]*LiquidationResult, error)
	}

	LiquidationResult struct {
		Id         string          `json:"id"`
		Flow       LiquidationFlow `json:"flow"`
		Borrower   common.Address  `json:"borrower"`
		Liquidator common.Address  `json:"liquidator"`

		DebtAsset          common.Address `json:"debtAsset"`
		DebtRepaid         *uint256.Int   `json:"debtRepaid"`
		StableDebtRepaid   *uint256.Int   `json:"stableDebtRepaid"`
		VariableDebtRepaid *uint256.Int   `json:"variableDebtRepaid"`

		CollateralAsset   common.Address `json:"collateralAsset"`
		CollateralSeized  *uint256.Int   `json:"collateralSeized"`
		ReceiveUnderlying bool           `json:"receiveUnderlying"`

		PreHealthFactor  *uint256.Int `json:"preHealthFactor"`
		PostHealthFactor *uint256.Int `json:"postHealthFactor"`

		Instruction *SettlementInstruction `json:"instruction,omitempty"`

		CreatedAt int64 `json:"createdAt"`
	}

	LiquidationParams struct {
		// basis points of a debt position one call may repay
		CloseFactor uint64 `json:"closeFactor"`
		// wad health factor below which the whole position may be repaid
		FullLiquidationThreshold *uint256.Int `json:"fullLiquidationThreshold"`
	}

	// LiquidationAssessment is the eligibility outcome shared by both flows.
	LiquidationAssessment struct {
		HealthFactor        *uint256.Int
		StableDebt          *uint256.Int
		VariableDebt        *uint256.Int
		TotalDebt           *uint256.Int
		MaxLiquidatableDebt *uint256.Int
		DebtToCover         *uint256.Int
		FullLiquidation     bool
	}

	SeizureInput struct {
		CollateralPrice     *uint256.Int
		DebtPrice           *uint256.Int
		CollateralDecimals  uint8
		DebtDecimals        uint8
		LiquidationBonus    uint64
		DebtToCover         *uint256.Int
		AvailableCollateral *uint256.Int
	}

	StandardLiquidation struct {
		Borrower   common.Address
		Liquidator common.Address

		DebtReserve        *Reserve
		DebtStrategy       InterestRateStrategy
		CollateralReserve  *Reserve
		CollateralStrategy InterestRateStrategy

		BorrowerDebt         *Position
		BorrowerCollateral   *Position
		LiquidatorCollateral *Position

		Report            *SolvencyReport
		Prices            PriceSet
		DebtToCover       *uint256.Int
		ReceiveUnderlying bool
		Now               int64
	}

	MarginLiquidation struct {
		Caller   common.Address
		Borrower common.Address
		Account  *Account

		DebtReserve  *Reserve
		DebtStrategy InterestRateStrategy
		BorrowerDebt *Position

		Snapshot                 *MarginSnapshot
		Report                   *SolvencyReport
		Prices                   PriceSet
		ReferenceAsset           common.Address
		DebtToCover              *uint256.Int
		MaxCollateralToLiquidate *uint256.Int
		Destination              common.Address
		Now                      int64
	}

	LiquidationEngine struct {
		pool   common.Address
		params LiquidationParams
		margin MarginConfig
	}
)

type LiquidationFlow uint8

const (
	LiquidationFlowStandard LiquidationFlow = iota
	LiquidationFlowMarginCollateral
)

func (lf LiquidationFlow) String() string {
	switch lf {
	case LiquidationFlowStandard:
		return "standard"
	case LiquidationFlowMarginCollateral:
		return "margin_collateral"
	default:
		return "unknown"
	}
}

func (lp *LiquidationParams) Validate() error {
	if lp.CloseFactor == 0 || lp.CloseFactor > PERCENTAGE_FACTOR_BPS {
		return ErrInvalidReserveConfig
	}
	if lp.FullLiquidationThreshold == nil || lp.FullLiquidationThreshold.Gt(HEALTH_FACTOR_LIQUIDATION_THRESHOLD) {
		return ErrInvalidReserveConfig
	}
	return nil
}

func DefaultLiquidationParams() LiquidationParams {
	return LiquidationParams{
		CloseFactor:              DEFAULT_LIQUIDATION_CLOSE_FACTOR_PERCENT,
		FullLiquidationThreshold: DEFAULT_FULL_LIQUIDATION_THRESHOLD.Clone(),
	}
}

func NewLiquidationEngine(pool common.Address, params LiquidationParams, margin MarginConfig) *LiquidationEngine {
	return &LiquidationEngine{pool: pool, params: params, margin: margin}
}

// Assess applies the health factor gate and the close factor to a debt
// position.
func (e *LiquidationEngine) Assess(report *SolvencyReport, stableDebt, variableDebt, requested *uint256.Int) (*LiquidationAssessment, error) {
	if !report.Liquidatable() {
		return nil, ErrHealthFactorNotBelowThreshold
	}
	totalDebt, err := Add(stableDebt, variableDebt)
	if err != nil {
		return nil, err
	}
	if totalDebt.IsZero() {
		return nil, ErrSpecifiedCurrencyNotBorrowed
	}
	if requested == nil || requested.IsZero() {
		return nil, ErrInvalidAmount
	}

	assessment := &LiquidationAssessment{
		HealthFactor: report.HealthFactor.Clone(),
		StableDebt:   stableDebt,
		VariableDebt: variableDebt,
		TotalDebt:    totalDebt,
	}
	if report.HealthFactor.Lt(e.params.FullLiquidationThreshold) {
		assessment.FullLiquidation = true
		assessment.MaxLiquidatableDebt = totalDebt.Clone()
	} else if assessment.MaxLiquidatableDebt, err = PercentMul(totalDebt, e.params.CloseFactor); err != nil {
		return nil, err
	}
	assessment.DebtToCover = Min(requested, assessment.MaxLiquidatableDebt)
	return assessment, nil
}

// CalculateCollateralSeizure returns the collateral to seize for covering
// DebtToCover plus the bonus, and the debt actually repaid. When the nominal
// seizure exceeds AvailableCollateral the seizure is capped and the repaid
// debt shrinks in proportion.
func CalculateCollateralSeizure(in SeizureInput) (*uint256.Int, *uint256.Int, error) {
	collateralUnit := Pow10(in.CollateralDecimals)
	debtUnit := Pow10(in.DebtDecimals)

	// debtToCover * debtPrice * 10^collDecimals / (collPrice * 10^debtDecimals)
	scaledDebt, err := Mul(in.DebtToCover, collateralUnit)
	if err != nil {
		return nil, nil, err
	}
	collateralPriceScaled, err := Mul(in.CollateralPrice, debtUnit)
	if err != nil {
		return nil, nil, err
	}
	baseCollateral, err := MulDiv(scaledDebt, in.DebtPrice, collateralPriceScaled)
	if err != nil {
		return nil, nil, err
	}
	maxCollateral, err := PercentMul(baseCollateral, in.LiquidationBonus)
	if err != nil {
		return nil, nil, err
	}

	if !maxCollateral.Gt(in.AvailableCollateral) {
		return maxCollateral, in.DebtToCover.Clone(), nil
	}

	collateral := in.AvailableCollateral.Clone()
	scaledCollateral, err := Mul(collateral, debtUnit)
	if err != nil {
		return nil, nil, err
	}
	debtPriceScaled, err := Mul(in.DebtPrice, collateralUnit)
	if err != nil {
		return nil, nil, err
	}
	debtValue, err := MulDiv(scaledCollateral, in.CollateralPrice, debtPriceScaled)
	if err != nil {
		return nil, nil, err
	}
	debt, err := PercentDiv(debtValue, in.LiquidationBonus)
	if err != nil {
		return nil, nil, err
	}
	return collateral, Min(debt, in.DebtToCover), nil
}

// repayDebt burns stable debt first, then variable.
func repayDebt(log Log, reserve *Reserve, strategy InterestRateStrategy, position *Position, stableDebt, amount *uint256.Int, now int64) (*uint256.Int, *uint256.Int, error) {
	stableRepaid := Min(stableDebt, amount)
	variableRepaid := new(uint256.Int).Sub(amount, stableRepaid)

	if !stableRepaid.IsZero() {
		if err := position.BurnStableDebt(reserve, stableRepaid, now); err != nil {
			return nil, nil, err
		}
	}
	if !variableRepaid.IsZero() {
		if err := position.BurnVariableDebt(reserve, variableRepaid); err != nil {
			return nil, nil, err
		}
	}
	if err := reserve.AddLiquidity(amount); err != nil {
		return nil, nil, err
	}
	if err := reserve.UpdateInterestRates(log, strategy, now); err != nil {
		return nil, nil, err
	}
	return stableRepaid, variableRepaid, nil
}

// LiquidateStandard repays part of the borrower's debt on behalf of the
// liquidator and hands over the borrower's supplied collateral plus bonus.
// Both reserves must already be accrued to Now.
func (e *LiquidationEngine) LiquidateStandard(log Log, in *StandardLiquidation) (*LiquidationResult, error) {
	if err := in.DebtReserve.AssertOperational(false); err != nil {
		return nil, err
	}
	if err := in.CollateralReserve.AssertOperational(false); err != nil {
		return nil, err
	}
	if !in.BorrowerCollateral.IsCollateral(in.CollateralReserve) {
		return nil, ErrCollateralCannotBeLiquidated
	}

	stableDebt, variableDebt, err := in.BorrowerDebt.Debts(in.DebtReserve, in.Now)
	if err != nil {
		return nil, err
	}
	assessment, err := e.Assess(in.Report, stableDebt, variableDebt, in.DebtToCover)
	if err != nil {
		return nil, err
	}

	collateralBalance, err := in.BorrowerCollateral.SupplyBalance(in.CollateralReserve, in.Now)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := in.Prices.Get(in.CollateralReserve.Asset)
	if err != nil {
		return nil, err
	}
	debtPrice, err := in.Prices.Get(in.DebtReserve.Asset)
	if err != nil {
		return nil, err
	}
	seized, debtRepaid, err := CalculateCollateralSeizure(SeizureInput{
		CollateralPrice:     collateralPrice,
		DebtPrice:           debtPrice,
		CollateralDecimals:  in.CollateralReserve.Decimals,
		DebtDecimals:        in.DebtReserve.Decimals,
		LiquidationBonus:    in.CollateralReserve.LiquidationBonus,
		DebtToCover:         assessment.DebtToCover,
		AvailableCollateral: collateralBalance,
	})
	if err != nil {
		return nil, err
	}
	if debtRepaid.IsZero() || seized.IsZero() {
		return nil, ErrInvalidAmount
	}
	if in.ReceiveUnderlying && in.CollateralReserve.AvailableLiquidity.Lt(seized) {
		return nil, ErrNotEnoughLiquidity
	}

	stableRepaid, variableRepaid, err := repayDebt(log, in.DebtReserve, in.DebtStrategy, in.BorrowerDebt, stableDebt, debtRepaid, in.Now)
	if err != nil {
		return nil, err
	}

	if in.ReceiveUnderlying {
		if err := in.BorrowerCollateral.BurnSupply(in.CollateralReserve, seized); err != nil {
			return nil, err
		}
		if err := in.CollateralReserve.TakeLiquidity(seized); err != nil {
			return nil, err
		}
		if err := in.CollateralReserve.UpdateInterestRates(log, in.CollateralStrategy, in.Now); err != nil {
			return nil, err
		}
	} else {
		firstSupply := in.LiquidatorCollateral.ScaledSupply.IsZero()
		if err := in.BorrowerCollateral.TransferSupply(in.LiquidatorCollateral, in.CollateralReserve, seized); err != nil {
			return nil, err
		}
		if firstSupply {
			in.LiquidatorCollateral.UsageAsCollateralEnabled = true
		}
	}
	if in.BorrowerCollateral.ScaledSupply.IsZero() {
		in.BorrowerCollateral.UsageAsCollateralEnabled = false
	}

	log.Info().
		Str("borrower", in.Borrower.Hex()).
		Str("liquidator", in.Liquidator.Hex()).
		Str("debtAsset", in.DebtReserve.Symbol).
		Str("collateralAsset", in.CollateralReserve.Symbol).
		Str("debtRepaid", debtRepaid.Dec()).
		Str("collateralSeized", seized.Dec()).
		Bool("fullLiquidation", assessment.FullLiquidation).
		Msg("liquidation executed")

	return &LiquidationResult{
		Flow:               LiquidationFlowStandard,
		Borrower:           in.Borrower,
		Liquidator:         in.Liquidator,
		DebtAsset:          in.DebtReserve.Asset,
		DebtRepaid:         debtRepaid,
		StableDebtRepaid:   stableRepaid,
		VariableDebtRepaid: variableRepaid,
		CollateralAsset:    in.CollateralReserve.Asset,
		CollateralSeized:   seized,
		ReceiveUnderlying:  in.ReceiveUnderlying,
		PreHealthFactor:    assessment.HealthFactor,
		CreatedAt:          in.Now,
	}, nil
}

// LiquidateMarginCollateral repays the borrower's debt against the external
// margin position. The seizure is bounded by MaxCollateralToLiquidate and
// leaves the snapshot untouched; the transfer is expressed as a settlement
// instruction for the counterparty. Only the pool may call it.
func (e *LiquidationEngine) LiquidateMarginCollateral(log Log, in *MarginLiquidation) (*LiquidationResult, error) {
	if in.Caller != e.pool {
		return nil, ErrCallerNotPool
	}
	if in.ReferenceAsset != e.margin.ReferenceAsset {
		return nil, ErrInvalidMarginReferenceAsset
	}
	if in.Account == nil || !in.Account.UsingMarginCollateral() {
		return nil, ErrMarginCollateralNotEnabled
	}
	if err := in.DebtReserve.AssertOperational(false); err != nil {
		return nil, err
	}
	if in.MaxCollateralToLiquidate == nil || in.MaxCollateralToLiquidate.IsZero() {
		return nil, ErrInvalidAmount
	}

	stableDebt, variableDebt, err := in.BorrowerDebt.Debts(in.DebtReserve, in.Now)
	if err != nil {
		return nil, err
	}
	assessment, err := e.Assess(in.Report, stableDebt, variableDebt, in.DebtToCover)
	if err != nil {
		return nil, err
	}

	available := Min(in.Snapshot.EffectiveCollateral(), in.MaxCollateralToLiquidate)
	if available.IsZero() {
		return nil, ErrCollateralCannotBeLiquidated
	}
	referencePrice, err := in.Prices.Get(e.margin.ReferenceAsset)
	if err != nil {
		return nil, err
	}
	debtPrice, err := in.Prices.Get(in.DebtReserve.Asset)
	if err != nil {
		return nil, err
	}
	seized, debtRepaid, err := CalculateCollateralSeizure(SeizureInput{
		CollateralPrice:     referencePrice,
		DebtPrice:           debtPrice,
		CollateralDecimals:  e.margin.ReferenceDecimals,
		DebtDecimals:        in.DebtReserve.Decimals,
		LiquidationBonus:    e.margin.LiquidationBonus,
		DebtToCover:         assessment.DebtToCover,
		AvailableCollateral: available,
	})
	if err != nil {
		return nil, err
	}
	if debtRepaid.IsZero() || seized.IsZero() {
		return nil, ErrInvalidAmount
	}

	stableRepaid, variableRepaid, err := repayDebt(log, in.DebtReserve, in.DebtStrategy, in.BorrowerDebt, stableDebt, debtRepaid, in.Now)
	if err != nil {
		return nil, err
	}

	instruction := NewSettlementInstruction(in.Borrower, e.margin.ReferenceAsset, seized, in.Destination, in.DebtReserve.Asset, debtRepaid, in.Snapshot.Sequence, in.Now)

	log.Info().
		Str("borrower", in.Borrower.Hex()).
		Str("debtAsset", in.DebtReserve.Symbol).
		Str("debtRepaid", debtRepaid.Dec()).
		Str("collateralSeized", seized.Dec()).
		Str("maxCollateral", in.MaxCollateralToLiquidate.Dec()).
		Str("instruction", instruction.Id).
		Msg("margin collateral liquidation executed")

	return &LiquidationResult{
		Flow:               LiquidationFlowMarginCollateral,
		Borrower:           in.Borrower,
		Liquidator:         in.Destination,
		DebtAsset:          in.DebtReserve.Asset,
		DebtRepaid:         debtRepaid,
		StableDebtRepaid:   stableRepaid,
		VariableDebtRepaid: variableRepaid,
		CollateralAsset:    e.margin.ReferenceAsset,
		CollateralSeized:   seized,
		PreHealthFactor:    assessment.HealthFactor,
		Instruction:        instruction,
		CreatedAt:          in.Now,
	}, nil
}
