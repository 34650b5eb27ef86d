package api

import (
	"strings"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// Amounts are integer strings in the asset's native units; "max" selects
	// the whole balance or debt where the operation supports it.
	AmountRequest struct {
		Asset    string `json:"asset" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
		RateMode string `json:"rateMode"`
	}

	SwapRateModeRequest struct {
		Asset    string `json:"asset" binding:"required"`
		RateMode string `json:"rateMode" binding:"required"`
	}

	CollateralRequest struct {
		Asset   string `json:"asset"`
		Enabled bool   `json:"enabled"`
	}

	MarginPushRequest struct {
		Sequence          uint64 `json:"sequence" binding:"required"`
		MaintenanceMargin string `json:"maintenanceMargin"`
		MarkToMarket      string `json:"markToMarket"`
		Collateral        string `json:"collateral" binding:"required"`
		ValueAtRisk       string `json:"valueAtRisk"`
	}

	LiquidationRequest struct {
		Borrower          string `json:"borrower" binding:"required"`
		CollateralAsset   string `json:"collateralAsset" binding:"required"`
		DebtAsset         string `json:"debtAsset" binding:"required"`
		DebtToCover       string `json:"debtToCover" binding:"required"`
		ReceiveUnderlying bool   `json:"receiveUnderlying"`
	}

	MarginLiquidationRequest struct {
		Borrower                 string `json:"borrower" binding:"required"`
		DebtAsset                string `json:"debtAsset" binding:"required"`
		DebtToCover              string `json:"debtToCover" binding:"required"`
		ReferenceAsset           string `json:"referenceAsset" binding:"required"`
		MaxCollateralToLiquidate string `json:"maxCollateralToLiquidate"`
	}

	ReserveRequest struct {
		Asset                   string `json:"asset"`
		Symbol                  string `json:"symbol"`
		Decimals                uint8  `json:"decimals"`
		LtvBps                  uint64 `json:"ltvBps"`
		LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
		LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
		ReserveFactorBps        uint64 `json:"reserveFactorBps"`
		Active                  bool   `json:"active"`
		Frozen                  bool   `json:"frozen"`
		Paused                  bool   `json:"paused"`
		BorrowingEnabled        bool   `json:"borrowingEnabled"`
		StableBorrowingEnabled  bool   `json:"stableBorrowingEnabled"`
		Strategy                string `json:"strategy" binding:"required"`
	}

	// ValueRequest carries a human readable decimal, e.g. "0.03" for 3%.
	ValueRequest struct {
		Value string `json:"value" binding:"required"`
	}

	AmountResponse struct {
		Asset  common.Address  `json:"asset"`
		Amount *uint256.Int    `json:"amount"`
		Value  decimal.Decimal `json:"value"`
	}

	ReserveView struct {
		Asset    common.Address `json:"asset"`
		Symbol   string         `json:"symbol"`
		Decimals uint8          `json:"decimals"`

		LtvBps                  uint64   `json:"ltvBps"`
		LiquidationThresholdBps uint64   `json:"liquidationThresholdBps"`
		LiquidationBonusBps     uint64   `json:"liquidationBonusBps"`
		ReserveFactorBps        uint64   `json:"reserveFactorBps"`
		Flags                   []string `json:"flags"`
		Strategy                string   `json:"strategy"`

		LiquidityRate      decimal.Decimal `json:"liquidityRate"`
		VariableBorrowRate decimal.Decimal `json:"variableBorrowRate"`
		StableBorrowRate   decimal.Decimal `json:"stableBorrowRate"`
		AverageStableRate  decimal.Decimal `json:"averageStableRate"`
		SupplyApy          decimal.Decimal `json:"supplyApy"`
		VariableBorrowApy  decimal.Decimal `json:"variableBorrowApy"`

		LiquidityIndex      decimal.Decimal `json:"liquidityIndex"`
		VariableBorrowIndex decimal.Decimal `json:"variableBorrowIndex"`

		TotalSupply        decimal.Decimal `json:"totalSupply"`
		TotalStableDebt    decimal.Decimal `json:"totalStableDebt"`
		TotalVariableDebt  decimal.Decimal `json:"totalVariableDebt"`
		AvailableLiquidity decimal.Decimal `json:"availableLiquidity"`

		LastUpdateTimestamp int64 `json:"lastUpdateTimestamp"`
	}

	PositionView struct {
		Asset        common.Address  `json:"asset"`
		Symbol       string          `json:"symbol"`
		Supply       decimal.Decimal `json:"supply"`
		StableDebt   decimal.Decimal `json:"stableDebt"`
		VariableDebt decimal.Decimal `json:"variableDebt"`
		StableRate   decimal.Decimal `json:"stableRate"`
		Collateral   bool            `json:"collateral"`
	}

	AccountResponse struct {
		Address common.Address `json:"address"`

		TotalCollateralValue    decimal.Decimal `json:"totalCollateralValue"`
		TotalDebtValue          decimal.Decimal `json:"totalDebtValue"`
		AvailableBorrowsValue   decimal.Decimal `json:"availableBorrowsValue"`
		MarginCollateralValue   decimal.Decimal `json:"marginCollateralValue"`
		AvgLtvBps               uint64          `json:"avgLtvBps"`
		AvgLiquidationThreshold uint64          `json:"avgLiquidationThresholdBps"`
		// empty when the account has no debt
		HealthFactor          string `json:"healthFactor"`
		Liquidatable          bool   `json:"liquidatable"`
		UsingMarginCollateral bool   `json:"usingMarginCollateral"`

		Positions []*PositionView    `json:"positions"`
		Yield     *core.AccountYield `json:"yield,omitempty"`
	}
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest(errors.Errorf("invalid address %q", s))
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a native unit integer. "max" maps to MAX_AMOUNT when
// allowMax is set.
func parseAmount(s string, allowMax bool) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "max") {
		if !allowMax {
			return nil, badRequest(errors.New("max is not accepted here"))
		}
		return core.MAX_AMOUNT.Clone(), nil
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, badRequest(errors.Wrapf(err, "invalid amount %q", s))
	}
	return amount, nil
}

func parseOptionalAmount(s string) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(s, false)
}

func parseRateMode(s string) (core.RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stable":
		return core.RateModeStable, nil
	case "variable", "":
		return core.RateModeVariable, nil
	default:
		return core.RateModeNone, badRequest(errors.Errorf("invalid rate mode %q", s))
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, badRequest(errors.Wrapf(err, "invalid decimal %q", s))
	}
	return d, nil
}

var reserveFlags = []core.ReserveFlags{
	core.ReserveFlagsActive,
	core.ReserveFlagsFrozen,
	core.ReserveFlagsPaused,
	core.ReserveFlagsBorrowingEnabled,
	core.ReserveFlagsStableBorrowingEnabled,
}

func (r *ReserveRequest) coreConfig() core.ReserveConfig {
	config := core.ReserveConfig{
		BaseLtv:              r.LtvBps,
		LiquidationThreshold: r.LiquidationThresholdBps,
		LiquidationBonus:     r.LiquidationBonusBps,
		ReserveFactor:        r.ReserveFactorBps,
		RateStrategy:         r.Strategy,
	}
	config.UpdateFlag(r.Active, core.ReserveFlagsActive)
	config.UpdateFlag(r.Frozen, core.ReserveFlagsFrozen)
	config.UpdateFlag(r.Paused, core.ReserveFlagsPaused)
	config.UpdateFlag(r.BorrowingEnabled, core.ReserveFlagsBorrowingEnabled)
	config.UpdateFlag(r.StableBorrowingEnabled, core.ReserveFlagsStableBorrowingEnabled)
	return config
}

func newReserveView(reserve *core.Reserve, now int64) (*ReserveView, error) {
	supply, err := reserve.TotalSupply(now)
	if err != nil {
		return nil, err
	}
	stable, err := reserve.TotalStableDebtAt(now)
	if err != nil {
		return nil, err
	}
	variable, err := reserve.TotalVariableDebt(now)
	if err != nil {
		return nil, err
	}

	flags := make([]string, 0, len(reserveFlags))
	for _, flag := range reserveFlags {
		if reserve.GetFlag(flag) {
			flags = append(flags, flag.String())
		}
	}

	liquidityRate := core.FormatRay(reserve.CurrentLiquidityRate)
	variableRate := core.FormatRay(reserve.CurrentVariableBorrowRate)
	return &ReserveView{
		Asset:                   reserve.Asset,
		Symbol:                  reserve.Symbol,
		Decimals:                reserve.Decimals,
		LtvBps:                  reserve.BaseLtv,
		LiquidationThresholdBps: reserve.LiquidationThreshold,
		LiquidationBonusBps:     reserve.LiquidationBonus,
		ReserveFactorBps:        reserve.ReserveFactor,
		Flags:                   flags,
		Strategy:                reserve.RateStrategy,
		LiquidityRate:           liquidityRate,
		VariableBorrowRate:      variableRate,
		StableBorrowRate:        core.FormatRay(reserve.CurrentStableBorrowRate),
		AverageStableRate:       core.FormatRay(reserve.AverageStableRate),
		SupplyApy:               core.AprToApy(liquidityRate),
		VariableBorrowApy:       core.AprToApy(variableRate),
		LiquidityIndex:          core.FormatRay(reserve.LiquidityIndex),
		VariableBorrowIndex:     core.FormatRay(reserve.VariableBorrowIndex),
		TotalSupply:             core.FormatAmount(supply, reserve.Decimals),
		TotalStableDebt:         core.FormatAmount(stable, reserve.Decimals),
		TotalVariableDebt:       core.FormatAmount(variable, reserve.Decimals),
		AvailableLiquidity:      core.FormatAmount(reserve.AvailableLiquidity, reserve.Decimals),
		LastUpdateTimestamp:     reserve.LastUpdateTimestamp,
	}, nil
}

func newPositionView(reserve *core.Reserve, position *core.Position, now int64) (*PositionView, error) {
	supply, err := position.SupplyBalance(reserve, now)
	if err != nil {
		return nil, err
	}
	stable, variable, err := position.Debts(reserve, now)
	if err != nil {
		return nil, err
	}
	return &PositionView{
		Asset:        reserve.Asset,
		Symbol:       reserve.Symbol,
		Supply:       core.FormatAmount(supply, reserve.Decimals),
		StableDebt:   core.FormatAmount(stable, reserve.Decimals),
		VariableDebt: core.FormatAmount(variable, reserve.Decimals),
		StableRate:   core.FormatRay(position.StableRate),
		Collateral:   position.IsCollateral(reserve),
	}, nil
}

func newAccountResponse(address common.Address, report *core.SolvencyReport, usingMargin bool) *AccountResponse {
	resp := &AccountResponse{
		Address:                 address,
		TotalCollateralValue:    core.FormatWad(report.TotalCollateralValue),
		TotalDebtValue:          core.FormatWad(report.TotalDebtValue),
		AvailableBorrowsValue:   core.FormatWad(report.AvailableBorrowsValue),
		MarginCollateralValue:   core.FormatWad(report.MarginCollateralValue),
		AvgLtvBps:               report.AvgLtv,
		AvgLiquidationThreshold: report.AvgLiquidationThreshold,
		Liquidatable:            report.Liquidatable(),
		UsingMarginCollateral:   usingMargin,
		Positions:               make([]*PositionView, 0),
	}
	if report.HasDebt() {
		resp.HealthFactor = core.FormatWad(report.HealthFactor).String()
	}
	return resp
}
