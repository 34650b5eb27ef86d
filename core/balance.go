package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	PositionStore interface {
		ListPositions(ctx context.Context) ([]*Position, error)
		ListPositionsByUser(ctx context.Context, user common.Address) ([]*Position, error)
		UpsertPosition(ctx context.Context, position *Position) error
	}

	// Position is a user's balance in one reserve. Supply and variable debt
	// are stored scaled by the reserve's indices; stable debt is a principal
	// compounding at the position's own rate since StableLastUpdate.
	Position struct {
		User  common.Address `json:"user"`
		Asset common.Address `json:"asset"`

		ScaledSupply       *uint256.Int `json:"scaledSupply"`
		ScaledVariableDebt *uint256.Int `json:"scaledVariableDebt"`
		StablePrincipal    *uint256.Int `json:"stablePrincipal"`
		StableRate         *uint256.Int `json:"stableRate"`
		StableLastUpdate   int64        `json:"stableLastUpdate"`

		UsageAsCollateralEnabled bool `json:"usageAsCollateralEnabled"`

		UpdatedAt int64 `json:"updatedAt"`
	}
)

type RateMode uint8

const (
	RateModeNone RateMode = iota
	RateModeStable
	RateModeVariable
)

func (rm RateMode) String() string {
	switch rm {
	case RateModeStable:
		return "Stable"
	case RateModeVariable:
		return "Variable"
	default:
		return "None"
	}
}

func NewPosition(user, asset common.Address) *Position {
	return &Position{
		User:               user,
		Asset:              asset,
		ScaledSupply:       zero(),
		ScaledVariableDebt: zero(),
		StablePrincipal:    zero(),
		StableRate:         zero(),
	}
}

func (p *Position) Clone() *Position {
	return &Position{
		User:                     p.User,
		Asset:                    p.Asset,
		ScaledSupply:             p.ScaledSupply.Clone(),
		ScaledVariableDebt:       p.ScaledVariableDebt.Clone(),
		StablePrincipal:          p.StablePrincipal.Clone(),
		StableRate:               p.StableRate.Clone(),
		StableLastUpdate:         p.StableLastUpdate,
		UsageAsCollateralEnabled: p.UsageAsCollateralEnabled,
		UpdatedAt:                p.UpdatedAt,
	}
}

func (p *Position) IsEmpty() bool {
	return p.ScaledSupply.IsZero() && p.ScaledVariableDebt.IsZero() && p.StablePrincipal.IsZero()
}

func (p *Position) HasDebt() bool {
	return !p.ScaledVariableDebt.IsZero() || !p.StablePrincipal.IsZero()
}

func (p *Position) IsCollateral(reserve *Reserve) bool {
	return p.UsageAsCollateralEnabled && !p.ScaledSupply.IsZero() && reserve.UsableAsCollateral()
}

func (p *Position) SupplyBalance(reserve *Reserve, now int64) (*uint256.Int, error) {
	index, err := reserve.NormalizedIncome(now)
	if err != nil {
		return nil, err
	}
	return RayMul(p.ScaledSupply, index)
}

func (p *Position) VariableDebt(reserve *Reserve, now int64) (*uint256.Int, error) {
	index, err := reserve.NormalizedDebt(now)
	if err != nil {
		return nil, err
	}
	return RayMul(p.ScaledVariableDebt, index)
}

func (p *Position) StableDebt(now int64) (*uint256.Int, error) {
	if p.StablePrincipal.IsZero() {
		return zero(), nil
	}
	cumulated, err := CalculateCompoundedInterest(p.StableRate, p.StableLastUpdate, now)
	if err != nil {
		return nil, err
	}
	return RayMul(p.StablePrincipal, cumulated)
}

// Debts returns the current stable and variable debt.
func (p *Position) Debts(reserve *Reserve, now int64) (*uint256.Int, *uint256.Int, error) {
	stable, err := p.StableDebt(now)
	if err != nil {
		return nil, nil, err
	}
	variable, err := p.VariableDebt(reserve, now)
	if err != nil {
		return nil, nil, err
	}
	return stable, variable, nil
}

func (p *Position) MintSupply(reserve *Reserve, amount *uint256.Int) error {
	scaled, err := RayDiv(amount, reserve.LiquidityIndex)
	if err != nil {
		return err
	}
	if scaled.IsZero() {
		return ErrInvalidAmount
	}
	if p.ScaledSupply, err = Add(p.ScaledSupply, scaled); err != nil {
		return err
	}
	reserve.TotalScaledSupply, err = Add(reserve.TotalScaledSupply, scaled)
	return err
}

func (p *Position) BurnSupply(reserve *Reserve, amount *uint256.Int) error {
	scaled, err := p.scaledSupplyFor(reserve, amount)
	if err != nil {
		return err
	}
	p.ScaledSupply = new(uint256.Int).Sub(p.ScaledSupply, scaled)
	reserve.TotalScaledSupply = SubFloor(reserve.TotalScaledSupply, scaled)
	return nil
}

// TransferSupply moves a supply claim to another position of the same
// reserve without touching the reserve's liquidity.
func (p *Position) TransferSupply(to *Position, reserve *Reserve, amount *uint256.Int) error {
	scaled, err := p.scaledSupplyFor(reserve, amount)
	if err != nil {
		return err
	}
	p.ScaledSupply = new(uint256.Int).Sub(p.ScaledSupply, scaled)
	to.ScaledSupply, err = Add(to.ScaledSupply, scaled)
	return err
}

// scaledSupplyFor converts an amount no larger than the current balance into
// scaled units, absorbing the rounding of the index round trip.
func (p *Position) scaledSupplyFor(reserve *Reserve, amount *uint256.Int) (*uint256.Int, error) {
	balance, err := RayMul(p.ScaledSupply, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	if balance.Lt(amount) {
		return nil, ErrNotEnoughAvailableUserBalance
	}
	scaled, err := RayDiv(amount, reserve.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	return Min(scaled, p.ScaledSupply), nil
}

func (p *Position) MintVariableDebt(reserve *Reserve, amount *uint256.Int) error {
	scaled, err := RayDiv(amount, reserve.VariableBorrowIndex)
	if err != nil {
		return err
	}
	if scaled.IsZero() {
		return ErrInvalidAmount
	}
	if p.ScaledVariableDebt, err = Add(p.ScaledVariableDebt, scaled); err != nil {
		return err
	}
	reserve.TotalScaledVariableDebt, err = Add(reserve.TotalScaledVariableDebt, scaled)
	return err
}

func (p *Position) BurnVariableDebt(reserve *Reserve, amount *uint256.Int) error {
	scaled, err := RayDiv(amount, reserve.VariableBorrowIndex)
	if err != nil {
		return err
	}
	// rounding may leave the scaled amount one unit above the position
	scaled = Min(scaled, p.ScaledVariableDebt)
	p.ScaledVariableDebt = new(uint256.Int).Sub(p.ScaledVariableDebt, scaled)
	reserve.TotalScaledVariableDebt = SubFloor(reserve.TotalScaledVariableDebt, scaled)
	return nil
}

// MintStableDebt issues stable debt at rate, re-averaging the position's
// rate with its accrued balance.
func (p *Position) MintStableDebt(reserve *Reserve, amount, rate *uint256.Int, now int64) error {
	current, err := p.StableDebt(now)
	if err != nil {
		return err
	}
	newPrincipal, err := Add(current, amount)
	if err != nil {
		return err
	}
	currentRay, err := WadToRay(current)
	if err != nil {
		return err
	}
	amountRay, err := WadToRay(amount)
	if err != nil {
		return err
	}
	weightedCurrent, err := RayMul(p.StableRate, currentRay)
	if err != nil {
		return err
	}
	weightedAmount, err := RayMul(rate, amountRay)
	if err != nil {
		return err
	}
	weighted, err := Add(weightedCurrent, weightedAmount)
	if err != nil {
		return err
	}
	newPrincipalRay, err := WadToRay(newPrincipal)
	if err != nil {
		return err
	}
	newRate, err := RayDiv(weighted, newPrincipalRay)
	if err != nil {
		return err
	}

	if err := reserve.UpdateStableRate(now, amount, rate, true); err != nil {
		return err
	}
	p.StablePrincipal = newPrincipal
	p.StableRate = newRate
	p.StableLastUpdate = now
	return nil
}

func (p *Position) BurnStableDebt(reserve *Reserve, amount *uint256.Int, now int64) error {
	current, err := p.StableDebt(now)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return ErrNotEnoughAvailableUserBalance
	}
	if err := reserve.UpdateStableRate(now, amount, p.StableRate, false); err != nil {
		return err
	}
	p.StablePrincipal = new(uint256.Int).Sub(current, amount)
	if p.StablePrincipal.IsZero() {
		p.StableRate = zero()
	}
	p.StableLastUpdate = now
	return nil
}
