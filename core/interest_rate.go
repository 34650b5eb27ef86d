package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	InterestRateStrategy interface {
		Name() string
		CalculateInterestRates(params RateParams) (*Rates, error)
	}

	RateParams struct {
		AvailableLiquidity *uint256.Int
		TotalStableDebt    *uint256.Int
		TotalVariableDebt  *uint256.Int
		AverageStableRate  *uint256.Int
		ReserveFactor      uint64
	}

	// Rates are annualized and expressed in ray.
	Rates struct {
		Utilization        *uint256.Int `json:"utilization"`
		LiquidityRate      *uint256.Int `json:"liquidityRate"`
		StableBorrowRate   *uint256.Int `json:"stableBorrowRate"`
		VariableBorrowRate *uint256.Int `json:"variableBorrowRate"`
	}

	KinkedRateParams struct {
		OptimalUtilization *uint256.Int `json:"optimalUtilization"`
		BaseVariableRate   *uint256.Int `json:"baseVariableRate"`
		VariableSlope1     *uint256.Int `json:"variableSlope1"`
		VariableSlope2     *uint256.Int `json:"variableSlope2"`
		BaseStableRate     *uint256.Int `json:"baseStableRate"`
		StableSlope1       *uint256.Int `json:"stableSlope1"`
		StableSlope2       *uint256.Int `json:"stableSlope2"`
	}

	KinkedRateStrategy struct {
		name   string
		params KinkedRateParams
	}

	GovernanceRateParams struct {
		Governance common.Address `json:"governance"`

		Intercept                  *uint256.Int `json:"intercept"`
		Slope                      *uint256.Int `json:"slope"`
		WithdrawalShockProbability *uint256.Int `json:"withdrawalShockProbability"`
		// nil falls back to the reserve factor of the reserve being priced
		ReserveFactor *uint256.Int `json:"reserveFactor,omitempty"`

		BaseStableRate *uint256.Int `json:"baseStableRate"`
		StableSlope1   *uint256.Int `json:"stableSlope1"`
		StableSlope2   *uint256.Int `json:"stableSlope2"`
		StableKink1    *uint256.Int `json:"stableKink1"`
		StableKink2    *uint256.Int `json:"stableKink2"`
	}

	GovernanceRateStrategy struct {
		mu     sync.RWMutex
		name   string
		params GovernanceRateParams
	}
)

// Utilization is totalDebt / (totalDebt + availableLiquidity) in ray, 0 when
// the reserve holds neither.
func Utilization(totalDebt, availableLiquidity *uint256.Int) (*uint256.Int, error) {
	if totalDebt.IsZero() {
		return zero(), nil
	}
	total, err := Add(totalDebt, availableLiquidity)
	if err != nil {
		return nil, err
	}
	return RayDiv(totalDebt, total)
}

// OverallBorrowRate is the debt-weighted average of the variable rate and the
// average stable rate.
func OverallBorrowRate(totalStableDebt, totalVariableDebt, variableRate, averageStableRate *uint256.Int) (*uint256.Int, error) {
	totalDebt, err := Add(totalStableDebt, totalVariableDebt)
	if err != nil {
		return nil, err
	}
	if totalDebt.IsZero() {
		return zero(), nil
	}
	variableDebtRay, err := WadToRay(totalVariableDebt)
	if err != nil {
		return nil, err
	}
	stableDebtRay, err := WadToRay(totalStableDebt)
	if err != nil {
		return nil, err
	}
	weightedVariable, err := RayMul(variableDebtRay, variableRate)
	if err != nil {
		return nil, err
	}
	weightedStable, err := RayMul(stableDebtRay, averageStableRate)
	if err != nil {
		return nil, err
	}
	weighted, err := Add(weightedVariable, weightedStable)
	if err != nil {
		return nil, err
	}
	totalDebtRay, err := WadToRay(totalDebt)
	if err != nil {
		return nil, err
	}
	return RayDiv(weighted, totalDebtRay)
}

func (p RateParams) utilization() (*uint256.Int, error) {
	totalDebt, err := Add(p.TotalStableDebt, p.TotalVariableDebt)
	if err != nil {
		return nil, err
	}
	return Utilization(totalDebt, p.AvailableLiquidity)
}

func (p *KinkedRateParams) Validate() error {
	if p.OptimalUtilization == nil || p.OptimalUtilization.IsZero() || p.OptimalUtilization.Gt(RAY) {
		return ErrInvalidStrategyParams
	}
	for _, v := range []*uint256.Int{p.BaseVariableRate, p.VariableSlope1, p.VariableSlope2, p.BaseStableRate, p.StableSlope1, p.StableSlope2} {
		if v == nil {
			return ErrInvalidStrategyParams
		}
	}
	return nil
}

func NewKinkedRateStrategy(name string, params KinkedRateParams) (*KinkedRateStrategy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &KinkedRateStrategy{name: name, params: params}, nil
}

func (s *KinkedRateStrategy) Name() string {
	return s.name
}

func (s *KinkedRateStrategy) Params() KinkedRateParams {
	return s.params
}

func (s *KinkedRateStrategy) CalculateInterestRates(params RateParams) (*Rates, error) {
	p := s.params
	utilization, err := params.utilization()
	if err != nil {
		return nil, err
	}

	var variableRate, stableRate *uint256.Int
	if utilization.Gt(p.OptimalUtilization) {
		// (U - U*) / (1 - U*)
		excessRatio, err := RayDiv(new(uint256.Int).Sub(utilization, p.OptimalUtilization), new(uint256.Int).Sub(RAY, p.OptimalUtilization))
		if err != nil {
			return nil, err
		}
		variableExcess, err := RayMul(p.VariableSlope2, excessRatio)
		if err != nil {
			return nil, err
		}
		if variableRate, err = sum(p.BaseVariableRate, p.VariableSlope1, variableExcess); err != nil {
			return nil, err
		}
		// the stable rate jumps by the full second slope past the kink; it is
		// not scaled by the excess ratio
		if stableRate, err = sum(p.BaseStableRate, p.StableSlope1, p.StableSlope2); err != nil {
			return nil, err
		}
	} else {
		// U / U* * slope
		variableSlope, err := scaleByUtilization(p.VariableSlope1, utilization, p.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		if variableRate, err = Add(p.BaseVariableRate, variableSlope); err != nil {
			return nil, err
		}
		stableSlope, err := scaleByUtilization(p.StableSlope1, utilization, p.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		if stableRate, err = Add(p.BaseStableRate, stableSlope); err != nil {
			return nil, err
		}
	}

	overallRate, err := OverallBorrowRate(params.TotalStableDebt, params.TotalVariableDebt, variableRate, params.AverageStableRate)
	if err != nil {
		return nil, err
	}
	liquidityRate, err := RayMul(overallRate, utilization)
	if err != nil {
		return nil, err
	}
	if params.ReserveFactor > PERCENTAGE_FACTOR_BPS {
		return nil, ErrInvalidReserveConfig
	}
	if liquidityRate, err = PercentMul(liquidityRate, PERCENTAGE_FACTOR_BPS-params.ReserveFactor); err != nil {
		return nil, err
	}

	return &Rates{
		Utilization:        utilization,
		LiquidityRate:      liquidityRate,
		StableBorrowRate:   stableRate,
		VariableBorrowRate: variableRate,
	}, nil
}

func scaleByUtilization(slope, utilization, optimal *uint256.Int) (*uint256.Int, error) {
	scaled, err := RayMul(utilization, slope)
	if err != nil {
		return nil, err
	}
	return RayDiv(scaled, optimal)
}

func (p *GovernanceRateParams) Validate() error {
	for _, v := range []*uint256.Int{p.Intercept, p.Slope, p.WithdrawalShockProbability, p.BaseStableRate, p.StableSlope1, p.StableSlope2, p.StableKink1, p.StableKink2} {
		if v == nil {
			return ErrInvalidStrategyParams
		}
	}
	if p.ReserveFactor != nil && !p.ReserveFactor.Lt(RAY) {
		return ErrInvalidStrategyParams
	}
	if p.StableKink1.Gt(p.StableKink2) {
		return ErrInvalidStrategyParams
	}
	return nil
}

func (p GovernanceRateParams) clone() GovernanceRateParams {
	c := p
	for _, f := range []**uint256.Int{&c.Intercept, &c.Slope, &c.WithdrawalShockProbability, &c.ReserveFactor, &c.BaseStableRate, &c.StableSlope1, &c.StableSlope2, &c.StableKink1, &c.StableKink2} {
		if *f != nil {
			*f = (*f).Clone()
		}
	}
	return c
}

func NewGovernanceRateStrategy(name string, params GovernanceRateParams) (*GovernanceRateStrategy, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &GovernanceRateStrategy{name: name, params: params.clone()}, nil
}

func (s *GovernanceRateStrategy) Name() string {
	return s.name
}

func (s *GovernanceRateStrategy) Params() GovernanceRateParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.clone()
}

func (s *GovernanceRateStrategy) SetIntercept(caller common.Address, intercept *uint256.Int) error {
	return s.set(caller, &s.params.Intercept, intercept)
}

func (s *GovernanceRateStrategy) SetSlope(caller common.Address, slope *uint256.Int) error {
	return s.set(caller, &s.params.Slope, slope)
}

func (s *GovernanceRateStrategy) SetWithdrawalShockProbability(caller common.Address, probability *uint256.Int) error {
	return s.set(caller, &s.params.WithdrawalShockProbability, probability)
}

func (s *GovernanceRateStrategy) set(caller common.Address, field **uint256.Int, value *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.params.Governance {
		return ErrNotGovernance
	}
	if value == nil {
		return ErrInvalidStrategyParams
	}
	*field = value.Clone()
	return nil
}

func (s *GovernanceRateStrategy) CalculateInterestRates(params RateParams) (*Rates, error) {
	p := s.Params()
	utilization, err := params.utilization()
	if err != nil {
		return nil, err
	}

	eta := p.ReserveFactor
	if eta == nil {
		if params.ReserveFactor >= PERCENTAGE_FACTOR_BPS {
			return nil, ErrInvalidStrategyParams
		}
		eta = BpsToRay(params.ReserveFactor)
	}
	if p.WithdrawalShockProbability.Gt(RAY) {
		return nil, ErrInvalidStrategyParams
	}
	oneMinusEta := new(uint256.Int).Sub(RAY, eta)
	oneMinusQ := new(uint256.Int).Sub(RAY, p.WithdrawalShockProbability)

	// a + m * (1 + eta*q/(1-eta)) * U
	etaQ, err := RayMul(eta, p.WithdrawalShockProbability)
	if err != nil {
		return nil, err
	}
	shockPremium, err := RayDiv(etaQ, oneMinusEta)
	if err != nil {
		return nil, err
	}
	effectiveSlope, err := RayMul(p.Slope, new(uint256.Int).Add(RAY, shockPremium))
	if err != nil {
		return nil, err
	}
	variableSlope, err := RayMul(effectiveSlope, utilization)
	if err != nil {
		return nil, err
	}
	variableRate, err := Add(p.Intercept, variableSlope)
	if err != nil {
		return nil, err
	}

	// U * [(1-q)(a + m*U) + q(1-eta)(a + m/(1-eta))]
	slopeU, err := RayMul(p.Slope, utilization)
	if err != nil {
		return nil, err
	}
	noShockRate, err := Add(p.Intercept, slopeU)
	if err != nil {
		return nil, err
	}
	noShockTerm, err := RayMul(oneMinusQ, noShockRate)
	if err != nil {
		return nil, err
	}
	slopeOverEta, err := RayDiv(p.Slope, oneMinusEta)
	if err != nil {
		return nil, err
	}
	shockRate, err := Add(p.Intercept, slopeOverEta)
	if err != nil {
		return nil, err
	}
	shockWeight, err := RayMul(p.WithdrawalShockProbability, oneMinusEta)
	if err != nil {
		return nil, err
	}
	shockTerm, err := RayMul(shockWeight, shockRate)
	if err != nil {
		return nil, err
	}
	expected, err := Add(noShockTerm, shockTerm)
	if err != nil {
		return nil, err
	}
	liquidityRate, err := RayMul(utilization, expected)
	if err != nil {
		return nil, err
	}

	stableRate := p.BaseStableRate.Clone()
	if !utilization.Lt(p.StableKink1) {
		if stableRate, err = Add(stableRate, p.StableSlope1); err != nil {
			return nil, err
		}
	}
	if !utilization.Lt(p.StableKink2) {
		if stableRate, err = Add(stableRate, p.StableSlope2); err != nil {
			return nil, err
		}
	}

	return &Rates{
		Utilization:        utilization,
		LiquidityRate:      liquidityRate,
		StableBorrowRate:   stableRate,
		VariableBorrowRate: variableRate,
	}, nil
}
