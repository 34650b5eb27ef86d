package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// AccountYield is what an account earns on its supply and pays on its debt
// at the current rates. Values are in the base currency.
type AccountYield struct {
	SupplyValue decimal.Decimal `json:"supplyValue"`
	DebtValue   decimal.Decimal `json:"debtValue"`
	SupplyApy   decimal.Decimal `json:"supplyApy"`
	BorrowApy   decimal.Decimal `json:"borrowApy"`
	NetApy      decimal.Decimal `json:"netApy"`
}

// AprToApy compounds an annual rate hourly.
func AprToApy(apr decimal.Decimal) decimal.Decimal {
	hours := decimal.NewFromInt(HOURS_PER_YEAR)
	return one.Add(apr.Div(hours)).Pow(hours).Sub(one).Round(8)
}

func ComputeAccountYield(reserves map[common.Address]*Reserve, view *AccountView, prices PriceSet, now int64) (*AccountYield, error) {
	supplyValue, debtValue := decimal.Zero, decimal.Zero
	supplyWeighted, debtWeighted := decimal.Zero, decimal.Zero

	valueOf := func(amount, price *uint256.Int, decimals uint8) (decimal.Decimal, error) {
		value, err := AssetValue(amount, price, decimals)
		if err != nil {
			return decimal.Zero, err
		}
		return FormatWad(value), nil
	}

	for asset, position := range view.Positions {
		if position.IsEmpty() {
			continue
		}
		reserve, ok := reserves[asset]
		if !ok {
			return nil, ErrReserveNotFound
		}
		price, err := prices.Get(asset)
		if err != nil {
			return nil, err
		}

		balance, err := position.SupplyBalance(reserve, now)
		if err != nil {
			return nil, err
		}
		value, err := valueOf(balance, price, reserve.Decimals)
		if err != nil {
			return nil, err
		}
		supplyValue = supplyValue.Add(value)
		supplyWeighted = supplyWeighted.Add(value.Mul(FormatRay(reserve.CurrentLiquidityRate)))

		stableDebt, variableDebt, err := position.Debts(reserve, now)
		if err != nil {
			return nil, err
		}
		stableValue, err := valueOf(stableDebt, price, reserve.Decimals)
		if err != nil {
			return nil, err
		}
		variableValue, err := valueOf(variableDebt, price, reserve.Decimals)
		if err != nil {
			return nil, err
		}
		debtValue = debtValue.Add(stableValue).Add(variableValue)
		debtWeighted = debtWeighted.
			Add(stableValue.Mul(FormatRay(position.StableRate))).
			Add(variableValue.Mul(FormatRay(reserve.CurrentVariableBorrowRate)))
	}

	yield := &AccountYield{
		SupplyValue: supplyValue,
		DebtValue:   debtValue,
		SupplyApy:   decimal.Zero,
		BorrowApy:   decimal.Zero,
		NetApy:      decimal.Zero,
	}
	if !supplyValue.IsZero() {
		yield.SupplyApy = AprToApy(supplyWeighted.Div(supplyValue))
	}
	if !debtValue.IsZero() {
		yield.BorrowApy = AprToApy(debtWeighted.Div(debtValue))
	}
	if net := supplyValue.Sub(debtValue); !net.IsZero() {
		yield.NetApy = AprToApy(supplyWeighted.Sub(debtWeighted).Div(net.Abs()))
	}
	return yield, nil
}
