package core

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Ray (1e27) and wad (1e18) fixed-point primitives. Every multiplication
// rounds half up and every overflow is reported instead of wrapping.

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrMathUnderflow
	}
	return z, nil
}

// SubFloor returns max(x-y, 0).
func SubFloor(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return zero()
	}
	return new(uint256.Int).Sub(x, y)
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

// MulDiv computes floor(x*y/d) with a 512 bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

func Min(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) <= 0 {
		return x.Clone()
	}
	return y.Clone()
}

// mulHalfUp computes (x*y + half) / unit.
func mulHalfUp(x, y, half, unit *uint256.Int) (*uint256.Int, error) {
	if x.IsZero() || y.IsZero() {
		return zero(), nil
	}
	product, err := Mul(x, y)
	if err != nil {
		return nil, err
	}
	product, err = Add(product, half)
	if err != nil {
		return nil, err
	}
	return product.Div(product, unit), nil
}

// divHalfUp computes (x*unit + y/2) / y.
func divHalfUp(x, y, unit *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}
	scaled, err := Mul(x, unit)
	if err != nil {
		return nil, err
	}
	scaled, err = Add(scaled, new(uint256.Int).Rsh(y, 1))
	if err != nil {
		return nil, err
	}
	return scaled.Div(scaled, y), nil
}

func RayMul(x, y *uint256.Int) (*uint256.Int, error) {
	return mulHalfUp(x, y, HALF_RAY, RAY)
}

func RayDiv(x, y *uint256.Int) (*uint256.Int, error) {
	return divHalfUp(x, y, RAY)
}

func WadMul(x, y *uint256.Int) (*uint256.Int, error) {
	return mulHalfUp(x, y, HALF_WAD, WAD)
}

func WadDiv(x, y *uint256.Int) (*uint256.Int, error) {
	return divHalfUp(x, y, WAD)
}

func RayToWad(x *uint256.Int) (*uint256.Int, error) {
	z, err := Add(x, HALF_WAD_RAY_RATIO)
	if err != nil {
		return nil, err
	}
	return z.Div(z, WAD_RAY_RATIO), nil
}

func WadToRay(x *uint256.Int) (*uint256.Int, error) {
	return Mul(x, WAD_RAY_RATIO)
}

// PercentMul applies a basis point factor, e.g. 8000 for 80%.
func PercentMul(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	return mulHalfUp(value, uint256.NewInt(bps), HALF_PERCENT, PERCENTAGE_FACTOR)
}

func PercentDiv(value *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps == 0 {
		return nil, ErrDivisionByZero
	}
	return divHalfUp(value, uint256.NewInt(bps), PERCENTAGE_FACTOR)
}

// BpsToRay converts a basis point value into ray precision.
func BpsToRay(bps uint64) *uint256.Int {
	z := uint256.NewInt(bps)
	return z.Mul(z, BPS_RAY_RATIO)
}

// CalculateLinearInterest returns the ray factor accumulated by a linear
// annual rate between two timestamps.
func CalculateLinearInterest(rate *uint256.Int, lastUpdate, now int64) (*uint256.Int, error) {
	if now <= lastUpdate {
		return RAY.Clone(), nil
	}
	elapsed := uint256.NewInt(uint64(now - lastUpdate))
	accrued, err := MulDiv(rate, elapsed, uint256.NewInt(SECONDS_PER_YEAR))
	if err != nil {
		return nil, err
	}
	return Add(accrued, RAY)
}

// CalculateCompoundedInterest approximates (1 + rate/year)^elapsed with the
// first three terms of the binomial expansion.
func CalculateCompoundedInterest(rate *uint256.Int, lastUpdate, now int64) (*uint256.Int, error) {
	if now <= lastUpdate {
		return RAY.Clone(), nil
	}
	exp := uint256.NewInt(uint64(now - lastUpdate))
	expMinusOne := new(uint256.Int).Sub(exp, uint256.NewInt(1))
	expMinusTwo := zero()
	if exp.Uint64() > 2 {
		expMinusTwo.Sub(exp, uint256.NewInt(2))
	}

	ratePerSecond := new(uint256.Int).Div(rate, uint256.NewInt(SECONDS_PER_YEAR))
	basePowerTwo, err := RayMul(ratePerSecond, ratePerSecond)
	if err != nil {
		return nil, err
	}
	basePowerThree, err := RayMul(basePowerTwo, ratePerSecond)
	if err != nil {
		return nil, err
	}

	first, err := Mul(ratePerSecond, exp)
	if err != nil {
		return nil, err
	}
	second, err := product(exp, expMinusOne, basePowerTwo)
	if err != nil {
		return nil, err
	}
	second.Div(second, uint256.NewInt(2))
	third, err := product(exp, expMinusOne, expMinusTwo, basePowerThree)
	if err != nil {
		return nil, err
	}
	third.Div(third, uint256.NewInt(6))

	return sum(RAY, first, second, third)
}

func product(factors ...*uint256.Int) (*uint256.Int, error) {
	z := uint256.NewInt(1)
	for _, f := range factors {
		var err error
		if z, err = Mul(z, f); err != nil {
			return nil, err
		}
	}
	return z, nil
}

func sum(terms ...*uint256.Int) (*uint256.Int, error) {
	z := zero()
	for _, t := range terms {
		var err error
		if z, err = Add(z, t); err != nil {
			return nil, err
		}
	}
	return z, nil
}

func ValidateDecimals(decimals uint8) error {
	if decimals > MAX_DECIMALS {
		return errors.Wrapf(ErrInvalidParameter, "decimals %d above %d", decimals, MAX_DECIMALS)
	}
	return nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// ParseSigned parses a base-10 integer that may carry a leading minus sign
// into its two's complement form.
func ParseSigned(s string) (*uint256.Int, error) {
	negative := len(s) > 0 && s[0] == '-'
	if negative {
		s = s[1:]
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse signed %q", s)
	}
	if negative {
		if z.Cmp(new(uint256.Int).Lsh(uint256.NewInt(1), 255)) > 0 {
			return nil, ErrMathOverflow
		}
		z.Neg(z)
	} else if z.Sign() < 0 {
		return nil, ErrMathOverflow
	}
	return z, nil
}

// FormatSigned renders a two's complement value as a signed base-10 integer.
func FormatSigned(x *uint256.Int) string {
	if x.Sign() < 0 {
		return "-" + new(uint256.Int).Abs(x).Dec()
	}
	return x.Dec()
}

// RayFromDecimal converts a human readable rate such as "0.08" into ray.
func RayFromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	return fromDecimalShift(d, 27)
}

// WadFromDecimal converts a human readable amount such as "1.5" into wad.
func WadFromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	return fromDecimalShift(d, 18)
}

// AmountFromDecimal converts a token amount into native units.
func AmountFromDecimal(d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	return fromDecimalShift(d, int32(decimals))
}

func fromDecimalShift(d decimal.Decimal, shift int32) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, errors.Errorf("negative value %s", d)
	}
	z, overflow := uint256.FromBig(d.Shift(shift).BigInt())
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

func FormatRay(x *uint256.Int) decimal.Decimal {
	return toDecimal(x, 27)
}

func FormatWad(x *uint256.Int) decimal.Decimal {
	return toDecimal(x, 18)
}

func FormatAmount(x *uint256.Int, decimals uint8) decimal.Decimal {
	return toDecimal(x, int32(decimals))
}

func toDecimal(x *uint256.Int, exp int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(x.ToBig()), -exp)
}
