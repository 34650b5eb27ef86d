package core

import (
	"github.com/pkg/errors"
)

var (
	ErrNotGovernance             = errors.New("caller is not the governance address")
	ErrCallerNotPool             = errors.New("caller is not the pool")
	ErrNotSettlementCounterparty = errors.New("caller is not the settlement counterparty")
)

var (
	ErrReserveNotFound             = errors.New("reserve not found")
	ErrAccountNotFound             = errors.New("account not found")
	ErrReserveAlreadyInitialized   = errors.New("reserve already initialized")
	ErrReserveInactive             = errors.New("reserve inactive")
	ErrReserveFrozen               = errors.New("reserve frozen")
	ErrReservePaused               = errors.New("reserve paused")
	ErrInvalidReserveConfig        = errors.New("invalid reserve config")
	ErrInvalidParameter            = errors.New("invalid parameter")
	ErrStrategyNotFound            = errors.New("interest rate strategy not found")
	ErrInvalidStrategyParams       = errors.New("invalid interest rate strategy params")
	ErrBorrowingNotEnabled         = errors.New("borrowing not enabled")
	ErrStableBorrowingNotEnabled   = errors.New("stable borrowing not enabled")
	ErrInvalidInterestRateMode     = errors.New("invalid interest rate mode")
	ErrInvalidAmount               = errors.New("amount must be greater than 0")
	ErrNoDebtOfSelectedType        = errors.New("no debt of selected type")
	ErrUnderlyingBalanceZero       = errors.New("underlying balance is zero")
	ErrCollateralBalanceIsZero     = errors.New("collateral balance is zero")
	ErrCollateralCannotCoverBorrow = errors.New("collateral cannot cover new borrow")
	ErrCollateralSameAsBorrowing   = errors.New("collateral is the same as the stable borrowing currency")
	ErrHealthFactorBelowThreshold  = errors.New("health factor lower than liquidation threshold")

	ErrHealthFactorNotBelowThreshold = errors.New("health factor not below threshold")
	ErrSpecifiedCurrencyNotBorrowed  = errors.New("specified currency not borrowed by user")
	ErrCollateralCannotBeLiquidated  = errors.New("collateral cannot be liquidated")
	ErrMarginCollateralNotEnabled    = errors.New("margin collateral not enabled for account")
	ErrInvalidMarginReferenceAsset   = errors.New("invalid margin reference asset")
)

var (
	ErrNotEnoughAvailableUserBalance = errors.New("not enough available user balance")
	ErrNotEnoughLiquidity            = errors.New("not enough liquidity in reserve")
	ErrAmountExceedsMaxStableLoan    = errors.New("amount exceeds max stable loan size")
	ErrMathOverflow                  = errors.New("math overflow")
	ErrMathUnderflow                 = errors.New("math underflow")
	ErrDivisionByZero                = errors.New("division by zero")
)

var (
	ErrPriceNotFound          = errors.New("asset price not found")
	ErrInvalidPrice           = errors.New("asset price is zero")
	ErrMarginSnapshotNotFound = errors.New("margin snapshot not found")
	ErrStaleMarginSnapshot    = errors.New("margin snapshot sequence is not increasing")
)

type ErrorKind uint8

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindAuthorization
	ErrorKindPrecondition
	ErrorKindArithmetic
	ErrorKindMarketData
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindAuthorization:
		return "authorization"
	case ErrorKindPrecondition:
		return "precondition"
	case ErrorKindArithmetic:
		return "arithmetic"
	case ErrorKindMarketData:
		return "market_data"
	default:
		return "unknown"
	}
}

var errorKinds = map[error]ErrorKind{
	ErrNotGovernance:             ErrorKindAuthorization,
	ErrCallerNotPool:             ErrorKindAuthorization,
	ErrNotSettlementCounterparty: ErrorKindAuthorization,

	ErrReserveNotFound:               ErrorKindPrecondition,
	ErrAccountNotFound:               ErrorKindPrecondition,
	ErrReserveAlreadyInitialized:     ErrorKindPrecondition,
	ErrReserveInactive:               ErrorKindPrecondition,
	ErrReserveFrozen:                 ErrorKindPrecondition,
	ErrReservePaused:                 ErrorKindPrecondition,
	ErrInvalidReserveConfig:          ErrorKindPrecondition,
	ErrInvalidParameter:              ErrorKindPrecondition,
	ErrStrategyNotFound:              ErrorKindPrecondition,
	ErrInvalidStrategyParams:         ErrorKindPrecondition,
	ErrBorrowingNotEnabled:           ErrorKindPrecondition,
	ErrStableBorrowingNotEnabled:     ErrorKindPrecondition,
	ErrInvalidInterestRateMode:       ErrorKindPrecondition,
	ErrInvalidAmount:                 ErrorKindPrecondition,
	ErrNoDebtOfSelectedType:          ErrorKindPrecondition,
	ErrUnderlyingBalanceZero:         ErrorKindPrecondition,
	ErrCollateralBalanceIsZero:       ErrorKindPrecondition,
	ErrCollateralCannotCoverBorrow:   ErrorKindPrecondition,
	ErrCollateralSameAsBorrowing:     ErrorKindPrecondition,
	ErrHealthFactorBelowThreshold:    ErrorKindPrecondition,
	ErrHealthFactorNotBelowThreshold: ErrorKindPrecondition,
	ErrSpecifiedCurrencyNotBorrowed:  ErrorKindPrecondition,
	ErrCollateralCannotBeLiquidated:  ErrorKindPrecondition,
	ErrMarginCollateralNotEnabled:    ErrorKindPrecondition,
	ErrInvalidMarginReferenceAsset:   ErrorKindPrecondition,

	ErrNotEnoughAvailableUserBalance: ErrorKindArithmetic,
	ErrNotEnoughLiquidity:            ErrorKindArithmetic,
	ErrAmountExceedsMaxStableLoan:    ErrorKindArithmetic,
	ErrMathOverflow:                  ErrorKindArithmetic,
	ErrMathUnderflow:                 ErrorKindArithmetic,
	ErrDivisionByZero:                ErrorKindArithmetic,

	ErrPriceNotFound:          ErrorKindMarketData,
	ErrInvalidPrice:           ErrorKindMarketData,
	ErrMarginSnapshotNotFound: ErrorKindMarketData,
	ErrStaleMarginSnapshot:    ErrorKindMarketData,
}

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	if kind, ok := errorKinds[errors.Cause(err)]; ok {
		return kind
	}
	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ErrorKindUnknown
}
