package core

import (
	"github.com/holiman/uint256"
)

const (
	SECONDS_PER_YEAR = 365 * 24 * 3600
	HOURS_PER_YEAR   = 365 * 24

	PERCENTAGE_FACTOR_BPS = 10_000

	// largest token precision a reserve may declare; amount times 10^decimals
	// times ray must stay inside 256 bits
	MAX_DECIMALS = 36

	// maximum share of a reserve's available liquidity one stable borrow may take
	MAX_STABLE_RATE_BORROW_SIZE_PERCENT = 2500

	DEFAULT_LIQUIDATION_CLOSE_FACTOR_PERCENT = 5000

	MAX_RETAINED_LIQUIDATIONS = 1000
	MAX_RETAINED_OPERATIONS   = 5000
)

var (
	WAD      = uint256.NewInt(1_000_000_000_000_000_000)
	HALF_WAD = uint256.NewInt(500_000_000_000_000_000)

	RAY      = uint256.MustFromDecimal("1000000000000000000000000000")
	HALF_RAY = uint256.MustFromDecimal("500000000000000000000000000")

	WAD_RAY_RATIO      = uint256.NewInt(1_000_000_000)
	HALF_WAD_RAY_RATIO = uint256.NewInt(500_000_000)

	// one basis point in ray (1e23)
	BPS_RAY_RATIO = uint256.MustFromDecimal("100000000000000000000000")

	PERCENTAGE_FACTOR = uint256.NewInt(PERCENTAGE_FACTOR_BPS)
	HALF_PERCENT      = uint256.NewInt(PERCENTAGE_FACTOR_BPS / 2)

	// health factor below which a position is liquidatable (1.0 wad)
	HEALTH_FACTOR_LIQUIDATION_THRESHOLD = uint256.NewInt(1_000_000_000_000_000_000)

	// health factor below which the close factor no longer applies (0.95 wad)
	DEFAULT_FULL_LIQUIDATION_THRESHOLD = uint256.NewInt(950_000_000_000_000_000)

	// health factor reported for an account without debt
	MAX_HEALTH_FACTOR = new(uint256.Int).SetAllOne()

	// repay or withdraw everything
	MAX_AMOUNT = new(uint256.Int).SetAllOne()
)

func zero() *uint256.Int {
	return new(uint256.Int)
}
