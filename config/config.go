package config

import (
	"strings"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StrategyKindKinked     = "kinked"
	StrategyKindGovernance = "governance"

	OracleKindStatic = "static"
	OracleKindMarket = "market"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Margin     MarginConfig     `mapstructure:"margin"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Reserves   []ReserveConfig  `mapstructure:"reserves"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type ServerConfig struct {
	Port            string `mapstructure:"port"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DatabaseConfig selects the pool store; an empty DSN keeps state in memory.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig selects the margin feed; an empty address keeps snapshots in
// memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PoolConfig struct {
	Address                    string `mapstructure:"address"`
	Governance                 string `mapstructure:"governance"`
	SettlementCounterparty     string `mapstructure:"settlement_counterparty"`
	ReceiverAccount            string `mapstructure:"receiver_account"`
	CloseFactorBps             uint64 `mapstructure:"close_factor_bps"`
	FullLiquidationThreshold   string `mapstructure:"full_liquidation_threshold"`
	MaxStableRateBorrowSizeBps uint64 `mapstructure:"max_stable_rate_borrow_size_bps"`
}

type MarginConfig struct {
	ReferenceAsset          string `mapstructure:"reference_asset"`
	ReferenceDecimals       uint8  `mapstructure:"reference_decimals"`
	LtvBps                  uint64 `mapstructure:"ltv_bps"`
	LiquidationThresholdBps uint64 `mapstructure:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `mapstructure:"liquidation_bonus_bps"`
	Price                   string `mapstructure:"price"`
	CoinId                  string `mapstructure:"coin_id"`
}

type OracleConfig struct {
	Kind         string `mapstructure:"kind"`
	Endpoint     string `mapstructure:"endpoint"`
	CacheSeconds int    `mapstructure:"cache_seconds"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
}

type FeedConfig struct {
	PushRate  float64 `mapstructure:"push_rate"`
	PushBurst int     `mapstructure:"push_burst"`
}

// AuthConfig binds API keys to the roles allowed to call the API. An empty
// governance or counterparty key disables that role.
type AuthConfig struct {
	GovernanceKey   string             `mapstructure:"governance_key"`
	CounterpartyKey string             `mapstructure:"counterparty_key"`
	FeedKeys        []string           `mapstructure:"feed_keys"`
	Accounts        []AccountKeyConfig `mapstructure:"accounts"`
}

type AccountKeyConfig struct {
	Address string `mapstructure:"address"`
	Key     string `mapstructure:"key"`
}

// StrategyConfig holds decimal-string rate parameters, e.g. "0.08" for 8%.
type StrategyConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	OptimalUtilization string `mapstructure:"optimal_utilization"`
	BaseVariableRate   string `mapstructure:"base_variable_rate"`
	VariableSlope1     string `mapstructure:"variable_slope1"`
	VariableSlope2     string `mapstructure:"variable_slope2"`

	Intercept                  string `mapstructure:"intercept"`
	Slope                      string `mapstructure:"slope"`
	WithdrawalShockProbability string `mapstructure:"withdrawal_shock_probability"`
	ReserveFactor              string `mapstructure:"reserve_factor"`
	StableKink1                string `mapstructure:"stable_kink1"`
	StableKink2                string `mapstructure:"stable_kink2"`

	BaseStableRate string `mapstructure:"base_stable_rate"`
	StableSlope1   string `mapstructure:"stable_slope1"`
	StableSlope2   string `mapstructure:"stable_slope2"`
}

type ReserveConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Asset    string `mapstructure:"asset"`
	Decimals uint8  `mapstructure:"decimals"`

	LtvBps                  uint64 `mapstructure:"ltv_bps"`
	LiquidationThresholdBps uint64 `mapstructure:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `mapstructure:"liquidation_bonus_bps"`
	ReserveFactorBps        uint64 `mapstructure:"reserve_factor_bps"`

	Active                 bool `mapstructure:"active"`
	Frozen                 bool `mapstructure:"frozen"`
	Paused                 bool `mapstructure:"paused"`
	BorrowingEnabled       bool `mapstructure:"borrowing_enabled"`
	StableBorrowingEnabled bool `mapstructure:"stable_borrowing_enabled"`

	Strategy string `mapstructure:"strategy"`
	// quote of one whole unit for the static oracle
	Price string `mapstructure:"price"`
	// market identifier for the market oracle
	CoinId string `mapstructure:"coin_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.key_prefix", "marginpool:")
	v.SetDefault("pool.close_factor_bps", core.DEFAULT_LIQUIDATION_CLOSE_FACTOR_PERCENT)
	v.SetDefault("pool.full_liquidation_threshold", "0.95")
	v.SetDefault("pool.max_stable_rate_borrow_size_bps", core.MAX_STABLE_RATE_BORROW_SIZE_PERCENT)
	v.SetDefault("margin.reference_decimals", 18)
	v.SetDefault("margin.price", "1")
	v.SetDefault("oracle.kind", OracleKindStatic)
	v.SetDefault("oracle.cache_seconds", 30)
	v.SetDefault("oracle.timeout_ms", 5000)
	v.SetDefault("feed.push_rate", 50)
	v.SetDefault("feed.push_burst", 100)
	// registered so MARGINPOOL_AUTH_* variables reach Unmarshal
	v.SetDefault("auth.governance_key", "")
	v.SetDefault("auth.counterparty_key", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	// e.g. MARGINPOOL_DATABASE_DSN
	v.SetEnvPrefix("marginpool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads config.yaml from the working directory or ./configs. A missing
// file is not an error; defaults and environment variables apply.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return unmarshal(v)
}

func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"pool.address":                 c.Pool.Address,
		"pool.governance":              c.Pool.Governance,
		"pool.settlement_counterparty": c.Pool.SettlementCounterparty,
		"pool.receiver_account":        c.Pool.ReceiverAccount,
		"margin.reference_asset":       c.Margin.ReferenceAsset,
	} {
		if !common.IsHexAddress(addr) {
			return errors.Errorf("%s: malformed address %q", name, addr)
		}
	}
	switch c.Oracle.Kind {
	case OracleKindStatic:
	case OracleKindMarket:
		if c.Oracle.Endpoint == "" {
			return errors.New("oracle.endpoint is required for the market oracle")
		}
	default:
		return errors.Errorf("oracle.kind: unknown kind %q", c.Oracle.Kind)
	}

	strategies := make(map[string]bool, len(c.Strategies))
	for _, strategy := range c.Strategies {
		if strategies[strategy.Name] {
			return errors.Errorf("strategy %q declared twice", strategy.Name)
		}
		strategies[strategy.Name] = true
		if _, err := strategy.Build(common.HexToAddress(c.Pool.Governance)); err != nil {
			return errors.Wrapf(err, "strategy %q", strategy.Name)
		}
	}

	assets := make(map[common.Address]bool, len(c.Reserves))
	for _, reserve := range c.Reserves {
		if !common.IsHexAddress(reserve.Asset) {
			return errors.Errorf("reserve %s: malformed asset %q", reserve.Symbol, reserve.Asset)
		}
		asset := common.HexToAddress(reserve.Asset)
		if assets[asset] {
			return errors.Errorf("reserve %s: asset declared twice", reserve.Symbol)
		}
		assets[asset] = true
		if err := core.ValidateDecimals(reserve.Decimals); err != nil {
			return errors.Wrapf(err, "reserve %s", reserve.Symbol)
		}
		if !strategies[reserve.Strategy] {
			return errors.Wrapf(core.ErrStrategyNotFound, "reserve %s: strategy %q", reserve.Symbol, reserve.Strategy)
		}
		rc := reserve.CoreConfig()
		if err := rc.Validate(); err != nil {
			return errors.Wrapf(err, "reserve %s", reserve.Symbol)
		}
		switch c.Oracle.Kind {
		case OracleKindStatic:
			if _, err := reserve.PriceWad(); err != nil {
				return errors.Wrapf(err, "reserve %s", reserve.Symbol)
			}
		case OracleKindMarket:
			if reserve.CoinId == "" {
				return errors.Errorf("reserve %s: coin_id is required for the market oracle", reserve.Symbol)
			}
		}
	}

	if c.Oracle.Kind == OracleKindStatic {
		if _, err := c.Margin.PriceWad(); err != nil {
			return errors.Wrap(err, "margin")
		}
	} else if c.Margin.CoinId == "" {
		return errors.New("margin: coin_id is required for the market oracle")
	}

	if err := c.Auth.Validate(); err != nil {
		return errors.Wrap(err, "auth")
	}

	_, err := c.CorePoolConfig()
	return err
}

func (a *AuthConfig) Validate() error {
	keys := make(map[string]bool)
	unique := func(key string) error {
		if keys[key] {
			return errors.New("key configured twice")
		}
		keys[key] = true
		return nil
	}
	for _, key := range []string{a.GovernanceKey, a.CounterpartyKey} {
		if key == "" {
			continue
		}
		if err := unique(key); err != nil {
			return err
		}
	}
	for i, key := range a.FeedKeys {
		if key == "" {
			return errors.Errorf("feed_keys[%d]: empty key", i)
		}
		if err := unique(key); err != nil {
			return errors.Wrapf(err, "feed_keys[%d]", i)
		}
	}
	for _, account := range a.Accounts {
		if !common.IsHexAddress(account.Address) {
			return errors.Errorf("accounts: malformed address %q", account.Address)
		}
		if account.Key == "" {
			return errors.Errorf("accounts %s: empty key", account.Address)
		}
		if err := unique(account.Key); err != nil {
			return errors.Wrapf(err, "accounts %s", account.Address)
		}
	}
	return nil
}

func (c *Config) CorePoolConfig() (core.PoolConfig, error) {
	threshold, err := parseWad(c.Pool.FullLiquidationThreshold)
	if err != nil {
		return core.PoolConfig{}, errors.Wrap(err, "pool.full_liquidation_threshold")
	}
	config := core.PoolConfig{
		Address:                common.HexToAddress(c.Pool.Address),
		Governance:             common.HexToAddress(c.Pool.Governance),
		SettlementCounterparty: common.HexToAddress(c.Pool.SettlementCounterparty),
		ReceiverAccount:        common.HexToAddress(c.Pool.ReceiverAccount),
		Liquidation: core.LiquidationParams{
			CloseFactor:              c.Pool.CloseFactorBps,
			FullLiquidationThreshold: threshold,
		},
		Margin: core.MarginConfig{
			ReferenceAsset:       common.HexToAddress(c.Margin.ReferenceAsset),
			ReferenceDecimals:    c.Margin.ReferenceDecimals,
			Ltv:                  c.Margin.LtvBps,
			LiquidationThreshold: c.Margin.LiquidationThresholdBps,
			LiquidationBonus:     c.Margin.LiquidationBonusBps,
		},
		MaxStableRateBorrowSizePercent: c.Pool.MaxStableRateBorrowSizeBps,
	}
	if err := config.Validate(); err != nil {
		return core.PoolConfig{}, err
	}
	return config, nil
}

// Build instantiates the strategy. Governance strategies accept parameter
// changes from governance only.
func (s *StrategyConfig) Build(governance common.Address) (core.InterestRateStrategy, error) {
	p := &rayParser{}
	switch s.Kind {
	case StrategyKindKinked:
		params := core.KinkedRateParams{
			OptimalUtilization: p.required(s.OptimalUtilization),
			BaseVariableRate:   p.required(s.BaseVariableRate),
			VariableSlope1:     p.required(s.VariableSlope1),
			VariableSlope2:     p.required(s.VariableSlope2),
			BaseStableRate:     p.required(s.BaseStableRate),
			StableSlope1:       p.required(s.StableSlope1),
			StableSlope2:       p.required(s.StableSlope2),
		}
		if p.err != nil {
			return nil, p.err
		}
		return core.NewKinkedRateStrategy(s.Name, params)
	case StrategyKindGovernance:
		params := core.GovernanceRateParams{
			Governance:                 governance,
			Intercept:                  p.required(s.Intercept),
			Slope:                      p.required(s.Slope),
			WithdrawalShockProbability: p.required(s.WithdrawalShockProbability),
			ReserveFactor:              p.optional(s.ReserveFactor),
			BaseStableRate:             p.required(s.BaseStableRate),
			StableSlope1:               p.required(s.StableSlope1),
			StableSlope2:               p.required(s.StableSlope2),
			StableKink1:                p.withDefault(s.StableKink1, "0.8"),
			StableKink2:                p.withDefault(s.StableKink2, "1"),
		}
		if p.err != nil {
			return nil, p.err
		}
		return core.NewGovernanceRateStrategy(s.Name, params)
	default:
		return nil, errors.Wrapf(core.ErrInvalidStrategyParams, "unknown kind %q", s.Kind)
	}
}

func (r *ReserveConfig) AssetAddress() common.Address {
	return common.HexToAddress(r.Asset)
}

func (r *ReserveConfig) CoreConfig() core.ReserveConfig {
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

func (r *ReserveConfig) PriceWad() (*uint256.Int, error) {
	return priceWad(r.Price)
}

func (m *MarginConfig) PriceWad() (*uint256.Int, error) {
	return priceWad(m.Price)
}

func priceWad(s string) (*uint256.Int, error) {
	price, err := parseWad(s)
	if err != nil {
		return nil, errors.Wrap(err, "price")
	}
	if price.IsZero() {
		return nil, core.ErrInvalidPrice
	}
	return price, nil
}

func parseWad(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return core.WadFromDecimal(d)
}

// rayParser keeps the first parse error so a parameter list reads as one
// expression.
type rayParser struct {
	err error
}

func (p *rayParser) parse(s string) *uint256.Int {
	if p.err != nil {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = errors.Wrapf(core.ErrInvalidStrategyParams, "parse %q", s)
		return nil
	}
	v, err := core.RayFromDecimal(d)
	if err != nil {
		p.err = errors.Wrapf(err, "parse %q", s)
		return nil
	}
	return v
}

func (p *rayParser) required(s string) *uint256.Int {
	if s == "" && p.err == nil {
		p.err = errors.Wrap(core.ErrInvalidStrategyParams, "missing parameter")
	}
	return p.parse(s)
}

func (p *rayParser) optional(s string) *uint256.Int {
	if s == "" {
		return nil
	}
	return p.parse(s)
}

func (p *rayParser) withDefault(s, def string) *uint256.Int {
	if s == "" {
		s = def
	}
	return p.parse(s)
}
