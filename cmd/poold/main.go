package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DomeLiquid/marginpool/api"
	"github.com/DomeLiquid/marginpool/config"
	"github.com/DomeLiquid/marginpool/core"
	"github.com/DomeLiquid/marginpool/feed"
	"github.com/DomeLiquid/marginpool/metrics"
	"github.com/DomeLiquid/marginpool/oracle"
	"github.com/DomeLiquid/marginpool/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const reserveMetricsInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap := zerolog.New(os.Stderr)
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Log)
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, server, err := setup(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start pool")
	}
	go observeReserves(ctx, pool)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Handler(),
	}
	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("marginpool listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "marginpool").Logger()
}

func setup(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*core.Pool, *api.Server, error) {
	poolConfig, err := cfg.CorePoolConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []core.PoolOption{core.WithLogger(logger)}
	if cfg.Database.DSN != "" {
		st, err := store.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open database")
		}
		opts = append(opts, core.WithStore(st))
	} else {
		logger.Warn().Msg("no database configured, pool state is kept in memory")
	}

	var marginFeed core.MarginFeed
	if cfg.Redis.Addr != "" {
		if marginFeed, err = feed.Dial(ctx, feed.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}); err != nil {
			return nil, nil, err
		}
	} else {
		marginFeed = core.NewMemoryMarginFeed()
	}

	priceOracle, static, err := newOracle(cfg, poolConfig.Margin.ReferenceAsset)
	if err != nil {
		return nil, nil, err
	}

	pool, err := core.NewPool(poolConfig, priceOracle, marginFeed, core.NewSettlementLog(), opts...)
	if err != nil {
		return nil, nil, err
	}
	for i := range cfg.Strategies {
		strategy, err := cfg.Strategies[i].Build(poolConfig.Governance)
		if err != nil {
			return nil, nil, err
		}
		pool.RegisterStrategy(strategy)
	}
	if err := pool.Load(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "load pool state")
	}
	for i := range cfg.Reserves {
		rc := &cfg.Reserves[i]
		asset := rc.AssetAddress()
		if _, err := pool.GetReserve(asset); err == nil {
			continue
		}
		if err := pool.InitReserve(ctx, poolConfig.Governance, asset, rc.Symbol, rc.Decimals, rc.CoreConfig()); err != nil {
			return nil, nil, errors.Wrapf(err, "init reserve %s", rc.Symbol)
		}
	}

	keys, err := newKeyring(cfg.Auth, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithPushLimit(cfg.Feed.PushRate, cfg.Feed.PushBurst),
		api.WithKeyring(keys),
	}
	if static != nil {
		serverOpts = append(serverOpts, api.WithStaticPrices(static))
	}
	return pool, api.New(pool, marginFeed, serverOpts...), nil
}

// newKeyring binds the governance and counterparty keys to the pool's
// configured addresses, so those roles can only ever act as those addresses.
func newKeyring(auth config.AuthConfig, poolConfig core.PoolConfig) (*api.Keyring, error) {
	var credentials []api.Credential
	if auth.GovernanceKey != "" {
		credentials = append(credentials, api.Credential{
			Key:       auth.GovernanceKey,
			Principal: api.Principal{Address: poolConfig.Governance, Roles: api.RoleGovernance},
		})
	}
	if auth.CounterpartyKey != "" {
		credentials = append(credentials, api.Credential{
			Key:       auth.CounterpartyKey,
			Principal: api.Principal{Address: poolConfig.SettlementCounterparty, Roles: api.RoleCounterparty},
		})
	}
	for _, key := range auth.FeedKeys {
		credentials = append(credentials, api.Credential{Key: key, Principal: api.Principal{Roles: api.RoleFeed}})
	}
	for _, account := range auth.Accounts {
		credentials = append(credentials, api.Credential{
			Key:       account.Key,
			Principal: api.Principal{Address: common.HexToAddress(account.Address), Roles: api.RoleAccount},
		})
	}
	keys, err := api.NewKeyring(credentials...)
	if err != nil {
		return nil, errors.Wrap(err, "auth keys")
	}
	return keys, nil
}

// newOracle builds the configured price source. The static oracle is also
// returned so the API can expose its setter.
func newOracle(cfg *config.Config, referenceAsset common.Address) (core.PriceOracle, *core.StaticPriceOracle, error) {
	if cfg.Oracle.Kind == config.OracleKindMarket {
		coins := make(map[common.Address]string, len(cfg.Reserves)+1)
		for i := range cfg.Reserves {
			coins[cfg.Reserves[i].AssetAddress()] = cfg.Reserves[i].CoinId
		}
		coins[referenceAsset] = cfg.Margin.CoinId
		return oracle.NewMarketOracle(cfg.Oracle.Endpoint, coins,
			oracle.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Oracle.TimeoutMs) * time.Millisecond}),
			oracle.WithTTL(time.Duration(cfg.Oracle.CacheSeconds)*time.Second),
		), nil, nil
	}

	static := core.NewStaticPriceOracle()
	for i := range cfg.Reserves {
		price, err := cfg.Reserves[i].PriceWad()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "price of %s", cfg.Reserves[i].Symbol)
		}
		static.SetAssetPrice(cfg.Reserves[i].AssetAddress(), price)
	}
	price, err := cfg.Margin.PriceWad()
	if err != nil {
		return nil, nil, errors.Wrap(err, "margin reference price")
	}
	static.SetAssetPrice(referenceAsset, price)
	return static, static, nil
}

func observeReserves(ctx context.Context, pool *core.Pool) {
	clk := clock.New()
	ticker := clk.Ticker(reserveMetricsInterval)
	defer ticker.Stop()
	for {
		metrics.ObserveReserves(pool.ListReserves(), clk.Now().Unix())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
