package api

import (
	"net/http"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/DomeLiquid/marginpool/metrics"
	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Server struct {
	pool    *core.Pool
	feed    core.MarginFeed
	prices  *core.StaticPriceOracle
	clk     clock.Clock
	log     core.Log
	limiter *rate.Limiter
	keys    *Keyring
}

type Option func(s *Server)

// WithStaticPrices exposes the dev price setter backed by oracle.
func WithStaticPrices(oracle *core.StaticPriceOracle) Option {
	return func(s *Server) {
		s.prices = oracle
	}
}

// WithKeyring sets the API keys allowed to act on the pool. Without one
// every authenticated route answers 401.
func WithKeyring(keys *Keyring) Option {
	return func(s *Server) {
		s.keys = keys
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Server) {
		s.clk = clk
	}
}

func WithLogger(log core.Log) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithPushLimit throttles margin snapshot pushes across all accounts.
func WithPushLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func New(pool *core.Pool, feed core.MarginFeed, opts ...Option) *Server {
	s := &Server{
		pool:    pool,
		feed:    feed,
		clk:     clock.New(),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = nopLog()
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(latencyMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "marginpool"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/reserves", s.listReserves)
		v1.GET("/reserves/:asset", s.getReserve)
		v1.GET("/accounts/:address", s.getAccount)
		v1.GET("/liquidations", s.listLiquidations)
		v1.GET("/operations", s.listOperations)
	}

	authed := v1.Group("", s.authMiddleware())

	feed := authed.Group("", requireRole(RoleFeed))
	{
		feed.POST("/margin/:address", s.rateLimit(), s.pushMargin)
	}

	account := authed.Group("", requireRole(RoleAccount))
	{
		account.POST("/pool/deposit", s.deposit)
		account.POST("/pool/withdraw", s.withdraw)
		account.POST("/pool/borrow", s.borrow)
		account.POST("/pool/repay", s.repay)
		account.POST("/pool/swap-rate-mode", s.swapRateMode)
		account.POST("/pool/collateral", s.setReserveCollateral)
		account.POST("/pool/margin-collateral", s.setMarginCollateral)
		account.POST("/liquidations", s.liquidationCall)
	}

	counterparty := authed.Group("", requireRole(RoleCounterparty))
	{
		counterparty.POST("/liquidations/margin", s.liquidateMarginCollateral)
	}

	governance := authed.Group("", requireRole(RoleGovernance))
	{
		governance.POST("/reserves", s.initReserve)
		governance.PUT("/reserves/:asset", s.configureReserve)
		governance.PUT("/strategies/:name/:param", s.setStrategyParam)
		if s.prices != nil {
			governance.PUT("/prices/:asset", s.setPrice)
		}
	}
	return r
}

func latencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.LatencyBucket.WithLabelValues(c.FullPath()).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			metrics.MarginPushesTotal.WithLabelValues("throttled").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			return
		}
		c.Next()
	}
}

func nopLog() core.Log {
	l := zerolog.Nop()
	return &l
}
