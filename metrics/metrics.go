package metrics

import (
	"github.com/DomeLiquid/marginpool/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginpool_operations_total",
		Help: "Pool operations by type and outcome",
	}, []string{"op", "result"})

	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginpool_liquidations_total",
		Help: "Executed liquidations by flow",
	}, []string{"flow"})

	LiquidationHealthFactor = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marginpool_liquidation_health_factor",
		Help:    "Borrower health factor before liquidation",
		Buckets: []float64{0.5, 0.8, 0.9, 0.95, 0.97, 0.99, 1},
	}, []string{"flow"})

	MarginPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginpool_margin_pushes_total",
		Help: "Margin snapshot pushes by outcome",
	}, []string{"result"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marginpool_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ReserveUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marginpool_reserve_utilization",
		Help: "Share of reserve liquidity lent out",
	}, []string{"symbol"})

	ReserveRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marginpool_reserve_rate",
		Help: "Current annual reserve rates",
	}, []string{"symbol", "kind"})
)

// Result labels an operation outcome by the error taxonomy.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return core.KindOf(err).String()
}

func ObserveOperation(op core.OperationType, err error) {
	OperationsTotal.WithLabelValues(op.String(), Result(err)).Inc()
}

func ObserveLiquidation(result *core.LiquidationResult) {
	flow := result.Flow.String()
	LiquidationsTotal.WithLabelValues(flow).Inc()
	hf, _ := core.FormatWad(result.PreHealthFactor).Float64()
	LiquidationHealthFactor.WithLabelValues(flow).Observe(hf)
}

// ObserveReserves publishes utilization and rates of each reserve as of now.
func ObserveReserves(reserves []*core.Reserve, now int64) {
	for _, reserve := range reserves {
		stable, err := reserve.TotalStableDebtAt(now)
		if err != nil {
			continue
		}
		variable, err := reserve.TotalVariableDebt(now)
		if err != nil {
			continue
		}
		debt, err := core.Add(stable, variable)
		if err != nil {
			continue
		}
		utilization, err := core.Utilization(debt, reserve.AvailableLiquidity)
		if err != nil {
			continue
		}
		u, _ := core.FormatRay(utilization).Float64()
		ReserveUtilization.WithLabelValues(reserve.Symbol).Set(u)

		for kind, rate := range map[string]decimal.Decimal{
			"liquidity":       core.FormatRay(reserve.CurrentLiquidityRate),
			"variable_borrow": core.FormatRay(reserve.CurrentVariableBorrowRate),
			"stable_borrow":   core.FormatRay(reserve.CurrentStableBorrowRate),
		} {
			v, _ := rate.Float64()
			ReserveRate.WithLabelValues(reserve.Symbol, kind).Set(v)
		}
	}
}
