package api

import (
	"net/http"
	"strconv"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/DomeLiquid/marginpool/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) now() int64 {
	return s.clk.Now().Unix()
}

func (s *Server) listReserves(c *gin.Context) {
	now := s.now()
	reserves := s.pool.ListReserves()
	metrics.ObserveReserves(reserves, now)

	views := make([]*ReserveView, 0, len(reserves))
	for _, reserve := range reserves {
		view, err := newReserveView(reserve, now)
		if err != nil {
			s.fail(c, err)
			return
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) getReserve(c *gin.Context) {
	asset, err := parseAddress(c.Param("asset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	reserve, err := s.pool.GetReserve(asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := newReserveView(reserve, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) getAccount(c *gin.Context) {
	user, err := parseAddress(c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	report, err := s.pool.GetAccountData(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}
	yield, err := s.pool.GetAccountYield(ctx, user)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := newAccountResponse(user, report, s.pool.GetAccount(user).UsingMarginCollateral())
	resp.Yield = yield
	now := s.now()
	for _, reserve := range s.pool.ListReserves() {
		position := s.pool.GetPosition(user, reserve.Asset)
		if position.IsEmpty() {
			continue
		}
		view, err := newPositionView(reserve, position, now)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp.Positions = append(resp.Positions, view)
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) pushMargin(c *gin.Context) {
	account, err := parseAddress(c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req MarginPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}

	snapshot := &core.MarginSnapshot{
		Account:   account,
		Sequence:  req.Sequence,
		UpdatedAt: s.now(),
	}
	if snapshot.Collateral, err = parseAmount(req.Collateral, false); err != nil {
		s.fail(c, err)
		return
	}
	if snapshot.MaintenanceMargin, err = parseOptionalAmount(req.MaintenanceMargin); err != nil {
		s.fail(c, err)
		return
	}
	if snapshot.ValueAtRisk, err = parseOptionalAmount(req.ValueAtRisk); err != nil {
		s.fail(c, err)
		return
	}
	snapshot.MarkToMarket = new(uint256.Int)
	if req.MarkToMarket != "" {
		if snapshot.MarkToMarket, err = core.ParseSigned(req.MarkToMarket); err != nil {
			s.fail(c, badRequest(err))
			return
		}
	}

	if err := s.feed.Push(c.Request.Context(), snapshot); err != nil {
		if errors.Is(err, core.ErrStaleMarginSnapshot) {
			metrics.MarginPushesTotal.WithLabelValues("stale").Inc()
		} else {
			metrics.MarginPushesTotal.WithLabelValues("error").Inc()
		}
		s.fail(c, err)
		return
	}
	metrics.MarginPushesTotal.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusAccepted, gin.H{"account": account, "sequence": snapshot.Sequence})
}

func (s *Server) deposit(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.pool.Deposit(c.Request.Context(), callerOf(c), asset, amount)
	metrics.ObserveOperation(core.OperationTypeDeposit, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.amountResponse(asset, amount)})
}

func (s *Server) withdraw(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		s.fail(c, err)
		return
	}
	withdrawn, err := s.pool.Withdraw(c.Request.Context(), callerOf(c), asset, amount)
	metrics.ObserveOperation(core.OperationTypeWithdraw, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.amountResponse(asset, withdrawn)})
}

func (s *Server) borrow(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.pool.Borrow(c.Request.Context(), callerOf(c), asset, amount, mode)
	metrics.ObserveOperation(core.OperationTypeBorrow, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.amountResponse(asset, amount)})
}

func (s *Server) repay(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, true)
	if err != nil {
		s.fail(c, err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		s.fail(c, err)
		return
	}
	repaid, err := s.pool.Repay(c.Request.Context(), callerOf(c), asset, amount, mode)
	metrics.ObserveOperation(core.OperationTypeRepay, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.amountResponse(asset, repaid)})
}

func (s *Server) swapRateMode(c *gin.Context) {
	var req SwapRateModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	mode, err := parseRateMode(req.RateMode)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.pool.SwapBorrowRateMode(c.Request.Context(), callerOf(c), asset, mode)
	metrics.ObserveOperation(core.OperationTypeSwapRateMode, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) setReserveCollateral(c *gin.Context) {
	var req CollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	err = s.pool.SetUserUseReserveAsCollateral(c.Request.Context(), callerOf(c), asset, req.Enabled)
	metrics.ObserveOperation(core.OperationTypeSetReserveCollateral, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) setMarginCollateral(c *gin.Context) {
	var req CollateralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	err := s.pool.SetUsingMarginCollateral(c.Request.Context(), callerOf(c), req.Enabled)
	metrics.ObserveOperation(core.OperationTypeSetMarginCollateral, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) liquidationCall(c *gin.Context) {
	var req LiquidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		s.fail(c, err)
		return
	}
	collateralAsset, err := parseAddress(req.CollateralAsset)
	if err != nil {
		s.fail(c, err)
		return
	}
	debtAsset, err := parseAddress(req.DebtAsset)
	if err != nil {
		s.fail(c, err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover, true)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.pool.LiquidationCall(c.Request.Context(), callerOf(c), collateralAsset, debtAsset, borrower, debtToCover, req.ReceiveUnderlying)
	metrics.ObserveOperation(core.OperationTypeLiquidationCall, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	metrics.ObserveLiquidation(result)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) liquidateMarginCollateral(c *gin.Context) {
	var req MarginLiquidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		s.fail(c, err)
		return
	}
	debtAsset, err := parseAddress(req.DebtAsset)
	if err != nil {
		s.fail(c, err)
		return
	}
	referenceAsset, err := parseAddress(req.ReferenceAsset)
	if err != nil {
		s.fail(c, err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover, true)
	if err != nil {
		s.fail(c, err)
		return
	}
	maxCollateral, err := parseOptionalAmount(req.MaxCollateralToLiquidate)
	if err != nil {
		s.fail(c, err)
		return
	}

	result, err := s.pool.LiquidateMarginCollateral(c.Request.Context(), callerOf(c), borrower, debtToCover, debtAsset, referenceAsset, maxCollateral)
	metrics.ObserveOperation(core.OperationTypeLiquidateMarginCollateral, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	metrics.ObserveLiquidation(result)
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) listLiquidations(c *gin.Context) {
	var borrower common.Address
	if raw := c.Query("borrower"); raw != "" {
		var err error
		if borrower, err = parseAddress(raw); err != nil {
			s.fail(c, err)
			return
		}
	}
	limit, err := queryLimit(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	results, err := s.pool.ListLiquidations(c.Request.Context(), borrower, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) listOperations(c *gin.Context) {
	var user common.Address
	if raw := c.Query("user"); raw != "" {
		var err error
		if user, err = parseAddress(raw); err != nil {
			s.fail(c, err)
			return
		}
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		var err error
		if before, err = strconv.ParseInt(raw, 10, 64); err != nil {
			s.fail(c, badRequest(err))
			return
		}
	}
	limit, err := queryLimit(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	operations, err := s.pool.ListOperations(c.Request.Context(), user, core.OperationType(c.Query("type")), before, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": operations})
}

func (s *Server) initReserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	if req.Symbol == "" {
		s.fail(c, badRequest(errors.New("symbol is required")))
		return
	}
	err = s.pool.InitReserve(c.Request.Context(), callerOf(c), asset, req.Symbol, req.Decimals, req.coreConfig())
	metrics.ObserveOperation(core.OperationTypeInitReserve, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondReserve(c, http.StatusCreated, asset)
}

func (s *Server) configureReserve(c *gin.Context) {
	asset, err := parseAddress(c.Param("asset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	err = s.pool.ConfigureReserve(c.Request.Context(), callerOf(c), asset, req.coreConfig())
	metrics.ObserveOperation(core.OperationTypeConfigureReserve, err)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondReserve(c, http.StatusOK, asset)
}

func (s *Server) respondReserve(c *gin.Context, status int, asset common.Address) {
	reserve, err := s.pool.GetReserve(asset)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := newReserveView(reserve, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(status, gin.H{"data": view})
}

// setStrategyParam adjusts one governance knob. The new value prices the
// next operation touching a reserve on this strategy.
func (s *Server) setStrategyParam(c *gin.Context) {
	strategy, err := s.pool.Strategy(c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	governance, ok := strategy.(*core.GovernanceRateStrategy)
	if !ok {
		s.fail(c, badRequest(errors.Wrapf(ErrNotGovernanceModel, "strategy %q", strategy.Name())))
		return
	}
	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	d, err := parseDecimal(req.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	value, err := core.RayFromDecimal(d)
	if err != nil {
		s.fail(c, badRequest(err))
		return
	}

	caller := callerOf(c)
	switch c.Param("param") {
	case "intercept":
		err = governance.SetIntercept(caller, value)
	case "slope":
		err = governance.SetSlope(caller, value)
	case "shock-probability":
		err = governance.SetWithdrawalShockProbability(caller, value)
	default:
		err = badRequest(errors.Errorf("unknown parameter %q", c.Param("param")))
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info().Str("strategy", governance.Name()).Str("param", c.Param("param")).Str("value", d.String()).Msg("strategy parameter updated")
	c.JSON(http.StatusOK, gin.H{"data": governance.Params()})
}

func (s *Server) setPrice(c *gin.Context) {
	if s.prices == nil {
		s.fail(c, badRequest(ErrUnsupportedOracle))
		return
	}
	if callerOf(c) != s.pool.Config().Governance {
		s.fail(c, core.ErrNotGovernance)
		return
	}
	asset, err := parseAddress(c.Param("asset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	d, err := parseDecimal(req.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !d.IsPositive() {
		s.fail(c, badRequest(errors.Errorf("price must be positive, got %s", d)))
		return
	}
	price, err := core.WadFromDecimal(d)
	if err != nil {
		s.fail(c, badRequest(err))
		return
	}
	s.prices.SetAssetPrice(asset, price)
	c.JSON(http.StatusOK, gin.H{"asset": asset, "price": core.FormatWad(price)})
}

func (s *Server) amountResponse(asset common.Address, amount *uint256.Int) *AmountResponse {
	resp := &AmountResponse{Asset: asset, Amount: amount}
	if reserve, err := s.pool.GetReserve(asset); err == nil {
		resp.Value = core.FormatAmount(amount, reserve.Decimals)
	}
	return resp
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, badRequest(errors.Errorf("invalid limit %q", raw))
	}
	return min(limit, maxListLimit), nil
}
