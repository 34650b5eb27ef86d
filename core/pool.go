package core

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

type (
	PoolStore interface {
		ReserveStore
		PositionStore
		AccountStore
		LiquidationStore
		OperationStore
		Transaction(ctx context.Context, fn func(store PoolStore) error) error
	}

	PoolConfig struct {
		// identity the pool uses when calling the liquidation engine
		Address                common.Address `json:"address"`
		Governance             common.Address `json:"governance"`
		SettlementCounterparty common.Address `json:"settlementCounterparty"`
		ReceiverAccount        common.Address `json:"receiverAccount"`

		Liquidation LiquidationParams `json:"liquidation"`
		Margin      MarginConfig      `json:"margin"`

		MaxStableRateBorrowSizePercent uint64 `json:"maxStableRateBorrowSizePercent"`
	}

	Pool struct {
		mu  sync.Mutex
		clk clock.Clock
		log Log

		config     PoolConfig
		oracle     PriceOracle
		feed       MarginFeed
		settlement SettlementCounterparty
		store      PoolStore

		aggregator *AccountAggregator
		liquidator *LiquidationEngine

		strategies   map[string]InterestRateStrategy
		reserves     map[common.Address]*Reserve
		positions    map[common.Address]map[common.Address]*Position
		accounts     map[common.Address]*Account
		liquidations []*LiquidationResult
		operations   []*Operation
	}
)

type PoolOption func(p *Pool)

func WithClock(clk clock.Clock) PoolOption {
	return func(p *Pool) {
		p.clk = clk
	}
}

func WithLogger(log Log) PoolOption {
	return func(p *Pool) {
		p.log = log
	}
}

func WithStore(store PoolStore) PoolOption {
	return func(p *Pool) {
		p.store = store
	}
}

func (c *PoolConfig) Validate() error {
	if err := c.Liquidation.Validate(); err != nil {
		return errors.Wrap(err, "liquidation params")
	}
	if err := c.Margin.Validate(); err != nil {
		return errors.Wrap(err, "margin config")
	}
	if c.MaxStableRateBorrowSizePercent > PERCENTAGE_FACTOR_BPS {
		return ErrInvalidReserveConfig
	}
	return nil
}

func NewPool(config PoolConfig, oracle PriceOracle, feed MarginFeed, settlement SettlementCounterparty, opts ...PoolOption) (*Pool, error) {
	if config.MaxStableRateBorrowSizePercent == 0 {
		config.MaxStableRateBorrowSizePercent = MAX_STABLE_RATE_BORROW_SIZE_PERCENT
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		clk:        clock.New(),
		log:        nopLog(),
		config:     config,
		oracle:     oracle,
		feed:       feed,
		settlement: settlement,
		aggregator: NewAccountAggregator(config.Margin),
		liquidator: NewLiquidationEngine(config.Address, config.Liquidation, config.Margin),
		strategies: make(map[string]InterestRateStrategy),
		reserves:   make(map[common.Address]*Reserve),
		positions:  make(map[common.Address]map[common.Address]*Position),
		accounts:   make(map[common.Address]*Account),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pool) Config() PoolConfig {
	return p.config
}

func (p *Pool) RegisterStrategy(strategy InterestRateStrategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies[strategy.Name()] = strategy
}

func (p *Pool) Strategy(name string) (InterestRateStrategy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	strategy, ok := p.strategies[name]
	if !ok {
		return nil, errors.Wrapf(ErrStrategyNotFound, "strategy %q", name)
	}
	return strategy, nil
}

// Load replaces the in-memory state with the store's.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	reserves, err := p.store.ListReserves(ctx)
	if err != nil {
		return errors.Wrap(err, "list reserves")
	}
	positions, err := p.store.ListPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "list positions")
	}
	accounts, err := p.store.ListAccounts(ctx)
	if err != nil {
		return errors.Wrap(err, "list accounts")
	}

	p.reserves = make(map[common.Address]*Reserve, len(reserves))
	for _, reserve := range reserves {
		p.reserves[reserve.Asset] = reserve
	}
	p.positions = make(map[common.Address]map[common.Address]*Position)
	for _, position := range positions {
		if _, ok := p.positions[position.User]; !ok {
			p.positions[position.User] = make(map[common.Address]*Position)
		}
		p.positions[position.User][position.Asset] = position
	}
	p.accounts = make(map[common.Address]*Account, len(accounts))
	for _, account := range accounts {
		p.accounts[account.User] = account
	}

	p.log.Info().Int("reserves", len(reserves)).Int("positions", len(positions)).Int("accounts", len(accounts)).Msg("pool state loaded")
	return nil
}

// execute runs fn against a fresh working set and commits it only when fn
// succeeds. Calls are linearized.
func (p *Pool) execute(ctx context.Context, op OperationType, user common.Address, fn func(tx *poolTx) error) error {
	return p.executeAs(ctx, op, user, user, fn)
}

// executeAs journals the operation under user, the account it concerns,
// with caller as the address that invoked it.
func (p *Pool) executeAs(ctx context.Context, op OperationType, user, caller common.Address, fn func(tx *poolTx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	if err := fn(tx); err != nil {
		p.log.Warn().Err(err).Str("op", op.String()).Str("user", user.Hex()).Str("caller", caller.Hex()).Msg("operation rejected")
		return err
	}
	tx.operations = append(tx.operations, NewOperation(user, op, OperationDetail{
		Type:    op,
		Caller:  caller,
		Actions: tx.actions,
	}, tx.now))
	if err := tx.commit(ctx); err != nil {
		p.log.Error().Err(err).Str("op", op.String()).Str("user", user.Hex()).Msg("operation commit failed")
		return err
	}
	p.log.Info().Str("op", op.String()).Str("user", user.Hex()).Int64("ts", tx.now).Msg("operation committed")
	return nil
}

func (p *Pool) assertGovernance(caller common.Address) error {
	if caller != p.config.Governance {
		return ErrNotGovernance
	}
	return nil
}

func (p *Pool) InitReserve(ctx context.Context, caller, asset common.Address, symbol string, decimals uint8, config ReserveConfig) error {
	if err := p.assertGovernance(caller); err != nil {
		return err
	}
	if err := ValidateDecimals(decimals); err != nil {
		return errors.Wrapf(err, "asset %s", asset.Hex())
	}
	if err := config.Validate(); err != nil {
		return err
	}
	return p.execute(ctx, OperationTypeInitReserve, caller, func(tx *poolTx) error {
		if _, ok := p.reserves[asset]; ok {
			return errors.Wrapf(ErrReserveAlreadyInitialized, "asset %s", asset.Hex())
		}
		reserve := NewReserve(p.clk, asset, symbol, decimals, config)
		strategy, err := tx.strategy(reserve)
		if err != nil {
			return err
		}
		if err := reserve.UpdateInterestRates(p.log, strategy, tx.now); err != nil {
			return err
		}
		tx.reserves[asset] = reserve
		return nil
	})
}

// ConfigureReserve replaces the risk parameters, flags and rate strategy of a
// reserve. Interest accrued under the old configuration is settled first.
func (p *Pool) ConfigureReserve(ctx context.Context, caller, asset common.Address, config ReserveConfig) error {
	if err := p.assertGovernance(caller); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	return p.execute(ctx, OperationTypeConfigureReserve, caller, func(tx *poolTx) error {
		reserve, _, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		reserve.ReserveConfig = config
		strategy, err := tx.strategy(reserve)
		if err != nil {
			return err
		}
		return reserve.UpdateInterestRates(p.log, strategy, tx.now)
	})
}

func (p *Pool) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return p.execute(ctx, OperationTypeDeposit, user, func(tx *poolTx) error {
		reserve, strategy, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(true); err != nil {
			return err
		}

		position := tx.position(user, asset)
		firstDeposit := position.ScaledSupply.IsZero()
		if err := position.MintSupply(reserve, amount); err != nil {
			return err
		}
		if firstDeposit {
			position.UsageAsCollateralEnabled = true
		}
		if err := reserve.AddLiquidity(amount); err != nil {
			return err
		}
		tx.account(user)
		tx.record(user, ActionTypeSupply, reserve, amount, RateModeNone)
		return reserve.UpdateInterestRates(p.log, strategy, tx.now)
	})
}

// Withdraw returns the amount actually withdrawn; MAX_AMOUNT withdraws the
// whole balance.
func (p *Pool) Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var withdrawn *uint256.Int
	err := p.execute(ctx, OperationTypeWithdraw, user, func(tx *poolTx) error {
		reserve, strategy, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(false); err != nil {
			return err
		}

		position := tx.position(user, asset)
		balance, err := position.SupplyBalance(reserve, tx.now)
		if err != nil {
			return err
		}
		if balance.IsZero() {
			return ErrUnderlyingBalanceZero
		}
		withdrawn = amount.Clone()
		if amount.Eq(MAX_AMOUNT) {
			withdrawn = balance
		}
		if withdrawn.Gt(balance) {
			return ErrNotEnoughAvailableUserBalance
		}
		if err := reserve.TakeLiquidity(withdrawn); err != nil {
			return err
		}
		wasCollateral := position.IsCollateral(reserve)
		if err := position.BurnSupply(reserve, withdrawn); err != nil {
			return err
		}
		if position.ScaledSupply.IsZero() {
			position.UsageAsCollateralEnabled = false
		}
		if err := reserve.UpdateInterestRates(p.log, strategy, tx.now); err != nil {
			return err
		}
		tx.record(user, ActionTypeRedeem, reserve, withdrawn, RateModeNone)

		if wasCollateral {
			report, _, err := tx.userReport(ctx, user)
			if err != nil {
				return err
			}
			if report.Liquidatable() {
				return ErrHealthFactorBelowThreshold
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

func (p *Pool) Borrow(ctx context.Context, user, asset common.Address, amount *uint256.Int, mode RateMode) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return ErrInvalidInterestRateMode
	}
	return p.execute(ctx, OperationTypeBorrow, user, func(tx *poolTx) error {
		reserve, strategy, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(true); err != nil {
			return err
		}
		if !reserve.GetFlag(ReserveFlagsBorrowingEnabled) {
			return ErrBorrowingNotEnabled
		}

		report, prices, err := tx.userReport(ctx, user, asset)
		if err != nil {
			return err
		}
		if report.TotalCollateralValue.IsZero() {
			return ErrCollateralBalanceIsZero
		}
		if report.Liquidatable() {
			return ErrHealthFactorBelowThreshold
		}
		price, err := prices.Get(asset)
		if err != nil {
			return err
		}
		amountValue, err := AssetValue(amount, price, reserve.Decimals)
		if err != nil {
			return err
		}
		if report.AvgLtv == 0 || amountValue.Gt(report.AvailableBorrowsValue) {
			return ErrCollateralCannotCoverBorrow
		}

		position := tx.position(user, asset)
		if mode == RateModeStable {
			if err := p.validateStableBorrow(reserve, position, amount, tx.now); err != nil {
				return err
			}
		}
		if err := reserve.TakeLiquidity(amount); err != nil {
			return err
		}
		if mode == RateModeStable {
			err = position.MintStableDebt(reserve, amount, reserve.CurrentStableBorrowRate, tx.now)
		} else {
			err = position.MintVariableDebt(reserve, amount)
		}
		if err != nil {
			return err
		}
		tx.account(user)
		tx.record(user, ActionTypeBorrow, reserve, amount, mode)
		return reserve.UpdateInterestRates(p.log, strategy, tx.now)
	})
}

func (p *Pool) validateStableBorrow(reserve *Reserve, position *Position, amount *uint256.Int, now int64) error {
	if err := assertStableBorrowable(reserve, position, amount, now); err != nil {
		return err
	}
	maxLoan, err := PercentMul(reserve.AvailableLiquidity, p.config.MaxStableRateBorrowSizePercent)
	if err != nil {
		return err
	}
	if amount.Gt(maxLoan) {
		return ErrAmountExceedsMaxStableLoan
	}
	return nil
}

// assertStableBorrowable rejects stable debt backed by the same reserve's
// supply.
func assertStableBorrowable(reserve *Reserve, position *Position, amount *uint256.Int, now int64) error {
	if !reserve.GetFlag(ReserveFlagsStableBorrowingEnabled) {
		return ErrStableBorrowingNotEnabled
	}
	if !position.IsCollateral(reserve) || reserve.BaseLtv == 0 {
		return nil
	}
	balance, err := position.SupplyBalance(reserve, now)
	if err != nil {
		return err
	}
	if !amount.Gt(balance) {
		return ErrCollateralSameAsBorrowing
	}
	return nil
}

// Repay returns the amount actually repaid; MAX_AMOUNT repays the whole debt
// of the selected mode.
func (p *Pool) Repay(ctx context.Context, user, asset common.Address, amount *uint256.Int, mode RateMode) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if mode != RateModeStable && mode != RateModeVariable {
		return nil, ErrInvalidInterestRateMode
	}
	var repaid *uint256.Int
	err := p.execute(ctx, OperationTypeRepay, user, func(tx *poolTx) error {
		reserve, strategy, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(false); err != nil {
			return err
		}

		position := tx.position(user, asset)
		stableDebt, variableDebt, err := position.Debts(reserve, tx.now)
		if err != nil {
			return err
		}
		debt := variableDebt
		if mode == RateModeStable {
			debt = stableDebt
		}
		if debt.IsZero() {
			return ErrNoDebtOfSelectedType
		}
		repaid = Min(amount, debt)

		if mode == RateModeStable {
			err = position.BurnStableDebt(reserve, repaid, tx.now)
		} else {
			err = position.BurnVariableDebt(reserve, repaid)
		}
		if err != nil {
			return err
		}
		if err := reserve.AddLiquidity(repaid); err != nil {
			return err
		}
		tx.record(user, ActionTypeRepay, reserve, repaid, mode)
		return reserve.UpdateInterestRates(p.log, strategy, tx.now)
	})
	if err != nil {
		return nil, err
	}
	return repaid, nil
}

// SwapBorrowRateMode moves the whole debt of the current mode to the other
// mode.
func (p *Pool) SwapBorrowRateMode(ctx context.Context, user, asset common.Address, current RateMode) error {
	if current != RateModeStable && current != RateModeVariable {
		return ErrInvalidInterestRateMode
	}
	return p.execute(ctx, OperationTypeSwapRateMode, user, func(tx *poolTx) error {
		reserve, strategy, err := tx.accrue(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(true); err != nil {
			return err
		}

		position := tx.position(user, asset)
		stableDebt, variableDebt, err := position.Debts(reserve, tx.now)
		if err != nil {
			return err
		}
		if current == RateModeStable {
			if stableDebt.IsZero() {
				return ErrNoDebtOfSelectedType
			}
			if err := position.BurnStableDebt(reserve, stableDebt, tx.now); err != nil {
				return err
			}
			if err := position.MintVariableDebt(reserve, stableDebt); err != nil {
				return err
			}
			tx.record(user, ActionTypeRepay, reserve, stableDebt, RateModeStable)
			tx.record(user, ActionTypeBorrow, reserve, stableDebt, RateModeVariable)
		} else {
			if variableDebt.IsZero() {
				return ErrNoDebtOfSelectedType
			}
			if err := assertStableBorrowable(reserve, position, variableDebt, tx.now); err != nil {
				return err
			}
			if err := position.BurnVariableDebt(reserve, variableDebt); err != nil {
				return err
			}
			if err := position.MintStableDebt(reserve, variableDebt, reserve.CurrentStableBorrowRate, tx.now); err != nil {
				return err
			}
			tx.record(user, ActionTypeRepay, reserve, variableDebt, RateModeVariable)
			tx.record(user, ActionTypeBorrow, reserve, variableDebt, RateModeStable)
		}
		return reserve.UpdateInterestRates(p.log, strategy, tx.now)
	})
}

func (p *Pool) SetUserUseReserveAsCollateral(ctx context.Context, user, asset common.Address, enabled bool) error {
	return p.execute(ctx, OperationTypeSetReserveCollateral, user, func(tx *poolTx) error {
		reserve, err := tx.reserve(asset)
		if err != nil {
			return err
		}
		if err := reserve.AssertOperational(false); err != nil {
			return err
		}
		position := tx.position(user, asset)
		if position.ScaledSupply.IsZero() {
			return ErrUnderlyingBalanceZero
		}
		position.UsageAsCollateralEnabled = enabled
		if enabled {
			return nil
		}

		report, _, err := tx.userReport(ctx, user)
		if err != nil {
			return err
		}
		if report.Liquidatable() {
			return ErrHealthFactorBelowThreshold
		}
		return nil
	})
}

// SetUsingMarginCollateral toggles whether the external margin position backs
// the user's debt. The toggle is rejected when the resulting health factor is
// below 1.
func (p *Pool) SetUsingMarginCollateral(ctx context.Context, user common.Address, enabled bool) error {
	return p.execute(ctx, OperationTypeSetMarginCollateral, user, func(tx *poolTx) error {
		account := tx.account(user)
		if enabled {
			account.SetFlag(UsingMarginCollateralFlag)
		} else {
			account.UnsetFlag(UsingMarginCollateralFlag)
		}

		report, _, err := tx.userReport(ctx, user)
		if err != nil {
			return err
		}
		if report.Liquidatable() {
			return ErrHealthFactorBelowThreshold
		}
		return nil
	})
}

func (p *Pool) LiquidationCall(ctx context.Context, liquidator, collateralAsset, debtAsset, borrower common.Address, debtToCover *uint256.Int, receiveUnderlying bool) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := p.executeAs(ctx, OperationTypeLiquidationCall, borrower, liquidator, func(tx *poolTx) error {
		debtReserve, debtStrategy, err := tx.accrue(debtAsset)
		if err != nil {
			return err
		}
		collateralReserve, collateralStrategy, err := tx.accrue(collateralAsset)
		if err != nil {
			return err
		}

		report, prices, err := tx.userReport(ctx, borrower, debtAsset, collateralAsset)
		if err != nil {
			return err
		}

		result, err = p.liquidator.LiquidateStandard(p.log, &StandardLiquidation{
			Borrower:             borrower,
			Liquidator:           liquidator,
			DebtReserve:          debtReserve,
			DebtStrategy:         debtStrategy,
			CollateralReserve:    collateralReserve,
			CollateralStrategy:   collateralStrategy,
			BorrowerDebt:         tx.position(borrower, debtAsset),
			BorrowerCollateral:   tx.position(borrower, collateralAsset),
			LiquidatorCollateral: tx.position(liquidator, collateralAsset),
			Report:               report,
			Prices:               prices,
			DebtToCover:          debtToCover,
			ReceiveUnderlying:    receiveUnderlying,
			Now:                  tx.now,
		})
		if err != nil {
			return err
		}

		post, _, err := tx.userReport(ctx, borrower)
		if err != nil {
			return err
		}
		result.Id = uuid.Must(uuid.NewV4()).String()
		result.PostHealthFactor = post.HealthFactor
		tx.liquidations = append(tx.liquidations, result)

		tx.record(liquidator, ActionTypeRepay, debtReserve, result.DebtRepaid, RateModeNone)
		seizure := ActionTypeTransfer
		if receiveUnderlying {
			seizure = ActionTypeSeize
		}
		tx.record(liquidator, seizure, collateralReserve, result.CollateralSeized, RateModeNone)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LiquidateMarginCollateral is the entry point of the settlement
// counterparty. The borrower's debt is repaid against the external margin
// position and a debit instruction towards the receiver account is handed to
// the counterparty as part of the same atomic operation.
func (p *Pool) LiquidateMarginCollateral(ctx context.Context, caller, borrower common.Address, debtToCover *uint256.Int, debtAsset, referenceAsset common.Address, maxCollateralToLiquidate *uint256.Int) (*LiquidationResult, error) {
	if caller != p.config.SettlementCounterparty {
		return nil, ErrNotSettlementCounterparty
	}
	var result *LiquidationResult
	err := p.executeAs(ctx, OperationTypeLiquidateMarginCollateral, borrower, caller, func(tx *poolTx) error {
		debtReserve, debtStrategy, err := tx.accrue(debtAsset)
		if err != nil {
			return err
		}

		view, err := tx.view(ctx, borrower)
		if err != nil {
			return err
		}
		report, prices, err := tx.report(ctx, view, debtAsset)
		if err != nil {
			return err
		}

		result, err = p.liquidator.LiquidateMarginCollateral(p.log, &MarginLiquidation{
			Caller:                   p.config.Address,
			Borrower:                 borrower,
			Account:                  view.Account,
			DebtReserve:              debtReserve,
			DebtStrategy:             debtStrategy,
			BorrowerDebt:             tx.position(borrower, debtAsset),
			Snapshot:                 view.Snapshot,
			Report:                   report,
			Prices:                   prices,
			ReferenceAsset:           referenceAsset,
			DebtToCover:              debtToCover,
			MaxCollateralToLiquidate: maxCollateralToLiquidate,
			Destination:              p.config.ReceiverAccount,
			Now:                      tx.now,
		})
		if err != nil {
			return err
		}

		// the feed reflects the seizure on its next update; project it here
		projected, err := tx.view(ctx, borrower)
		if err != nil {
			return err
		}
		if projected.Snapshot != nil {
			projected.Snapshot = projected.Snapshot.Clone()
			projected.Snapshot.Collateral = SubFloor(projected.Snapshot.Collateral, result.CollateralSeized)
		}
		post, err := p.aggregator.GetAccountData(tx.reserveSet(), projected, prices, tx.now)
		if err != nil {
			return err
		}
		result.Id = result.Instruction.Id
		result.PostHealthFactor = post.HealthFactor
		tx.liquidations = append(tx.liquidations, result)
		tx.instructions = append(tx.instructions, result.Instruction)

		tx.record(caller, ActionTypeRepay, debtReserve, result.DebtRepaid, RateModeNone)
		tx.actions = append(tx.actions, ActionDetail{
			User:   borrower,
			Action: ActionTypeMarginDebit,
			Asset:  referenceAsset,
			Amount: FormatAmount(result.CollateralSeized, p.config.Margin.ReferenceDecimals),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAccountData reports the user's solvency at the current time without
// changing any state.
func (p *Pool) GetAccountData(ctx context.Context, user common.Address) (*SolvencyReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, _, err := p.begin().userReport(ctx, user)
	return report, err
}

func (p *Pool) GetReserve(asset common.Address) (*Reserve, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserve, ok := p.reserves[asset]
	if !ok {
		return nil, errors.Wrapf(ErrReserveNotFound, "asset %s", asset.Hex())
	}
	return reserve.Clone(), nil
}

func (p *Pool) ListReserves() []*Reserve {
	p.mu.Lock()
	defer p.mu.Unlock()

	reserves := make([]*Reserve, 0, len(p.reserves))
	for _, reserve := range p.reserves {
		reserves = append(reserves, reserve.Clone())
	}
	sort.Slice(reserves, func(i, j int) bool {
		return reserves[i].Symbol < reserves[j].Symbol
	})
	return reserves
}

func (p *Pool) GetPosition(user, asset common.Address) *Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	if position, ok := p.positions[user][asset]; ok {
		return position.Clone()
	}
	return NewPosition(user, asset)
}

func (p *Pool) GetAccount(user common.Address) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	if account, ok := p.accounts[user]; ok {
		return account.Clone()
	}
	return NewAccount(p.clk, user)
}

func (p *Pool) ListLiquidations(ctx context.Context, borrower common.Address, limit int) ([]*LiquidationResult, error) {
	if p.store != nil {
		return p.store.ListLiquidations(ctx, borrower, limit)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	results := make([]*LiquidationResult, 0)
	for i := len(p.liquidations) - 1; i >= 0 && (limit <= 0 || len(results) < limit); i-- {
		if borrower == (common.Address{}) || p.liquidations[i].Borrower == borrower {
			results = append(results, p.liquidations[i])
		}
	}
	return results, nil
}

// ListOperations returns journaled operations newest first. A zero user or an
// empty type matches all; createdBefore <= 0 and limit <= 0 disable their
// bound.
func (p *Pool) ListOperations(ctx context.Context, user common.Address, typ OperationType, createdBefore int64, limit int) ([]*Operation, error) {
	if p.store != nil {
		return p.store.ListOperations(ctx, user, typ, createdBefore, limit)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	operations := make([]*Operation, 0)
	for i := len(p.operations) - 1; i >= 0 && (limit <= 0 || len(operations) < limit); i-- {
		if MatchOperation(p.operations[i], user, typ, createdBefore) {
			operations = append(operations, p.operations[i])
		}
	}
	return operations, nil
}

// GetAccountYield reports the user's supply, borrow and net APY at the
// current rates.
func (p *Pool) GetAccountYield(ctx context.Context, user common.Address) (*AccountYield, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := p.begin()
	view, err := tx.view(ctx, user)
	if err != nil {
		return nil, err
	}
	assets := make([]common.Address, 0, len(view.Positions))
	for asset, position := range view.Positions {
		if position.IsEmpty() {
			continue
		}
		assets = append(assets, asset)
	}
	prices, err := LoadPrices(ctx, p.oracle, assets...)
	if err != nil {
		return nil, err
	}
	return ComputeAccountYield(tx.reserveSet(), view, prices, tx.now)
}
