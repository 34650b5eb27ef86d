package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type positionKey struct {
	user  common.Address
	asset common.Address
}

// poolTx is the working set of one pool operation. Records are cloned on
// first touch and only replace the committed state once every check and
// every side effect succeeded.
type poolTx struct {
	pool *Pool
	now  int64

	reserves     map[common.Address]*Reserve
	positions    map[positionKey]*Position
	accounts     map[common.Address]*Account
	liquidations []*LiquidationResult
	instructions []*SettlementInstruction
	actions      []ActionDetail
	operations   []*Operation
}

func (p *Pool) begin() *poolTx {
	return &poolTx{
		pool:      p,
		now:       p.clk.Now().Unix(),
		reserves:  make(map[common.Address]*Reserve),
		positions: make(map[positionKey]*Position),
		accounts:  make(map[common.Address]*Account),
	}
}

func (tx *poolTx) reserve(asset common.Address) (*Reserve, error) {
	if reserve, ok := tx.reserves[asset]; ok {
		return reserve, nil
	}
	committed, ok := tx.pool.reserves[asset]
	if !ok {
		return nil, errors.Wrapf(ErrReserveNotFound, "asset %s", asset.Hex())
	}
	reserve := committed.Clone()
	tx.reserves[asset] = reserve
	return reserve, nil
}

func (tx *poolTx) strategy(reserve *Reserve) (InterestRateStrategy, error) {
	strategy, ok := tx.pool.strategies[reserve.RateStrategy]
	if !ok {
		return nil, errors.Wrapf(ErrStrategyNotFound, "strategy %q of %s", reserve.RateStrategy, reserve.Symbol)
	}
	return strategy, nil
}

// accrue loads the reserve into the working set and brings its indices and
// rates up to the transaction timestamp.
func (tx *poolTx) accrue(asset common.Address) (*Reserve, InterestRateStrategy, error) {
	reserve, err := tx.reserve(asset)
	if err != nil {
		return nil, nil, err
	}
	strategy, err := tx.strategy(reserve)
	if err != nil {
		return nil, nil, err
	}
	if err := reserve.Accrue(tx.pool.log, strategy, tx.now); err != nil {
		return nil, nil, errors.Wrapf(err, "accrue %s", reserve.Symbol)
	}
	return reserve, strategy, nil
}

func (tx *poolTx) position(user, asset common.Address) *Position {
	key := positionKey{user: user, asset: asset}
	if position, ok := tx.positions[key]; ok {
		return position
	}
	var position *Position
	if committed, ok := tx.pool.positions[user][asset]; ok {
		position = committed.Clone()
	} else {
		position = NewPosition(user, asset)
	}
	position.UpdatedAt = tx.now
	tx.positions[key] = position
	return position
}

func (tx *poolTx) account(user common.Address) *Account {
	if account, ok := tx.accounts[user]; ok {
		return account
	}
	var account *Account
	if committed, ok := tx.pool.accounts[user]; ok {
		account = committed.Clone()
	} else {
		account = NewAccount(tx.pool.clk, user)
	}
	account.UpdatedAt = tx.now
	tx.accounts[user] = account
	return account
}

// reserveSet merges the working set over the committed reserves. The result
// is read only.
func (tx *poolTx) reserveSet() map[common.Address]*Reserve {
	reserves := make(map[common.Address]*Reserve, len(tx.pool.reserves))
	for asset, reserve := range tx.pool.reserves {
		reserves[asset] = reserve
	}
	for asset, reserve := range tx.reserves {
		reserves[asset] = reserve
	}
	return reserves
}

// view assembles what the aggregator reads about user, including the latest
// margin snapshot when the account uses margin collateral.
func (tx *poolTx) view(ctx context.Context, user common.Address) (*AccountView, error) {
	account, ok := tx.accounts[user]
	if !ok {
		if account, ok = tx.pool.accounts[user]; !ok {
			account = NewAccount(tx.pool.clk, user)
		}
	}

	positions := make(map[common.Address]*Position)
	for asset, position := range tx.pool.positions[user] {
		positions[asset] = position
	}
	for key, position := range tx.positions {
		if key.user == user {
			positions[key.asset] = position
		}
	}

	view := &AccountView{Account: account, Positions: positions}
	if account.UsingMarginCollateral() {
		snapshot, err := tx.pool.feed.Latest(ctx, user)
		switch {
		case errors.Is(err, ErrMarginSnapshotNotFound):
		case err != nil:
			return nil, errors.Wrapf(err, "margin snapshot of %s", user.Hex())
		default:
			view.Snapshot = snapshot
		}
	}
	return view, nil
}

// report computes the solvency report of view, loading quotes for its assets
// and for any extra asset the caller needs priced.
func (tx *poolTx) report(ctx context.Context, view *AccountView, extra ...common.Address) (*SolvencyReport, PriceSet, error) {
	assets := append(tx.pool.aggregator.PricedAssets(view), extra...)
	prices, err := LoadPrices(ctx, tx.pool.oracle, assets...)
	if err != nil {
		return nil, nil, err
	}
	report, err := tx.pool.aggregator.GetAccountData(tx.reserveSet(), view, prices, tx.now)
	if err != nil {
		return nil, nil, err
	}
	return report, prices, nil
}

func (tx *poolTx) userReport(ctx context.Context, user common.Address, extra ...common.Address) (*SolvencyReport, PriceSet, error) {
	view, err := tx.view(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return tx.report(ctx, view, extra...)
}

func (tx *poolTx) persist(ctx context.Context, store PoolStore) error {
	for _, reserve := range tx.reserves {
		if err := store.UpsertReserve(ctx, reserve); err != nil {
			return errors.Wrapf(err, "upsert reserve %s", reserve.Symbol)
		}
	}
	for _, position := range tx.positions {
		if err := store.UpsertPosition(ctx, position); err != nil {
			return errors.Wrapf(err, "upsert position %s/%s", position.User.Hex(), position.Asset.Hex())
		}
	}
	for _, account := range tx.accounts {
		if err := store.UpsertAccount(ctx, account); err != nil {
			return errors.Wrapf(err, "upsert account %s", account.User.Hex())
		}
	}
	for _, result := range tx.liquidations {
		if err := store.CreateLiquidation(ctx, result); err != nil {
			return errors.Wrapf(err, "create liquidation %s", result.Id)
		}
	}
	for _, operation := range tx.operations {
		if err := store.CreateOperation(ctx, operation); err != nil {
			return errors.Wrapf(err, "create operation %s", operation.Type)
		}
	}
	return nil
}

func (tx *poolTx) settle(ctx context.Context) error {
	for _, instruction := range tx.instructions {
		if err := tx.pool.settlement.SubmitDebit(ctx, instruction); err != nil {
			return errors.Wrapf(err, "submit settlement instruction %s", instruction.Id)
		}
	}
	return nil
}

// commit persists the working set, hands pending instructions to the
// settlement counterparty inside the same store transaction and finally
// swaps the records into the pool.
func (tx *poolTx) commit(ctx context.Context) error {
	p := tx.pool
	if p.store != nil {
		err := p.store.Transaction(ctx, func(store PoolStore) error {
			if err := tx.persist(ctx, store); err != nil {
				return err
			}
			return tx.settle(ctx)
		})
		if err != nil {
			return err
		}
	} else if err := tx.settle(ctx); err != nil {
		return err
	}

	for asset, reserve := range tx.reserves {
		p.reserves[asset] = reserve
	}
	for key, position := range tx.positions {
		if _, ok := p.positions[key.user]; !ok {
			p.positions[key.user] = make(map[common.Address]*Position)
		}
		p.positions[key.user][key.asset] = position
	}
	for user, account := range tx.accounts {
		p.accounts[user] = account
	}
	p.liquidations = append(p.liquidations, tx.liquidations...)
	if overflow := len(p.liquidations) - MAX_RETAINED_LIQUIDATIONS; overflow > 0 {
		p.liquidations = append([]*LiquidationResult(nil), p.liquidations[overflow:]...)
	}
	p.operations = append(p.operations, tx.operations...)
	if overflow := len(p.operations) - MAX_RETAINED_OPERATIONS; overflow > 0 {
		p.operations = append([]*Operation(nil), p.operations[overflow:]...)
	}
	return nil
}
