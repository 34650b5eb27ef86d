package store

import (
	"context"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists pool state with gorm. It implements core.PoolStore.
type Store struct {
	db *gorm.DB
}

var _ core.PoolStore = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return New(db), nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Transaction(ctx context.Context, fn func(store core.PoolStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) upsert(ctx context.Context, value any) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

func (s *Store) ListReserves(ctx context.Context) ([]*core.Reserve, error) {
	var rows []*Reserve
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	reserves := make([]*core.Reserve, 0, len(rows))
	for _, row := range rows {
		reserves = append(reserves, row.toCore())
	}
	return reserves, nil
}

func (s *Store) GetReserve(ctx context.Context, asset common.Address) (*core.Reserve, error) {
	var row Reserve
	if err := s.db.WithContext(ctx).First(&row, "asset = ?", asset.Hex()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrReserveNotFound, "asset %s", asset.Hex())
		}
		return nil, err
	}
	return row.toCore(), nil
}

func (s *Store) UpsertReserve(ctx context.Context, reserve *core.Reserve) error {
	return s.upsert(ctx, newReserve(reserve))
}

func (s *Store) ListPositions(ctx context.Context) ([]*core.Position, error) {
	return s.findPositions(s.db.WithContext(ctx))
}

func (s *Store) ListPositionsByUser(ctx context.Context, user common.Address) ([]*core.Position, error) {
	return s.findPositions(s.db.WithContext(ctx).Where("account = ?", user.Hex()))
}

func (s *Store) findPositions(db *gorm.DB) ([]*core.Position, error) {
	var rows []*Position
	if err := db.Order("account, asset").Find(&rows).Error; err != nil {
		return nil, err
	}
	positions := make([]*core.Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, row.toCore())
	}
	return positions, nil
}

func (s *Store) UpsertPosition(ctx context.Context, position *core.Position) error {
	return s.upsert(ctx, newPosition(position))
}

func (s *Store) ListAccounts(ctx context.Context) ([]*core.Account, error) {
	var rows []*Account
	if err := s.db.WithContext(ctx).Order("account").Find(&rows).Error; err != nil {
		return nil, err
	}
	accounts := make([]*core.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.toCore())
	}
	return accounts, nil
}

func (s *Store) GetAccount(ctx context.Context, user common.Address) (*core.Account, error) {
	var row Account
	if err := s.db.WithContext(ctx).First(&row, "account = ?", user.Hex()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(core.ErrAccountNotFound, "user %s", user.Hex())
		}
		return nil, err
	}
	return row.toCore(), nil
}

func (s *Store) UpsertAccount(ctx context.Context, account *core.Account) error {
	return s.upsert(ctx, newAccount(account))
}

func (s *Store) CreateLiquidation(ctx context.Context, result *core.LiquidationResult) error {
	return s.db.WithContext(ctx).Create(newLiquidation(result)).Error
}

// ListLiquidations returns the newest records first. A zero borrower matches
// all; limit <= 0 returns everything.
func (s *Store) ListLiquidations(ctx context.Context, borrower common.Address, limit int) ([]*core.LiquidationResult, error) {
	db := s.db.WithContext(ctx).Order("seq DESC")
	if borrower != (common.Address{}) {
		db = db.Where("borrower = ?", borrower.Hex())
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []*Liquidation
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]*core.LiquidationResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toCore())
	}
	return results, nil
}

func (s *Store) CreateOperation(ctx context.Context, operation *core.Operation) error {
	return s.db.WithContext(ctx).Create(newOperation(operation)).Error
}

func (s *Store) ListOperations(ctx context.Context, user common.Address, typ core.OperationType, createdBefore int64, limit int) ([]*core.Operation, error) {
	db := s.db.WithContext(ctx).Order("seq DESC")
	if user != (common.Address{}) {
		db = db.Where("account = ?", user.Hex())
	}
	if typ != "" {
		db = db.Where("type = ?", typ.String())
	}
	if createdBefore > 0 {
		db = db.Where("created_at < ?", createdBefore)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	var rows []*Operation
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	operations := make([]*core.Operation, 0, len(rows))
	for _, row := range rows {
		operations = append(operations, row.toCore())
	}
	return operations, nil
}
