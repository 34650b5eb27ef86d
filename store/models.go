package store

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// U256 persists a uint256 as its decimal string so that no database numeric
// type can round it.
type U256 uint256.Int

func newU256(x *uint256.Int) U256 {
	if x == nil {
		return U256{}
	}
	return U256(*x)
}

func (u U256) Int() *uint256.Int {
	v := uint256.Int(u)
	return &v
}

func (u U256) Value() (driver.Value, error) {
	v := uint256.Int(u)
	return v.Dec(), nil
}

func (u *U256) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		*u = U256(*uint256.NewInt(uint64(v)))
		return nil
	case nil:
		*u = U256{}
		return nil
	default:
		return errors.Errorf("unsupported uint256 column type %T", value)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return errors.Wrapf(err, "parse uint256 %q", s)
	}
	*u = U256(*v)
	return nil
}

type Reserve struct {
	Asset    string `gorm:"size:42;primaryKey"`
	Symbol   string `gorm:"size:32;index"`
	Decimals uint8

	BaseLtv              uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	ReserveFactor        uint64
	Flags                uint8
	RateStrategy         string `gorm:"size:64"`

	LiquidityIndex            U256 `gorm:"type:varchar(80)"`
	VariableBorrowIndex       U256 `gorm:"type:varchar(80)"`
	CurrentLiquidityRate      U256 `gorm:"type:varchar(80)"`
	CurrentVariableBorrowRate U256 `gorm:"type:varchar(80)"`
	CurrentStableBorrowRate   U256 `gorm:"type:varchar(80)"`
	TotalScaledSupply         U256 `gorm:"type:varchar(80)"`
	TotalScaledVariableDebt   U256 `gorm:"type:varchar(80)"`
	TotalStableDebt           U256 `gorm:"type:varchar(80)"`
	AverageStableRate         U256 `gorm:"type:varchar(80)"`
	StableDebtLastUpdate      int64
	AvailableLiquidity        U256 `gorm:"type:varchar(80)"`
	TreasuryScaledBalance     U256 `gorm:"type:varchar(80)"`

	LastUpdateTimestamp int64
	CreatedAt           int64 `gorm:"autoCreateTime:false"`
}

func newReserve(r *core.Reserve) *Reserve {
	return &Reserve{
		Asset:                     r.Asset.Hex(),
		Symbol:                    r.Symbol,
		Decimals:                  r.Decimals,
		BaseLtv:                   r.BaseLtv,
		LiquidationThreshold:      r.LiquidationThreshold,
		LiquidationBonus:          r.LiquidationBonus,
		ReserveFactor:             r.ReserveFactor,
		Flags:                     uint8(r.Flags),
		RateStrategy:              r.RateStrategy,
		LiquidityIndex:            newU256(r.LiquidityIndex),
		VariableBorrowIndex:       newU256(r.VariableBorrowIndex),
		CurrentLiquidityRate:      newU256(r.CurrentLiquidityRate),
		CurrentVariableBorrowRate: newU256(r.CurrentVariableBorrowRate),
		CurrentStableBorrowRate:   newU256(r.CurrentStableBorrowRate),
		TotalScaledSupply:         newU256(r.TotalScaledSupply),
		TotalScaledVariableDebt:   newU256(r.TotalScaledVariableDebt),
		TotalStableDebt:           newU256(r.TotalStableDebt),
		AverageStableRate:         newU256(r.AverageStableRate),
		StableDebtLastUpdate:      r.StableDebtLastUpdate,
		AvailableLiquidity:        newU256(r.AvailableLiquidity),
		TreasuryScaledBalance:     newU256(r.TreasuryScaledBalance),
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
		CreatedAt:                 r.CreatedAt,
	}
}

func (r *Reserve) toCore() *core.Reserve {
	return &core.Reserve{
		Asset:    common.HexToAddress(r.Asset),
		Symbol:   r.Symbol,
		Decimals: r.Decimals,
		ReserveConfig: core.ReserveConfig{
			BaseLtv:              r.BaseLtv,
			LiquidationThreshold: r.LiquidationThreshold,
			LiquidationBonus:     r.LiquidationBonus,
			ReserveFactor:        r.ReserveFactor,
			Flags:                core.ReserveFlags(r.Flags),
			RateStrategy:         r.RateStrategy,
		},
		LiquidityIndex:            r.LiquidityIndex.Int(),
		VariableBorrowIndex:       r.VariableBorrowIndex.Int(),
		CurrentLiquidityRate:      r.CurrentLiquidityRate.Int(),
		CurrentVariableBorrowRate: r.CurrentVariableBorrowRate.Int(),
		CurrentStableBorrowRate:   r.CurrentStableBorrowRate.Int(),
		TotalScaledSupply:         r.TotalScaledSupply.Int(),
		TotalScaledVariableDebt:   r.TotalScaledVariableDebt.Int(),
		TotalStableDebt:           r.TotalStableDebt.Int(),
		AverageStableRate:         r.AverageStableRate.Int(),
		StableDebtLastUpdate:      r.StableDebtLastUpdate,
		AvailableLiquidity:        r.AvailableLiquidity.Int(),
		TreasuryScaledBalance:     r.TreasuryScaledBalance.Int(),
		LastUpdateTimestamp:       r.LastUpdateTimestamp,
		CreatedAt:                 r.CreatedAt,
	}
}

type Position struct {
	User  string `gorm:"column:account;size:42;primaryKey"`
	Asset string `gorm:"size:42;primaryKey"`

	ScaledSupply       U256 `gorm:"type:varchar(80)"`
	ScaledVariableDebt U256 `gorm:"type:varchar(80)"`
	StablePrincipal    U256 `gorm:"type:varchar(80)"`
	StableRate         U256 `gorm:"type:varchar(80)"`
	StableLastUpdate   int64

	UsageAsCollateralEnabled bool

	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func newPosition(p *core.Position) *Position {
	return &Position{
		User:                     p.User.Hex(),
		Asset:                    p.Asset.Hex(),
		ScaledSupply:             newU256(p.ScaledSupply),
		ScaledVariableDebt:       newU256(p.ScaledVariableDebt),
		StablePrincipal:          newU256(p.StablePrincipal),
		StableRate:               newU256(p.StableRate),
		StableLastUpdate:         p.StableLastUpdate,
		UsageAsCollateralEnabled: p.UsageAsCollateralEnabled,
		UpdatedAt:                p.UpdatedAt,
	}
}

func (p *Position) toCore() *core.Position {
	return &core.Position{
		User:                     common.HexToAddress(p.User),
		Asset:                    common.HexToAddress(p.Asset),
		ScaledSupply:             p.ScaledSupply.Int(),
		ScaledVariableDebt:       p.ScaledVariableDebt.Int(),
		StablePrincipal:          p.StablePrincipal.Int(),
		StableRate:               p.StableRate.Int(),
		StableLastUpdate:         p.StableLastUpdate,
		UsageAsCollateralEnabled: p.UsageAsCollateralEnabled,
		UpdatedAt:                p.UpdatedAt,
	}
}

type Account struct {
	User         string `gorm:"column:account;size:42;primaryKey"`
	AccountFlags uint8

	CreatedAt int64 `gorm:"autoCreateTime:false"`
	UpdatedAt int64 `gorm:"autoUpdateTime:false"`
}

func newAccount(a *core.Account) *Account {
	return &Account{
		User:         a.User.Hex(),
		AccountFlags: uint8(a.AccountFlags),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func (a *Account) toCore() *core.Account {
	return &core.Account{
		User:         common.HexToAddress(a.User),
		AccountFlags: core.AccountFlags(a.AccountFlags),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// Instruction is the JSON column holding a margin liquidation's settlement
// instruction.
type Instruction struct {
	*core.SettlementInstruction
}

func (i Instruction) Value() (driver.Value, error) {
	if i.SettlementInstruction == nil {
		return nil, nil
	}
	data, err := json.Marshal(i.SettlementInstruction)
	return string(data), err
}

func (i *Instruction) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		i.SettlementInstruction = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.Errorf("unsupported instruction column type %T", value)
	}
	instruction := &core.SettlementInstruction{}
	if err := json.Unmarshal(data, instruction); err != nil {
		return err
	}
	i.SettlementInstruction = instruction
	return nil
}

type Liquidation struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	Id         string `gorm:"size:36;uniqueIndex"`
	Flow       uint8
	Borrower   string `gorm:"size:42;index"`
	Liquidator string `gorm:"size:42"`

	DebtAsset          string `gorm:"size:42"`
	DebtRepaid         U256   `gorm:"type:varchar(80)"`
	StableDebtRepaid   U256   `gorm:"type:varchar(80)"`
	VariableDebtRepaid U256   `gorm:"type:varchar(80)"`

	CollateralAsset   string `gorm:"size:42"`
	CollateralSeized  U256   `gorm:"type:varchar(80)"`
	ReceiveUnderlying bool

	PreHealthFactor  U256 `gorm:"type:varchar(80)"`
	PostHealthFactor U256 `gorm:"type:varchar(80)"`

	Instruction Instruction `gorm:"type:text"`

	CreatedAt int64 `gorm:"autoCreateTime:false;index"`
}

func newLiquidation(r *core.LiquidationResult) *Liquidation {
	return &Liquidation{
		Id:                 r.Id,
		Flow:               uint8(r.Flow),
		Borrower:           r.Borrower.Hex(),
		Liquidator:         r.Liquidator.Hex(),
		DebtAsset:          r.DebtAsset.Hex(),
		DebtRepaid:         newU256(r.DebtRepaid),
		StableDebtRepaid:   newU256(r.StableDebtRepaid),
		VariableDebtRepaid: newU256(r.VariableDebtRepaid),
		CollateralAsset:    r.CollateralAsset.Hex(),
		CollateralSeized:   newU256(r.CollateralSeized),
		ReceiveUnderlying:  r.ReceiveUnderlying,
		PreHealthFactor:    newU256(r.PreHealthFactor),
		PostHealthFactor:   newU256(r.PostHealthFactor),
		Instruction:        Instruction{r.Instruction},
		CreatedAt:          r.CreatedAt,
	}
}

func (l *Liquidation) toCore() *core.LiquidationResult {
	return &core.LiquidationResult{
		Id:                 l.Id,
		Flow:               core.LiquidationFlow(l.Flow),
		Borrower:           common.HexToAddress(l.Borrower),
		Liquidator:         common.HexToAddress(l.Liquidator),
		DebtAsset:          common.HexToAddress(l.DebtAsset),
		DebtRepaid:         l.DebtRepaid.Int(),
		StableDebtRepaid:   l.StableDebtRepaid.Int(),
		VariableDebtRepaid: l.VariableDebtRepaid.Int(),
		CollateralAsset:    common.HexToAddress(l.CollateralAsset),
		CollateralSeized:   l.CollateralSeized.Int(),
		ReceiveUnderlying:  l.ReceiveUnderlying,
		PreHealthFactor:    l.PreHealthFactor.Int(),
		PostHealthFactor:   l.PostHealthFactor.Int(),
		Instruction:        l.Instruction.SettlementInstruction,
		CreatedAt:          l.CreatedAt,
	}
}

type Operation struct {
	Seq    uint64               `gorm:"primaryKey;autoIncrement"`
	Id     string               `gorm:"size:36;uniqueIndex"`
	User   string               `gorm:"column:account;size:42;index"`
	Type   string               `gorm:"size:32;index"`
	Detail core.OperationDetail `gorm:"type:text"`

	CreatedAt int64 `gorm:"autoCreateTime:false;index"`
}

func newOperation(o *core.Operation) *Operation {
	return &Operation{
		Id:        o.Id,
		User:      o.User.Hex(),
		Type:      o.Type.String(),
		Detail:    o.Detail,
		CreatedAt: o.CreatedAt,
	}
}

func (o *Operation) toCore() *core.Operation {
	return &core.Operation{
		Id:        o.Id,
		User:      common.HexToAddress(o.User),
		Type:      core.OperationType(o.Type),
		Detail:    o.Detail,
		CreatedAt: o.CreatedAt,
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Reserve{}, &Position{}, &Account{}, &Liquidation{}, &Operation{})
}
