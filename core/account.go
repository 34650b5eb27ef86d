package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
)

type (
	AccountStore interface {
		ListAccounts(ctx context.Context) ([]*Account, error)
		GetAccount(ctx context.Context, user common.Address) (*Account, error)
		UpsertAccount(ctx context.Context, account *Account) error
	}

	Account struct {
		User         common.Address `json:"user"`
		AccountFlags AccountFlags   `json:"accountFlags"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

type AccountFlags uint8

const (
	// the external margin position counts as collateral
	UsingMarginCollateralFlag AccountFlags = 1 << 0
)

func (a *Account) SetFlag(flag AccountFlags) {
	a.AccountFlags |= flag
}

func (a *Account) UnsetFlag(flag AccountFlags) {
	a.AccountFlags &= ^flag
}

func (a *Account) GetFlag(flag AccountFlags) bool {
	return a.AccountFlags&flag != 0
}

func (a *Account) UsingMarginCollateral() bool {
	return a.GetFlag(UsingMarginCollateralFlag)
}

func (a *Account) Clone() *Account {
	c := *a
	return &c
}

func NewAccount(clk clock.Clock, user common.Address) *Account {
	return &Account{
		User:      user,
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}
