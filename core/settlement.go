package core

import (
	"context"
	"strconv"
	"sync"

	"github.com/DomeLiquid/marginpool/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type (
	// SettlementCounterparty custodies margin collateral and executes the
	// debit instructions the pool emits on margin liquidation.
	SettlementCounterparty interface {
		SubmitDebit(ctx context.Context, instruction *SettlementInstruction) error
	}

	SettlementInstruction struct {
		Id          string         `json:"id"`
		Account     common.Address `json:"account"`
		Asset       common.Address `json:"asset"`
		Amount      *uint256.Int   `json:"amount"`
		Destination common.Address `json:"destination"`

		DebtAsset      common.Address `json:"debtAsset"`
		DebtRepaid     *uint256.Int   `json:"debtRepaid"`
		SnapshotSeqNum uint64         `json:"snapshotSeqNum"`
		CreatedAt      int64          `json:"createdAt"`
	}
)

func NewSettlementInstruction(account, asset common.Address, amount *uint256.Int, destination, debtAsset common.Address, debtRepaid *uint256.Int, snapshotSeqNum uint64, createdAt int64) *SettlementInstruction {
	return &SettlementInstruction{
		Id: utils.GenUuidFromStrings(
			account.Hex(),
			asset.Hex(),
			amount.Dec(),
			debtAsset.Hex(),
			strconv.FormatUint(snapshotSeqNum, 10),
			strconv.FormatInt(createdAt, 10),
		),
		Account:        account,
		Asset:          asset,
		Amount:         amount.Clone(),
		Destination:    destination,
		DebtAsset:      debtAsset,
		DebtRepaid:     debtRepaid.Clone(),
		SnapshotSeqNum: snapshotSeqNum,
		CreatedAt:      createdAt,
	}
}

// SettlementLog is an in-process counterparty that records instructions.
type SettlementLog struct {
	mu           sync.Mutex
	instructions []*SettlementInstruction
	failWith     error
}

func NewSettlementLog() *SettlementLog {
	return &SettlementLog{}
}

// FailWith makes subsequent submissions fail with err; nil restores success.
func (l *SettlementLog) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWith = err
}

func (l *SettlementLog) SubmitDebit(_ context.Context, instruction *SettlementInstruction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failWith != nil {
		return l.failWith
	}
	l.instructions = append(l.instructions, instruction)
	return nil
}

func (l *SettlementLog) Instructions() []*SettlementInstruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*SettlementInstruction(nil), l.instructions...)
}
