package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// OperationStore journals every committed pool operation.
	OperationStore interface {
		CreateOperation(ctx context.Context, operation *Operation) error
		ListOperations(ctx context.Context, user common.Address, typ OperationType, createdBefore int64, limit int) ([]*Operation, error)
	}

	Operation struct {
		Id        string          `json:"id"`
		User      common.Address  `json:"user"`
		Type      OperationType   `json:"type"`
		Detail    OperationDetail `json:"detail"`
		CreatedAt int64           `json:"createdAt"`
	}

	OperationDetail struct {
		Type    OperationType  `json:"type"`
		Caller  common.Address `json:"caller"`
		Actions []ActionDetail `json:"actions"`
	}

	// ActionDetail is one balance movement of an operation, in token units.
	ActionDetail struct {
		User     common.Address  `json:"user"`
		Action   ActionType      `json:"action"`
		Asset    common.Address  `json:"asset"`
		Amount   decimal.Decimal `json:"amount"`
		RateMode RateMode        `json:"rateMode,omitempty"`
	}
)

type OperationType string

const (
	OperationTypeInitReserve               OperationType = "init_reserve"
	OperationTypeConfigureReserve          OperationType = "configure_reserve"
	OperationTypeDeposit                   OperationType = "deposit"
	OperationTypeWithdraw                  OperationType = "withdraw"
	OperationTypeBorrow                    OperationType = "borrow"
	OperationTypeRepay                     OperationType = "repay"
	OperationTypeSwapRateMode              OperationType = "swap_rate_mode"
	OperationTypeSetReserveCollateral      OperationType = "set_reserve_collateral"
	OperationTypeSetMarginCollateral       OperationType = "set_margin_collateral"
	OperationTypeLiquidationCall           OperationType = "liquidation_call"
	OperationTypeLiquidateMarginCollateral OperationType = "liquidate_margin_collateral"
)

func (t OperationType) String() string {
	return string(t)
}

type ActionType string

const (
	ActionTypeSupply      ActionType = "supply"
	ActionTypeRedeem      ActionType = "redeem"
	ActionTypeBorrow      ActionType = "borrow"
	ActionTypeRepay       ActionType = "repay"
	ActionTypeSeize       ActionType = "seize"
	ActionTypeTransfer    ActionType = "transfer"
	ActionTypeMarginDebit ActionType = "margin_debit"
)

func NewOperation(user common.Address, typ OperationType, detail OperationDetail, createdAt int64) *Operation {
	return &Operation{
		Id:        uuid.Must(uuid.NewV4()).String(),
		User:      user,
		Type:      typ,
		Detail:    detail,
		CreatedAt: createdAt,
	}
}

func (j OperationDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *OperationDetail) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("unsupported operation detail type %T", value)
	}
	return json.Unmarshal(data, j)
}

// record appends a balance movement of reserve to the operation in flight.
func (tx *poolTx) record(user common.Address, action ActionType, reserve *Reserve, amount *uint256.Int, mode RateMode) {
	tx.actions = append(tx.actions, ActionDetail{
		User:     user,
		Action:   action,
		Asset:    reserve.Asset,
		Amount:   FormatAmount(amount, reserve.Decimals),
		RateMode: mode,
	})
}

// MatchOperation reports whether op passes the journal filters. A zero user
// or an empty type matches everything; createdBefore <= 0 disables the time
// bound.
func MatchOperation(op *Operation, user common.Address, typ OperationType, createdBefore int64) bool {
	if user != (common.Address{}) && op.User != user {
		return false
	}
	if typ != "" && op.Type != typ {
		return false
	}
	return createdBefore <= 0 || op.CreatedAt < createdBefore
}
