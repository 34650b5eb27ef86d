package core

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

type (
	// MarginFeed stores the latest margin snapshot pushed for each account.
	// Push rejects a snapshot whose sequence does not exceed the stored one.
	MarginFeed interface {
		Push(ctx context.Context, snapshot *MarginSnapshot) error
		Latest(ctx context.Context, account common.Address) (*MarginSnapshot, error)
	}

	// MarginSnapshot summarizes an account's position on the external margin
	// venue. Collateral is denominated in the margin reference asset's native
	// units; MarkToMarket is signed (two's complement).
	MarginSnapshot struct {
		Account  common.Address `json:"account"`
		Sequence uint64         `json:"sequence"`

		MaintenanceMargin *uint256.Int `json:"maintenanceMargin"`
		MarkToMarket      *uint256.Int `json:"markToMarket"`
		Collateral        *uint256.Int `json:"collateral"`
		ValueAtRisk       *uint256.Int `json:"valueAtRisk"`

		UpdatedAt int64 `json:"updatedAt"`
	}

	// MarginConfig holds the fixed risk parameters of the margin collateral
	// source, in basis points.
	MarginConfig struct {
		ReferenceAsset       common.Address `json:"referenceAsset"`
		ReferenceDecimals    uint8          `json:"referenceDecimals"`
		Ltv                  uint64         `json:"ltv"`
		LiquidationThreshold uint64         `json:"liquidationThreshold"`
		LiquidationBonus     uint64         `json:"liquidationBonus"`
	}
)

func (mc *MarginConfig) Validate() error {
	if err := ValidateDecimals(mc.ReferenceDecimals); err != nil {
		return errors.Wrap(err, "reference decimals")
	}
	if mc.Ltv > mc.LiquidationThreshold || mc.LiquidationThreshold > PERCENTAGE_FACTOR_BPS {
		return ErrInvalidReserveConfig
	}
	if mc.LiquidationBonus < PERCENTAGE_FACTOR_BPS {
		return ErrInvalidReserveConfig
	}
	return nil
}

func (s *MarginSnapshot) Clone() *MarginSnapshot {
	c := *s
	for _, f := range []**uint256.Int{&c.MaintenanceMargin, &c.MarkToMarket, &c.Collateral, &c.ValueAtRisk} {
		if *f == nil {
			*f = zero()
		} else {
			*f = (*f).Clone()
		}
	}
	return &c
}

// EffectiveCollateral is collateral + min(markToMarket, 0), floored at zero.
// Maintenance margin and value at risk are not part of the valuation.
func (s *MarginSnapshot) EffectiveCollateral() *uint256.Int {
	if s == nil || s.Collateral == nil {
		return zero()
	}
	if s.MarkToMarket == nil || s.MarkToMarket.Sign() >= 0 {
		return s.Collateral.Clone()
	}
	loss := new(uint256.Int).Abs(s.MarkToMarket)
	return SubFloor(s.Collateral, loss)
}

type MemoryMarginFeed struct {
	mu        sync.RWMutex
	snapshots map[common.Address]*MarginSnapshot
}

func NewMemoryMarginFeed() *MemoryMarginFeed {
	return &MemoryMarginFeed{snapshots: make(map[common.Address]*MarginSnapshot)}
}

func (f *MemoryMarginFeed) Push(_ context.Context, snapshot *MarginSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if current, ok := f.snapshots[snapshot.Account]; ok && snapshot.Sequence <= current.Sequence {
		return ErrStaleMarginSnapshot
	}
	f.snapshots[snapshot.Account] = snapshot.Clone()
	return nil
}

func (f *MemoryMarginFeed) Latest(_ context.Context, account common.Address) (*MarginSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot, ok := f.snapshots[account]
	if !ok {
		return nil, ErrMarginSnapshotNotFound
	}
	return snapshot.Clone(), nil
}
