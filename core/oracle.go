package core

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// PriceOracle quotes one whole unit of an asset in the base currency, wad
// precision. A zero quote is a misconfiguration and is reported as
// ErrInvalidPrice.
type PriceOracle interface {
	GetAssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error)
}

// PriceSet is a point-in-time copy of oracle quotes.
type PriceSet map[common.Address]*uint256.Int

func (ps PriceSet) Get(asset common.Address) (*uint256.Int, error) {
	price, ok := ps[asset]
	if !ok {
		return nil, errors.Wrapf(ErrPriceNotFound, "asset %s", asset.Hex())
	}
	if price.IsZero() {
		return nil, errors.Wrapf(ErrInvalidPrice, "asset %s", asset.Hex())
	}
	return price, nil
}

// LoadPrices queries the oracle once per asset.
func LoadPrices(ctx context.Context, oracle PriceOracle, assets ...common.Address) (PriceSet, error) {
	prices := make(PriceSet, len(assets))
	for _, asset := range assets {
		if _, ok := prices[asset]; ok {
			continue
		}
		price, err := oracle.GetAssetPrice(ctx, asset)
		if err != nil {
			return nil, err
		}
		if price == nil || price.IsZero() {
			return nil, errors.Wrapf(ErrInvalidPrice, "asset %s", asset.Hex())
		}
		prices[asset] = price
	}
	return prices, nil
}

type StaticPriceOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]*uint256.Int
}

func NewStaticPriceOracle() *StaticPriceOracle {
	return &StaticPriceOracle{prices: make(map[common.Address]*uint256.Int)}
}

func (o *StaticPriceOracle) SetAssetPrice(asset common.Address, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price.Clone()
}

func (o *StaticPriceOracle) GetAssetPrice(_ context.Context, asset common.Address) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[asset]
	if !ok {
		return nil, errors.Wrapf(ErrPriceNotFound, "asset %s", asset.Hex())
	}
	if price.IsZero() {
		return nil, errors.Wrapf(ErrInvalidPrice, "asset %s", asset.Hex())
	}
	return price.Clone(), nil
}
