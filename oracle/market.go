package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type (
	MarketAssetInfo struct {
		CoinID                   string          `json:"coin_id"`
		Name                     string          `json:"name"`
		Symbol                   string          `json:"symbol"`
		CurrentPrice             decimal.Decimal `json:"current_price"`
		PriceChangePercentage24H decimal.Decimal `json:"price_change_percentage_24h"`
		UpdatedAt                time.Time       `json:"updated_at"`
	}

	ErrorResponse struct {
		Error struct {
			Status      int    `json:"status"`
			Code        int    `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}

	APIError struct {
		StatusCode  int
		Code        int
		Description string
		RawBody     string
	}

	quote struct {
		price     *uint256.Int
		fetchedAt time.Time
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d, code=%d, description=%s",
		e.StatusCode, e.Code, e.Description)
}

// MarketOracle quotes assets from a market data API. Quotes are cached for
// the configured TTL and concurrent misses for one coin share a request.
type MarketOracle struct {
	endpoint string
	coins    map[common.Address]string
	client   *http.Client
	clk      clock.Clock
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]quote
	group singleflight.Group
}

var _ core.PriceOracle = (*MarketOracle)(nil)

type Option func(o *MarketOracle)

func WithHTTPClient(client *http.Client) Option {
	return func(o *MarketOracle) {
		o.client = client
	}
}

func WithClock(clk clock.Clock) Option {
	return func(o *MarketOracle) {
		o.clk = clk
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(o *MarketOracle) {
		o.ttl = ttl
	}
}

// NewMarketOracle quotes each asset of coins by its market coin id.
func NewMarketOracle(endpoint string, coins map[common.Address]string, opts ...Option) *MarketOracle {
	o := &MarketOracle{
		endpoint: strings.TrimRight(endpoint, "/"),
		coins:    make(map[common.Address]string, len(coins)),
		client:   &http.Client{Timeout: 5 * time.Second},
		clk:      clock.New(),
		ttl:      30 * time.Second,
		cache:    make(map[string]quote),
	}
	for asset, coin := range coins {
		o.coins[asset] = coin
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *MarketOracle) GetAssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	coin, ok := o.coins[asset]
	if !ok {
		return nil, errors.Wrapf(core.ErrPriceNotFound, "asset %s", asset.Hex())
	}

	o.mu.RLock()
	cached, ok := o.cache[coin]
	o.mu.RUnlock()
	if ok && o.clk.Now().Sub(cached.fetchedAt) < o.ttl {
		return cached.price.Clone(), nil
	}

	v, err, _ := o.group.Do(coin, func() (any, error) {
		info, err := o.fetchMarket(ctx, coin)
		if err != nil {
			return nil, err
		}
		if !info.CurrentPrice.IsPositive() {
			return nil, errors.Wrapf(core.ErrInvalidPrice, "coin %s", coin)
		}
		price, err := core.WadFromDecimal(info.CurrentPrice)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.cache[coin] = quote{price: price, fetchedAt: o.clk.Now()}
		o.mu.Unlock()
		return price, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*uint256.Int).Clone(), nil
}

func (o *MarketOracle) fetchMarket(ctx context.Context, coin string) (*MarketAssetInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/markets/"+coin, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch market %s", coin)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, RawBody: string(body)}
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Description = errResp.Error.Description
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, errors.Wrap(core.ErrPriceNotFound, apiErr.Error())
		}
		return nil, apiErr
	}

	var payload struct {
		Data MarketAssetInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrapf(err, "decode market %s", coin)
	}
	return &payload.Data, nil
}
