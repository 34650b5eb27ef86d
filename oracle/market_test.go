package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	dead = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	dust = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	down = common.HexToAddress("0x00000000000000000000000000000000000000c5")
)

func newMarketServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/markets/ethereum", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte(`{"data":{"coin_id":"ethereum","symbol":"ETH","current_price":"2000.5"}}`))
	})
	mux.HandleFunc("/markets/usd-coin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"coin_id":"usd-coin","symbol":"USDC","current_price":"1"}}`))
	})
	mux.HandleFunc("/markets/dust", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"coin_id":"dust","current_price":"0"}}`))
	})
	mux.HandleFunc("/markets/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"status":502,"code":10002,"description":"upstream unavailable"}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMarketOracle(t *testing.T) {
	var hits int32
	server := newMarketServer(t, &hits)
	clk := clock.NewMock()
	o := NewMarketOracle(server.URL+"/", map[common.Address]string{
		weth: "ethereum",
		usdc: "usd-coin",
		dead: "delisted",
		dust: "dust",
		down: "down",
	}, WithClock(clk), WithTTL(time.Minute))
	ctx := context.Background()

	price, err := o.GetAssetPrice(ctx, weth)
	require.NoError(t, err)
	assert.Equal(t, "2000500000000000000000", price.Dec())

	// served from cache until the TTL elapses
	_, err = o.GetAssetPrice(ctx, weth)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	clk.Add(time.Minute)
	_, err = o.GetAssetPrice(ctx, weth)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	prices, err := core.LoadPrices(ctx, o, weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", prices[usdc].Dec())

	tests := []struct {
		name  string
		asset common.Address
		kind  core.ErrorKind
		is    error
	}{
		{name: "unmapped asset", asset: common.HexToAddress("0x01"), kind: core.ErrorKindMarketData, is: core.ErrPriceNotFound},
		{name: "unknown coin", asset: dead, kind: core.ErrorKindMarketData, is: core.ErrPriceNotFound},
		{name: "zero price", asset: dust, kind: core.ErrorKindMarketData, is: core.ErrInvalidPrice},
		{name: "upstream error", asset: down, kind: core.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.GetAssetPrice(ctx, tt.asset)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestAPIError(t *testing.T) {
	var hits int32
	server := newMarketServer(t, &hits)
	o := NewMarketOracle(server.URL, map[common.Address]string{down: "down"})

	_, err := o.GetAssetPrice(context.Background(), down)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, 10002, apiErr.Code)
	assert.Equal(t, "upstream unavailable", apiErr.Description)
}
