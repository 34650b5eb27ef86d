package feed

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFeed connects to MARGINPOOL_TEST_REDIS_ADDR under a key prefix unique
// to the test.
func newTestFeed(t *testing.T) *RedisMarginFeed {
	t.Helper()
	addr := os.Getenv("MARGINPOOL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARGINPOOL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "test:" + uuid.Must(uuid.NewV4()).String() + ":"
	f, err := Dial(ctx, Options{Addr: addr, KeyPrefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := f.Client().Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			f.Client().Del(ctx, keys...)
		}
		f.Client().Close()
	})
	return f
}

func snapshot(account common.Address, sequence uint64, collateral uint64, mtm string) *core.MarginSnapshot {
	markToMarket, err := core.ParseSigned(mtm)
	if err != nil {
		panic(err)
	}
	return &core.MarginSnapshot{
		Account:           account,
		Sequence:          sequence,
		MaintenanceMargin: uint256.NewInt(0),
		MarkToMarket:      markToMarket,
		Collateral:        uint256.NewInt(collateral),
		ValueAtRisk:       uint256.NewInt(0),
		UpdatedAt:         int64(sequence),
	}
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), Options{})
	assert.Error(t, err)
}

func TestRedisMarginFeed(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()
	account := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	_, err := f.Latest(ctx, account)
	assert.ErrorIs(t, err, core.ErrMarginSnapshotNotFound)

	first := snapshot(account, 1, 1000, "-250")
	require.NoError(t, f.Push(ctx, first))
	got, err := f.Latest(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Equal(t, "750", got.EffectiveCollateral().Dec())

	assert.ErrorIs(t, f.Push(ctx, snapshot(account, 1, 5, "0")), core.ErrStaleMarginSnapshot)
	require.NoError(t, f.Push(ctx, snapshot(account, 2, 5, "0")))
	got, err = f.Latest(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Sequence)
}

func TestRedisMarginFeedConcurrentPushes(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()
	account := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		highest uint64
	)
	for seq := uint64(1); seq <= 20; seq++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			if err := f.Push(ctx, snapshot(account, seq, seq, "0")); err != nil {
				return
			}
			mu.Lock()
			highest = max(highest, seq)
			mu.Unlock()
		}(seq)
	}
	wg.Wait()

	// the highest accepted sequence is never overwritten by a lower one
	got, err := f.Latest(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, highest, got.Sequence)
}
