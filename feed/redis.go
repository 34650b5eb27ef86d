package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DomeLiquid/marginpool/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const maxPushRetries = 8

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisMarginFeed keeps the latest margin snapshot of each account under one
// key. Pushes are compare-and-set on the snapshot sequence.
type RedisMarginFeed struct {
	client *redis.Client
	prefix string
}

var _ core.MarginFeed = (*RedisMarginFeed)(nil)

func NewRedisMarginFeed(client *redis.Client, prefix string) *RedisMarginFeed {
	return &RedisMarginFeed{client: client, prefix: prefix}
}

// Dial connects and pings the server before returning the feed.
func Dial(ctx context.Context, opts Options) (*RedisMarginFeed, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "connect to redis")
	}
	return NewRedisMarginFeed(client, opts.KeyPrefix), nil
}

func (f *RedisMarginFeed) Client() *redis.Client {
	return f.client
}

func (f *RedisMarginFeed) key(account common.Address) string {
	return f.prefix + "margin:" + account.Hex()
}

func (f *RedisMarginFeed) Push(ctx context.Context, snapshot *core.MarginSnapshot) error {
	data, err := json.Marshal(snapshot.Clone())
	if err != nil {
		return errors.Wrap(err, "encode margin snapshot")
	}
	key := f.key(snapshot.Account)

	for i := 0; i < maxPushRetries; i++ {
		err = f.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := decode(tx.Get(ctx, key))
			switch {
			case errors.Is(err, core.ErrMarginSnapshotNotFound):
			case err != nil:
				return err
			case snapshot.Sequence <= current.Sequence:
				return core.ErrStaleMarginSnapshot
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return errors.Wrapf(err, "push margin snapshot of %s", snapshot.Account.Hex())
}

func (f *RedisMarginFeed) Latest(ctx context.Context, account common.Address) (*core.MarginSnapshot, error) {
	return decode(f.client.Get(ctx, f.key(account)))
}

func decode(cmd *redis.StringCmd) (*core.MarginSnapshot, error) {
	data, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrMarginSnapshotNotFound
		}
		return nil, err
	}
	var snapshot core.MarginSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrap(err, "decode margin snapshot")
	}
	return snapshot.Clone(), nil
}
