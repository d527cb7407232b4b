// Package redis drives a Redis server holding one hash per record under
// keys of the form <prefix>:<id>.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/weiihann/crudbench/bench"
	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/store"
)

// Cmdable is the subset of the go-redis client the adapter needs.
type Cmdable interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HIncrBy(ctx context.Context, key, field string, incr int64) *goredis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
	Pipelined(ctx context.Context, fn func(goredis.Pipeliner) error) ([]goredis.Cmder, error)
	Close() error
}

// Config holds connection settings for a Redis server.
type Config struct {
	Addr      string
	Password  string
	DB        int
	ScanLimit int
}

// Client is a session against one Redis server.
type Client struct {
	rdb       Cmdable
	scanLimit int
}

var _ store.Backend = (*Client)(nil)

// Connect dials the server and verifies it answers a ping.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}

	return New(rdb, cfg.ScanLimit), nil
}

// New wraps an existing client.
func New(rdb Cmdable, scanLimit int) *Client {
	if scanLimit <= 0 {
		scanLimit = 300
	}

	return &Client{rdb: rdb, scanLimit: scanLimit}
}

// Name implements store.Store.
func (c *Client) Name() string { return "Redis" }

// Bind implements store.Store. The sample key is resolved once here; every
// operation targets it by value.
func (c *Client) Bind(ctx context.Context, name string) (store.Operations, error) {
	prefix := dataset.PrefixOf(name)
	pattern := prefix + ":*"

	key, err := c.sampleKey(ctx, pattern)
	if err != nil {
		return store.Operations{}, fmt.Errorf("%s: %w", name, err)
	}

	return store.Operations{
		Read: func(ctx context.Context) error {
			return c.rdb.HGetAll(ctx, key).Err()
		},
		Scan: func(ctx context.Context) error {
			return c.scan(ctx, pattern)
		},
		Insert: func(ctx context.Context) error {
			data, err := c.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}

			clone := prefix + ":clone:" + uuid.NewString()

			return c.rdb.HSet(ctx, clone, data).Err()
		},
		Update: func(ctx context.Context) error {
			return c.rdb.HIncrBy(ctx, key, "__bench_update", 1).Err()
		},
	}, nil
}

// AddToCart implements store.Store.
func (c *Client) AddToCart(ctx context.Context) (bench.Operation, error) {
	product, err := c.sampleKey(ctx, dataset.PrefixOf("products")+":*")
	if err != nil {
		return nil, fmt.Errorf("prepare add-to-cart products: %w", err)
	}

	order, err := c.sampleKey(ctx, dataset.PrefixOf("orders")+":*")
	if err != nil {
		return nil, fmt.Errorf("prepare add-to-cart orders: %w", err)
	}

	return func(ctx context.Context) error {
		if err := c.rdb.HGetAll(ctx, product).Err(); err != nil {
			return err
		}

		return c.rdb.HIncrBy(ctx, order, "cart_items", 1).Err()
	}, nil
}

// Close implements store.Store.
func (c *Client) Close(context.Context) error {
	return c.rdb.Close()
}

// Load implements store.Loader. Null fields are dropped and every value
// is stored as a string.
func (c *Client) Load(
	ctx context.Context,
	spec dataset.Spec,
	records []dataset.Record,
	opts store.LoadOptions,
) (int, error) {
	written := 0

	err := store.Batches(ctx, records, opts,
		func(_ int, batch []dataset.Record) error {
			_, err := c.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
				for _, rec := range batch {
					id, ok := rec.Key(spec.KeyField)
					if !ok {
						return fmt.Errorf("missing key field %q", spec.KeyField)
					}

					fields := make(map[string]string, len(rec))
					for k, v := range rec {
						if v != nil {
							fields[k] = dataset.FormatValue(v)
						}
					}

					pipe.HSet(ctx, spec.Prefix+":"+id, fields)
				}

				return nil
			})
			if err != nil {
				return err
			}

			written += len(batch)

			return nil
		})
	if err != nil {
		return written, fmt.Errorf("load %s: %w", spec.Name, err)
	}

	return written, nil
}

// sampleKey returns the first key matching pattern.
func (c *Client) sampleKey(ctx context.Context, pattern string) (string, error) {
	var cursor uint64

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 1).Result()
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", pattern, err)
		}

		if len(keys) > 0 {
			return keys[0], nil
		}

		if next == 0 {
			return "", store.ErrEmptyDataset
		}

		cursor = next
	}
}

// scan reads up to scanLimit hashes matching pattern.
func (c *Client) scan(ctx context.Context, pattern string) error {
	var cursor uint64

	read := 0
	for read < c.scanLimit {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 0).Result()
		if err != nil {
			return err
		}

		for _, k := range keys {
			if read == c.scanLimit {
				break
			}

			if err := c.rdb.HGetAll(ctx, k).Err(); err != nil {
				return err
			}

			read++
		}

		if next == 0 {
			break
		}

		cursor = next
	}

	return nil
}
