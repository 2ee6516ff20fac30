package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const defaultDialTimeout = 5 * time.Second

// Options configures the redis connection backing the catalog cache and
// the sweep lock.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// New connects to redis and pings it within the dial timeout. An unreachable
// server is reported as shared.ErrStorageUnavailable.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, shared.Wrap(shared.ErrStorageUnavailable, err)
	}
	return client, nil
}
