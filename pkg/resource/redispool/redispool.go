// Package redispool adapts a go-redis client to resource.Pool. Each
// checkout pins one connection of the client's pool as a *redis.Conn, so
// stateful commands (WATCH/MULTI, SELECT, CLIENT SETNAME) stay on the same
// connection for the lease.
package redispool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/resource"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "BLOCKBRIDGE_REDIS_"

// Config holds Redis connection configuration.
type Config struct {
	// URL is a redis:// or rediss:// URL.
	URL string `env:"URL" envDefault:"redis://localhost:6379/0"`

	// PoolSize caps the client's connections.
	PoolSize int `env:"POOL_SIZE" envDefault:"10"`

	// PoolTimeout bounds how long Checkout waits for a free connection.
	PoolTimeout time.Duration `env:"POOL_TIMEOUT" envDefault:"4s"`

	// PingTimeout bounds the connectivity check done by Open. Zero skips it.
	PingTimeout time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		URL:         "redis://localhost:6379/0",
		PoolSize:    10,
		PoolTimeout: 4 * time.Second,
		PingTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads BLOCKBRIDGE_REDIS_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, fmt.Errorf("redispool: load config: %w", err)
	}
	return config, config.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("redispool", "url", c.URL); err != nil {
		return err
	}
	if err := validation.ValidatePositive("redispool", "pool_size", c.PoolSize); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("redispool", "pool_timeout", c.PoolTimeout); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("redispool", "ping_timeout", c.PingTimeout)
}

// Pool hands out pinned connections from a *redis.Client.
type Pool struct {
	client *redis.Client
	closed atomic.Bool
}

// New wraps an existing client. Close closes client.
func New(client *redis.Client) *Pool {
	return &Pool{client: client}
}

// Open creates a client from config and verifies the server is reachable.
func Open(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, bberrors.NewValidationError("redispool", "url", config.URL, err.Error())
	}
	opts.PoolSize = config.PoolSize
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}

	client := redis.NewClient(opts)

	if config.PingTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	return New(client), nil
}

// Checkout implements resource.Pool. The connection is pinged before it is
// handed out, so acquisition happens here and not on first use.
func (p *Pool) Checkout(ctx context.Context) (*resource.Lease[*redis.Conn], error) {
	if p.closed.Load() {
		return nil, resource.ErrPoolClosed
	}

	conn := p.client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, redis.ErrPoolTimeout):
			return nil, resource.ErrAcquireTimeout
		case errors.Is(err, redis.ErrPoolExhausted):
			return nil, resource.ErrExhausted
		case errors.Is(err, redis.ErrClosed), p.closed.Load():
			return nil, resource.ErrPoolClosed
		default:
			return nil, bberrors.NewOperationError("redispool", "Checkout", err)
		}
	}

	return resource.NewLease(conn, func(c *redis.Conn) {
		_ = c.Close()
	}), nil
}

// Client returns the underlying client.
func (p *Pool) Client() *redis.Client {
	return p.client
}

// Stats returns the client's connection pool statistics.
func (p *Pool) Stats() *redis.PoolStats {
	return p.client.PoolStats()
}

// Close closes the client. Checkouts after Close fail with
// resource.ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.client.Close()
}

var _ resource.Pool[*redis.Conn] = (*Pool)(nil)
