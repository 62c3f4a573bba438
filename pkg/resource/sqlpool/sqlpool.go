// Package sqlpool adapts database/sql to resource.Pool. Each checkout
// reserves one *sql.Conn from the *sql.DB pool; releasing the lease hands
// the connection back.
package sqlpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"

	bbcontext "github.com/vnykmshr/blockbridge/pkg/common/context"
	bberrors "github.com/vnykmshr/blockbridge/pkg/common/errors"
	"github.com/vnykmshr/blockbridge/pkg/common/validation"
	"github.com/vnykmshr/blockbridge/pkg/resource"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "BLOCKBRIDGE_DB_"

// Config holds database connection configuration.
type Config struct {
	// Driver is a database/sql driver name, e.g. "postgres" or "sqlite3".
	// The driver package must be imported by the program.
	Driver string `env:"DRIVER" envDefault:"postgres"`

	// DSN is the driver-specific data source name.
	DSN string `env:"DSN"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"10m"`

	// AcquireTimeout bounds each Checkout. Zero waits until the caller's
	// context ends.
	AcquireTimeout time.Duration `env:"ACQUIRE_TIMEOUT" envDefault:"30s"`

	// PingTimeout bounds the connectivity check done by Open. Zero skips it.
	PingTimeout time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		Driver:          "postgres",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		AcquireTimeout:  30 * time.Second,
		PingTimeout:     5 * time.Second,
	}
}

// LoadConfigFromEnv reads BLOCKBRIDGE_DB_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, fmt.Errorf("sqlpool: load config: %w", err)
	}
	return config, config.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("sqlpool", "driver", c.Driver); err != nil {
		return err
	}
	if err := validation.ValidatePositive("sqlpool", "max_open_conns", c.MaxOpenConns); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("sqlpool", "max_idle_conns", c.MaxIdleConns); err != nil {
		return err
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return bberrors.NewValidationError("sqlpool", "max_idle_conns", c.MaxIdleConns, "exceeds max_open_conns").
			WithHint(fmt.Sprintf("use a value <= %d", c.MaxOpenConns))
	}
	if err := validation.ValidateNonNegativeDuration("sqlpool", "acquire_timeout", c.AcquireTimeout); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("sqlpool", "ping_timeout", c.PingTimeout)
}

// Pool hands out dedicated connections from a *sql.DB.
type Pool struct {
	db             *sql.DB
	acquireTimeout time.Duration
	closed         atomic.Bool
}

// New wraps an existing *sql.DB. The caller keeps configuring the DB's own
// pool sizing; Close closes db.
func New(db *sql.DB, acquireTimeout time.Duration) *Pool {
	return &Pool{db: db, acquireTimeout: acquireTimeout}
}

// Open opens a database with config and verifies it is reachable.
func Open(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if config.PingTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
		}
	}

	return New(db, config.AcquireTimeout), nil
}

// Checkout implements resource.Pool.
func (p *Pool) Checkout(ctx context.Context) (*resource.Lease[*sql.Conn], error) {
	if p.closed.Load() {
		return nil, resource.ErrPoolClosed
	}

	acquireCtx, cancel := bbcontext.WithOptionalTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		switch {
		case bbcontext.IsCanceled(ctx):
			return nil, ctx.Err()
		case bbcontext.IsTimedOut(acquireCtx):
			return nil, resource.ErrAcquireTimeout
		case p.closed.Load():
			return nil, resource.ErrPoolClosed
		default:
			return nil, bberrors.NewOperationError("sqlpool", "Checkout", err)
		}
	}

	return resource.NewLease(conn, func(c *sql.Conn) {
		// Close on a *sql.Conn returns it to the DB pool.
		_ = c.Close()
	}), nil
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Stats returns the database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Close closes the database. Checkouts after Close fail with
// resource.ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

var _ resource.Pool[*sql.Conn] = (*Pool)(nil)
