// Package store keeps per-user application state and the set of users who
// already completed an application.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/kopakash/loanbot/internal/loan"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ErrUnsupportedDriver is returned by Open for unknown backends.
var ErrUnsupportedDriver = errors.New("store: unsupported driver")

// UpdateFunc mutates st in place and reports whether it changed. It may be
// called more than once for a single Update (optimistic retries), so it must
// not have side effects beyond st.
type UpdateFunc func(st *loan.ApplicationState) (bool, error)

// Store is keyed by Telegram user id. Get returns the Idle default when no
// record exists. Update is atomic per user: concurrent Updates for the same
// user observe each other's writes.
type Store interface {
	Get(ctx context.Context, userID int64) (loan.ApplicationState, error)
	Set(ctx context.Context, userID int64, st loan.ApplicationState) error
	Clear(ctx context.Context, userID int64) error
	Update(ctx context.Context, userID int64, fn UpdateFunc) (loan.ApplicationState, bool, error)
	MarkCompleted(ctx context.Context, userID int64) error
	HasCompleted(ctx context.Context, userID int64) (bool, error)
}

// Options select and configure a backend.
type Options struct {
	Driver string
	DB     *sqlx.DB
	Redis  *redis.Client
	// TTL bounds how long an untouched state lives in Redis; 0 keeps it forever.
	TTL time.Duration
	// KeyPrefix namespaces Redis keys; empty -> "loanbot".
	KeyPrefix string
}

// Open returns the backend named by opts.Driver (empty means memory).
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverPostgres:
		if opts.DB == nil {
			return nil, fmt.Errorf("store: postgres driver requires a database handle")
		}
		return NewPostgres(opts.DB), nil
	case DriverRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("store: redis driver requires a client")
		}
		return NewRedis(opts.Redis, opts.KeyPrefix, opts.TTL), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
}
