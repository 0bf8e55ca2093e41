package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kopakash/loanbot/internal/loan"
)

const redisMaxTxRetries = 16

type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis stores each state as a JSON string under <prefix>:state:<user>
// and completed users in the set <prefix>:completed.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = "loanbot"
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisStore) stateKey(userID int64) string {
	return r.prefix + ":state:" + strconv.FormatInt(userID, 10)
}

func (r *redisStore) completedKey() string {
	return r.prefix + ":completed"
}

func (r *redisStore) Get(ctx context.Context, userID int64) (loan.ApplicationState, error) {
	raw, err := r.client.Get(ctx, r.stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return loan.NewState(), nil
	}
	if err != nil {
		return loan.NewState(), fmt.Errorf("store: get state: %w", err)
	}
	return decodeState(raw)
}

func (r *redisStore) Set(ctx context.Context, userID int64, st loan.ApplicationState) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.stateKey(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

func (r *redisStore) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("store: clear state: %w", err)
	}
	return nil
}

// Update uses WATCH/MULTI; a concurrent write to the key aborts the
// transaction and fn is re-applied to the fresh value.
func (r *redisStore) Update(ctx context.Context, userID int64, fn UpdateFunc) (loan.ApplicationState, bool, error) {
	key := r.stateKey(userID)
	var (
		result  loan.ApplicationState
		changed bool
	)
	txf := func(tx *redis.Tx) error {
		changed = false
		raw, err := tx.Get(ctx, key).Bytes()
		st := loan.NewState()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("store: get state: %w", err)
		default:
			if st, err = decodeState(raw); err != nil {
				return err
			}
		}
		result = st.Clone()

		ok, err := fn(&st)
		if err != nil {
			return err
		}
		if !ok {
			result = st
			return nil
		}
		next, err := encodeState(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result, changed = st, true
		return nil
	}

	for i := 0; i < redisMaxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, changed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, false, err
	}
	return result, false, fmt.Errorf("store: update %d: too much contention", userID)
}

func (r *redisStore) MarkCompleted(ctx context.Context, userID int64) error {
	if err := r.client.SAdd(ctx, r.completedKey(), userID).Err(); err != nil {
		return fmt.Errorf("store: mark completed: %w", err)
	}
	return nil
}

func (r *redisStore) HasCompleted(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.completedKey(), userID).Result()
	if err != nil {
		return false, fmt.Errorf("store: has completed: %w", err)
	}
	return ok, nil
}
