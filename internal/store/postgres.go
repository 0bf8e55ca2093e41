package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kopakash/loanbot/internal/loan"
)

const (
	pgSelectState = `SELECT state FROM application_states WHERE user_id = $1`
	pgUpsertState = `INSERT INTO application_states (user_id, state, updated_at) VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	pgDeleteState  = `DELETE FROM application_states WHERE user_id = $1`
	pgEnsureState  = `INSERT INTO application_states (user_id, state) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`
	pgLockState    = `SELECT state FROM application_states WHERE user_id = $1 FOR UPDATE`
	pgWriteState   = `UPDATE application_states SET state = $2, updated_at = now() WHERE user_id = $1`
	pgMarkComplete = `INSERT INTO completed_applicants (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	pgHasCompleted = `SELECT EXISTS (SELECT 1 FROM completed_applicants WHERE user_id = $1)`
)

type postgresStore struct {
	db *sqlx.DB
}

// NewPostgres stores state as JSONB rows; the schema lives in migrations/.
func NewPostgres(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (p *postgresStore) Get(ctx context.Context, userID int64) (loan.ApplicationState, error) {
	var raw []byte
	err := p.db.GetContext(ctx, &raw, pgSelectState, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.NewState(), nil
	}
	if err != nil {
		return loan.NewState(), fmt.Errorf("store: get state: %w", err)
	}
	return decodeState(raw)
}

func (p *postgresStore) Set(ctx context.Context, userID int64, st loan.ApplicationState) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, pgUpsertState, userID, raw); err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

func (p *postgresStore) Clear(ctx context.Context, userID int64) error {
	if _, err := p.db.ExecContext(ctx, pgDeleteState, userID); err != nil {
		return fmt.Errorf("store: clear state: %w", err)
	}
	return nil
}

// Update locks the user's row for the duration of fn.
func (p *postgresStore) Update(ctx context.Context, userID int64, fn UpdateFunc) (st loan.ApplicationState, changed bool, err error) {
	defaultRaw, err := encodeState(loan.NewState())
	if err != nil {
		return loan.NewState(), false, err
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return loan.NewState(), false, fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil || !changed {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, pgEnsureState, userID, defaultRaw); err != nil {
		return loan.NewState(), false, fmt.Errorf("store: ensure row: %w", err)
	}
	var raw []byte
	if err = tx.GetContext(ctx, &raw, pgLockState, userID); err != nil {
		return loan.NewState(), false, fmt.Errorf("store: lock row: %w", err)
	}
	st, err = decodeState(raw)
	if err != nil {
		return st, false, err
	}
	current := st.Clone()

	changed, err = fn(&st)
	if err != nil {
		return current, false, err
	}
	if !changed {
		return st, false, nil
	}

	next, err := encodeState(st)
	if err != nil {
		return current, false, err
	}
	if _, err = tx.ExecContext(ctx, pgWriteState, userID, next); err != nil {
		return current, false, fmt.Errorf("store: write state: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return current, false, fmt.Errorf("store: commit: %w", err)
	}
	return st, true, nil
}

func (p *postgresStore) MarkCompleted(ctx context.Context, userID int64) error {
	if _, err := p.db.ExecContext(ctx, pgMarkComplete, userID); err != nil {
		return fmt.Errorf("store: mark completed: %w", err)
	}
	return nil
}

func (p *postgresStore) HasCompleted(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	if err := p.db.GetContext(ctx, &ok, pgHasCompleted, userID); err != nil {
		return false, fmt.Errorf("store: has completed: %w", err)
	}
	return ok, nil
}

func encodeState(st loan.ApplicationState) (string, error) {
	st.Normalize()
	raw, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("store: encode state: %w", err)
	}
	return string(raw), nil
}

func decodeState(raw []byte) (loan.ApplicationState, error) {
	st := loan.NewState()
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return loan.NewState(), fmt.Errorf("store: decode state: %w", err)
	}
	st.Normalize()
	return st, nil
}
