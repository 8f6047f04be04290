package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const dbBreakerName = "database"

// DatabaseWrapper guards an sqlx handle with a breaker. sql.ErrNoRows and
// errors accepted by IgnoreErrors never count as failures.
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
	ignored []error
}

// NewDatabaseWrapper wraps db with the database profile settings.
func NewDatabaseWrapper(db *sqlx.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(dbBreakerName, DatabaseSettings().Merge(dbDefaults).ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(dbBreakerName, service, cb)
	return &DatabaseWrapper{db: db, cb: cb, service: service, logger: logger}
}

// IgnoreErrors marks domain errors that must not trip the breaker.
func (dw *DatabaseWrapper) IgnoreErrors(errs ...error) *DatabaseWrapper {
	dw.ignored = append(dw.ignored, errs...)
	return dw
}

func (dw *DatabaseWrapper) isFailure(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	for _, ign := range dw.ignored {
		if errors.Is(err, ign) {
			return false
		}
	}
	return true
}

func (dw *DatabaseWrapper) guard(ctx context.Context, fn func() error) error {
	var callErr error
	cbErr := dw.cb.Execute(ctx, func() error {
		callErr = fn()
		if !dw.isFailure(callErr) {
			return nil
		}
		return callErr
	})
	GlobalMetricsCollector.RecordRequest(dbBreakerName, dw.service, dw.cb.State(), cbErr == nil)
	if cbErr != nil && callErr == nil {
		return cbErr
	}
	return callErr
}

// PingContext checks connectivity.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard(ctx, func() error { return dw.db.PingContext(ctx) })
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// ExecContext runs a statement.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.guard(ctx, func() error {
		var execErr error
		res, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise.
// The whole transaction counts as one breaker request.
func (dw *DatabaseWrapper) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return dw.guard(ctx, func() error {
		tx, err := dw.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				dw.logger.Warn("Transaction rollback failed", zap.Error(rbErr))
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Rebind converts ? placeholders to the driver's bindvar style.
func (dw *DatabaseWrapper) Rebind(query string) string { return dw.db.Rebind(query) }

// DB returns the underlying handle.
func (dw *DatabaseWrapper) DB() *sqlx.DB { return dw.db }

// Close closes the handle.
func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

// IsCircuitBreakerOpen reports whether database calls are currently short-circuited.
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
