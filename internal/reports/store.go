// Package reports persists research reports and the per-user credit ledger.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/synthesis"
)

const (
	// DefaultCredits is the starting balance of a new user.
	DefaultCredits = 10
	// ReportCost is charged for every saved report.
	ReportCost = 1

	eventResearchReport = "research_report"
)

var (
	// ErrNotFound is returned when a report does not exist.
	ErrNotFound = errors.New("report not found")
	// ErrInsufficientCredits is returned when a user has no credits left.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

const schema = `
CREATE TABLE IF NOT EXISTS user_credits (
    user_id TEXT PRIMARY KEY,
    credits_remaining INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS billing_events (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    credits_used INTEGER NOT NULL,
    description TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS research_reports (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    question TEXT NOT NULL,
    summary TEXT NOT NULL,
    payload TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    freshness DOUBLE PRECISION NOT NULL,
    total_sources INTEGER NOT NULL,
    credits_used INTEGER NOT NULL,
    generated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_reports_user ON research_reports (user_id, generated_at);
`

// Report is a stored synthesis result.
type Report struct {
	ID           string                      `json:"id"`
	UserID       string                      `json:"user_id"`
	Question     string                      `json:"question"`
	Confidence   float64                     `json:"confidence"`
	Freshness    float64                     `json:"freshness"`
	TotalSources int                         `json:"total_sources"`
	CreditsUsed  int                         `json:"credits_used"`
	GeneratedAt  time.Time                   `json:"generated_at"`
	Response     *synthesis.EnhancedResponse `json:"response"`
}

type reportRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Question     string    `db:"question"`
	Summary      string    `db:"summary"`
	Payload      string    `db:"payload"`
	Confidence   float64   `db:"confidence"`
	Freshness    float64   `db:"freshness"`
	TotalSources int       `db:"total_sources"`
	CreditsUsed  int       `db:"credits_used"`
	GeneratedAt  time.Time `db:"generated_at"`
}

func (r reportRow) toReport() (*Report, error) {
	var resp synthesis.EnhancedResponse
	if err := json.Unmarshal([]byte(r.Payload), &resp); err != nil {
		return nil, fmt.Errorf("decode report %s payload: %w", r.ID, err)
	}
	return &Report{
		ID:           r.ID,
		UserID:       r.UserID,
		Question:     r.Question,
		Confidence:   r.Confidence,
		Freshness:    r.Freshness,
		TotalSources: r.TotalSources,
		CreditsUsed:  r.CreditsUsed,
		GeneratedAt:  r.GeneratedAt,
		Response:     &resp,
	}, nil
}

// NewReport wraps a synthesis result for userID under a fresh id.
func NewReport(userID string, resp *synthesis.EnhancedResponse) *Report {
	return &Report{
		ID:           uuid.NewString(),
		UserID:       userID,
		Question:     resp.Query,
		Confidence:   resp.Confidence,
		Freshness:    resp.Freshness,
		TotalSources: resp.TotalSources,
		GeneratedAt:  resp.GeneratedAt,
		Response:     resp,
	}
}

// Store reads and writes reports and credits.
type Store struct {
	db             *circuitbreaker.DatabaseWrapper
	defaultCredits int
	logger         *zap.Logger
	now            func() time.Time
}

// NewStore wraps db. defaultCredits <= 0 uses DefaultCredits.
func NewStore(db *sqlx.DB, defaultCredits int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCredits <= 0 {
		defaultCredits = DefaultCredits
	}
	wrapped := circuitbreaker.NewDatabaseWrapper(db, "reports", logger).
		IgnoreErrors(ErrNotFound, ErrInsufficientCredits)
	return &Store{db: wrapped, defaultCredits: defaultCredits, logger: logger, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate reports schema: %w", err)
	}
	return nil
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureCreditsQuery() string {
	return s.db.Rebind(`INSERT INTO user_credits (user_id, credits_remaining, updated_at)
        VALUES (?, ?, ?) ON CONFLICT (user_id) DO NOTHING`)
}

// Credits returns the remaining balance, creating the user's row on first use.
func (s *Store) Credits(ctx context.Context, userID string) (int, error) {
	if _, err := s.db.ExecContext(ctx, s.ensureCreditsQuery(), userID, s.defaultCredits, s.now().UTC()); err != nil {
		return 0, fmt.Errorf("ensure credits for %s: %w", userID, err)
	}
	var remaining int
	if err := s.db.GetContext(ctx, &remaining,
		s.db.Rebind(`SELECT credits_remaining FROM user_credits WHERE user_id = ?`), userID); err != nil {
		return 0, fmt.Errorf("read credits for %s: %w", userID, err)
	}
	return remaining, nil
}

// SaveReport stores a report without charging credits.
func (s *Store) SaveReport(ctx context.Context, r *Report) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertReport(ctx, tx, r)
	})
}

// ChargeReport charges ReportCost and stores the report in one transaction.
// The decrement only applies while the balance covers the cost, so racing
// charges cannot overdraw it. It returns the remaining balance.
func (s *Store) ChargeReport(ctx context.Context, r *Report) (int, error) {
	var remaining int
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx, s.ensureCreditsQuery(), r.UserID, s.defaultCredits, now); err != nil {
			return fmt.Errorf("ensure credits: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE user_credits SET credits_remaining = credits_remaining - ?, updated_at = ?
                WHERE user_id = ? AND credits_remaining >= ?`),
			ReportCost, now, r.UserID, ReportCost)
		if err != nil {
			return fmt.Errorf("decrement credits: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("decrement credits: %w", err)
		}
		if affected == 0 {
			return ErrInsufficientCredits
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO billing_events (id, user_id, event_type, credits_used, description, created_at)
                VALUES (?, ?, ?, ?, ?, ?)`),
			uuid.NewString(), r.UserID, eventResearchReport, ReportCost, "Research report "+r.ID, now); err != nil {
			return fmt.Errorf("record billing event: %w", err)
		}
		r.CreditsUsed = ReportCost
		if err := s.insertReport(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &remaining,
			tx.Rebind(`SELECT credits_remaining FROM user_credits WHERE user_id = ?`), r.UserID); err != nil {
			return fmt.Errorf("read credits: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("Report charged",
		zap.String("report_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.Int("credits_remaining", remaining),
	)
	return remaining, nil
}

func (s *Store) insertReport(ctx context.Context, ext sqlx.ExtContext, r *Report) error {
	if r.Response == nil {
		return fmt.Errorf("report %s has no response", r.ID)
	}
	payload, err := json.Marshal(r.Response)
	if err != nil {
		return fmt.Errorf("encode report payload: %w", err)
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = s.now()
	}
	_, err = ext.ExecContext(ctx, ext.Rebind(`INSERT INTO research_reports
        (id, user_id, question, summary, payload, confidence, freshness, total_sources, credits_used, generated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.Question, r.Response.SummaryText, string(payload),
		r.Confidence, r.Freshness, r.TotalSources, r.CreditsUsed, r.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

const reportColumns = `id, user_id, question, summary, payload, confidence, freshness, total_sources, credits_used, generated_at`

// GetReport loads one report.
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+reportColumns+` FROM research_reports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return row.toReport()
}

// ListReports returns a user's reports, newest first.
func (s *Store) ListReports(ctx context.Context, userID string, limit int) ([]*Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+reportColumns+` FROM research_reports WHERE user_id = ? ORDER BY generated_at DESC LIMIT ?`),
		userID, limit); err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", userID, err)
	}
	out := make([]*Report, 0, len(rows))
	for _, row := range rows {
		r, err := row.toReport()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UsageStats summarizes a user's activity.
type UsageStats struct {
	UserID           string     `json:"user_id"`
	TotalReports     int        `json:"total_reports"`
	CreditsUsed      int        `json:"credits_used"`
	CreditsRemaining int        `json:"credits_remaining"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
}

// UsageStats aggregates reports, billing events and the current balance.
func (s *Store) UsageStats(ctx context.Context, userID string) (*UsageStats, error) {
	remaining, err := s.Credits(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := &UsageStats{UserID: userID, CreditsRemaining: remaining}

	if err := s.db.GetContext(ctx, &stats.TotalReports,
		s.db.Rebind(`SELECT COUNT(*) FROM research_reports WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("count reports for %s: %w", userID, err)
	}
	if err := s.db.GetContext(ctx, &stats.CreditsUsed,
		s.db.Rebind(`SELECT COALESCE(SUM(credits_used), 0) FROM billing_events WHERE user_id = ?`), userID); err != nil {
		return nil, fmt.Errorf("sum credits for %s: %w", userID, err)
	}

	for _, q := range []string{
		`SELECT created_at FROM billing_events WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`,
		`SELECT generated_at FROM research_reports WHERE user_id = ? ORDER BY generated_at DESC LIMIT 1`,
	} {
		var at time.Time
		err := s.db.GetContext(ctx, &at, s.db.Rebind(q), userID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("last activity for %s: %w", userID, err)
		}
		if stats.LastActivity == nil || at.After(*stats.LastActivity) {
			at = at.UTC()
			stats.LastActivity = &at
		}
	}
	return stats, nil
}
