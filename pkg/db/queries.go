// Query side of the store: audit trail search, risk day rows and the
// idempotency rehydration used by the execution manager after a restart.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// AuditRow is one persisted audit trail entry.
type AuditRow struct {
	ID         int64
	LogID      string
	Timestamp  time.Time
	Component  string
	Level      string
	Action     string
	SignalID   string
	Symbol     string
	StrategyID string
	Details    string // JSON blob
	SessionID  string
	HostID     string
}

// AuditFilter narrows an audit trail query. Zero values match everything.
type AuditFilter struct {
	Component string
	Level     string
	Action    string
	SignalID  string
	Symbol    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// InsertAudit appends an audit trail row.
func (d *Database) InsertAudit(ctx context.Context, row AuditRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO audit_log (log_id, ts, component, level, action, signal_id, symbol, strategy_id, details, session_id, host_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.LogID, row.Timestamp, row.Component, row.Level, row.Action,
		row.SignalID, row.Symbol, row.StrategyID, row.Details, row.SessionID, row.HostID)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// QueryAudit returns audit rows matching the filter, newest first.
func (d *Database) QueryAudit(ctx context.Context, f AuditFilter) ([]AuditRow, error) {
	query := `
		SELECT id, log_id, ts, component, level, action, signal_id, symbol, strategy_id, details, session_id, host_id
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Component != "" {
		query += " AND component = ?"
		args = append(args, f.Component)
	}
	if f.Level != "" {
		query += " AND level = ?"
		args = append(args, f.Level)
	}
	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.SignalID != "" {
		query += " AND signal_id = ?"
		args = append(args, f.SignalID)
	}
	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}
	if !f.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		query += " AND ts <= ?"
		args = append(args, f.Until)
	}
	query += " ORDER BY id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var res []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.LogID, &r.Timestamp, &r.Component, &r.Level, &r.Action,
			&r.SignalID, &r.Symbol, &r.StrategyID, &r.Details, &r.SessionID, &r.HostID); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// RiskDay is the persisted daily risk state, keyed by trading date.
type RiskDay struct {
	Date              string
	DailyPnL          float64
	Trades            int
	Wins              int
	Losses            int
	ConsecutiveWins   int
	ConsecutiveLosses int
	StartingEquity    float64
	KillSwitch        bool
}

// GetRiskDay loads the risk row for a date, or ErrNotFound.
func (d *Database) GetRiskDay(ctx context.Context, date string) (*RiskDay, error) {
	var r RiskDay
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_pnl, daily_trades, daily_wins, daily_losses,
		       consecutive_wins, consecutive_losses, starting_equity, kill_switch
		FROM risk_metrics WHERE date = ?
	`, date).Scan(&r.Date, &r.DailyPnL, &r.Trades, &r.Wins, &r.Losses,
		&r.ConsecutiveWins, &r.ConsecutiveLosses, &r.StartingEquity, &r.KillSwitch)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query risk day: %w", err)
	}
	return &r, nil
}

// UpsertRiskDay stores the risk row for a date.
func (d *Database) UpsertRiskDay(ctx context.Context, r RiskDay) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_metrics (date, daily_pnl, daily_trades, daily_wins, daily_losses,
			consecutive_wins, consecutive_losses, starting_equity, kill_switch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			daily_trades = excluded.daily_trades,
			daily_wins = excluded.daily_wins,
			daily_losses = excluded.daily_losses,
			consecutive_wins = excluded.consecutive_wins,
			consecutive_losses = excluded.consecutive_losses,
			starting_equity = excluded.starting_equity,
			kill_switch = excluded.kill_switch
	`, r.Date, r.DailyPnL, r.Trades, r.Wins, r.Losses,
		r.ConsecutiveWins, r.ConsecutiveLosses, r.StartingEquity, r.KillSwitch)
	if err != nil {
		return fmt.Errorf("upsert risk day: %w", err)
	}
	return nil
}

// ProcessedSignal pairs a signal id with its payload fingerprint. The
// execution manager rehydrates its idempotency ledger from these after a
// restart so WAL redeliveries are not re-submitted.
type ProcessedSignal struct {
	SignalID    string
	Fingerprint string
}

// LoadProcessedSignals returns the most recent signal id / fingerprint
// pairs recorded on orders.
func (d *Database) LoadProcessedSignals(ctx context.Context, limit int) ([]ProcessedSignal, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT signal_id, fingerprint
		FROM orders
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query processed signals: %w", err)
	}
	defer rows.Close()

	var res []ProcessedSignal
	for rows.Next() {
		var p ProcessedSignal
		if err := rows.Scan(&p.SignalID, &p.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan processed signal: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
