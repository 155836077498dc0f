package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; the CAS relies on the conditional UPDATE, not on this
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  condition TEXT NOT NULL,
  target_value TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  baseline_price TEXT,
  trigger_price TEXT,
  last_triggered_ms INTEGER,
  created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol_active ON alerts(symbol, active);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
`)
	return err
}

const alertColumns = `id, user_id, symbol, condition, target_value, active, baseline_price, trigger_price, last_triggered_ms, created_ms`

func (r *Repo) CreateAlert(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	rule, err := domain.PrepareNewAlert(rule, r.now())
	if err != nil {
		return domain.AlertRule{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts(id, user_id, symbol, condition, target_value, active, baseline_price, created_ms)
		VALUES(?, ?, ?, ?, ?, 1, ?, ?)
	`, rule.ID, rule.UserID, rule.Symbol, string(rule.Condition), rule.TargetValue.String(),
		nullDecimal(rule.BaselinePrice), rule.CreatedAt.UnixMilli())
	if err != nil {
		return domain.AlertRule{}, fmt.Errorf("insert alert: %w", err)
	}
	return rule, nil
}

func (r *Repo) GetAlert(ctx context.Context, id string) (domain.AlertRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AlertRule{}, domain.ErrAlertNotFound
	}
	return a, err
}

func (r *Repo) FindActiveAlertsForSymbol(ctx context.Context, symbol string) ([]domain.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE symbol=? AND active=1 ORDER BY created_ms, id`,
		domain.CanonicalSymbol(symbol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AlertRule
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TryMarkTriggered is the compare-and-swap: only the UPDATE that still sees active=1 wins.
func (r *Repo) TryMarkTriggered(ctx context.Context, alertID string, price decimal.Decimal, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET active=0, trigger_price=?, last_triggered_ms=?
		WHERE id=? AND active=1
	`, price.String(), at.UnixMilli(), alertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id=?`, alertID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrAlertNotFound
	}
	return false, err
}

func (r *Repo) ActiveSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM alerts WHERE active=1 ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (domain.AlertRule, error) {
	var (
		a                        domain.AlertRule
		cond, target             string
		active                   int
		baseline, trigger        sql.NullString
		lastTriggered, createdMs sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Symbol, &cond, &target, &active, &baseline, &trigger, &lastTriggered, &createdMs); err != nil {
		return domain.AlertRule{}, err
	}

	// unknown conditions are kept as-is so evaluation reports them per alert
	a.Condition = domain.Condition(strings.ToLower(cond))
	a.Active = active == 1

	var err error
	if a.TargetValue, err = decimal.NewFromString(target); err != nil {
		return domain.AlertRule{}, fmt.Errorf("alert %s target %q: %w", a.ID, target, err)
	}
	if a.BaselinePrice, err = parseNullDecimal(baseline); err != nil {
		return domain.AlertRule{}, fmt.Errorf("alert %s baseline: %w", a.ID, err)
	}
	if a.TriggerPrice, err = parseNullDecimal(trigger); err != nil {
		return domain.AlertRule{}, fmt.Errorf("alert %s trigger price: %w", a.ID, err)
	}
	if lastTriggered.Valid {
		t := time.UnixMilli(lastTriggered.Int64)
		a.LastTriggeredAt = &t
	}
	if createdMs.Valid {
		a.CreatedAt = time.UnixMilli(createdMs.Int64)
	}
	return a, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ port.AlertStore = (*Repo)(nil)
