package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pricehub/internal/application/port"
	"pricehub/internal/domain"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(dsn string, maxOpenConns int) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)

	r := &Repo{db: db, now: time.Now}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.migrate(ctx); err != nil {
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
  target_value NUMERIC NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  baseline_price NUMERIC,
  trigger_price NUMERIC,
  last_triggered_ms BIGINT,
  created_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol_active ON alerts(symbol) WHERE active;
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
`)
	return err
}

// numerics are read back as text so no float conversion happens
const alertColumns = `id, user_id, symbol, condition, target_value::text, active, baseline_price::text, trigger_price::text, last_triggered_ms, created_ms`

func (r *Repo) CreateAlert(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	rule, err := domain.PrepareNewAlert(rule, r.now())
	if err != nil {
		return domain.AlertRule{}, err
	}

	var baseline any
	if rule.BaselinePrice != nil {
		baseline = rule.BaselinePrice.String()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts(id, user_id, symbol, condition, target_value, active, baseline_price, created_ms)
		VALUES($1, $2, $3, $4, $5::numeric, TRUE, $6::numeric, $7)
	`, rule.ID, rule.UserID, rule.Symbol, string(rule.Condition), rule.TargetValue.String(), baseline, rule.CreatedAt.UnixMilli())
	if err != nil {
		return domain.AlertRule{}, fmt.Errorf("insert alert: %w", err)
	}
	return rule, nil
}

func (r *Repo) GetAlert(ctx context.Context, id string) (domain.AlertRule, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AlertRule{}, domain.ErrAlertNotFound
	}
	return a, err
}

func (r *Repo) FindActiveAlertsForSymbol(ctx context.Context, symbol string) ([]domain.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE symbol=$1 AND active ORDER BY created_ms, id`,
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

// TryMarkTriggered flips active under the row lock taken by UPDATE; concurrent callers
// re-check the WHERE clause after the winner commits and match zero rows.
func (r *Repo) TryMarkTriggered(ctx context.Context, alertID string, price decimal.Decimal, at time.Time) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE alerts SET active=FALSE, trigger_price=$1::numeric, last_triggered_ms=$2
		WHERE id=$3 AND active
		RETURNING id
	`, price.String(), at.UnixMilli(), alertID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE id=$1)`, alertID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrAlertNotFound
	}
	return false, nil
}

func (r *Repo) ActiveSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM alerts WHERE active ORDER BY symbol`)
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
		baseline, trigger        sql.NullString
		lastTriggered, createdMs sql.NullInt64
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Symbol, &cond, &target, &a.Active, &baseline, &trigger, &lastTriggered, &createdMs); err != nil {
		return domain.AlertRule{}, err
	}

	a.Condition = domain.Condition(strings.ToLower(cond))

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
