package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Condition is the stored trigger condition of an alert.
type Condition string

const (
	ConditionAbove             Condition = "above"
	ConditionBelow             Condition = "below"
	ConditionPercentChangeUp   Condition = "percent_change_up"
	ConditionPercentChangeDown Condition = "percent_change_down"
)

// NotificationKindPriceAlert is the kind passed to the notification gate for triggered alerts.
const NotificationKindPriceAlert = "price_alert"

var (
	ErrUnknownCondition = errors.New("unknown alert condition")
	ErrInvalidBaseline  = errors.New("percent change alert has no positive baseline")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrInvalidAlert     = errors.New("invalid alert")
)

var hundred = decimal.NewFromInt(100)

// ParseCondition accepts the stored form, case-insensitively.
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ConditionAbove, ConditionBelow, ConditionPercentChangeUp, ConditionPercentChangeDown:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCondition, s)
}

func (c Condition) IsPercent() bool {
	return c == ConditionPercentChangeUp || c == ConditionPercentChangeDown
}

// AlertRule is owned by the persistence layer; the engine only reads it.
type AlertRule struct {
	ID              string
	UserID          string
	Symbol          string
	Condition       Condition
	TargetValue     decimal.Decimal
	Active          bool
	BaselinePrice   *decimal.Decimal // set at creation for percent-change conditions
	LastTriggeredAt *time.Time
	TriggerPrice    *decimal.Decimal
	CreatedAt       time.Time
}

// ShouldTrigger evaluates the rule against a price. Inactive rules never trigger.
func (a AlertRule) ShouldTrigger(price decimal.Decimal) (bool, error) {
	if !a.Active {
		return false, nil
	}

	switch a.Condition {
	case ConditionAbove:
		return price.GreaterThanOrEqual(a.TargetValue), nil
	case ConditionBelow:
		return price.LessThanOrEqual(a.TargetValue), nil
	case ConditionPercentChangeUp, ConditionPercentChangeDown:
		change, err := a.PercentChange(price)
		if err != nil {
			return false, err
		}
		target := a.TargetValue.Abs()
		if a.Condition == ConditionPercentChangeUp {
			return change.GreaterThanOrEqual(target), nil
		}
		return change.Neg().GreaterThanOrEqual(target), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCondition, string(a.Condition))
	}
}

// PercentChange returns (price - baseline) / baseline * 100.
func (a AlertRule) PercentChange(price decimal.Decimal) (decimal.Decimal, error) {
	if a.BaselinePrice == nil || !a.BaselinePrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: alert %s", ErrInvalidBaseline, a.ID)
	}
	base := *a.BaselinePrice
	return price.Sub(base).Div(base).Mul(hundred), nil
}

// TriggerEvent is emitted once per active->triggered transition.
type TriggerEvent struct {
	AlertID      string          `json:"alertId"`
	UserID       string          `json:"userId"`
	Symbol       string          `json:"symbol"`
	Condition    Condition       `json:"condition"`
	TargetValue  decimal.Decimal `json:"targetValue"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	TriggeredAt  time.Time       `json:"triggeredAt"`
}

func NewTriggerEvent(rule AlertRule, price decimal.Decimal, at time.Time) TriggerEvent {
	return TriggerEvent{
		AlertID:      rule.ID,
		UserID:       rule.UserID,
		Symbol:       rule.Symbol,
		Condition:    rule.Condition,
		TargetValue:  rule.TargetValue,
		TriggerPrice: price,
		TriggeredAt:  at,
	}
}

// PrepareNewAlert validates a rule before it is stored and fills id, symbol form,
// active flag and creation time.
func PrepareNewAlert(rule AlertRule, now time.Time) (AlertRule, error) {
	rule.Symbol = CanonicalSymbol(rule.Symbol)
	if !ValidSymbol(rule.Symbol) {
		return AlertRule{}, fmt.Errorf("%w: symbol %q", ErrInvalidAlert, rule.Symbol)
	}
	if strings.TrimSpace(rule.UserID) == "" {
		return AlertRule{}, fmt.Errorf("%w: empty user id", ErrInvalidAlert)
	}
	cond, err := ParseCondition(string(rule.Condition))
	if err != nil {
		return AlertRule{}, err
	}
	rule.Condition = cond
	if cond.IsPercent() {
		if rule.BaselinePrice == nil || !rule.BaselinePrice.IsPositive() {
			return AlertRule{}, ErrInvalidBaseline
		}
	} else if !rule.TargetValue.IsPositive() {
		return AlertRule{}, fmt.Errorf("%w: target must be positive", ErrInvalidAlert)
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.Active = true
	rule.LastTriggeredAt = nil
	rule.TriggerPrice = nil
	return rule, nil
}
