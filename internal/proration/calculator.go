package proration

import (
	"context"
	"time"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400

// Result carries a computed plan-change proration. All amounts are
// integer minor currency units, rounded only at these presented values;
// the calculation itself runs on decimals so repeated prorations do not
// compound rounding error.
type Result struct {
	CurrentPlan     *gateway.Price `json:"current_plan"`
	NewPlan         *gateway.Price `json:"new_plan"`
	DaysRemaining   int            `json:"days_remaining"`
	TotalDays       int            `json:"total_days"`
	UnusedAmount    int64          `json:"unused_amount"`
	NewPlanAmount   int64          `json:"new_plan_amount"`
	Difference      int64          `json:"difference"`
	IsUpgrade       bool           `json:"is_upgrade"`
	IsDowngrade     bool           `json:"is_downgrade"`
	ImmediateCharge int64          `json:"immediate_charge"`
	CreditApplied   int64          `json:"credit_applied"`
	Currency        string         `json:"currency"`
	ProrationDate   time.Time      `json:"proration_date"`
}

// Calculator computes day-based prorations for plan changes. It is
// read-only: applying a plan change is a separate, explicit operation.
type Calculator struct {
	client gateway.Client
	logger *logger.Logger
}

func NewCalculator(client gateway.Client, logger *logger.Logger) *Calculator {
	return &Calculator{
		client: client,
		logger: logger,
	}
}

// CalculateForSubscription fetches the subscription and delegates to
// Calculate.
func (c *Calculator) CalculateForSubscription(ctx context.Context, subscriptionID, newPriceID string, prorationDate time.Time) (*Result, error) {
	sub, err := c.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return c.Calculate(ctx, sub, newPriceID, prorationDate)
}

// Calculate computes the proration for moving sub to newPriceID at
// prorationDate. A change to the same price short-circuits to a
// zero-amount result without any gateway lookups.
func (c *Calculator) Calculate(ctx context.Context, sub *gateway.Subscription, newPriceID string, prorationDate time.Time) (*Result, error) {
	if sub.PriceID == newPriceID {
		return &Result{ProrationDate: prorationDate}, nil
	}

	daysRemaining, totalDays, err := periodDays(sub.CurrentPeriodStart, sub.CurrentPeriodEnd, prorationDate)
	if err != nil {
		return nil, err
	}

	currentPlan, err := c.client.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return nil, err
	}
	newPlan, err := c.client.GetPrice(ctx, newPriceID)
	if err != nil {
		return nil, err
	}

	result := computeAmounts(currentPlan, newPlan, daysRemaining, totalDays)
	result.Currency = currentPlan.Currency
	result.ProrationDate = prorationDate

	c.logger.Debugw("computed proration",
		"subscription_id", sub.ID,
		"current_price_id", currentPlan.ID,
		"new_price_id", newPlan.ID,
		"days_remaining", daysRemaining,
		"total_days", totalDays,
		"difference", result.Difference,
	)

	return result, nil
}

// periodDays derives the ceil day counts for the billing period and
// the remainder after prorationDate.
func periodDays(periodStart, periodEnd time.Time, prorationDate time.Time) (daysRemaining, totalDays int, err error) {
	if prorationDate.Before(periodStart) || prorationDate.After(periodEnd) {
		return 0, 0, ierr.NewError("proration date outside billing period").
			WithHint("Proration date must fall within the current billing period").
			WithReportableDetails(map[string]any{
				"proration_date": prorationDate,
				"period_start":   periodStart,
				"period_end":     periodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	totalDays = ceilDays(periodEnd.Sub(periodStart))
	if totalDays == 0 {
		return 0, 0, ierr.NewError("billing period has zero length").
			WithHint("Cannot prorate a zero-length billing period").
			WithReportableDetails(map[string]any{
				"period_start": periodStart,
				"period_end":   periodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	daysRemaining = ceilDays(periodEnd.Sub(prorationDate))
	return daysRemaining, totalDays, nil
}

func ceilDays(d time.Duration) int {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		return 0
	}
	days := seconds / secondsPerDay
	if seconds%secondsPerDay > 0 {
		days++
	}
	return int(days)
}

// computeAmounts runs the proration math on decimals and rounds only
// the presented values.
func computeAmounts(currentPlan, newPlan *gateway.Price, daysRemaining, totalDays int) *Result {
	remaining := decimal.NewFromInt(int64(daysRemaining))
	total := decimal.NewFromInt(int64(totalDays))

	unused := decimal.NewFromInt(currentPlan.UnitAmount).Mul(remaining).Div(total)
	newAmount := decimal.NewFromInt(newPlan.UnitAmount).Mul(remaining).Div(total)
	difference := newAmount.Sub(unused)

	result := &Result{
		CurrentPlan:   currentPlan,
		NewPlan:       newPlan,
		DaysRemaining: daysRemaining,
		TotalDays:     totalDays,
		UnusedAmount:  unused.Round(0).IntPart(),
		NewPlanAmount: newAmount.Round(0).IntPart(),
		Difference:    difference.Round(0).IntPart(),
		IsUpgrade:     newPlan.UnitAmount > currentPlan.UnitAmount,
		IsDowngrade:   newPlan.UnitAmount < currentPlan.UnitAmount,
	}

	if result.IsUpgrade {
		result.ImmediateCharge = result.Difference
	}
	if result.IsDowngrade {
		credit := difference.Abs().Round(0).IntPart()
		result.CreditApplied = credit
	}

	return result
}
