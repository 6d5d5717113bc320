package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/helioscale/helioscale/internal/audit"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
)

// Factor names. Recommendations are derived from these, so the strings
// double as map keys.
const (
	FactorPaymentFailures   = "payment_failures"
	FactorPastDueOrCanceled = "past_due_or_canceled"
	FactorNoActiveSubs      = "no_active_subscriptions"
	FactorNewCustomer       = "new_customer"
	FactorLowActivity       = "low_recent_activity"
	FactorPaymentDisputes   = "payment_disputes"
	FactorRecentDowngrade   = "recent_downgrade"
	FactorNoPaymentMethod   = "no_payment_method"
)

// ChurnFactor is one contributing signal in an assessment.
type ChurnFactor struct {
	Factor   string              `json:"factor"`
	Impact   int                 `json:"impact"`
	Severity types.AuditSeverity `json:"severity"`
}

// Recommendation is a retention action derived from a factor.
type Recommendation struct {
	Priority    types.RecommendationPriority `json:"priority"`
	Action      string                       `json:"action"`
	Description string                       `json:"description"`
	Automation  string                       `json:"automation"`
}

// ChurnAssessment is the full risk picture for one customer. It is
// derived data computed from gateway state and safe to cache.
type ChurnAssessment struct {
	CustomerID          string               `json:"customer_id"`
	CustomerEmail       string               `json:"customer_email,omitempty"`
	CustomerName        string               `json:"customer_name,omitempty"`
	RiskScore           int                  `json:"risk_score"`
	RiskLevel           types.ChurnRiskLevel `json:"risk_level"`
	Factors             []ChurnFactor        `json:"factors"`
	Recommendations     []Recommendation     `json:"recommendations"`
	LifetimeValue       int64                `json:"lifetime_value"`
	AccountAgeDays      int                  `json:"account_age_days"`
	ActiveSubscriptions int                  `json:"active_subscriptions"`
	AnalyzedAt          time.Time            `json:"analyzed_at"`
}

// ChurnReportSummary aggregates a report run.
type ChurnReportSummary struct {
	TotalCustomers   int   `json:"total_customers"`
	AverageRiskScore int   `json:"average_risk_score"`
	CriticalRisk     int   `json:"critical_risk"`
	HighRisk         int   `json:"high_risk"`
	MediumRisk       int   `json:"medium_risk"`
	LowRisk          int   `json:"low_risk"`
	// AtRiskRevenue is the summed lifetime value of customers scoring
	// at or above the high threshold, in cents.
	AtRiskRevenue        int64 `json:"at_risk_revenue"`
	RevenueAtRiskPercent int   `json:"revenue_at_risk_percent"`
}

// ChurnReport is a customer-base-wide sweep, highest risk first.
type ChurnReport struct {
	Summary     ChurnReportSummary `json:"summary"`
	Customers   []*ChurnAssessment `json:"customers"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// RetentionAction records one executed retention stub.
type RetentionAction struct {
	Action      string    `json:"action"`
	Description string    `json:"description"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// RetentionResult reports what ExecuteRetentionActions did.
type RetentionResult struct {
	CustomerID      string               `json:"customer_id"`
	RiskScore       int                  `json:"risk_score"`
	RiskLevel       types.ChurnRiskLevel `json:"risk_level"`
	ActionsExecuted []RetentionAction    `json:"actions_executed"`
	Skipped         bool                 `json:"skipped"`
}

// ChurnService scores customers for churn risk and drives retention.
type ChurnService interface {
	AssessCustomer(ctx context.Context, customerID string) (*ChurnAssessment, error)
	AtRiskCustomers(ctx context.Context, minScore, limit int) ([]*ChurnAssessment, error)
	GenerateReport(ctx context.Context) (*ChurnReport, error)
	ExecuteRetentionActions(ctx context.Context, customerID string) (*RetentionResult, error)
}

type churnService struct {
	ServiceParams
	// assessments caches derived scores; gateway state stays the
	// system of record.
	assessments *cache.Cache
}

func NewChurnService(params ServiceParams) ChurnService {
	ttl := params.Config.Churn.CacheTTL
	return &churnService{
		ServiceParams: params,
		assessments:   cache.New(ttl, 2*ttl),
	}
}

// AssessCustomer computes the additive risk score for one customer.
// Each factor is independently capped, the sum clamped to [0,100].
func (s *churnService) AssessCustomer(ctx context.Context, customerID string) (*ChurnAssessment, error) {
	if cached, found := s.assessments.Get(customerID); found {
		return cached.(*ChurnAssessment), nil
	}

	customer, err := s.Gateway.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	subs, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	invoices, err := s.Gateway.ListInvoices(ctx, gateway.InvoiceFilter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	charges, err := s.Gateway.ListCharges(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	score := 0
	var factors []ChurnFactor

	addFactor := func(name string, impact int, severity types.AuditSeverity) {
		score += impact
		factors = append(factors, ChurnFactor{Factor: name, Impact: impact, Severity: severity})
	}

	// Payment failures: 10 points each, capped at 30.
	failed := lo.CountBy(invoices, func(inv *gateway.Invoice) bool {
		if inv.Status == types.InvoiceStatusUncollectible {
			return true
		}
		return inv.Status == types.InvoiceStatusOpen && inv.AttemptCount > 0
	})
	if failed > 0 {
		severity := types.AuditSeverityMedium
		if failed > 2 {
			severity = types.AuditSeverityHigh
		}
		addFactor(FactorPaymentFailures, min(failed*10, 30), severity)
	}

	// Subscription standing: troubled subscriptions outweigh
	// having none at all, and the two never stack.
	troubled := lo.CountBy(subs, func(sub *gateway.Subscription) bool {
		return sub.Status == types.SubscriptionStatusCanceled ||
			sub.Status == types.SubscriptionStatusPastDue
	})
	active := lo.CountBy(subs, func(sub *gateway.Subscription) bool {
		return sub.Status == types.SubscriptionStatusActive
	})
	if troubled > 0 {
		addFactor(FactorPastDueOrCanceled, 25, types.AuditSeverityHigh)
	} else if active == 0 {
		addFactor(FactorNoActiveSubs, 15, types.AuditSeverityMedium)
	}

	// Account age: up to 20 points, decaying linearly to zero at day 30.
	ageDays := now.Sub(customer.CreatedAt).Hours() / 24
	if ageDays < 30 {
		agePoints := decimal.NewFromInt(20).
			Sub(decimal.NewFromFloat(ageDays).Div(decimal.NewFromInt(30)).Mul(decimal.NewFromInt(20)))
		addFactor(FactorNewCustomer, int(agePoints.Round(0).IntPart()), types.AuditSeverityMedium)
	}

	// Established customer gone quiet: fewer than two invoices in the
	// last 60 days.
	recentInvoices := lo.CountBy(invoices, func(inv *gateway.Invoice) bool {
		return now.Sub(inv.CreatedAt) <= 60*24*time.Hour
	})
	if recentInvoices < 2 && ageDays > 60 {
		addFactor(FactorLowActivity, 15, types.AuditSeverityMedium)
	}

	// Disputes: 10 points each, capped at 20.
	disputes := lo.CountBy(charges, func(c *gateway.Charge) bool { return c.Disputed })
	if disputes > 0 {
		addFactor(FactorPaymentDisputes, min(disputes*10, 20), types.AuditSeverityHigh)
	}

	// A recorded downgrade on any subscription.
	downgraded := lo.SomeBy(subs, func(sub *gateway.Subscription) bool {
		return sub.Metadata[metaLastPlanChange] == "downgrade"
	})
	if downgraded {
		addFactor(FactorRecentDowngrade, 15, types.AuditSeverityHigh)
	}

	if customer.DefaultPaymentMethodID == "" {
		addFactor(FactorNoPaymentMethod, 10, types.AuditSeverityMedium)
	}

	if score > 100 {
		score = 100
	}

	assessment := &ChurnAssessment{
		CustomerID:          customerID,
		CustomerEmail:       customer.Email,
		CustomerName:        customer.Name,
		RiskScore:           score,
		RiskLevel:           types.ChurnRiskLevelForScore(score),
		Factors:             factors,
		Recommendations:     recommendationsFor(factors),
		LifetimeValue:       lifetimeValue(invoices),
		AccountAgeDays:      int(ageDays),
		ActiveSubscriptions: active,
		AnalyzedAt:          now,
	}
	s.assessments.SetDefault(customerID, assessment)
	return assessment, nil
}

// lifetimeValue sums paid invoice amounts in cents.
func lifetimeValue(invoices []*gateway.Invoice) int64 {
	total := decimal.Zero
	for _, inv := range invoices {
		if inv.Status == types.InvoiceStatusPaid {
			total = total.Add(decimal.NewFromInt(inv.AmountDue))
		}
	}
	return total.IntPart()
}

// recommendationsFor maps factors to retention actions. The mapping is
// deterministic so retention runs are reproducible.
func recommendationsFor(factors []ChurnFactor) []Recommendation {
	byFactor := map[string]Recommendation{
		FactorPaymentFailures: {
			Priority:    types.RecommendationPriorityHigh,
			Action:      "Update Payment Method",
			Description: "Customer has failed payments. Reach out to update their payment method.",
			Automation:  "Send payment update reminder email",
		},
		FactorPastDueOrCanceled: {
			Priority:    types.RecommendationPriorityCritical,
			Action:      "Win-Back Campaign",
			Description: "Customer has canceled or past due subscription. Offer special re-engagement discount.",
			Automation:  "Trigger win-back email sequence with 20% discount",
		},
		FactorNewCustomer: {
			Priority:    types.RecommendationPriorityMedium,
			Action:      "Onboarding Assistance",
			Description: "New customer may need help getting started. Provide onboarding support.",
			Automation:  "Schedule onboarding call or send tutorial videos",
		},
		FactorLowActivity: {
			Priority:    types.RecommendationPriorityHigh,
			Action:      "Re-Engagement Campaign",
			Description: "Customer activity has declined. Send re-engagement content.",
			Automation:  "Send feature highlight email or offer free training",
		},
		FactorRecentDowngrade: {
			Priority:    types.RecommendationPriorityHigh,
			Action:      "Value Check-In",
			Description: "Customer downgraded recently. Schedule call to understand their needs.",
			Automation:  "Assign account manager for personalized outreach",
		},
		FactorPaymentDisputes: {
			Priority:    types.RecommendationPriorityCritical,
			Action:      "Dispute Resolution",
			Description: "Customer has disputed charges. Immediate attention required.",
			Automation:  "Escalate to support team for resolution",
		},
		FactorNoPaymentMethod: {
			Priority:    types.RecommendationPriorityMedium,
			Action:      "Add Payment Method",
			Description: "No payment method on file. Remind customer to add one.",
			Automation:  "Send payment method setup email",
		},
	}

	var recs []Recommendation
	for _, f := range factors {
		if rec, ok := byFactor[f.Factor]; ok {
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Priority:    types.RecommendationPriorityLow,
			Action:      "Maintain Engagement",
			Description: "Customer is healthy. Continue regular communication.",
			Automation:  "Include in monthly newsletter",
		})
	}
	return recs
}

// customerIDs returns the distinct customers known to the gateway,
// derived from the subscription list.
func (s *churnService) customerIDs(ctx context.Context) ([]string, error) {
	subs, err := s.Gateway.ListSubscriptions(ctx, gateway.SubscriptionFilter{})
	if err != nil {
		return nil, err
	}
	ids := lo.Uniq(lo.Map(subs, func(sub *gateway.Subscription, _ int) string {
		return sub.CustomerID
	}))
	sort.Strings(ids)
	return ids, nil
}

// AtRiskCustomers assesses up to limit customers and returns those at
// or above minScore, highest risk first. Per-customer failures are
// logged and skipped so one bad record cannot abort the sweep.
func (s *churnService) AtRiskCustomers(ctx context.Context, minScore, limit int) ([]*ChurnAssessment, error) {
	ids, err := s.customerIDs(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	var atRisk []*ChurnAssessment
	for _, id := range ids {
		assessment, err := s.AssessCustomer(ctx, id)
		if err != nil {
			s.Logger.Errorw("failed to assess customer", "customer_id", id, "error", err)
			continue
		}
		if assessment.RiskScore >= minScore {
			atRisk = append(atRisk, assessment)
		}
	}

	sort.Slice(atRisk, func(i, j int) bool {
		return atRisk[i].RiskScore > atRisk[j].RiskScore
	})
	return atRisk, nil
}

// GenerateReport assesses the whole customer base.
func (s *churnService) GenerateReport(ctx context.Context) (*ChurnReport, error) {
	ids, err := s.customerIDs(ctx)
	if err != nil {
		return nil, err
	}

	var assessments []*ChurnAssessment
	for _, id := range ids {
		assessment, err := s.AssessCustomer(ctx, id)
		if err != nil {
			s.Logger.Errorw("failed to assess customer", "customer_id", id, "error", err)
			continue
		}
		assessments = append(assessments, assessment)
	}

	report := &ChurnReport{GeneratedAt: time.Now().UTC()}
	report.Summary.TotalCustomers = len(assessments)

	totalScore := 0
	totalRevenue := decimal.Zero
	atRiskRevenue := decimal.Zero
	for _, a := range assessments {
		totalScore += a.RiskScore
		totalRevenue = totalRevenue.Add(decimal.NewFromInt(a.LifetimeValue))
		switch a.RiskLevel {
		case types.ChurnRiskCritical:
			report.Summary.CriticalRisk++
		case types.ChurnRiskHigh:
			report.Summary.HighRisk++
		case types.ChurnRiskMedium:
			report.Summary.MediumRisk++
		default:
			report.Summary.LowRisk++
		}
		if a.RiskScore >= 50 {
			atRiskRevenue = atRiskRevenue.Add(decimal.NewFromInt(a.LifetimeValue))
		}
	}

	if len(assessments) > 0 {
		report.Summary.AverageRiskScore = totalScore / len(assessments)
	}
	report.Summary.AtRiskRevenue = atRiskRevenue.IntPart()
	if totalRevenue.IsPositive() {
		pct := atRiskRevenue.Div(totalRevenue).Mul(decimal.NewFromInt(100))
		report.Summary.RevenueAtRiskPercent = int(pct.Round(0).IntPart())
	}

	sort.Slice(assessments, func(i, j int) bool {
		return assessments[i].RiskScore > assessments[j].RiskScore
	})
	report.Customers = assessments
	return report, nil
}

// ExecuteRetentionActions runs the critical and high priority
// recommendations for one customer. Actual email/ticket automation is
// an external collaborator; each action is recorded in the audit trail.
func (s *churnService) ExecuteRetentionActions(ctx context.Context, customerID string) (*RetentionResult, error) {
	assessment, err := s.AssessCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &RetentionResult{
		CustomerID: customerID,
		RiskScore:  assessment.RiskScore,
		RiskLevel:  assessment.RiskLevel,
	}
	if assessment.RiskScore < 30 {
		result.Skipped = true
		return result, nil
	}

	now := time.Now().UTC()
	for _, rec := range assessment.Recommendations {
		if rec.Priority != types.RecommendationPriorityCritical &&
			rec.Priority != types.RecommendationPriorityHigh {
			continue
		}

		result.ActionsExecuted = append(result.ActionsExecuted, RetentionAction{
			Action:      rec.Action,
			Description: rec.Automation,
			ExecutedAt:  now,
		})
		audit.Log(ctx, s.Sink, s.Logger, audit.Entry{
			Action:       types.AuditActionRetentionActionExecuted,
			ResourceType: "customer",
			ResourceID:   customerID,
			Severity:     types.AuditSeverityMedium,
			Metadata: types.Metadata{
				"retention_action": rec.Action,
				"automation":       rec.Automation,
				"risk_score":       fmt.Sprintf("%d", assessment.RiskScore),
				"risk_level":       assessment.RiskLevel.String(),
			},
		})
	}
	return result, nil
}
