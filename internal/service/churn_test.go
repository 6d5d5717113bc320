package service

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/testutil"
	"github.com/helioscale/helioscale/internal/types"
)

type ChurnServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ChurnService
}

func TestChurnService(t *testing.T) {
	suite.Run(t, new(ChurnServiceSuite))
}

func (s *ChurnServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetGateway(), s.GetSink())
	s.service = NewChurnService(params)
}

func (s *ChurnServiceSuite) seedHealthy(customerID string) {
	s.GetGateway().AddCustomer(&gateway.Customer{
		ID:                     customerID,
		Email:                  customerID + "@example.com",
		DefaultPaymentMethodID: "pm_1",
		CreatedAt:              s.GetNow().AddDate(-1, 0, 0),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: customerID,
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
		CreatedAt:  s.GetNow().AddDate(-1, 0, 0),
	})
	for i := 0; i < 2; i++ {
		s.GetGateway().AddInvoice(&gateway.Invoice{
			CustomerID: customerID,
			AmountDue:  2000,
			Currency:   "usd",
			Status:     types.InvoiceStatusPaid,
			CreatedAt:  s.GetNow().AddDate(0, 0, -10*(i+1)),
		})
	}
}

func (s *ChurnServiceSuite) seedTroubled(customerID string) {
	// Canceled subscription, three failed invoices, 10 day old account,
	// no payment method: 25 + 30 + 13 + 10 = 78.
	s.GetGateway().AddCustomer(&gateway.Customer{
		ID:        customerID,
		Email:     customerID + "@example.com",
		CreatedAt: s.GetNow().AddDate(0, 0, -10),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: customerID,
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusCanceled,
		CreatedAt:  s.GetNow().AddDate(0, 0, -10),
	})
	for i := 0; i < 3; i++ {
		s.GetGateway().AddInvoice(&gateway.Invoice{
			CustomerID:   customerID,
			AmountDue:    2000,
			Currency:     "usd",
			Status:       types.InvoiceStatusOpen,
			AttemptCount: 2,
			CreatedAt:    s.GetNow().AddDate(0, 0, -(i + 1)),
		})
	}
}

func (s *ChurnServiceSuite) factorImpact(assessment *ChurnAssessment, name string) (int, bool) {
	for _, f := range assessment.Factors {
		if f.Factor == name {
			return f.Impact, true
		}
	}
	return 0, false
}

func (s *ChurnServiceSuite) TestHealthyCustomerIsLowRisk() {
	s.seedHealthy("cus_ok")

	assessment, err := s.service.AssessCustomer(s.GetContext(), "cus_ok")
	s.Require().NoError(err)

	s.Equal(0, assessment.RiskScore)
	s.Equal(types.ChurnRiskLow, assessment.RiskLevel)
	s.Empty(assessment.Factors)
	s.Require().Len(assessment.Recommendations, 1)
	s.Equal("Maintain Engagement", assessment.Recommendations[0].Action)
	s.Equal(int64(4000), assessment.LifetimeValue)
}

func (s *ChurnServiceSuite) TestTroubledCustomerIsCritical() {
	s.seedTroubled("cus_bad")

	assessment, err := s.service.AssessCustomer(s.GetContext(), "cus_bad")
	s.Require().NoError(err)

	s.Equal(78, assessment.RiskScore)
	s.Equal(types.ChurnRiskCritical, assessment.RiskLevel)

	impact, ok := s.factorImpact(assessment, FactorPaymentFailures)
	s.True(ok)
	s.Equal(30, impact, "failure points cap at 30")

	impact, ok = s.factorImpact(assessment, FactorPastDueOrCanceled)
	s.True(ok)
	s.Equal(25, impact)

	impact, ok = s.factorImpact(assessment, FactorNewCustomer)
	s.True(ok)
	s.Equal(13, impact)

	impact, ok = s.factorImpact(assessment, FactorNoPaymentMethod)
	s.True(ok)
	s.Equal(10, impact)

	_, ok = s.factorImpact(assessment, FactorNoActiveSubs)
	s.False(ok, "troubled subscriptions replace the no-active factor")
}

func (s *ChurnServiceSuite) TestNoActiveSubscriptionFactor() {
	s.GetGateway().AddCustomer(&gateway.Customer{
		ID:                     "cus_gone",
		DefaultPaymentMethodID: "pm_1",
		CreatedAt:              s.GetNow().AddDate(-1, 0, 0),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_gone",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusPaused,
		CreatedAt:  s.GetNow().AddDate(-1, 0, 0),
	})
	for i := 0; i < 2; i++ {
		s.GetGateway().AddInvoice(&gateway.Invoice{
			CustomerID: "cus_gone",
			Status:     types.InvoiceStatusPaid,
			CreatedAt:  s.GetNow().AddDate(0, 0, -5),
		})
	}

	assessment, err := s.service.AssessCustomer(s.GetContext(), "cus_gone")
	s.Require().NoError(err)

	impact, ok := s.factorImpact(assessment, FactorNoActiveSubs)
	s.True(ok)
	s.Equal(15, impact)
}

func (s *ChurnServiceSuite) TestDisputePointsCap() {
	s.seedHealthy("cus_d")
	for i := 0; i < 3; i++ {
		s.GetGateway().AddCharge(&gateway.Charge{
			CustomerID: "cus_d",
			Amount:     2000,
			Status:     gateway.ChargeStatusSucceeded,
			Disputed:   true,
		})
	}

	assessment, err := s.service.AssessCustomer(s.GetContext(), "cus_d")
	s.Require().NoError(err)

	impact, ok := s.factorImpact(assessment, FactorPaymentDisputes)
	s.True(ok)
	s.Equal(20, impact, "dispute points cap at 20")
}

func (s *ChurnServiceSuite) TestDowngradeFactor() {
	s.seedHealthy("cus_dg")
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_dg",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
		Metadata:   types.Metadata{"last_plan_change": "downgrade"},
		CreatedAt:  s.GetNow().AddDate(-1, 0, 0),
	})

	assessment, err := s.service.AssessCustomer(s.GetContext(), "cus_dg")
	s.Require().NoError(err)

	impact, ok := s.factorImpact(assessment, FactorRecentDowngrade)
	s.True(ok)
	s.Equal(15, impact)
}

func (s *ChurnServiceSuite) TestAssessmentIsCached() {
	s.seedHealthy("cus_c")

	_, err := s.service.AssessCustomer(s.GetContext(), "cus_c")
	s.Require().NoError(err)

	s.GetGateway().ResetCalls()
	_, err = s.service.AssessCustomer(s.GetContext(), "cus_c")
	s.Require().NoError(err)
	s.Empty(s.GetGateway().Calls(), "a cached assessment needs no gateway reads")
}

func (s *ChurnServiceSuite) TestAtRiskCustomersSortedByScore() {
	s.seedHealthy("cus_ok")
	s.seedTroubled("cus_bad")

	atRisk, err := s.service.AtRiskCustomers(s.GetContext(), 30, 100)
	s.Require().NoError(err)

	s.Require().Len(atRisk, 1)
	s.Equal("cus_bad", atRisk[0].CustomerID)
	s.Equal(types.ChurnRiskCritical, atRisk[0].RiskLevel)
}

func (s *ChurnServiceSuite) TestGenerateReport() {
	s.seedHealthy("cus_ok")
	s.seedTroubled("cus_bad")

	report, err := s.service.GenerateReport(s.GetContext())
	s.Require().NoError(err)

	s.Equal(2, report.Summary.TotalCustomers)
	s.Equal(1, report.Summary.CriticalRisk)
	s.Equal(1, report.Summary.LowRisk)
	s.Equal((78+0)/2, report.Summary.AverageRiskScore)
	// The troubled customer has no paid invoices, so no revenue is at
	// risk even though they score critical.
	s.Equal(int64(0), report.Summary.AtRiskRevenue)
	s.Require().Len(report.Customers, 2)
	s.Equal("cus_bad", report.Customers[0].CustomerID)
}

func (s *ChurnServiceSuite) TestRetentionSkipsLowRisk() {
	s.seedHealthy("cus_ok")

	result, err := s.service.ExecuteRetentionActions(s.GetContext(), "cus_ok")
	s.Require().NoError(err)

	s.True(result.Skipped)
	s.Empty(result.ActionsExecuted)
	s.Empty(s.GetSink().EntriesByAction(types.AuditActionRetentionActionExecuted))
}

func (s *ChurnServiceSuite) TestRetentionExecutesCriticalAndHigh() {
	s.seedTroubled("cus_bad")

	result, err := s.service.ExecuteRetentionActions(s.GetContext(), "cus_bad")
	s.Require().NoError(err)

	s.False(result.Skipped)
	actions := make([]string, 0, len(result.ActionsExecuted))
	for _, a := range result.ActionsExecuted {
		actions = append(actions, a.Action)
	}
	s.Contains(actions, "Update Payment Method")
	s.Contains(actions, "Win-Back Campaign")
	// Medium priority recommendations stay manual.
	s.NotContains(actions, "Onboarding Assistance")
	s.NotContains(actions, "Add Payment Method")

	s.Len(s.GetSink().EntriesByAction(types.AuditActionRetentionActionExecuted), len(result.ActionsExecuted))
}
