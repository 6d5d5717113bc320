package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/testutil"
	"github.com/helioscale/helioscale/internal/types"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetGateway(), s.GetSink())
	s.service = NewSubscriptionService(params)

	s.GetGateway().AddPrice(&gateway.Price{ID: "price_basic", UnitAmount: 2000, Currency: "usd", Interval: "month"})
	s.GetGateway().AddPrice(&gateway.Price{ID: "price_pro", UnitAmount: 5000, Currency: "usd", Interval: "month"})
}

func (s *SubscriptionServiceSuite) seedActive() *gateway.Subscription {
	now := s.GetNow()
	return s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID:         "cus_1",
		PriceID:            "price_basic",
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: now.AddDate(0, 0, -20),
		CurrentPeriodEnd:   now.AddDate(0, 0, 10),
		CreatedAt:          now.AddDate(0, -3, 0),
	})
}

func (s *SubscriptionServiceSuite) TestUpgradeChargesDifference() {
	sub := s.seedActive()

	updated, result, err := s.service.Upgrade(s.GetContext(), sub.ID, "price_pro")
	s.Require().NoError(err)

	s.Equal("price_pro", updated.PriceID)
	s.Equal("upgrade", updated.Metadata["last_plan_change"])
	s.True(result.IsUpgrade)
	s.Equal(int64(1000), result.ImmediateCharge)

	entries := s.GetSink().EntriesByAction(types.AuditActionSubscriptionUpgraded)
	s.Require().Len(entries, 1)
	s.Equal(sub.ID, entries[0].ResourceID)
	s.Equal("1000", entries[0].Metadata["immediate_charge"])
}

func (s *SubscriptionServiceSuite) TestDowngradeDefersCredit() {
	sub := s.seedActive()
	_, _, err := s.service.Upgrade(s.GetContext(), sub.ID, "price_pro")
	s.Require().NoError(err)

	updated, result, err := s.service.Downgrade(s.GetContext(), sub.ID, "price_basic")
	s.Require().NoError(err)

	s.Equal("price_basic", updated.PriceID)
	s.Equal("downgrade", updated.Metadata["last_plan_change"])
	s.True(result.IsDowngrade)
	s.Equal(int64(0), result.ImmediateCharge)
	s.Equal(int64(1000), result.CreditApplied)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionDowngraded), 1)
}

func (s *SubscriptionServiceSuite) TestSamePriceChangeIsNoOp() {
	sub := s.seedActive()
	s.GetGateway().ResetCalls()

	updated, result, err := s.service.Upgrade(s.GetContext(), sub.ID, "price_basic")
	s.Require().NoError(err)

	s.Equal("price_basic", updated.PriceID)
	s.Equal(int64(0), result.Difference)
	s.Empty(s.GetSink().Entries(), "no audit record for a no-op change")
	s.NotContains(s.GetGateway().Calls(), "subscription.update")
	s.NotContains(s.GetGateway().Calls(), "price.retrieve")
}

func (s *SubscriptionServiceSuite) TestChangePlanOnCanceledFails() {
	sub := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusCanceled,
	})

	_, _, err := s.service.Upgrade(s.GetContext(), sub.ID, "price_pro")
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEnd() {
	sub := s.seedActive()

	updated, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{Reason: "too expensive"})
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusActive, updated.Status)
	s.True(updated.CancelAtPeriodEnd)

	entries := s.GetSink().EntriesByAction(types.AuditActionSubscriptionCanceled)
	s.Require().Len(entries, 1)
	s.Equal("at_period_end", entries[0].Metadata["mode"])
	s.Equal(types.AuditSeverityMedium, entries[0].Severity)
}

func (s *SubscriptionServiceSuite) TestCancelIsIdempotent() {
	sub := s.seedActive()

	_, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{})
	s.Require().NoError(err)
	again, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{})
	s.Require().NoError(err)

	s.True(again.CancelAtPeriodEnd)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionCanceled), 1,
		"repeat cancel must not produce a duplicate audit record")
}

func (s *SubscriptionServiceSuite) TestCancelImmediate() {
	sub := s.seedActive()

	updated, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{Immediate: true})
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, updated.Status)

	// Canceling a canceled subscription is a quiet no-op.
	again, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{Immediate: true})
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, again.Status)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionCanceled), 1)
}

func (s *SubscriptionServiceSuite) TestReactivateClearsPendingCancellation() {
	sub := s.seedActive()
	_, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{})
	s.Require().NoError(err)

	updated, err := s.service.Reactivate(s.GetContext(), sub.ID)
	s.Require().NoError(err)

	s.False(updated.CancelAtPeriodEnd)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionReactivated), 1)
}

func (s *SubscriptionServiceSuite) TestReactivateWithoutPendingCancellationFails() {
	sub := s.seedActive()

	_, err := s.service.Reactivate(s.GetContext(), sub.ID)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestReactivateCanceledFails() {
	sub := s.seedActive()
	_, err := s.service.Cancel(s.GetContext(), sub.ID, CancelParams{Immediate: true})
	s.Require().NoError(err)

	_, err = s.service.Reactivate(s.GetContext(), sub.ID)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestPauseAndResume() {
	sub := s.seedActive()
	resumeAt := s.GetNow().AddDate(0, 1, 0)

	paused, err := s.service.Pause(s.GetContext(), sub.ID, &resumeAt)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusPaused, paused.Status)
	s.Equal(resumeAt.Format(time.RFC3339), paused.Metadata["resume_at"])

	resumed, err := s.service.Resume(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, resumed.Status)
	s.NotContains(resumed.Metadata, "resume_at")

	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionPaused), 1)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionSubscriptionResumed), 1)
}

func (s *SubscriptionServiceSuite) TestPauseCanceledFails() {
	sub := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusCanceled,
	})

	_, err := s.service.Pause(s.GetContext(), sub.ID, nil)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestResumeActiveIsNoOp() {
	sub := s.seedActive()

	resumed, err := s.service.Resume(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, resumed.Status)
	s.Empty(s.GetSink().EntriesByAction(types.AuditActionSubscriptionResumed))
}

func (s *SubscriptionServiceSuite) TestProcessScheduledResumes() {
	due := s.seedActive()
	past := s.GetNow().Add(-time.Hour)
	_, err := s.service.Pause(s.GetContext(), due.ID, &past)
	s.Require().NoError(err)

	notYet := s.seedActive()
	future := s.GetNow().AddDate(0, 0, 7)
	_, err = s.service.Pause(s.GetContext(), notYet.ID, &future)
	s.Require().NoError(err)

	indefinite := s.seedActive()
	_, err = s.service.Pause(s.GetContext(), indefinite.ID, nil)
	s.Require().NoError(err)

	resumed, err := s.service.ProcessScheduledResumes(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, resumed)

	sub, err := s.service.GetSubscription(s.GetContext(), due.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusActive, sub.Status)

	sub, err = s.service.GetSubscription(s.GetContext(), notYet.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusPaused, sub.Status)
}

func (s *SubscriptionServiceSuite) TestUpcomingRenewals() {
	soon := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID:         "cus_1",
		PriceID:            "price_basic",
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodEnd:   s.GetNow().AddDate(0, 0, 5),
		CurrentPeriodStart: s.GetNow().AddDate(0, 0, -25),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID:         "cus_2",
		PriceID:            "price_basic",
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodEnd:   s.GetNow().AddDate(0, 2, 0),
		CurrentPeriodStart: s.GetNow().AddDate(0, 1, 0),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID:         "cus_3",
		PriceID:            "price_basic",
		Status:             types.SubscriptionStatusActive,
		CancelAtPeriodEnd:  true,
		CurrentPeriodEnd:   s.GetNow().AddDate(0, 0, 3),
		CurrentPeriodStart: s.GetNow().AddDate(0, 0, -27),
	})

	renewals, err := s.service.UpcomingRenewals(s.GetContext(), 30*24*time.Hour)
	s.Require().NoError(err)
	s.Require().Len(renewals, 1)
	s.Equal(soon.ID, renewals[0].ID)
}

func (s *SubscriptionServiceSuite) TestListPlansSortedByAmount() {
	plans, err := s.service.ListPlans(s.GetContext())
	s.Require().NoError(err)
	s.Require().Len(plans, 2)
	s.Equal("price_basic", plans[0].ID)
	s.Equal("price_pro", plans[1].ID)
}
