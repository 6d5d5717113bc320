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

type TrialServiceSuite struct {
	testutil.BaseServiceTestSuite
	service TrialService
}

func TestTrialService(t *testing.T) {
	suite.Run(t, new(TrialServiceSuite))
}

func (s *TrialServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := NewServiceParams(s.GetLogger(), s.GetConfig(), s.GetGateway(), s.GetSink())
	s.service = NewTrialService(params)

	s.GetGateway().AddCustomer(&gateway.Customer{ID: "cus_1", Email: "jo@example.com"})
	s.GetGateway().AddPrice(&gateway.Price{ID: "price_basic", UnitAmount: 2000, Currency: "usd", Interval: "month"})
}

func (s *TrialServiceSuite) seedTrial(daysLeft int) *gateway.Subscription {
	trialEnd := s.GetNow().Add(time.Duration(daysLeft) * 24 * time.Hour)
	return s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusTrialing,
		TrialEnd:   &trialEnd,
		CreatedAt:  s.GetNow().AddDate(0, 0, daysLeft-14),
	})
}

func (s *TrialServiceSuite) TestCreateTrialSubscription() {
	sub, err := s.service.CreateTrialSubscription(s.GetContext(), "cus_1", "price_basic", 14)
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusTrialing, sub.Status)
	s.Require().NotNil(sub.TrialEnd)
	s.WithinDuration(time.Now().UTC().AddDate(0, 0, 14), *sub.TrialEnd, time.Minute)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialCreated), 1)
}

func (s *TrialServiceSuite) TestCreateTrialRejectsNonPositiveDays() {
	_, err := s.service.CreateTrialSubscription(s.GetContext(), "cus_1", "price_basic", 0)
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *TrialServiceSuite) TestExtendTrial() {
	sub := s.seedTrial(5)
	originalEnd := *sub.TrialEnd

	updated, err := s.service.ExtendTrial(s.GetContext(), sub.ID, 7)
	s.Require().NoError(err)

	s.Require().NotNil(updated.TrialEnd)
	s.Equal(originalEnd.Add(7*24*time.Hour), updated.TrialEnd.UTC())
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialExtended), 1)
}

func (s *TrialServiceSuite) TestExtendTrialOnActiveFails() {
	trialEnd := s.GetNow().AddDate(0, 0, -10)
	sub := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
		TrialEnd:   &trialEnd,
	})

	_, err := s.service.ExtendTrial(s.GetContext(), sub.ID, 7)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))

	unchanged, err := s.GetGateway().GetSubscription(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.Require().NotNil(unchanged.TrialEnd)
	s.Equal(trialEnd, unchanged.TrialEnd.UTC())
}

func (s *TrialServiceSuite) TestConvertTrialToPaid() {
	sub := s.seedTrial(5)

	updated, err := s.service.ConvertTrialToPaid(s.GetContext(), sub.ID)
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusActive, updated.Status)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialConverted), 1)
}

func (s *TrialServiceSuite) TestConvertNonTrialFails() {
	sub := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
	})

	_, err := s.service.ConvertTrialToPaid(s.GetContext(), sub.ID)
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *TrialServiceSuite) TestCancelTrial() {
	sub := s.seedTrial(5)

	updated, err := s.service.CancelTrial(s.GetContext(), sub.ID, "not a fit")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, updated.Status)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialCanceled), 1)

	// Repeat cancel is a quiet no-op.
	again, err := s.service.CancelTrial(s.GetContext(), sub.ID, "not a fit")
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, again.Status)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialCanceled), 1)
}

func (s *TrialServiceSuite) TestGetExpiringTrials() {
	soon := s.seedTrial(2)
	s.seedTrial(12)
	s.seedTrial(0)

	expiring, err := s.service.GetExpiringTrials(s.GetContext(), 7)
	s.Require().NoError(err)
	s.Require().Len(expiring, 1)
	s.Equal(soon.ID, expiring[0].ID)
}

func (s *TrialServiceSuite) TestExpiringTrialsRejectsBadThreshold() {
	_, err := s.service.GetExpiringTrials(s.GetContext(), 0)
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *TrialServiceSuite) TestRemindersSentAtMostOncePerThreshold() {
	sub := s.seedTrial(2)

	sent, err := s.service.SendTrialReminders(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, sent)

	// A trial at 2 days satisfies both the 7 and 3 day thresholds; one
	// reminder covers both so the missed 7-day boundary cannot fire
	// later.
	updated, err := s.GetGateway().GetSubscription(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.True(updated.TrialRemindersSent[7])
	s.True(updated.TrialRemindersSent[3])
	s.False(updated.TrialRemindersSent[1])

	// Polling again sends nothing new.
	sent, err = s.service.SendTrialReminders(s.GetContext())
	s.Require().NoError(err)
	s.Equal(0, sent)
	s.Len(s.GetSink().EntriesByAction(types.AuditActionTrialReminderSent), 1)
}

func (s *TrialServiceSuite) TestReminderFiresAgainAtFinalThreshold() {
	sub := s.seedTrial(2)
	_, err := s.service.SendTrialReminders(s.GetContext())
	s.Require().NoError(err)

	// The trial reaches its last day.
	lastDay := s.GetNow().Add(12 * time.Hour)
	_, err = s.GetGateway().UpdateSubscription(s.GetContext(), sub.ID, gateway.UpdateSubscriptionParams{
		TrialEnd: &lastDay,
	})
	s.Require().NoError(err)

	sent, err := s.service.SendTrialReminders(s.GetContext())
	s.Require().NoError(err)
	s.Equal(1, sent)

	updated, err := s.GetGateway().GetSubscription(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	s.True(updated.TrialRemindersSent[1])
}

func (s *TrialServiceSuite) TestProcessTrialExpirations() {
	pastEnd := s.GetNow().Add(-time.Hour)
	converting := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID:             "cus_1",
		PriceID:                "price_basic",
		Status:                 types.SubscriptionStatusTrialing,
		TrialEnd:               &pastEnd,
		DefaultPaymentMethodID: "pm_1",
	})
	canceling := s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusTrialing,
		TrialEnd:   &pastEnd,
	})
	s.seedTrial(5)

	report, err := s.service.ProcessTrialExpirations(s.GetContext())
	s.Require().NoError(err)

	s.Equal([]string{converting.ID}, report.AutoConverting)
	s.Equal([]string{canceling.ID}, report.AutoCanceling)
}

func (s *TrialServiceSuite) TestConversionMetrics() {
	endedEnd := s.GetNow().AddDate(0, 0, -10)
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
		TrialEnd:   &endedEnd,
		CreatedAt:  s.GetNow().AddDate(0, 0, -24),
	})
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusCanceled,
		TrialEnd:   &endedEnd,
		CreatedAt:  s.GetNow().AddDate(0, 0, -24),
	})
	s.seedTrial(5)
	// Never trialed, excluded from the metrics.
	s.GetGateway().AddSubscription(&gateway.Subscription{
		CustomerID: "cus_1",
		PriceID:    "price_basic",
		Status:     types.SubscriptionStatusActive,
	})

	metrics, err := s.service.GetConversionMetrics(s.GetContext())
	s.Require().NoError(err)

	s.Equal(1, metrics.ActiveTrials)
	s.Equal(1, metrics.Converted)
	s.Equal(1, metrics.Canceled)
	s.InDelta(50.0, metrics.ConversionRate, 0.01)
	s.InDelta(14.0, metrics.AverageTrialDays, 0.5)
}
