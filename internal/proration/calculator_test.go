package proration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/testutil"
	"github.com/helioscale/helioscale/internal/types"
)

type CalculatorTestSuite struct {
	suite.Suite
	ctx        context.Context
	gateway    *testutil.InMemoryGateway
	calculator *Calculator

	periodStart time.Time
	periodEnd   time.Time
}

func TestCalculator(t *testing.T) {
	suite.Run(t, new(CalculatorTestSuite))
}

func (s *CalculatorTestSuite) SetupTest() {
	log, err := logger.NewLogger("info")
	s.Require().NoError(err)

	s.ctx = testutil.SetupContext()
	s.gateway = testutil.NewInMemoryGateway()
	s.calculator = NewCalculator(s.gateway, log)

	s.gateway.AddPrice(&gateway.Price{ID: "price_basic", UnitAmount: 2000, Currency: "usd", Interval: "month"})
	s.gateway.AddPrice(&gateway.Price{ID: "price_pro", UnitAmount: 5000, Currency: "usd", Interval: "month"})

	s.periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.periodEnd = s.periodStart.AddDate(0, 0, 30)
}

func (s *CalculatorTestSuite) subscription(priceID string) *gateway.Subscription {
	return &gateway.Subscription{
		ID:                 "sub_test",
		CustomerID:         "cus_test",
		PriceID:            priceID,
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: s.periodStart,
		CurrentPeriodEnd:   s.periodEnd,
	}
}

func (s *CalculatorTestSuite) TestUpgradeMidPeriod() {
	// $20/month plan, 10 of 30 days remaining, upgrading to $50/month.
	prorationDate := s.periodEnd.AddDate(0, 0, -10)

	result, err := s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_pro", prorationDate)
	s.Require().NoError(err)

	s.Equal(10, result.DaysRemaining)
	s.Equal(30, result.TotalDays)
	s.Equal(int64(667), result.UnusedAmount)
	s.Equal(int64(1667), result.NewPlanAmount)
	s.Equal(int64(1000), result.Difference)
	s.True(result.IsUpgrade)
	s.False(result.IsDowngrade)
	s.Equal(int64(1000), result.ImmediateCharge)
	s.Equal(int64(0), result.CreditApplied)
	s.Equal("usd", result.Currency)
}

func (s *CalculatorTestSuite) TestDowngradeCreditsDifference() {
	prorationDate := s.periodEnd.AddDate(0, 0, -10)

	result, err := s.calculator.Calculate(s.ctx, s.subscription("price_pro"), "price_basic", prorationDate)
	s.Require().NoError(err)

	s.True(result.IsDowngrade)
	s.Equal(int64(-1000), result.Difference)
	s.Equal(int64(0), result.ImmediateCharge)
	s.Equal(int64(1000), result.CreditApplied)
}

func (s *CalculatorTestSuite) TestUnusedPlusUsedReconstructsOldPrice() {
	// The unused remainder plus the consumed share must add back up to
	// the full plan price, within a cent of rounding.
	for _, daysIn := range []int{1, 7, 11, 15, 22, 29} {
		prorationDate := s.periodStart.AddDate(0, 0, daysIn)

		result, err := s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_pro", prorationDate)
		s.Require().NoError(err)

		usedDays := int64(result.TotalDays - result.DaysRemaining)
		used := (2000*usedDays + int64(result.TotalDays)/2) / int64(result.TotalDays)
		reconstructed := result.UnusedAmount + used
		s.InDelta(2000, float64(reconstructed), 1, "days in: %d", daysIn)
	}
}

func (s *CalculatorTestSuite) TestCalculateIsIdempotent() {
	prorationDate := s.periodStart.AddDate(0, 0, 12)
	sub := s.subscription("price_basic")

	first, err := s.calculator.Calculate(s.ctx, sub, "price_pro", prorationDate)
	s.Require().NoError(err)
	second, err := s.calculator.Calculate(s.ctx, sub, "price_pro", prorationDate)
	s.Require().NoError(err)

	s.Equal(first, second)
}

func (s *CalculatorTestSuite) TestSamePriceShortCircuits() {
	prorationDate := s.periodStart.AddDate(0, 0, 12)

	result, err := s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_basic", prorationDate)
	s.Require().NoError(err)

	s.Equal(int64(0), result.Difference)
	s.Equal(int64(0), result.ImmediateCharge)
	s.Equal(int64(0), result.CreditApplied)
	s.False(result.IsUpgrade)
	s.False(result.IsDowngrade)
	s.Empty(s.gateway.Calls(), "no gateway lookups for a same-price change")
}

func (s *CalculatorTestSuite) TestProrationDateOutsidePeriod() {
	_, err := s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_pro", s.periodEnd.AddDate(0, 0, 1))
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_pro", s.periodStart.AddDate(0, 0, -1))
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *CalculatorTestSuite) TestZeroLengthPeriod() {
	sub := s.subscription("price_basic")
	sub.CurrentPeriodEnd = sub.CurrentPeriodStart

	_, err := s.calculator.Calculate(s.ctx, sub, "price_pro", sub.CurrentPeriodStart)
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *CalculatorTestSuite) TestPartialDaysRoundUp() {
	// 12h into the last day still counts as a full remaining day.
	prorationDate := s.periodEnd.Add(-36 * time.Hour)

	result, err := s.calculator.Calculate(s.ctx, s.subscription("price_basic"), "price_pro", prorationDate)
	s.Require().NoError(err)
	s.Equal(2, result.DaysRemaining)
}
