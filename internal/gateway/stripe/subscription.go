package stripe

import (
	"context"
	"strconv"
	"time"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// GetSubscription retrieves a subscription from Stripe.
func (c *Client) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.SubscriptionRetrieveParams{
		Expand: []*string{
			stripe.String("default_payment_method"),
		},
	}

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, id, params)
	if err != nil {
		c.logger.Errorw("failed to retrieve subscription from Stripe",
			"error", err,
			"subscription_id", id,
		)
		return nil, c.wrapErr(ctx, err, "subscription.retrieve", id)
	}

	return mapSubscription(sub), nil
}

// ListSubscriptions lists subscriptions matching the filter.
func (c *Client) ListSubscriptions(ctx context.Context, filter gateway.SubscriptionFilter) ([]*gateway.Subscription, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.SubscriptionListParams{}
	if filter.CustomerID != "" {
		params.Customer = stripe.String(filter.CustomerID)
	}
	if filter.Status != "" {
		params.Status = stripe.String(filter.Status.String())
	}

	var result []*gateway.Subscription
	for sub, err := range c.sc.V1Subscriptions.List(ctx, params) {
		if err != nil {
			c.logger.Errorw("failed to list subscriptions from Stripe",
				"error", err,
				"customer_id", filter.CustomerID,
			)
			return nil, c.wrapErr(ctx, err, "subscription.list", filter.CustomerID)
		}
		result = append(result, mapSubscription(sub))
	}
	return result, nil
}

// CreateSubscription creates a subscription, optionally with a trial.
func (c *Client) CreateSubscription(ctx context.Context, p gateway.CreateSubscriptionParams) (*gateway.Subscription, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(p.PriceID)},
		},
	}
	if p.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}
	if p.TrialEndBehavior != "" {
		params.TrialSettings = &stripe.SubscriptionCreateTrialSettingsParams{
			EndBehavior: &stripe.SubscriptionCreateTrialSettingsEndBehaviorParams{
				MissingPaymentMethod: stripe.String(string(p.TrialEndBehavior)),
			},
		}
	}
	if len(p.Metadata) > 0 {
		params.Metadata = p.Metadata
	}

	sub, err := c.sc.V1Subscriptions.Create(ctx, params)
	if err != nil {
		c.logger.Errorw("failed to create subscription at Stripe",
			"error", err,
			"customer_id", p.CustomerID,
			"price_id", p.PriceID,
		)
		return nil, c.wrapErr(ctx, err, "subscription.create", p.CustomerID)
	}

	return mapSubscription(sub), nil
}

// UpdateSubscription applies a partial update. A price change needs the
// current item id, so the subscription is re-read first in that case.
func (c *Client) UpdateSubscription(ctx context.Context, id string, p gateway.UpdateSubscriptionParams) (*gateway.Subscription, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.SubscriptionUpdateParams{}
	metadata := map[string]string{}

	if p.PriceID != nil {
		current, err := c.sc.V1Subscriptions.Retrieve(ctx, id, nil)
		if err != nil {
			return nil, c.wrapErr(ctx, err, "subscription.retrieve", id)
		}
		if len(current.Items.Data) == 0 {
			return nil, ierr.NewError("subscription has no items").
				WithHint("Subscription has no price item to change").
				WithReportableDetails(map[string]any{"subscription_id": id}).
				Mark(ierr.ErrInvalidOperation)
		}
		params.Items = []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(*p.PriceID),
			},
		}
	}
	if p.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(p.ProrationBehavior.String())
	}
	if p.ProrationDate != nil {
		params.ProrationDate = stripe.Int64(p.ProrationDate.Unix())
	}
	if p.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*p.CancelAtPeriodEnd)
	}
	if p.Paused != nil {
		if *p.Paused {
			params.PauseCollection = &stripe.SubscriptionUpdatePauseCollectionParams{
				Behavior: stripe.String("void"),
			}
			if p.ResumeAt != nil {
				metadata[metaResumeAt] = strconv.FormatInt(p.ResumeAt.Unix(), 10)
			}
		} else {
			// An empty value clears pause_collection and resumes billing.
			params.AddExtra("pause_collection", "")
			metadata[metaResumeAt] = ""
		}
	}
	if p.TrialEndNow {
		params.TrialEndNow = stripe.Bool(true)
	} else if p.TrialEnd != nil {
		params.TrialEnd = stripe.Int64(p.TrialEnd.Unix())
	}
	if p.RetryState != nil {
		for k, v := range encodeRetryState(*p.RetryState) {
			metadata[k] = v
		}
	}
	if p.TrialRemindersSent != nil {
		for k, v := range encodeReminders(p.TrialRemindersSent) {
			metadata[k] = v
		}
	}
	if p.DefaultPaymentMethodID != nil {
		params.DefaultPaymentMethod = stripe.String(*p.DefaultPaymentMethodID)
	}
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	sub, err := c.sc.V1Subscriptions.Update(ctx, id, params)
	if err != nil {
		c.logger.Errorw("failed to update subscription at Stripe",
			"error", err,
			"subscription_id", id,
		)
		return nil, c.wrapErr(ctx, err, "subscription.update", id)
	}

	return mapSubscription(sub), nil
}

// CancelSubscription cancels immediately or flags cancellation at
// period end.
func (c *Client) CancelSubscription(ctx context.Context, id string, p gateway.CancelSubscriptionParams) (*gateway.Subscription, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if p.Immediate {
		params := &stripe.SubscriptionCancelParams{
			Prorate: stripe.Bool(p.Prorate),
		}
		if p.Reason != "" || p.Feedback != "" {
			params.CancellationDetails = &stripe.SubscriptionCancelCancellationDetailsParams{}
			if p.Reason != "" {
				params.CancellationDetails.Comment = stripe.String(p.Reason)
			}
			if p.Feedback != "" {
				params.CancellationDetails.Feedback = stripe.String(p.Feedback)
			}
		}
		sub, err := c.sc.V1Subscriptions.Cancel(ctx, id, params)
		if err != nil {
			c.logger.Errorw("failed to cancel subscription at Stripe",
				"error", err,
				"subscription_id", id,
			)
			return nil, c.wrapErr(ctx, err, "subscription.cancel", id)
		}
		return mapSubscription(sub), nil
	}

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	metadata := map[string]string{}
	if p.Reason != "" {
		metadata[metaCancellationReason] = p.Reason
	}
	if p.Feedback != "" {
		metadata[metaCancellationFeedback] = p.Feedback
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	sub, err := c.sc.V1Subscriptions.Update(ctx, id, params)
	if err != nil {
		c.logger.Errorw("failed to schedule subscription cancellation at Stripe",
			"error", err,
			"subscription_id", id,
		)
		return nil, c.wrapErr(ctx, err, "subscription.cancel_at_period_end", id)
	}
	return mapSubscription(sub), nil
}

// mapSubscription converts a Stripe subscription into the
// gateway-neutral model.
func mapSubscription(sub *stripe.Subscription) *gateway.Subscription {
	result := &gateway.Subscription{
		ID:                sub.ID,
		Status:            mapSubscriptionStatus(sub),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CreatedAt:         time.Unix(sub.Created, 0).UTC(),
		Metadata:          types.Metadata{},
	}
	if sub.Customer != nil {
		result.CustomerID = sub.Customer.ID
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			result.PriceID = item.Price.ID
		}
		result.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		result.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	if sub.TrialEnd != 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		result.TrialEnd = &trialEnd
	}
	if sub.DefaultPaymentMethod != nil {
		result.DefaultPaymentMethodID = sub.DefaultPaymentMethod.ID
	}

	result.RetryState = decodeRetryState(sub.Metadata)
	result.TrialRemindersSent = decodeReminders(sub.Metadata)
	for k, v := range sub.Metadata {
		if !isEngineMetadataKey(k) {
			result.Metadata[k] = v
		}
	}

	return result
}

func mapSubscriptionStatus(sub *stripe.Subscription) types.SubscriptionStatus {
	// Stripe models pause as a collection flag, not a status.
	if sub.PauseCollection != nil && sub.PauseCollection.Behavior != "" {
		return types.SubscriptionStatusPaused
	}

	switch sub.Status {
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusActive:
		return types.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return types.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusUnpaid:
		return types.SubscriptionStatusUnpaid
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		return types.SubscriptionStatusIncomplete
	default:
		return types.SubscriptionStatus(sub.Status)
	}
}
