package stripe

import (
	"context"
	"time"

	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/stripe/stripe-go/v82"
)

// GetCustomer retrieves a customer from Stripe.
func (c *Client) GetCustomer(ctx context.Context, id string) (*gateway.Customer, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.CustomerRetrieveParams{
		Expand: []*string{
			stripe.String("invoice_settings.default_payment_method"),
		},
	}

	cust, err := c.sc.V1Customers.Retrieve(ctx, id, params)
	if err != nil {
		c.logger.Errorw("failed to retrieve customer from Stripe",
			"error", err,
			"customer_id", id,
		)
		return nil, c.wrapErr(ctx, err, "customer.retrieve", id)
	}

	result := &gateway.Customer{
		ID:         cust.ID,
		Email:      cust.Email,
		Name:       cust.Name,
		Delinquent: cust.Delinquent,
		CreatedAt:  time.Unix(cust.Created, 0).UTC(),
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		result.DefaultPaymentMethodID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return result, nil
}

// ListCharges lists the charge history for a customer. Churn scoring
// uses this to count payment failures and disputes.
func (c *Client) ListCharges(ctx context.Context, customerID string) ([]*gateway.Charge, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(100)

	var result []*gateway.Charge
	for ch, err := range c.sc.V1Charges.List(ctx, params) {
		if err != nil {
			c.logger.Errorw("failed to list charges from Stripe",
				"error", err,
				"customer_id", customerID,
			)
			return nil, c.wrapErr(ctx, err, "charge.list", customerID)
		}
		charge := &gateway.Charge{
			ID:        ch.ID,
			Amount:    ch.Amount,
			Currency:  string(ch.Currency),
			Status:    gateway.ChargeStatus(ch.Status),
			Disputed:  ch.Disputed,
			CreatedAt: time.Unix(ch.Created, 0).UTC(),
		}
		if ch.Customer != nil {
			charge.CustomerID = ch.Customer.ID
		}
		result = append(result, charge)
	}
	return result, nil
}
