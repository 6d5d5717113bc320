package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// AttachPaymentMethod attaches a payment method to a customer.
func (c *Client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}

	_, err := c.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, params)
	if err != nil {
		c.logger.Errorw("failed to attach payment method at Stripe",
			"error", err,
			"customer_id", customerID,
			"payment_method_id", paymentMethodID,
		)
		return c.wrapErr(ctx, err, "payment_method.attach", paymentMethodID)
	}
	return nil
}

// SetDefaultPaymentMethod makes a payment method the customer default
// for invoices.
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}

	_, err := c.sc.V1Customers.Update(ctx, customerID, params)
	if err != nil {
		c.logger.Errorw("failed to set default payment method at Stripe",
			"error", err,
			"customer_id", customerID,
			"payment_method_id", paymentMethodID,
		)
		return c.wrapErr(ctx, err, "customer.update_default_payment_method", customerID)
	}
	return nil
}
