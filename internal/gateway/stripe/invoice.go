package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// GetInvoice retrieves an invoice from Stripe.
func (c *Client) GetInvoice(ctx context.Context, id string) (*gateway.Invoice, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	inv, err := c.sc.V1Invoices.Retrieve(ctx, id, nil)
	if err != nil {
		c.logger.Errorw("failed to retrieve invoice from Stripe",
			"error", err,
			"invoice_id", id,
		)
		return nil, c.wrapErr(ctx, err, "invoice.retrieve", id)
	}

	return mapInvoice(inv), nil
}

// ListInvoices lists invoices matching the filter.
func (c *Client) ListInvoices(ctx context.Context, filter gateway.InvoiceFilter) ([]*gateway.Invoice, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.InvoiceListParams{}
	if filter.CustomerID != "" {
		params.Customer = stripe.String(filter.CustomerID)
	}
	if filter.SubscriptionID != "" {
		params.Subscription = stripe.String(filter.SubscriptionID)
	}
	if filter.Status != "" {
		params.Status = stripe.String(filter.Status.String())
	}

	var result []*gateway.Invoice
	for inv, err := range c.sc.V1Invoices.List(ctx, params) {
		if err != nil {
			c.logger.Errorw("failed to list invoices from Stripe",
				"error", err,
				"customer_id", filter.CustomerID,
			)
			return nil, c.wrapErr(ctx, err, "invoice.list", filter.CustomerID)
		}
		result = append(result, mapInvoice(inv))
	}
	return result, nil
}

// PayInvoice asks Stripe to attempt payment on an open invoice.
func (c *Client) PayInvoice(ctx context.Context, id string) (*gateway.Invoice, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	inv, err := c.sc.V1Invoices.Pay(ctx, id, &stripe.InvoicePayParams{})
	if err != nil {
		c.logger.Errorw("failed to pay invoice at Stripe",
			"error", err,
			"invoice_id", id,
		)
		return nil, c.wrapErr(ctx, err, "invoice.pay", id)
	}

	return mapInvoice(inv), nil
}

func mapInvoice(inv *stripe.Invoice) *gateway.Invoice {
	result := &gateway.Invoice{
		ID:           inv.ID,
		AmountDue:    inv.AmountDue,
		Currency:     strings.ToLower(string(inv.Currency)),
		Status:       types.InvoiceStatus(inv.Status),
		AttemptCount: int(inv.AttemptCount),
		CreatedAt:    time.Unix(inv.Created, 0).UTC(),
	}
	if inv.Customer != nil {
		result.CustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		result.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return result
}
