package stripe

import (
	"context"
	"strings"

	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/stripe/stripe-go/v82"
)

// GetPrice retrieves a recurring price from Stripe.
func (c *Client) GetPrice(ctx context.Context, id string) (*gateway.Price, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	price, err := c.sc.V1Prices.Retrieve(ctx, id, nil)
	if err != nil {
		c.logger.Errorw("failed to retrieve price from Stripe",
			"error", err,
			"price_id", id,
		)
		return nil, c.wrapErr(ctx, err, "price.retrieve", id)
	}

	return mapPrice(price), nil
}

// ListPrices lists the active recurring price catalog.
func (c *Client) ListPrices(ctx context.Context) ([]*gateway.Price, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
		Type:   stripe.String("recurring"),
	}

	var result []*gateway.Price
	for price, err := range c.sc.V1Prices.List(ctx, params) {
		if err != nil {
			c.logger.Errorw("failed to list prices from Stripe", "error", err)
			return nil, c.wrapErr(ctx, err, "price.list", "")
		}
		result = append(result, mapPrice(price))
	}
	return result, nil
}

func mapPrice(price *stripe.Price) *gateway.Price {
	result := &gateway.Price{
		ID:         price.ID,
		Nickname:   price.Nickname,
		UnitAmount: price.UnitAmount,
		Currency:   strings.ToLower(string(price.Currency)),
	}
	if price.Product != nil {
		result.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		result.Interval = string(price.Recurring.Interval)
	}
	return result
}
