package testutil

import (
	"context"
	"sync"
	"time"

	ierr "github.com/helioscale/helioscale/internal/errors"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/types"
)

// InMemoryGateway implements gateway.Client against in-process maps.
// Tests seed it with subscriptions, invoices, prices and charges, and
// can inject per-invoice payment outcomes. Every call is appended to
// an op log so tests can assert which gateway calls were (not) made.
type InMemoryGateway struct {
	mu            sync.RWMutex
	subscriptions map[string]*gateway.Subscription
	invoices      map[string]*gateway.Invoice
	customers     map[string]*gateway.Customer
	prices        map[string]*gateway.Price
	charges       map[string][]*gateway.Charge

	payErrors   map[string]error
	payFailures map[string]bool
	calls       []string
}

var _ gateway.Client = (*InMemoryGateway)(nil)

func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		subscriptions: make(map[string]*gateway.Subscription),
		invoices:      make(map[string]*gateway.Invoice),
		customers:     make(map[string]*gateway.Customer),
		prices:        make(map[string]*gateway.Price),
		charges:       make(map[string][]*gateway.Charge),
		payErrors:     make(map[string]error),
		payFailures:   make(map[string]bool),
	}
}

// Seed helpers

func (g *InMemoryGateway) AddSubscription(sub *gateway.Subscription) *gateway.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub.ID == "" {
		sub.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION)
	}
	if sub.Metadata == nil {
		sub.Metadata = types.Metadata{}
	}
	if sub.TrialRemindersSent == nil {
		sub.TrialRemindersSent = map[int]bool{}
	}
	g.subscriptions[sub.ID] = sub
	return sub
}

func (g *InMemoryGateway) AddInvoice(inv *gateway.Invoice) *gateway.Invoice {
	g.mu.Lock()
	defer g.mu.Unlock()
	if inv.ID == "" {
		inv.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE)
	}
	g.invoices[inv.ID] = inv
	return inv
}

func (g *InMemoryGateway) AddCustomer(cust *gateway.Customer) *gateway.Customer {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[cust.ID] = cust
	return cust
}

func (g *InMemoryGateway) AddPrice(price *gateway.Price) *gateway.Price {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[price.ID] = price
	return price
}

func (g *InMemoryGateway) AddCharge(charge *gateway.Charge) *gateway.Charge {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[charge.CustomerID] = append(g.charges[charge.CustomerID], charge)
	return charge
}

// SetPayError makes PayInvoice return err for the invoice without
// touching the invoice. Used to simulate gateway timeouts.
func (g *InMemoryGateway) SetPayError(invoiceID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payErrors[invoiceID] = err
}

// SetPayFailure makes payment attempts on the invoice fail: the
// attempt count advances, the invoice stays open, and PayInvoice
// returns a gateway error.
func (g *InMemoryGateway) SetPayFailure(invoiceID string, failing bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payFailures[invoiceID] = failing
}

// Calls returns the op log.
func (g *InMemoryGateway) Calls() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	calls := make([]string, len(g.calls))
	copy(calls, g.calls)
	return calls
}

func (g *InMemoryGateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

func (g *InMemoryGateway) record(op string) {
	g.calls = append(g.calls, op)
}

// SubscriptionAPI

func (g *InMemoryGateway) GetSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("subscription.retrieve")

	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No subscription %s", id).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (g *InMemoryGateway) ListSubscriptions(_ context.Context, filter gateway.SubscriptionFilter) ([]*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("subscription.list")

	var result []*gateway.Subscription
	for _, sub := range g.subscriptions {
		if filter.CustomerID != "" && sub.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		result = append(result, copySubscription(sub))
	}
	return result, nil
}

func (g *InMemoryGateway) CreateSubscription(_ context.Context, p gateway.CreateSubscriptionParams) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("subscription.create")

	if _, ok := g.customers[p.CustomerID]; !ok {
		return nil, ierr.NewError("customer not found").
			WithHintf("No customer %s", p.CustomerID).
			Mark(ierr.ErrNotFound)
	}
	if _, ok := g.prices[p.PriceID]; !ok {
		return nil, ierr.NewError("price not found").
			WithHintf("No price %s", p.PriceID).
			Mark(ierr.ErrNotFound)
	}

	now := time.Now().UTC()
	sub := &gateway.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         p.CustomerID,
		PriceID:            p.PriceID,
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		Metadata:           types.Metadata{}.Merge(p.Metadata),
		TrialRemindersSent: map[int]bool{},
		CreatedAt:          now,
	}
	if p.TrialDays > 0 {
		trialEnd := now.Add(time.Duration(p.TrialDays) * 24 * time.Hour)
		sub.Status = types.SubscriptionStatusTrialing
		sub.TrialEnd = &trialEnd
	}

	g.subscriptions[sub.ID] = sub
	return copySubscription(sub), nil
}

func (g *InMemoryGateway) UpdateSubscription(_ context.Context, id string, p gateway.UpdateSubscriptionParams) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("subscription.update")

	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No subscription %s", id).
			Mark(ierr.ErrNotFound)
	}

	if p.PriceID != nil {
		if _, ok := g.prices[*p.PriceID]; !ok {
			return nil, ierr.NewError("price not found").
				WithHintf("No price %s", *p.PriceID).
				Mark(ierr.ErrNotFound)
		}
		sub.PriceID = *p.PriceID
	}
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.Paused != nil {
		if *p.Paused {
			sub.Status = types.SubscriptionStatusPaused
			if p.ResumeAt != nil {
				sub.Metadata["resume_at"] = p.ResumeAt.UTC().Format(time.RFC3339)
			}
		} else {
			sub.Status = types.SubscriptionStatusActive
			delete(sub.Metadata, "resume_at")
		}
	}
	if p.TrialEndNow {
		now := time.Now().UTC()
		sub.TrialEnd = &now
		sub.Status = types.SubscriptionStatusActive
	} else if p.TrialEnd != nil {
		trialEnd := p.TrialEnd.UTC()
		sub.TrialEnd = &trialEnd
	}
	if p.RetryState != nil {
		sub.RetryState = *p.RetryState
	}
	for threshold, sent := range p.TrialRemindersSent {
		sub.TrialRemindersSent[threshold] = sent
	}
	if p.DefaultPaymentMethodID != nil {
		sub.DefaultPaymentMethodID = *p.DefaultPaymentMethodID
	}
	for k, v := range p.Metadata {
		if v == "" {
			delete(sub.Metadata, k)
			continue
		}
		sub.Metadata[k] = v
	}

	return copySubscription(sub), nil
}

func (g *InMemoryGateway) CancelSubscription(_ context.Context, id string, p gateway.CancelSubscriptionParams) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("subscription.cancel")

	sub, ok := g.subscriptions[id]
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No subscription %s", id).
			Mark(ierr.ErrNotFound)
	}

	if p.Immediate {
		sub.Status = types.SubscriptionStatusCanceled
		sub.CancelAtPeriodEnd = false
	} else {
		sub.CancelAtPeriodEnd = true
	}
	if p.Reason != "" {
		sub.Metadata["cancellation_reason"] = p.Reason
	}
	if p.Feedback != "" {
		sub.Metadata["cancellation_feedback"] = p.Feedback
	}
	return copySubscription(sub), nil
}

// InvoiceAPI

func (g *InMemoryGateway) GetInvoice(_ context.Context, id string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("invoice.retrieve")

	inv, ok := g.invoices[id]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithHintf("No invoice %s", id).
			Mark(ierr.ErrNotFound)
	}
	invCopy := *inv
	return &invCopy, nil
}

func (g *InMemoryGateway) ListInvoices(_ context.Context, filter gateway.InvoiceFilter) ([]*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("invoice.list")

	var result []*gateway.Invoice
	for _, inv := range g.invoices {
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SubscriptionID != "" && inv.SubscriptionID != filter.SubscriptionID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		invCopy := *inv
		result = append(result, &invCopy)
	}
	return result, nil
}

func (g *InMemoryGateway) PayInvoice(_ context.Context, id string) (*gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("invoice.pay")

	if err, ok := g.payErrors[id]; ok {
		return nil, err
	}

	inv, ok := g.invoices[id]
	if !ok {
		return nil, ierr.NewError("invoice not found").
			WithHintf("No invoice %s", id).
			Mark(ierr.ErrNotFound)
	}

	inv.AttemptCount++
	if g.payFailures[id] {
		return nil, ierr.NewError("payment failed").
			WithHint("The payment gateway declined the charge").
			WithReportableDetails(map[string]any{"invoice_id": id}).
			Mark(ierr.ErrGateway)
	}

	inv.Status = types.InvoiceStatusPaid
	invCopy := *inv
	return &invCopy, nil
}

// CustomerAPI

func (g *InMemoryGateway) GetCustomer(_ context.Context, id string) (*gateway.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("customer.retrieve")

	cust, ok := g.customers[id]
	if !ok {
		return nil, ierr.NewError("customer not found").
			WithHintf("No customer %s", id).
			Mark(ierr.ErrNotFound)
	}
	custCopy := *cust
	return &custCopy, nil
}

func (g *InMemoryGateway) ListCharges(_ context.Context, customerID string) ([]*gateway.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("charge.list")

	var result []*gateway.Charge
	for _, charge := range g.charges[customerID] {
		chargeCopy := *charge
		result = append(result, &chargeCopy)
	}
	return result, nil
}

// PriceAPI

func (g *InMemoryGateway) GetPrice(_ context.Context, id string) (*gateway.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("price.retrieve")

	price, ok := g.prices[id]
	if !ok {
		return nil, ierr.NewError("price not found").
			WithHintf("No price %s", id).
			Mark(ierr.ErrNotFound)
	}
	priceCopy := *price
	return &priceCopy, nil
}

func (g *InMemoryGateway) ListPrices(_ context.Context) ([]*gateway.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("price.list")

	var result []*gateway.Price
	for _, price := range g.prices {
		priceCopy := *price
		result = append(result, &priceCopy)
	}
	return result, nil
}

// PaymentMethodAPI

func (g *InMemoryGateway) AttachPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("payment_method.attach")

	if _, ok := g.customers[customerID]; !ok {
		return ierr.NewError("customer not found").
			WithHintf("No customer %s", customerID).
			Mark(ierr.ErrNotFound)
	}
	_ = paymentMethodID
	return nil
}

func (g *InMemoryGateway) SetDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("customer.update_default_payment_method")

	cust, ok := g.customers[customerID]
	if !ok {
		return ierr.NewError("customer not found").
			WithHintf("No customer %s", customerID).
			Mark(ierr.ErrNotFound)
	}
	cust.DefaultPaymentMethodID = paymentMethodID
	return nil
}

func copySubscription(sub *gateway.Subscription) *gateway.Subscription {
	subCopy := *sub
	subCopy.Metadata = types.Metadata{}.Merge(sub.Metadata)
	subCopy.TrialRemindersSent = make(map[int]bool, len(sub.TrialRemindersSent))
	for k, v := range sub.TrialRemindersSent {
		subCopy.TrialRemindersSent[k] = v
	}
	return &subCopy
}
