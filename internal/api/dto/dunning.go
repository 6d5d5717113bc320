package dto

// UpdatePaymentMethodRequest attaches a new default payment method and
// retries the customer's open invoices.
type UpdatePaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}
