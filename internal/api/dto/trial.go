package dto

// CreateTrialRequest starts a new trial subscription.
type CreateTrialRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	PriceID    string `json:"price_id" binding:"required"`
	TrialDays  int    `json:"trial_days" binding:"required,gt=0"`
}

// ExtendTrialRequest pushes the trial end out.
type ExtendTrialRequest struct {
	AdditionalDays int `json:"additional_days" binding:"required,gt=0"`
}

// CancelTrialRequest cancels a trial.
type CancelTrialRequest struct {
	Reason string `json:"reason"`
}

// ExpiringTrialsQuery bounds the expiring-trials lookahead in days.
type ExpiringTrialsQuery struct {
	Days int `form:"days,default=7" binding:"omitempty,gt=0"`
}
