package service

import (
	"github.com/helioscale/helioscale/internal/audit"
	"github.com/helioscale/helioscale/internal/config"
	"github.com/helioscale/helioscale/internal/gateway"
	"github.com/helioscale/helioscale/internal/lock"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/proration"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger  *logger.Logger
	Config  *config.Configuration
	Gateway gateway.Client
	Sink    audit.Sink
	// Locks serializes in-process mutations per subscription id.
	Locks     *lock.KeyMutex
	Proration *proration.Calculator
}

// NewServiceParams wires the common dependency bag.
func NewServiceParams(
	logger *logger.Logger,
	cfg *config.Configuration,
	client gateway.Client,
	sink audit.Sink,
) ServiceParams {
	return ServiceParams{
		Logger:    logger,
		Config:    cfg,
		Gateway:   client,
		Sink:      sink,
		Locks:     lock.NewKeyMutex(),
		Proration: proration.NewCalculator(client, logger),
	}
}
