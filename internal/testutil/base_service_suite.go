package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helioscale/helioscale/internal/config"
	"github.com/helioscale/helioscale/internal/logger"
)

// BaseServiceTestSuite provides common functionality for all service
// test suites: a tenant-scoped context, an in-memory gateway and sink,
// and a test logger.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	gateway *InMemoryGateway
	sink    *InMemorySink
	logger  *logger.Logger
	config  *config.Configuration
	now     time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	var err error
	s.logger, err = logger.NewLogger("info")
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.config = config.GetDefaultConfig()
	s.gateway = NewInMemoryGateway()
	s.sink = NewInMemorySink()
	s.now = time.Now().UTC()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetGateway() *InMemoryGateway {
	return s.gateway
}

func (s *BaseServiceTestSuite) GetSink() *InMemorySink {
	return s.sink
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
