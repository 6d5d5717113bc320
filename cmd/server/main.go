package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/helioscale/helioscale/internal/api"
	v1 "github.com/helioscale/helioscale/internal/api/v1"
	"github.com/helioscale/helioscale/internal/audit"
	"github.com/helioscale/helioscale/internal/config"
	"github.com/helioscale/helioscale/internal/gateway/stripe"
	"github.com/helioscale/helioscale/internal/logger"
	"github.com/helioscale/helioscale/internal/scheduler"
	"github.com/helioscale/helioscale/internal/service"
	"github.com/helioscale/helioscale/internal/types"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logr, err := logger.NewLogger(string(cfg.Logging.Level))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logr.Sync()

	if cfg.Deployment.Mode == types.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}

	client := stripe.NewClient(cfg.Stripe, logr)

	var sink audit.Sink
	if cfg.Audit.URL != "" {
		sink = audit.NewHTTPSink(cfg.Audit, logr)
	} else {
		logr.Warnw("no audit backend configured, audit entries will be logged locally")
		sink = audit.NewNoopSink()
	}

	params := service.NewServiceParams(logr, cfg, client, sink)
	subscriptionService := service.NewSubscriptionService(params)
	dunningService := service.NewDunningService(params, subscriptionService)
	trialService := service.NewTrialService(params)
	churnService := service.NewChurnService(params)

	sched := scheduler.New(logr, cfg.Scheduler.FailureCooldown)
	registerJobs(cfg, logr, sched, subscriptionService, dunningService, trialService, churnService, sink)
	if cfg.Scheduler.Enabled {
		sched.Start()
		defer sched.Stop()
	}

	router := api.NewRouter(api.Handlers{
		Health:       v1.NewHealthHandler(logr),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, logr),
		Trial:        v1.NewTrialHandler(trialService, logr),
		Dunning:      v1.NewDunningHandler(dunningService, logr),
		Churn:        v1.NewChurnHandler(churnService, logr),
		Ops:          v1.NewOpsHandler(sched, sink, logr),
	})

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		logr.Infow("server starting", "address", cfg.Server.Address, "mode", cfg.Deployment.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Errorw("forced shutdown", "error", err)
	}
	if drained, err := sink.Flush(shutdownCtx); err != nil {
		logr.Warnw("audit flush incomplete during shutdown", "drained", drained, "error", err)
	}
}

func registerJobs(
	cfg *config.Configuration,
	logr *logger.Logger,
	sched *scheduler.Scheduler,
	subscriptions service.SubscriptionService,
	dunning service.DunningService,
	trials service.TrialService,
	churn service.ChurnService,
	sink audit.Sink,
) {
	mustRegister := func(name string, err error) {
		if err != nil {
			logr.Fatalw("failed to register job", "job", name, "error", err)
		}
	}

	mustRegister("trial-reminders", sched.Every("trial-reminders", cfg.Scheduler.TrialReminderInterval,
		func(ctx context.Context) error {
			sent, err := trials.SendTrialReminders(ctx)
			if err != nil {
				return err
			}
			logr.Infow("trial reminder sweep complete", "sent", sent)
			return nil
		}))

	mustRegister("trial-expirations", sched.Every("trial-expirations", cfg.Scheduler.TrialExpirationInterval,
		func(ctx context.Context) error {
			report, err := trials.ProcessTrialExpirations(ctx)
			if err != nil {
				return err
			}
			logr.Infow("trial expiration sweep complete",
				"auto_converting", len(report.AutoConverting),
				"auto_canceling", len(report.AutoCanceling),
			)
			return nil
		}))

	mustRegister("payment-retries", sched.Every("payment-retries", cfg.Scheduler.RetrySweepInterval,
		func(ctx context.Context) error {
			processed, err := dunning.ProcessDueRetries(ctx)
			if err != nil {
				return err
			}
			logr.Infow("payment retry sweep complete", "processed", processed)
			return nil
		}))

	mustRegister("scheduled-resumes", sched.Every("scheduled-resumes", cfg.Scheduler.ResumeSweepInterval,
		func(ctx context.Context) error {
			resumed, err := subscriptions.ProcessScheduledResumes(ctx)
			if err != nil {
				return err
			}
			if resumed > 0 {
				logr.Infow("resume sweep complete", "resumed", resumed)
			}
			return nil
		}))

	mustRegister("churn-report", sched.Daily("churn-report", cfg.Scheduler.ChurnHour, cfg.Scheduler.ChurnMinute,
		func(ctx context.Context) error {
			report, err := churn.GenerateReport(ctx)
			if err != nil {
				return err
			}
			logr.Infow("churn report generated",
				"customers", report.Summary.TotalCustomers,
				"at_risk", len(report.Customers),
			)

			// Retention runs on the highest-risk customers first; the
			// batch limit keeps a big report from flooding the gateway.
			executed := 0
			for _, assessment := range report.Customers {
				if executed >= cfg.Churn.RetentionBatchLimit {
					break
				}
				if assessment.RiskLevel != types.ChurnRiskCritical && assessment.RiskLevel != types.ChurnRiskHigh {
					continue
				}
				result, err := churn.ExecuteRetentionActions(ctx, assessment.CustomerID)
				if err != nil {
					logr.Errorw("retention actions failed",
						"customer_id", assessment.CustomerID,
						"error", err,
					)
					continue
				}
				if !result.Skipped {
					executed++
				}
			}
			return nil
		}))

	mustRegister("audit-flush", sched.Every("audit-flush", 5*time.Minute,
		func(ctx context.Context) error {
			drained, err := sink.Flush(ctx)
			if drained > 0 || err != nil {
				logr.Infow("audit flush", "drained", drained, "error", err)
			}
			return err
		}))
}
