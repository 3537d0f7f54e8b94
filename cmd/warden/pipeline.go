package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stackwatch/warden/internal/catalog"
	"github.com/stackwatch/warden/internal/config"
	"github.com/stackwatch/warden/internal/decision"
	"github.com/stackwatch/warden/internal/dispatch"
	"github.com/stackwatch/warden/internal/executor"
	"github.com/stackwatch/warden/internal/governor"
	"github.com/stackwatch/warden/internal/learner"
	"github.com/stackwatch/warden/internal/metrics"
	"github.com/stackwatch/warden/internal/notify"
	"github.com/stackwatch/warden/internal/routing"
	"github.com/stackwatch/warden/internal/storage"
	"github.com/stackwatch/warden/internal/throttle"
	"github.com/stackwatch/warden/internal/types"
)

// pipeline holds the wired components a run needs to manage
type pipeline struct {
	governor  *governor.Governor
	scheduler *dispatch.Scheduler
	store     storage.Storage
}

// buildPipeline wires every component from the loaded configuration
func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	store, err := storage.NewStorage(&storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	cat, err := catalog.New(catalog.DefaultTemplates())
	if err != nil {
		return nil, err
	}

	learn, err := learner.New(&learner.Config{
		Catalog:           cat,
		Logger:            logger,
		WindowSize:        cfg.Learning.WindowSize,
		MinConfidence:     cfg.Decision.MinConfidence,
		ConfidenceCeiling: cfg.Learning.ConfidenceCeiling,
		ConfidenceStep:    cfg.Learning.ConfidenceStep,
		PatternThreshold:  cfg.Learning.PatternThreshold,
		FailureThreshold:  cfg.Learning.FailureThreshold,
	})
	if err != nil {
		return nil, err
	}

	synth, err := decision.New(&decision.Config{
		Catalog:              cat,
		History:              learn,
		Logger:               logger,
		MaxConcurrentActions: cfg.Decision.MaxConcurrentActions,
	})
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(&executor.Config{
		Store:                 store,
		Recorder:              learn,
		Logger:                logger,
		MaxActionsPerHour:     cfg.Executor.MaxActionsPerHour,
		MinTimeBetweenActions: cfg.Executor.MinTimeBetweenActions.Std(),
	})
	if err != nil {
		return nil, err
	}
	registerHandlers(exec, logger)

	ledger, err := throttle.NewLedger(cfg.ThrottleBuckets(), logger)
	if err != nil {
		return nil, err
	}

	table, err := routing.NewTable(cfg.Channels, logger)
	if err != nil {
		return nil, err
	}

	registry := buildRegistry(cfg.Channels, logger)

	scheduler, err := dispatch.NewScheduler(&dispatch.SchedulerConfig{
		Store:           store,
		Registry:        registry,
		Steps:           cfg.EscalationSteps(),
		Logger:          logger,
		DeliveryTimeout: cfg.Delivery.Timeout.Std(),
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := dispatch.New(&dispatch.Config{
		Store:                 store,
		Ledger:                ledger,
		Table:                 table,
		Registry:              registry,
		Escalator:             scheduler,
		Logger:                logger,
		MaxParallelDeliveries: cfg.Delivery.MaxParallel,
		DeliveryTimeout:       cfg.Delivery.Timeout.Std(),
	})
	if err != nil {
		return nil, err
	}

	govCfg := &governor.Config{
		Catalog:           cat,
		Synthesizer:       synth,
		Executor:          exec,
		Learner:           learn,
		Dispatcher:        dispatcher,
		Store:             store,
		Logger:            logger,
		CycleInterval:     cfg.Decision.CycleInterval.Std(),
		LearnInterval:     cfg.Learning.Interval.Std(),
		MaxResourceImpact: cfg.Decision.MaxResourceImpact,
	}
	if cfg.Retention.Enabled {
		govCfg.RetentionMaxAge = cfg.Retention.MaxAge.Std()
		govCfg.RetentionInterval = cfg.Retention.Interval.Std()
	}
	gov, err := governor.New(govCfg)
	if err != nil {
		return nil, err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &pipeline{governor: gov, scheduler: scheduler, store: store}, nil
}

// buildRegistry creates channel adapters from the channel configs. An
// unknown adapter type is a warning, not a startup failure; alerts routed
// to that channel count as delivery failures.
func buildRegistry(channels []routing.Channel, logger *zap.Logger) *notify.Registry {
	registry := notify.NewRegistry(logger)
	for _, ch := range channels {
		adapter, err := buildAdapter(ch, logger)
		if err != nil {
			logger.Warn("skipping channel adapter",
				zap.String("channel", ch.ID),
				zap.String("type", ch.Type),
				zap.Error(err))
			continue
		}
		if err := registry.Register(ch.ID, adapter); err != nil {
			logger.Warn("failed to register channel adapter",
				zap.String("channel", ch.ID),
				zap.Error(err))
		}
	}
	return registry
}

func buildAdapter(ch routing.Channel, logger *zap.Logger) (notify.Adapter, error) {
	switch ch.Type {
	case "webhook":
		url := ch.Settings["url"]
		if url == "" {
			return nil, fmt.Errorf("webhook channel %s has no url setting", ch.ID)
		}
		return notify.NewWebhookAdapter(url)
	case "console":
		return notify.NewConsoleAdapter(logger), nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ch.Type)
	}
}

// registerHandlers installs the built-in category handlers. They log the
// action and report success; operators wanting real side effects replace
// them through the executor API.
func registerHandlers(exec *executor.Executor, logger *zap.Logger) {
	for _, category := range []types.ActionCategory{
		types.CategoryRemediation,
		types.CategoryOptimization,
		types.CategoryAlert,
		types.CategoryMonitor,
	} {
		category := category
		err := exec.RegisterHandler(category, executor.HandlerFunc(
			func(ctx context.Context, action *types.DecisionAction) error {
				logger.Info("executing action",
					zap.String("category", string(category)),
					zap.String("template_id", action.TemplateID),
					zap.String("target", action.TargetResource))
				return nil
			}))
		if err != nil {
			logger.Warn("failed to register handler",
				zap.String("category", string(category)),
				zap.Error(err))
		}
	}
}
