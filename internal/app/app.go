package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ProactiveInsights/internal/api"
	"ProactiveInsights/internal/config"
	"ProactiveInsights/internal/delivery"
	"ProactiveInsights/internal/domain"
	"ProactiveInsights/internal/feedback"
	"ProactiveInsights/internal/focus"
	"ProactiveInsights/internal/infrastructure/events"
	"ProactiveInsights/internal/infrastructure/generator"
	"ProactiveInsights/internal/infrastructure/scheduler"
	"ProactiveInsights/internal/infrastructure/slack"
	"ProactiveInsights/internal/infrastructure/storage"
	"ProactiveInsights/internal/infrastructure/telegram"
	"ProactiveInsights/internal/logging"
	"ProactiveInsights/internal/patterns"
	"ProactiveInsights/internal/ports"
	"ProactiveInsights/internal/scoring"
	"ProactiveInsights/internal/source"
	"ProactiveInsights/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// Store is what the application needs from persistence.
type Store interface {
	ports.InsightRepository
	ports.KnowledgeStore
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     Store
	engine    *usecase.Engine
	scheduler *usecase.Scheduler
	server    *api.Server
	closers   []io.Closer
}

// New builds the full object graph. Registry may be nil for the built-in source kinds.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, registry *source.Registry) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if registry == nil {
		registry = source.DefaultRegistry()
	}

	store, closer, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &Application{cfg: cfg, logger: baseLogger, store: store}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	var publisher ports.EventPublisher
	if len(cfg.Events.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		publisher = kafka
		a.closers = append(a.closers, kafka)
	}

	router := delivery.NewRouter(delivery.Config{
		RateLimitWindow: config.Millis(cfg.Delivery.DuplicateWindowMs),
		BatchMaxSize:    cfg.Delivery.BatchMaxSize,
	}, buildSenders(cfg.Notifications, baseLogger), baseLogger.With("component", "delivery"))

	tracker := focus.NewTracker()
	tracker.Configure(config.Millis(cfg.Delivery.FocusDetectionWindowMs), cfg.Delivery.MinCalls)

	learner := patterns.NewLearner(patterns.Config{
		MinObservations: cfg.Patterns.MinObservations,
		MinActionRate:   cfg.Patterns.MinActionRate,
		HistoryWindow:   time.Duration(cfg.Patterns.HistoryDays) * 24 * time.Hour,
	}, store, store, baseLogger.With("component", "patterns"))

	ack, err := feedback.CompileAckPattern(cfg.Feedback.AckPattern)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("feedback ack_pattern: %w", err)
	}
	fb := feedback.NewTracker(feedback.Config{
		ActionWindow:          config.Millis(cfg.Feedback.ActionWindowMs),
		RateIncreasePerAct:    cfg.Feedback.RateIncreasePerAct,
		RateDecreasePerIgnore: cfg.Feedback.RateDecreasePerIgnore,
		MinObservations:       cfg.Feedback.MinObservations,
		LowValueThreshold:     cfg.Feedback.LowValueThreshold,
	}, feedback.TrackerDeps{
		Repository: store,
		Matcher:    feedback.NewKeywordMatcher(cfg.Keywords),
		AckPattern: ack,
		Learner:    learner,
		Events:     publisher,
		Logger:     baseLogger.With("component", "feedback"),
	})

	gen, err := buildGenerator(cfg.Generator, baseLogger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.engine = usecase.NewEngine(usecase.EngineConfig{
		Thresholds: scoring.Thresholds{
			High:     cfg.UrgencyThresholds.High,
			Critical: cfg.UrgencyThresholds.Critical,
		},
		Staleness:        cfg.Staleness(),
		SessionID:        cfg.SessionID,
		GeneratorOptions: cfg.Generator.Options,
		LowValuePolicy:   feedback.ParseLowValuePolicy(cfg.Feedback.LowValuePolicy),
	}, usecase.EngineDeps{
		Repository: store,
		Generator:  gen,
		Router:     router,
		Focus:      tracker,
		Feedback:   fb,
		Events:     publisher,
		Logger:     baseLogger.With("component", "engine"),
	})

	for _, adapter := range registry.Build(cfg, baseLogger.With("component", "sources")) {
		if err := a.engine.RegisterAdapter(adapter); err != nil {
			baseLogger.Warn("skip source", "source", adapter.SourceID(), "error", err)
		}
	}

	a.scheduler = usecase.NewScheduler(
		scheduler.NewCronScheduler(baseLogger.With("component", "scheduler")),
		a.engine,
		usecase.SchedulerConfig{
			BatchWindow:   config.Millis(cfg.Delivery.BatchWindowMs),
			SweepInterval: config.Millis(cfg.Feedback.SweepIntervalMs),
			DigestCron:    cfg.Delivery.DigestCron,
		},
	)
	a.server = api.NewServer(cfg.HTTP.Addr, a.engine, baseLogger.With("component", "api"))
	return a, nil
}

// Engine exposes the orchestrator, mainly for embedding hosts.
func (a *Application) Engine() *usecase.Engine { return a.engine }

// Run starts polling, housekeeping and the HTTP API, and blocks until ctx ends.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := a.scheduler.Start(ctx); err != nil {
		a.engine.Stop()
		return fmt.Errorf("start scheduler: %w", err)
	}

	serveErr := a.server.Run(ctx)

	a.engine.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Deliver whatever is still batched before exiting.
	a.engine.DrainBatch(shutdownCtx)
	stopErr := a.scheduler.Stop(shutdownCtx)

	return errors.Join(serveErr, stopErr)
}

func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// OpenStore selects persistence by driver: sqlite (default), postgres or memory.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (Store, io.Closer, error) {
	switch cfg.Driver {
	case "", "sqlite":
		repo, err := storage.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	case "postgres":
		repo, err := storage.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	case "memory":
		return storage.NewMemoryRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// buildSenders maps channels to transports. Telegram carries the push channel;
// Slack carries team messages and batch digests. In-context insights are
// pulled by the host through the query API.
func buildSenders(cfg config.NotificationConfig, logger *slog.Logger) map[domain.Channel]ports.Sender {
	senders := map[domain.Channel]ports.Sender{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		n := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if cfg.Telegram.APIBase != "" {
			n = n.WithAPIBase(cfg.Telegram.APIBase)
		}
		senders[domain.ChannelPush] = n
	}
	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		n := slack.NewNotifier(cfg.Slack.BotToken, cfg.Slack.Channel)
		senders[domain.ChannelMessage] = n
		senders[domain.ChannelBatch] = n
		if _, ok := senders[domain.ChannelPush]; !ok {
			senders[domain.ChannelPush] = n
		}
	}
	if len(senders) == 0 {
		logger.Info("no outbound transports configured; insights are only available through the API")
	}
	return senders
}

func buildGenerator(cfg config.GeneratorConfig, logger *slog.Logger) (ports.Generator, error) {
	var members []ports.Generator
	if len(cfg.Rules) > 0 {
		rules, err := generator.NewRulesGenerator(generator.RulesFromConfig(cfg.Rules))
		if err != nil {
			return nil, fmt.Errorf("generator rules: %w", err)
		}
		members = append(members, rules)
	}
	if cfg.Remote.URL != "" {
		members = append(members, generator.NewRemoteGenerator(cfg.Remote.URL, cfg.Remote.APIKey))
	}
	return generator.NewChain(logger.With("component", "generator"), members...), nil
}
