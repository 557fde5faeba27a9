package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/retail-chat-bot/internal/api/router"
	"github.com/wolfman30/retail-chat-bot/internal/bot"
	"github.com/wolfman30/retail-chat-bot/internal/catalog"
	"github.com/wolfman30/retail-chat-bot/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/retail-chat-bot/internal/config"
	"github.com/wolfman30/retail-chat-bot/internal/conversation"
	"github.com/wolfman30/retail-chat-bot/internal/followup"
	"github.com/wolfman30/retail-chat-bot/internal/handoff"
	"github.com/wolfman30/retail-chat-bot/internal/http/handlers"
	"github.com/wolfman30/retail-chat-bot/internal/ingest"
	"github.com/wolfman30/retail-chat-bot/internal/observability/metrics"
	"github.com/wolfman30/retail-chat-bot/internal/realtime"
	"github.com/wolfman30/retail-chat-bot/internal/scheduler"
	"github.com/wolfman30/retail-chat-bot/pkg/logging"
)

const memoryQueueBuffer = 256

// relay forwards events published by other processes to the local hub.
type relay interface {
	Run(ctx context.Context) error
}

// App is the wired object graph shared by the API and worker binaries.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry

	Store     conversation.AdminStore
	Catalog   *catalog.Catalog
	Messenger *conversation.Messenger
	Engine    *bot.Engine
	Ingestor  *ingest.Ingestor
	Publisher *ingest.Publisher
	Worker    *ingest.Worker
	Hub       *realtime.Hub
	Emitter   realtime.Emitter

	Reconciler *scheduler.Reconciler
	Followups  *followup.Poller

	Webhook *whatsapp.WebhookHandler
	Admin   *handlers.AdminHandler

	pool  *pgxpool.Pool
	redis *redis.Client
	nats  *nats.Conn
	relay relay
	wg    sync.WaitGroup
}

// Build wires every component from cfg. awsCfg is only used by the services
// the configuration selects (SQS, S3, SES, Bedrock).
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	msgMetrics := metrics.NewMessagingMetrics(a.Registry)
	engineMetrics := metrics.NewEngineMetrics(a.Registry)
	jobMetrics := metrics.NewJobMetrics(a.Registry)

	store, pool, err := BuildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store, a.pool = store, pool

	products, err := BuildCatalog(ctx, cfg, awsCfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = products

	a.redis = BuildRedisClient(ctx, cfg, logger, true)
	if err := a.buildRealtime(); err != nil {
		a.Close()
		return nil, err
	}

	wa := whatsapp.NewClient(cfg.MetaWAToken, cfg.MetaPhoneNumberID)
	if cfg.MetaGraphBase != "" {
		wa.SetGraphAPIBase(cfg.MetaGraphBase)
	}
	a.Messenger = conversation.NewMessenger(store, wa).WithMetrics(msgMetrics)
	recorder := conversation.NewEventRecorder(store, logger)

	assigner := handoff.NewAssigner(store, recorder, logger)
	if alerter := BuildSellerAlerter(cfg, awsCfg, logger); alerter != nil {
		assigner.WithNotifier(alerter)
	}

	a.Engine = bot.NewEngine(store, a.Messenger, products, assigner, cfg.Engine, logger).
		WithRecorder(recorder).
		WithMetrics(engineMetrics)
	reasoner, err := BuildReasoner(ctx, cfg, awsCfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if reasoner != nil {
		a.Engine.WithReasoner(reasoner)
	}

	a.Reconciler = scheduler.NewReconciler(store, cfg.Engine, logger).WithMetrics(jobMetrics)
	if a.redis != nil {
		followups := followup.NewRedisScheduler(a.redis, logger)
		a.Engine.WithFollowups(followups)
		a.Reconciler.WithFollowups(followups)
		dispatcher := followup.NewDispatcher(store, a.Messenger, logger)
		a.Followups = followup.NewPoller(followups, dispatcher, logger).WithMetrics(jobMetrics)
	} else {
		logger.Warn("redis not configured; follow-up messages are disabled")
	}

	a.Ingestor = ingest.NewIngestor(store, a.Engine, logger).
		WithEmitter(a.Emitter).
		WithMetrics(msgMetrics)
	a.buildQueue(awsCfg)

	a.Webhook = whatsapp.NewWebhookHandler(cfg.MetaVerifyToken, cfg.MetaAppSecret, cfg.SignatureRequired(), a.Publisher, logger)
	a.Admin = handlers.NewAdminHandler(handlers.AdminConfig{
		Store:     store,
		Messenger: a.Messenger,
		Recorder:  recorder,
		Emitter:   a.Emitter,
		Products:  products,
		Logger:    logger,
	})
	return a, nil
}

func (a *App) buildRealtime() error {
	a.Hub = realtime.NewHub(a.Logger)
	a.Emitter = a.Hub

	switch a.Config.RealtimeBroker {
	case "nats":
		if a.Config.NATSURL == "" {
			return fmt.Errorf("bootstrap: REALTIME_BROKER=nats requires NATS_URL")
		}
		conn, err := realtime.ConnectNATS(a.Config.NATSURL, a.Logger)
		if err != nil {
			return fmt.Errorf("bootstrap: connect nats: %w", err)
		}
		broker := realtime.NewNATSBroker(conn, a.Hub, a.Logger)
		a.nats, a.Emitter, a.relay = conn, broker, broker
	case "redis":
		if a.redis == nil {
			a.Logger.Warn("redis realtime broker unavailable; events reach this process only")
			return nil
		}
		broker := realtime.NewRedisBroker(a.redis, a.Hub, a.Logger)
		a.Emitter, a.relay = broker, broker
	}
	a.Logger.Info("realtime configured", "broker", a.Config.RealtimeBroker, "fanout", a.relay != nil)
	return nil
}

func (a *App) buildQueue(awsCfg aws.Config) {
	opts := []ingest.WorkerOption{ingest.WithWorkerCount(a.Config.WorkerCount)}
	if a.InProcessQueue() {
		q := ingest.NewMemoryQueue(memoryQueueBuffer)
		a.Publisher = ingest.NewPublisher(q, a.Logger)
		a.Worker = ingest.NewWorker(a.Ingestor, q, a.Logger, opts...)
		a.Logger.Info("ingest queue", "type", "memory")
		return
	}
	q := ingest.NewSQSQueue(sqs.NewFromConfig(awsCfg), a.Config.IngestQueueURL, a.Config.IngestQueueFIFO)
	opts = append(opts, ingest.WithReceiveWaitSeconds(20), ingest.WithReceiveBatchSize(10))
	a.Publisher = ingest.NewPublisher(q, a.Logger)
	a.Worker = ingest.NewWorker(a.Ingestor, q, a.Logger, opts...)
	a.Logger.Info("ingest queue", "type", "sqs", "fifo", a.Config.IngestQueueFIFO)
}

// InProcessQueue reports whether webhooks and the ingest worker must share
// this process.
func (a *App) InProcessQueue() bool {
	return a.Config.UseMemoryQueue || a.Config.IngestQueueURL == ""
}

// StartRelay subscribes the local hub to events published by other
// processes. It is a no-op without a broker.
func (a *App) StartRelay(ctx context.Context) {
	if a.relay == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.relay.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("realtime relay stopped", "error", err)
		}
	}()
}

// StartIngest runs the ingest worker.
func (a *App) StartIngest(ctx context.Context) {
	a.Worker.Start(ctx)
}

// StartCatalogRefresh reloads the catalog every CatalogRefreshInterval.
func (a *App) StartCatalogRefresh(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Catalog.Run(ctx, a.Config.CatalogRefreshInterval)
	}()
}

// StartJobs runs the reconciler and, with Redis, the follow-up poller.
func (a *App) StartJobs(ctx context.Context) {
	if !a.Config.EnableJobs {
		a.Logger.Info("background jobs disabled")
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Reconciler.Run(ctx)
	}()
	if a.Followups != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Followups.Run(ctx)
		}()
	}
}

// Wait blocks until every started loop returned.
func (a *App) Wait() {
	a.Worker.Wait()
	a.wg.Wait()
}

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	checks := map[string]router.HealthCheck{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.nats != nil {
		checks["nats"] = func(context.Context) error {
			if !a.nats.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return router.New(&router.Config{
		Logger:             a.Logger,
		Webhook:            a.Webhook,
		Admin:              a.Admin,
		Realtime:           http.HandlerFunc(a.Hub.ServeWS),
		MetricsHandler:     promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    a.Config.AdminJWTSecret,
		CORSAllowedOrigins: a.Config.CORSAllowedOrigins,
		WebhookRateLimit:   a.Config.WebhookRateLimitPerMin,
		Checks:             checks,
	})
}

// Close releases connections. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
