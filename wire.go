package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadpilot/config"
	controller "leadpilot/controllers"
	"leadpilot/lock"
	"leadpilot/mailer"
	"leadpilot/middleware"
	"leadpilot/models"
	"leadpilot/monitoring"
	"leadpilot/queue"
	"leadpilot/reply"
	"leadpilot/repository"
	"leadpilot/repository/memory"
	"leadpilot/routes"
	"leadpilot/sequence"
	"leadpilot/utils"
	"leadpilot/webhooks"
	"leadpilot/worker"
)

// services is the composed application: storage, domain services and workers.
type services struct {
	cfg     config.Config
	monitor *monitoring.Monitor
	db      *gorm.DB
	redis   *redis.Client
	repos   repository.Set

	catalog    *sequence.Catalog
	tracker    *sequence.Tracker
	processor  *sequence.Processor
	queue      *queue.Service
	detector   *reply.Detector
	dispatcher *webhooks.Dispatcher
	hub        *controller.ProgressHub
	opens      *utils.OpenTracker
}

func newServices(ctx context.Context, cfg config.Config, monitor *monitoring.Monitor) (*services, error) {
	s := &services{cfg: cfg, monitor: monitor}

	if cfg.InMemory {
		store := memory.New()
		s.repos = store.Set()
		s.seedDevUser(store)
	} else {
		db, err := config.ConnectDB(cfg)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.repos = repository.NewGormSet(db)
	}

	client, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		s.close()
		return nil, err
	}
	s.redis = client

	var locker lock.Locker = lock.NewLocalLocker()
	if s.redis != nil {
		locker = lock.NewRedisLocker(s.redis)
	}

	seq := cfg.Sequencing
	s.catalog = sequence.NewCatalog(s.repos.Steps, s.repos.Campaigns, monitor)
	s.tracker = sequence.NewTracker(s.repos.Steps, s.repos.Progress, monitor)
	s.dispatcher = webhooks.NewDispatcher(s.repos.Webhooks, monitor)
	s.hub = controller.NewProgressHub(monitor)

	s.processor = sequence.NewProcessor(s.repos, s.catalog, s.tracker, locker, sequence.NewRateThrottle(seq.SendRatePerSecond), monitor)
	s.processor.LockTTL = seq.LockTTL
	s.processor.MessageDomain = seq.MessageDomain
	s.processor.Notifier = s.dispatcher
	s.processor.Observer = s.hub

	s.queue = queue.NewService(s.repos, monitor)
	s.queue.DefaultWindow = seq.DefaultWindow

	if cfg.TrackingBaseURL != "" {
		s.opens = utils.NewOpenTracker(cfg.TrackingBaseURL, cfg.TrackingSecret)
	}

	s.detector = reply.NewDetector(s.repos, s.tracker, monitor)
	s.detector.Notifier = s.dispatcher
	return s, nil
}

// seedDevUser makes the in-memory server usable without a user table.
func (s *services) seedDevUser(store *memory.Store) {
	user := store.AddUser(models.User{Email: "dev@leadpilot.local", Name: "Developer", IsActive: true})
	token, err := utils.GenerateAccessToken(s.cfg.JWTSecret, user.ID, user.TokenVersion, 24*time.Hour)
	if err != nil {
		s.monitor.LogError("dev_token", err, nil)
		return
	}
	s.monitor.Logger.WithField("user_id", user.ID).Infof("In-memory mode; development token: %s", token)
}

func (s *services) close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func (s *services) healthChecks() map[string]controller.HealthCheck {
	checks := map[string]controller.HealthCheck{}
	if s.db != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (s *services) httpApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "leadpilot",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   middleware.DefaultCORSConfig().AllowedMethods,
		AllowedHeaders:   middleware.DefaultCORSConfig().AllowedHeaders,
		ExposedHeaders:   middleware.DefaultCORSConfig().ExposedHeaders,
		MaxAge:           3600,
	}))

	limit := middleware.RateLimitConfig{Max: s.cfg.RateLimitMax, Expiration: time.Minute}
	if s.redis != nil {
		limit.Storage = middleware.NewRedisStorage(s.redis)
	}

	routes.SetupRoutes(app, routes.Handlers{
		Sequences: s.sequenceController(),
		Queue:     controller.NewQueueController(s.repos, s.queue, s.monitor),
		Schedule:  controller.NewScheduleController(s.repos, s.monitor),
		Replies:   controller.NewReplyController(s.repos, s.detector, s.monitor),
		Webhooks:  controller.NewWebhookController(s.repos, s.dispatcher, s.monitor),
		System:    controller.NewSystemController(s.monitor, s.healthChecks()),
		Progress:  s.hub,
		Tracking:  s.trackingController(),

		Auth:        middleware.Protected(s.cfg.JWTSecret, s.repos.Users),
		RateLimit:   middleware.WriteRateLimiter(limit, s.monitor),
		WebhookAuth: middleware.WebhookSecret(s.cfg.UnipileWebhookSecret),
		AccessLog:   s.cfg.Environment != "production",
	})
	return app
}

func (s *services) sequenceController() *controller.SequenceController {
	sc := controller.NewSequenceController(s.repos, s.catalog, s.tracker, s.processor, s.monitor)
	sc.BatchSize = s.cfg.Sequencing.BatchSize
	return sc
}

func (s *services) trackingController() *controller.TrackingController {
	if s.opens == nil {
		return nil
	}
	return controller.NewTrackingController(s.repos, s.opens, s.monitor)
}

func (s *services) sequenceWorker() *worker.SequenceWorker {
	w := worker.NewSequenceWorker(s.processor, s.monitor)
	w.Interval = s.cfg.Sequencing.SequenceInterval
	w.BatchSize = s.cfg.Sequencing.BatchSize
	return w
}

// dispatchWorker is nil when SMTP is not configured.
func (s *services) dispatchWorker() *worker.DispatchWorker {
	if !s.cfg.SMTP.Enabled() {
		return nil
	}
	sender := mailer.NewSMTPSender(s.cfg.SMTP)
	sender.Tracker = s.opens
	w := worker.NewDispatchWorker(s.repos, sender, sequence.NewRateThrottle(s.cfg.Sequencing.SendRatePerSecond), s.monitor)
	w.Interval = s.cfg.Sequencing.DispatchInterval
	w.BatchSize = s.cfg.Sequencing.BatchSize
	return w
}

// replyPoller is nil when no reply inbox is configured.
func (s *services) replyPoller() *worker.ReplyPoller {
	if !s.cfg.IMAP.Enabled() {
		return nil
	}
	p := worker.NewReplyPoller(reply.NewIMAPSource(s.cfg.IMAP), s.detector, s.monitor)
	p.Interval = s.cfg.Sequencing.ReplyPollInterval
	return p
}

func errDisabled(what, env string) error {
	return fmt.Errorf("%s is not configured (set %s)", what, env)
}
