package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "leadpilot/controllers"
)

// Handlers bundles every controller and guard the route table needs.
type Handlers struct {
	Sequences *controller.SequenceController
	Queue     *controller.QueueController
	Schedule  *controller.ScheduleController
	Replies   *controller.ReplyController
	Webhooks  *controller.WebhookController
	System    *controller.SystemController
	Progress  *controller.ProgressHub
	// Tracking is nil when open tracking is disabled
	Tracking *controller.TrackingController

	Auth        fiber.Handler
	RateLimit   fiber.Handler
	WebhookAuth fiber.Handler
	// AccessLog disables the request log line when false
	AccessLog bool
}

func passthrough(c *fiber.Ctx) error { return c.Next() }

func orPassthrough(h fiber.Handler) fiber.Handler {
	if h == nil {
		return passthrough
	}
	return h
}

func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.System.Health)

	// Inbound provider webhook, authenticated by shared secret instead of JWT
	app.Post("/webhooks/unipile", orPassthrough(h.WebhookAuth), h.Replies.UnipileWebhook)

	if h.Tracking != nil {
		app.Get("/track/open/:id/:token", h.Tracking.TrackOpen)
	}

	access := passthrough
	if h.AccessLog {
		access = logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		})
	}
	api := app.Group("/api/v1", access, orPassthrough(h.Auth), orPassthrough(h.RateLimit))

	api.Get("/metrics", h.System.Metrics)

	// Sequence definitions
	campaign := api.Group("/campaigns")
	campaign.Post("/:id/sequence", h.Sequences.CreateSequence)
	campaign.Get("/:id/sequence", h.Sequences.GetSequence)

	// Priority queue
	campaign.Post("/:id/queue", h.Queue.AddToQueue)
	campaign.Get("/:id/queue/next", h.Queue.NextBatch)
	campaign.Post("/:id/queue/promote", h.Queue.PromoteQueue)
	campaign.Get("/:id/optimal-send-time", h.Schedule.OptimalSendTime)

	queue := api.Group("/queue")
	queue.Get("/stats", h.Queue.GetQueueStats)
	queue.Put("/:id", h.Queue.UpdateQueueStatus)
	queue.Delete("/:id", h.Queue.RemoveFromQueue)
	queue.Post("/:id/schedule", h.Queue.ScheduleQueueItem)

	// Lead progress
	lead := api.Group("/leads/:id/sequence")
	lead.Post("/init", h.Sequences.InitSequence)
	lead.Post("/pause", h.Sequences.PauseSequence)
	lead.Post("/resume", h.Sequences.ResumeSequence)
	lead.Get("/progress", h.Sequences.GetProgress)

	// Batch pass and its live feed
	api.Post("/sequences/process", h.Sequences.ProcessSequences)
	api.Get("/sequences/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(h.Progress.HandleProgressWS))

	// Scheduling helpers
	sched := api.Group("/schedule")
	sched.Post("/timezone", h.Schedule.DetectTimezone)
	sched.Post("/window", h.Schedule.CheckWindow)

	// Replies
	api.Post("/replies", h.Replies.RecordReply)

	// Outgoing webhooks
	hooks := api.Group("/webhooks")
	hooks.Post("/", h.Webhooks.CreateWebhook)
	hooks.Get("/", h.Webhooks.GetWebhooks)
	hooks.Delete("/:id", h.Webhooks.DeleteWebhook)
	hooks.Post("/:id/test", h.Webhooks.TestWebhook)
}
