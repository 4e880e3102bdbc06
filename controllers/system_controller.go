package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"leadpilot/monitoring"
	"leadpilot/utils"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type SystemController struct {
	Monitor *monitoring.Monitor
	Checks  map[string]HealthCheck
	Started time.Time
}

func NewSystemController(monitor *monitoring.Monitor, checks map[string]HealthCheck) *SystemController {
	return &SystemController{Monitor: monitor, Checks: checks, Started: time.Now()}
}

func (sc *SystemController) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(sc.Checks))
	for name, check := range sc.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
		"uptime": time.Since(sc.Started).Round(time.Second).String(),
	})
}

func (sc *SystemController) Metrics(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(sc.Monitor.Snapshot()))
}
