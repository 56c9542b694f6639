// Package httpapi exposes a small operator-facing surface: a liveness check
// and a stats endpoint reporting pool occupancy, debounce depth, and the
// next due scheduled task.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Stats is a point-in-time snapshot of supervisor activity.
type Stats struct {
	WarmContainers   int        `json:"warm_containers"`
	PendingDebounces int        `json:"pending_debounces"`
	NextTaskDue      *time.Time `json:"next_task_due"`
	RegisteredChats  int        `json:"registered_chats"`
}

// StatsProvider is consulted on every /stats request.
type StatsProvider func() Stats

// New builds the fiber app serving /healthz and /stats.
func New(stats StatsProvider) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(stats())
	})

	return app
}
