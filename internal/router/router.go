package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobforge/scheduler/internal/handler"
)

// Handlers holds every Control API handler, adapted from the teacher's
// Handlers bundle.
type Handlers struct {
	Task      *handler.TaskHandler
	Scheduler *handler.SchedulerHandler
	Health    *handler.HealthHandler
}

// SetupRouter wires Fiber middleware and routes (spec.md §6), same
// middleware stack as the teacher: recover, request ID, logger, CORS,
// swagger.
func SetupRouter(app *fiber.App, h *Handlers) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} - ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", h.Health.Health)
	app.Get("/ready", h.Health.Ready)
	app.Get("/live", h.Health.Live)

	api := app.Group("/api")

	api.Get("/status", h.Scheduler.Status)
	api.Post("/scheduler/start", h.Scheduler.Start)
	api.Post("/scheduler/stop", h.Scheduler.Stop)
	api.Post("/scheduler/mode", h.Scheduler.Mode)
	api.Get("/logs", h.Scheduler.Logs)
	api.Get("/resource-groups", h.Scheduler.ResourceGroups)
	api.Post("/test-notification", h.Scheduler.TestNotification)

	tasks := api.Group("/tasks")
	tasks.Get("/", h.Task.List)
	tasks.Post("/", h.Task.Create)
	tasks.Get("/:id", h.Task.Get)
	tasks.Put("/:id", h.Task.Update)
	tasks.Delete("/:id", h.Task.Delete)
	tasks.Post("/:id/run", h.Task.Run)
	tasks.Post("/:id/cancel", h.Task.Cancel)
	tasks.Get("/:id/logs", h.Task.Logs)
}
