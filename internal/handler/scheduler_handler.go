package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jobforge/scheduler/internal/httpapi"
	"github.com/jobforge/scheduler/internal/service"
)

// SchedulerHandler serves the scheduler-lifecycle half of the Control
// API (spec.md §6): status, start/stop/mode, the global log tail,
// resource-group occupancy, and the test-notification probe.
type SchedulerHandler struct {
	runs *service.RunsService
}

// NewSchedulerHandler builds a SchedulerHandler.
func NewSchedulerHandler(runs *service.RunsService) *SchedulerHandler {
	return &SchedulerHandler{runs: runs}
}

// Status reports {running, mode, total_jobs, running_runs, queue_depth}.
// @Summary Scheduler status
// @Tags scheduler
// @Produce json
// @Success 200 {object} httpapi.Response
// @Router /api/status [get]
func (h *SchedulerHandler) Status(c *fiber.Ctx) error {
	return httpapi.Success(c, h.runs.Status())
}

// Start starts the scheduler loop.
// @Summary Start the scheduler
// @Tags scheduler
// @Success 200 {object} httpapi.Response
// @Router /api/scheduler/start [post]
func (h *SchedulerHandler) Start(c *fiber.Ctx) error {
	// A fasthttp request context is reused once the handler returns, so
	// the loop it spawns must run against a context of its own rather
	// than one scoped to this request.
	if err := h.runs.Start(context.Background()); err != nil {
		return httpapi.Conflict(c, err.Error())
	}
	return httpapi.Success(c, fiber.Map{"running": true})
}

// Stop stops the scheduler loop, waiting up to a grace period for
// in-flight runs to finish.
// @Summary Stop the scheduler
// @Tags scheduler
// @Success 200 {object} httpapi.Response
// @Router /api/scheduler/stop [post]
func (h *SchedulerHandler) Stop(c *fiber.Ctx) error {
	h.runs.Stop(10 * time.Second)
	return httpapi.Success(c, fiber.Map{"running": false})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// Mode switches between "auto" and "single" admission modes.
// @Summary Set admission mode
// @Tags scheduler
// @Accept json
// @Param request body modeRequest true "Target mode"
// @Success 200 {object} httpapi.Response
// @Failure 400 {object} httpapi.Response
// @Router /api/scheduler/mode [post]
func (h *SchedulerHandler) Mode(c *fiber.Ctx) error {
	var req modeRequest
	if err := c.BodyParser(&req); err != nil {
		return httpapi.BadRequest(c, "invalid request body")
	}
	if err := h.runs.SetMode(req.Mode); err != nil {
		return httpapi.BadRequest(c, err.Error())
	}
	return httpapi.Success(c, fiber.Map{"mode": req.Mode})
}

// Logs returns the global bounded tail of recently-terminated runs.
// @Summary Global run log tail
// @Tags scheduler
// @Produce json
// @Success 200 {object} httpapi.Response
// @Router /api/logs [get]
func (h *SchedulerHandler) Logs(c *fiber.Ctx) error {
	return httpapi.Success(c, h.runs.RecentEvents())
}

// ResourceGroups reports per-group {running, max, available, run_ids}.
// @Summary Resource group occupancy
// @Tags scheduler
// @Produce json
// @Success 200 {object} httpapi.Response
// @Router /api/resource-groups [get]
func (h *SchedulerHandler) ResourceGroups(c *fiber.Ctx) error {
	return httpapi.Success(c, h.runs.ResourceGroups())
}

type testNotificationRequest struct {
	Message string `json:"message"`
}

// TestNotification dispatches a synthetic notification through the
// configured sink.
// @Summary Dispatch a test notification
// @Tags scheduler
// @Accept json
// @Param request body testNotificationRequest true "Message"
// @Success 200 {object} httpapi.Response
// @Failure 500 {object} httpapi.Response
// @Router /api/test-notification [post]
func (h *SchedulerHandler) TestNotification(c *fiber.Ctx) error {
	var req testNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return httpapi.BadRequest(c, "invalid request body")
	}
	if err := h.runs.TestNotification(c.Context(), req.Message); err != nil {
		return httpapi.InternalError(c, err.Error())
	}
	return httpapi.Success(c, fiber.Map{"dispatched": true})
}
