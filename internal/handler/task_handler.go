package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jobforge/scheduler/internal/httpapi"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/service"
)

// TaskHandler serves the job-catalog half of the Control API (spec.md
// §6), adapted from the teacher's JobHandler: same create/get/list/
// update/delete shape, stripped of the tenant header lookup (the
// catalog is single-tenant, spec.md §1) and retargeted at the
// trigger/command/step job model.
type TaskHandler struct {
	catalog *service.CatalogService
	runs    *service.RunsService
}

// NewTaskHandler builds a TaskHandler.
func NewTaskHandler(catalog *service.CatalogService, runs *service.RunsService) *TaskHandler {
	return &TaskHandler{catalog: catalog, runs: runs}
}

// Create publishes a new job.
// @Summary Create a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body models.Job true "Task definition"
// @Success 201 {object} httpapi.Response{data=models.Job}
// @Router /api/tasks [post]
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var job models.Job
	if err := c.BodyParser(&job); err != nil {
		return httpapi.BadRequest(c, "invalid request body")
	}
	if err := h.catalog.Create(&job); err != nil {
		return httpapi.BadRequest(c, err.Error())
	}
	return httpapi.Created(c, job)
}

// List returns every published job.
// @Summary List tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} httpapi.Response{data=[]models.Job}
// @Router /api/tasks [get]
func (h *TaskHandler) List(c *fiber.Ctx) error {
	return httpapi.Success(c, h.catalog.List())
}

// Get returns one job plus its run history.
// @Summary Get a task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} httpapi.Response{data=models.Job}
// @Failure 404 {object} httpapi.Response
// @Router /api/tasks/{id} [get]
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.catalog.Get(id)
	if err != nil {
		return httpapi.NotFound(c, err.Error())
	}
	return httpapi.Success(c, fiber.Map{
		"task":    job,
		"live":    h.runs.Live(id),
		"history": h.runs.History(id),
	})
}

// Update republishes a job.
// @Summary Update a task
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body models.Job true "Task definition"
// @Success 200 {object} httpapi.Response{data=models.Job}
// @Failure 400 {object} httpapi.Response
// @Failure 404 {object} httpapi.Response
// @Router /api/tasks/{id} [put]
func (h *TaskHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	var job models.Job
	if err := c.BodyParser(&job); err != nil {
		return httpapi.BadRequest(c, "invalid request body")
	}
	job.ID = id
	if err := h.catalog.Update(&job); err != nil {
		return httpapi.BadRequest(c, err.Error())
	}
	return httpapi.Success(c, job)
}

// Delete removes a job from the catalog.
// @Summary Delete a task
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 204 "No Content"
// @Failure 404 {object} httpapi.Response
// @Router /api/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.catalog.Delete(id); err != nil {
		return httpapi.NotFound(c, err.Error())
	}
	return httpapi.NoContent(c)
}

// Run creates a manual run for the task.
// @Summary Trigger a manual run
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} httpapi.Response{data=models.Run}
// @Failure 409 {object} httpapi.Response
// @Router /api/tasks/{id}/run [post]
func (h *TaskHandler) Run(c *fiber.Ctx) error {
	id := c.Params("id")
	run, err := h.runs.ManualRun(id)
	if err != nil {
		return httpapi.Conflict(c, err.Error())
	}
	return httpapi.Success(c, run)
}

// Cancel cancels the latest live run for the task.
// @Summary Cancel a task's latest run
// @Tags tasks
// @Param id path string true "Task ID"
// @Success 200 {object} httpapi.Response
// @Failure 404 {object} httpapi.Response
// @Router /api/tasks/{id}/cancel [post]
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.runs.CancelLatestForJob(id); err != nil {
		return httpapi.NotFound(c, err.Error())
	}
	return httpapi.Success(c, fiber.Map{"cancelled": true})
}

// Logs returns jobID's run history, most recent first.
// @Summary Get a task's run logs
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} httpapi.Response{data=[]models.Run}
// @Router /api/tasks/{id}/logs [get]
func (h *TaskHandler) Logs(c *fiber.Ctx) error {
	id := c.Params("id")
	return httpapi.Success(c, h.runs.History(id))
}
