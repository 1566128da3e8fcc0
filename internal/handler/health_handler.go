package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"gorm.io/gorm"

	"github.com/jobforge/scheduler/internal/engine"
	"github.com/jobforge/scheduler/internal/httpapi"
)

// HealthHandler serves /health, /ready, and /live, adapted from the
// teacher's HealthHandler: same three-endpoint shape and database-ping
// check, scheduler.IsRunning() swapped for engine.Engine.IsRunning().
type HealthHandler struct {
	db  *gorm.DB
	eng *engine.Engine
}

// NewHealthHandler builds a HealthHandler.
func NewHealthHandler(db *gorm.DB, eng *engine.Engine) *HealthHandler {
	return &HealthHandler{db: db, eng: eng}
}

// Health reports overall service health.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} httpapi.Response
// @Failure 503 {object} httpapi.Response
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		return httpapi.ServiceUnavailable(c, "database connection error")
	}
	return httpapi.Success(c, fiber.Map{
		"status":    "healthy",
		"scheduler": h.eng.IsRunning(),
		"database":  "connected",
		"host":      hostLoad(),
	})
}

// hostLoad reports the host's current CPU and memory pressure so an
// operator can tell a degraded /health response from a genuinely
// unreachable host. Sampling failures are non-fatal: the rest of the
// health check still reflects the database/scheduler state.
func hostLoad() fiber.Map {
	load := fiber.Map{}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		load["cpu_percent"] = pct[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		load["mem_percent"] = v.UsedPercent
	}
	return load
}

// Ready reports whether the service is ready to accept traffic.
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} httpapi.Response
// @Failure 503 {object} httpapi.Response
// @Router /ready [get]
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		return httpapi.ServiceUnavailable(c, "database connection error")
	}
	return httpapi.Success(c, fiber.Map{"status": "ready"})
}

// Live reports liveness.
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} httpapi.Response
// @Router /live [get]
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return httpapi.Success(c, fiber.Map{"status": "alive"})
}
