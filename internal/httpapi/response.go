// Package httpapi holds the response envelope shared by every Control
// API handler. It plays the role the teacher's handler package filled
// with its own response.go rather than importing a shared response
// library — the same in-repo-helpers approach, pulled out one level so
// every handler package can share it.
package httpapi

import "github.com/gofiber/fiber/v2"

// Response is the standard API response envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains response metadata.
type Meta struct {
	Page       int   `json:"page,omitempty"`
	PageSize   int   `json:"page_size,omitempty"`
	TotalCount int64 `json:"total_count,omitempty"`
	HasMore    bool  `json:"has_more,omitempty"`
}

// Success sends a success response.
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(Response{Success: true, Data: data})
}

// SuccessWithMeta sends a success response with metadata.
func SuccessWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Created sends a 201 Created response.
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// NoContent sends a 204 No Content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// BadRequest sends a 400 Bad Request response.
func BadRequest(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusBadRequest, "BAD_REQUEST", message)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusNotFound, "NOT_FOUND", message)
}

// InternalError sends a 500 Internal Server Error response.
func InternalError(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden sends a 403 Forbidden response.
func Forbidden(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusForbidden, "FORBIDDEN", message)
}

// Conflict sends a 409 Conflict response.
func Conflict(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusConflict, "CONFLICT", message)
}

// ServiceUnavailable sends a 503 Service Unavailable response.
func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return errResponse(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
}

func errResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}
