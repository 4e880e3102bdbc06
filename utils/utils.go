package utils

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// RateLimitKey creates a unique key for rate limiting
func RateLimitKey(userID uint, path string) string {
	return fmt.Sprintf("rl:%d:%s", userID, path)
}

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// ErrorResponse creates a standardized error response
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// ValidationResponse reports every rule violation at once
func ValidationResponse(c *fiber.Ctx, messages []string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   "Validation failed",
		"errors":  messages,
	})
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}

// ParseUint safely parses a string to uint
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}

// ParamID reads a positive numeric route parameter
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	id := ParseUint(c.Params(name))
	if id == 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
