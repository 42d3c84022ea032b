package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vinculacion/registro-api/internal/middleware"
)

// actorFrom returns the opaque actor string for audit and decision records.
func actorFrom(c *gin.Context) string {
	if claims := middleware.Claims(c); claims != nil {
		return claims.Actor()
	}
	return "anonymous"
}

// intQuery parses an integer query parameter with a fallback.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
