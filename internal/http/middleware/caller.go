package middleware

import (
	"github.com/gin-gonic/gin"

	"dispatch/internal/types"
)

const (
	callerIDKey   = "callerID"
	callerRoleKey = "callerRole"
)

// Caller lifts the caller identity set by the edge gateway out of the
// X-Caller-* headers. Authentication itself happens at the gateway.
func Caller() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(callerIDKey, c.GetHeader("X-Caller-ID"))
		c.Set(callerRoleKey, c.GetHeader("X-Caller-Role"))
		c.Next()
	}
}

func CallerID(c *gin.Context) types.ID {
	return types.ID(c.GetString(callerIDKey))
}

func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}
