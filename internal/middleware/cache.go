package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore marks responses that carry live timing or roster state so that
// neither browsers nor proxies replay them.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
