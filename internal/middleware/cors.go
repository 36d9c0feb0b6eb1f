package middleware

import (
	"github.com/gin-gonic/gin"
)

// CORS allows any origin, method, and header, matching the wildcard policy
// of spec §4.5: a preflight's requested method and headers are echoed back,
// and requests that name none get a default list.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "false")
		allowHeaders := "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, x-goog-api-key"
		if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
			allowHeaders = requested
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowHeaders)
		allowMethods := "POST, OPTIONS, GET, PUT, DELETE, PATCH"
		if requested := c.GetHeader("Access-Control-Request-Method"); requested != "" {
			allowMethods = requested
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", allowMethods)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
