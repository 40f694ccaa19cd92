package uiserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// corsMiddleware allows cross-origin access from the given origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	})
}

// eventLimit bounds how fast events reach the guest. Every event is a
// serialized guest call followed by a render.
func eventLimit(perSecond, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "event rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
