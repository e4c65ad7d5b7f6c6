package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
)

// GinRequireSession adapts the net/http SessionMiddleware to Gin.
func GinRequireSession(m *SessionMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		m.RequireSession(next).ServeHTTP(c.Writer, c.Request)

		// If the middleware already answered, stop the Gin chain
		if c.Writer.Written() {
			c.Abort()
			return
		}
	}
}

// AbortWithError answers the request with err as a JSON error body.
func AbortWithError(c *gin.Context, err error) {
	status, body := NewErrorBody(err)
	if game.Retryable(body.Error) {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(status, body)
}
