package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ActiveTutorial/gamble-to-depression/internal/auth/credentials"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
)

// OperatorKeyHeader carries the operator key for capability-gated routes.
const OperatorKeyHeader = "X-Operator-Key"

// GinRequireOperator gates the balance override. Disabled means every call is
// refused. Enabled with a key hash means the caller must present the key.
func GinRequireOperator(enabled bool, keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			AbortWithError(c, game.Forbidden("balance override is disabled"))
			return
		}

		if keyHash != "" {
			if err := credentials.VerifyKey(keyHash, c.GetHeader(OperatorKeyHeader)); err != nil {
				logger.Warn("operator key rejected", map[string]any{
					"path": c.FullPath(),
					"ip":   c.ClientIP(),
				})
				AbortWithError(c, game.Forbidden("operator key required"))
				return
			}
		}

		c.Next()
	}
}
