package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ActiveTutorial/gamble-to-depression/internal/config"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/handler"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/ledger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/settlement"
	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/middleware"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	router := newRouter(cfg, infra.Store, settlement.NewEngine(nil))

	return router, infra.Close, nil
}

// newRouter wires the HTTP surface onto an already-open store.
func newRouter(cfg config.Config, store session.Store, settler ledger.Settler) *gin.Engine {

	// ----------------------------
	// Dependencies
	// ----------------------------

	sessions := session.NewManager(store)
	ledgerService := ledger.NewService(store, settler)

	gameHandler := handler.NewHandler(sessions, ledgerService, session.CookieOptions{
		Name:     cfg.CookieName,
		MaxAge:   cfg.SessionTTL,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	requireSession := middleware.GinRequireSession(middleware.NewSessionMiddleware(cfg.CookieName))
	requireOperator := middleware.GinRequireOperator(cfg.BalanceOverrideEnabled, cfg.OperatorKeyHash)

	if cfg.BalanceOverrideEnabled {
		logger.Warn("balance override enabled", map[string]any{
			"operator_key_required": cfg.OperatorKeyHash != "",
		})
	}

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())
	router.HandleMethodNotAllowed = true
	router.NoMethod(handler.MethodNotAllowed)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gameHandler.RegisterRoutes(router, requireSession, requireOperator)

	return router
}
