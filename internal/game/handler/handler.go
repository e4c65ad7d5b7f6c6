package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/ledger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/middleware"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

// IdempotencyKeyHeader lets a client retry POST /spin without spinning twice.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

type Handler struct {
	sessions *session.Manager
	ledger   *ledger.Service
	cookie   session.CookieOptions
}

func NewHandler(
	sessions *session.Manager,
	ledger *ledger.Service,
	cookie session.CookieOptions,
) *Handler {
	return &Handler{
		sessions: sessions,
		ledger:   ledger,
		cookie:   cookie,
	}
}

// RegisterRoutes mounts the game API. requireSession guards every route that
// needs an existing token; requireOperator additionally guards PUT /balance.
func (h *Handler) RegisterRoutes(
	r gin.IRouter,
	requireSession gin.HandlerFunc,
	requireOperator gin.HandlerFunc,
) {
	r.POST("/session", h.createSession)
	r.GET("/balance", requireSession, h.getBalance)
	r.PUT("/balance", requireSession, requireOperator, h.setBalance)
	r.POST("/spin", requireSession, h.spin)
}

// MethodNotAllowed answers a known path hit with an unsupported verb.
func MethodNotAllowed(c *gin.Context) {
	middleware.AbortWithError(c, game.ErrMethodNotAllowed)
}

func (h *Handler) createSession(c *gin.Context) {
	token := session.TokenFromRequest(c.Request, h.cookie.Name)

	res, err := h.sessions.ResolveOrCreate(c.Request.Context(), token)
	if err != nil {
		logger.Error("failed to resolve session", map[string]any{
			"error": err.Error(),
		})
		middleware.AbortWithError(c, game.StoreUnavailable(err))
		return
	}

	if res.Created {
		session.SetCookie(c.Writer, res.Token, h.cookie)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) getBalance(c *gin.Context) {
	token, _ := middleware.TokenFromContext(c.Request.Context())

	balance, err := h.ledger.Balance(c.Request.Context(), token)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type setBalanceRequest struct {
	Balance *int64 `json:"balance" binding:"required,gte=0"`
}

func (h *Handler) setBalance(c *gin.Context) {
	var req setBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, game.Validation("balance must be a non-negative integer"))
		return
	}

	token, _ := middleware.TokenFromContext(c.Request.Context())

	if err := h.ledger.SetBalance(c.Request.Context(), token, *req.Balance); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

type spinRequest struct {
	Risk *float64 `json:"risk" binding:"required,gte=0"`

	// Balance is whatever the client sent. It never fails the request.
	Balance json.RawMessage `json:"balance"`
}

// clientBalance decodes the claimed balance, or nil when it is absent or not
// a number.
func clientBalance(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func (h *Handler) spin(c *gin.Context) {
	var req spinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		msg := "risk must be a non-negative number"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		middleware.AbortWithError(c, game.Validation(msg))
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if len(key) > maxIdempotencyKeyLen {
		middleware.AbortWithError(c, game.Validation("idempotency key too long"))
		return
	}

	token, _ := middleware.TokenFromContext(c.Request.Context())

	result, err := h.ledger.Spin(c.Request.Context(), token, ledger.SpinRequest{
		Risk:           *req.Risk,
		ClientBalance:  clientBalance(req.Balance),
		IdempotencyKey: key,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
