package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

// unexported, collision-proof context key
type tokenContextKeyType struct{}

var tokenKey = tokenContextKeyType{}

// TokenFromContext returns the session token attached by RequireSession.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}

// WithToken attaches a session token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

type SessionMiddleware struct {
	CookieName string
}

func NewSessionMiddleware(cookieName string) *SessionMiddleware {
	return &SessionMiddleware{CookieName: cookieName}
}

// RequireSession rejects requests without a session cookie and attaches the
// token to the request context. Whether the session is live is decided by
// the handler, inside the same store operation that uses it.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.TokenFromRequest(r, m.CookieName)
		if token == "" {
			WriteError(w, game.ErrSessionMissing)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
	})
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   game.Kind `json:"error"`
	Message string    `json:"message"`
}

// NewErrorBody classifies err for a response.
func NewErrorBody(err error) (int, ErrorBody) {
	kind := game.KindOf(err)
	return game.HTTPStatus(kind), ErrorBody{
		Error:   kind,
		Message: game.Message(err),
	}
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	status, body := NewErrorBody(err)
	if game.Retryable(body.Error) {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
