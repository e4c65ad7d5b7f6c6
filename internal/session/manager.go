package session

import (
	"context"
	"errors"

	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
)

// maxIssueAttempts bounds token regeneration on the (practically impossible)
// event of a collision with a live session.
const maxIssueAttempts = 3

// Resolved is the outcome of Manager.ResolveOrCreate.
type Resolved struct {
	Token  string
	Record Record

	// Created is true when Token was issued by this call and must be bound to
	// the client.
	Created bool
}

// Manager issues and validates session tokens.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// ResolveOrCreate returns the live session for token, sliding its expiry, or
// issues a fresh zero-balance session when token is empty, malformed, expired
// or unknown. An existing balance is never reset.
func (m *Manager) ResolveOrCreate(ctx context.Context, token string) (Resolved, error) {
	if ValidToken(token) {
		rec, err := m.store.Get(ctx, token)
		if err != nil {
			return Resolved{}, err
		}
		if rec != nil {
			return Resolved{Token: token, Record: *rec}, nil
		}
		logger.Debug("session expired or unknown, issuing new token", map[string]any{
			"session": Fingerprint(token),
		})
	}

	for range maxIssueAttempts {
		fresh, err := NewToken()
		if err != nil {
			return Resolved{}, err
		}

		var rec Record
		created, err := m.store.Create(ctx, fresh, rec)
		if err != nil {
			return Resolved{}, err
		}
		if created {
			logger.Info("session created", map[string]any{
				"session": Fingerprint(fresh),
			})
			return Resolved{Token: fresh, Record: rec, Created: true}, nil
		}
	}

	return Resolved{}, errors.New("session: could not issue a unique token")
}
