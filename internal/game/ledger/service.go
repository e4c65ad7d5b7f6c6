package ledger

import (
	"context"
	"errors"
	"math"

	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/settlement"
	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

// MaxBalance keeps balances exactly representable as JSON numbers.
const MaxBalance = settlement.MaxBalance

// Settler computes a spin outcome.
type Settler interface {
	Settle(balance int64, risk float64) settlement.Outcome
}

type SpinRequest struct {
	Risk float64

	// ClientBalance is what the client believes its balance is. It is only
	// compared against the stored balance and never used.
	ClientBalance *float64

	// IdempotencyKey, when set, makes a retried request return the first
	// result instead of spinning again.
	IdempotencyKey string
}

type SpinResult struct {
	NewBalance int64 `json:"newBalance"`
	NetChange  int64 `json:"netChange"`

	Replayed bool `json:"-"`
}

// Service owns every read-modify-write of a session balance.
type Service struct {
	store   session.Store
	settler Settler
}

func NewService(store session.Store, settler Settler) *Service {
	return &Service{
		store:   store,
		settler: settler,
	}
}

// Spin settles one spin against the stored balance and commits it atomically.
// Concurrent spins on one token are serialized by the store's
// compare-and-swap, so each one is applied on top of the other.
func (s *Service) Spin(ctx context.Context, token string, req SpinRequest) (SpinResult, error) {
	if err := checkToken(token); err != nil {
		return SpinResult{}, err
	}
	if math.IsNaN(req.Risk) || math.IsInf(req.Risk, 0) || req.Risk < 0 {
		return SpinResult{}, game.Validation("risk must be a non-negative number")
	}

	var result SpinResult

	_, err := s.store.Update(ctx, token, func(rec *session.Record) error {
		if req.IdempotencyKey != "" && rec.LastSpin != nil && rec.LastSpin.Key == req.IdempotencyKey {
			result = SpinResult{
				NewBalance: rec.LastSpin.NewBalance,
				NetChange:  rec.LastSpin.NetChange,
				Replayed:   true,
			}
			return nil
		}

		reconcile(token, rec.Balance, req.ClientBalance)

		out := s.settler.Settle(rec.Balance, req.Risk)
		rec.Balance = out.NewBalance
		rec.LastSpin = nil
		if req.IdempotencyKey != "" {
			rec.LastSpin = &session.SpinReceipt{
				Key:        req.IdempotencyKey,
				NewBalance: out.NewBalance,
				NetChange:  out.NetChange,
			}
		}

		result = SpinResult{
			NewBalance: out.NewBalance,
			NetChange:  out.NetChange,
		}
		return nil
	})
	if err != nil {
		return SpinResult{}, storeError(token, "spin", err)
	}

	logger.Debug("spin settled", map[string]any{
		"session":     session.Fingerprint(token),
		"risk":        req.Risk,
		"net_change":  result.NetChange,
		"new_balance": result.NewBalance,
		"replayed":    result.Replayed,
	})

	return result, nil
}

// Balance returns the stored balance and slides the session expiry.
func (s *Service) Balance(ctx context.Context, token string) (int64, error) {
	if err := checkToken(token); err != nil {
		return 0, err
	}

	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return 0, storeError(token, "balance", err)
	}
	if rec == nil {
		return 0, game.ErrSessionNotFound
	}
	return rec.Balance, nil
}

// SetBalance overwrites the balance. It is the operator override behind
// PUT /balance and goes through the same compare-and-swap as Spin.
func (s *Service) SetBalance(ctx context.Context, token string, balance int64) error {
	if err := checkToken(token); err != nil {
		return err
	}
	if balance < 0 || balance > MaxBalance {
		return game.Validation("balance must be a non-negative integer")
	}

	var previous int64
	_, err := s.store.Update(ctx, token, func(rec *session.Record) error {
		previous = rec.Balance
		rec.Balance = balance
		rec.LastSpin = nil
		return nil
	})
	if err != nil {
		return storeError(token, "set balance", err)
	}

	logger.Warn("balance overridden", map[string]any{
		"session":  session.Fingerprint(token),
		"previous": previous,
		"balance":  balance,
	})
	return nil
}

func checkToken(token string) error {
	if token == "" {
		return game.ErrSessionMissing
	}
	if !session.ValidToken(token) {
		return game.ErrSessionNotFound
	}
	return nil
}

// reconcile logs a client that disagrees with the stored balance. The stored
// balance always wins and the request proceeds.
func reconcile(token string, stored int64, claimed *float64) {
	if claimed == nil || *claimed == float64(stored) {
		return
	}
	logger.Warn("client balance discarded", map[string]any{
		"session": session.Fingerprint(token),
		"stored":  stored,
		"claimed": *claimed,
	})
}

func storeError(token, op string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return game.ErrSessionNotFound
	}

	var gerr *game.Error
	if errors.As(err, &gerr) {
		return gerr
	}

	logger.Error("session store failure", map[string]any{
		"op":      op,
		"session": session.Fingerprint(token),
		"error":   err.Error(),
	})
	return game.StoreUnavailable(err)
}
