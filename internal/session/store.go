package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the sliding idle window of a session.
const DefaultTTL = time.Hour

var (
	// ErrNotFound means no live record exists for the token. Expired and
	// never-created tokens are indistinguishable.
	ErrNotFound = errors.New("session: not found")

	// ErrConflict means an optimistic update lost every retry to concurrent writers.
	ErrConflict = errors.New("session: concurrent update conflict")
)

// SpinReceipt is the last committed spin, kept so a retried request carrying
// the same idempotency key is answered without settling twice.
type SpinReceipt struct {
	Key        string `json:"key"`
	NewBalance int64  `json:"new_balance"`
	NetChange  int64  `json:"net_change"`
}

// Record is the persisted state of one session.
type Record struct {
	Balance  int64        `json:"balance"`
	Version  int64        `json:"version"`
	LastSpin *SpinReceipt `json:"last_spin,omitempty"`
}

// MutateFunc edits a record in place inside Store.Update. Returning an error
// aborts the update and nothing is written.
type MutateFunc func(rec *Record) error

// Store persists session records with sliding expiry. Every successful read
// or write resets the record's expiry to the store's TTL.
type Store interface {
	// Get returns the live record for token, or nil, nil if absent or expired.
	Get(ctx context.Context, token string) (*Record, error)

	// Create stores rec only if token has no live record and reports whether
	// it did.
	Create(ctx context.Context, token string, rec Record) (bool, error)

	// Put overwrites the full record for token without a version check.
	// Request paths write through Create and Update; Put is for seeding and
	// restoring records.
	Put(ctx context.Context, token string, rec Record) error

	// Update runs fn against the current record and commits the result only
	// if no other writer committed in between, retrying on conflict. The
	// version is bumped on commit. Returns ErrNotFound if there is no live
	// record and ErrConflict once retries are exhausted.
	Update(ctx context.Context, token string, fn MutateFunc) (*Record, error)

	// Close releases background routines owned by the store. Shared clients
	// passed in by the caller are not closed.
	Close() error
}

// StoreOptions configures every Store implementation.
type StoreOptions struct {
	TTL        time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// Normalize fills unset fields with defaults.
func (o StoreOptions) Normalize() StoreOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 8
	}
	return o
}

// WithTimeout bounds a single store operation.
func (o StoreOptions) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.Normalize().Timeout)
}

func encodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: failed to marshal: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	if rec.Balance < 0 {
		return nil, fmt.Errorf("session: stored balance %d is negative", rec.Balance)
	}
	return &rec, nil
}
