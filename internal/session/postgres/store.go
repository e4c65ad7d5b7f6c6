// Package postgres provides PostgreSQL storage for session records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ActiveTutorial/gamble-to-depression/internal/logger"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var insertColumns = []string{
	"token", "balance", "version", "last_spin", "created_at", "updated_at", "expires_at",
}

const (
	// Replace the row only when the existing one has already expired.
	createConflict = `ON CONFLICT (token) DO UPDATE SET
		balance = EXCLUDED.balance,
		version = EXCLUDED.version,
		last_spin = EXCLUDED.last_spin,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at,
		expires_at = EXCLUDED.expires_at
	WHERE sessions.expires_at <= EXCLUDED.created_at`

	putConflict = `ON CONFLICT (token) DO UPDATE SET
		balance = EXCLUDED.balance,
		version = EXCLUDED.version,
		last_spin = EXCLUDED.last_spin,
		updated_at = EXCLUDED.updated_at,
		expires_at = EXCLUDED.expires_at`
)

// Store implements session.Store on a sessions table. Expiry is the
// expires_at column; Update is a compare-and-swap on the version column.
type Store struct {
	db   *sql.DB
	opts session.StoreOptions
	now  func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *sql.DB, opts session.StoreOptions) *Store {
	return &Store{
		db:   db,
		opts: opts.Normalize(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get reads the record and slides expires_at in one UPDATE ... RETURNING.
func (s *Store) Get(ctx context.Context, token string) (*session.Record, error) {
	ctx, cancel := s.opts.WithTimeout(ctx)
	defer cancel()

	now := s.now()
	query, args, err := psq.Update("sessions").
		Set("expires_at", now.Add(s.opts.TTL)).
		Where(sq.Eq{"token": token}).
		Where(sq.Gt{"expires_at": now}).
		Suffix("RETURNING balance, version, last_spin").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get query: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil //nolint:nilnil // absent is nil, nil
	}
	return rec, err
}

func (s *Store) Create(ctx context.Context, token string, rec session.Record) (bool, error) {
	n, err := s.upsert(ctx, token, rec, createConflict)
	if err != nil {
		return false, fmt.Errorf("creating session: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Put(ctx context.Context, token string, rec session.Record) error {
	if _, err := s.upsert(ctx, token, rec, putConflict); err != nil {
		return fmt.Errorf("putting session: %w", err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, token string, rec session.Record, conflict string) (int64, error) {
	if token == "" {
		return 0, errors.New("missing token")
	}

	lastSpin, err := encodeReceipt(rec.LastSpin)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.opts.WithTimeout(ctx)
	defer cancel()

	now := s.now()
	query, args, err := psq.Insert("sessions").
		Columns(insertColumns...).
		Values(token, rec.Balance, rec.Version, lastSpin, now, now, now.Add(s.opts.TTL)).
		Suffix(conflict).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// Update reads the row, applies fn, and writes back only if version is
// unchanged. Zero rows affected means another writer won; retry.
func (s *Store) Update(ctx context.Context, token string, fn session.MutateFunc) (*session.Record, error) {
	ctx, cancel := s.opts.WithTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		now := s.now()

		query, args, err := psq.Select("balance", "version", "last_spin").
			From("sessions").
			Where(sq.Eq{"token": token}).
			Where(sq.Gt{"expires_at": now}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building select: %w", err)
		}

		rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
		if err != nil {
			return nil, err
		}

		prev := rec.Version
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.Version = prev + 1

		lastSpin, err := encodeReceipt(rec.LastSpin)
		if err != nil {
			return nil, err
		}

		query, args, err = psq.Update("sessions").
			Set("balance", rec.Balance).
			Set("version", rec.Version).
			Set("last_spin", lastSpin).
			Set("updated_at", now).
			Set("expires_at", now.Add(s.opts.TTL)).
			Where(sq.Eq{"token": token, "version": prev}).
			Where(sq.Gt{"expires_at": now}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building update: %w", err)
		}

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("updating session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("reading rows affected: %w", err)
		}
		if n == 1 {
			return rec, nil
		}
	}

	return nil, session.ErrConflict
}

// Cleanup removes expired rows.
func (s *Store) Cleanup(ctx context.Context) error {
	query, args, err := psq.Delete("sessions").
		Where(sq.LtOrEq{"expires_at": s.now()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up sessions: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired rows. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					logger.Warn("session cleanup failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}()
}

// Close stops the cleanup goroutine. The *sql.DB belongs to the caller.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func scanRecord(row *sql.Row) (*session.Record, error) {
	var (
		rec      session.Record
		lastSpin []byte
	)

	err := row.Scan(&rec.Balance, &rec.Version, &lastSpin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if len(lastSpin) > 0 {
		var receipt session.SpinReceipt
		if err := json.Unmarshal(lastSpin, &receipt); err != nil {
			return nil, fmt.Errorf("decoding last_spin: %w", err)
		}
		rec.LastSpin = &receipt
	}
	return &rec, nil
}

// encodeReceipt returns an untyped nil for a missing receipt so the driver
// writes NULL.
func encodeReceipt(r *session.SpinReceipt) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding last_spin: %w", err)
	}
	return data, nil
}

var _ session.Store = (*Store)(nil)
