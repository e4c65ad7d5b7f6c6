package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	opts   StoreOptions
}

// NewRedisStore creates a Redis-backed session store on a shared client.
func NewRedisStore(client *redis.Client, opts StoreOptions) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "session:",
		opts:   opts.Normalize(),
	}
}

func (r *RedisStore) key(token string) string {
	return r.prefix + token
}

// Get reads the record with GETEX so the read and the expiry refresh are one
// command.
func (r *RedisStore) Get(ctx context.Context, token string) (*Record, error) {
	ctx, cancel := r.opts.WithTimeout(ctx)
	defer cancel()

	val, err := r.client.GetEx(ctx, r.key(token), r.opts.TTL).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	return decodeRecord(val)
}

func (r *RedisStore) Create(ctx context.Context, token string, rec Record) (bool, error) {
	if token == "" {
		return false, errors.New("session: missing token")
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}

	ctx, cancel := r.opts.WithTimeout(ctx)
	defer cancel()

	created, err := r.client.SetNX(ctx, r.key(token), data, r.opts.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("session: create: %w", err)
	}
	return created, nil
}

func (r *RedisStore) Put(ctx context.Context, token string, rec Record) error {
	if token == "" {
		return errors.New("session: missing token")
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	ctx, cancel := r.opts.WithTimeout(ctx)
	defer cancel()

	if err := r.client.Set(ctx, r.key(token), data, r.opts.TTL).Err(); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Update is an optimistic WATCH/MULTI/EXEC transaction. EXEC fails with
// redis.TxFailedErr if the key changed after WATCH, and the whole
// read-mutate-write runs again.
func (r *RedisStore) Update(ctx context.Context, token string, fn MutateFunc) (*Record, error) {
	ctx, cancel := r.opts.WithTimeout(ctx)
	defer cancel()

	key := r.key(token)

	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		var (
			committed *Record
			fnErr     error
		)

		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}

			rec, err := decodeRecord(val)
			if err != nil {
				return err
			}

			if fnErr = fn(rec); fnErr != nil {
				return fnErr
			}
			rec.Version++

			data, err := encodeRecord(*rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, r.opts.TTL)
				return nil
			})
			if err == nil {
				committed = rec
			}
			return err
		}, key)

		switch {
		case err == nil:
			return committed, nil
		case fnErr != nil:
			return nil, fnErr
		case errors.Is(err, ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, fmt.Errorf("session: update: %w", err)
		}
	}

	return nil, ErrConflict
}

// Close is a no-op; the shared client is closed by its owner.
func (r *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
