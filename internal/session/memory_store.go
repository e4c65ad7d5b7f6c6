package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore implements Store in process. A single mutex serializes every
// mutation, so Update never conflicts. Only suitable for one instance.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	opts    StoreOptions
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMemoryStore(opts StoreOptions) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		opts:    opts.Normalize(),
		now:     time.Now,
	}
}

// live returns the entry for token if it has not expired. Callers hold mu.
func (s *MemoryStore) live(token string, now time.Time) (*memoryEntry, bool) {
	e, ok := s.entries[token]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, token)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(token, now)
	if !ok {
		return nil, nil
	}
	e.expiresAt = now.Add(s.opts.TTL)

	rec := copyRecord(e.rec)
	return &rec, nil
}

func (s *MemoryStore) Create(_ context.Context, token string, rec Record) (bool, error) {
	if token == "" {
		return false, errors.New("session: missing token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.live(token, now); ok {
		return false, nil
	}
	s.entries[token] = &memoryEntry{rec: copyRecord(rec), expiresAt: now.Add(s.opts.TTL)}
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, token string, rec Record) error {
	if token == "" {
		return errors.New("session: missing token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[token] = &memoryEntry{rec: copyRecord(rec), expiresAt: s.now().Add(s.opts.TTL)}
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, token string, fn MutateFunc) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.live(token, now)
	if !ok {
		return nil, ErrNotFound
	}

	rec := copyRecord(e.rec)
	if err := fn(&rec); err != nil {
		return nil, err
	}
	rec.Version++

	e.rec = copyRecord(rec)
	e.expiresAt = now.Add(s.opts.TTL)
	return &rec, nil
}

// Cleanup removes expired entries.
func (s *MemoryStore) Cleanup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, token)
		}
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically removes
// expired entries. The goroutine is stopped when Close is called.
func (s *MemoryStore) StartCleanupRoutine(interval time.Duration) {
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
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Close stops the cleanup goroutine and waits for it to exit.
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func copyRecord(rec Record) Record {
	if rec.LastSpin != nil {
		receipt := *rec.LastSpin
		rec.LastSpin = &receipt
	}
	return rec
}

var _ Store = (*MemoryStore)(nil)
