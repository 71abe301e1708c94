package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/lock"
)

// ErrNotFound is returned for sessions that never existed, have expired, or
// belong to another cashier.
var ErrNotFound = errors.New("session: not found")

const (
	DefaultTTL     = 12 * time.Hour
	defaultLockTTL = 5 * time.Second
	keyPrefix      = "pos:cart:"
	lockPrefix     = "pos:lock:cart:"
)

// Session is one cashier's in-progress sale.
type Session struct {
	ID        string
	CashierID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Cart      *cart.Cart
}

type record struct {
	ID        string        `json:"id"`
	CashierID string        `json:"cashierId"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Cart      cart.Snapshot `json:"cart"`
}

// RedisStore keeps carts as JSON snapshots with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	locker lock.Locker
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore constructs a store. A non-positive ttl falls back to
// DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		locker: lock.Locker{R: client, RetryBackoff: 20 * time.Millisecond},
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TTL reports the idle lifetime of a session.
func (s *RedisStore) TTL() time.Duration { return s.ttl }

func key(cashierID, id string) string {
	return keyPrefix + cashierID + ":" + id
}

// Create stores a fresh session for cashierID holding c.
func (s *RedisStore) Create(ctx context.Context, cashierID string, c *cart.Cart) (*Session, error) {
	if strings.TrimSpace(cashierID) == "" {
		return nil, errors.New("session: cashier id required")
	}
	if c == nil {
		return nil, errors.New("session: cart required")
	}
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		CashierID: cashierID,
		CreatedAt: now,
		UpdatedAt: now,
		Cart:      c,
	}
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Load fetches a session and extends its TTL.
func (s *RedisStore) Load(ctx context.Context, cashierID, id string) (*Session, error) {
	if cashierID == "" || id == "" {
		return nil, ErrNotFound
	}
	k := key(cashierID, id)
	data, err := s.client.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if rec.CashierID != cashierID {
		return nil, ErrNotFound
	}
	if err := s.client.Expire(ctx, k, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: touch: %w", err)
	}
	return &Session{
		ID:        rec.ID,
		CashierID: rec.CashierID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Cart:      cart.Restore(rec.Cart),
	}, nil
}

// Save overwrites the stored session.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.Cart == nil {
		return errors.New("session: nothing to save")
	}
	sess.UpdatedAt = s.now()
	return s.write(ctx, sess)
}

// Delete removes a session. Deleting a missing session yields ErrNotFound.
func (s *RedisStore) Delete(ctx context.Context, cashierID, id string) error {
	n, err := s.client.Del(ctx, key(cashierID, id)).Result()
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update loads the session, applies fn and saves the result while holding a
// per-session lock. When fn fails nothing is written, so the stored cart stays
// as it was.
func (s *RedisStore) Update(ctx context.Context, cashierID, id string, fn func(*Session) error) (*Session, error) {
	var out *Session
	err := s.locker.WithLock(ctx, lockPrefix+id, defaultLockTTL, func(ctx context.Context) error {
		sess, err := s.Load(ctx, cashierID, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := s.Save(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) write(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(record{
		ID:        sess.ID,
		CashierID: sess.CashierID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Cart:      sess.Cart.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.client.Set(ctx, key(sess.CashierID, sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}
