package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// SessionStore persists session tokens. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	Save(ctx context.Context, record SessionRecord) error
	Get(ctx context.Context, token string) (SessionRecord, bool, error)
	Delete(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionRecord captures a session row retrieved from the backing store.
type SessionRecord struct {
	Token             string
	UserID            string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

// SessionOption configures a SessionManager instance.
type SessionOption func(*SessionManager)

// WithStore injects a custom SessionStore implementation.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength sets the number of random bytes in newly issued tokens.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// WithIdleTimeout expires sessions that see no activity for timeout. Validate
// slides the expiry forward, capped at the absolute TTL.
func WithIdleTimeout(timeout time.Duration) SessionOption {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// SessionManager issues and validates the bearer tokens used by both the HTTP
// API and the realtime channel.
type SessionManager struct {
	store        SessionStore
	absoluteTTL  time.Duration
	idleTimeout  time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
	now          func() time.Time
}

// NewSessionManager defaults to a 7-day TTL and an in-memory store.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	manager := &SessionManager{
		absoluteTTL:  ttl,
		tokenLength:  32,
		tokenFactory: generateToken,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create issues a new session token for userID.
func (m *SessionManager) Create(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	now := m.now()
	absoluteExpiresAt := now.Add(m.absoluteTTL)
	expiresAt := absoluteExpiresAt
	if m.idleTimeout > 0 {
		expiresAt = minTime(now.Add(m.idleTimeout), absoluteExpiresAt)
	}
	record := SessionRecord{
		Token:             token,
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	}
	if err := m.store.Save(ctx, record); err != nil {
		return "", time.Time{}, err
	}
	return token, record.ExpiresAt, nil
}

// Validate returns the user bound to token. ok is false for unknown, revoked
// or expired tokens; expired tokens are deleted eagerly.
func (m *SessionManager) Validate(ctx context.Context, token string) (userID string, expiresAt time.Time, ok bool, err error) {
	if token == "" {
		return "", time.Time{}, false, nil
	}
	record, found, err := m.store.Get(ctx, token)
	if err != nil || !found {
		return "", time.Time{}, false, err
	}
	now := m.now()
	absoluteExpiresAt := record.AbsoluteExpiresAt
	if absoluteExpiresAt.IsZero() {
		absoluteExpiresAt = record.ExpiresAt
	}
	if now.After(record.ExpiresAt) || now.After(absoluteExpiresAt) {
		_ = m.store.Delete(ctx, token)
		return "", time.Time{}, false, nil
	}
	expiresAt = record.ExpiresAt
	if m.idleTimeout > 0 {
		refreshTo := minTime(now.Add(m.idleTimeout), absoluteExpiresAt)
		if refreshTo.After(record.ExpiresAt) {
			record.ExpiresAt = refreshTo.UTC()
			record.AbsoluteExpiresAt = absoluteExpiresAt.UTC()
			if err := m.store.Save(ctx, record); err != nil {
				return "", time.Time{}, false, err
			}
			expiresAt = record.ExpiresAt
		}
	}
	return record.UserID, expiresAt, true, nil
}

// Revoke deletes the session token from the backing store.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, token)
}

// PurgeExpired removes expired sessions and reports how many were dropped.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.PurgeExpired(ctx, m.now())
}

// Ping verifies the underlying session store is reachable when it exposes a ping method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.After(b) {
		return b
	}
	return a
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ErrInvalidUserID is returned when attempting to create a session without a user identifier.
var ErrInvalidUserID = errors.New("userID is required")
