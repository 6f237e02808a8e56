package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// ErrSessionNotFound is returned when a session is missing or has expired.
var ErrSessionNotFound = errors.New("checkout session not found")

// Session is the server-side state of one checkout. Totals are never stored;
// they are recomputed from this state on every quote.
type Session struct {
	ID            string             `json:"id"`
	Lines         []pricing.CartLine `json:"lines"`
	Postcode      string             `json:"postcode"`
	PaymentMethod string             `json:"paymentMethod"`
	Coupon        *pricing.Coupon    `json:"coupon,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Cart returns the session lines as a pricing cart.
func (s Session) Cart() pricing.Cart {
	return pricing.Cart{Lines: s.Lines}
}

// SessionStore keeps sessions as JSON in Redis with a sliding TTL.
type SessionStore struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func (s *SessionStore) key(id string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "checkout:session"
	}
	return prefix + ":" + id
}

func (s *SessionStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 2 * time.Hour
	}
	return s.TTL
}

// Get loads the session with id.
func (s *SessionStore) Get(ctx context.Context, id string) (Session, error) {
	if s == nil || s.Client == nil {
		return Session{}, errors.New("checkout: session store not configured")
	}
	if id == "" {
		return Session{}, ErrSessionNotFound
	}
	data, err := s.Client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Save writes the session and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, sess Session) error {
	if s == nil || s.Client == nil {
		return errors.New("checkout: session store not configured")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.Client.Set(ctx, s.key(sess.ID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.Client == nil {
		return errors.New("checkout: session store not configured")
	}
	return s.Client.Del(ctx, s.key(id)).Err()
}
