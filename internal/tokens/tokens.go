// Package tokens holds short-lived, single-use, payload-carrying handoff
// tokens used by the wizard to pass state across a redirect (e.g. "you just
// finished reconfigure, show this summary"). Tokens are 256 bits of CSPRNG
// output, URL-safe encoded.
package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/fleetctl/fleetctl/internal/clock"
	"github.com/fleetctl/fleetctl/internal/ferrors"
)

const (
	rawBytes   = 32
	defaultTTL = 15 * time.Minute
)

type entry struct {
	payload  any
	expires  time.Time
	consumed bool
}

// Store holds tokens in memory, swept periodically for expiry.
type Store struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{clk: clk, entries: make(map[string]*entry)}
}

// Issue mints a new token bound to payload, valid for ttl (defaultTTL if
// ttl <= 0), and returns the plaintext token.
func (s *Store) Issue(payload any, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	raw := make([]byte, rawBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", ferrors.Wrap(ferrors.KindInternal, "generate token", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = &entry{
		payload: payload,
		expires: s.clk.Now().Add(ttl),
	}
	return token, nil
}

// Consume redeems token exactly once. A second call, an unknown token, or
// an expired token all return a distinguishable ferrors.Kind so the wizard
// can render the right message.
func (s *Store) Consume(token string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return nil, ferrors.New(ferrors.KindTokenNotFound, "token not found")
	}
	if e.consumed {
		return nil, ferrors.New(ferrors.KindTokenAlreadyConsumed, "token already consumed")
	}
	if s.clk.Now().After(e.expires) {
		delete(s.entries, token)
		return nil, ferrors.New(ferrors.KindTokenExpired, "token expired")
	}
	e.consumed = true
	return e.payload, nil
}

// Peek returns a token's payload without consuming it.
func (s *Store) Peek(token string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return nil, ferrors.New(ferrors.KindTokenNotFound, "token not found")
	}
	if e.consumed {
		return nil, ferrors.New(ferrors.KindTokenAlreadyConsumed, "token already consumed")
	}
	if s.clk.Now().After(e.expires) {
		delete(s.entries, token)
		return nil, ferrors.New(ferrors.KindTokenExpired, "token expired")
	}
	return e.payload, nil
}

// Invalidate explicitly tears down a token regardless of its state.
func (s *Store) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep removes expired and consumed tokens; call periodically (e.g. from
// a background goroutine every minute) to bound memory growth.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	removed := 0
	for tok, e := range s.entries {
		if e.consumed || now.After(e.expires) {
			delete(s.entries, tok)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until stop is closed. Intended to be started
// as a background goroutine from main.
func (s *Store) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-stop:
			return
		}
	}
}
