package auth

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Gate holds the current operator password hash and checks an incoming
// request's X-Operator-Password header against it. A Gate with no hash set
// yet (install not completed) lets every request through, mirroring the
// wizard's pre-install state where there is nothing to authenticate against.
type Gate struct {
	mu   sync.RWMutex
	hash string
}

// NewGate builds a Gate, optionally pre-seeded with a persisted hash (empty
// if the operator password hasn't been set yet).
func NewGate(hash string) *Gate {
	return &Gate{hash: hash}
}

// SetPassword hashes and stores a new operator password.
func (g *Gate) SetPassword(password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.hash = hash
	g.mu.Unlock()
	return nil
}

// Hash returns the current stored bcrypt hash, empty if unset.
func (g *Gate) Hash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hash
}

// LoadGate reads a persisted operator password hash from path, returning an
// unconfigured Gate if the file doesn't exist yet.
func LoadGate(path string) (*Gate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewGate(""), nil
		}
		return nil, err
	}
	return NewGate(strings.TrimSpace(string(data))), nil
}

// SaveGate persists g's current hash to path.
func SaveGate(path string, g *Gate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(g.Hash()), 0o600)
}

// Configured reports whether an operator password has been set.
func (g *Gate) Configured() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hash != ""
}

// Check verifies password against the stored hash. It always succeeds when
// no password has been configured yet.
func (g *Gate) Check(password string) bool {
	g.mu.RLock()
	hash := g.hash
	g.mu.RUnlock()
	if hash == "" {
		return true
	}
	return CheckPassword(hash, password)
}

// Middleware wraps a handler, rejecting requests with a wrong or missing
// operator password once one has been configured. Paths in exempt (e.g. a
// health check) are always let through.
func (g *Gate) Middleware(next http.Handler, exempt ...string) http.Handler {
	exemptSet := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exemptSet[r.URL.Path]; ok || !g.Configured() {
			next.ServeHTTP(w, r)
			return
		}
		if !g.Check(r.Header.Get("X-Operator-Password")) {
			http.Error(w, `{"error":"invalid operator credentials"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
