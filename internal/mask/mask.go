// Package mask implements the sensitive-field masking contract referenced
// by the wizard's configuration views: any key whose name matches a known
// sensitive pattern has its value replaced before it ever leaves the
// process, regardless of which HTTP handler is serializing it. This is
// purely a serialization-layer concern — ConfigStore's on-disk .env writes
// are never touched, only what a client is shown.
package mask

import "strings"

// Placeholder is substituted for any value whose key is judged sensitive.
const Placeholder = "••••••••"

// sensitivePatterns is the configurable set of key substrings that trigger
// masking. Matching is case-insensitive and substring-based so that
// KASPA_WALLET_SEED, db_password, and API_SECRET_KEY are all caught without
// an exhaustive per-key list.
var sensitivePatterns = []string{"password", "secret", "key", "seed", "mnemonic", "private", "token"}

// IsSensitive reports whether key should be masked before display.
func IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, pat := range sensitivePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// Value returns value unchanged, or Placeholder if key is sensitive.
func Value(key, value string) string {
	if IsSensitive(key) {
		return Placeholder
	}
	return value
}

// Map returns a copy of values with every sensitive entry replaced by
// Placeholder.
func Map(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = Value(k, v)
	}
	return out
}
