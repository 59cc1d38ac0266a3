// Package auth guards the wizard controller's install/reconfigure boundary
// with a single bcrypt-hashed operator password. fleetctl has no multi-user
// session model, so there is exactly one credential: the operator password
// set during install and checked on every wizard mutation.
package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordNoLetter = errors.New("password must contain at least one letter")
	ErrPasswordNoDigit  = errors.New("password must contain at least one digit")
)

// strengthRules are applied in order; the first failing rule's error is
// returned, so the operator fixes one concrete thing at a time.
var strengthRules = []struct {
	err error
	ok  func(pw string) bool
}{
	{ErrPasswordTooShort, func(pw string) bool { return len(pw) >= 8 }},
	{ErrPasswordNoLetter, func(pw string) bool { return containsClass(pw, unicode.IsLetter) }},
	{ErrPasswordNoDigit, func(pw string) bool { return containsClass(pw, unicode.IsDigit) }},
}

func containsClass(s string, class func(rune) bool) bool {
	for _, r := range s {
		if class(r) {
			return true
		}
	}
	return false
}

// ValidatePassword checks the candidate against the minimum strength policy.
func ValidatePassword(password string) error {
	for _, rule := range strengthRules {
		if !rule.ok(password) {
			return rule.err
		}
	}
	return nil
}

// HashPassword derives the bcrypt hash stored on disk for the operator
// credential.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return string(hash), err
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
