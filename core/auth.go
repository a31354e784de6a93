package core

import (
	"errors"
	"strings"
	"time"
)

// User is the safe projection returned to handlers; it never carries the
// password hash.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	// ErrInvalidCredentials is returned for a wrong password or an unknown
	// email. Callers must not distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidSession is returned for any session token that fails
	// verification, regardless of the reason.
	ErrInvalidSession = errors.New("invalid session")
)

// NormalizeEmail lowercases and trims an address; this is the only form
// stored and looked up.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
