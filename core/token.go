package core

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL bounds both the token expiry and the cookie MaxAge; the two
// must agree.
const SessionTTL = 7 * 24 * time.Hour

// SessionClaim is the verified content of a session token.
type SessionClaim struct {
	UserID    string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session tokens with a symmetric key. The key
// is fixed at construction; there is no rotation.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec wraps a validated secret. Secret length rules are enforced by
// Config.Validate before this is reached.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

// Sign issues an HS256 token for userID with a 7-day expiry. role may be
// empty and is then omitted from the claims.
func (tc *TokenCodec) Sign(userID, role string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.secret)
}

// Verify validates signature and expiry and returns the claim. Every failure
// mode (bad signature, expired, malformed, missing subject, foreign
// algorithm) collapses into ErrInvalidSession so callers cannot leak the
// reason downstream.
func (tc *TokenCodec) Verify(tokenString string) (*SessionClaim, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return tc.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, ErrInvalidSession
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}

	claim := &SessionClaim{
		UserID: claims.Subject,
		Role:   claims.Role,
	}
	if claims.IssuedAt != nil {
		claim.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		claim.ExpiresAt = claims.ExpiresAt.Time
	}
	return claim, nil
}
