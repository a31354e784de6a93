package core

import (
	"context"
	"errors"
	"time"
)

// notFoundDelay approximates one bcrypt verification so an unknown email
// answers in roughly the same time as a wrong password. It narrows the
// timing gap; it is not exact parity.
const notFoundDelay = 100 * time.Millisecond

// AuthService composes hashing, the user store, and email normalization into
// the account flows. Token and cookie handling stay at the HTTP boundary.
type AuthService struct {
	users UserRepository
	sleep func(time.Duration)
}

// NewAuthService wires the orchestrator to a user store.
func NewAuthService(users UserRepository) *AuthService {
	return &AuthService{users: users, sleep: time.Sleep}
}

// Register creates an account. Emails are normalized before the uniqueness
// check so the stored form is always lowercase. Both the pre-check and a
// create-time race report ErrDuplicateEmail.
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (*User, error) {
	normalized := NormalizeEmail(email)

	if _, err := s.users.FindByEmail(ctx, normalized); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	rec, err := s.users.Create(ctx, normalized, hash, firstName, lastName)
	if err != nil {
		return nil, err
	}
	return publicUser(rec), nil
}

// Login validates credentials. Unknown email and wrong password both return
// ErrInvalidCredentials; the unknown-email path sleeps first so the two are
// not trivially distinguishable by response time. emailPenalty runs only on
// a wrong password, letting the caller charge the email-keyed rate limit.
func (s *AuthService) Login(ctx context.Context, email, password string, emailPenalty func(normalizedEmail string)) (*User, error) {
	normalized := NormalizeEmail(email)

	rec, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.sleep(notFoundDelay)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(password, rec.PasswordHash) {
		if emailPenalty != nil {
			emailPenalty(normalized)
		}
		return nil, ErrInvalidCredentials
	}

	return publicUser(rec), nil
}

// CurrentUser resolves a verified session claim to the stored account.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*User, error) {
	rec, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return publicUser(rec), nil
}

// Delete removes the account for a verified session. A record that vanished
// between check and delete still reports ErrUserNotFound.
func (s *AuthService) Delete(ctx context.Context, userID string) (*User, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	rec, err := s.users.Delete(ctx, userID)
	if err != nil {
		return nil, err
	}
	return publicUser(rec), nil
}

func publicUser(rec *UserRecord) *User {
	return &User{
		ID:        rec.ID,
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		CreatedAt: rec.CreatedAt,
	}
}
