package core

import (
	"math"
	"sync"
	"time"
)

const (
	rateLimitWindow  = 15 * time.Minute
	maxLoginAttempts = 5
	maxBackoff       = 3 * time.Second

	// Expired records are swept opportunistically once the map grows past
	// this; adversarial key enumeration must not grow memory unbounded.
	sweepThreshold = 10000
)

// Decision is the outcome of a rate-limit check. WaitSeconds is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed     bool
	WaitSeconds int
}

// RateLimiter tracks attempts per identifier key (client IP or normalized
// email). Implementations must be safe for concurrent use.
type RateLimiter interface {
	Attempt(key string) Decision
	Reset(key string)
}

type attemptRecord struct {
	count       int
	resetAt     time.Time
	lastAttempt time.Time
}

// LoginRateLimiter is the in-process default: per-key progressive backoff
// (1s per prior attempt, capped at 3s) followed by a hard lockout until the
// 15-minute window resets.
type LoginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

// NewLoginRateLimiter builds an empty limiter.
func NewLoginRateLimiter() *LoginRateLimiter {
	return &LoginRateLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// Attempt records one attempt for key and decides whether it may proceed.
func (l *LoginRateLimiter) Attempt(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(now)

	rec, ok := l.attempts[key]
	if !ok || now.After(rec.resetAt) {
		l.attempts[key] = &attemptRecord{count: 1, resetAt: now.Add(rateLimitWindow), lastAttempt: now}
		return Decision{Allowed: true}
	}

	minWait := time.Duration(rec.count) * time.Second
	if minWait > maxBackoff {
		minWait = maxBackoff
	}
	if elapsed := now.Sub(rec.lastAttempt); elapsed < minWait {
		return Decision{WaitSeconds: ceilSeconds(minWait - elapsed)}
	}

	if rec.count > maxLoginAttempts {
		return Decision{WaitSeconds: ceilSeconds(rec.resetAt.Sub(now))}
	}

	rec.count++
	rec.lastAttempt = now
	return Decision{Allowed: true}
}

// Reset forgets key entirely; invoked on successful login for both the IP
// and the email key.
func (l *LoginRateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// maybeSweep drops expired records. Caller holds l.mu.
func (l *LoginRateLimiter) maybeSweep(now time.Time) {
	if len(l.attempts) < sweepThreshold {
		return
	}
	for k, rec := range l.attempts {
		if now.After(rec.resetAt) {
			delete(l.attempts, k)
		}
	}
}

// RegistrationRateLimiter caps registrations per IP in a fixed window with
// no backoff; the endpoint is lower stakes than login.
type RegistrationRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

// NewRegistrationRateLimiter builds an empty limiter.
func NewRegistrationRateLimiter() *RegistrationRateLimiter {
	return &RegistrationRateLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// Attempt allows up to 5 attempts per key per 15 minutes.
func (l *RegistrationRateLimiter) Attempt(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.attempts) >= sweepThreshold {
		for k, rec := range l.attempts {
			if now.After(rec.resetAt) {
				delete(l.attempts, k)
			}
		}
	}

	rec, ok := l.attempts[key]
	if !ok || now.After(rec.resetAt) {
		l.attempts[key] = &attemptRecord{count: 1, resetAt: now.Add(rateLimitWindow)}
		return Decision{Allowed: true}
	}
	if rec.count >= maxLoginAttempts {
		return Decision{WaitSeconds: ceilSeconds(rec.resetAt.Sub(now))}
	}
	rec.count++
	return Decision{Allowed: true}
}

// Reset forgets key.
func (l *RegistrationRateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
