package core

import "golang.org/x/crypto/bcrypt"

// bcryptCost mirrors the storefront's original work factor.
const bcryptCost = 10

// HashPassword derives a salted one-way hash of password. Two calls with the
// same input produce different hashes.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. A malformed hash
// verifies as false rather than erroring.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
