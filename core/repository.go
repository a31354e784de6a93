package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord is the persistence projection including the password hash.
// Only the service layer sees it; handlers get User.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	CreatedAt    time.Time
}

var (
	// ErrUserNotFound is returned when no record matches the email or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when the unique email constraint fires.
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRepository defines persistence operations for users. Emails passed in
// must already be normalized.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	Create(ctx context.Context, email, passwordHash, firstName, lastName string) (*UserRecord, error)
	Delete(ctx context.Context, id string) (*UserRecord, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const q = `SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE email=$1`
	return r.scanOne(r.db.QueryRow(ctx, q, email))
}

func (r *PgUserRepository) FindByID(ctx context.Context, id string) (*UserRecord, error) {
	const q = `SELECT id, email, password_hash, first_name, last_name, created_at FROM users WHERE id=$1`
	return r.scanOne(r.db.QueryRow(ctx, q, id))
}

func (r *PgUserRepository) Create(ctx context.Context, email, passwordHash, firstName, lastName string) (*UserRecord, error) {
	const q = `INSERT INTO users (id, email, password_hash, first_name, last_name)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, email, password_hash, first_name, last_name, created_at`
	rec, err := r.scanOne(r.db.QueryRow(ctx, q, uuid.NewString(), email, passwordHash, firstName, lastName))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes the user and echoes the deleted record. A concurrent delete
// surfaces as ErrUserNotFound, never as an internal error.
func (r *PgUserRepository) Delete(ctx context.Context, id string) (*UserRecord, error) {
	const q = `DELETE FROM users WHERE id=$1
		RETURNING id, email, password_hash, first_name, last_name, created_at`
	return r.scanOne(r.db.QueryRow(ctx, q, id))
}

func (r *PgUserRepository) scanOne(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
