package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Role constants for account privilege levels.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ValidRole reports whether role is a recognised privilege level.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// ErrInvalidRole is returned when an unrecognised role string is supplied.
var ErrInvalidRole = errors.New("invalid role")

// User represents a registered account in the database.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	AvatarURL    string
	Role         string
	CreatedAt    time.Time
}

// NewUser holds the fields supplied at registration.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	AvatarURL string
}

// ErrUserNotFound is returned when a user lookup yields no results.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when the username or email is already taken.
var ErrUserExists = errors.New("user already exists")

// ErrInvalidCredentials is returned when authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

const userColumns = `id, username, email, password_hash, avatar_url, role, created_at`

// UserRepository provides user account persistence operations.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a new user with a bcrypt-hashed password.
//
// Precondition: nu.Username, nu.Email and nu.Password must be non-empty.
// Postcondition: Returns the created User with ID and CreatedAt set,
// or ErrUserExists if the username or email is taken.
func (r *UserRepository) Create(ctx context.Context, nu NewUser) (User, error) {
	hash, err := HashPassword(nu.Password)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (id, username, email, password_hash, avatar_url)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+userColumns,
		uuid.New(), strings.TrimSpace(nu.Username), NormalizeEmail(nu.Email), hash, nu.AvatarURL,
	))
	if err != nil {
		if isDuplicateKeyError(err) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Authenticate verifies credentials and returns the matching user.
//
// Precondition: email and password must be non-empty.
// Postcondition: Returns the User if credentials are valid,
// ErrUserNotFound if the email doesn't exist,
// or ErrInvalidCredentials if the password is wrong.
func (r *UserRepository) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		NormalizeEmail(email),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}

	if !CheckPassword(password, u.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// GetByID retrieves a user by id.
//
// Postcondition: Returns the User or ErrUserNotFound. A malformed id is not found.
func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		uid,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// GetByUsername retrieves a user by username.
//
// Postcondition: Returns the User or ErrUserNotFound.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		strings.TrimSpace(username),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

// Count returns the number of registered users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// SetRole updates the role for the given user.
//
// Precondition: role must be a valid role string (use ValidRole to check).
// Postcondition: The user's role is updated, or ErrInvalidRole / ErrUserNotFound is returned.
func (r *UserRepository) SetRole(ctx context.Context, id, role string) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $1 WHERE id = $2`,
		role, uid,
	)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u  User
		id uuid.UUID
	)
	err := row.Scan(&id, &u.Username, &u.Email, &u.PasswordHash, &u.AvatarURL, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	u.ID = id.String()
	return u, nil
}

// HashPassword creates a bcrypt hash of the given password.
//
// Precondition: password must be non-empty and at most 72 bytes.
// Postcondition: Returns a bcrypt hash string.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// SQLSTATE 23505 is unique_violation.
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
