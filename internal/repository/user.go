package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/notely/notely/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailExists      = errors.New("email already exists")
	ErrGoogleIDConflict = errors.New("google account already linked")
	ErrOTPMismatch      = errors.New("otp mismatch")
)

// googleIDIndex is the unique index guarding linked Google accounts.
const googleIDIndex = "idx_users_google_id"

// userColumns lists user columns in scanUser order. Nullable text columns are
// coalesced so they scan into plain strings.
const userColumns = `
	id, name, email,
	COALESCE(password_hash, ''), COALESCE(google_id, ''), COALESCE(otp_hash, ''),
	otp_expires_at, verified, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.GoogleID,
		&user.OTPHash,
		&user.OTPExpiresAt,
		&user.Verified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user into the database.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			id, name, email, password_hash, google_id, otp_hash, otp_expires_at,
			verified, created_at, updated_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.GoogleID,
		user.OTPHash,
		user.OTPExpiresAt,
		user.Verified,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == googleIDIndex {
				return ErrGoogleIDConflict
			}
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their normalized email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, model.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetUserByGoogleID retrieves a user by their linked Google account ID.
func (r *Repository) GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE google_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, googleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by google ID: %w", err)
	}

	return user, nil
}

// SetOTP stores a fresh OTP digest for the user, replacing any previous one.
func (r *Repository) SetOTP(ctx context.Context, userID, otpHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET otp_hash = $2, otp_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, userID, otpHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ConsumeOTP clears the stored OTP if it matches otpHash and has not expired
// at now. When verify is set the user is marked verified in the same
// statement. A code can be consumed at most once; a lost race or a stale code
// returns ErrOTPMismatch.
func (r *Repository) ConsumeOTP(ctx context.Context, userID, otpHash string, now time.Time, verify bool) (*model.User, error) {
	query := `
		UPDATE users
		SET otp_hash = NULL,
			otp_expires_at = NULL,
			verified = verified OR $4,
			updated_at = NOW()
		WHERE id = $1
			AND otp_hash = $2
			AND (otp_expires_at IS NULL OR otp_expires_at > $3)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, otpHash, now, verify))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOTPMismatch
		}
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}

	return user, nil
}

// LinkGoogleID attaches a Google identity to an existing user that has none.
// When emailVerified is set the account also becomes verified.
func (r *Repository) LinkGoogleID(ctx context.Context, userID, googleID string, emailVerified bool) (*model.User, error) {
	query := `
		UPDATE users
		SET google_id = $2,
			verified = verified OR $3,
			updated_at = NOW()
		WHERE id = $1 AND google_id IS NULL
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, googleID, emailVerified))
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, ErrGoogleIDConflict
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the user vanished or another identity was linked first.
			existing, getErr := r.GetUserByID(ctx, userID)
			if getErr != nil {
				return nil, getErr
			}
			if existing.GoogleID == googleID {
				return existing, nil
			}
			return nil, ErrGoogleIDConflict
		}
		return nil, fmt.Errorf("failed to link google ID: %w", err)
	}

	return user, nil
}
