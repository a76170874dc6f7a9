package developers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a developer lookup finds no matching record.
var ErrNotFound = errors.New("developer not found")

// ErrDuplicateEmail is returned when a signup attempts to use an already-registered email.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicateUsername is returned when the generated username is already taken.
var ErrDuplicateUsername = errors.New("username already taken")

// Repository provides CRUD operations for developers against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new developer record. Sets ID, CreatedAt, UpdatedAt.
func (r *Repository) Create(ctx context.Context, d *Developer) error {
	d.ID = uuid.New()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Role == "" {
		d.Role = RoleDeveloper
	}

	q := `
		INSERT INTO developers (id, email, password_hash, display_name, username, role, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Exec(ctx, q,
		d.ID, d.Email, d.PasswordHash, d.DisplayName, d.Username, d.Role,
		d.EmailVerified, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "developers_email_key" {
				return ErrDuplicateEmail
			}
			return ErrDuplicateUsername
		}
		return fmt.Errorf("create developer: %w", err)
	}
	return nil
}

// GetByID retrieves a developer by their internal UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Developer, error) {
	return r.scanOne(ctx, `SELECT * FROM developers WHERE id = $1`, id)
}

// GetByEmail retrieves a developer by their email address.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Developer, error) {
	return r.scanOne(ctx, `SELECT * FROM developers WHERE email = $1`, email)
}

// GetByUsername retrieves a developer by their username slug.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*Developer, error) {
	return r.scanOne(ctx, `SELECT * FROM developers WHERE username = $1`, username)
}

// GetByOAuth retrieves a developer linked to the given OAuth provider identity.
func (r *Repository) GetByOAuth(ctx context.Context, provider, providerID string) (*Developer, error) {
	q := `
		SELECT d.* FROM developers d
		JOIN developer_oauth o ON o.developer_id = d.id
		WHERE o.provider = $1 AND o.provider_id = $2`
	return r.scanOne(ctx, q, provider, providerID)
}

// LinkOAuth adds an OAuth provider link to an existing developer account.
// Silently ignores duplicate links.
func (r *Repository) LinkOAuth(ctx context.Context, developerID uuid.UUID, provider, providerID string) error {
	q := `
		INSERT INTO developer_oauth (id, developer_id, provider, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, uuid.New(), developerID, provider, providerID, time.Now().UTC())
	return err
}

// SetEmailVerified marks the developer's email as verified.
func (r *Repository) SetEmailVerified(ctx context.Context, developerID uuid.UUID) error {
	q := `UPDATE developers SET email_verified = true, updated_at = $2 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, developerID, time.Now().UTC())
	return err
}

// CreateVerificationToken stores a new email-verification token for the developer.
func (r *Repository) CreateVerificationToken(ctx context.Context, developerID uuid.UUID, token string, expires time.Time) error {
	return r.createToken(ctx, developerID, token, "email_verification", expires)
}

// CreatePasswordResetToken stores a new password-reset token for the developer.
func (r *Repository) CreatePasswordResetToken(ctx context.Context, developerID uuid.UUID, token string, expires time.Time) error {
	return r.createToken(ctx, developerID, token, "password_reset", expires)
}

func (r *Repository) createToken(ctx context.Context, developerID uuid.UUID, token, tokenType string, expires time.Time) error {
	q := `
		INSERT INTO developer_verifications (id, developer_id, token, token_type, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, q, uuid.New(), developerID, token, tokenType, expires, time.Now().UTC())
	return err
}

// UseVerificationToken atomically marks an email-verification token as used,
// sets email_verified = true on the developer, and returns the developer.
func (r *Repository) UseVerificationToken(ctx context.Context, token string) (*Developer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var developerID uuid.UUID
	var expiresAt time.Time
	var usedAt *time.Time
	q := `SELECT developer_id, expires_at, used_at FROM developer_verifications WHERE token = $1 AND token_type = 'email_verification'`
	if err := tx.QueryRow(ctx, q, token).Scan(&developerID, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query verification token: %w", err)
	}

	if usedAt != nil {
		return nil, fmt.Errorf("verification token already used")
	}
	if time.Now().After(expiresAt) {
		return nil, fmt.Errorf("verification token expired")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE developer_verifications SET used_at = $2 WHERE token = $1`, token, now,
	); err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE developers SET email_verified = true, updated_at = $2 WHERE id = $1`, developerID, now,
	); err != nil {
		return nil, fmt.Errorf("set email verified: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return r.GetByID(ctx, developerID)
}

// UsePasswordResetToken atomically marks a password-reset token as used and
// returns the owning developer. Does not touch email_verified.
func (r *Repository) UsePasswordResetToken(ctx context.Context, token string) (*Developer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var developerID uuid.UUID
	var expiresAt time.Time
	var usedAt *time.Time
	q := `SELECT developer_id, expires_at, used_at FROM developer_verifications WHERE token = $1 AND token_type = 'password_reset'`
	if err := tx.QueryRow(ctx, q, token).Scan(&developerID, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query reset token: %w", err)
	}

	if usedAt != nil {
		return nil, fmt.Errorf("password reset token already used")
	}
	if time.Now().After(expiresAt) {
		return nil, fmt.Errorf("password reset token expired")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE developer_verifications SET used_at = $2 WHERE token = $1`, token, now,
	); err != nil {
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return r.GetByID(ctx, developerID)
}

// SetPasswordHash updates a developer's password hash.
func (r *Repository) SetPasswordHash(ctx context.Context, developerID uuid.UUID, hash string) error {
	q := `UPDATE developers SET password_hash = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, developerID, hash, time.Now().UTC())
	return err
}

// UpdateProfile updates the bio, avatar_url, and website_url for a developer.
func (r *Repository) UpdateProfile(ctx context.Context, developerID uuid.UUID, bio, avatarURL, websiteURL string) error {
	q := `UPDATE developers SET bio = $2, avatar_url = $3, website_url = $4, updated_at = $5 WHERE id = $1`
	_, err := r.db.Exec(ctx, q, developerID, bio, avatarURL, websiteURL, time.Now().UTC())
	return err
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*Developer, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var d Developer
	if err := rows.Scan(
		&d.ID, &d.Email, &d.PasswordHash, &d.DisplayName, &d.Username, &d.Role,
		&d.EmailVerified, &d.CreatedAt, &d.UpdatedAt,
		&d.Bio, &d.AvatarURL, &d.WebsiteURL, &d.PublicProfile,
	); err != nil {
		return nil, fmt.Errorf("scan developer: %w", err)
	}
	return &d, rows.Err()
}
