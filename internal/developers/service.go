package developers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/agentvault/registry/internal/email"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// developerRepo is the storage interface consumed by Service.
type developerRepo interface {
	Create(ctx context.Context, d *Developer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Developer, error)
	GetByEmail(ctx context.Context, email string) (*Developer, error)
	GetByUsername(ctx context.Context, username string) (*Developer, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*Developer, error)
	LinkOAuth(ctx context.Context, developerID uuid.UUID, provider, providerID string) error
	SetEmailVerified(ctx context.Context, developerID uuid.UUID) error
	SetPasswordHash(ctx context.Context, developerID uuid.UUID, hash string) error
	UpdateProfile(ctx context.Context, developerID uuid.UUID, bio, avatarURL, websiteURL string) error
	CreateVerificationToken(ctx context.Context, developerID uuid.UUID, token string, expires time.Time) error
	UseVerificationToken(ctx context.Context, token string) (*Developer, error)
	CreatePasswordResetToken(ctx context.Context, developerID uuid.UUID, token string, expires time.Time) error
	UsePasswordResetToken(ctx context.Context, token string) (*Developer, error)
}

// Service implements business logic for developer account management.
type Service struct {
	repo        developerRepo
	mailer      email.EmailSender
	frontendURL string // base URL of the frontend, used to build verification links
	logger      *zap.Logger
}

// NewService creates a new Service.
func NewService(repo developerRepo, mailer email.EmailSender, baseURL string, logger *zap.Logger) *Service {
	return &Service{repo: repo, mailer: mailer, frontendURL: baseURL, logger: logger}
}

// SetFrontendURL overrides the base URL used to build email verification links.
// Should point to the web frontend (e.g. "http://localhost:3000").
func (s *Service) SetFrontendURL(url string) {
	s.frontendURL = url
}

// Signup creates a new developer with email/password authentication.
// Returns the created developer and the raw verification token.
func (s *Service) Signup(ctx context.Context, emailAddr, password, displayName string) (*Developer, string, error) {
	if emailAddr == "" || password == "" {
		return nil, "", fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	username, err := s.generateUniqueUsername(ctx, emailAddr)
	if err != nil {
		return nil, "", fmt.Errorf("generate username: %w", err)
	}

	if displayName == "" {
		displayName = username
	}

	d := &Developer{
		Email:        emailAddr,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Username:     username,
		Role:         RoleDeveloper,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, "", ErrDuplicateEmail
		}
		return nil, "", fmt.Errorf("create developer: %w", err)
	}

	verifyToken, err := s.createAndSendVerification(ctx, d)
	if err != nil {
		s.logger.Warn("failed to send verification email",
			zap.String("developer_id", d.ID.String()),
			zap.Error(err),
		)
	}

	return d, verifyToken, nil
}

// Login verifies email/password credentials and returns the developer on success.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*Developer, error) {
	d, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials")
		}
		return nil, fmt.Errorf("lookup developer: %w", err)
	}

	if d.PasswordHash == "" {
		return nil, fmt.Errorf("account uses OAuth login; password not set")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	return d, nil
}

// VerifyEmail consumes a verification token and marks the developer's email as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*Developer, error) {
	d, err := s.repo.UseVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("verification token not found")
		}
		return nil, fmt.Errorf("verify email: %w", err)
	}

	s.logger.Info("email verified", zap.String("developer_id", d.ID.String()))
	return d, nil
}

// GetByID retrieves a developer by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Developer, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUsername retrieves a developer by their username slug.
func (s *Service) GetByUsername(ctx context.Context, username string) (*Developer, error) {
	return s.repo.GetByUsername(ctx, username)
}

// GetPublicProfile returns the public-facing profile for the given username.
// Returns ErrNotFound if the developer does not exist or has public_profile = false.
func (s *Service) GetPublicProfile(ctx context.Context, username string) (*PublicProfile, error) {
	d, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !d.PublicProfile {
		return nil, ErrNotFound
	}
	return &PublicProfile{
		Username:      d.Username,
		DisplayName:   d.DisplayName,
		Bio:           d.Bio,
		AvatarURL:     d.AvatarURL,
		WebsiteURL:    d.WebsiteURL,
		EmailVerified: d.EmailVerified,
		MemberSince:   d.CreatedAt,
	}, nil
}

// UpdateProfile updates the bio, avatar URL, and website URL for a developer.
func (s *Service) UpdateProfile(ctx context.Context, developerID uuid.UUID, bio, avatarURL, websiteURL string) error {
	return s.repo.UpdateProfile(ctx, developerID, bio, avatarURL, websiteURL)
}

// IsEmailVerified returns true if the developer's email has been verified.
func (s *Service) IsEmailVerified(ctx context.Context, developerID uuid.UUID) (bool, error) {
	d, err := s.repo.GetByID(ctx, developerID)
	if err != nil {
		return false, err
	}
	return d.EmailVerified, nil
}

// GetOrCreateFromOAuth retrieves an existing developer linked to the OAuth identity,
// or creates a new one. Returns the developer and true if newly created.
func (s *Service) GetOrCreateFromOAuth(ctx context.Context, provider, providerID, emailAddr, displayName string) (*Developer, bool, error) {
	d, err := s.repo.GetByOAuth(ctx, provider, providerID)
	if err == nil {
		return d, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup oauth developer: %w", err)
	}

	existing, err := s.repo.GetByEmail(ctx, emailAddr)
	if err == nil {
		if linkErr := s.repo.LinkOAuth(ctx, existing.ID, provider, providerID); linkErr != nil {
			s.logger.Warn("link oauth to existing account",
				zap.String("developer_id", existing.ID.String()),
				zap.Error(linkErr),
			)
		}
		if !existing.EmailVerified {
			_ = s.repo.SetEmailVerified(ctx, existing.ID)
			existing.EmailVerified = true
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup by email: %w", err)
	}

	username, err := s.generateUniqueUsername(ctx, emailAddr)
	if err != nil {
		return nil, false, fmt.Errorf("generate username: %w", err)
	}
	if displayName == "" {
		displayName = username
	}

	d = &Developer{
		Email:         emailAddr,
		DisplayName:   displayName,
		Username:      username,
		Role:          RoleDeveloper,
		EmailVerified: true, // OAuth login = email verified by provider
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, false, fmt.Errorf("create oauth developer: %w", err)
	}
	if err := s.repo.LinkOAuth(ctx, d.ID, provider, providerID); err != nil {
		s.logger.Warn("link oauth after create", zap.Error(err))
	}

	return d, true, nil
}

// ResendVerification generates a new verification token and sends the email.
func (s *Service) ResendVerification(ctx context.Context, developerID uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, developerID)
	if err != nil {
		return fmt.Errorf("get developer: %w", err)
	}
	if d.EmailVerified {
		return fmt.Errorf("email already verified")
	}

	_, err = s.createAndSendVerification(ctx, d)
	return err
}

// createAndSendVerification generates a token, persists it, and emails the developer.
func (s *Service) createAndSendVerification(ctx context.Context, d *Developer) (string, error) {
	token, err := generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	expires := time.Now().UTC().Add(24 * time.Hour)
	if err := s.repo.CreateVerificationToken(ctx, d.ID, token, expires); err != nil {
		return "", fmt.Errorf("persist verification token: %w", err)
	}

	link := s.frontendURL + "/verify-email?token=" + token
	body := fmt.Sprintf(
		"Hello %s,\n\nVerify your AgentVault account email:\n\n  %s\n\nThis link expires in 24 hours.\n\nIf you did not sign up, ignore this email.\n",
		d.DisplayName, link,
	)
	if err := s.mailer.Send(ctx, d.Email, "Verify your AgentVault account email", body); err != nil {
		return token, fmt.Errorf("send verification email: %w", err)
	}
	return token, nil
}

// generateUniqueUsername derives a slug from email and appends a suffix if taken.
func (s *Service) generateUniqueUsername(ctx context.Context, emailAddr string) (string, error) {
	base := slugifyEmail(emailAddr)
	if base == "" {
		base = "user"
	}

	if _, err := s.repo.GetByUsername(ctx, base); errors.Is(err, ErrNotFound) {
		return base, nil
	}

	for i := 2; i <= 9999; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, err := s.repo.GetByUsername(ctx, candidate); errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not generate unique username for %q", emailAddr)
}

// slugifyEmail converts "alice@example.com" to "alice".
func slugifyEmail(emailAddr string) string {
	local := emailAddr
	if at := strings.Index(emailAddr, "@"); at > 0 {
		local = emailAddr[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	result := strings.Trim(b.String(), "-")
	if len(result) > 32 {
		result = result[:32]
	}
	return result
}

// ResendVerificationByEmail looks up a developer by email and resends the
// verification email if the account exists and is not yet verified.
// Always returns nil — callers must not reveal whether the email is registered.
func (s *Service) ResendVerificationByEmail(ctx context.Context, emailAddr string) error {
	d, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil
	}
	if d.EmailVerified {
		return nil
	}
	if _, err := s.createAndSendVerification(ctx, d); err != nil {
		s.logger.Warn("resend verification by email failed",
			zap.String("developer_id", d.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// ForgotPassword generates a password-reset token and emails it to the developer.
// Always returns nil — callers must not reveal whether the email is registered.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	d, err := s.repo.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil
	}

	if d.PasswordHash == "" {
		body := fmt.Sprintf(
			"Hello %s,\n\nYour AgentVault account was created with GitHub or Google — there is no password to reset.\n\nSign in using the OAuth button on the login page.\n",
			d.DisplayName,
		)
		_ = s.mailer.Send(ctx, d.Email, "AgentVault account — no password set", body)
		return nil
	}

	token, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("generate password reset token", zap.Error(err))
		return nil
	}

	expires := time.Now().UTC().Add(1 * time.Hour)
	if err := s.repo.CreatePasswordResetToken(ctx, d.ID, token, expires); err != nil {
		s.logger.Error("persist password reset token", zap.Error(err))
		return nil
	}

	link := s.frontendURL + "/reset-password?token=" + token
	body := fmt.Sprintf(
		"Hello %s,\n\nReset your AgentVault account password:\n\n  %s\n\nThis link expires in 1 hour.\n\nIf you did not request a password reset, ignore this email — your password has not changed.\n",
		d.DisplayName, link,
	)
	if err := s.mailer.Send(ctx, d.Email, "Reset your AgentVault account password", body); err != nil {
		s.logger.Warn("send password reset email",
			zap.String("developer_id", d.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

// ResetPassword validates a password-reset token and sets the new password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	d, err := s.repo.UsePasswordResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("reset token not found or expired")
		}
		return fmt.Errorf("reset password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.SetPasswordHash(ctx, d.ID, string(hash)); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	s.logger.Info("password reset", zap.String("developer_id", d.ID.String()))
	return nil
}

// generateSecureToken returns a hex-encoded random token of the given byte length.
func generateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
