package developers

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes an ordinary developer from a registry administrator.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

// Developer is a registered account that owns agents and API keys.
type Developer struct {
	ID            uuid.UUID `json:"id"             db:"id"`
	Email         string    `json:"email"          db:"email"`
	PasswordHash  string    `json:"-"              db:"password_hash"`
	DisplayName   string    `json:"display_name"   db:"display_name"`
	Username      string    `json:"username"       db:"username"`
	Role          Role      `json:"role"           db:"role"`
	EmailVerified bool      `json:"email_verified" db:"email_verified"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"     db:"updated_at"`
	Bio           string    `json:"bio"            db:"bio"`
	AvatarURL     string    `json:"avatar_url"     db:"avatar_url"`
	WebsiteURL    string    `json:"website_url"    db:"website_url"`
	PublicProfile bool      `json:"public_profile" db:"public_profile"`
}

// IsAdmin reports whether the developer holds the admin role.
func (d *Developer) IsAdmin() bool { return d.Role == RoleAdmin }

// PublicProfile is the publicly visible subset of a developer's account.
// It never exposes email or password hash.
type PublicProfile struct {
	Username      string    `json:"username"`
	DisplayName   string    `json:"display_name"`
	Bio           string    `json:"bio"`
	AvatarURL     string    `json:"avatar_url"`
	WebsiteURL    string    `json:"website_url"`
	EmailVerified bool      `json:"email_verified"`
	AgentCount    int       `json:"agent_count"`
	MemberSince   time.Time `json:"member_since"`
}

// OAuthAccount links a developer to an OAuth provider identity, used for
// convenience logins (not for agent OAuth2 client-credentials, which is a
// separate flow owned by the identity package).
type OAuthAccount struct {
	ID          uuid.UUID `json:"id"           db:"id"`
	DeveloperID uuid.UUID `json:"developer_id" db:"developer_id"`
	Provider    string    `json:"provider"     db:"provider"`
	ProviderID  string    `json:"provider_id"  db:"provider_id"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}
