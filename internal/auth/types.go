package auth

import (
	"time"
)

// Role names are free-form; "admin" short-circuits permission checks.
const RoleAdmin = "admin"

// Permission grants an action on a resource. "*" matches anything. A request
// carrying conditions is allowed only if every requested condition appears in
// the permission's condition map with the same value.
type Permission struct {
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// User is the stored account record. PasswordHash never leaves the package.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Role         string       `json:"role"`
	Permissions  []Permission `json:"permissions,omitempty"`
	PasswordHash PasswordHash `json:"passwordHash"`
	Disabled     bool         `json:"disabled"`

	FailedAttempts int       `json:"failedAttempts"`
	LockedUntil    time.Time `json:"lockedUntil"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicUser is the externally visible view of a user.
type PublicUser struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		Disabled:  u.Disabled,
		CreatedAt: u.CreatedAt,
	}
}

// Session is one live login. The refresh token is stored only here, hex
// encoded; rotation replaces it in place.
type Session struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	RefreshToken string `json:"refreshToken"`

	UserAgent string `json:"userAgent,omitempty"`
	IP        string `json:"ip,omitempty"`

	CreatedAt        time.Time `json:"createdAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	LastRotatedAt    time.Time `json:"lastRotatedAt"`
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	SessionID        string    `json:"sessionId"`
	User             PublicUser
}

// VerifyResult reports a validated access token.
type VerifyResult struct {
	Valid   bool
	User    PublicUser
	Session Session
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
