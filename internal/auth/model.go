package auth

import "time"

// Role is the ordered authorization level attached to a user. Levels form a
// strict total order; comparisons must go through Satisfies so a reorder of
// the constants cannot silently change access rules.
type Role int

const (
	RoleStandard Role = iota
	RoleAdmin
	RoleSuperAdmin
)

// Satisfies reports whether the role grants access to an endpoint requiring
// the given minimum role.
func (r Role) Satisfies(required Role) bool {
	return r >= required
}

func (r Role) String() string {
	switch r {
	case RoleStandard:
		return "standard"
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "superadmin"
	default:
		return "unknown"
	}
}

// LockoutThreshold is the number of consecutive failed password attempts
// after which login is refused until an external reset.
const LockoutThreshold = 3

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	FailedLogins int       `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Sanitized returns a copy safe to hand outward: the password hash is
// stripped even on code paths that bypass JSON marshalling.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Cookie names shared between the login handler, the CSRF guard and the
// authentication middleware.
const (
	AccessTokenCookie  = "access-token"
	RefreshTokenCookie = "refresh-token"
	CSRFTokenCookie    = "csrf-token"
)
