package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system. User
// management itself lives outside this service; tokens are minted by the
// identity provider and only validated here.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleOperator UserRole = "OPERATOR"
	RoleViewer   UserRole = "VIEWER"
)

// JWTClaims represents the JWT payload for access tokens. The email, or the
// user id when no email is present, is used as the opaque actor string on
// audit records and review decisions.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor returns the opaque actor identifier recorded on decisions and audit
// rows.
func (c *JWTClaims) Actor() string {
	if c == nil {
		return ""
	}
	if c.Email != "" {
		return c.Email
	}
	return c.UserID
}
