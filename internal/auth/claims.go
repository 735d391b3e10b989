package auth

import "github.com/golang-jwt/jwt/v5"

// Claims carries the user id in the standard "sub" claim.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) HasRole(role string) bool {
	return role != "" && c.Role == role
}
