package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried in a control-API access token.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"uid"`
	Role   string `json:"role"`
}

// Roles understood by the control API. Supervisors manage campaign
// lifecycle; agents may only trigger preview-mode originations.
const (
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
)
