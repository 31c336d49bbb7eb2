package entities

import (
	"cryptorafts/platform/internal/constants"
)

// AuthUser is the identity established by the auth middleware
type AuthUser struct {
	ID    string `json:"uid"`
	Email string `json:"email"`
}

// UserDocument is a record of the users collection
type UserDocument struct {
	ID               string   `json:"uid"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"displayName,omitempty"`
	Role             string   `json:"role,omitempty"`
	Roles            []string `json:"roles,omitempty"`
	ProfileCompleted bool     `json:"profileCompleted"`
	KYCStatus        string   `json:"kycStatus,omitempty"`
	KYBStatus        string   `json:"kybStatus,omitempty"`
	OrgID            string   `json:"orgId,omitempty"`
	OrgName          string   `json:"orgName,omitempty"`
}

// EffectiveRole returns the stored role, "user" when none is set
func (u *UserDocument) EffectiveRole() constants.Role {
	return constants.NormalizeRole(u.Role)
}

// Profile extracts the fields the role cache keeps
func (u *UserDocument) Profile() UserProfile {
	return UserProfile{
		Role:             u.EffectiveRole(),
		ProfileCompleted: u.ProfileCompleted,
		KYCStatus:        u.KYCStatus,
		KYBStatus:        u.KYBStatus,
		OrgID:            u.OrgID,
		OrgName:          u.OrgName,
		Roles:            u.AssignedRoles(),
	}
}

// AssignedRoles lists every role the account holds, primary role first
func (u *UserDocument) AssignedRoles() []constants.Role {
	roles := []constants.Role{u.EffectiveRole()}
	for _, raw := range u.Roles {
		role := constants.NormalizeRole(raw)
		if role != roles[0] {
			roles = append(roles, role)
		}
	}
	return roles
}

// UserProfile is the authorization relevant part of a user's profile
type UserProfile struct {
	Role             constants.Role   `json:"role"`
	ProfileCompleted bool             `json:"profileCompleted"`
	KYCStatus        string           `json:"kycStatus,omitempty"`
	KYBStatus        string           `json:"kybStatus,omitempty"`
	OrgID            string           `json:"orgId,omitempty"`
	OrgName          string           `json:"orgName,omitempty"`
	Roles            []constants.Role `json:"roles,omitempty"`
}

// CanActAs reports whether the profile may operate as role. Every account
// may fall back to the generic "user" role.
func (p UserProfile) CanActAs(role constants.Role) bool {
	if role == constants.RoleUser || role == p.Role {
		return true
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
