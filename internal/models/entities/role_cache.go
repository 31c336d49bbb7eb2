package entities

import "cryptorafts/platform/internal/constants"

// CachedUserRecord is a point-in-time snapshot of a user's role profile.
// Timestamps are epoch milliseconds.
type CachedUserRecord struct {
	UserID           string           `json:"userId"`
	Email            string           `json:"email"`
	Role             constants.Role   `json:"role"`
	ProfileCompleted bool             `json:"profileCompleted"`
	KYCStatus        string           `json:"kycStatus,omitempty"`
	KYBStatus        string           `json:"kybStatus,omitempty"`
	OrgID            string           `json:"orgId,omitempty"`
	OrgName          string           `json:"orgName,omitempty"`
	Roles            []constants.Role `json:"roles,omitempty"`
	LastUpdated      int64            `json:"lastUpdated"`
	ExpiresAt        int64            `json:"expiresAt"`
}

// Profile returns the profile fields of the record
func (r *CachedUserRecord) Profile() UserProfile {
	return UserProfile{
		Role:             r.Role,
		ProfileCompleted: r.ProfileCompleted,
		KYCStatus:        r.KYCStatus,
		KYBStatus:        r.KYBStatus,
		OrgID:            r.OrgID,
		OrgName:          r.OrgName,
		Roles:            r.Roles,
	}
}

// Live reports whether the record is still valid at nowMs
func (r *CachedUserRecord) Live(nowMs int64) bool {
	return r.ExpiresAt > nowMs
}

// CompactRoleRecord is the abbreviated cookie payload. Email is deliberately absent.
type CompactRoleRecord struct {
	Role             constants.Role `json:"r"`
	OrgID            string         `json:"o,omitempty"`
	ProfileCompleted bool           `json:"p"`
	KYBStatus        string         `json:"k,omitempty"`
	ExpiresAt        int64          `json:"e"`
}

// PreloadedRoleRecord marks a role as warmed up for fast switching
type PreloadedRoleRecord struct {
	Role        constants.Role `json:"role"`
	PreloadedAt int64          `json:"preloadedAt"`
	ExpiresAt   int64          `json:"expiresAt"`
}

func (r *PreloadedRoleRecord) Live(nowMs int64) bool {
	return r.ExpiresAt > nowMs
}
