package constants

import (
	"database/sql/driver"
	"fmt"
)

// Role is the persona a platform account operates as
type Role string

const (
	RoleFounder    Role = "founder"
	RoleVC         Role = "vc"
	RoleExchange   Role = "exchange"
	RoleIDO        Role = "ido"
	RoleInfluencer Role = "influencer"
	RoleAgency     Role = "agency"
	RoleAdmin      Role = "admin"

	// RoleUser is the generic default for accounts without an assigned role
	RoleUser Role = "user"
)

// SwitchableRoles is the fixed set the role switcher preloads from.
var SwitchableRoles = []Role{
	RoleFounder,
	RoleVC,
	RoleExchange,
	RoleIDO,
	RoleInfluencer,
	RoleAgency,
	RoleAdmin,
}

// String implements fmt.Stringer
func (r Role) String() string { return string(r) }

// IsAssigned reports whether r is a concrete platform role rather than the generic default.
func (r Role) IsAssigned() bool { return r != "" && r != RoleUser }

// IsKnown reports whether r is one of the switchable roles or the generic default.
func (r Role) IsKnown() bool {
	if r == RoleUser {
		return true
	}
	for _, known := range SwitchableRoles {
		if known == r {
			return true
		}
	}
	return false
}

// NormalizeRole maps an empty role to RoleUser and leaves everything else untouched.
func NormalizeRole(raw string) Role {
	if raw == "" {
		return RoleUser
	}
	return Role(raw)
}

/* ---------- DB adapters so sqlx (or database/sql) scans/values cleanly ---------- */

// Scan implements the sql.Scanner interface
func (r *Role) Scan(src interface{}) error {
	if src == nil {
		*r = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*r = Role(v)
	case []byte:
		*r = Role(v)
	default:
		return fmt.Errorf("Role: cannot scan type %T", src)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (r Role) Value() (driver.Value, error) { return string(r), nil }
