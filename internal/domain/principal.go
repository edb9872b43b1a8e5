package domain

// Role enumerates back-office actor roles.
type Role string

const (
	// RoleAdmin raises closure requests and tickets.
	RoleAdmin Role = "admin"
	// RoleGovernor is the reviewing role.
	RoleGovernor Role = "governor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleGovernor
}

// Principal is the authenticated actor behind an operation.
type Principal struct {
	ID   string
	Name string
	Role Role
}

// IsReviewer reports whether the principal holds the reviewing role.
func (p Principal) IsReviewer() bool {
	return p.Role == RoleGovernor
}

// StaffMember is a directory entry used to resolve notification recipients.
type StaffMember struct {
	ID     string
	Name   string
	Email  string
	Role   Role
	Active bool
}
