package domain

// Role is the authorization role of an actor.
type Role string

// Roles, least privileged first.
const (
	RoleUser      Role = "user"
	RoleOfficer   Role = "officer"
	RoleValidator Role = "validator"
	RoleAdmin     Role = "admin"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleOfficer, RoleValidator, RoleAdmin:
		return true
	}
	return false
}

// Actor is the user performing a mutation.
type Actor struct {
	ID   string
	Role Role
}
