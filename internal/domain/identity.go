// Package domain contains entity without logic, just meta-data
package domain

type SessionName string

// LaunchIdentity is the decoded (sessionName, passcode) pair from a launch URL.
// Immutable once decoded.
type LaunchIdentity struct {
	SessionName SessionName `json:"sessionName"`
	Passcode    string      `json:"passcode"`
}

// SessionRole is the role_type claim requested for a credential.
type SessionRole int

const (
	RoleAttendee SessionRole = 0
	RoleHost     SessionRole = 1
)

// DefaultRole is the role every launcher asks for unless configured otherwise.
const DefaultRole = RoleHost

func (r SessionRole) Valid() bool {
	return r == RoleAttendee || r == RoleHost
}
