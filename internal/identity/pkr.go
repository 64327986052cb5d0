// Package identity provides the principal registry, public key records,
// permission sets, and security profiles for the mycelia kernel. Private
// keys never leave the registry; callers hold opaque PKR values.
package identity

import "time"

// PKR is a public key record: the opaque identity handle callers pass
// around. The private key counterpart stays inside the registry.
type PKR struct {
	UUID      string
	PublicKey []byte
	ExpiresAt *time.Time
}

// Valid reports whether the PKR is populated and unexpired at t.
func (p PKR) Valid(t time.Time) bool {
	if p.UUID == "" || len(p.PublicKey) == 0 {
		return false
	}
	if p.ExpiresAt != nil && t.After(*p.ExpiresAt) {
		return false
	}
	return true
}

// IsZero reports whether the PKR carries no identity.
func (p PKR) IsZero() bool {
	return p.UUID == "" && len(p.PublicKey) == 0
}

// Level is an access level in the r < rw < rwg hierarchy.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelReadWrite
	LevelReadWriteGrant
)

// ParseLevel maps the wire spellings ("r", "rw", "rwg", and the route
// metadata forms "read", "write", "grant") to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "r", "read":
		return LevelRead, true
	case "rw", "write":
		return LevelReadWrite, true
	case "rwg", "grant":
		return LevelReadWriteGrant, true
	}
	return LevelNone, false
}

func (l Level) String() string {
	switch l {
	case LevelRead:
		return "r"
	case LevelReadWrite:
		return "rw"
	case LevelReadWriteGrant:
		return "rwg"
	default:
		return "none"
	}
}

// Covers reports whether holding l satisfies a requirement of required.
// Higher levels imply lower ones: rwg covers rw covers r.
func (l Level) Covers(required Level) bool {
	return l >= required && required > LevelNone
}
