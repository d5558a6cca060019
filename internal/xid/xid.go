package xid

import "github.com/google/uuid"

// New returns a time-ordered identifier. Falls back to a random v4 when the
// v7 clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
