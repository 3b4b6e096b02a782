package session

import "time"

// DefaultTTL is the lifetime of a standard session token.
const DefaultTTL = 24 * time.Hour

// Session is an opaque bearer credential tied to a subject. Sessions are
// never refreshed; expiry is checked lazily on read.
type Session struct {
	Token             string
	SubjectID         string
	DeviceFingerprint string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the session has passed its expiry at the given
// instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
