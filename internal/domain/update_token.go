package domain

import "time"

// UpdateToken grants an applicant one resubmission for one dimension.
// Only the digest of the token is stored; the plaintext leaves the system in the
// notification payload and nowhere else.
type UpdateToken struct {
	ID             string
	Digest         string
	RegistrationID string
	Dimension      Dimension
	Used           bool
	UsedAt         *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// UsableAt reports whether the token may still be consumed at now.
func (t *UpdateToken) UsableAt(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}
