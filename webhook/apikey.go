package webhook

import "time"

// APIKey is an inbound credential. Only the SHA-256 hash of the key is stored.
type APIKey struct {
	ID          string
	Name        string
	KeyHash     string
	Permissions []string
	IsActive    bool
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
}

// Usable reports whether the key may authenticate a request at now.
func (k APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}
