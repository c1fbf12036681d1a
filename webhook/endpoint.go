package webhook

import (
	"fmt"
	"net/url"
	"slices"
	"time"
	"unicode/utf8"
)

const (
	MinSecretLength = 16
	MaxSecretLength = 100
	MaxURLLength    = 500
	MaxNameLength   = 100
)

/* Endpoint is an outgoing delivery target
 * Events holds exact event types; there is no wildcard matching on the outgoing side
 */
type Endpoint struct {
	ID              string
	Name            string
	URL             string
	Secret          *string
	Events          []string
	IsActive        bool
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// Subscribed reports whether the endpoint should receive eventType.
func (e Endpoint) Subscribed(eventType string) bool {
	return e.IsActive && slices.Contains(e.Events, eventType)
}

// HasSecret reports whether deliveries are signed.
func (e Endpoint) HasSecret() bool {
	return e.Secret != nil && *e.Secret != ""
}

// Validate checks the endpoint registration rules
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if utf8.RuneCountInString(e.Name) > MaxNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxNameLength)
	}
	if e.URL == "" {
		return fmt.Errorf("url cannot be empty for endpoint %s", e.Name)
	}
	if utf8.RuneCountInString(e.URL) > MaxURLLength {
		return fmt.Errorf("url must be at most %d characters for endpoint %s", MaxURLLength, e.Name)
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL for endpoint %s", e.Name)
	}
	if e.Secret != nil {
		n := utf8.RuneCountInString(*e.Secret)
		if n < MinSecretLength || n > MaxSecretLength {
			return fmt.Errorf("secret must be between %d and %d characters for endpoint %s", MinSecretLength, MaxSecretLength, e.Name)
		}
	}
	if len(e.Events) == 0 {
		return fmt.Errorf("at least one event is required for endpoint %s", e.Name)
	}
	for _, ev := range e.Events {
		if ev == "" || utf8.RuneCountInString(ev) > MaxEventTypeLength {
			return fmt.Errorf("invalid event %q for endpoint %s", ev, e.Name)
		}
	}
	return nil
}
