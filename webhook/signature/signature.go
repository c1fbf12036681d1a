package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// Prefix is the scheme marker carried in signature headers
	Prefix = "sha256="

	// HeaderName is the header outgoing deliveries are signed in
	HeaderName = "X-Webhook-Signature"

	// GitHubHeaderName is accepted on inbound requests as an alternative
	GitHubHeaderName = "X-Hub-Signature-256"
)

var (
	// ErrSignatureRequired is returned when no signature was provided at all
	ErrSignatureRequired = errors.New("signature required")

	// ErrSignatureMismatch is returned when the signature does not match the payload
	ErrSignatureMismatch = errors.New("invalid signature")
)

// Sign returns the lower-case hex HMAC-SHA256 of payload keyed by secret.
// The payload must be the exact bytes transmitted.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the signature header value: sha256=<hex>
func Header(payload []byte, secret string) string {
	return Prefix + Sign(payload, secret)
}

// Verify checks a provided signature header against payload.
// The sha256= prefix is optional. Malformed or wrong-length values are a
// mismatch and take the same comparison path as a wrong digest.
func Verify(payload []byte, provided, secret string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrSignatureRequired
	}
	provided = strings.TrimPrefix(provided, Prefix)

	got, decodeErr := hex.DecodeString(provided)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !digestEqual(got, mac.Sum(nil)) || decodeErr != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// digestEqual compares a and b in time independent of their lengths by
// hashing both to fixed-size values first.
func digestEqual(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
