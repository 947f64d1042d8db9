// Package webhook verifies inbound GitHub webhook deliveries. Verification
// is pure: HMAC-SHA256 over the raw body, compared in constant time against
// the X-Hub-Signature-256 header.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// ValidSignature reports whether header is a well-formed
// "sha256=<hex digest>" signature of body under secret. An empty secret
// never validates.
func ValidSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return false
	}
	hexDigest, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the "sha256=<hex>" signature for body, for tests and
// outbound use.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
