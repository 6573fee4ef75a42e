package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"leadwire/internal/domain"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Leadwire-Signature"

const signaturePrefix = "sha256="

// Sign computes the signature value for a payload, as a provider would
// send it: "sha256=" followed by the hex HMAC-SHA256 of the body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature against the shared secret.
// Comparison is constant time. Any mismatch, including a missing or
// malformed header, fails closed with ErrInvalidSignature.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return domain.ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
