package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

// Header names WHOOP signs webhook deliveries with.
const (
	SignatureHeader = "X-WHOOP-Signature"
	TimestampHeader = "X-WHOOP-Signature-Timestamp"
)

// SignatureVerifier authenticates webhook deliveries against the shared secret.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// ComputeSignature returns base64(HMAC-SHA256(secret, timestamp || body)).
func ComputeSignature(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature over the raw transport bytes. The body must be
// exactly what was received, never a re-serialization of a parsed value.
//
// Returns models.ErrMisconfigured when no secret is set and
// models.ErrUnauthenticated when a header is absent or the digest differs.
func (v *SignatureVerifier) Verify(signature, timestamp string, body []byte) error {
	if v == nil || len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", models.ErrMisconfigured)
	}
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return fmt.Errorf("%w: missing signature", models.ErrUnauthenticated)
	}

	expected := ComputeSignature(timestamp, body, string(v.secret))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("%w: invalid signature", models.ErrUnauthenticated)
	}
	return nil
}
