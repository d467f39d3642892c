package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/whoop-sleep-sync/internal/models"
)

const testSecret = "whoop-client-secret"

func referenceSignature(ts string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + string(body)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestComputeSignatureMatchesReference(t *testing.T) {
	body := []byte(`{"user_id":10129,"id":"ecfc6a15","type":"sleep.updated","trace_id":"d3c2"}`)
	ts := "1700000000000"

	got := ComputeSignature(ts, body, testSecret)
	assert.Equal(t, referenceSignature(ts, body, testSecret), got)
	assert.Equal(t, got, ComputeSignature(ts, body, testSecret))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"user_id":1,"id":"s1","type":"sleep.updated"}`)
	v := NewSignatureVerifier(testSecret)
	require.NoError(t, v.Verify(ComputeSignature("123", body, testSecret), "123", body))
}

func TestVerifyRejectsAnySingleByteMutation(t *testing.T) {
	body := []byte(`{"user_id":1,"id":"s1","type":"sleep.updated"}`)
	ts := "1700000000"
	sig := ComputeSignature(ts, body, testSecret)
	v := NewSignatureVerifier(testSecret)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		err := v.Verify(sig, ts, mutated)
		require.Error(t, err, "body byte %d", i)
		assert.True(t, errors.Is(err, models.ErrUnauthenticated))
	}
	for i := range ts {
		mutated := []byte(ts)
		mutated[i] ^= 0x01
		err := v.Verify(sig, string(mutated), body)
		assert.True(t, errors.Is(err, models.ErrUnauthenticated), "timestamp byte %d", i)
	}
}

func TestVerifyRejectsReserializedWhitespace(t *testing.T) {
	raw := []byte(`{"user_id": 1, "id": "s1", "type": "sleep.updated"}`)
	compact := []byte(`{"user_id":1,"id":"s1","type":"sleep.updated"}`)
	sig := ComputeSignature("1", raw, testSecret)

	v := NewSignatureVerifier(testSecret)
	assert.NoError(t, v.Verify(sig, "1", raw))
	assert.Error(t, v.Verify(sig, "1", compact))
}

func TestVerifyMissingHeaders(t *testing.T) {
	v := NewSignatureVerifier(testSecret)
	body := []byte(`{}`)

	assert.True(t, errors.Is(v.Verify("", "1", body), models.ErrUnauthenticated))
	assert.True(t, errors.Is(v.Verify("sig", "", body), models.ErrUnauthenticated))
}

func TestVerifyWithoutSecretIsMisconfigured(t *testing.T) {
	err := NewSignatureVerifier("").Verify("sig", "1", []byte(`{}`))
	assert.True(t, errors.Is(err, models.ErrMisconfigured))
}
