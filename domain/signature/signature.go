// Package signature provides pure HMAC signing and verification for gateway
// payloads. Verification always runs over the raw, unparsed bytes: decoding
// JSON first and re-encoding invalidates the signature.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of a payload.
// This is a PURE function, used for building test fixtures and outbound calls.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex-encoded HMAC-SHA256 signature over raw payload bytes
// using constant-time comparison. This is a PURE function.
func Verify(payload []byte, sig, secret string) bool {
	if sig == "" || secret == "" {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(sig), []byte(expected))
}

// VerifyPayment checks the client-side payment confirmation signature:
// HMAC-SHA256 over "subscriptionID|paymentID" with the gateway key secret.
// This is a PURE function.
func VerifyPayment(subscriptionID, paymentID, sig, secret string) bool {
	if subscriptionID == "" || paymentID == "" {
		return false
	}
	return Verify([]byte(subscriptionID+"|"+paymentID), sig, secret)
}
