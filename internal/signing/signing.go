// Package signing implements the HMAC scheme behind short-lived upload
// URLs. The chat gateway signs; the storage backend serving /storage
// verifies with the shared secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature expired")
)

// payload is the canonical signed data. Format: key|expires.
func payload(key string, expires int64) []byte {
	return []byte(key + "|" + strconv.FormatInt(expires, 10))
}

// Sign returns the hex MAC over an object key and its expiry (Unix ms).
func Sign(secret, key string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload(key, expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and rejects expired URLs.
func Verify(secret, key string, expires int64, sig string) error {
	if time.Now().UnixMilli() > expires {
		return ErrSignatureExpired
	}

	expected, err := hex.DecodeString(Sign(secret, key, expires))
	if err != nil {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}
	return nil
}
