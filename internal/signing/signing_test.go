package signing

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	expires := time.Now().Add(time.Minute).UnixMilli()
	sig := Sign("secret", "uploads/u1/stems.zip", expires)

	if err := Verify("secret", "uploads/u1/stems.zip", expires, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	expires := time.Now().Add(time.Minute).UnixMilli()
	sig := Sign("secret", "uploads/u1/stems.zip", expires)

	if err := Verify("secret", "uploads/u2/stems.zip", expires, sig); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	expires := time.Now().Add(time.Minute).UnixMilli()
	sig := Sign("secret", "uploads/u1/stems.zip", expires)

	if err := Verify("other", "uploads/u1/stems.zip", expires, sig); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	expires := time.Now().Add(-time.Minute).UnixMilli()
	sig := Sign("secret", "uploads/u1/stems.zip", expires)

	if err := Verify("secret", "uploads/u1/stems.zip", expires, sig); err != ErrSignatureExpired {
		t.Fatalf("expected ErrSignatureExpired, got %v", err)
	}
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	expires := time.Now().Add(time.Minute).UnixMilli()

	if err := Verify("secret", "uploads/u1/stems.zip", expires, "not-hex"); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
