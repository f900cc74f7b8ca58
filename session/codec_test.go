package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestMintAuthenticateRoundTrip(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	value, err := codec.Mint("alice@example.org")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	email, err := codec.Authenticate(value)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if email != "alice@example.org" {
		t.Errorf("Authenticate returned %q, want alice@example.org", email)
	}
}

func TestAuthenticateLifetimeBoundary(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	minted := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	codec.SetClock(func() time.Time { return minted })

	value, err := codec.Mint("alice@example.org")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	codec.SetClock(func() time.Time { return minted.Add(time.Hour - time.Second) })
	if _, err := codec.Authenticate(value); err != nil {
		t.Errorf("Authenticate just inside lifetime failed: %v", err)
	}

	codec.SetClock(func() time.Time { return minted.Add(time.Hour + time.Second) })
	if _, err := codec.Authenticate(value); !errors.Is(err, ErrExpired) {
		t.Errorf("Authenticate past lifetime returned %v, want ErrExpired", err)
	}
}

func TestAuthenticateRejectsTampering(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	value, err := codec.Mint("alice@example.org")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	// Flip one character in the payload segment.
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", value)
	}
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := codec.Authenticate(tampered); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Authenticate(tampered) returned %v, want ErrBadSignature", err)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	minter, err := NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	other, err := NewCodec("ffffffffffffffffffffffffffffffff", time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	value, err := minter.Mint("alice@example.org")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := other.Authenticate(value); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Authenticate with wrong secret returned %v, want ErrBadSignature", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	codec, err := NewCodec(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	for _, value := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := codec.Authenticate(value); !errors.Is(err, ErrBadSignature) {
			t.Errorf("Authenticate(%q) returned %v, want ErrBadSignature", value, err)
		}
	}
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	if _, err := NewCodec("too-short", time.Hour); err == nil {
		t.Error("expected error for short secret")
	}
}
