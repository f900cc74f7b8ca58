package flow

import (
	"context"
	"errors"
	"testing"
	"time"
)

// issueAndExtract runs the issuance flow and returns the mailed identifier.
func issueAndExtract(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	if err := env.issuer.IssueLink(context.Background(), email); err != nil {
		t.Fatalf("IssueLink failed: %v", err)
	}
	return tokenFromBody(t, env.mailer.last(t).Body)
}

func TestVerifyMintsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	identifier := issueAndExtract(t, env, "alice@example.org")

	value, err := env.verifier.Verify(ctx, identifier)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	email, err := env.codec.Authenticate(value)
	if err != nil {
		t.Fatalf("minted session does not authenticate: %v", err)
	}
	if email != "alice@example.org" {
		t.Errorf("session identity is %q, want alice@example.org", email)
	}
}

func TestVerifyCollapsesFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Unknown identifier.
	if _, err := env.verifier.Verify(ctx, "bogus"); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("Verify(unknown) returned %v, want ErrInvalidLink", err)
	}

	// Already consumed.
	identifier := issueAndExtract(t, env, "alice@example.org")
	if _, err := env.verifier.Verify(ctx, identifier); err != nil {
		t.Fatalf("first Verify failed: %v", err)
	}
	if _, err := env.verifier.Verify(ctx, identifier); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("Verify(consumed) returned %v, want ErrInvalidLink", err)
	}
}

func TestVerifyExpiredLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	identifier := issueAndExtract(t, env, "alice@example.org")

	// Age the token past its window.
	past := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := env.db.Table("login_tokens").
		Where("email = ?", "alice@example.org").
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("aging token failed: %v", err)
	}

	if _, err := env.verifier.Verify(ctx, identifier); !errors.Is(err, ErrInvalidLink) {
		t.Errorf("Verify(expired) returned %v, want ErrInvalidLink", err)
	}
}

func TestVerifyRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	identifier := issueAndExtract(t, env, "alice@example.org")
	if _, err := env.verifier.Verify(ctx, identifier); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	events, err := env.audits.Recent(ctx, "alice@example.org", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	var redeemed bool
	for _, e := range events {
		if e.Type == "auth.link.redeemed" && e.Status == "success" {
			redeemed = true
		}
	}
	if !redeemed {
		t.Errorf("no auth.link.redeemed event recorded: %+v", events)
	}
}
