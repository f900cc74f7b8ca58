package token

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lumenauth/lumen/store"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), false, &Token{})
	if err != nil {
		t.Fatalf("opening test database failed: %v", err)
	}
	// A single connection keeps sqlite from returning "database is locked"
	// under the concurrent redemption test.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return db
}

func TestIssueRedeemRoundTrip(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(identifier) < 40 {
		t.Errorf("identifier too short: %d chars", len(identifier))
	}

	email, err := ledger.Redeem(ctx, identifier)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if email != "alice@example.org" {
		t.Errorf("Redeem returned %q, want alice@example.org", email)
	}
}

func TestRedeemIsSingleUse(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := ledger.Redeem(ctx, identifier); err != nil {
		t.Fatalf("first Redeem failed: %v", err)
	}

	if _, err := ledger.Redeem(ctx, identifier); !errors.Is(err, ErrConsumed) {
		t.Errorf("second Redeem returned %v, want ErrConsumed", err)
	}
}

func TestRedeemUnknownIdentifier(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)

	if _, err := ledger.Redeem(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Redeem returned %v, want ErrNotFound", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	issued := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return issued })

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ledger.SetClock(func() time.Time { return issued.Add(15*time.Minute + time.Second) })
	if _, err := ledger.Redeem(ctx, identifier); !errors.Is(err, ErrExpired) {
		t.Errorf("Redeem returned %v, want ErrExpired", err)
	}

	// Expired is not consumed; the row stays diagnosable until purged.
	if _, err := ledger.Redeem(ctx, identifier); !errors.Is(err, ErrExpired) {
		t.Errorf("repeated Redeem returned %v, want ErrExpired", err)
	}
}

func TestRedeemWithinWindow(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	issued := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return issued })

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ledger.SetClock(func() time.Time { return issued.Add(15*time.Minute - time.Second) })
	if _, err := ledger.Redeem(ctx, identifier); err != nil {
		t.Errorf("Redeem just inside the window failed: %v", err)
	}
}

func TestConcurrentRedemption(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Redeem(ctx, identifier)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, consumed int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConsumed):
			consumed++
		default:
			t.Errorf("unexpected Redeem error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d redemptions succeeded, want exactly 1", succeeded)
	}
	if consumed != attempts-1 {
		t.Errorf("%d redemptions saw ErrConsumed, want %d", consumed, attempts-1)
	}
}

func TestRedeemRowConsumedOutOfBand(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db, 15*time.Minute)
	ctx := context.Background()

	identifier, err := ledger.Issue(ctx, "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Another replica consumed the token between our read and update.
	if err := db.Model(&Token{}).
		Where("token_hash = ?", Hash(identifier)).
		Update("consumed", true).Error; err != nil {
		t.Fatalf("flagging token failed: %v", err)
	}

	if _, err := ledger.Redeem(ctx, identifier); !errors.Is(err, ErrConsumed) {
		t.Errorf("Redeem returned %v, want ErrConsumed", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	ledger := NewLedger(testDB(t), 15*time.Minute)
	ctx := context.Background()

	issued := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return issued })

	if _, err := ledger.Issue(ctx, "old@example.org"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ledger.SetClock(func() time.Time { return issued.Add(20 * time.Minute) })
	fresh, err := ledger.Issue(ctx, "fresh@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	purged, err := ledger.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeExpired removed %d rows, want 1", purged)
	}

	if _, err := ledger.Redeem(ctx, fresh); err != nil {
		t.Errorf("fresh token no longer redeemable: %v", err)
	}
}

func TestHashNeverStoresIdentifier(t *testing.T) {
	db := testDB(t)
	ledger := NewLedger(db, 15*time.Minute)

	identifier, err := ledger.Issue(context.Background(), "alice@example.org")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var count int64
	if err := db.Model(&Token{}).Where("token_hash = ?", identifier).Count(&count).Error; err != nil {
		t.Fatalf("counting rows failed: %v", err)
	}
	if count != 0 {
		t.Error("identifier stored verbatim in token_hash column")
	}
	if err := db.Model(&Token{}).Where("token_hash = ?", Hash(identifier)).Count(&count).Error; err != nil {
		t.Fatalf("counting rows failed: %v", err)
	}
	if count != 1 {
		t.Errorf("found %d rows for hashed identifier, want 1", count)
	}
}
