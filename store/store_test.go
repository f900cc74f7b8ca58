package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("opening test database failed: %v", err)
	}
	return db
}

func TestFindOrCreateUserIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, err := FindOrCreateUser(ctx, db, "alice@example.org")
	if err != nil {
		t.Fatalf("FindOrCreateUser failed: %v", err)
	}
	second, err := FindOrCreateUser(ctx, db, "alice@example.org")
	if err != nil {
		t.Fatalf("repeated FindOrCreateUser failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same address produced two users: %d and %d", first.ID, second.ID)
	}

	var count int64
	if err := db.Model(&User{}).Count(&count).Error; err != nil {
		t.Fatalf("counting users failed: %v", err)
	}
	if count != 1 {
		t.Errorf("found %d user rows, want 1", count)
	}
}

func TestUserByEmail(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := FindOrCreateUser(ctx, db, "alice@example.org"); err != nil {
		t.Fatalf("FindOrCreateUser failed: %v", err)
	}

	user, err := UserByEmail(ctx, db, "alice@example.org")
	if err != nil {
		t.Fatalf("UserByEmail failed: %v", err)
	}
	if user.Email != "alice@example.org" {
		t.Errorf("got %q, want alice@example.org", user.Email)
	}

	if _, err := UserByEmail(ctx, db, "nobody@example.org"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("unknown address returned %v, want ErrRecordNotFound", err)
	}
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	if _, err := Open("oracle", "dsn", false); err == nil {
		t.Error("expected error for unregistered database type")
	}
}
