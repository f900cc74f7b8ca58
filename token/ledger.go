// Package token implements the magic-link token ledger.
//
// The ledger is the security boundary of the login flow: identifiers are
// high-entropy single-use secrets, only their SHA-256 hash is persisted, and
// consumption is a single conditional UPDATE so that at most one redemption
// can ever succeed per token, even under concurrent callers.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PurposeLogin tags tokens minted for magic-link login. Other purposes may
// share the table later.
const PurposeLogin = "login"

var (
	// ErrNotFound means no token row matches the presented identifier.
	ErrNotFound = errors.New("token: not found")
	// ErrExpired means the token exists but its validity window has passed.
	ErrExpired = errors.New("token: expired")
	// ErrConsumed means the token was already redeemed.
	ErrConsumed = errors.New("token: already consumed")
)

// Token is one outstanding authentication attempt. The identifier itself is
// never stored; TokenHash is the hex SHA-256 of it.
type Token struct {
	TokenHash string    `gorm:"primaryKey"`
	Email     string    `gorm:"index;not null"`
	Purpose   string    `gorm:"index;not null"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	Consumed  bool      `gorm:"not null"`
}

func (Token) TableName() string { return "login_tokens" }

// Ledger issues and redeems magic-link tokens against the database.
type Ledger struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewLedger creates a Ledger with the given token validity window.
func NewLedger(db *gorm.DB, ttl time.Duration) *Ledger {
	return &Ledger{db: db, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Issue mints a fresh identifier for the given address and persists its hash.
// The returned identifier is the only copy; it goes into the magic link and
// cannot be recovered from the ledger.
func (l *Ledger) Issue(ctx context.Context, email string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token: generating identifier: %w", err)
	}
	identifier := base64.RawURLEncoding.EncodeToString(raw)

	now := l.now().UTC()
	row := &Token{
		TokenHash: Hash(identifier),
		Email:     email,
		Purpose:   PurposeLogin,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
		Consumed:  false,
	}
	if err := l.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("token: persisting token: %w", err)
	}
	return identifier, nil
}

// Redeem consumes the token for the presented identifier and returns the
// owning address. The consume is a conditional UPDATE guarded on the consumed
// flag and the expiry, so two concurrent redemptions of the same identifier
// cannot both succeed.
func (l *Ledger) Redeem(ctx context.Context, identifier string) (string, error) {
	hash := Hash(identifier)
	now := l.now().UTC()

	// Read before the consume so the email survives even if the sweep
	// deletes the row right after the UPDATE lands.
	var row Token
	err := l.db.WithContext(ctx).Where("token_hash = ?", hash).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("token: looking up token: %w", err)
	}

	res := l.db.WithContext(ctx).Model(&Token{}).
		Where("token_hash = ? AND consumed = ? AND expires_at > ?", hash, false, now).
		Update("consumed", true)
	if res.Error != nil {
		return "", fmt.Errorf("token: consuming token: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Diagnose for server-side logging only; callers collapse these
		// before anything reaches a client.
		switch {
		case row.Consumed:
			return "", ErrConsumed
		case !row.ExpiresAt.After(now):
			return "", ErrExpired
		default:
			// A concurrent redemption won between the read and the update.
			return "", ErrConsumed
		}
	}

	return row.Email, nil
}

// PurgeExpired deletes rows whose validity window has passed. This is a
// best-effort sweep; Redeem evaluates expiry itself, so correctness never
// depends on it running.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("expires_at <= ?", l.now().UTC()).
		Delete(&Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("token: purging expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Hash returns the hex SHA-256 of an identifier. Identifiers carry 256 bits
// of entropy, so a plain hash (rather than a slow KDF) is sufficient to make
// the stored value useless to an attacker with database access.
func Hash(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
