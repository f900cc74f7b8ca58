package flow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lumenauth/lumen/audit"
	"github.com/lumenauth/lumen/session"
	"github.com/lumenauth/lumen/token"
)

// ErrInvalidLink is the only redemption failure ever surfaced outward.
// Whether the token was unknown, expired, or already consumed is logged
// server-side but deliberately not distinguishable by the client.
var ErrInvalidLink = errors.New("flow: invalid or expired link")

// Verifier redeems magic-link tokens and mints session cookies.
type Verifier struct {
	ledger *token.Ledger
	codec  *session.Codec
	audits *audit.Store
	log    *zap.Logger
}

// NewVerifier wires the redemption flow.
func NewVerifier(ledger *token.Ledger, codec *session.Codec, audits *audit.Store, log *zap.Logger) *Verifier {
	return &Verifier{
		ledger: ledger,
		codec:  codec,
		audits: audits,
		log:    log,
	}
}

// Verify consumes the presented identifier and, on success, returns the
// session cookie value for the owning identity.
func (v *Verifier) Verify(ctx context.Context, identifier string) (string, error) {
	email, err := v.ledger.Redeem(ctx, identifier)
	if err != nil {
		hashPrefix := token.Hash(identifier)[:8]
		switch {
		case errors.Is(err, token.ErrNotFound):
			v.log.Info("redemption rejected", zap.String("reason", "not_found"), zap.String("token_hash", hashPrefix))
		case errors.Is(err, token.ErrExpired):
			v.log.Info("redemption rejected", zap.String("reason", "expired"), zap.String("token_hash", hashPrefix))
		case errors.Is(err, token.ErrConsumed):
			v.log.Info("redemption rejected", zap.String("reason", "already_consumed"), zap.String("token_hash", hashPrefix))
		default:
			v.log.Error("redemption failed", zap.Error(err))
		}
		v.recordAudit(ctx, "", "auth.link.rejected", "failure", err.Error())
		return "", ErrInvalidLink
	}

	value, err := v.codec.Mint(email)
	if err != nil {
		v.log.Error("session mint failed", zap.Error(err))
		return "", ErrInvalidLink
	}

	v.recordAudit(ctx, email, "auth.link.redeemed", "success", "")
	v.log.Info("magic link redeemed", zap.String("email", email))
	return value, nil
}

func (v *Verifier) recordAudit(ctx context.Context, subject, eventType, status, message string) {
	if v.audits == nil {
		return
	}
	err := v.audits.Record(ctx, &audit.Event{
		Type:      eventType,
		SubjectID: subject,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		v.log.Warn("audit record failed", zap.Error(err))
	}
}
