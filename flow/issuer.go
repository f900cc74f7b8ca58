// Package flow implements the magic-link login flows: issuing signed link
// emails and redeeming presented tokens for sessions.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenauth/lumen/audit"
	"github.com/lumenauth/lumen/dkim"
	"github.com/lumenauth/lumen/mail"
	"github.com/lumenauth/lumen/store"
	"github.com/lumenauth/lumen/token"
)

var (
	// ErrRateLimited means a link was already issued for this address
	// within the resend window.
	ErrRateLimited = errors.New("flow: link recently issued for this address")
	// ErrInvalidEmail means the address failed validation.
	ErrInvalidEmail = errors.New("flow: invalid email address")
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether the address has the shape of an email address.
func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// Issuer creates magic-link tokens and sends the signed login email.
type Issuer struct {
	db           *gorm.DB
	ledger       *token.Ledger
	signer       *dkim.Signer
	mailer       mail.Mailer
	limiter      RateLimiter
	audits       *audit.Store
	log          *zap.Logger
	baseURL      string
	from         string
	resendWindow time.Duration
	now          func() time.Time
}

// NewIssuer wires the issuance flow.
func NewIssuer(db *gorm.DB, ledger *token.Ledger, signer *dkim.Signer, mailer mail.Mailer, limiter RateLimiter, audits *audit.Store, log *zap.Logger, baseURL, from string, resendWindow time.Duration) *Issuer {
	return &Issuer{
		db:           db,
		ledger:       ledger,
		signer:       signer,
		mailer:       mailer,
		limiter:      limiter,
		audits:       audits,
		log:          log,
		baseURL:      baseURL,
		from:         from,
		resendWindow: resendWindow,
		now:          time.Now,
	}
}

// IssueLink mints a token for the address and sends the magic-link email.
// The token stays valid even if mail delivery fails: the address owner can
// retry, and redemption is what matters, not delivery confirmation.
func (i *Issuer) IssueLink(ctx context.Context, email string) error {
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}

	allowed, err := i.limiter.Allow(ctx, "issue:"+email, 1, i.resendWindow)
	if err != nil {
		// Fail closed: issuing without the guard would allow mail floods.
		return fmt.Errorf("flow: rate limit check failed: %w", err)
	}
	if !allowed {
		return ErrRateLimited
	}

	if _, err := store.FindOrCreateUser(ctx, i.db, email); err != nil {
		return fmt.Errorf("flow: resolving user: %w", err)
	}

	identifier, err := i.ledger.Issue(ctx, email)
	if err != nil {
		return err
	}

	link := i.baseURL + "/auth/verify?token=" + url.QueryEscape(identifier)
	subject := "Your login link"
	body := fmt.Sprintf(
		"Click the link below to sign in:\n\n%s\n\nThe link can be used once and expires soon. If you did not request it, ignore this email.\n",
		link,
	)

	date := i.now().UTC().Format(time.RFC1123Z)
	headers := []dkim.Header{
		{Name: "From", Value: i.from},
		{Name: "To", Value: email},
		{Name: "Subject", Value: subject},
		{Name: "Date", Value: date},
	}

	signature, err := i.signer.Sign(headers, body)
	if err != nil {
		// The email must not go out unsigned.
		i.log.Error("dkim signing failed", zap.Error(err))
		return err
	}

	i.recordAudit(ctx, email, "auth.link.issued", "success", "")

	extra := map[string]string{
		"Date":           date,
		"DKIM-Signature": signature,
	}
	if err := i.mailer.Send(ctx, i.from, email, subject, body, extra); err != nil {
		// The token is already issued and stays redeemable; surface the
		// transport failure without rolling back.
		i.log.Error("mail delivery failed", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("flow: mail delivery failed: %w", err)
	}

	i.log.Info("magic link issued", zap.String("email", email))
	return nil
}

func (i *Issuer) recordAudit(ctx context.Context, subject, eventType, status, message string) {
	if i.audits == nil {
		return
	}
	err := i.audits.Record(ctx, &audit.Event{
		Type:      eventType,
		SubjectID: subject,
		Status:    status,
		Message:   message,
	})
	if err != nil {
		i.log.Warn("audit record failed", zap.Error(err))
	}
}
