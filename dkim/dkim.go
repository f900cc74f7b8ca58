// Package dkim implements DKIM signing (RFC 6376) for outbound mail.
//
// The signer is a pure transform: given the message headers, the body, and an
// RSA private key, it produces the value of a DKIM-Signature header. It uses
// relaxed/relaxed canonicalization with rsa-sha256, the combination accepted
// by every major receiver. No I/O is performed; the clock is injectable so
// signatures are reproducible in tests.
package dkim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Header is a single message header field, in wire order.
type Header struct {
	Name  string
	Value string
}

// Signer produces DKIM-Signature header values for a fixed domain, selector
// and key. It is safe for concurrent use; all fields are read-only after
// construction.
type Signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
	now      func() time.Time
}

// NewSigner parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8) and
// returns a Signer for the given domain and selector.
func NewSigner(pemKey []byte, domain, selector string) (*Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("dkim: no PEM block in key material")
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("dkim: key is %T, want RSA", k)
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("dkim: malformed private key: %w", err)
	}

	if domain == "" || selector == "" {
		return nil, fmt.Errorf("dkim: domain and selector are required")
	}

	return &Signer{
		key:      key,
		domain:   domain,
		selector: selector,
		now:      time.Now,
	}, nil
}

// SetClock overrides the timestamp source used for the t= tag.
func (s *Signer) SetClock(now func() time.Time) { s.now = now }

// Sign computes the DKIM-Signature header value for the given headers and
// body. Every header passed in is included in the h= tag, in order. The
// returned value does not include the "DKIM-Signature:" field name.
func (s *Signer) Sign(headers []Header, body string) (string, error) {
	if len(headers) == 0 {
		return "", fmt.Errorf("dkim: at least one header must be signed")
	}
	if !utf8.ValidString(body) {
		return "", fmt.Errorf("dkim: body is not valid UTF-8")
	}
	for _, h := range headers {
		if !utf8.ValidString(h.Name) || !utf8.ValidString(h.Value) {
			return "", fmt.Errorf("dkim: header %q is not valid UTF-8", h.Name)
		}
		if strings.ContainsAny(h.Name, ":; \t") {
			return "", fmt.Errorf("dkim: invalid header name %q", h.Name)
		}
	}

	bodyHash := sha256.Sum256([]byte(CanonicalBody(body)))
	bh := base64.StdEncoding.EncodeToString(bodyHash[:])

	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = strings.ToLower(h.Name)
	}

	unsigned := fmt.Sprintf(
		"v=1; a=rsa-sha256; c=relaxed/relaxed; d=%s; s=%s; t=%d; h=%s; bh=%s; b=",
		s.domain, s.selector, s.now().Unix(), strings.Join(names, ":"), bh,
	)

	digest := headerDigest(headers, unsigned)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest)
	if err != nil {
		return "", fmt.Errorf("dkim: signing failed: %w", err)
	}

	return unsigned + base64.StdEncoding.EncodeToString(sig), nil
}

// headerDigest hashes the canonicalized signed headers followed by the
// DKIM-Signature field itself with an empty b= tag, per RFC 6376 §3.7.
func headerDigest(headers []Header, sigValue string) []byte {
	h := sha256.New()
	for _, hdr := range headers {
		h.Write([]byte(CanonicalHeader(hdr.Name, hdr.Value)))
		h.Write([]byte("\r\n"))
	}
	// The signature header is hashed without a trailing CRLF.
	h.Write([]byte(CanonicalHeader("DKIM-Signature", sigValue)))
	return h.Sum(nil)
}

// CanonicalHeader applies relaxed header canonicalization: the field name is
// lowercased, folding is removed, runs of whitespace collapse to a single
// space, and surrounding whitespace is trimmed.
func CanonicalHeader(name, value string) string {
	value = strings.ReplaceAll(value, "\r\n", "")
	value = collapseWSP(value)
	return strings.ToLower(name) + ":" + strings.TrimSpace(value)
}

// CanonicalBody applies relaxed body canonicalization: line endings become
// CRLF, trailing whitespace is stripped from each line, interior whitespace
// runs collapse to a single space, and trailing empty lines are removed.
func CanonicalBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(collapseWSP(line), " ")
	}

	// Ignore empty lines at the end of the body.
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	if end == 0 {
		return ""
	}
	return strings.Join(lines[:end], "\r\n") + "\r\n"
}

func collapseWSP(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
