package dkim

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Verify checks a DKIM-Signature header value against the message it claims
// to sign and the signer's public key. Receivers normally resolve the key via
// DNS; callers here supply it directly.
func Verify(headers []Header, body, sigValue string, pub *rsa.PublicKey) error {
	tags := parseTags(sigValue)

	if tags["v"] != "1" {
		return fmt.Errorf("dkim: unsupported version %q", tags["v"])
	}
	if tags["a"] != "rsa-sha256" {
		return fmt.Errorf("dkim: unsupported algorithm %q", tags["a"])
	}

	wantBodyHash, err := base64.StdEncoding.DecodeString(tags["bh"])
	if err != nil {
		return fmt.Errorf("dkim: malformed bh tag: %w", err)
	}
	bodyHash := sha256.Sum256([]byte(CanonicalBody(body)))
	if subtle.ConstantTimeCompare(bodyHash[:], wantBodyHash) != 1 {
		return fmt.Errorf("dkim: body hash mismatch")
	}

	signed, err := selectHeaders(headers, strings.Split(tags["h"], ":"))
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(tags["b"])
	if err != nil {
		return fmt.Errorf("dkim: malformed b tag: %w", err)
	}

	// The b= tag value is excluded from the signed data. Base64 never
	// contains ';', so the tag boundary is unambiguous.
	unsigned := ""
	parts := strings.Split(sigValue, ";")
	for i, part := range parts {
		if strings.HasPrefix(strings.TrimSpace(part), "b=") {
			prefix := strings.Join(parts[:i], ";")
			if i > 0 {
				prefix += ";"
			}
			unsigned = prefix + part[:strings.Index(part, "b=")+2]
			break
		}
	}
	if unsigned == "" {
		return fmt.Errorf("dkim: missing b tag")
	}

	digest := headerDigest(signed, unsigned)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
		return fmt.Errorf("dkim: signature verification failed: %w", err)
	}
	return nil
}

// selectHeaders resolves the h= tag names against the actual message headers,
// preserving the signed order.
func selectHeaders(headers []Header, names []string) ([]Header, error) {
	out := make([]Header, 0, len(names))
	for _, name := range names {
		found := false
		for _, h := range headers {
			if strings.EqualFold(h.Name, name) {
				out = append(out, h)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("dkim: signed header %q missing from message", name)
		}
	}
	return out, nil
}

func parseTags(value string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return tags
}
