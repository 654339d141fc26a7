// Copyright 2024 Canonical.

package keycrypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/canonical/keyturn/internal/errors"
)

// domainPattern is the shape a domain must have after normalization.
var domainPattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// kidPattern is the wire shape of a KID:
// DOMAIN-YYYYMMDD-HHMMSS-HEX8. The domain group is greedy so domains
// containing hyphens parse correctly.
var kidPattern = regexp.MustCompile(`^([A-Z0-9_-]+)-(\d{8})-(\d{6})-([A-F0-9]{8})$`)

// A KID holds the parsed components of a key identifier.
type KID struct {
	// Domain is the domain segment of the KID.
	Domain string

	// Date is the YYYYMMDD mint date segment.
	Date string

	// Time is the HHMMSS mint time segment.
	Time string

	// UniqueID is the 8 hex digit random nonce segment.
	UniqueID string
}

// String reassembles the KID into its wire form.
func (k KID) String() string {
	return k.Domain + "-" + k.Date + "-" + k.Time + "-" + k.UniqueID
}

// NormalizeDomain trims surrounding whitespace from the given domain,
// folds it to upper case and validates its shape. An error with a code
// of CodeBadRequest is returned for an empty or malformed domain.
func NormalizeDomain(domain string) (string, error) {
	const op = errors.Op("keycrypto.NormalizeDomain")

	d := strings.ToUpper(strings.TrimSpace(domain))
	if d == "" {
		return "", errors.E(op, errors.CodeBadRequest, "empty domain")
	}
	if !domainPattern.MatchString(d) {
		return "", errors.E(op, errors.CodeBadRequest, fmt.Sprintf("invalid domain %q", domain))
	}
	return d, nil
}

// mintKID builds a KID for the given normalized domain at the given
// time. Uniqueness is statistical: a 32-bit random nonce plus the
// second-resolution timestamp.
func mintKID(domain string, now time.Time) (string, error) {
	const op = errors.Op("keycrypto.MintKID")

	d, err := NormalizeDomain(domain)
	if err != nil {
		return "", errors.E(op, err)
	}
	var nonce [4]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", errors.E(op, errors.CodeCryptoFailure, err)
	}
	now = now.UTC()
	return fmt.Sprintf("%s-%s-%s-%s",
		d,
		now.Format("20060102"),
		now.Format("150405"),
		strings.ToUpper(hex.EncodeToString(nonce[:])),
	), nil
}

// parseKID splits a KID into its components. An error with a code of
// CodeBadRequest is returned if the KID does not have the expected
// shape.
func parseKID(kid string) (KID, error) {
	const op = errors.Op("keycrypto.ParseKID")

	m := kidPattern.FindStringSubmatch(kid)
	if m == nil {
		return KID{}, errors.E(op, errors.CodeBadRequest, fmt.Sprintf("invalid kid %q", kid))
	}
	return KID{
		Domain:   m[1],
		Date:     m[2],
		Time:     m[3],
		UniqueID: m[4],
	}, nil
}
