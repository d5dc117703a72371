/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package certpin

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// A Fingerprint is the SHA256 digest of a certificate's Subject Public
// Key Info, the quantity that stays stable across certificate renewals
// as long as the key pair is kept.
type Fingerprint [sha256.Size]byte

// NewFingerprint digests the given bytes.
func NewFingerprint(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

// FromCertificate returns the fingerprint of an already parsed
// certificate's Subject Public Key Info.
func FromCertificate(cert *x509.Certificate) Fingerprint {
	return NewFingerprint(cert.RawSubjectPublicKeyInfo)
}

// Hex renders the fingerprint as lowercase hex.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// Base64 renders the fingerprint in the base64 form used by RFC 7469
// pin directives.
func (f Fingerprint) Base64() string {
	return base64.StdEncoding.EncodeToString(f[:])
}

// Equal compares two fingerprints in constant time.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return subtle.ConstantTimeCompare(f[:], other[:]) == 1
}

// ParseFingerprint parses a hex rendered fingerprint. Uppercase digits
// and colon separators as printed by openssl are accepted.
func ParseFingerprint(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(strings.ToLower(strings.ReplaceAll(s, ":", "")))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("certpin: invalid fingerprint %q: %v", s, err)
	}
	if len(raw) != sha256.Size {
		return Fingerprint{}, fmt.Errorf("certpin: fingerprint is %d bytes, expected %d", len(raw), sha256.Size)
	}

	var f Fingerprint
	copy(f[:], raw)
	return f, nil
}

// HashFromDER computes the pinning fingerprint of a DER encoded X.509
// certificate. The digest covers the complete subjectPublicKeyInfo
// encoding, identifier and length octets included, matching what
// crypto/x509 exposes as RawSubjectPublicKeyInfo.
func HashFromDER(der []byte) (Fingerprint, error) {
	spki, err := SubjectPublicKeyInfo(der)
	if err != nil {
		return Fingerprint{}, err
	}
	return NewFingerprint(spki), nil
}
