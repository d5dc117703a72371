/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package certpin

import (
	"bytes"
	"encoding/pem"
	"strings"
	"testing"
)

// A fixed EC certificate generated with openssl, so the expected digest
// below does not depend on this code base in any way:
//
//	openssl x509 -in cert.pem -pubkey -noout |
//	openssl pkey -pubin -outform DER |
//	openssl dgst -sha256
const pinnedTestCertificate = `-----BEGIN CERTIFICATE-----
MIIB5DCCAYugAwIBAgIUceQT1OYrjnavKesI6LfFyIaKb8UwCgYIKoZIzj0EAwIw
SDELMAkGA1UEBhMCU0UxGzAZBgNVBAoMEktvcHBhcmJlcmcgVGVzdCBBQjEcMBoG
A1UEAwwTcGlubmVkLnRlc3QuZXhhbXBsZTAeFw0yNjA4MjUwNzQ0MTBaFw00NjA4
MjAwNzQ0MTBaMEgxCzAJBgNVBAYTAlNFMRswGQYDVQQKDBJLb3BwYXJiZXJnIFRl
c3QgQUIxHDAaBgNVBAMME3Bpbm5lZC50ZXN0LmV4YW1wbGUwWTATBgcqhkjOPQIB
BggqhkjOPQMBBwNCAAScfjA80BJ9HVbhEek3fXLXz2KZuyOLFES/8kqhLCKnGpvj
pXlRpwzVKcvzxDLd756wSULUuVwNwy52uEgrMBXfo1MwUTAdBgNVHQ4EFgQU7t5D
55XNrpvINHcDunlkD56ODa8wHwYDVR0jBBgwFoAU7t5D55XNrpvINHcDunlkD56O
Da8wDwYDVR0TAQH/BAUwAwEB/zAKBggqhkjOPQQDAgNHADBEAiBs4G9KTIw3ftyz
05lyqc5d7xfT/cVrbeENuMP9juhJZgIgXbYGc6SxxsR/iLzEt9l8myFKacdT1iHm
Dug7AU/dQzA=
-----END CERTIFICATE-----`

const pinnedTestFingerprint = "7732fb0b5969bd72969b2ed2b33984865ba23b1b03381630b533de1ab18575b7"

// Offsets from an asn1parse dump of the same certificate: the subject
// public key info sits at offset 227 with a 2 octet header and 89
// content octets.
const (
	pinnedTestSPKIOffset = 227
	pinnedTestSPKILength = 91
)

func knownVectorDER(t *testing.T) []byte {
	block, _ := pem.Decode([]byte(pinnedTestCertificate))
	if block == nil {
		t.Fatal("failed to decode the test certificate PEM")
	}
	return block.Bytes
}

func TestKnownVectorDigest(t *testing.T) {
	fp, err := HashFromDER(knownVectorDER(t))
	must(err, t)

	shouldEqualString(fp.Hex(), pinnedTestFingerprint, "hex digest", t)
	shouldEqualString(fp.String(), pinnedTestFingerprint, "string form", t)
	shouldEqualString(fp.Base64(), "dzL7C1lpvXKWmy7SszmEhluiOxsDOBYwtTPeGrGFdbc=", "base64 form", t)
}

func TestKnownVectorSpan(t *testing.T) {
	der := knownVectorDER(t)

	spki, err := SubjectPublicKeyInfo(der)
	must(err, t)
	shouldEqualBytes(spki, der[pinnedTestSPKIOffset:pinnedTestSPKIOffset+pinnedTestSPKILength], "span", t)

	// The span is a view into the input, not a copy
	if &spki[0] != &der[pinnedTestSPKIOffset] {
		t.Error("span does not alias the input buffer")
	}
}

func TestFingerprintMatchesCryptoX509(t *testing.T) {
	cert, der := generateCertificate(t, newECKey(t))

	fp, err := HashFromDER(der)
	must(err, t)
	if !fp.Equal(FromCertificate(cert)) {
		t.Errorf("fingerprint: got %s, want %s", fp, FromCertificate(cert))
	}

	again, err := HashFromDER(der)
	must(err, t)
	if fp != again {
		t.Error("two digests of the same certificate differ")
	}
}

func TestFingerprintStableAcrossRenewal(t *testing.T) {
	// Reissuing a certificate for the same key pair must not change
	// the fingerprint, that is the point of pinning the key instead of
	// the certificate
	key := newECKey(t)
	_, der1 := generateCertificate(t, key)
	_, der2 := generateCertificate(t, key)

	if bytes.Equal(der1, der2) {
		t.Fatal("expected two distinct certificates")
	}

	fp1, err := HashFromDER(der1)
	must(err, t)
	fp2, err := HashFromDER(der2)
	must(err, t)

	if !fp1.Equal(fp2) {
		t.Errorf("fingerprint changed when the certificate was reissued: %s != %s", fp1, fp2)
	}
}

func TestFingerprintDistinguishesKeys(t *testing.T) {
	_, der1 := generateCertificate(t, newECKey(t))
	_, der2 := generateCertificate(t, newECKey(t))

	fp1, err := HashFromDER(der1)
	must(err, t)
	fp2, err := HashFromDER(der2)
	must(err, t)

	if fp1.Equal(fp2) {
		t.Error("distinct keys produced the same fingerprint")
	}
}

func TestEmptyMessageDigest(t *testing.T) {
	fp := NewFingerprint(nil)
	shouldEqualString(fp.Hex(), "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"empty message digest", t)
}

func TestParseFingerprint(t *testing.T) {
	fp, err := ParseFingerprint(pinnedTestFingerprint)
	must(err, t)
	shouldEqualString(fp.Hex(), pinnedTestFingerprint, "round trip", t)

	upper, err := ParseFingerprint(strings.ToUpper(pinnedTestFingerprint))
	must(err, t)
	if !upper.Equal(fp) {
		t.Error("uppercase digits changed the parsed fingerprint")
	}

	// openssl dgst prints colon separated uppercase pairs
	var b strings.Builder
	for i := 0; i < len(pinnedTestFingerprint); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strings.ToUpper(pinnedTestFingerprint[i : i+2]))
	}
	colons, err := ParseFingerprint(b.String())
	must(err, t)
	if !colons.Equal(fp) {
		t.Error("colon separators changed the parsed fingerprint")
	}
}

func TestParseFingerprintRejectsBadInput(t *testing.T) {
	if _, err := ParseFingerprint("abcd"); err == nil {
		t.Error("short fingerprint accepted")
	}
	if _, err := ParseFingerprint("zz" + pinnedTestFingerprint[2:]); err == nil {
		t.Error("non hex fingerprint accepted")
	}
	if _, err := ParseFingerprint(pinnedTestFingerprint + "00"); err == nil {
		t.Error("overlong fingerprint accepted")
	}
}
