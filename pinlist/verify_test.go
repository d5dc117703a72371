/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pinlist

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

func sampleList() *PinList {
	description := "Account synchronization API"
	return &PinList{
		CacheTTL: 3600,
		Hosts: []Host{
			{
				Name:        "api.pinned.test.example",
				Description: &description,
				Pins:        []Pin{{Alg: "sha256", Digest: testDigest}},
			},
		},
	}
}

// signList signs a pin list the way a list operator would and returns
// the signed JWS together with the operator's public JWKS.
func signList(t *testing.T, list *PinList, exp time.Time) ([]byte, []byte) {
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	must(err, t)

	key, err := jwk.FromRaw(raw)
	must(err, t)
	must(key.Set(jwk.KeyIDKey, "pin-list-signing-1"), t)

	payload, err := json.Marshal(list)
	must(err, t)

	headers := jws.NewHeaders()
	if !exp.IsZero() {
		must(headers.Set("exp", exp.Unix()), t)
	}

	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256, key, jws.WithProtectedHeaders(headers)))
	must(err, t)

	public, err := jwk.PublicKeyOf(key)
	must(err, t)
	set := jwk.NewSet()
	must(set.AddKey(public), t)

	jwks, err := json.Marshal(set)
	must(err, t)

	return signed, jwks
}

func TestVerifyRoundTrip(t *testing.T) {
	signed, jwks := signList(t, sampleList(), time.Now().Add(time.Hour))

	list, err := verify(signed, jwks)
	must(err, t)

	if list.CacheTTL != 3600 {
		t.Errorf("cache_ttl: got %d, want 3600", list.CacheTTL)
	}

	fps := list.Fingerprints("api.pinned.test.example")
	if len(fps) != 1 {
		t.Fatalf("fingerprints: got %d, want 1", len(fps))
	}
	shouldEqualString(fps[0].Hex(), testDigest, "digest", t)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signed, _ := signList(t, sampleList(), time.Now().Add(time.Hour))
	_, otherJWKS := signList(t, sampleList(), time.Now().Add(time.Hour))

	if _, err := verify(signed, otherJWKS); err == nil {
		t.Error("signature from an unknown key accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	signed, jwks := signList(t, sampleList(), time.Now().Add(-time.Hour))

	if _, err := verify(signed, jwks); err == nil {
		t.Error("expired pin list accepted")
	}
}

func TestVerifyWithoutExpiry(t *testing.T) {
	signed, jwks := signList(t, sampleList(), time.Time{})

	_, err := verify(signed, jwks)
	must(err, t)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, jwks := signList(t, sampleList(), time.Time{})

	if _, err := verify([]byte("not a jws at all"), jwks); err == nil {
		t.Error("garbage accepted")
	}
	if _, err := verify(nil, jwks); err == nil {
		t.Error("empty input accepted")
	}
}

func TestVerifyRejectsBadJWKS(t *testing.T) {
	signed, _ := signList(t, sampleList(), time.Time{})

	if _, err := verify(signed, []byte("{")); err == nil {
		t.Error("broken JWKS accepted")
	}
}
