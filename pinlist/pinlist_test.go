/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pinlist

import (
	"encoding/json"
	"reflect"
	"testing"
)

const testDigest = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const minimalHost string = `{
	"name": "api.pinned.test.example",
	"pins": []
}`

const hostWithDescription string = `{
	"name": "api.pinned.test.example",
	"description": "Account synchronization API",
	"pins": [
		{"alg": "sha256", "digest": "` + testDigest + `"}
	]
}`

const legacyPin string = `{"name": "sha256", "value": "` + testDigest + `"}`

func must(err error, t *testing.T) {
	if err != nil {
		t.Fatalf("%v", err)
	}
}

func shouldEqualString(got, want, context string, t *testing.T) {
	if got != want {
		t.Errorf("%s: got: %s, want: %s", context, got, want)
	}
}

func shouldBeNil(p interface{}, context string, t *testing.T) {
	if reflect.ValueOf(p).Type().Kind() != reflect.Ptr {
		t.Errorf("%s: didn't get a pointer", context)
		return
	}
	if !reflect.ValueOf(p).IsNil() {
		t.Errorf("%s: expected nil", context)
	}
}

func mustNotBeNil(p interface{}, context string, t *testing.T) {
	if reflect.ValueOf(p).Type().Kind() != reflect.Ptr {
		t.Fatalf("%s: didn't get a pointer", context)
	}

	if reflect.ValueOf(p).IsNil() {
		t.Fatalf("%s: got nil", context)
	}
}

func TestUnmarshalMinimalHost(t *testing.T) {
	var h Host
	must(json.Unmarshal([]byte(minimalHost), &h), t)

	shouldEqualString(h.Name, "api.pinned.test.example", "name", t)
	shouldBeNil(h.Description, "description", t)
}

func TestUnmarshalHostWithDescription(t *testing.T) {
	var h Host
	must(json.Unmarshal([]byte(hostWithDescription), &h), t)

	mustNotBeNil(h.Description, "description", t)
	shouldEqualString(*h.Description, "Account synchronization API", "description", t)

	if len(h.Pins) != 1 {
		t.Fatalf("pins: got %d, want 1", len(h.Pins))
	}
	shouldEqualString(h.Pins[0].Alg, "sha256", "alg", t)
	shouldEqualString(h.Pins[0].Digest, testDigest, "digest", t)
}

func TestUnmarshalLegacyPin(t *testing.T) {
	var p Pin
	must(json.Unmarshal([]byte(legacyPin), &p), t)

	shouldEqualString(p.Alg, "sha256", "alg", t)
	shouldEqualString(p.Digest, testDigest, "digest", t)
}

func TestUnmarshalIncompletePin(t *testing.T) {
	var p Pin
	if err := json.Unmarshal([]byte(`{"alg": "sha256"}`), &p); err == nil {
		t.Error("pin without digest accepted")
	}
	if err := json.Unmarshal([]byte(`{"digest": "`+testDigest+`"}`), &p); err == nil {
		t.Error("pin without alg accepted")
	}
}

func TestPinFingerprint(t *testing.T) {
	fp, err := Pin{Alg: "sha256", Digest: testDigest}.Fingerprint()
	must(err, t)
	shouldEqualString(fp.Hex(), testDigest, "digest", t)

	// openssl spells the algorithm in capitals
	_, err = Pin{Alg: "SHA256", Digest: testDigest}.Fingerprint()
	must(err, t)

	if _, err := (Pin{Alg: "sha1", Digest: testDigest}).Fingerprint(); err == nil {
		t.Error("sha1 pin accepted")
	}
	if _, err := (Pin{Alg: "sha256", Digest: "tooshort"}).Fingerprint(); err == nil {
		t.Error("bad digest accepted")
	}
}

func TestFingerprintsLookup(t *testing.T) {
	list := PinList{
		Hosts: []Host{
			{
				Name: "api.pinned.test.example",
				Pins: []Pin{
					{Alg: "sha256", Digest: testDigest},
					{Alg: "sha3-256", Digest: testDigest}, // not understood, skipped
				},
			},
			{
				Name: "other.example",
				Pins: []Pin{{Alg: "sha256", Digest: testDigest}},
			},
		},
	}

	fps := list.Fingerprints("api.pinned.test.example")
	if len(fps) != 1 {
		t.Fatalf("fingerprints: got %d, want 1", len(fps))
	}
	shouldEqualString(fps[0].Hex(), testDigest, "digest", t)

	// Host names compare case insensitively
	if len(list.Fingerprints("API.Pinned.Test.Example")) != 1 {
		t.Error("case sensitive host lookup")
	}

	if list.Fingerprints("absent.example") != nil {
		t.Error("expected nil for an unknown host")
	}
}
