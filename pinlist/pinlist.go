/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pinlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joesiltberg/certpin"
)

// Pin is an RFC 7469 style pin directive (digest of a public key)
type Pin struct {
	Alg    string `json:"alg"`
	Digest string `json:"digest"`
}

// UnmarshalJSON parses the JSON for a pin
// We have our own implementation to support the old format
// where the attributes were named "name" and "value",
// once there are no published lists left with that format
// we can remove this.
func (p *Pin) UnmarshalJSON(b []byte) error {
	m := make(map[string]string)
	err := json.Unmarshal(b, &m)

	if err != nil {
		return err
	}

	if alg, ok := m["alg"]; ok {
		p.Alg = alg
	} else if name, ok := m["name"]; ok {
		p.Alg = name
	} else {
		return errors.New("pin missing alg attribute")
	}

	if digest, ok := m["digest"]; ok {
		p.Digest = digest
	} else if value, ok := m["value"]; ok {
		p.Digest = value
	} else {
		return errors.New("pin missing digest attribute")
	}

	return nil
}

// Fingerprint validates the pin and returns its digest in binary form.
// Only sha256 pins with a hex rendered digest are understood.
func (p Pin) Fingerprint() (certpin.Fingerprint, error) {
	if !strings.EqualFold(p.Alg, "sha256") {
		return certpin.Fingerprint{}, fmt.Errorf("unsupported pin algorithm %q", p.Alg)
	}
	return certpin.ParseFingerprint(p.Digest)
}

// Host is one pinned service in the list
type Host struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Pins        []Pin   `json:"pins"`
}

// PinList is the complete representation of all pinned hosts
type PinList struct {
	CacheTTL int    `json:"cache_ttl"`
	Hosts    []Host `json:"hosts"`
}

// Fingerprints returns the parsed fingerprints for a named host, or
// nil when the host is not in the list. Host names compare case
// insensitively. Pins with an algorithm this client does not understand
// are skipped, a list may introduce new algorithms without breaking
// deployed clients.
func (l *PinList) Fingerprints(name string) []certpin.Fingerprint {
	for i := range l.Hosts {
		if !strings.EqualFold(l.Hosts[i].Name, name) {
			continue
		}

		fingerprints := make([]certpin.Fingerprint, 0, len(l.Hosts[i].Pins))
		for _, pin := range l.Hosts[i].Pins {
			fp, err := pin.Fingerprint()
			if err != nil {
				continue
			}
			fingerprints = append(fingerprints, fp)
		}
		return fingerprints
	}
	return nil
}
