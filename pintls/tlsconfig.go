/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pintls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"

	"github.com/joesiltberg/certpin"
)

// Returns a tls.Config with the settings shared by every config this
// package builds. Chain verification is off because the key pin check
// installed in VerifyPeerCertificate replaces it, a pinned self signed
// server is just as acceptable as a pinned CA issued one.
func baseTLSConfig() *tls.Config {
	return &tls.Config{
		//nolint:gosec
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
}

// verifyAgainst builds a VerifyPeerCertificate callback that accepts
// the peer when the leaf certificate's public key matches any of the
// fingerprints from lookup. The pins are looked up at handshake time,
// so a config stays valid when the pins behind it change.
func verifyAgainst(lookup func() []certpin.Fingerprint) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("no peer certificate presented")
		}

		fp, err := certpin.HashFromDER(rawCerts[0])
		if err != nil {
			return err
		}

		pins := lookup()
		if len(pins) == 0 {
			return errors.New("no pins configured for this connection")
		}
		for _, pin := range pins {
			if pin.Equal(fp) {
				return nil
			}
		}
		return fmt.Errorf("peer key %s does not match any pin", fp)
	}
}

// Config returns a tls.Config that accepts a server only when its
// public key matches one of the given pins.
func Config(pins ...certpin.Fingerprint) *tls.Config {
	config := baseTLSConfig()
	config.VerifyPeerCertificate = verifyAgainst(func() []certpin.Fingerprint {
		return pins
	})
	return config
}

// HTTPClient returns an http.Client that only talks to servers whose
// public key matches one of the given pins.
func HTTPClient(pins ...certpin.Fingerprint) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: Config(pins...),
		},
	}
}
