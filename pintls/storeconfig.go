/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pintls

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/joesiltberg/certpin"
	"github.com/joesiltberg/certpin/pinlist"
)

// StoreConfig returns a tls.Config for connecting to the named host,
// with the accepted keys taken from the pin list store. The store is
// consulted during the handshake rather than when the config is built,
// so connections made after a pin list refresh see the new pins
// without any reconfiguration.
func StoreConfig(store *pinlist.Store, host string) *tls.Config {
	config := baseTLSConfig()
	config.ServerName = host
	config.VerifyPeerCertificate = verifyAgainst(func() []certpin.Fingerprint {
		return store.LookupHost(host)
	})
	return config
}

// StoreHTTPClient returns an http.Client that looks up the pins for
// every host it dials in the pin list store. Hosts missing from the
// pin list are refused.
func StoreHTTPClient(store *pinlist.Store) *http.Client {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		dialer := &tls.Dialer{
			Config: StoreConfig(store, host),
		}
		return dialer.DialContext(ctx, network, addr)
	}

	return &http.Client{
		Transport: &http.Transport{
			DialTLSContext: dial,
		},
	}
}
