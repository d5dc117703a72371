/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package certpin

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"
)

// A CertFetcher retrieves the DER encoded leaf certificate presented by
// the server a URL points at.
type CertFetcher interface {
	FetchCert(ctx context.Context, rawurl string) ([]byte, error)
}

// TLSFetcher is the default CertFetcher. It performs a TLS handshake
// with the URL's host and returns the peer's leaf certificate. Chain
// verification is skipped so the certificate can be fingerprinted even
// when no path to a system root exists, which is the situation pinning
// is for.
type TLSFetcher struct {
	// ServerName overrides the SNI name derived from the URL host.
	ServerName string
}

func (f TLSFetcher) FetchCert(ctx context.Context, rawurl string) ([]byte, error) {
	host, port, err := hostPort(rawurl)
	if err != nil {
		return nil, err
	}

	serverName := f.ServerName
	if serverName == "" {
		serverName = host
	}

	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName: serverName,
			//nolint:gosec
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	//nolint:errcheck
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("certpin: no peer certificate from %s", rawurl)
	}
	return state.PeerCertificates[0].Raw, nil
}

func hostPort(rawurl string) (string, string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", "", fmt.Errorf("certpin: invalid URL %q: %v", rawurl, err)
	}
	if u.Scheme != "https" {
		return "", "", fmt.Errorf("certpin: unsupported URL scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("certpin: missing host in URL %q", rawurl)
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return host, port, nil
}

// FetchOptions are configuration options for HashFromURL
type FetchOptions struct {
	// Fetcher retrieves the certificate, a TLSFetcher is used when nil
	Fetcher CertFetcher

	// Timeout bounds the whole fetch including dial and handshake
	Timeout time.Duration

	// ServerName overrides the SNI name when the default fetcher is used
	ServerName string
}

// A FetchOptionSetter is a function for modifying the fetch options
type FetchOptionSetter func(*FetchOptions)

// Fetcher creates a FetchOptionSetter for replacing how the peer
// certificate is retrieved
func Fetcher(f CertFetcher) FetchOptionSetter {
	return func(options *FetchOptions) {
		options.Fetcher = f
	}
}

// Timeout creates a FetchOptionSetter for setting the fetch timeout
func Timeout(duration time.Duration) FetchOptionSetter {
	return func(options *FetchOptions) {
		options.Timeout = duration
	}
}

// ServerName creates a FetchOptionSetter for overriding the SNI name
func ServerName(name string) FetchOptionSetter {
	return func(options *FetchOptions) {
		options.ServerName = name
	}
}

// HashFromURL fetches the leaf certificate presented at an https URL
// and computes its pinning fingerprint. Errors from the fetcher are
// returned as they are, so callers can tell transport failures apart
// from the decoding errors HashFromDER reports.
func HashFromURL(ctx context.Context, rawurl string, setters ...FetchOptionSetter) (Fingerprint, error) {
	options := &FetchOptions{
		Timeout: 30 * time.Second,
	}
	for _, setter := range setters {
		setter(options)
	}

	fetcher := options.Fetcher
	if fetcher == nil {
		fetcher = TLSFetcher{ServerName: options.ServerName}
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	der, err := fetcher.FetchCert(ctx, rawurl)
	if err != nil {
		return Fingerprint{}, err
	}
	return HashFromDER(der)
}
