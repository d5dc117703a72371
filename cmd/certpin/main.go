/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package main

import (
	"context"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/joesiltberg/certpin"
	"github.com/joesiltberg/certpin/pinlist"
	"github.com/joesiltberg/certpin/tofu"
)

func must(err error) {
	if err != nil {
		log.Fatal(err.Error())
	}
}

func verifyRequired(keys ...string) {
	for _, key := range keys {
		if !viper.IsSet(key) {
			log.Fatalf("Missing required configuration setting: %s", key)
		}
	}
}

func configuredSeconds(setting string) time.Duration {
	return time.Duration(viper.GetInt(setting)) * time.Second
}

func defaultTOFUPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "certpin-tofu.db"
	}
	return filepath.Join(home, ".certpin", "tofu.db")
}

// decodePEMCertificate unwraps the first CERTIFICATE block in a PEM
// file. Other blocks (chain certificates, private keys) are skipped.
func decodePEMCertificate(content []byte) ([]byte, bool) {
	rest := content
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, false
		}
		if block.Type == "CERTIFICATE" {
			return block.Bytes, true
		}
	}
}

// loadCertificateFile reads a certificate file in PEM or raw DER form.
func loadCertificateFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if der, ok := decodePEMCertificate(content); ok {
		return der, nil
	}
	return content, nil
}

// isFile reports whether a target names an existing file rather than
// something to connect to.
func isFile(target string) bool {
	info, err := os.Stat(target)
	return err == nil && !info.IsDir()
}

// targetURL completes a bare host or host:port into an https URL.
func targetURL(target string) string {
	if strings.HasPrefix(target, "https://") {
		return target
	}
	return "https://" + target
}

// hostForTarget returns the name used for pin list and trust store
// lookups, the host name for network targets and the path itself for
// files.
func hostForTarget(target string) string {
	if isFile(target) {
		return target
	}
	if u, err := url.Parse(targetURL(target)); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return target
}

// A perHostLimiter hands out one token bucket per host so a bulk run
// paces each server separately.
type perHostLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
	lock     sync.Mutex
}

func newPerHostLimiter(limit rate.Limit, burst int) *perHostLimiter {
	return &perHostLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *perHostLimiter) get(host string) *rate.Limiter {
	p.lock.Lock()
	defer p.lock.Unlock()

	if limiter, ok := p.limiters[host]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(p.limit, p.burst)
	p.limiters[host] = limiter
	return limiter
}

func (p *perHostLimiter) wait(ctx context.Context, host string) error {
	return p.get(host).Wait(ctx)
}

// resolveTarget produces the DER certificate for a target, from disk
// or by connecting to the server. Network targets go through the rate
// limiter so bulk runs don't hammer anyone.
func resolveTarget(ctx context.Context, target string, timeout time.Duration, limiter *perHostLimiter) ([]byte, error) {
	if isFile(target) {
		return loadCertificateFile(target)
	}

	if err := limiter.wait(ctx, hostForTarget(target)); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetcher := certpin.TLSFetcher{}
	return fetcher.FetchCert(fetchCtx, targetURL(target))
}

// waitForPinList blocks until the store has loaded a pin list with at
// least one host in it.
func waitForPinList(store *pinlist.Store) {
	listener := make(chan int, 1)
	store.AddChangeListener(listener)

	if len(store.Current().Hosts) > 0 {
		return
	}

	select {
	case <-listener:
	case <-time.After(30 * time.Second):
		log.Fatal("Timed out waiting for the pin list to load")
	}
}

// nameString renders a distinguished name as its attribute values in
// encoded order, enough to recognize a certificate in output.
func nameString(attributes []certpin.AttributeTypeAndValue) string {
	values := make([]string, 0, len(attributes))
	for _, attribute := range attributes {
		values = append(values, attribute.Value)
	}
	return strings.Join(values, ", ")
}

func printSummary(target string, cert *certpin.Certificate, pin string) {
	fmt.Printf("%s\n", target)
	fmt.Printf("  subject:    %s\n", nameString(cert.Subject))
	fmt.Printf("  issuer:     %s\n", nameString(cert.Issuer))
	fmt.Printf("  serial:     %s\n", cert.SerialNumber.Text(16))
	fmt.Printf("  not before: %s\n", cert.NotBefore.Format(time.RFC3339))
	fmt.Printf("  not after:  %s\n", cert.NotAfter.Format(time.RFC3339))
	fmt.Printf("  key pin:    %s\n", pin)
}

type targetResult struct {
	fingerprint certpin.Fingerprint
	cert        *certpin.Certificate
	err         error
}

// This is meant to be set at build time with -ldflags,
// for instance with "git describe" or a hard coded version number.
var version = "version not set at build time"

func main() {
	viper.SetDefault("TimeoutSeconds", 15)
	viper.SetDefault("Concurrency", 4)
	viper.SetDefault("RatePerSecond", 10.0)
	viper.SetDefault("RateBurst", 10)
	viper.SetDefault("DefaultCacheTTL", 3600)
	viper.SetDefault("NetworkRetry", 60)
	viper.SetDefault("BadContentRetry", 3600)
	viper.SetDefault("TOFUPath", defaultTOFUPath())

	var versionFlag bool
	flag.BoolVar(&versionFlag, "version", false, "display program version and exit")
	flag.BoolVar(&versionFlag, "v", false, "alias for version")

	var helpFlag bool
	flag.BoolVar(&helpFlag, "help", false, "display command line usage and exit")
	flag.BoolVar(&helpFlag, "h", false, "alias for help")

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to an optional configuration file")

	var expectFlag string
	flag.StringVar(&expectFlag, "expect", "", "require every target to match this sha256 pin")

	var tofuFlag bool
	flag.BoolVar(&tofuFlag, "tofu", false, "check targets against the trust on first use store")

	var pinlistFlag bool
	flag.BoolVar(&pinlistFlag, "pinlist", false, "check targets against the operator's signed pin list")

	var base64Flag bool
	flag.BoolVar(&base64Flag, "base64", false, "print pins in base64 instead of hex")

	var infoFlag bool
	flag.BoolVar(&infoFlag, "info", false, "print a certificate summary for each target")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [options] <target>...\nTargets are certificate files (PEM or DER), https URLs or host names.\nWhere options can include:\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	if helpFlag {
		flag.Usage()
		return
	}

	if versionFlag {
		fmt.Fprintf(os.Stdout, "certpin (%s)\n", version)
		return
	}

	if flag.NArg() < 1 {
		flag.Usage()
		log.Fatal("Missing targets")
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
		must(viper.ReadInConfig())
	}

	var expected certpin.Fingerprint
	if expectFlag != "" {
		var err error
		expected, err = certpin.ParseFingerprint(expectFlag)
		if err != nil {
			log.Fatalf("Bad pin given to -expect: %v", err)
		}
	}

	var trust *tofu.Store
	if tofuFlag {
		path := viper.GetString("TOFUPath")
		must(os.MkdirAll(filepath.Dir(path), 0700))

		var err error
		trust, err = tofu.Open(path)
		if err != nil {
			log.Fatalf("Failed to open trust store: %v", err)
		}
	}

	var store *pinlist.Store
	if pinlistFlag {
		verifyRequired("PinListURL", "JWKSPath", "CachePath")

		store = pinlist.NewStore(
			viper.GetString("PinListURL"),
			viper.GetString("JWKSPath"),
			viper.GetString("CachePath"),
			pinlist.DefaultCacheTTL(configuredSeconds("DefaultCacheTTL")),
			pinlist.NetworkRetry(configuredSeconds("NetworkRetry")),
			pinlist.BadContentRetry(configuredSeconds("BadContentRetry")))

		waitForPinList(store)
	}

	targets := flag.Args()
	results := make([]targetResult, len(targets))

	timeout := configuredSeconds("TimeoutSeconds")
	limiter := newPerHostLimiter(rate.Limit(viper.GetFloat64("RatePerSecond")),
		viper.GetInt("RateBurst"))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(viper.GetInt("Concurrency"))

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			der, err := resolveTarget(ctx, target, timeout, limiter)
			if err != nil {
				results[i] = targetResult{err: err}
				return nil
			}

			fp, err := certpin.HashFromDER(der)
			if err != nil {
				results[i] = targetResult{err: err}
				return nil
			}

			result := targetResult{fingerprint: fp}
			if infoFlag {
				result.cert, result.err = certpin.ParseCertificate(der)
			}
			results[i] = result
			return nil
		})
	}

	must(g.Wait())

	failed := false

	for i, target := range targets {
		result := results[i]

		if result.err != nil {
			log.Printf("%s: %v", target, result.err)
			failed = true
			continue
		}

		pin := result.fingerprint.Hex()
		if base64Flag {
			pin = result.fingerprint.Base64()
		}

		if expectFlag != "" && !expected.Equal(result.fingerprint) {
			log.Printf("%s: key pin %s does not match the expected pin", target, pin)
			failed = true
			continue
		}

		note := ""
		if trust != nil {
			firstUse, err := trust.Check(hostForTarget(target), result.fingerprint)
			if err != nil {
				log.Printf("%s: %v", target, err)
				failed = true
				continue
			}
			if firstUse {
				note = "  (pinned on first use)"
			}
		}

		if store != nil {
			if err := store.VerifyPeer(hostForTarget(target), result.fingerprint); err != nil {
				log.Printf("%s: %v", target, err)
				failed = true
				continue
			}
		}

		if infoFlag {
			printSummary(target, result.cert, pin)
		} else {
			fmt.Printf("%s  %s%s\n", pin, target, note)
		}
	}

	if store != nil {
		store.Quit()
	}
	if trust != nil {
		must(trust.Close())
	}

	if failed {
		os.Exit(1)
	}
}
