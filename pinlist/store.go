/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

package pinlist

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joesiltberg/certpin"
)

// A Store regularly downloads, verifies and parses the signed pin list
// published by a list operator.
type Store struct {
	quit        chan int
	addListener chan chan int

	// This is the in-memory, latest verified pin list. It should never be nil,
	// but it can be a pointer to a default constructed PinList (which has
	// no entries). This is the case before we've managed to read, verify and
	// parse the list, or if we fail to do so.
	parsed *PinList

	// This mutex protects the parsed pointer
	lock sync.Mutex
}

// StoreOptions are configuration options for the pin list store
type StoreOptions struct {
	// Used when the pin list doesn't have a CacheTTL attribute
	DefaultCacheTTL time.Duration

	// Used when we fail to get the jws from the list operator's web server
	NetworkRetry time.Duration

	// Used when the verification fails or we can't parse the pin list
	BadContentRetry time.Duration
}

// An OptionSetter is a function for modifying the store options
type OptionSetter func(*StoreOptions)

// DefaultCacheTTL creates an OptionSetter for setting the default cache TTL
func DefaultCacheTTL(duration time.Duration) OptionSetter {
	return func(options *StoreOptions) {
		options.DefaultCacheTTL = duration
	}
}

// NetworkRetry creates an OptionSetter for setting the network retry
func NetworkRetry(duration time.Duration) OptionSetter {
	return func(options *StoreOptions) {
		options.NetworkRetry = duration
	}
}

// BadContentRetry creates an OptionSetter for setting the bad content retry
func BadContentRetry(duration time.Duration) OptionSetter {
	return func(options *StoreOptions) {
		options.BadContentRetry = duration
	}
}

// NewStore constructs a new Store and starts its goroutine
func NewStore(url, jwksPath, cachedPath string, setters ...OptionSetter) *Store {
	store := Store{
		quit:        make(chan int),
		addListener: make(chan chan int),
		parsed:      &PinList{},
	}

	options := &StoreOptions{
		DefaultCacheTTL: 3600 * time.Second,
		NetworkRetry:    1 * time.Minute,
		BadContentRetry: 1 * time.Hour,
	}

	for _, setter := range setters {
		setter(options)
	}

	go pinListFetcher(url, jwksPath, cachedPath, options, &store)
	return &store
}

// Quit tells the Store's goroutine to quit and waits until it's done
func (store *Store) Quit() {
	store.quit <- 0
	<-store.quit
}

func (store *Store) getParsed() *PinList {
	store.lock.Lock()
	defer store.lock.Unlock()
	return store.parsed
}

func (store *Store) setNewParsed(newParsed *PinList) {
	store.lock.Lock()
	defer store.lock.Unlock()
	store.parsed = newParsed
}

// AddChangeListener registers a channel that gets a message every time
// a new pin list has been loaded. The channel should be buffered.
// Notifications coalesce: a listener that hasn't read the previous
// message is not sent another one, reading the channel only means
// "something changed since you last looked".
func (store *Store) AddChangeListener(listener chan int) {
	store.addListener <- listener
}

// Current returns the latest verified pin list. The result must be
// treated as read only.
func (store *Store) Current() *PinList {
	return store.getParsed()
}

// LookupHost returns the pinned fingerprints for a host name, or nil
// when the host is not in the list
func (store *Store) LookupHost(name string) []certpin.Fingerprint {
	return store.getParsed().Fingerprints(name)
}

// VerifyPeer checks a presented fingerprint against the pins for a host
func (store *Store) VerifyPeer(name string, fp certpin.Fingerprint) error {
	pins := store.LookupHost(name)

	if len(pins) == 0 {
		return fmt.Errorf("no pins for host %s in the pin list", name)
	}
	for _, pin := range pins {
		if pin.Equal(fp) {
			return nil
		}
	}
	return fmt.Errorf("fingerprint %s does not match any pin for host %s", fp, name)
}

func durationToRefresh(lastFetch time.Time, cacheTTL time.Duration) time.Duration {
	if lastFetch.After(time.Now()) {
		// Shouldn't really happen, but could happen e.g. if the cache file's
		// modification time is in the future
		lastFetch = time.Now()
	}

	timeToRefresh := lastFetch.Add(cacheTTL)

	now := time.Now()

	if timeToRefresh.Before(now) {
		return 0
	}
	return timeToRefresh.Sub(now)
}

// The result of an async HTTP GET (see fetch())
type fetchResult struct {
	body []byte
	err  error
}

// An async HTTP GET, sends its result to a channel
func fetch(url string, fetched chan<- fetchResult) {
	log.Printf("Fetching new pin list from %s", url)
	go func() {
		response, err := http.Get(url)

		if err != nil {
			fetched <- fetchResult{nil, err}
		} else {
			body, err := io.ReadAll(response.Body)
			fetched <- fetchResult{body, err}
			//nolint:errcheck
			response.Body.Close()
		}
	}()
}

// Gives a files modification time, or now if we fail to stat the file
func fileModTimeOrNow(path string) time.Time {
	file, err := os.Stat(path)

	if err != nil {
		return time.Now()
	}

	return file.ModTime()
}

func cacheTTL(listTTL, defaultTTL time.Duration) time.Duration {
	if listTTL != 0 {
		return listTTL
	}
	return defaultTTL
}

// This function is the actual pin list store. It runs in a goroutine and
// contains a parsed in-memory copy of the latest verified pin list.
// If possible it will read from the cached file at start up, otherwise it will
// fetch from the operator's URL. It will regularly fetch new versions from
// the operator URL as often as the cache TTL indicates in the latest list.
func pinListFetcher(
	url, jwksPath, cachedPath string,
	options *StoreOptions,
	store *Store) {

	listeners := make([]chan int, 0)

	notifyAll := func() {
		for _, listener := range listeners {
			select {
			case listener <- 0:
			default:
				// The listener still has an unread notification
				// pending, which already says all there is to say.
				// Blocking here would let one stuck listener wedge
				// the fetcher, and with it Quit.
			}
		}
	}

	jwks, err := os.ReadFile(jwksPath)

	if err != nil {
		log.Fatalf("Failed to read from JWKS file (%s): %v", jwksPath, err)
	}

	workingCache := false

	content, err := os.ReadFile(cachedPath)

	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to read from pin list cache file (%s): %v", cachedPath, err)
	}

	if err == nil {
		list, err := verify(content, jwks)

		if err != nil {
			log.Printf("Failed to verify cached file: %v", err)
		} else {
			workingCache = true
			store.setNewParsed(list)
			notifyAll()
		}
	}

	retry := time.After(0) // When to do the next fetch
	if workingCache {
		parsed := store.getParsed()
		duration := durationToRefresh(fileModTimeOrNow(cachedPath),
			cacheTTL(time.Duration(parsed.CacheTTL)*time.Second, options.DefaultCacheTTL))
		retry = time.After(duration)
	}

	fetched := make(chan fetchResult)

	for {
		select {
		case <-store.quit:
			store.quit <- 0
			return
		case newListener := <-store.addListener:
			listeners = append(listeners, newListener)
		case fetchResult := <-fetched:
			if fetchResult.err != nil {
				log.Printf("Failed to get pin list from the list operator: %v", fetchResult.err)
				retry = time.After(options.NetworkRetry)
				continue
			}
			newParsed, err := verify(fetchResult.body, jwks)

			if err != nil {
				log.Printf("Failed to verify pin list: %v", err)
				retry = time.After(options.BadContentRetry)
			} else {
				log.Println("Successfully downloaded and verified new pin list")
				store.setNewParsed(newParsed)
				notifyAll()
				retry = time.After(durationToRefresh(time.Now(),
					cacheTTL(time.Duration(newParsed.CacheTTL)*time.Second, options.DefaultCacheTTL)))
				err := os.WriteFile(cachedPath, fetchResult.body, 0600)
				if err != nil {
					log.Printf("Failed to write to cache file (%s): %v", cachedPath, err)
				}
			}
		case <-retry:
			fetch(url, fetched)
		}
	}
}
