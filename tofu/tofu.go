/*
 * Copyright (c) 2025-2026 Joe Siltberg
 *
 * You should have received a copy of the MIT license along with this project.
 * If not, see <https://opensource.org/licenses/MIT>.
 */

// Package tofu persists key fingerprints per host in the trust on
// first use style known from ssh. The first key seen for a host is
// remembered and later sightings must present the same key.
package tofu

import (
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/joesiltberg/certpin"
)

var pinsBucket = []byte("pins")

// A Store is a persistent host to fingerprint map backed by a bolt
// database file. It is safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens the trust store at path, creating it if needed.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open trust store %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pinsBucket)
		return err
	})
	if err != nil {
		//nolint:errcheck
		db.Close()
		return nil, fmt.Errorf("failed to prepare trust store %s: %v", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Host names are case insensitive, the stored keys are not.
func storeKey(host string) []byte {
	return []byte(strings.ToLower(host))
}

// Get returns the remembered fingerprint for a host and whether the
// host was known at all.
func (s *Store) Get(host string) (certpin.Fingerprint, bool, error) {
	var fp certpin.Fingerprint
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(pinsBucket).Get(storeKey(host))
		if value == nil {
			return nil
		}
		if len(value) != len(fp) {
			return fmt.Errorf("corrupt trust store entry for host %s", host)
		}
		copy(fp[:], value)
		found = true
		return nil
	})
	return fp, found, err
}

// Put remembers the fingerprint for a host, replacing any earlier one.
func (s *Store) Put(host string, fp certpin.Fingerprint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).Put(storeKey(host), fp[:])
	})
}

// Delete forgets a host. Deleting an unknown host is not an error.
func (s *Store) Delete(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).Delete(storeKey(host))
	})
}

// Check compares a presented fingerprint with the remembered one for
// the host. An unknown host is remembered and accepted, firstUse
// reports when that happened. A known host presenting a different key
// is rejected without updating the store. The read and the write share
// one transaction, so concurrent checks for the same host agree on a
// single first key.
func (s *Store) Check(host string, fp certpin.Fingerprint) (bool, error) {
	firstUse := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pinsBucket)
		key := storeKey(host)

		value := bucket.Get(key)
		if value == nil {
			firstUse = true
			return bucket.Put(key, fp[:])
		}

		var pinned certpin.Fingerprint
		if len(value) != len(pinned) {
			return fmt.Errorf("corrupt trust store entry for host %s", host)
		}
		copy(pinned[:], value)

		if !pinned.Equal(fp) {
			return fmt.Errorf("key for host %s changed: had %s, got %s",
				host, pinned, fp)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return firstUse, nil
}

// Hosts returns every remembered host with its fingerprint.
func (s *Store) Hosts() (map[string]certpin.Fingerprint, error) {
	result := make(map[string]certpin.Fingerprint)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pinsBucket).ForEach(func(k, v []byte) error {
			var fp certpin.Fingerprint
			if len(v) != len(fp) {
				return fmt.Errorf("corrupt trust store entry for host %s", k)
			}
			copy(fp[:], v)
			result[string(k)] = fp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
