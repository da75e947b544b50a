// Package history keeps the set of trouble codes seen on the last read in
// a small bbolt database, so the host tool can report which codes appeared
// or resolved between runs.
package history

import (
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketKey = "last_seen_codes"

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketKey))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Diff compares a fresh read against the stored set and reports codes that
// appeared and codes that are gone, both sorted. Keys are the suffixed
// wire form ("P0415s").
func (s *Store) Diff(codes []string) (appeared, resolved []string, err error) {
	current := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		current[c] = struct{}{}
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketKey))
		seen := make(map[string]struct{})
		if err := b.ForEach(func(k, _ []byte) error {
			seen[string(k)] = struct{}{}
			return nil
		}); err != nil {
			return err
		}
		for c := range current {
			if _, ok := seen[c]; !ok {
				appeared = append(appeared, c)
			}
		}
		for c := range seen {
			if _, ok := current[c]; !ok {
				resolved = append(resolved, c)
			}
		}
		return nil
	})
	sort.Strings(appeared)
	sort.Strings(resolved)
	return appeared, resolved, err
}

// Replace stores a fresh read as the new last-seen set.
func (s *Store) Replace(codes []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketKey)); err != nil {
			return err
		}
		b, err := tx.CreateBucket([]byte(bucketKey))
		if err != nil {
			return err
		}
		for _, c := range codes {
			if err := b.Put([]byte(c), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear drops the stored set, e.g. after a successful clear-DTC request.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketKey)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketKey))
		return err
	})
}
