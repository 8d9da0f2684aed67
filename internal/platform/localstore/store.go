// Package localstore is a small key/value store on top of bbolt used for
// device-scoped state that must survive restarts without a network round trip.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	defaultBucket      = "storefront"
	defaultOpenTimeout = time.Second
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("localstore: store is closed")

// UpdateFunc receives the current value for a key (nil when absent) and returns
// the value to persist. Returning a nil slice deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a bucketed bbolt database.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

// Option customises Open.
type Option func(*options)

type options struct {
	bucket  string
	timeout time.Duration
}

// WithBucket overrides the bucket name.
func WithBucket(name string) Option {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.bucket = name
		}
	}
}

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Open opens (creating if needed) the database file at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := options{bucket: defaultBucket, timeout: defaultOpenTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("localstore: path is required")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: cfg.timeout})
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", path, err)
	}
	bucket := []byte(cfg.bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localstore: create bucket: %w", err)
	}
	return &Store{db: db, bucket: bucket}, nil
}

// Get returns a copy of the value stored under key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(s.bucket).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), value)
	})
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// Update applies fn to the value under key inside a single read-write
// transaction and returns the persisted value.
func (s *Store) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var current []byte
		if v := b.Get([]byte(key)); v != nil {
			current = append([]byte(nil), v...)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if next == nil {
			return b.Delete([]byte(key))
		}
		out = next
		return b.Put([]byte(key), next)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Keys lists keys with the given prefix in byte order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return ctx.Err()
}
