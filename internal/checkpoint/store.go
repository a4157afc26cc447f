// Package checkpoint persists landed fragments so an interrupted fragmented
// download can resume without refetching them.
package checkpoint

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/fragment"
	"golang.org/x/crypto/blake2b"
)

var ErrCorrupt = errors.New("checkpoint entry corrupt")

const keyPrefix = "frag/"

type Store struct {
	db *badger.DB
}

func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &Store{db: db}, nil
}

func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// resourcePrefix scopes entries to one version of one resource.
func resourcePrefix(rawURL, version string) []byte {
	sum := blake2b.Sum256([]byte(rawURL + "\x00" + version))
	return []byte(keyPrefix + hex.EncodeToString(sum[:16]) + "/")
}

func entryKey(rawURL, version string, r fragment.Range) []byte {
	return append(resourcePrefix(rawURL, version), fmt.Sprintf("%d-%d", r.Start, r.End)...)
}

// Save stores data as digest || lz4(data).
func (s *Store) Save(rawURL, version string, r fragment.Range, data []byte) error {
	digest := blake2b.Sum256(data)
	var value bytes.Buffer
	value.Write(digest[:])
	writer := lz4.NewWriter(&value)
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(rawURL, version, r), value.Bytes())
	})
}

// Load returns the stored bytes for r. A corrupt entry is removed and reported
// as ErrCorrupt.
func (s *Store) Load(rawURL, version string, r fragment.Range) ([]byte, bool, error) {
	key := entryKey(rawURL, version, r)
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := decode(value, r)
	if err != nil {
		log.Debug().Str("op", "checkpoint").Str("range", r.String()).Err(err).Msg("dropping corrupt checkpoint")
		s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) })
		return nil, false, err
	}
	return data, true, nil
}

func decode(value []byte, r fragment.Range) ([]byte, error) {
	if len(value) < blake2b.Size256 {
		return nil, ErrCorrupt
	}
	data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(value[blake2b.Size256:])))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	digest := blake2b.Sum256(data)
	if !bytes.Equal(digest[:], value[:blake2b.Size256]) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	if !r.Open() && int64(len(data)) != r.Len() {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrCorrupt, len(data), r)
	}
	return data, nil
}

// Purge removes every entry of one resource version.
func (s *Store) Purge(rawURL, version string) (int, error) {
	return s.deletePrefix(resourcePrefix(rawURL, version))
}

// PurgeAll removes every fragment entry.
func (s *Store) PurgeAll() (int, error) {
	return s.deletePrefix([]byte(keyPrefix))
}

func (s *Store) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) deletePrefix(prefix []byte) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
