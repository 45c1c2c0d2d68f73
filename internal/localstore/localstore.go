// Package localstore persists proxy references and fetched objects in a
// local bolt database so hash-only lookups survive process restarts.
package localstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"

	"github.com/revclient/revclient/types"
)

var (
	bucketProxy  = []byte("proxy")
	bucketObject = []byte("object")
)

// Store wraps the bolt database. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// New opens or creates the database at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProxy, bucketObject} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init local store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutProxy records the proxy reference for a content hash.
func (s *Store) PutProxy(hash digest.Digest, proxy types.ProxyRef) error {
	return s.PutProxyBatch(map[digest.Digest]types.ProxyRef{hash: proxy})
}

// PutProxyBatch records several proxy references in one transaction, the
// shape of a tree import where every entry's mapping lands at once.
func (s *Store) PutProxyBatch(proxies map[digest.Digest]types.ProxyRef) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProxy)
		for hash, proxy := range proxies {
			val, err := json.Marshal(proxy)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(hash), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProxy returns the recorded proxy reference for a content hash.
func (s *Store) GetProxy(hash digest.Digest) (types.ProxyRef, error) {
	proxy := types.ProxyRef{}
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketProxy).Get([]byte(hash))
		if val == nil {
			return fmt.Errorf("%w: no proxy for %s", types.ErrNotFound, hash)
		}
		return json.Unmarshal(val, &proxy)
	})
	if err != nil {
		return types.ProxyRef{}, err
	}
	return proxy, nil
}

// PutObject stores a fetched object with the current time for pruning.
func (s *Store) PutObject(obj types.Object) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObject).Put(objectKey(obj.Kind, obj.Hash), encodeObject(obj.Data, time.Now()))
	})
}

// GetObject returns a stored object.
func (s *Store) GetObject(kind types.Kind, hash digest.Digest) (types.Object, error) {
	obj := types.Object{Kind: kind, Hash: hash}
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketObject).Get(objectKey(kind, hash))
		if val == nil {
			return fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, hash)
		}
		data, _, err := decodeObject(val)
		if err != nil {
			return err
		}
		// the transaction owns val, copy before returning
		obj.Data = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return types.Object{}, err
	}
	return obj, nil
}

// DeleteObject drops a stored object, missing entries are ignored.
func (s *Store) DeleteObject(kind types.Kind, hash digest.Digest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObject).Delete(objectKey(kind, hash))
	})
}

// Prune removes objects stored before the cutoff and reports how many were
// dropped. Proxy references are small and kept indefinitely.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObject)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, stored, err := decodeObject(v)
			if err != nil {
				return err
			}
			if stored.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				pruned++
			}
		}
		return nil
	})
	return pruned, err
}

func objectKey(kind types.Kind, hash digest.Digest) []byte {
	key := make([]byte, 0, len(hash)+1)
	key = append(key, byte(kind))
	key = append(key, hash...)
	return key
}

// encodeObject prefixes the payload with the big endian store time.
func encodeObject(data []byte, stored time.Time) []byte {
	val := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(val, uint64(stored.UnixNano()))
	copy(val[8:], data)
	return val
}

func decodeObject(val []byte) ([]byte, time.Time, error) {
	if len(val) < 8 {
		return nil, time.Time{}, fmt.Errorf("%w: truncated object record", types.ErrParsingFailed)
	}
	stored := time.Unix(0, int64(binary.BigEndian.Uint64(val)))
	return val[8:], stored, nil
}
