// Package store — store.go
//
// bbolt-backed collection storage for the HoneyTrap gateway.
//
// Schema (bbolt bucket layout):
//
//	/users                key: "data"  value: JSON object {username: password}
//	/sessions             key: "data"  value: JSON object {username: Session}
//	/ports                key: "data"  value: JSON array of Port
//	/banned_ips           key: "data"  value: JSON array of string
//	/attackers            key: "data"  value: JSON array of AttackerRecord
//	/potential_attackers   key: "data"  value: JSON array of SuspectRecord
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent
//     writers).
//   - Every Save is one ACID write transaction covering the whole
//     collection snapshot — this is a full-rewrite, not an incremental
//     patch, matching the load/save contract callers are built against.
//   - Every Load is one read-only transaction.
//   - A per-collection sync.RWMutex is held for the duration of a single
//     Load (read lock) or a single Save (write lock). It does not span a
//     caller's Load, decide, Save sequence, so two concurrent
//     read-modify-write callers on the same collection can overwrite each
//     other's change (last writer wins).
//
// Failure modes:
//   - Missing collection key or malformed stored JSON: Load returns a
//     zero-value snapshot of the expected shape (empty map or empty
//     slice), never an error — callers cannot distinguish "never written"
//     from "corrupt", and must not need to: both are treated as empty.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketMeta = "meta"
	snapshotKey = "data"

	// Collection names.
	CollectionUsers               = "users"
	CollectionSessions            = "sessions"
	CollectionPorts               = "ports"
	CollectionBannedIPs           = "banned_ips"
	CollectionAttackers           = "attackers"
	CollectionPotentialAttackers  = "potential_attackers"
)

var collections = []string{
	CollectionUsers,
	CollectionSessions,
	CollectionPorts,
	CollectionBannedIPs,
	CollectionAttackers,
	CollectionPotentialAttackers,
}

// Store is a bbolt-backed, per-collection key-value store presenting the
// whole-collection load/save contract the policy engine and handlers are
// built against.
type Store struct {
	db *bolt.DB

	muMu  sync.Mutex
	locks map[string]*sync.RWMutex
}

// Open opens (or creates) the bbolt database at the given path.
// Initialises all six collection buckets and the meta bucket, and
// verifies the schema version.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("store.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb, locks: make(map[string]*sync.RWMutex, len(collections))}
	for _, name := range collections {
		s.locks[name] = &sync.RWMutex{}
	}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range append(append([]string{}, collections...), bucketMeta) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("store initialisation failed: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("schema version mismatch: database has %q, gateway requires %q", string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(collection string) *sync.RWMutex {
	s.muMu.Lock()
	defer s.muMu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[collection] = l
	}
	return l
}

// Load reads the full snapshot for a collection into out (a pointer to a
// map or slice matching the collection's shape). If the collection has
// never been written, or its stored bytes fail to unmarshal, out is left
// at its zero value rather than returning an error: both are treated as
// "empty collection".
func (s *Store) Load(collection string, out any) error {
	l := s.lockFor(collection)
	l.RLock()
	defer l.RUnlock()

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(snapshotKey))
		if v == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store.Load(%q): %w", collection, err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Malformed content is treated as an empty snapshot, not an error.
		return nil
	}
	return nil
}

// Save writes the full snapshot for a collection, replacing whatever was
// there before in a single bbolt write transaction.
func (s *Store) Save(collection string, in any) error {
	l := s.lockFor(collection)
	l.Lock()
	defer l.Unlock()

	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("store.Save(%q): marshal: %w", collection, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("store.Save(%q): %w", collection, err)
		}
		return b.Put([]byte(snapshotKey), data)
	})
}
