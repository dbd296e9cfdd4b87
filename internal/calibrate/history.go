// Package calibrate — history.go
//
// BoltDB-backed prior version history for refit rollback.
//
// Schema (bucket layout):
//
//	/versions
//	    key:   version number, zero-padded 10 digits (sortable)
//	    value: JSON-encoded Version
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Single-process, single-writer; every write is one ACID transaction.
// Versions are never rewritten — rollback reads the previous snapshot
// and appends it as a new head.

package calibrate

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	historySchemaVersion = "1"

	bucketVersions = "versions"
	bucketMeta     = "meta"
)

// Version is one persisted prior-parameter snapshot.
type Version struct {
	Number           uint64                `json:"number"`
	CreatedAt        time.Time             `json:"created_at"`
	Reason           string                `json:"reason"`
	ObservationCount uint64                `json:"observation_count"`
	Parameters       map[string]ParamValue `json:"parameters"`
}

// History is the bbolt-backed version store.
type History struct {
	db *bolt.DB
}

// OpenHistory opens (or creates) the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("calibrate: open history %q: %w", path, err)
	}

	h := &History{db: db}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketVersions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(historySchemaVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("calibrate: history initialisation: %w", err)
	}

	if err := h.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) checkSchema() error {
	return h.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte("schema_version"))
		if string(v) != historySchemaVersion {
			return fmt.Errorf("calibrate: history schema mismatch: have %q, need %q",
				string(v), historySchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying database.
func (h *History) Close() error { return h.db.Close() }

func versionKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%010d", n))
}

// Append stores a snapshot as the next version and returns its number.
func (h *History) Append(reason string, observationCount uint64, params map[string]ParamValue) (uint64, error) {
	var number uint64
	err := h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketVersions))

		number = 1
		if k, _ := b.Cursor().Last(); k != nil {
			var last uint64
			if _, err := fmt.Sscanf(string(k), "%d", &last); err == nil {
				number = last + 1
			}
		}

		v := Version{
			Number:           number,
			CreatedAt:        time.Now().UTC(),
			Reason:           reason,
			ObservationCount: observationCount,
			Parameters:       params,
		}
		data, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		return b.Put(versionKey(number), data)
	})
	if err != nil {
		return 0, fmt.Errorf("calibrate: append version: %w", err)
	}
	return number, nil
}

// Latest returns the newest version, or nil when the history is empty.
func (h *History) Latest() (*Version, error) {
	return h.get(func(c *bolt.Cursor) ([]byte, []byte) { return c.Last() })
}

// Previous returns the version before the newest, enabling rollback.
// Returns nil when fewer than two versions exist.
func (h *History) Previous() (*Version, error) {
	var out *Version
	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketVersions)).Cursor()
		if k, _ := c.Last(); k == nil {
			return nil
		}
		k, v := c.Prev()
		if k == nil {
			return nil
		}
		var ver Version
		if err := json.Unmarshal(v, &ver); err != nil {
			return fmt.Errorf("parse version %q: %w", string(k), err)
		}
		out = &ver
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calibrate: previous version: %w", err)
	}
	return out, nil
}

// Rollback re-appends the previous version's parameters as a new head
// and returns the new version number. Fails when there is nothing to
// roll back to.
func (h *History) Rollback() (uint64, error) {
	prev, err := h.Previous()
	if err != nil {
		return 0, err
	}
	if prev == nil {
		return 0, fmt.Errorf("calibrate: no previous version to roll back to")
	}
	return h.Append(fmt.Sprintf("rollback to version %d", prev.Number),
		prev.ObservationCount, prev.Parameters)
}

func (h *History) get(pick func(*bolt.Cursor) ([]byte, []byte)) (*Version, error) {
	var out *Version
	err := h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketVersions)).Cursor()
		k, v := pick(c)
		if k == nil {
			return nil
		}
		var ver Version
		if err := json.Unmarshal(v, &ver); err != nil {
			return fmt.Errorf("parse version %q: %w", string(k), err)
		}
		out = &ver
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calibrate: read version: %w", err)
	}
	return out, nil
}
