// Package store implements the durable, crash-safe persistence layer for
// downloads, segments, batches, rules and settings, over an embedded
// buntdb database. Collections are emulated as key prefixes the way
// dbdriver.BuntDriver does for aistore's local metadata server: each row
// lives under "<collection>##<id>", and a handful of buntdb secondary
// indices stand in for the relational indices the spec calls for.
package store

import (
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/zdmr/zdmr/cmn"
)

const (
	collDownloads   = "downloads"
	collSegments    = "segments"
	collBatches     = "batches"
	collSettings    = "settings"
	collProxyRules  = "proxy_rules"
	collHeaderRules = "header_rules"
	collMirrorRules = "mirror_rules"

	idxDownloadsByStatus = "downloads_by_status"
	idxSegmentsByParent  = "segments_by_parent"

	autoShrinkSize = 4 * cmn.MiB
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a Get/lookup misses.
type ErrNotFound struct {
	Collection, Key string
}

func (e *ErrNotFound) Error() string {
	return "store: not found: " + e.Collection + "##" + e.Key
}

func newErrNotFound(collection, key string) error {
	return &ErrNotFound{Collection: collection, Key: key}
}

// Store wraps a single buntdb handle behind a mutex, matching the spec's
// "DB is behind a single mutex, writes are short and non-contended in
// practice" resource model. All exported operations are transactional.
type Store struct {
	mu sync.Mutex
	db *buntdb.DB
}

// Open creates or opens the database file at path and wires the secondary
// indices the spec requires: (status, updated_at) on downloads and
// download_id on segments.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open buntdb")
	}
	db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkMinSize:    autoShrinkSize,
		AutoShrinkPercentage: 50,
	})

	s := &Store{db: db}
	if err := s.ensureIndices(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndices() error {
	err := s.db.CreateIndex(idxDownloadsByStatus, makePath(collDownloads, "*"),
		buntdb.IndexJSON("status"), buntdb.IndexJSON("updated_at"))
	if err != nil && err != buntdb.ErrIndexExists {
		return errors.Wrap(err, "create downloads index")
	}
	err = s.db.CreateIndex(idxSegmentsByParent, makePath(collSegments, "*"),
		buntdb.IndexJSON("download_id"), buntdb.IndexJSON("range_start"))
	if err != nil && err != buntdb.ErrIndexExists {
		return errors.Wrap(err, "create segments index")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// makePath mirrors dbdriver.BuntDriver's collection-key composition: a
// "##" separator keeps a collection prefix from colliding with a key that
// itself contains "/" or other path-like characters.
func makePath(collection, key string) string {
	if strings.HasSuffix(collection, "##") {
		return collection + key
	}
	return collection + "##" + key
}

func bareKey(collection, fullKey string) string {
	return strings.TrimPrefix(fullKey, collection+"##")
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) setJSON(tx *buntdb.Tx, collection, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	_, _, err = tx.Set(makePath(collection, key), string(b), nil)
	return err
}

func (s *Store) getJSON(tx *buntdb.Tx, collection, key string, v interface{}) error {
	raw, err := tx.Get(makePath(collection, key))
	if err != nil {
		if err == buntdb.ErrNotFound {
			return newErrNotFound(collection, key)
		}
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func (s *Store) deleteKey(tx *buntdb.Tx, collection, key string) error {
	_, err := tx.Delete(makePath(collection, key))
	if err != nil && err != buntdb.ErrNotFound {
		return err
	}
	return nil
}

// IsNotFound reports whether err is (or wraps) an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*ErrNotFound)
	return ok
}
