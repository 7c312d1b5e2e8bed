package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/jun/gophsync/internal/model"
)

const (
	connPrefix = "conn/"
	snapPrefix = "snap/"
	localKey   = "local"
)

// BadgerCache is a ConnectionStore kept in a BadgerDB directory, so joined
// workspaces and their last confirmed state survive restarts.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens (creating if needed) the cache at dir. An empty dir
// opens an in-memory database.
func OpenBadgerCache(dir string) (*BadgerCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Close closes the database.
func (b *BadgerCache) Close() error {
	return b.db.Close()
}

func (b *BadgerCache) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerCache) get(key string, v any) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotCached
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (b *BadgerCache) ListConnections(_ context.Context) ([]Connection, error) {
	var out []Connection
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(connPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var c Connection
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func (b *BadgerCache) SaveConnection(_ context.Context, c Connection) error {
	return b.put(connPrefix+c.WorkspaceID, c)
}

func (b *BadgerCache) DeleteConnection(_ context.Context, workspaceID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(connPrefix + workspaceID)); err != nil {
			return err
		}
		return txn.Delete([]byte(snapPrefix + workspaceID))
	})
}

func (b *BadgerCache) LoadSnapshot(_ context.Context, workspaceID string) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := b.get(snapPrefix+workspaceID, &snap); err != nil {
		return nil, err
	}
	snap.Collections = snap.Collections.Clone()
	return &snap, nil
}

func (b *BadgerCache) SaveSnapshot(_ context.Context, workspaceID string, snap model.Snapshot) error {
	return b.put(snapPrefix+workspaceID, snap)
}

func (b *BadgerCache) LoadLocal(_ context.Context) (*model.Collections, error) {
	var c model.Collections
	if err := b.get(localKey, &c); err != nil {
		return nil, err
	}
	c = c.Clone()
	return &c, nil
}

func (b *BadgerCache) SaveLocal(_ context.Context, c model.Collections) error {
	return b.put(localKey, c)
}
