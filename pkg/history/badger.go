package history

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the history database at path. The path "memory"
// keeps the history in memory only.
func NewBadgerStore(path string) (Store, error) {
	var opts badger.Options
	if path == "memory" {
		log.Info("Using in-memory experiment history")
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		log.Info("Using experiment history at", path)
		opts = badger.DefaultOptions(filepath.Clean(path))
		opts = opts.WithValueLogFileSize(1 << 24)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db}, nil
}

func experimentKey(id string) []byte {
	return []byte("experiment:" + id)
}

func (s *badgerStore) Save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(experimentKey(record.ID), data)
	})
}

func (s *badgerStore) Get(ctx context.Context, id string) (*Record, error) {
	record := &Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(experimentKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return utils.ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, record)
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
