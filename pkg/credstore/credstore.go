package credstore

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a small Badger-backed registry of API credential labels.
// Registrations are bookkeeping only; losing this store never affects
// issuance correctness.
type Store struct {
	db *badger.DB
}

// keyPrefix namespaces credential entries inside the DB.
const keyPrefix = "cred/"

type OpenOptions struct {
	Path     string
	ReadOnly bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("credstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores or overwrites a credential label.
func (s *Store) Put(credentialID, label string) error {
	if s == nil || s.db == nil {
		return errors.New("credstore: not opened")
	}
	id := strings.TrimSpace(credentialID)
	if id == "" {
		return errors.New("credstore: credential id is empty")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+id), []byte(label))
	})
}

// Get returns the label for a credential id.
func (s *Store) Get(credentialID string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("credstore: not opened")
	}
	id := strings.TrimSpace(credentialID)
	if id == "" {
		return "", false, errors.New("credstore: credential id is empty")
	}
	var label string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			label = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, err
	}
	return label, found, nil
}

// List returns all registered credentials as id -> label.
func (s *Store) List() (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("credstore: not opened")
	}
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), keyPrefix)
			if err := item.Value(func(val []byte) error {
				out[id] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
