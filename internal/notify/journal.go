package notify

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// Journal keeps a durable append-only record of delivery attempts in
// BadgerDB. Keys are journal:<unix-nano>:<message-id>, so iteration
// order is arrival order.
type Journal struct {
	db *badger.DB
}

// OpenJournal opens (or creates) the journal at path. Badger's own
// logging is silenced; its errors still surface from operations.
func OpenJournal(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one attempt.
func (j *Journal) Record(a Attempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	key := []byte(fmt.Sprintf("journal:%d:%s", a.At.UnixNano(), a.MessageID))
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Recent returns up to n attempts, newest first.
func (j *Journal) Recent(n int) ([]Attempt, error) {
	var out []Attempt
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the journal prefix.
		for it.Seek([]byte("journal;")); it.ValidForPrefix([]byte("journal:")) && len(out) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var a Attempt
				if err := json.Unmarshal(val, &a); err != nil {
					return err
				}
				out = append(out, a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

// Close flushes and closes the store.
func (j *Journal) Close() error {
	return j.db.Close()
}
