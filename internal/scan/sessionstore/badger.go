package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger — хранилище сессий во встроенной BadgerDB.
type Badger struct {
	db *badger.DB
}

// NewBadger открывает БД в каталоге path. Пустой path — БД в памяти.
func NewBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, clientID string) (*Session, error) {
	var data []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key(clientID)))
		if err != nil {
			return err
		}

		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return decode(data)
}

func (b *Badger) Put(_ context.Context, clientID string, s Session, ttl time.Duration) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key(clientID)), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Delete(_ context.Context, clientID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key(clientID)))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func (b *Badger) Close() error { return b.db.Close() }
