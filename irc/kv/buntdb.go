// Copyright (c) 2022 Valentin Lorentz
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package kv

import (
	"github.com/tidwall/buntdb"
)

type buntdbTx struct {
	tx *buntdb.Tx
}

func mapError(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (tx buntdbTx) AscendKeys(pattern string, iterator func(key, value string) bool) error {
	return tx.tx.AscendKeys(pattern, iterator)
}

func (tx buntdbTx) Delete(key string) (val string, err error) {
	val, err = tx.tx.Delete(key)
	return val, mapError(err)
}

func (tx buntdbTx) Get(key string) (val string, err error) {
	val, err = tx.tx.Get(key)
	return val, mapError(err)
}

func (tx buntdbTx) Set(key string, value string, opts *SetOptions) (previousValue string, replaced bool, err error) {
	var buntdbOpts *buntdb.SetOptions
	if opts != nil {
		buntdbOpts = &buntdb.SetOptions{Expires: opts.Expires, TTL: opts.TTL}
	}
	return tx.tx.Set(key, value, buntdbOpts)
}

// BuntdbStore is a Store backed by a buntdb file (or ":memory:").
type BuntdbStore struct {
	db *buntdb.DB
}

// BuntdbOpen opens or creates the database at path.
func BuntdbOpen(path string) (*BuntdbStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntdbStore{db: db}, nil
}

func (kv *BuntdbStore) Close() error {
	return kv.db.Close()
}

func (kv *BuntdbStore) Update(fn func(tx Tx) error) error {
	return kv.db.Update(func(tx *buntdb.Tx) error {
		return fn(buntdbTx{tx})
	})
}

func (kv *BuntdbStore) View(fn func(tx Tx) error) error {
	return kv.db.View(func(tx *buntdb.Tx) error {
		return fn(buntdbTx{tx})
	})
}
