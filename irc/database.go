// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package irc

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ergochat/saslserv/irc/kv"
	"github.com/ergochat/saslserv/irc/utils"
)

const (
	// 'version' of the database schema
	keySchemaVersion = "db.version"
	// latest schema of the db
	latestDbSchema = 1
)

// InitDB creates the database, implementing the `saslserv initdb` command.
func InitDB(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("Datastore already exists (delete it manually to continue): %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("Datastore path is inaccessible: %w", err)
	}

	if err = initializeDB(path); err != nil {
		return fmt.Errorf("Could not save datastore: %w", err)
	}
	return nil
}

// internal database initialization code
func initializeDB(path string) error {
	store, err := kv.BuntdbOpen(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return initializeStore(store)
}

func initializeStore(store kv.Store) error {
	return store.Update(func(tx kv.Tx) error {
		// set schema version
		_, _, err := tx.Set(keySchemaVersion, strconv.Itoa(latestDbSchema), nil)
		return err
	})
}

// OpenDatabase returns an existing database, performing a schema version check.
func OpenDatabase(config *Config) (store kv.Store, err error) {
	db, err := kv.BuntdbOpen(config.Datastore.Path)
	if err != nil {
		return
	}

	if err = checkSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func checkSchema(store kv.Store) (err error) {
	// read the current version string
	var version string
	err = store.View(func(tx kv.Tx) error {
		version, err = tx.Get(keySchemaVersion)
		return err
	})
	if err == kv.ErrNotFound {
		return fmt.Errorf("Datastore was not initialized, run `saslserv initdb` first")
	} else if err != nil {
		return
	}

	current, err := strconv.Atoi(version)
	if err != nil {
		return fmt.Errorf("Datastore has an invalid schema version: %s", version)
	}
	if current != latestDbSchema {
		return &utils.IncompatibleSchemaError{CurrentVersion: current, RequiredVersion: latestDbSchema}
	}
	return nil
}
