// Copyright (c) 2020 Shivaram Lingamneni
// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

// Package mysql mirrors audit log entries into a MySQL table, for
// networks that want login history queryable outside the log files.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ergochat/saslserv/irc/logger"
)

var (
	ErrQueueFull = errors.New("audit queue full")
)

const (
	latestDbSchema   = "1"
	keySchemaVersion = "db.version"

	defaultMaxQueue = 1024
	defaultTimeout  = 5 * time.Second

	// lengths of the audit columns, in bytes
	maxAccountLength = 64
	maxIDLength      = 32
)

// Entry is one audit log line.
type Entry struct {
	Time    time.Time
	Account string
	ID      string
	Level   string
	Message string
}

type MySQL struct {
	db     *sql.DB
	logger *logger.Manager
	config Config

	insertEntry *sql.Stmt

	queueMutex sync.RWMutex
	queue      chan Entry
	closed     bool
	wg         sync.WaitGroup
}

func (mysql *MySQL) Initialize(logger *logger.Manager, config Config) {
	mysql.logger = logger
	if config.MaxQueue <= 0 {
		config.MaxQueue = defaultMaxQueue
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	mysql.config = config
	mysql.queue = make(chan Entry, config.MaxQueue)
}

// Open connects, creates the schema if needed, and starts the writer.
func (mysql *MySQL) Open() (err error) {
	mysql.db, err = sql.Open("mysql", mysql.config.dsn())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), mysql.config.Timeout)
	defer cancel()
	if err = mysql.db.PingContext(ctx); err != nil {
		return fmt.Errorf("could not connect to mysql: %w", err)
	}

	if err = mysql.fixSchemas(); err != nil {
		return err
	}

	mysql.insertEntry, err = mysql.db.Prepare(`INSERT INTO sasl_audit
		(nanotime, account, conn_id, level, message) VALUES (?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}

	mysql.wg.Add(1)
	go mysql.writeLoop()
	return nil
}

func (mysql *MySQL) fixSchemas() (err error) {
	_, err = mysql.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (
		key_name VARCHAR(32) primary key,
		value VARCHAR(32) NOT NULL
	) CHARSET=ascii COLLATE=ascii_bin;`)
	if err != nil {
		return err
	}

	var schema string
	err = mysql.db.QueryRow(`select value from metadata where key_name = ?;`, keySchemaVersion).Scan(&schema)
	if err == sql.ErrNoRows {
		if err = mysql.createTables(); err != nil {
			return
		}
		_, err = mysql.db.Exec(`insert into metadata (key_name, value) values (?, ?);`, keySchemaVersion, latestDbSchema)
		return
	} else if err == nil && schema != latestDbSchema {
		return fmt.Errorf("incompatible audit database schema %s (need %s)", schema, latestDbSchema)
	}
	return err
}

func (mysql *MySQL) createTables() (err error) {
	_, err = mysql.db.Exec(fmt.Sprintf(`CREATE TABLE sasl_audit (
		id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		nanotime BIGINT UNSIGNED NOT NULL,
		account VARBINARY(%[1]d) NOT NULL,
		conn_id VARBINARY(%[2]d) NOT NULL,
		level VARCHAR(16) NOT NULL,
		message TEXT NOT NULL,
		KEY (account, nanotime),
		KEY (nanotime)
	) CHARSET=utf8mb4 COLLATE=utf8mb4_bin;`, maxAccountLength, maxIDLength))
	return
}

// Enqueue schedules an entry for writing. It never blocks: if the writer
// has fallen behind, the entry is dropped and ErrQueueFull returned.
func (mysql *MySQL) Enqueue(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	entry.Account = truncate(entry.Account, maxAccountLength)
	entry.ID = truncate(entry.ID, maxIDLength)
	mysql.queueMutex.RLock()
	defer mysql.queueMutex.RUnlock()
	if mysql.closed {
		return ErrQueueFull
	}
	select {
	case mysql.queue <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

func truncate(str string, length int) string {
	if len(str) > length {
		return str[:length]
	}
	return str
}

func (mysql *MySQL) writeLoop() {
	defer mysql.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			mysql.logger.Error("mysql",
				fmt.Sprintf("Panic in audit writer: %v\n%s", r, debug.Stack()))
		}
	}()

	for entry := range mysql.queue {
		if err := mysql.write(entry); err != nil {
			mysql.logger.Error("mysql", "could not write audit entry", err.Error())
		}
	}
}

func (mysql *MySQL) write(entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), mysql.config.Timeout)
	defer cancel()
	_, err := mysql.insertEntry.ExecContext(ctx, entry.Time.UnixNano(), entry.Account, entry.ID, entry.Level, entry.Message)
	return err
}

// Close drains the queue and disconnects.
func (mysql *MySQL) Close() {
	mysql.queueMutex.Lock()
	if mysql.closed {
		mysql.queueMutex.Unlock()
		return
	}
	mysql.closed = true
	close(mysql.queue)
	mysql.queueMutex.Unlock()

	mysql.wg.Wait()
	if mysql.db != nil {
		mysql.db.Close()
	}
}

// Forget deletes all audit history of an account, returning the number of
// entries removed.
func (mysql *MySQL) Forget(ctx context.Context, account string) (count int64, err error) {
	if mysql.db == nil {
		return 0, nil
	}
	result, err := mysql.db.ExecContext(ctx, `DELETE FROM sasl_audit WHERE account = ?;`, truncate(account, maxAccountLength))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
