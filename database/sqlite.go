package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	logger "github.com/sirupsen/logrus"
)

const (
	DRIVER_NAME     = "sqlite3"
	BUSY_TIMEOUT_MS = 5000
)

// Open opens (or creates) the sqlite database file at dbFilePath.
//
// Every transaction started on the returned pool is BEGIN IMMEDIATE,
// so writers are serialized by sqlite itself and a transaction that
// reads rows before updating them cannot lose an update to a concurrent one.
func Open(dbFilePath string) (*sql.DB, error) {
	if dbFilePath == "" {
		return nil, fmt.Errorf("empty db file path")
	}

	dsn := buildDSN(dbFilePath)
	db, err := sql.Open(DRIVER_NAME, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db %s: %w", dbFilePath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db %s: %w", dbFilePath, err)
	}

	logger.WithField("path", dbFilePath).Debug("database opened")
	return db, nil
}

func buildDSN(dbFilePath string) string {
	params := []string{
		"_txlock=immediate",
		"_foreign_keys=on",
		"_journal_mode=WAL",
		fmt.Sprintf("_busy_timeout=%d", BUSY_TIMEOUT_MS),
	}
	sep := "?"
	if strings.Contains(dbFilePath, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(dbFilePath, "file:") + sep + strings.Join(params, "&")
}

// WithTx runs fn inside one transaction. fn's error rolls the
// transaction back and is returned unchanged.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.WithField("error", rbErr).Error("failed to rollback transaction")
		}
		return err
	}

	return tx.Commit()
}
