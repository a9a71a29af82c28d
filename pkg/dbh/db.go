// Package dbh opens SQLite databases through gorm, after bringing their schema
// up to date with a list of migrations.
package dbh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/logs"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Name of the database/sql driver registered by go-sqlite3
const DriverSqlite = "sqlite3"

// OpenFlags are flags passed to OpenSqlite
type OpenFlags int

const (
	// OpenFlagWipe deletes the database file before opening it (useful for unit tests)
	OpenFlagWipe OpenFlags = 1 << iota
)

// MakeMigrationFromSQL turns an SQL string into a burntsushi migration
func MakeMigrationFromSQL(log logs.Log, migrationNumber *int, sql string) migration.Migrator {
	*migrationNumber++
	idx := *migrationNumber

	return func(tx migration.LimitedTx) error {
		summary := strings.TrimSpace(sql)
		if nl := strings.IndexAny(summary, "\n\r"); nl != -1 {
			summary = summary[:nl]
		}
		if len(summary) > 40 {
			summary = summary[:40]
		}
		log.Infof("Running migration %v: '%v...'", idx, summary)
		_, err := tx.Exec(sql)
		return err
	}
}

// OpenSqlite creates the database file if necessary, runs all migrations that
// have not yet been applied, and returns a gorm handle to it.
func OpenSqlite(log logs.Log, filename string, migrations []migration.Migrator, flags OpenFlags) (*gorm.DB, error) {
	if flags&OpenFlagWipe != 0 {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create database directory '%v': %w", dir, err)
		}
	}

	raw, err := migration.Open(DriverSqlite, filename, migrations)
	if err != nil {
		return nil, fmt.Errorf("Failed to migrate database '%v': %w", filename, err)
	}
	raw.Close()

	return gormOpen(log, filename)
}

// gormWriter sends gorm's complaints to our log
type gormWriter struct {
	log logs.Log
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}

func gormOpen(log logs.Log, filename string) (*gorm.DB, error) {
	gormLogger := logger.New(
		gormWriter{log},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true, // Record not found is never a loggable thing
			Colorful:                  false,
		},
	)

	config := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			// Our migrations name the tables, so don't let gorm pluralize them
			SingularTable: true,
		},
		Logger: gormLogger,
	}
	return gorm.Open(sqlite.Open(filename), config)
}
