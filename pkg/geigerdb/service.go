// GeigerDB holds raw readings and their rolled-up aggregates. The CSV file
// stays the durable log of record; this database exists so the live surface
// can query history without scanning a flat file, and so old raw data can
// be pruned once aggregated.
package geigerdb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/NotCoffee418/dbmigrator"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store wraps one SQLite handle. Writes come from the poll cycle only;
// reads can come from anywhere.
type Store struct {
	db *sql.DB
}

// Open connects to the database file and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geiger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open geiger db: %w", err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
