package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_tables",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS repair_results (
						task_id TEXT PRIMARY KEY,
						client_id TEXT NOT NULL,
						state TEXT NOT NULL,
						reason TEXT NOT NULL,
						layer INTEGER NOT NULL,
						policy_round INTEGER NOT NULL,
						data BLOB NOT NULL,
						finished_at TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_repair_results_state ON repair_results(state)`,
					`CREATE INDEX IF NOT EXISTS idx_repair_results_policy_round ON repair_results(policy_round)`,
					`CREATE TABLE IF NOT EXISTS fl_rounds (
						round INTEGER PRIMARY KEY,
						completed INTEGER NOT NULL DEFAULT 0,
						deadline TIMESTAMP NOT NULL,
						data BLOB NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS fl_policy_updates (
						round INTEGER PRIMARY KEY,
						issued_at TIMESTAMP NOT NULL,
						data BLOB NOT NULL
					)`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS fl_policy_updates`,
					`DROP TABLE IF EXISTS fl_rounds`,
					`DROP INDEX IF EXISTS idx_repair_results_policy_round`,
					`DROP INDEX IF EXISTS idx_repair_results_state`,
					`DROP TABLE IF EXISTS repair_results`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
