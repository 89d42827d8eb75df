package postgres

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrMigration    = errors.New("database migration error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(host, port, user, pass, name, sslMode string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", host, port, user, pass, name, sslMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
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
						task_id VARCHAR(255) PRIMARY KEY,
						client_id VARCHAR(255) NOT NULL,
						state VARCHAR(32) NOT NULL,
						reason VARCHAR(64) NOT NULL,
						layer SMALLINT NOT NULL,
						policy_round BIGINT NOT NULL,
						data JSONB NOT NULL,
						finished_at TIMESTAMPTZ NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_repair_results_state ON repair_results(state)`,
					`CREATE INDEX IF NOT EXISTS idx_repair_results_policy_round ON repair_results(policy_round)`,
					`CREATE TABLE IF NOT EXISTS fl_rounds (
						round BIGINT PRIMARY KEY,
						completed BOOLEAN NOT NULL DEFAULT FALSE,
						deadline TIMESTAMPTZ NOT NULL,
						data JSONB NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS fl_policy_updates (
						round BIGINT PRIMARY KEY,
						issued_at TIMESTAMPTZ NOT NULL,
						data JSONB NOT NULL
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

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}
