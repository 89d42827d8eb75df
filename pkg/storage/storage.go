package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/absmach/fedrepair/pkg/storage/postgres"
	"github.com/absmach/fedrepair/pkg/storage/sqlite"
)

// Storage is an ordered key value store. Keys sharing a prefix list in
// lexical order.
type Storage interface {
	Create(ctx context.Context, key string, value []byte) error
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, value []byte) error
	List(ctx context.Context, prefix string, offset, limit uint64) ([][]byte, uint64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// ResultRepository keeps the final outcome of every repair task a client ran.
type ResultRepository interface {
	Save(ctx context.Context, r scheduler.Result) error
	Get(ctx context.Context, taskID string) (scheduler.Result, error)
	List(ctx context.Context, offset, limit uint64) ([]scheduler.Result, uint64, error)
}

type Config struct {
	Type string `env:"STORAGE_TYPE" envDefault:"memory"`

	PostgresHost    string `env:"POSTGRES_HOST"    envDefault:"localhost"`
	PostgresPort    string `env:"POSTGRES_PORT"    envDefault:"5432"`
	PostgresUser    string `env:"POSTGRES_USER"    envDefault:"fedrepair"`
	PostgresPass    string `env:"POSTGRES_PASS"    envDefault:"fedrepair"`
	PostgresDB      string `env:"POSTGRES_DB"      envDefault:"fedrepair"`
	PostgresSSLMode string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"./fedrepair.db"`
	BadgerPath string `env:"BADGER_PATH" envDefault:"./data/badger"`
	FilePath   string `env:"FILE_PATH"   envDefault:"./data/ledger"`
}

type Repositories struct {
	Results ResultRepository
	Ledger  fl.Ledger
	// Closer releases the backing store. It is nil for the in-memory and
	// file backends.
	Closer io.Closer
}

func NewRepositories(cfg Config) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.NewDatabase(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPass, cfg.PostgresDB, cfg.PostgresSSLMode)
		if err != nil {
			return nil, err
		}

		return newSQLRepositories(db.DB, db), nil
	case "sqlite":
		db, err := sqlite.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}

		return newSQLRepositories(db.DB, db), nil
	case "badger":
		kv, err := NewBadgerStorage(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}

		return &Repositories{
			Results: NewResultRepository(kv),
			Ledger:  NewLedger(kv),
			Closer:  kv,
		}, nil
	case "file":
		ledger, err := fl.NewFileLedger(cfg.FilePath)
		if err != nil {
			return nil, err
		}

		return &Repositories{
			Results: NewResultRepository(NewInMemoryStorage()),
			Ledger:  ledger,
		}, nil
	case "memory":
		kv := NewInMemoryStorage()

		return &Repositories{
			Results: NewResultRepository(kv),
			Ledger:  NewLedger(kv),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
