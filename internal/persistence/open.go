package persistence

import (
	"context"
	"fmt"

	"example.com/biometrics/internal/domain"
	"example.com/biometrics/internal/persistence/memory"
	"example.com/biometrics/internal/persistence/postgres"
	"example.com/biometrics/internal/persistence/sqlite"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Store is a summary store that also journals refresh runs.
type Store interface {
	domain.SummaryStore
	domain.RefreshJournal
	Close() error
}

// Options selects and configures a driver.
type Options struct {
	Driver       string
	PostgresURL  string
	SQLiteDir    string
	SummaryTopic string
}

// Open constructs the store for opts.Driver. Callers own the returned store
// and must Close it.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverPostgres:
		store, err := postgres.Open(ctx, opts.PostgresURL, postgres.WithSummaryTopic(opts.SummaryTopic))
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverSQLite:
		store, err := sqlite.Open(opts.SQLiteDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverMemory:
		return memory.Open(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
