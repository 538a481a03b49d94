package history

import (
	"context"
	"fmt"
)

// Drivers accepted by Open
const (
	DriverMemory   = "memory"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Open creates the store named by driver. dsn is the DuckDB file path or the
// PostgreSQL connection string and is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverDuckDB:
		store, err := NewDuckStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres history store requires a dsn")
		}
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q (expected %s, %s or %s)",
			driver, DriverMemory, DriverDuckDB, DriverPostgres)
	}
}
