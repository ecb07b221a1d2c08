package store

import (
	"context"
	"fmt"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config selects and configures a store driver.
type Config struct {
	Driver        string
	DSN           string
	MongoURI      string
	MongoDatabase string
}

// Open creates the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(cfg.DSN)
	case DriverMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, NewStoreError("Open", "", "", fmt.Sprintf("driver %q", cfg.Driver), ErrUnsupportedDriver)
	}
}
