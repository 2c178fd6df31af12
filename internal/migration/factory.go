package migration

import (
	"fmt"

	appconfig "github.com/fluxwire/fluxwire/config"
)

// NewMigratorFromConfig builds a migrator from the application config.
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromStoreConfig(cfg.Store)
}

// NewMigratorFromStoreConfig builds a migrator from the run store
// settings. Only the SQL drivers carry schema; the memory, redis and
// mongo stores have nothing to migrate.
func NewMigratorFromStoreConfig(storeCfg appconfig.StoreConfig) (*DefaultMigrator, error) {
	switch storeCfg.Driver {
	case "memory", "redis", "mongo", "":
		return nil, fmt.Errorf("store driver %q has no schema to migrate", storeCfg.Driver)
	}

	dbType, err := ParseDatabaseType(storeCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid store driver: %w", err)
	}
	if storeCfg.DSN == "" {
		return nil, fmt.Errorf("store DSN is required for %s migrations", dbType)
	}

	// The store DSN is already in the native driver format, so it is
	// passed through unchanged.
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  storeCfg.DSN,
	})
}

// NewMigratorFromURL builds a migrator from an explicit dialect and
// connection string, bypassing the application config.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
	})
}
