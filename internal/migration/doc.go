// Copyright (c) Fluxwire Authors.
// Licensed under the MIT License.

// Package migration versions the run store schema with golang-migrate.
//
// SQL migration files are embedded per dialect (postgres, mysql,
// sqlite) and applied through a Migrator, which wraps a golang-migrate
// instance over the store's own database connection. The sqlite path
// uses the pure-Go modernc driver, so migrations run without cgo.
//
// NewMigratorFromStoreConfig maps the application's store settings onto
// a Migrator; memory and redis stores have no schema and are rejected.
// CLI adapts the Migrator for the fluxwire migrate subcommand with
// tabular status output.
package migration
