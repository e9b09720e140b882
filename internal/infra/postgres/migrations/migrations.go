package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema steps, registered in file-name order.
var Migrations = migrate.NewMigrations()
