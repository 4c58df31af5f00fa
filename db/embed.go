// Package db provides the embedded migrations and development seed data.
package db

import "embed"

// Migrations holds the goose migration files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Catalog is the development catalog and address book used by seed-db.
//
//go:embed seed/catalog.json
var Catalog []byte
