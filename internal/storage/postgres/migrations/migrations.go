// Package migrations embeds the goose migration scripts for the PostgreSQL
// back-end.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
