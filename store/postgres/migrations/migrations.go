// Package migrations embeds the goose migrations for the Postgres stores.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
