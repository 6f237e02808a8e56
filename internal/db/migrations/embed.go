package migrations

import "embed"

// FS contains the embedded Postgres migrations for the zone tables.
//
//go:embed *.sql
var FS embed.FS
