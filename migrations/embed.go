// Package migrations embeds the PostgreSQL schema so it ships inside the binary.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
