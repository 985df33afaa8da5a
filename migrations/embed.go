// Package migrations embeds the SQL schema migrations of the audit database.
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
