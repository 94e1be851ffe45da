// Package migrations embeds the SQL schema migrations so the migrate binary
// ships self-contained.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
