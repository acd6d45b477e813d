// Package migrations embeds the clinic schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
