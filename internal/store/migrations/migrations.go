// Package migrations embeds the schema of the local mirror database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
