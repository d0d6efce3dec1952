// Package migrations embeds the SQL migration files for the job archive.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
