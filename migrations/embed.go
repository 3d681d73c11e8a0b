// Package migrations embeds the SQL schema applied by `benefits-server migrate up`.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
