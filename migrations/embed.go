// Package migrations embeds the bridge's SQL schema migrations.
//
// Pass FS to database.Config.Migrations; the files sit at the root of the
// embedded filesystem.
package migrations

import "embed"

// FS holds every *.up.sql / *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
