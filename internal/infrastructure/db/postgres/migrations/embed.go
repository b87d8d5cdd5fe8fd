package migrations

import "embed"

// FS embeds the SQL migration files, applied in lexical order.
//
//go:embed sql/*.sql
var FS embed.FS
