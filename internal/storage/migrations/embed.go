// Package migrations applies the embedded schema files: the monitor tables in
// PostgreSQL and the tick archive in ClickHouse.
package migrations

import "embed"

// schemaFS holds one directory per database. Files apply in lexical order.
//
//go:embed postgres/*.sql clickhouse/*.sql
var schemaFS embed.FS
