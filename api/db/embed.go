package db

import "embed"

//go:embed clickhouse/migrations/*.sql
var ClickHouseMigrationsFS embed.FS

//go:embed postgres/migrations/*.sql
var PostgresMigrationsFS embed.FS
