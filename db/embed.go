package db

import _ "embed"

// Schema é o DDL aplicado por PGStore.Migrate.
//
//go:embed schema.sql
var Schema string
