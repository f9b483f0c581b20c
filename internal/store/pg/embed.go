package pg

import "embed"

// Migrations holds the schema as NNNN_name.up.sql / NNNN_name.down.sql pairs.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Seeds provisions the fixed account set.
//
//go:embed seeds/*.sql
var Seeds embed.FS
