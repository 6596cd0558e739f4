package postgres

import _ "embed"

// Schema is the accounts/transactions/blocks DDL this adapter's queries are
// written against. Operators apply it out of band (psql, a migration
// runner); postgrestest also applies it verbatim when provisioning a
// disposable test database, so the two never drift apart.
//
//go:embed schema.sql
var Schema string
