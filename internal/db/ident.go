package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteTable sanitizes a possibly schema-qualified table name for safe
// interpolation into SQL built from registration-time configuration.
func QuoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// QuoteIdent sanitizes a single column identifier.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
