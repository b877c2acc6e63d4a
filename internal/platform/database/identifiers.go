package database

import (
	"fmt"
	"regexp"
	"strings"

	"tenantly/internal/pkg/errors"
)

// schemaNamePattern is the single gate every identifier must pass before it is
// interpolated into DDL. Postgres identifiers are capped at 63 bytes; we also
// require a leading letter and forbid anything outside [a-z0-9_].
var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,62}$`)

const schemaPrefix = "tenant_"

// ValidSchemaName reports whether name is safe to quote into DDL.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

// CheckSchemaName returns ErrInvalidName unless name passes the pattern.
func CheckSchemaName(name string) error {
	if !ValidSchemaName(name) {
		return fmt.Errorf("%w: %q", errors.ErrInvalidName, name)
	}
	return nil
}

// SchemaName derives the deterministic schema name for a tenant id.
// UUID dashes are folded to underscores so the result stays a legal identifier.
func SchemaName(tenantID string) string {
	return schemaPrefix + strings.ReplaceAll(strings.ToLower(tenantID), "-", "_")
}

// IsTenantSchema reports whether a schema name uses the tenant namespace.
func IsTenantSchema(name string) bool {
	return strings.HasPrefix(name, schemaPrefix) && ValidSchemaName(name)
}
