package schema

import "fmt"

// TableDef describes one table of the canonical tenant set. Create statements
// take the quoted schema name as %[1]s. Schema-scoped tables carry no
// tenant_id column: isolation is the schema boundary itself, rows correlate
// back to their hybrid originals through external_id.
type TableDef struct {
	Name     string
	Columns  []string
	Create   string
	Indexes  []string
	Policies []string
}

var tenantTables = []TableDef{
	{
		Name:    "users",
		Columns: []string{"id", "external_id", "email", "full_name", "status", "created_at", "updated_at"},
		Create: `CREATE TABLE IF NOT EXISTS %[1]s.users (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL,
			full_name TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS users_email_idx ON %[1]s.users (email)`,
			`CREATE INDEX IF NOT EXISTS users_status_idx ON %[1]s.users (status)`,
		},
	},
	{
		Name:    "courses",
		Columns: []string{"id", "external_id", "code", "title", "description", "created_at", "updated_at"},
		Create: `CREATE TABLE IF NOT EXISTS %[1]s.courses (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			code TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			created_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS courses_code_idx ON %[1]s.courses (code)`,
		},
	},
	{
		Name:    "enrollments",
		Columns: []string{"id", "external_id", "user_id", "course_id", "status", "enrolled_at", "updated_at"},
		Create: `CREATE TABLE IF NOT EXISTS %[1]s.enrollments (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			user_id BIGINT NOT NULL REFERENCES %[1]s.users (id) ON DELETE CASCADE,
			course_id BIGINT NOT NULL REFERENCES %[1]s.courses (id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'enrolled',
			enrolled_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			UNIQUE (user_id, course_id)
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS enrollments_user_idx ON %[1]s.enrollments (user_id)`,
			`CREATE INDEX IF NOT EXISTS enrollments_course_idx ON %[1]s.enrollments (course_id)`,
		},
	},
	{
		Name:    "grades",
		Columns: []string{"id", "external_id", "enrollment_id", "grade", "graded_at", "updated_at"},
		Create: `CREATE TABLE IF NOT EXISTS %[1]s.grades (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT UNIQUE,
			enrollment_id BIGINT NOT NULL REFERENCES %[1]s.enrollments (id) ON DELETE CASCADE,
			grade NUMERIC(5,2),
			graded_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS grades_enrollment_idx ON %[1]s.grades (enrollment_id)`,
		},
	},
	{
		Name:    "activity_logs",
		Columns: []string{"id", "external_id", "user_id", "action", "metadata", "created_at"},
		Create: `CREATE TABLE IF NOT EXISTS %[1]s.activity_logs (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT UNIQUE,
			user_id BIGINT REFERENCES %[1]s.users (id) ON DELETE SET NULL,
			action TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL DEFAULT 0
		)`,
		Indexes: []string{
			`CREATE INDEX IF NOT EXISTS activity_logs_user_idx ON %[1]s.activity_logs (user_id)`,
			`CREATE INDEX IF NOT EXISTS activity_logs_created_idx ON %[1]s.activity_logs (created_at)`,
		},
	},
}

// RequiredTables lists the canonical tenant table set in creation order.
func RequiredTables() []string {
	names := make([]string, len(tenantTables))
	for i, t := range tenantTables {
		names[i] = t.Name
	}
	return names
}

// RequiredColumns returns the expected column set for a canonical table.
func RequiredColumns(table string) ([]string, bool) {
	for _, t := range tenantTables {
		if t.Name == table {
			return t.Columns, true
		}
	}
	return nil, false
}

// rlsStatements returns the row-level-security setup for one table. The policy
// only exposes rows when the connection's active schema is the tenant schema,
// as defense-in-depth under the schema boundary. Drop-then-create keeps
// repeated calls idempotent.
func rlsStatements(quotedSchema, rawSchema, table string) []string {
	qualified := fmt.Sprintf("%s.%s", quotedSchema, table)
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", qualified),
		fmt.Sprintf("DROP POLICY IF EXISTS tenant_isolation ON %s", qualified),
		fmt.Sprintf("CREATE POLICY tenant_isolation ON %s USING (current_schema() = '%s'::name)", qualified, rawSchema),
	}
}
