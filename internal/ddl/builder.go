// Package ddl builds PostgreSQL/PostGIS statements for user tables and
// validates the identifiers they embed.
package ddl

import (
	"fmt"
	"strings"
	"time"

	"geotables/internal/domain"
)

// tempGeometryColumn holds converted geometries while the geometry column is rewritten.
const tempGeometryColumn = "the_geom_canonical"

// CreateTable returns the statement creating an empty cartodbified table:
//
//	CREATE TABLE "schema"."table" (cartodb_id bigserial PRIMARY KEY, the_geom ..., ...)
func CreateTable(schema, table string) (string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return "", fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf(`CREATE TABLE %s (
	%s bigserial PRIMARY KEY,
	%s geometry(Geometry,%d),
	%s geometry(Geometry,%d),
	%s timestamptz NOT NULL DEFAULT now(),
	%s timestamptz NOT NULL DEFAULT now()
)`,
		QualifiedName(schema, table),
		QuoteIdentifier(domain.ColumnID),
		QuoteIdentifier(domain.ColumnGeometry), domain.DefaultSRID,
		QuoteIdentifier(domain.ColumnGeometryMercator), domain.WebMercatorSRID,
		QuoteIdentifier(domain.ColumnCreatedAt),
		QuoteIdentifier(domain.ColumnUpdatedAt),
	), nil
}

// Cartodbify returns the statements that bring an existing relation to the
// conventions the rest of the system relies on: a cartodb_id primary key and
// the two geometry columns. The primary key is rebuilt, so the statements
// must run in one transaction.
func Cartodbify(schema, table string) ([]string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	q := QualifiedName(schema, table)
	id := QuoteIdentifier(domain.ColumnID)
	geom := QuoteIdentifier(domain.ColumnGeometry)
	merc := QuoteIdentifier(domain.ColumnGeometryMercator)
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s bigserial", q, id),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s geometry(Geometry,%d)", q, geom, domain.DefaultSRID),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s geometry(Geometry,%d)", q, merc, domain.WebMercatorSRID),
		fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", q, QuoteIdentifier(table+"_pkey")),
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", q, id),
		fmt.Sprintf("UPDATE %s SET %s = ST_Transform(%s, %d) WHERE %s IS NOT NULL AND %s IS NULL",
			q, merc, geom, domain.WebMercatorSRID, geom, merc),
	}, nil
}

// CanonicalGeometryExpr wraps a geometry expression so its value conforms to kind.
// A nil or generic kind leaves the expression unchanged.
func CanonicalGeometryExpr(expr string, kind *domain.GeometryKind) string {
	if kind == nil {
		return expr
	}
	switch *kind {
	case domain.GeometryMultiPolygon, domain.GeometryMultiLineString, domain.GeometryPolygon, domain.GeometryLineString:
		return fmt.Sprintf("ST_Multi(%s)", expr)
	case domain.GeometryPoint, domain.GeometryMultiPoint:
		return fmt.Sprintf("CASE WHEN GeometryType(%[1]s) = 'MULTIPOINT' THEN ST_GeometryN(%[1]s, 1) ELSE %[1]s END", expr)
	default:
		return expr
	}
}

// ConvertGeometryColumn returns the rewrite of the_geom into a column typed
// for kind: add a typed column, bulk-convert, drop the old column and rename
// the new one into place. The statements must run in one transaction.
func ConvertGeometryColumn(schema, table string, kind domain.GeometryKind) ([]string, error) {
	if err := ValidateIdentifier(schema); err != nil {
		return nil, fmt.Errorf("invalid schema name: %w", err)
	}
	if err := ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	if !kind.IsCanonical() {
		return nil, &domain.UnsupportedGeometryKindError{Kind: string(kind)}
	}
	q := QualifiedName(schema, table)
	geom := QuoteIdentifier(domain.ColumnGeometry)
	tmp := QuoteIdentifier(tempGeometryColumn)
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s geometry(%s,%d)", q, tmp, kind.PostGISName(), domain.DefaultSRID),
		fmt.Sprintf("UPDATE %s SET %s = %s", q, tmp, CanonicalGeometryExpr(geom, &kind)),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", q, geom),
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", q, tmp, geom),
	}, nil
}

// SampleGeometryTypes returns a query listing the geometry types of up to limit non-null rows.
func SampleGeometryTypes(schema, table string, limit int) string {
	geom := QuoteIdentifier(domain.ColumnGeometry)
	return fmt.Sprintf("SELECT GeometryType(%s) FROM %s WHERE %s IS NOT NULL LIMIT %d",
		geom, QualifiedName(schema, table), geom, limit)
}

// AlterColumnType returns: ALTER TABLE ... ALTER COLUMN "c" TYPE <type> USING "c"::<type>.
func AlterColumnType(schema, table, column, typeName string) (string, error) {
	if err := ValidateIdentifier(column); err != nil {
		return "", fmt.Errorf("invalid column name: %w", err)
	}
	if err := ValidateColumnType(typeName); err != nil {
		return "", err
	}
	c := QuoteIdentifier(column)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		QualifiedName(schema, table), c, typeName, c, typeName), nil
}

// AddColumn returns: ALTER TABLE ... ADD COLUMN "c" <type>.
func AddColumn(schema, table, column, typeName string) (string, error) {
	if err := ValidateColumnName(column); err != nil {
		return "", &domain.InvalidColumnNameError{Name: column, Reason: err.Error()}
	}
	if err := ValidateColumnType(typeName); err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		QualifiedName(schema, table), QuoteIdentifier(column), typeName), nil
}

// DropColumn returns: ALTER TABLE ... DROP COLUMN "c".
func DropColumn(schema, table, column string) (string, error) {
	if err := ValidateColumnName(column); err != nil {
		return "", &domain.InvalidColumnNameError{Name: column, Reason: err.Error()}
	}
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		QualifiedName(schema, table), QuoteIdentifier(column)), nil
}

// RenameColumn returns: ALTER TABLE ... RENAME COLUMN "from" TO "to".
func RenameColumn(schema, table, from, to string) (string, error) {
	if err := ValidateColumnName(from); err != nil {
		return "", &domain.InvalidColumnNameError{Name: from, Reason: err.Error()}
	}
	if err := ValidateColumnName(to); err != nil {
		return "", &domain.InvalidColumnNameError{Name: to, Reason: err.Error()}
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		QualifiedName(schema, table), QuoteIdentifier(from), QuoteIdentifier(to)), nil
}

// RenameTable returns: ALTER TABLE "schema"."from" RENAME TO "to".
func RenameTable(schema, from, to string) (string, error) {
	if err := ValidateIdentifier(from); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if err := ValidateIdentifier(to); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QualifiedName(schema, from), QuoteIdentifier(to)), nil
}

// DropTable returns the statements dropping a table and the id sequence a
// migrated relation may have left behind.
func DropTable(schema, table string) ([]string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", QualifiedName(schema, table)),
		fmt.Sprintf("DROP SEQUENCE IF EXISTS %s", QualifiedName(schema, table+"_"+domain.ColumnID+"_seq")),
	}, nil
}

// Insert returns an INSERT with one positional parameter per column,
// returning the new row id. With no columns it inserts default values.
func Insert(schema, table string, columns []string) string {
	q := QualifiedName(schema, table)
	ret := " RETURNING " + QuoteIdentifier(domain.ColumnID)
	if len(columns) == 0 {
		return "INSERT INTO " + q + " DEFAULT VALUES" + ret
	}
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s", q,
		strings.Join(quoted, ", "), strings.Join(params, ", "), ret)
}

// Update returns an UPDATE of the given columns for one row; the row id is
// the last positional parameter.
func Update(schema, table string, columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", QuoteIdentifier(c), i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		QualifiedName(schema, table), strings.Join(sets, ", "),
		QuoteIdentifier(domain.ColumnID), len(columns)+1)
}

// SetGeometry returns an UPDATE writing a GeoJSON geometry ($1) into one
// row ($2), transformed to the canonical reference system and shaped for kind.
func SetGeometry(schema, table string, kind *domain.GeometryKind) string {
	src := fmt.Sprintf("ST_Transform(ST_GeomFromGeoJSON($1::text), %d)", domain.DefaultSRID)
	return fmt.Sprintf("UPDATE %s SET %s = g.geom, %s = ST_Transform(g.geom, %d) FROM (SELECT %s AS geom) AS g WHERE %s = $2",
		QualifiedName(schema, table),
		QuoteIdentifier(domain.ColumnGeometry),
		QuoteIdentifier(domain.ColumnGeometryMercator),
		domain.WebMercatorSRID,
		CanonicalGeometryExpr(src, kind),
		QuoteIdentifier(domain.ColumnID),
	)
}

// SyncMercator returns an UPDATE recomputing the_geom_webmercator of one row ($1).
func SyncMercator(schema, table string) string {
	return fmt.Sprintf("UPDATE %s SET %s = ST_Transform(%s, %d) WHERE %s = $1",
		QualifiedName(schema, table),
		QuoteIdentifier(domain.ColumnGeometryMercator),
		QuoteIdentifier(domain.ColumnGeometry),
		domain.WebMercatorSRID,
		QuoteIdentifier(domain.ColumnID),
	)
}

// Grant returns: GRANT <privs> ON TABLE "schema"."table" TO "role".
func Grant(privileges []string, schema, table, role string) (string, error) {
	if err := ValidateIdentifier(role); err != nil {
		return "", fmt.Errorf("invalid role name: %w", err)
	}
	if len(privileges) == 0 {
		return "", fmt.Errorf("at least one privilege is required")
	}
	return fmt.Sprintf("GRANT %s ON TABLE %s TO %s",
		strings.Join(privileges, ", "), QualifiedName(schema, table), QuoteIdentifier(role)), nil
}

// GrantSchemaUsage returns: GRANT USAGE ON SCHEMA "schema" TO "role".
func GrantSchemaUsage(schema, role string) (string, error) {
	if err := ValidateIdentifier(role); err != nil {
		return "", fmt.Errorf("invalid role name: %w", err)
	}
	return fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", QuoteIdentifier(schema), QuoteIdentifier(role)), nil
}

// Revoke returns: REVOKE ALL ON TABLE "schema"."table" FROM "role".
func Revoke(schema, table, role string) (string, error) {
	if err := ValidateIdentifier(role); err != nil {
		return "", fmt.Errorf("invalid role name: %w", err)
	}
	return fmt.Sprintf("REVOKE ALL ON TABLE %s FROM %s", QualifiedName(schema, table), QuoteIdentifier(role)), nil
}

// OrganizationRole is the group role every member of an organization belongs to.
func OrganizationRole(orgID string) string {
	return "cdb_org_member_" + strings.ReplaceAll(strings.ToLower(orgID), "-", "")
}

// SetStatementTimeout returns: SET LOCAL statement_timeout = <ms>.
func SetStatementTimeout(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", d.Milliseconds())
}

// SetRole returns: SET LOCAL ROLE "role".
func SetRole(role string) (string, error) {
	if err := ValidateIdentifier(role); err != nil {
		return "", fmt.Errorf("invalid role name: %w", err)
	}
	return "SET LOCAL ROLE " + QuoteIdentifier(role), nil
}
