package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// identifierRe allows alphanumeric + underscores, starting with a letter or underscore.
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columnTypeRe matches simple PostgreSQL type names, optionally with precision/scale parameters.
// Accepted forms:
//
//	WORD                         → INTEGER, TEXT, BOOLEAN, etc.
//	WORD WORD                    → DOUBLE PRECISION, CHARACTER VARYING
//	WORD(digits)                 → VARCHAR(255), NUMERIC(10)
//	WORD(digits, digits)         → NUMERIC(10,2)
//	WORD[]                       → INTEGER[], TEXT[]
//
// Case-insensitive. Rejects anything with semicolons, parens in unexpected positions,
// comments, or other SQL injection vectors.
var columnTypeRe = regexp.MustCompile(`(?i)^[A-Z][A-Z0-9_ ]*(?:\(\s*\d+\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// maxColumnTypeLen is the maximum length allowed for a column type string.
const maxColumnTypeLen = 64

// reservedWords are PostgreSQL reserved key words that cannot name a table
// or column without quoting.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true, "both": true,
	"case": true, "cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "current_catalog": true, "current_date": true,
	"current_role": true, "current_time": true, "current_timestamp": true,
	"current_user": true, "default": true, "deferrable": true, "desc": true,
	"distinct": true, "do": true, "else": true, "end": true, "except": true,
	"false": true, "fetch": true, "for": true, "foreign": true, "from": true,
	"grant": true, "group": true, "having": true, "in": true, "initially": true,
	"intersect": true, "into": true, "lateral": true, "leading": true, "limit": true,
	"localtime": true, "localtimestamp": true, "not": true, "null": true,
	"offset": true, "on": true, "only": true, "or": true, "order": true,
	"placing": true, "primary": true, "references": true, "returning": true,
	"select": true, "session_user": true, "some": true, "symmetric": true,
	"table": true, "then": true, "to": true, "trailing": true, "true": true,
	"union": true, "unique": true, "user": true, "using": true, "variadic": true,
	"when": true, "where": true, "window": true, "with": true,
}

// reservedColumns are managed by cartodbification and cannot be added,
// dropped or renamed by users.
var reservedColumns = map[string]bool{
	"cartodb_id":           true,
	"the_geom":             true,
	"the_geom_webmercator": true,
	"created_at":           true,
	"updated_at":           true,
	"oid":                  true,
	"xmin":                 true,
	"xmax":                 true,
	"ctid":                 true,
	"tableoid":             true,
}

// ValidateIdentifier checks that name is a safe SQL identifier:
//   - Non-empty
//   - At most 63 characters
//   - Matches [a-zA-Z_][a-zA-Z0-9_]*
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("name must be at most %d characters", maxIdentifierLen)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("name must match [a-zA-Z_][a-zA-Z0-9_]*")
	}
	return nil
}

// ValidateTableName checks that name can name a user table without quoting:
// a valid lowercase identifier that is not a reserved word.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if name != strings.ToLower(name) {
		return fmt.Errorf("name must be lowercase")
	}
	if IsReservedWord(name) {
		return fmt.Errorf("%q is a reserved word", name)
	}
	return nil
}

// ValidateColumnName checks that name can be used for a user column.
func ValidateColumnName(name string) error {
	if err := ValidateTableName(name); err != nil {
		return err
	}
	if reservedColumns[name] {
		return fmt.Errorf("%q is a reserved column", name)
	}
	return nil
}

// IsReservedWord reports whether name is a PostgreSQL reserved key word.
func IsReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double-quote characters by doubling them (standard SQL).
//
// Always quotes; callers validate first when needed.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral wraps a string value in single quotes, escaping any
// embedded single-quote characters by doubling them (standard SQL).
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// QualifiedName returns "schema"."table".
func QualifiedName(schema, table string) string {
	return QuoteIdentifier(schema) + "." + QuoteIdentifier(table)
}

// ValidateColumnType checks that typeName is a safe PostgreSQL column type:
//   - Non-empty
//   - At most 64 characters
//   - Matches the allowed type pattern (words, optionally with precision/scale, optionally array)
//   - Does not contain SQL injection patterns (semicolons, comments, etc.)
func ValidateColumnType(typeName string) error {
	if typeName == "" {
		return fmt.Errorf("column type is required")
	}
	if len(typeName) > maxColumnTypeLen {
		return fmt.Errorf("column type must be at most %d characters", maxColumnTypeLen)
	}
	// Reject obvious injection patterns before regex check
	if strings.ContainsAny(typeName, ";-'\"\\") {
		return fmt.Errorf("column type contains invalid characters")
	}
	if !columnTypeRe.MatchString(typeName) {
		return fmt.Errorf("column type %q is not a recognized type pattern", typeName)
	}
	return nil
}
