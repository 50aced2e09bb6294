package domain

import "strings"

// SemanticType is the user-facing type of a column.
type SemanticType string

// Semantic type taxonomy.
const (
	TypeString   SemanticType = "string"
	TypeNumber   SemanticType = "number"
	TypeBoolean  SemanticType = "boolean"
	TypeDate     SemanticType = "date"
	TypeGeometry SemanticType = "geometry"
)

// SemanticTypeCount bounds widening attempts on insert: each widening moves
// a column to a strictly larger domain.
const SemanticTypeCount = 5

// Column describes a column as read from the physical catalog.
type Column struct {
	Name            string
	StorageType     string // base type, e.g. "integer", "character varying"
	NativeType      string // formatted type with modifiers; set with IncludeNativeTypes
	Type            SemanticType
	GeometrySubtype string // e.g. "MultiPolygon"; geometry columns only
}

// RawColumn is a column row read from pg_attribute.
type RawColumn struct {
	Name            string
	StorageType     string
	NativeType      string
	GeometrySubtype string
}

// SemanticTypeFor maps a PostgreSQL base type to the semantic taxonomy.
// Unknown types are treated as strings.
func SemanticTypeFor(storageType string) SemanticType {
	t := strings.ToLower(strings.TrimSpace(storageType))
	switch {
	case t == "geometry" || t == "geography":
		return TypeGeometry
	case t == "boolean" || t == "bool":
		return TypeBoolean
	case t == "smallint", t == "integer", t == "bigint", t == "real",
		t == "double precision", t == "numeric", t == "decimal",
		t == "int2", t == "int4", t == "int8", t == "float4", t == "float8",
		t == "serial", t == "bigserial":
		return TypeNumber
	case t == "date", strings.HasPrefix(t, "timestamp"), strings.HasPrefix(t, "time"):
		return TypeDate
	default:
		return TypeString
	}
}

// FindColumn returns the column with the given name.
func FindColumn(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
