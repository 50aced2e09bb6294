package domain

import (
	"strings"
	"time"
)

// GeometryKind is the shape a table's geometry column holds.
type GeometryKind string

// Canonical kinds a committed table can hold.
const (
	GeometryGeneric         GeometryKind = "geometry"
	GeometryPoint           GeometryKind = "point"
	GeometryMultiLineString GeometryKind = "multilinestring"
	GeometryMultiPolygon    GeometryKind = "multipolygon"
)

// Transient kinds accepted as input and converted on normalization.
const (
	GeometryLineString GeometryKind = "linestring"
	GeometryPolygon    GeometryKind = "polygon"
	GeometryMultiPoint GeometryKind = "multipoint"
)

// ParseGeometryKind maps a PostGIS type name (POLYGON, ST_Polygon,
// MultiPolygon, ...) to a GeometryKind. It does not check that the kind is
// supported; use IsCanonical or the normalizer for that.
func ParseGeometryKind(s string) GeometryKind {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.TrimPrefix(k, "st_")
	return GeometryKind(k)
}

// IsCanonical reports whether k is one of the four kinds a table may commit to.
func (k GeometryKind) IsCanonical() bool {
	switch k {
	case GeometryGeneric, GeometryPoint, GeometryMultiLineString, GeometryMultiPolygon:
		return true
	}
	return false
}

// PostGISName is the type-modifier spelling used in geometry(<kind>, srid).
func (k GeometryKind) PostGISName() string {
	switch k {
	case GeometryPoint:
		return "Point"
	case GeometryMultiPoint:
		return "MultiPoint"
	case GeometryLineString:
		return "LineString"
	case GeometryMultiLineString:
		return "MultiLineString"
	case GeometryPolygon:
		return "Polygon"
	case GeometryMultiPolygon:
		return "MultiPolygon"
	default:
		return "Geometry"
	}
}

// Privacy is the access level of a table.
type Privacy string

// Privacy levels. The empty value means no privacy has been recorded yet.
const (
	PrivacyPrivate  Privacy = "private"
	PrivacyPublic   Privacy = "public"
	PrivacyLink     Privacy = "link"
	PrivacyPassword Privacy = "password"
)

// Valid reports whether p is a known privacy level.
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPrivate, PrivacyPublic, PrivacyLink, PrivacyPassword:
		return true
	}
	return false
}

// Readable reports whether anonymous readers get SELECT on the relation.
func (p Privacy) Readable() bool {
	return p == PrivacyPublic || p == PrivacyLink
}

// TableState tracks creation progress.
type TableState string

// Table states in lifecycle order.
const (
	TableStateCreating     TableState = "creating"
	TableStateCartodbified TableState = "cartodbified"
	TableStateReady        TableState = "ready"
)

// Reserved column names of a cartodbified table.
const (
	ColumnID               = "cartodb_id"
	ColumnGeometry         = "the_geom"
	ColumnGeometryMercator = "the_geom_webmercator"
	ColumnCreatedAt        = "created_at"
	ColumnUpdatedAt        = "updated_at"
)

const (
	DefaultSRID     = 4326
	WebMercatorSRID = 3857

	// GeometrySampleSize is how many non-null rows are inspected to detect
	// the kind of an untyped geometry column.
	GeometrySampleSize = 10

	// ReservedTablePrefix marks names that must be reached through an
	// intermediate name when renaming.
	ReservedTablePrefix = "_"
)

// TableIdentity is the record of a user table. It is the single internal
// representation used by every lifecycle operation.
type TableIdentity struct {
	ID                 string
	OwnerID            string
	Name               string
	GeometryKind       *GeometryKind
	Privacy            Privacy
	State              TableState
	PendingRename      *string
	RowCountEstimate   *int64
	SizeEstimate       *int64
	EstimatesUpdatedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// EffectivePrivacy returns the recorded privacy, defaulting to private.
func (t *TableIdentity) EffectivePrivacy() Privacy {
	if t.Privacy == "" {
		return PrivacyPrivate
	}
	return t.Privacy
}

// CreateTableRequest holds parameters for creating a table.
type CreateTableRequest struct {
	Name         string
	FromRelation string // migrate an existing relation instead of creating one
	GeometryKind *GeometryKind
	Privacy      Privacy
}

// GeometryLiteral marks a geometry value that is already a PostGIS literal
// (EWKT or hex EWKB) and must be written as is.
type GeometryLiteral string
