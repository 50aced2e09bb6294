package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"geotables/internal/domain"
)

// FakeGeometry is how FakeStore holds a geometry value: only its type name,
// spelled the way PostGIS GeometryType() reports it.
type FakeGeometry struct {
	Type string
}

type fakeColumn struct {
	name    string
	storage string
	native  string
	subtype string
}

type fakeTable struct {
	columns []fakeColumn
	rows    []map[string]any
	nextID  int64
}

func (t *fakeTable) column(name string) (*fakeColumn, bool) {
	for i := range t.columns {
		if t.columns[i].name == name {
			return &t.columns[i], true
		}
	}
	return nil, false
}

func (t *fakeTable) row(id int64) map[string]any {
	for _, r := range t.rows {
		if r[domain.ColumnID] == id {
			return r
		}
	}
	return nil
}

// FakeStore is an in-memory domain.PhysicalStore. It parses bound values the
// way PostgreSQL does for the common types and reports violations as
// *pgconn.PgError with the server's message texts.
type FakeStore struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	// Hook, when set, runs before every operation; a non-nil error aborts it.
	Hook func(op, table string) error

	// Alters records "table.column:type" for every AlterColumnType call.
	Alters []string
	// Conversions records "table:kind" for every geometry conversion.
	Conversions []string
	// Touched records every TouchMetadata call.
	Touched []string
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{tables: make(map[string]*fakeTable)}
}

var _ domain.PhysicalStore = (*FakeStore)(nil)

func key(ns domain.Namespace, table string) string { return ns.Schema + "." + table }

func (s *FakeStore) hook(op, table string) error {
	if s.Hook != nil {
		return s.Hook(op, table)
	}
	return nil
}

func (s *FakeStore) get(ns domain.Namespace, table string) (*fakeTable, error) {
	t, ok := s.tables[key(ns, table)]
	if !ok {
		return nil, &pgconn.PgError{Severity: "ERROR", Code: "42P01",
			Message: fmt.Sprintf(`relation "%s.%s" does not exist`, ns.Schema, table)}
	}
	return t, nil
}

// AddRelation registers a relation with the given columns (name → type, as
// format_type reports it, e.g. "integer" or "character varying(10)").
// Columns are created in the order of names.
func (s *FakeStore) AddRelation(ns domain.Namespace, table string, names []string, types map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTable{nextID: 1}
	for _, n := range names {
		t.columns = append(t.columns, newFakeColumn(n, types[n]))
	}
	s.tables[key(ns, table)] = t
}

// Rows returns copies of the relation's rows ordered by cartodb_id.
func (s *FakeStore) Rows(ns domain.Namespace, table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key(ns, table)]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.rows))
	for i, r := range t.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// ColumnType returns the native type of a column, or "" if absent.
func (s *FakeStore) ColumnType(ns domain.Namespace, table, column string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key(ns, table)]
	if !ok {
		return ""
	}
	if c, ok := t.column(column); ok {
		return c.native
	}
	return ""
}

var typmodRe = regexp.MustCompile(`^([a-z ]+)\((\w+)(?:,\s*\d+)?\)$`)

func newFakeColumn(name, native string) fakeColumn {
	c := fakeColumn{name: name, storage: native, native: native}
	if m := typmodRe.FindStringSubmatch(native); m != nil {
		c.storage = m[1]
		if m[1] == "geometry" {
			c.subtype = m[2]
		}
	}
	if c.storage == "geometry" && c.subtype == "" {
		c.subtype = "Geometry"
		c.native = "geometry"
	}
	return c
}

// TableExists implements domain.PhysicalStore.
func (s *FakeStore) TableExists(_ context.Context, ns domain.Namespace, table string) (bool, error) {
	if err := s.hook("TableExists", table); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[key(ns, table)]
	return ok, nil
}

// ListRelations implements domain.PhysicalStore.
func (s *FakeStore) ListRelations(_ context.Context, ns domain.Namespace) ([]string, error) {
	if err := s.hook("ListRelations", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for k := range s.tables {
		if schema, table, _ := strings.Cut(k, "."); schema == ns.Schema {
			names = append(names, table)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Columns implements domain.PhysicalStore.
func (s *FakeStore) Columns(_ context.Context, ns domain.Namespace, table string) ([]domain.RawColumn, error) {
	if err := s.hook("Columns", table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key(ns, table)]
	if !ok {
		return nil, &domain.SchemaNotFoundError{Schema: ns.Schema, Table: table}
	}
	cols := make([]domain.RawColumn, len(t.columns))
	for i, c := range t.columns {
		cols[i] = domain.RawColumn{Name: c.name, StorageType: c.storage, NativeType: c.native, GeometrySubtype: c.subtype}
	}
	return cols, nil
}

// CreateTable implements domain.PhysicalStore.
func (s *FakeStore) CreateTable(_ context.Context, ns domain.Namespace, table string) error {
	if err := s.hook("CreateTable", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[key(ns, table)]; ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42P07", Message: fmt.Sprintf(`relation "%s" already exists`, table)}
	}
	t := &fakeTable{nextID: 1}
	cartodbify(t)
	s.tables[key(ns, table)] = t
	return nil
}

// Cartodbify implements domain.PhysicalStore.
func (s *FakeStore) Cartodbify(_ context.Context, ns domain.Namespace, table string) error {
	if err := s.hook("Cartodbify", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	cartodbify(t)
	for _, r := range t.rows {
		if _, ok := r[domain.ColumnID]; !ok {
			r[domain.ColumnID] = t.nextID
			t.nextID++
		}
	}
	return nil
}

func cartodbify(t *fakeTable) {
	want := []fakeColumn{
		newFakeColumn(domain.ColumnID, "bigint"),
		newFakeColumn(domain.ColumnGeometry, "geometry"),
		newFakeColumn(domain.ColumnGeometryMercator, "geometry"),
		newFakeColumn(domain.ColumnCreatedAt, "timestamp with time zone"),
		newFakeColumn(domain.ColumnUpdatedAt, "timestamp with time zone"),
	}
	for _, c := range want {
		if _, ok := t.column(c.name); !ok {
			t.columns = append(t.columns, c)
		}
	}
}

// SampleGeometryTypes implements domain.PhysicalStore.
func (s *FakeStore) SampleGeometryTypes(_ context.Context, ns domain.Namespace, table string, limit int) ([]string, error) {
	if err := s.hook("SampleGeometryTypes", table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return nil, err
	}
	var types []string
	for _, r := range t.rows {
		if len(types) == limit {
			break
		}
		if g, ok := r[domain.ColumnGeometry].(FakeGeometry); ok {
			types = append(types, g.Type)
		}
	}
	return types, nil
}

// ConvertGeometryColumn implements domain.PhysicalStore.
func (s *FakeStore) ConvertGeometryColumn(_ context.Context, ns domain.Namespace, table string, kind domain.GeometryKind) error {
	if err := s.hook("ConvertGeometryColumn", table); err != nil {
		return err
	}
	if !kind.IsCanonical() {
		return &domain.UnsupportedGeometryKindError{Kind: string(kind)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	c, ok := t.column(domain.ColumnGeometry)
	if !ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42703", Message: `column "the_geom" does not exist`}
	}
	for _, r := range t.rows {
		if g, ok := r[domain.ColumnGeometry].(FakeGeometry); ok {
			r[domain.ColumnGeometry] = FakeGeometry{Type: canonicalType(g.Type, &kind)}
		}
	}
	c.subtype = kind.PostGISName()
	c.native = fmt.Sprintf("geometry(%s,%d)", c.subtype, domain.DefaultSRID)
	s.Conversions = append(s.Conversions, table+":"+string(kind))
	return nil
}

// AlterColumnType implements domain.PhysicalStore.
func (s *FakeStore) AlterColumnType(_ context.Context, ns domain.Namespace, table, column, storageType string) error {
	if err := s.hook("AlterColumnType", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	c, ok := t.column(column)
	if !ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42703", Message: fmt.Sprintf(`column "%s" does not exist`, column)}
	}
	*c = newFakeColumn(column, storageType)
	s.Alters = append(s.Alters, fmt.Sprintf("%s.%s:%s", table, column, storageType))
	return nil
}

// AddColumn implements domain.PhysicalStore.
func (s *FakeStore) AddColumn(_ context.Context, ns domain.Namespace, table, column, storageType string) error {
	if err := s.hook("AddColumn", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	if _, ok := t.column(column); ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42701", Message: fmt.Sprintf(`column "%s" of relation "%s" already exists`, column, table)}
	}
	t.columns = append(t.columns, newFakeColumn(column, storageType))
	return nil
}

// DropColumn implements domain.PhysicalStore.
func (s *FakeStore) DropColumn(_ context.Context, ns domain.Namespace, table, column string) error {
	if err := s.hook("DropColumn", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	for i, c := range t.columns {
		if c.name == column {
			t.columns = append(t.columns[:i], t.columns[i+1:]...)
			for _, r := range t.rows {
				delete(r, column)
			}
			return nil
		}
	}
	return &pgconn.PgError{Severity: "ERROR", Code: "42703", Message: fmt.Sprintf(`column "%s" of relation "%s" does not exist`, column, table)}
}

// RenameColumn implements domain.PhysicalStore.
func (s *FakeStore) RenameColumn(_ context.Context, ns domain.Namespace, table, from, to string) error {
	if err := s.hook("RenameColumn", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return err
	}
	c, ok := t.column(from)
	if !ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42703", Message: fmt.Sprintf(`column "%s" does not exist`, from)}
	}
	c.name = to
	for _, r := range t.rows {
		if v, ok := r[from]; ok {
			r[to] = v
			delete(r, from)
		}
	}
	return nil
}

// InsertRow implements domain.PhysicalStore.
func (s *FakeStore) InsertRow(_ context.Context, ns domain.Namespace, table string, values map[string]any) (int64, error) {
	if err := s.hook("InsertRow", table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return 0, err
	}
	row, err := coerceRow(t, values)
	if err != nil {
		return 0, err
	}
	id := t.nextID
	t.nextID++
	row[domain.ColumnID] = id
	t.rows = append(t.rows, row)
	return id, nil
}

// UpdateRow implements domain.PhysicalStore.
func (s *FakeStore) UpdateRow(_ context.Context, ns domain.Namespace, table string, id int64, values map[string]any) (int64, error) {
	if err := s.hook("UpdateRow", table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return 0, err
	}
	coerced, err := coerceRow(t, values)
	if err != nil {
		return 0, err
	}
	r := t.row(id)
	if r == nil {
		return 0, nil
	}
	for k, v := range coerced {
		r[k] = v
	}
	return 1, nil
}

// SetGeometry implements domain.PhysicalStore.
func (s *FakeStore) SetGeometry(_ context.Context, ns domain.Namespace, table string, id int64, geojson string, kind *domain.GeometryKind) (int64, error) {
	if err := s.hook("SetGeometry", table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, table)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(geojson), &payload); err != nil || payload.Type == "" {
		return 0, &pgconn.PgError{Severity: "ERROR", Code: "XX000", Message: "unknown GeoJSON type"}
	}
	gtype := canonicalType(strings.ToUpper(payload.Type), kind)
	c, ok := t.column(domain.ColumnGeometry)
	if !ok {
		return 0, &pgconn.PgError{Severity: "ERROR", Code: "42703", Message: `column "the_geom" does not exist`}
	}
	if err := checkGeometryType(c, gtype); err != nil {
		return 0, err
	}
	r := t.row(id)
	if r == nil {
		return 0, nil
	}
	r[domain.ColumnGeometry] = FakeGeometry{Type: gtype}
	r[domain.ColumnGeometryMercator] = FakeGeometry{Type: gtype}
	return 1, nil
}

// RenameTable implements domain.PhysicalStore.
func (s *FakeStore) RenameTable(_ context.Context, ns domain.Namespace, from, to string) error {
	if err := s.hook("RenameTable", from); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(ns, from)
	if err != nil {
		return err
	}
	if _, ok := s.tables[key(ns, to)]; ok {
		return &pgconn.PgError{Severity: "ERROR", Code: "42P07", Message: fmt.Sprintf(`relation "%s" already exists`, to)}
	}
	delete(s.tables, key(ns, from))
	s.tables[key(ns, to)] = t
	return nil
}

// DropTable implements domain.PhysicalStore.
func (s *FakeStore) DropTable(_ context.Context, ns domain.Namespace, table string) error {
	if err := s.hook("DropTable", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, key(ns, table))
	return nil
}

// TouchMetadata implements domain.PhysicalStore.
func (s *FakeStore) TouchMetadata(_ context.Context, ns domain.Namespace, table string) error {
	if err := s.hook("TouchMetadata", table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touched = append(s.Touched, key(ns, table))
	return nil
}

// Estimates implements domain.PhysicalStore. Every row counts as 64 bytes.
func (s *FakeStore) Estimates(_ context.Context, ns domain.Namespace, table string) (int64, int64, error) {
	if err := s.hook("Estimates", table); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[key(ns, table)]
	if !ok {
		return 0, 0, &domain.SchemaNotFoundError{Schema: ns.Schema, Table: table}
	}
	n := int64(len(t.rows))
	return n, n * 64, nil
}

func coerceRow(t *fakeTable, values map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(values))
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	for _, name := range cols {
		c, ok := t.column(name)
		if !ok {
			return nil, &pgconn.PgError{Severity: "ERROR", Code: "42703",
				Message: fmt.Sprintf(`column "%s" of relation does not exist`, name)}
		}
		text, err := domain.TextValue(values[name])
		if err != nil {
			return nil, err
		}
		if text == nil {
			row[name] = nil
			continue
		}
		v, err := parseAs(c, text.(string))
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	return row, nil
}

var varcharLenRe = regexp.MustCompile(`^character varying\((\d+)\)$`)

func parseAs(c *fakeColumn, v string) (any, error) {
	switch c.storage {
	case "smallint", "integer", "bigint":
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, invalidInput(c.storage, v)
		}
		if (c.storage == "integer" && (n < -1<<31 || n > 1<<31-1)) ||
			(c.storage == "smallint" && (n < -1<<15 || n > 1<<15-1)) {
			return nil, &pgconn.PgError{Severity: "ERROR", Code: "22003",
				Message: fmt.Sprintf(`value "%s" is out of range for type %s`, v, c.storage)}
		}
		return n, nil
	case "real", "double precision", "numeric":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, invalidInput(c.storage, v)
		}
		return f, nil
	case "boolean":
		switch strings.ToLower(v) {
		case "t", "true", "yes", "y", "on", "1":
			return true, nil
		case "f", "false", "no", "n", "off", "0":
			return false, nil
		}
		return nil, invalidInput(c.storage, v)
	case "character varying":
		if m := varcharLenRe.FindStringSubmatch(c.native); m != nil {
			n, _ := strconv.Atoi(m[1])
			if len([]rune(v)) > n {
				return nil, &pgconn.PgError{Severity: "ERROR", Code: "22001",
					Message: fmt.Sprintf("value too long for type %s", c.native)}
			}
		}
		return v, nil
	case "date", "timestamp with time zone", "timestamp without time zone":
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, nil
			}
		}
		return nil, &pgconn.PgError{Severity: "ERROR", Code: "22007",
			Message: fmt.Sprintf(`invalid input syntax for type %s: "%s"`, c.storage, v)}
	case "geometry":
		gtype := literalType(v)
		if gtype == "" {
			return nil, &pgconn.PgError{Severity: "ERROR", Code: "XX000", Message: "parse error - invalid geometry"}
		}
		if err := checkGeometryType(c, gtype); err != nil {
			return nil, err
		}
		return FakeGeometry{Type: gtype}, nil
	default:
		return v, nil
	}
}

func invalidInput(typ, v string) error {
	return &pgconn.PgError{Severity: "ERROR", Code: "22P02",
		Message: fmt.Sprintf(`invalid input syntax for type %s: "%s"`, typ, v)}
}

func checkGeometryType(c *fakeColumn, gtype string) error {
	if c.subtype == "" || c.subtype == "Geometry" || strings.EqualFold(c.subtype, gtype) {
		return nil
	}
	return &pgconn.PgError{Severity: "ERROR", Code: "22023",
		Message: fmt.Sprintf("Geometry type (%s) does not match column type (%s)", gtype, c.subtype)}
}

// literalType extracts the type name from EWKT such as "SRID=4326;POINT(1 2)".
func literalType(v string) string {
	if _, rest, ok := strings.Cut(v, ";"); ok {
		v = rest
	}
	i := strings.IndexAny(v, "( ")
	if i <= 0 {
		return ""
	}
	return strings.ToUpper(v[:i])
}

// canonicalType mirrors ddl.CanonicalGeometryExpr on type names.
func canonicalType(gtype string, kind *domain.GeometryKind) string {
	if kind == nil {
		return gtype
	}
	switch *kind {
	case domain.GeometryMultiPolygon, domain.GeometryPolygon:
		if gtype == "POLYGON" {
			return "MULTIPOLYGON"
		}
	case domain.GeometryMultiLineString, domain.GeometryLineString:
		if gtype == "LINESTRING" {
			return "MULTILINESTRING"
		}
	case domain.GeometryPoint, domain.GeometryMultiPoint:
		if gtype == "MULTIPOINT" {
			return "POINT"
		}
	}
	return gtype
}
