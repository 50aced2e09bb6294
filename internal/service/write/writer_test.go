package write

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geotables/internal/cache"
	internaldb "geotables/internal/db"
	"geotables/internal/db/repository"
	"geotables/internal/domain"
	"geotables/internal/service/geometry"
	"geotables/internal/service/schema"
	"geotables/internal/testutil"
)

var ns = domain.Namespace{Schema: "alice", Role: "alice_role"}

type fixture struct {
	store  *testutil.FakeStore
	tables *repository.TableRepo
	owner  *domain.Owner
	writer *Writer
}

func setup(t *testing.T, updateCap int) *fixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	owner, err := repository.NewOwnerRepo(writeDB).Create(context.Background(), &domain.Owner{
		Username: "alice", Schema: ns.Schema, DatabaseRole: ns.Role,
	})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	f := &fixture{store: testutil.NewFakeStore(), tables: repository.NewTableRepo(writeDB), owner: owner}
	kinds := cache.NewGeometryKinds(time.Minute, time.Hour)
	norm := geometry.NewNormalizer(f.store, f.tables, kinds, logger)
	f.writer = NewWriter(Deps{
		Store:     f.store,
		Reader:    schema.NewReader(f.store, norm, time.Minute, logger),
		Kinds:     norm,
		KindCache: kinds,
		UpdateCap: updateCap,
		Logger:    logger,
	})
	return f
}

// table creates a cartodbified relation with extra columns (name → type).
func (f *fixture) table(t *testing.T, name string, columns ...string) *domain.TableIdentity {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateTable(ctx, ns, name))
	for i := 0; i+1 < len(columns); i += 2 {
		require.NoError(t, f.store.AddColumn(ctx, ns, name, columns[i], columns[i+1]))
	}
	tbl, err := f.tables.Create(ctx, &domain.TableIdentity{OwnerID: f.owner.ID, Name: name, State: domain.TableStateReady})
	require.NoError(t, err)
	return tbl
}

func TestInsertRow_Basic(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "cities", "name", "character varying(20)", "population", "integer")

	id, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"name": "Madrid", "population": 3300000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rows := f.store.Rows(ns, "cities")
	require.Len(t, rows, 1)
	assert.Equal(t, "Madrid", rows[0]["name"])
	assert.Equal(t, int64(3300000), rows[0]["population"])
	assert.Empty(t, f.store.Alters)
}

func TestInsertRow_UnknownAttributes(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "cities", "name", "text")

	_, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"name": "x", "zeta": 1, "alpha": 2})
	var invalid *domain.InvalidAttributesError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"alpha", "zeta"}, invalid.Keys)
	assert.Empty(t, f.store.Rows(ns, "cities"))
}

func TestInsertRow_DropsIDWhenSchemaLacksIt(t *testing.T) {
	f := setup(t, 0)
	f.store.AddRelation(ns, "raw", []string{"name"}, map[string]string{"name": "text"})
	tbl, err := f.tables.Create(context.Background(), &domain.TableIdentity{OwnerID: f.owner.ID, Name: "raw"})
	require.NoError(t, err)

	_, err = f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"cartodb_id": 7, "name": "x"})
	require.NoError(t, err)
	assert.Len(t, f.store.Rows(ns, "raw"), 1)
}

func TestInsertRow_Widening(t *testing.T) {
	tests := []struct {
		name       string
		columns    []string
		attrs      map[string]any
		wantAlters []string
	}{
		{
			name:       "integer to double precision",
			columns:    []string{"population", "integer"},
			attrs:      map[string]any{"population": 3.5},
			wantAlters: []string{"t.population:double precision"},
		},
		{
			name:       "integer out of range",
			columns:    []string{"population", "integer"},
			attrs:      map[string]any{"population": int64(99999999999)},
			wantAlters: []string{"t.population:double precision"},
		},
		{
			name:       "varchar too long to text",
			columns:    []string{"name", "character varying(5)"},
			attrs:      map[string]any{"name": "Barcelona"},
			wantAlters: []string{"t.name:text"},
		},
		{
			name:    "two columns in one write",
			columns: []string{"name", "character varying(5)", "population", "integer"},
			attrs:   map[string]any{"name": "Barcelona", "population": 1.25},
			wantAlters: []string{
				"t.name:text",
				"t.population:double precision",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, 0)
			tbl := f.table(t, "t", tt.columns...)

			_, err := f.writer.InsertRow(context.Background(), ns, tbl, tt.attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlters, f.store.Alters)

			rows := f.store.Rows(ns, "t")
			require.Len(t, rows, 1)
			for k := range tt.attrs {
				assert.NotNil(t, rows[0][k], k)
			}
		})
	}
}

func TestInsertRow_NoWideningAvailable(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "t", "capital", "boolean")

	_, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"capital": "maybe"})
	var noWidening *domain.NoWideningAvailableError
	require.ErrorAs(t, err, &noWidening)
	assert.Equal(t, "capital", noWidening.Column)
	assert.Empty(t, f.store.Alters)
	assert.Empty(t, f.store.Rows(ns, "t"))
}

func TestInsertRow_WidensEveryColumnBelowInsertCap(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "t", "a", "integer", "b", "integer", "c", "integer", "d", "integer")

	_, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"a": 0.5, "b": 1.5, "c": 2.5, "d": 3.5})
	require.NoError(t, err)
	assert.Len(t, f.store.Alters, 4)
}

func TestUpdateRow_WideningCap(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "t", "a", "integer", "b", "integer", "c", "integer", "d", "integer")
	ctx := context.Background()
	id, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{"a": 1, "b": 2, "c": 3, "d": 4})
	require.NoError(t, err)

	_, err = f.writer.UpdateRow(ctx, ns, tbl, id, map[string]any{"a": 0.5, "b": 1.5, "c": 2.5, "d": 3.5})
	var exhausted *domain.WideningExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultUpdateWideningCap, exhausted.Attempts)

	// Widenings done before the cap are durable.
	assert.Equal(t, []string{"t.a:double precision", "t.b:double precision", "t.c:double precision"}, f.store.Alters)
	assert.Equal(t, "double precision", f.store.ColumnType(ns, "t", "a"))
	assert.Equal(t, "integer", f.store.ColumnType(ns, "t", "d"))
	assert.Equal(t, int64(1), f.store.Rows(ns, "t")[0]["a"])
}

func TestUpdateRow_CustomCap(t *testing.T) {
	f := setup(t, 1)
	tbl := f.table(t, "t", "a", "integer", "b", "integer")
	ctx := context.Background()
	id, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	_, err = f.writer.UpdateRow(ctx, ns, tbl, id, map[string]any{"a": 0.5, "b": 1.5})
	var exhausted *domain.WideningExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Len(t, f.store.Alters, 1)
}

func TestUpdateRow(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "t", "population", "integer")
	ctx := context.Background()
	id, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{"population": 10})
	require.NoError(t, err)

	n, err := f.writer.UpdateRow(ctx, ns, tbl, id, map[string]any{"population": 10.5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 10.5, f.store.Rows(ns, "t")[0]["population"])

	n, err = f.writer.UpdateRow(ctx, ns, tbl, 99, map[string]any{"population": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertRow_GeoJSONEstablishesKind(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "places", "name", "text")
	ctx := context.Background()

	_, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{
		"name":     "Sol",
		"the_geom": `{"type":"Point","coordinates":[-3.70,40.41]}`,
	})
	require.NoError(t, err)

	require.NotNil(t, tbl.GeometryKind)
	assert.Equal(t, domain.GeometryPoint, *tbl.GeometryKind)
	assert.Equal(t, []string{"places:point"}, f.store.Conversions)
	assert.Equal(t, testutil.FakeGeometry{Type: "POINT"}, f.store.Rows(ns, "places")[0]["the_geom"])

	stored, err := f.tables.Get(ctx, tbl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GeometryKind)
	assert.Equal(t, domain.GeometryPoint, *stored.GeometryKind)
}

func TestInsertRow_PolygonsBecomeMultiPolygons(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "parcels")
	ctx := context.Background()
	square := map[string]any{
		"type":        "Polygon",
		"coordinates": []any{[]any{[]any{0, 0}, []any{1, 0}, []any{1, 1}, []any{0, 0}}},
	}

	_, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{"the_geom": square})
	require.NoError(t, err)
	require.NotNil(t, tbl.GeometryKind)
	assert.Equal(t, domain.GeometryMultiPolygon, *tbl.GeometryKind)

	_, err = f.writer.InsertRow(ctx, ns, tbl, map[string]any{"the_geom": square})
	require.NoError(t, err)

	for _, r := range f.store.Rows(ns, "parcels") {
		assert.Equal(t, testutil.FakeGeometry{Type: "MULTIPOLYGON"}, r["the_geom"])
	}
}

func TestInsertRow_MalformedGeometryKeepsAttributes(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "places", "name", "text")

	id, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{"name": "kept", "the_geom": "{not json"})
	var invalid *domain.InvalidGeometryFormatError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int64(1), id)

	rows := f.store.Rows(ns, "places")
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0]["name"])
	assert.Nil(t, rows[0]["the_geom"])
	assert.Nil(t, tbl.GeometryKind)
}

func TestInsertRow_GeometryLiteral(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "places")

	_, err := f.writer.InsertRow(context.Background(), ns, tbl, map[string]any{
		"the_geom": domain.GeometryLiteral("SRID=4326;LINESTRING(0 0,1 1)"),
	})
	require.NoError(t, err)
	require.NotNil(t, tbl.GeometryKind)
	assert.Equal(t, domain.GeometryMultiLineString, *tbl.GeometryKind)
	assert.Equal(t, testutil.FakeGeometry{Type: "MULTILINESTRING"}, f.store.Rows(ns, "places")[0]["the_geom"])
}

func TestUpdateRow_GeometryOnly(t *testing.T) {
	f := setup(t, 0)
	tbl := f.table(t, "places", "name", "text")
	ctx := context.Background()
	id, err := f.writer.InsertRow(ctx, ns, tbl, map[string]any{"name": "a"})
	require.NoError(t, err)
	assert.Nil(t, tbl.GeometryKind)

	n, err := f.writer.UpdateRow(ctx, ns, tbl, id, map[string]any{
		"the_geom": map[string]any{"type": "Point", "coordinates": []any{1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NotNil(t, tbl.GeometryKind)
	assert.Equal(t, domain.GeometryPoint, *tbl.GeometryKind)
}
