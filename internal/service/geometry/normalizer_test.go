package geometry

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
	"geotables/internal/testutil"
)

var ns = domain.Namespace{Schema: "alice", Role: "alice_role"}

type fixture struct {
	store  *testutil.FakeStore
	tables *repository.TableRepo
	kinds  *cache.GeometryKinds
	norm   *Normalizer
	owner  *domain.Owner
}

func setup(t *testing.T) *fixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	owner, err := repository.NewOwnerRepo(writeDB).Create(context.Background(), &domain.Owner{
		Username: "alice", Schema: ns.Schema, DatabaseRole: ns.Role,
	})
	require.NoError(t, err)
	f := &fixture{
		store:  testutil.NewFakeStore(),
		tables: repository.NewTableRepo(writeDB),
		kinds:  cache.NewGeometryKinds(time.Minute, time.Hour),
		owner:  owner,
	}
	f.norm = NewNormalizer(f.store, f.tables, f.kinds, slog.New(slog.DiscardHandler))
	return f
}

func (f *fixture) table(t *testing.T, name string, geoms ...string) *domain.TableIdentity {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateTable(ctx, ns, name))
	for _, g := range geoms {
		_, err := f.store.InsertRow(ctx, ns, name, map[string]any{domain.ColumnGeometry: domain.GeometryLiteral(g)})
		require.NoError(t, err)
	}
	tbl, err := f.tables.Create(ctx, &domain.TableIdentity{OwnerID: f.owner.ID, Name: name, State: domain.TableStateCartodbified})
	require.NoError(t, err)
	return tbl
}

func kindPtr(k domain.GeometryKind) *domain.GeometryKind { return &k }

func TestCanonicalKind(t *testing.T) {
	tests := []struct {
		in      domain.GeometryKind
		want    domain.GeometryKind
		wantErr bool
	}{
		{in: domain.GeometryGeneric, want: domain.GeometryGeneric},
		{in: domain.GeometryPoint, want: domain.GeometryPoint},
		{in: domain.GeometryMultiPoint, want: domain.GeometryPoint},
		{in: domain.GeometryLineString, want: domain.GeometryMultiLineString},
		{in: domain.GeometryMultiLineString, want: domain.GeometryMultiLineString},
		{in: domain.GeometryPolygon, want: domain.GeometryMultiPolygon},
		{in: domain.GeometryMultiPolygon, want: domain.GeometryMultiPolygon},
		{in: "geometrycollection", wantErr: true},
		{in: "circularstring", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := CanonicalKind(tt.in)
			if tt.wantErr {
				var unsupported *domain.UnsupportedGeometryKindError
				require.ErrorAs(t, err, &unsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEstablish_DetectsAndConverts(t *testing.T) {
	tests := []struct {
		name     string
		geoms    []string
		want     domain.GeometryKind
		wantType string
	}{
		{name: "polygon", geoms: []string{"SRID=4326;POLYGON((0 0,1 0,1 1,0 0))"}, want: domain.GeometryMultiPolygon, wantType: "MULTIPOLYGON"},
		{name: "linestring", geoms: []string{"SRID=4326;LINESTRING(0 0,1 1)"}, want: domain.GeometryMultiLineString, wantType: "MULTILINESTRING"},
		{name: "multipoint", geoms: []string{"SRID=4326;MULTIPOINT((0 0),(1 1))"}, want: domain.GeometryPoint, wantType: "POINT"},
		{name: "point", geoms: []string{"SRID=4326;POINT(0 0)"}, want: domain.GeometryPoint, wantType: "POINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			tbl := f.table(t, "shapes", tt.geoms...)

			kind, err := f.norm.Establish(ctx, ns, tbl, nil)
			require.NoError(t, err)
			require.NotNil(t, kind)
			assert.Equal(t, tt.want, *kind)
			assert.Equal(t, []string{"shapes:" + string(tt.want)}, f.store.Conversions)

			rows := f.store.Rows(ns, "shapes")
			require.NotEmpty(t, rows)
			assert.Equal(t, testutil.FakeGeometry{Type: tt.wantType}, rows[0][domain.ColumnGeometry])

			persisted, err := f.tables.Get(ctx, tbl.ID)
			require.NoError(t, err)
			require.NotNil(t, persisted.GeometryKind)
			assert.Equal(t, tt.want, *persisted.GeometryKind)

			cached, ok := f.kinds.Get(tbl.ID)
			require.True(t, ok)
			assert.Equal(t, tt.want, cached)
		})
	}
}

func TestEstablish_NoGeometryStaysGeneric(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tbl := f.table(t, "empty")

	kind, err := f.norm.Establish(ctx, ns, tbl, nil)
	require.NoError(t, err)
	require.NotNil(t, kind)
	assert.Equal(t, domain.GeometryGeneric, *kind)
	assert.Empty(t, f.store.Conversions)

	persisted, err := f.tables.Get(ctx, tbl.ID)
	require.NoError(t, err)
	assert.Nil(t, persisted.GeometryKind)
	assert.Equal(t, "geometry", f.store.ColumnType(ns, "empty", domain.ColumnGeometry))
}

func TestEstablish_RequestedKind(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tbl := f.table(t, "stops")

	kind, err := f.norm.Establish(ctx, ns, tbl, kindPtr(domain.GeometryMultiPoint))
	require.NoError(t, err)
	assert.Equal(t, domain.GeometryPoint, *kind)
	assert.Equal(t, "geometry(Point,4326)", f.store.ColumnType(ns, "stops", domain.ColumnGeometry))
	require.NotNil(t, tbl.GeometryKind)
	assert.Equal(t, domain.GeometryPoint, *tbl.GeometryKind)
}

func TestEstablish_DeclaredKindNotConvertedTwice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tbl := f.table(t, "parcels")

	_, err := f.norm.Establish(ctx, ns, tbl, kindPtr(domain.GeometryPolygon))
	require.NoError(t, err)

	tbl.GeometryKind = nil
	kind, err := f.norm.Establish(ctx, ns, tbl, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.GeometryMultiPolygon, *kind)
	assert.Len(t, f.store.Conversions, 1)
}

func TestEstablish_Unsupported(t *testing.T) {
	f := setup(t)
	tbl := f.table(t, "mixed")

	_, err := f.norm.Establish(context.Background(), ns, tbl, kindPtr("geometrycollection"))
	var unsupported *domain.UnsupportedGeometryKindError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "geometrycollection", unsupported.Kind)
}

func TestEstablish_NoGeometryColumn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.store.AddRelation(ns, "plain", []string{"name"}, map[string]string{"name": "text"})
	tbl, err := f.tables.Create(ctx, &domain.TableIdentity{OwnerID: f.owner.ID, Name: "plain"})
	require.NoError(t, err)

	kind, err := f.norm.Establish(ctx, ns, tbl, nil)
	require.NoError(t, err)
	assert.Nil(t, kind)
}

func TestEstablish_MissingRelation(t *testing.T) {
	f := setup(t)
	tbl := &domain.TableIdentity{ID: "x", OwnerID: f.owner.ID, Name: "ghost"}

	_, err := f.norm.Establish(context.Background(), ns, tbl, nil)
	var notFound *domain.SchemaNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestNormalize_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	tbl := f.table(t, "roads", "SRID=4326;LINESTRING(0 0,1 1)")

	k1, err := f.norm.Normalize(ctx, ns, tbl, domain.GeometryLineString)
	require.NoError(t, err)
	k2, err := f.norm.Normalize(ctx, ns, tbl, domain.GeometryMultiLineString)
	require.NoError(t, err)
	assert.Equal(t, domain.GeometryMultiLineString, k1)
	assert.Equal(t, k1, k2)
	assert.Len(t, f.store.Conversions, 1)
}
