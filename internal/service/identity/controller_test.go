package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
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

type recordingInvalidator struct{ ids []string }

func (r *recordingInvalidator) Invalidate(id string) { r.ids = append(r.ids, id) }

type fixture struct {
	store      *testutil.FakeStore
	tables     *repository.TableRepo
	repo       *repository.DependentRepo
	dependents *testutil.MockDependentRegistry
	counters   *testutil.MockUsageCounters
	kinds      *cache.GeometryKinds
	schemas    *recordingInvalidator
	ctrl       *Controller
	owner      *domain.Owner
	table      *domain.TableIdentity
	canonical  *domain.Visualization
}

// setup creates table "cities" with an overview, a canonical visualization,
// and an analysis node reading from it.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	owner, err := repository.NewOwnerRepo(writeDB).Create(ctx, &domain.Owner{
		Username: "alice", Schema: "alice", DatabaseRole: "alice_role",
	})
	require.NoError(t, err)

	f := &fixture{
		store:    testutil.NewFakeStore(),
		tables:   repository.NewTableRepo(writeDB),
		repo:     repository.NewDependentRepo(writeDB),
		counters: &testutil.MockUsageCounters{},
		kinds:    cache.NewGeometryKinds(time.Minute, time.Hour),
		schemas:  &recordingInvalidator{},
		owner:    owner,
	}
	f.dependents = &testutil.MockDependentRegistry{Base: f.repo}
	f.ctrl = NewController(Deps{
		Store:      f.store,
		Tables:     f.tables,
		Dependents: f.dependents,
		Counters:   f.counters,
		Kinds:      f.kinds,
		Schemas:    f.schemas,
		Logger:     slog.New(slog.DiscardHandler),
	})

	ns := owner.Namespace()
	require.NoError(t, f.store.CreateTable(ctx, ns, "cities"))
	require.NoError(t, f.store.CreateTable(ctx, ns, "_vovw_1_cities"))
	f.table, err = f.tables.Create(ctx, &domain.TableIdentity{OwnerID: owner.ID, Name: "cities", State: domain.TableStateReady})
	require.NoError(t, err)
	require.NoError(t, f.repo.AddOverview(ctx, &domain.Overview{TableID: f.table.ID, Name: "_vovw_1_cities", Zoom: 1}))

	f.canonical, err = f.repo.CreateVisualization(ctx, &domain.Visualization{
		OwnerID: owner.ID, TableID: &f.table.ID, Name: "cities", Kind: domain.VisualizationCanonical,
	})
	require.NoError(t, err)
	f.layer(t, f.canonical.ID, "cities")
	_, err = f.repo.CreateAnalysisNode(ctx, &domain.AnalysisNode{OwnerID: owner.ID, NodeID: "a0", SourceTable: "cities"})
	require.NoError(t, err)
	return f
}

func (f *fixture) layer(t *testing.T, visualizationID, table string) {
	t.Helper()
	_, err := f.repo.CreateLayer(context.Background(), &domain.Layer{
		VisualizationID: visualizationID, OwnerID: f.owner.ID, Kind: domain.LayerData, TableName: table,
	})
	require.NoError(t, err)
}

func (f *fixture) derived(t *testing.T, name string, tables ...string) *domain.Visualization {
	t.Helper()
	v, err := f.repo.CreateVisualization(context.Background(), &domain.Visualization{OwnerID: f.owner.ID, Name: name})
	require.NoError(t, err)
	for _, tbl := range tables {
		f.layer(t, v.ID, tbl)
	}
	return v
}

func (f *fixture) exists(t *testing.T, table string) bool {
	t.Helper()
	ok, err := f.store.TableExists(context.Background(), f.owner.Namespace(), table)
	require.NoError(t, err)
	return ok
}

func TestRename(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.derived(t, "tour", "cities")

	report, err := f.ctrl.Rename(ctx, f.owner, f.table, "towns")
	require.NoError(t, err)
	assert.False(t, report.Failed())

	assert.False(t, f.exists(t, "cities"))
	assert.True(t, f.exists(t, "towns"))
	assert.True(t, f.exists(t, "_vovw_1_towns"))
	assert.False(t, f.exists(t, "_vovw_1_cities"))

	assert.Equal(t, "towns", f.table.Name)
	assert.Nil(t, f.table.PendingRename)
	stored, err := f.tables.Get(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "towns", stored.Name)
	assert.Nil(t, stored.PendingRename)

	canonical, err := f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "towns", canonical.Name)

	layers, err := f.repo.LayersForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	assert.Len(t, layers, 2)
	analyses, err := f.repo.AnalysesForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	assert.Len(t, analyses, 1)
	overviews, err := f.repo.Overviews(ctx, f.table.ID)
	require.NoError(t, err)
	require.Len(t, overviews, 1)
	assert.Equal(t, "_vovw_1_towns", overviews[0].Name)

	assert.Contains(t, f.schemas.ids, f.table.ID)
}

func TestRename_RoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ns := f.owner.Namespace()
	f.derived(t, "tour", "cities")
	require.NoError(t, f.store.AddColumn(ctx, ns, "cities", "name", "text"))
	point := domain.GeometryPoint
	f.table.GeometryKind = &point
	require.NoError(t, f.tables.Update(ctx, f.table))

	columnsBefore, err := f.store.Columns(ctx, ns, "cities")
	require.NoError(t, err)
	layersBefore, err := f.repo.LayersForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	require.Len(t, layersBefore, 2)

	_, err = f.ctrl.Rename(ctx, f.owner, f.table, "towns")
	require.NoError(t, err)
	_, err = f.ctrl.Rename(ctx, f.owner, f.table, "cities")
	require.NoError(t, err)

	stored, err := f.tables.Get(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "cities", stored.Name)
	assert.Nil(t, stored.PendingRename)
	require.NotNil(t, stored.GeometryKind)
	assert.Equal(t, domain.GeometryPoint, *stored.GeometryKind)

	columnsAfter, err := f.store.Columns(ctx, ns, "cities")
	require.NoError(t, err)
	assert.Equal(t, columnsBefore, columnsAfter)

	layersAfter, err := f.repo.LayersForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.ElementsMatch(t, layersBefore, layersAfter)
	towns, err := f.repo.LayersForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	assert.Empty(t, towns)

	analyses, err := f.repo.AnalysesForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.Len(t, analyses, 1)
	canonical, err := f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "cities", canonical.Name)

	assert.True(t, f.exists(t, "_vovw_1_cities"))
	assert.False(t, f.exists(t, "_vovw_1_towns"))
	assert.False(t, f.exists(t, "towns"))
}

func TestRename_ReservedPrefixUsesTemporaryName(t *testing.T) {
	f := setup(t)
	var renamed []string
	f.store.Hook = func(op, table string) error {
		if op == "RenameTable" {
			renamed = append(renamed, table)
		}
		return nil
	}

	_, err := f.ctrl.Rename(context.Background(), f.owner, f.table, "_staging")
	require.NoError(t, err)

	// Overview first, then the relation in two hops.
	require.Len(t, renamed, 3)
	assert.Equal(t, "_vovw_1_cities", renamed[0])
	assert.Equal(t, "cities", renamed[1])
	assert.True(t, strings.HasPrefix(renamed[2], "t_"), renamed[2])
	assert.True(t, f.exists(t, "_staging"))
	assert.False(t, f.exists(t, renamed[2]))
}

func TestRename_Validation(t *testing.T) {
	tests := []struct {
		name    string
		newName string
		prepare func(t *testing.T, f *fixture)
	}{
		{name: "illegal identifier", newName: "my-table"},
		{name: "reserved word", newName: "select"},
		{name: "same name", newName: "cities"},
		{
			name:    "identity collision",
			newName: "rivers",
			prepare: func(t *testing.T, f *fixture) {
				_, err := f.tables.Create(context.Background(), &domain.TableIdentity{OwnerID: f.owner.ID, Name: "rivers"})
				require.NoError(t, err)
			},
		},
		{
			name:    "relation collision",
			newName: "rivers",
			prepare: func(t *testing.T, f *fixture) {
				require.NoError(t, f.store.CreateTable(context.Background(), f.owner.Namespace(), "rivers"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			report, err := f.ctrl.Rename(context.Background(), f.owner, f.table, tt.newName)
			var invalid *domain.InvalidTableNameError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.newName, invalid.Name)
			assert.True(t, domain.IsUserError(err))

			assert.Equal(t, domain.StepFailed, report.Steps[0].Status)
			for _, s := range report.Steps[1:] {
				assert.Equal(t, domain.StepSkipped, s.Status, s.Name)
			}
			assert.Equal(t, "cities", f.table.Name)
			assert.Nil(t, f.table.PendingRename)
			assert.True(t, f.exists(t, "cities"))
		})
	}
}

func TestRename_PropagationFailureIsNotRolledBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.dependents.RenameLayerTableFn = func(context.Context, string, string) error {
		return errors.New("layer store unavailable")
	}

	report, err := f.ctrl.Rename(ctx, f.owner, f.table, "towns")
	var incomplete *domain.PropagationIncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Same(t, report, incomplete.Report)
	assert.Contains(t, err.Error(), "propagate to layers")

	step, _ := report.Step("propagate to layers")
	assert.Equal(t, domain.StepFailed, step.Status)
	step, _ = report.Step("propagate to analyses")
	assert.Equal(t, domain.StepOK, step.Status)
	step, _ = report.Step("clear pending rename")
	assert.Equal(t, domain.StepSkipped, step.Status)

	// The relation stays renamed and the marker records the old name.
	assert.True(t, f.exists(t, "towns"))
	stored, err := f.tables.Get(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "towns", stored.Name)
	require.NotNil(t, stored.PendingRename)
	assert.Equal(t, "cities", *stored.PendingRename)

	stale, err := f.repo.LayersForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	// Once the layer store recovers, reconcile finishes the job.
	f.dependents.RenameLayerTableFn = nil
	report, err = f.ctrl.Reconcile(ctx, f.owner, stored)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Nil(t, stored.PendingRename)

	layers, err := f.repo.LayersForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	assert.Len(t, layers, 1)
}

func TestReconcile_NothingPending(t *testing.T) {
	f := setup(t)
	report, err := f.ctrl.Reconcile(context.Background(), f.owner, f.table)
	require.NoError(t, err)
	assert.Empty(t, report.Steps)
}

func TestRename_RelationFailureAborts(t *testing.T) {
	f := setup(t)
	f.store.Hook = func(op, table string) error {
		if op == "RenameTable" && table == "cities" {
			return errors.New("lock timeout")
		}
		return nil
	}

	report, err := f.ctrl.Rename(context.Background(), f.owner, f.table, "towns")
	require.EqualError(t, err, "lock timeout")
	step, _ := report.Step("propagate to layers")
	assert.Equal(t, domain.StepSkipped, step.Status)
	assert.Equal(t, "cities", f.table.Name)
	require.NotNil(t, f.table.PendingRename)
}

func TestDestroy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	full := f.derived(t, "only cities", "cities")
	partial := f.derived(t, "mixed", "cities", "rivers")
	require.NoError(t, f.repo.TagTable(ctx, f.table.ID, "europe"))
	_, err := f.repo.CreateSyncJob(ctx, &domain.SyncJob{
		TableID: f.table.ID, OwnerID: f.owner.ID, URL: "https://example.com/cities.csv", Schedule: "0 * * * *",
	})
	require.NoError(t, err)
	f.kinds.Remember(f.table.ID, domain.GeometryPoint, true)

	report, err := f.ctrl.Destroy(ctx, f.owner, f.table, DestroyOptions{})
	require.NoError(t, err)
	assert.False(t, report.Failed())

	_, err = f.tables.Get(ctx, f.table.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	canonical, err := f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Nil(t, canonical)

	layers, err := f.repo.LayersForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.Empty(t, layers)

	// The partial visualization survives on its remaining table.
	deps, err := f.repo.DependentVisualizations(ctx, f.owner.ID, "rivers")
	require.NoError(t, err)
	require.Len(t, deps.Full, 1)
	assert.Equal(t, partial.ID, deps.Full[0].ID)
	assert.NotEqual(t, full.ID, deps.Full[0].ID)

	tags, err := f.repo.TableTags(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
	job, err := f.repo.SyncJobForTable(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Nil(t, job)

	assert.Equal(t, -1, f.counters.Tables[f.owner.ID])
	_, cached := f.kinds.Get(f.table.ID)
	assert.False(t, cached)
	assert.Equal(t, []string{"alice.cities"}, f.store.Touched)
	assert.False(t, f.exists(t, "cities"))
	assert.False(t, f.exists(t, "_vovw_1_cities"))
}

func TestDestroy_KeepPhysicalData(t *testing.T) {
	f := setup(t)

	report, err := f.ctrl.Destroy(context.Background(), f.owner, f.table, DestroyOptions{KeepPhysicalData: true})
	require.NoError(t, err)

	step, _ := report.Step("drop relation")
	assert.Equal(t, domain.StepSkipped, step.Status)
	assert.True(t, f.exists(t, "cities"))
	assert.True(t, f.exists(t, "_vovw_1_cities"))
}

func TestDestroy_MissingRelation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.store.DropTable(ctx, f.owner.Namespace(), "cities"))

	report, err := f.ctrl.Destroy(ctx, f.owner, f.table, DestroyOptions{})
	require.NoError(t, err)

	step, _ := report.Step("touch table metadata")
	assert.Equal(t, domain.StepSkipped, step.Status)
	assert.Empty(t, f.store.Touched)
}

func TestDestroy_BestEffortFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.dependents.RemoveTableTagsFn = func(context.Context, string) error { return errors.New("tags down") }
	f.counters.Err = errors.New("counters down")

	report, err := f.ctrl.Destroy(ctx, f.owner, f.table, DestroyOptions{})
	require.NoError(t, err)
	assert.True(t, report.Failed())

	for _, name := range []string{"remove tags", "decrement usage counters"} {
		step, ok := report.Step(name)
		require.True(t, ok)
		assert.Equal(t, domain.StepFailed, step.Status, name)
	}
	step, _ := report.Step("forget identity")
	assert.Equal(t, domain.StepOK, step.Status)
	assert.False(t, f.exists(t, "cities"))
}

func TestDestroy_RequiredFailureAborts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.dependents.DeleteVisualizationFn = func(context.Context, string) error { return errors.New("metastore locked") }

	report, err := f.ctrl.Destroy(ctx, f.owner, f.table, DestroyOptions{})
	require.EqualError(t, err, "metastore locked")

	for _, s := range report.Steps[2:] {
		assert.Equal(t, domain.StepSkipped, s.Status, s.Name)
	}
	_, err = f.tables.Get(ctx, f.table.ID)
	require.NoError(t, err)
	assert.True(t, f.exists(t, "cities"))
	assert.Empty(t, f.counters.Tables)
}
