package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "geotables/internal/db"
	"geotables/internal/domain"
)

type dependentFixture struct {
	repo   *DependentRepo
	tables *TableRepo
	owner  *domain.Owner
	table  *domain.TableIdentity
}

func setupDependentRepo(t *testing.T) *dependentFixture {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	owner := seedOwner(t, NewOwnerRepo(writeDB), "alice")
	tables := NewTableRepo(writeDB)
	tbl, err := tables.Create(context.Background(), &domain.TableIdentity{OwnerID: owner.ID, Name: "cities"})
	require.NoError(t, err)
	return &dependentFixture{repo: NewDependentRepo(writeDB), tables: tables, owner: owner, table: tbl}
}

func (f *dependentFixture) derived(t *testing.T, name string, tables ...string) *domain.Visualization {
	t.Helper()
	ctx := context.Background()
	v, err := f.repo.CreateVisualization(ctx, &domain.Visualization{OwnerID: f.owner.ID, Name: name, Kind: domain.VisualizationDerived})
	require.NoError(t, err)
	_, err = f.repo.CreateLayer(ctx, &domain.Layer{VisualizationID: v.ID, OwnerID: f.owner.ID, Kind: domain.LayerBase})
	require.NoError(t, err)
	for i, tbl := range tables {
		_, err := f.repo.CreateLayer(ctx, &domain.Layer{
			VisualizationID: v.ID, OwnerID: f.owner.ID, Kind: domain.LayerData, TableName: tbl, Position: i + 1,
		})
		require.NoError(t, err)
	}
	return v
}

func TestDependentRepo_CanonicalVisualization(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	got, err := f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	created, err := f.repo.CreateVisualization(ctx, &domain.Visualization{
		OwnerID: f.owner.ID, TableID: &f.table.ID, Name: "cities", Kind: domain.VisualizationCanonical,
	})
	require.NoError(t, err)

	_, err = f.repo.CreateVisualization(ctx, &domain.Visualization{
		OwnerID: f.owner.ID, TableID: &f.table.ID, Name: "dup", Kind: domain.VisualizationCanonical,
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, f.repo.RenameVisualization(ctx, created.ID, "towns"))
	got, err = f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "towns", got.Name)

	require.NoError(t, f.repo.DeleteVisualization(ctx, created.ID))
	got, err = f.repo.CanonicalVisualization(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDependentRepo_DependentVisualizations(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	full := f.derived(t, "only cities", "cities", "cities")
	partial := f.derived(t, "cities and rivers", "cities", "rivers")
	f.derived(t, "rivers only", "rivers")

	deps, err := f.repo.DependentVisualizations(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	require.Len(t, deps.Full, 1)
	require.Len(t, deps.Partial, 1)
	assert.Equal(t, full.ID, deps.Full[0].ID)
	assert.Equal(t, partial.ID, deps.Partial[0].ID)

	require.NoError(t, f.repo.UnlinkVisualization(ctx, partial.ID, "cities"))
	deps, err = f.repo.DependentVisualizations(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.Len(t, deps.Full, 1)
	assert.Empty(t, deps.Partial)

	rivers, err := f.repo.LayersForTable(ctx, f.owner.ID, "rivers")
	require.NoError(t, err)
	assert.Len(t, rivers, 2)
}

func TestDependentRepo_LayersAndAnalyses(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	v := f.derived(t, "map", "cities")
	_, err := f.repo.CreateAnalysisNode(ctx, &domain.AnalysisNode{VisualizationID: &v.ID, OwnerID: f.owner.ID, NodeID: "a0", SourceTable: "cities"})
	require.NoError(t, err)

	layers, err := f.repo.LayersForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.NoError(t, f.repo.RenameLayerTable(ctx, layers[0].ID, "towns"))
	require.NoError(t, f.repo.RenameAnalysisSource(ctx, f.owner.ID, "cities", "towns"))

	layers, err = f.repo.LayersForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	assert.Len(t, layers, 1)

	nodes, err := f.repo.AnalysesForTable(ctx, f.owner.ID, "towns")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a0", nodes[0].NodeID)

	nodes, err = f.repo.AnalysesForTable(ctx, f.owner.ID, "cities")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestDependentRepo_Overviews(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	require.NoError(t, f.repo.AddOverview(ctx, &domain.Overview{TableID: f.table.ID, Name: "_vovw_2_cities", Zoom: 2}))
	require.NoError(t, f.repo.AddOverview(ctx, &domain.Overview{TableID: f.table.ID, Name: "_vovw_1_cities", Zoom: 1}))

	ovs, err := f.repo.Overviews(ctx, f.table.ID)
	require.NoError(t, err)
	require.Len(t, ovs, 2)
	assert.Equal(t, 1, ovs[0].Zoom)

	require.NoError(t, f.repo.RenameOverview(ctx, f.table.ID, "_vovw_1_cities", "_vovw_1_towns"))
	ovs, err = f.repo.Overviews(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, "_vovw_1_towns", ovs[0].Name)

	require.NoError(t, f.repo.DeleteOverviews(ctx, f.table.ID))
	ovs, err = f.repo.Overviews(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Empty(t, ovs)
}

func TestDependentRepo_SyncJobs(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	got, err := f.repo.SyncJobForTable(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	tests := []struct {
		name     string
		job      domain.SyncJob
		wantErr  bool
		wantJobs bool
	}{
		{name: "bad schedule", job: domain.SyncJob{Schedule: "every hour"}, wantErr: true},
		{name: "bad template", job: domain.SyncJob{Schedule: "0 * * * *", Templates: []string{"61 * * * *"}}, wantErr: true},
		{name: "valid", job: domain.SyncJob{Schedule: "0 * * * *", Templates: []string{"0 0 * * *", "*/15 * * * *"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job
			job.TableID = f.table.ID
			job.OwnerID = f.owner.ID
			job.URL = "https://example.com/cities.csv"
			created, err := f.repo.CreateSyncJob(ctx, &job)
			if tt.wantErr {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.SyncStateCreated, created.State)
			assert.True(t, created.Active())

			got, err := f.repo.SyncJobForTable(ctx, f.table.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, []string{"0 0 * * *", "*/15 * * * *"}, got.Templates)

			require.NoError(t, f.repo.DeleteSyncJob(ctx, got.ID))
			got, err = f.repo.SyncJobForTable(ctx, f.table.ID)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestDependentRepo_Tags(t *testing.T) {
	f := setupDependentRepo(t)
	ctx := context.Background()

	require.NoError(t, f.repo.TagTable(ctx, f.table.ID, "urban"))
	require.NoError(t, f.repo.TagTable(ctx, f.table.ID, "census"))
	require.NoError(t, f.repo.TagTable(ctx, f.table.ID, "urban"))

	tags, err := f.repo.TableTags(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"census", "urban"}, tags)

	require.NoError(t, f.repo.RemoveTableTags(ctx, f.table.ID))
	tags, err = f.repo.TableTags(ctx, f.table.ID)
	require.NoError(t, err)
	assert.Empty(t, tags)
}
