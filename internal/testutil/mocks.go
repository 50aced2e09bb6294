// Package testutil provides shared mock implementations of domain interfaces
// and an in-memory physical store for use in tests across the codebase.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"geotables/internal/domain"
)

// === Dependent Registry Mock ===

// MockDependentRegistry implements domain.DependentRegistry for testing.
// Calls without a Fn fall through to Base; with neither set they panic.
type MockDependentRegistry struct {
	Base domain.DependentRegistry

	CanonicalVisualizationFn  func(ctx context.Context, tableID string) (*domain.Visualization, error)
	CreateVisualizationFn     func(ctx context.Context, v *domain.Visualization) (*domain.Visualization, error)
	RenameVisualizationFn     func(ctx context.Context, id, name string) error
	DeleteVisualizationFn     func(ctx context.Context, id string) error
	DependentVisualizationsFn func(ctx context.Context, ownerID, tableName string) (*domain.DependentVisualizations, error)
	UnlinkVisualizationFn     func(ctx context.Context, visualizationID, tableName string) error
	CreateLayerFn             func(ctx context.Context, l *domain.Layer) (*domain.Layer, error)
	LayersForTableFn          func(ctx context.Context, ownerID, tableName string) ([]domain.Layer, error)
	RenameLayerTableFn        func(ctx context.Context, layerID, tableName string) error
	CreateAnalysisNodeFn      func(ctx context.Context, n *domain.AnalysisNode) (*domain.AnalysisNode, error)
	AnalysesForTableFn        func(ctx context.Context, ownerID, tableName string) ([]domain.AnalysisNode, error)
	RenameAnalysisSourceFn    func(ctx context.Context, ownerID, oldName, newName string) error
	AddOverviewFn             func(ctx context.Context, o *domain.Overview) error
	OverviewsFn               func(ctx context.Context, tableID string) ([]domain.Overview, error)
	RenameOverviewFn          func(ctx context.Context, tableID, oldName, newName string) error
	DeleteOverviewsFn         func(ctx context.Context, tableID string) error
	CreateSyncJobFn           func(ctx context.Context, j *domain.SyncJob) (*domain.SyncJob, error)
	SyncJobForTableFn         func(ctx context.Context, tableID string) (*domain.SyncJob, error)
	DeleteSyncJobFn           func(ctx context.Context, id string) error
	TagTableFn                func(ctx context.Context, tableID, tag string) error
	TableTagsFn               func(ctx context.Context, tableID string) ([]string, error)
	RemoveTableTagsFn         func(ctx context.Context, tableID string) error
}

// CanonicalVisualization implements the interface method for testing.
func (m *MockDependentRegistry) CanonicalVisualization(ctx context.Context, tableID string) (*domain.Visualization, error) {
	if m.CanonicalVisualizationFn != nil {
		return m.CanonicalVisualizationFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.CanonicalVisualization(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.CanonicalVisualization")
}

// CreateVisualization implements the interface method for testing.
func (m *MockDependentRegistry) CreateVisualization(ctx context.Context, v *domain.Visualization) (*domain.Visualization, error) {
	if m.CreateVisualizationFn != nil {
		return m.CreateVisualizationFn(ctx, v)
	}
	if m.Base != nil {
		return m.Base.CreateVisualization(ctx, v)
	}
	panic("unexpected call to MockDependentRegistry.CreateVisualization")
}

// RenameVisualization implements the interface method for testing.
func (m *MockDependentRegistry) RenameVisualization(ctx context.Context, id, name string) error {
	if m.RenameVisualizationFn != nil {
		return m.RenameVisualizationFn(ctx, id, name)
	}
	if m.Base != nil {
		return m.Base.RenameVisualization(ctx, id, name)
	}
	panic("unexpected call to MockDependentRegistry.RenameVisualization")
}

// DeleteVisualization implements the interface method for testing.
func (m *MockDependentRegistry) DeleteVisualization(ctx context.Context, id string) error {
	if m.DeleteVisualizationFn != nil {
		return m.DeleteVisualizationFn(ctx, id)
	}
	if m.Base != nil {
		return m.Base.DeleteVisualization(ctx, id)
	}
	panic("unexpected call to MockDependentRegistry.DeleteVisualization")
}

// DependentVisualizations implements the interface method for testing.
func (m *MockDependentRegistry) DependentVisualizations(ctx context.Context, ownerID, tableName string) (*domain.DependentVisualizations, error) {
	if m.DependentVisualizationsFn != nil {
		return m.DependentVisualizationsFn(ctx, ownerID, tableName)
	}
	if m.Base != nil {
		return m.Base.DependentVisualizations(ctx, ownerID, tableName)
	}
	panic("unexpected call to MockDependentRegistry.DependentVisualizations")
}

// UnlinkVisualization implements the interface method for testing.
func (m *MockDependentRegistry) UnlinkVisualization(ctx context.Context, visualizationID, tableName string) error {
	if m.UnlinkVisualizationFn != nil {
		return m.UnlinkVisualizationFn(ctx, visualizationID, tableName)
	}
	if m.Base != nil {
		return m.Base.UnlinkVisualization(ctx, visualizationID, tableName)
	}
	panic("unexpected call to MockDependentRegistry.UnlinkVisualization")
}

// CreateLayer implements the interface method for testing.
func (m *MockDependentRegistry) CreateLayer(ctx context.Context, l *domain.Layer) (*domain.Layer, error) {
	if m.CreateLayerFn != nil {
		return m.CreateLayerFn(ctx, l)
	}
	if m.Base != nil {
		return m.Base.CreateLayer(ctx, l)
	}
	panic("unexpected call to MockDependentRegistry.CreateLayer")
}

// LayersForTable implements the interface method for testing.
func (m *MockDependentRegistry) LayersForTable(ctx context.Context, ownerID, tableName string) ([]domain.Layer, error) {
	if m.LayersForTableFn != nil {
		return m.LayersForTableFn(ctx, ownerID, tableName)
	}
	if m.Base != nil {
		return m.Base.LayersForTable(ctx, ownerID, tableName)
	}
	panic("unexpected call to MockDependentRegistry.LayersForTable")
}

// RenameLayerTable implements the interface method for testing.
func (m *MockDependentRegistry) RenameLayerTable(ctx context.Context, layerID, tableName string) error {
	if m.RenameLayerTableFn != nil {
		return m.RenameLayerTableFn(ctx, layerID, tableName)
	}
	if m.Base != nil {
		return m.Base.RenameLayerTable(ctx, layerID, tableName)
	}
	panic("unexpected call to MockDependentRegistry.RenameLayerTable")
}

// CreateAnalysisNode implements the interface method for testing.
func (m *MockDependentRegistry) CreateAnalysisNode(ctx context.Context, n *domain.AnalysisNode) (*domain.AnalysisNode, error) {
	if m.CreateAnalysisNodeFn != nil {
		return m.CreateAnalysisNodeFn(ctx, n)
	}
	if m.Base != nil {
		return m.Base.CreateAnalysisNode(ctx, n)
	}
	panic("unexpected call to MockDependentRegistry.CreateAnalysisNode")
}

// AnalysesForTable implements the interface method for testing.
func (m *MockDependentRegistry) AnalysesForTable(ctx context.Context, ownerID, tableName string) ([]domain.AnalysisNode, error) {
	if m.AnalysesForTableFn != nil {
		return m.AnalysesForTableFn(ctx, ownerID, tableName)
	}
	if m.Base != nil {
		return m.Base.AnalysesForTable(ctx, ownerID, tableName)
	}
	panic("unexpected call to MockDependentRegistry.AnalysesForTable")
}

// RenameAnalysisSource implements the interface method for testing.
func (m *MockDependentRegistry) RenameAnalysisSource(ctx context.Context, ownerID, oldName, newName string) error {
	if m.RenameAnalysisSourceFn != nil {
		return m.RenameAnalysisSourceFn(ctx, ownerID, oldName, newName)
	}
	if m.Base != nil {
		return m.Base.RenameAnalysisSource(ctx, ownerID, oldName, newName)
	}
	panic("unexpected call to MockDependentRegistry.RenameAnalysisSource")
}

// AddOverview implements the interface method for testing.
func (m *MockDependentRegistry) AddOverview(ctx context.Context, o *domain.Overview) error {
	if m.AddOverviewFn != nil {
		return m.AddOverviewFn(ctx, o)
	}
	if m.Base != nil {
		return m.Base.AddOverview(ctx, o)
	}
	panic("unexpected call to MockDependentRegistry.AddOverview")
}

// Overviews implements the interface method for testing.
func (m *MockDependentRegistry) Overviews(ctx context.Context, tableID string) ([]domain.Overview, error) {
	if m.OverviewsFn != nil {
		return m.OverviewsFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.Overviews(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.Overviews")
}

// RenameOverview implements the interface method for testing.
func (m *MockDependentRegistry) RenameOverview(ctx context.Context, tableID, oldName, newName string) error {
	if m.RenameOverviewFn != nil {
		return m.RenameOverviewFn(ctx, tableID, oldName, newName)
	}
	if m.Base != nil {
		return m.Base.RenameOverview(ctx, tableID, oldName, newName)
	}
	panic("unexpected call to MockDependentRegistry.RenameOverview")
}

// DeleteOverviews implements the interface method for testing.
func (m *MockDependentRegistry) DeleteOverviews(ctx context.Context, tableID string) error {
	if m.DeleteOverviewsFn != nil {
		return m.DeleteOverviewsFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.DeleteOverviews(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.DeleteOverviews")
}

// CreateSyncJob implements the interface method for testing.
func (m *MockDependentRegistry) CreateSyncJob(ctx context.Context, j *domain.SyncJob) (*domain.SyncJob, error) {
	if m.CreateSyncJobFn != nil {
		return m.CreateSyncJobFn(ctx, j)
	}
	if m.Base != nil {
		return m.Base.CreateSyncJob(ctx, j)
	}
	panic("unexpected call to MockDependentRegistry.CreateSyncJob")
}

// SyncJobForTable implements the interface method for testing.
func (m *MockDependentRegistry) SyncJobForTable(ctx context.Context, tableID string) (*domain.SyncJob, error) {
	if m.SyncJobForTableFn != nil {
		return m.SyncJobForTableFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.SyncJobForTable(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.SyncJobForTable")
}

// DeleteSyncJob implements the interface method for testing.
func (m *MockDependentRegistry) DeleteSyncJob(ctx context.Context, id string) error {
	if m.DeleteSyncJobFn != nil {
		return m.DeleteSyncJobFn(ctx, id)
	}
	if m.Base != nil {
		return m.Base.DeleteSyncJob(ctx, id)
	}
	panic("unexpected call to MockDependentRegistry.DeleteSyncJob")
}

// TagTable implements the interface method for testing.
func (m *MockDependentRegistry) TagTable(ctx context.Context, tableID, tag string) error {
	if m.TagTableFn != nil {
		return m.TagTableFn(ctx, tableID, tag)
	}
	if m.Base != nil {
		return m.Base.TagTable(ctx, tableID, tag)
	}
	panic("unexpected call to MockDependentRegistry.TagTable")
}

// TableTags implements the interface method for testing.
func (m *MockDependentRegistry) TableTags(ctx context.Context, tableID string) ([]string, error) {
	if m.TableTagsFn != nil {
		return m.TableTagsFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.TableTags(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.TableTags")
}

// RemoveTableTags implements the interface method for testing.
func (m *MockDependentRegistry) RemoveTableTags(ctx context.Context, tableID string) error {
	if m.RemoveTableTagsFn != nil {
		return m.RemoveTableTagsFn(ctx, tableID)
	}
	if m.Base != nil {
		return m.Base.RemoveTableTags(ctx, tableID)
	}
	panic("unexpected call to MockDependentRegistry.RemoveTableTags")
}

var _ domain.DependentRegistry = (*MockDependentRegistry)(nil)

// === Permission Gateway Mock ===

// MockPermissionGateway implements domain.PermissionGateway for testing. It
// records every call as "<action> <table> <grantee>" and fails with Err when set.
type MockPermissionGateway struct {
	mu    sync.Mutex
	Calls []string
	Err   error
}

func (m *MockPermissionGateway) record(action, table, grantee string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, fmt.Sprintf("%s %s %s", action, table, grantee))
	return m.Err
}

// GrantRead implements the interface method for testing.
func (m *MockPermissionGateway) GrantRead(_ context.Context, _ domain.Namespace, table, role string) error {
	return m.record("grant_read", table, role)
}

// GrantReadWrite implements the interface method for testing.
func (m *MockPermissionGateway) GrantReadWrite(_ context.Context, _ domain.Namespace, table, role string) error {
	return m.record("grant_rw", table, role)
}

// Revoke implements the interface method for testing.
func (m *MockPermissionGateway) Revoke(_ context.Context, _ domain.Namespace, table, role string) error {
	return m.record("revoke", table, role)
}

// GrantOrgRead implements the interface method for testing.
func (m *MockPermissionGateway) GrantOrgRead(_ context.Context, _ domain.Namespace, table, orgID string) error {
	return m.record("grant_read", table, "org:"+orgID)
}

// GrantOrgReadWrite implements the interface method for testing.
func (m *MockPermissionGateway) GrantOrgReadWrite(_ context.Context, _ domain.Namespace, table, orgID string) error {
	return m.record("grant_rw", table, "org:"+orgID)
}

// RevokeOrg implements the interface method for testing.
func (m *MockPermissionGateway) RevokeOrg(_ context.Context, _ domain.Namespace, table, orgID string) error {
	return m.record("revoke", table, "org:"+orgID)
}

// Reset clears the recorded calls.
func (m *MockPermissionGateway) Reset() {
	m.mu.Lock()
	m.Calls = nil
	m.mu.Unlock()
}

var _ domain.PermissionGateway = (*MockPermissionGateway)(nil)

// === Quota Checker Mock ===

// MockQuotaChecker implements domain.QuotaChecker for testing.
type MockQuotaChecker struct {
	OverTableQuotaFn func(ctx context.Context, owner *domain.Owner) (bool, error)
}

// OverTableQuota implements the interface method for testing.
func (m *MockQuotaChecker) OverTableQuota(ctx context.Context, owner *domain.Owner) (bool, error) {
	if m.OverTableQuotaFn != nil {
		return m.OverTableQuotaFn(ctx, owner)
	}
	return false, nil
}

var _ domain.QuotaChecker = (*MockQuotaChecker)(nil)

// === Usage Counters Mock ===

// MockUsageCounters implements domain.UsageCounters for testing, keeping a
// running table count per owner.
type MockUsageCounters struct {
	mu     sync.Mutex
	Tables map[string]int
	Err    error
}

// IncrementTables implements the interface method for testing.
func (m *MockUsageCounters) IncrementTables(_ context.Context, owner *domain.Owner) error {
	return m.add(owner.ID, 1)
}

// DecrementTables implements the interface method for testing.
func (m *MockUsageCounters) DecrementTables(_ context.Context, owner *domain.Owner) error {
	return m.add(owner.ID, -1)
}

func (m *MockUsageCounters) add(ownerID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.Tables == nil {
		m.Tables = make(map[string]int)
	}
	m.Tables[ownerID] += delta
	return nil
}

var _ domain.UsageCounters = (*MockUsageCounters)(nil)
