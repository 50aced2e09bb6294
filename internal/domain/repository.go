package domain

import "context"

// TableRepository persists table identities and their share lists.
type TableRepository interface {
	Create(ctx context.Context, t *TableIdentity) (*TableIdentity, error)
	Get(ctx context.Context, id string) (*TableIdentity, error)
	GetByName(ctx context.Context, ownerID, name string) (*TableIdentity, error)
	ListNames(ctx context.Context, ownerID string) ([]string, error)
	CountForOwner(ctx context.Context, ownerID string) (int64, error)
	Update(ctx context.Context, t *TableIdentity) error
	Delete(ctx context.Context, id string) error
	ListShares(ctx context.Context, tableID string) ([]ACLEntry, error)
	ReplaceShares(ctx context.Context, tableID string, entries []ACLEntry) error
}

// OwnerRepository resolves owners to their namespace.
type OwnerRepository interface {
	Create(ctx context.Context, o *Owner) (*Owner, error)
	Get(ctx context.Context, id string) (*Owner, error)
	GetByUsername(ctx context.Context, username string) (*Owner, error)
}

// DependentRegistry tracks objects that reference a table by id or name and
// must follow it through renames and destroys. Lookups that find nothing
// return nil without an error.
type DependentRegistry interface {
	CanonicalVisualization(ctx context.Context, tableID string) (*Visualization, error)
	CreateVisualization(ctx context.Context, v *Visualization) (*Visualization, error)
	RenameVisualization(ctx context.Context, id, name string) error
	DeleteVisualization(ctx context.Context, id string) error
	DependentVisualizations(ctx context.Context, ownerID, tableName string) (*DependentVisualizations, error)
	UnlinkVisualization(ctx context.Context, visualizationID, tableName string) error

	CreateLayer(ctx context.Context, l *Layer) (*Layer, error)
	LayersForTable(ctx context.Context, ownerID, tableName string) ([]Layer, error)
	RenameLayerTable(ctx context.Context, layerID, tableName string) error

	CreateAnalysisNode(ctx context.Context, n *AnalysisNode) (*AnalysisNode, error)
	AnalysesForTable(ctx context.Context, ownerID, tableName string) ([]AnalysisNode, error)
	RenameAnalysisSource(ctx context.Context, ownerID, oldName, newName string) error

	AddOverview(ctx context.Context, o *Overview) error
	Overviews(ctx context.Context, tableID string) ([]Overview, error)
	RenameOverview(ctx context.Context, tableID, oldName, newName string) error
	DeleteOverviews(ctx context.Context, tableID string) error

	CreateSyncJob(ctx context.Context, j *SyncJob) (*SyncJob, error)
	SyncJobForTable(ctx context.Context, tableID string) (*SyncJob, error)
	DeleteSyncJob(ctx context.Context, id string) error

	TagTable(ctx context.Context, tableID, tag string) error
	TableTags(ctx context.Context, tableID string) ([]string, error)
	RemoveTableTags(ctx context.Context, tableID string) error
}

// QuotaChecker is consulted before a physical table is created.
type QuotaChecker interface {
	OverTableQuota(ctx context.Context, owner *Owner) (bool, error)
}

// UsageCounters tracks table counts per owner, plan and host. Callers treat
// failures as non-fatal.
type UsageCounters interface {
	IncrementTables(ctx context.Context, owner *Owner) error
	DecrementTables(ctx context.Context, owner *Owner) error
}
