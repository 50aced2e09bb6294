package domain

import "context"

// PhysicalStore executes statements against the relations of a namespace.
// Every call runs as one bounded transaction.
type PhysicalStore interface {
	TableExists(ctx context.Context, ns Namespace, table string) (bool, error)
	ListRelations(ctx context.Context, ns Namespace) ([]string, error)
	// Columns returns SchemaNotFoundError when the relation does not exist.
	Columns(ctx context.Context, ns Namespace, table string) ([]RawColumn, error)
	CreateTable(ctx context.Context, ns Namespace, table string) error
	Cartodbify(ctx context.Context, ns Namespace, table string) error
	SampleGeometryTypes(ctx context.Context, ns Namespace, table string, limit int) ([]string, error)
	ConvertGeometryColumn(ctx context.Context, ns Namespace, table string, to GeometryKind) error
	AlterColumnType(ctx context.Context, ns Namespace, table, column, storageType string) error
	AddColumn(ctx context.Context, ns Namespace, table, column, storageType string) error
	DropColumn(ctx context.Context, ns Namespace, table, column string) error
	RenameColumn(ctx context.Context, ns Namespace, table, from, to string) error
	InsertRow(ctx context.Context, ns Namespace, table string, values map[string]any) (int64, error)
	UpdateRow(ctx context.Context, ns Namespace, table string, id int64, values map[string]any) (int64, error)
	SetGeometry(ctx context.Context, ns Namespace, table string, id int64, geojson string, kind *GeometryKind) (int64, error)
	RenameTable(ctx context.Context, ns Namespace, from, to string) error
	DropTable(ctx context.Context, ns Namespace, table string) error
	// TouchMetadata signals that the relation's metadata changed.
	TouchMetadata(ctx context.Context, ns Namespace, table string) error
	Estimates(ctx context.Context, ns Namespace, table string) (rows, bytes int64, err error)
}

// PermissionGateway issues idempotent grants and revokes on a relation.
type PermissionGateway interface {
	GrantRead(ctx context.Context, ns Namespace, table, role string) error
	GrantReadWrite(ctx context.Context, ns Namespace, table, role string) error
	Revoke(ctx context.Context, ns Namespace, table, role string) error
	GrantOrgRead(ctx context.Context, ns Namespace, table, orgID string) error
	GrantOrgReadWrite(ctx context.Context, ns Namespace, table, orgID string) error
	RevokeOrg(ctx context.Context, ns Namespace, table, orgID string) error
}

// NameProposer turns a candidate into a legal, collision-free table name.
type NameProposer interface {
	Propose(candidate string, taken []string) string
}

// GeometryKindCache caches detected geometry kinds by table id. Entries for
// tables with no detected geometry expire sooner than detected ones.
type GeometryKindCache interface {
	Get(tableID string) (GeometryKind, bool)
	Remember(tableID string, kind GeometryKind, detected bool)
	Expire(tableID string)
	// Resolve returns the cached kind or runs detect, sharing one detection
	// among concurrent callers.
	Resolve(tableID string, detect func() (kind GeometryKind, detected bool, err error)) (GeometryKind, error)
}
