package domain

import "time"

// Owner is a tenant holding its own schema of physical relations.
type Owner struct {
	ID             string
	Username       string
	Schema         string
	DatabaseRole   string
	OrganizationID *string
	Plan           string
	TableQuota     *int // nil means unlimited
	CreatedAt      time.Time
}

// Namespace returns the storage namespace the owner's tables live in.
func (o *Owner) Namespace() Namespace {
	return Namespace{Schema: o.Schema, Role: o.DatabaseRole}
}

// Namespace identifies a schema and the role statements run as.
type Namespace struct {
	Schema string
	Role   string
}

// ShareEntityType distinguishes per-user from organization-wide sharing.
type ShareEntityType string

// Share entity types.
const (
	ShareUser         ShareEntityType = "user"
	ShareOrganization ShareEntityType = "org"
)

// ShareAccess is the access level granted by a share.
type ShareAccess string

// Share access levels.
const (
	AccessRead      ShareAccess = "r"
	AccessReadWrite ShareAccess = "rw"
)

// ACLEntry grants a user or an organization access to a table.
type ACLEntry struct {
	EntityType ShareEntityType
	EntityID   string
	Access     ShareAccess
}
