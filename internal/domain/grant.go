package domain

// Relation privileges, matching PostgreSQL GRANT keywords.
const (
	PrivSelect = "SELECT"
	PrivInsert = "INSERT"
	PrivUpdate = "UPDATE"
	PrivDelete = "DELETE"
	PrivUsage  = "USAGE"
	PrivAll    = "ALL"
)

// ReadPrivileges is granted for read-only shares and public tables.
var ReadPrivileges = []string{PrivSelect}

// ReadWritePrivileges is granted for read-write shares.
var ReadWritePrivileges = []string{PrivSelect, PrivInsert, PrivUpdate, PrivDelete}

// PrivilegesFor returns the relation privileges implied by a share access level.
func PrivilegesFor(access ShareAccess) []string {
	if access == AccessReadWrite {
		return ReadWritePrivileges
	}
	return ReadPrivileges
}
