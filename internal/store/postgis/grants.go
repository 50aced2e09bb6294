package postgis

import (
	"context"
	"database/sql"
	"fmt"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// GrantRead gives role SELECT on the table and USAGE on its schema.
func (s *Store) GrantRead(ctx context.Context, ns domain.Namespace, table, role string) error {
	return s.grant(ctx, ns, table, role, domain.ReadPrivileges)
}

// GrantReadWrite gives role read and write privileges on the table.
func (s *Store) GrantReadWrite(ctx context.Context, ns domain.Namespace, table, role string) error {
	if err := s.grant(ctx, ns, table, role, domain.ReadWritePrivileges); err != nil {
		return err
	}
	return s.grantIDSequence(ctx, ns, table, role)
}

// Revoke removes every privilege role holds on the table.
func (s *Store) Revoke(ctx context.Context, ns domain.Namespace, table, role string) error {
	stmt, err := ddl.Revoke(ns.Schema, table, role)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, stmt)
}

// GrantOrgRead gives every member of the organization read access.
func (s *Store) GrantOrgRead(ctx context.Context, ns domain.Namespace, table, orgID string) error {
	return s.GrantRead(ctx, ns, table, ddl.OrganizationRole(orgID))
}

// GrantOrgReadWrite gives every member of the organization read and write access.
func (s *Store) GrantOrgReadWrite(ctx context.Context, ns domain.Namespace, table, orgID string) error {
	return s.GrantReadWrite(ctx, ns, table, ddl.OrganizationRole(orgID))
}

// RevokeOrg removes the organization's access.
func (s *Store) RevokeOrg(ctx context.Context, ns domain.Namespace, table, orgID string) error {
	return s.Revoke(ctx, ns, table, ddl.OrganizationRole(orgID))
}

// grant is idempotent: re-granting held privileges is a no-op in PostgreSQL.
func (s *Store) grant(ctx context.Context, ns domain.Namespace, table, role string, privs []string) error {
	usage, err := ddl.GrantSchemaUsage(ns.Schema, role)
	if err != nil {
		return err
	}
	stmt, err := ddl.Grant(privs, ns.Schema, table, role)
	if err != nil {
		return err
	}
	return s.exec(ctx, ns, RunOptions{}, usage, stmt)
}

// grantIDSequence lets role draw cartodb_id values. The sequence keeps its
// original name across table renames, so it is looked up.
func (s *Store) grantIDSequence(ctx context.Context, ns domain.Namespace, table, role string) error {
	return s.Run(ctx, ns, RunOptions{}, func(tx *sql.Tx) error {
		var seq sql.NullString
		if err := tx.QueryRowContext(ctx, "SELECT pg_get_serial_sequence($1, $2)",
			ddl.QualifiedName(ns.Schema, table), domain.ColumnID).Scan(&seq); err != nil {
			return err
		}
		if !seq.Valid {
			return nil
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("GRANT USAGE, SELECT ON SEQUENCE %s TO %s", seq.String, ddl.QuoteIdentifier(role)))
		return err
	})
}
