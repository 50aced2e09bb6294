package table

import (
	"context"
	"strings"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// storageTypes maps semantic type names accepted by AddColumn to the type
// new columns are created with.
var storageTypes = map[domain.SemanticType]string{
	domain.TypeString:  "text",
	domain.TypeNumber:  "double precision",
	domain.TypeBoolean: "boolean",
	domain.TypeDate:    "timestamp with time zone",
}

// ColumnStorageType resolves a semantic type name or a PostgreSQL type to
// the storage type of a new column.
func ColumnStorageType(typ string) (string, error) {
	if st, ok := storageTypes[domain.SemanticType(strings.ToLower(typ))]; ok {
		return st, nil
	}
	if err := ddl.ValidateColumnType(typ); err != nil {
		return "", domain.ErrValidation("%v", err)
	}
	if domain.SemanticTypeFor(typ) == domain.TypeGeometry {
		return "", domain.ErrValidation("geometry columns are managed by the table")
	}
	return strings.ToLower(typ), nil
}

// AddColumn adds a user column to t.
func (s *Service) AddColumn(ctx context.Context, t *domain.TableIdentity, name, typ string) error {
	if err := ddl.ValidateColumnName(name); err != nil {
		return &domain.InvalidColumnNameError{Name: name, Reason: err.Error()}
	}
	storage, err := ColumnStorageType(typ)
	if err != nil {
		return err
	}
	return s.alterColumns(ctx, t, func(ns domain.Namespace) error {
		return s.store.AddColumn(ctx, ns, t.Name, name, storage)
	})
}

// DropColumn removes a user column from t.
func (s *Service) DropColumn(ctx context.Context, t *domain.TableIdentity, name string) error {
	if err := ddl.ValidateColumnName(name); err != nil {
		return &domain.InvalidColumnNameError{Name: name, Reason: err.Error()}
	}
	return s.alterColumns(ctx, t, func(ns domain.Namespace) error {
		return s.store.DropColumn(ctx, ns, t.Name, name)
	})
}

// RenameColumn renames a user column of t.
func (s *Service) RenameColumn(ctx context.Context, t *domain.TableIdentity, from, to string) error {
	for _, name := range []string{from, to} {
		if err := ddl.ValidateColumnName(name); err != nil {
			return &domain.InvalidColumnNameError{Name: name, Reason: err.Error()}
		}
	}
	return s.alterColumns(ctx, t, func(ns domain.Namespace) error {
		return s.store.RenameColumn(ctx, ns, t.Name, from, to)
	})
}

func (s *Service) alterColumns(ctx context.Context, t *domain.TableIdentity, alter func(domain.Namespace) error) error {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	ns := owner.Namespace()
	if err := alter(ns); err != nil {
		return err
	}
	s.reader.Invalidate(t.ID)
	if err := s.store.TouchMetadata(ctx, ns, t.Name); err != nil {
		s.logger.Warn("failed to touch table metadata", "table", t.Name, "error", err)
	}
	return nil
}
