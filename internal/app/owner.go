package app

import (
	"context"
	"errors"
	"fmt"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// EnsureOwner registers o unless an owner with the same username exists.
// Schema and DatabaseRole default to the username. The bool result reports
// whether a new owner was created.
func EnsureOwner(ctx context.Context, owners domain.OwnerRepository, o *domain.Owner) (*domain.Owner, bool, error) {
	if err := ddl.ValidateIdentifier(o.Username); err != nil {
		return nil, false, domain.ErrValidation("invalid username: %v", err)
	}
	existing, err := owners.GetByUsername(ctx, o.Username)
	if err == nil {
		return existing, false, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, false, err
	}

	if o.Schema == "" {
		o.Schema = o.Username
	}
	if o.DatabaseRole == "" {
		o.DatabaseRole = o.Username
	}
	for _, name := range []string{o.Schema, o.DatabaseRole} {
		if err := ddl.ValidateIdentifier(name); err != nil {
			return nil, false, domain.ErrValidation("invalid identifier %q: %v", name, err)
		}
	}
	if o.TableQuota != nil && *o.TableQuota < 0 {
		return nil, false, domain.ErrValidation("table quota must not be negative")
	}
	created, err := owners.Create(ctx, o)
	if err != nil {
		return nil, false, fmt.Errorf("create owner %s: %w", o.Username, err)
	}
	return created, true, nil
}
