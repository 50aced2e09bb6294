// Package privacy turns table privacy and sharing changes into grants and
// revokes on the physical relation.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"geotables/internal/domain"
)

// DefaultPublicRole is the role anonymous readers connect as.
const DefaultPublicRole = "publicuser"

// Propagator issues the grants implied by privacy and share list changes.
type Propagator struct {
	gateway    domain.PermissionGateway
	owners     domain.OwnerRepository
	dependents domain.DependentRegistry
	publicRole string
	logger     *slog.Logger
}

// NewPropagator creates a Propagator. An empty publicRole uses DefaultPublicRole.
func NewPropagator(gateway domain.PermissionGateway, owners domain.OwnerRepository, dependents domain.DependentRegistry, publicRole string, logger *slog.Logger) *Propagator {
	if publicRole == "" {
		publicRole = DefaultPublicRole
	}
	return &Propagator{
		gateway:    gateway,
		owners:     owners,
		dependents: dependents,
		publicRole: publicRole,
		logger:     logger,
	}
}

// OnSave propagates a privacy change of t. previous is the privacy recorded
// before the save, empty for a table saved for the first time. A new table
// still fed by a sync job is left to the sync, which sets its grants when it
// finishes.
func (p *Propagator) OnSave(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, previous domain.Privacy) error {
	if previous == t.Privacy {
		return nil
	}
	if previous == "" {
		job, err := p.dependents.SyncJobForTable(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("look up sync job: %w", err)
		}
		if job != nil && job.Active() {
			p.logger.Debug("privacy propagation deferred to sync", "table", t.Name, "sync_job", job.ID)
			return nil
		}
	}

	ns := owner.Namespace()
	if t.EffectivePrivacy().Readable() {
		if err := p.gateway.GrantRead(ctx, ns, t.Name, p.publicRole); err != nil {
			return &domain.PermissionPropagationError{Table: t.Name, Action: "grant read to " + p.publicRole, Err: err}
		}
	} else {
		if err := p.gateway.Revoke(ctx, ns, t.Name, p.publicRole); err != nil {
			return &domain.PermissionPropagationError{Table: t.Name, Action: "revoke from " + p.publicRole, Err: err}
		}
	}
	p.logger.Info("privacy propagated", "table", t.Name, "owner", owner.ID, "from", previous, "to", t.EffectivePrivacy())
	return nil
}

type shareKey struct {
	entityType domain.ShareEntityType
	entityID   string
}

// Share applies the difference between two share lists of t. Every entry is
// attempted; failures are joined into the returned error.
func (p *Propagator) Share(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, before, after []domain.ACLEntry) error {
	prev := make(map[shareKey]domain.ShareAccess, len(before))
	for _, e := range before {
		prev[shareKey{e.EntityType, e.EntityID}] = e.Access
	}
	next := make(map[shareKey]domain.ShareAccess, len(after))
	for _, e := range after {
		next[shareKey{e.EntityType, e.EntityID}] = e.Access
	}

	var errs []error
	for _, e := range before {
		if _, kept := next[shareKey{e.EntityType, e.EntityID}]; !kept {
			errs = append(errs, p.revoke(ctx, owner, t, e))
		}
	}
	for _, e := range after {
		old, existed := prev[shareKey{e.EntityType, e.EntityID}]
		switch {
		case !existed:
			errs = append(errs, p.grant(ctx, owner, t, e))
		case old == e.Access:
		case old == domain.AccessReadWrite:
			// Downgrade: drop write privileges before granting read again.
			if err := p.revoke(ctx, owner, t, e); err != nil {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, p.grant(ctx, owner, t, e))
		default:
			errs = append(errs, p.grant(ctx, owner, t, e))
		}
	}
	return errors.Join(errs...)
}

func (p *Propagator) grant(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, e domain.ACLEntry) error {
	ns := owner.Namespace()
	action := "grant " + string(e.Access) + " to " + string(e.EntityType) + " " + e.EntityID
	var err error
	switch e.EntityType {
	case domain.ShareOrganization:
		if e.Access == domain.AccessReadWrite {
			err = p.gateway.GrantOrgReadWrite(ctx, ns, t.Name, e.EntityID)
		} else {
			err = p.gateway.GrantOrgRead(ctx, ns, t.Name, e.EntityID)
		}
	default:
		var role string
		if role, err = p.userRole(ctx, e.EntityID); err != nil {
			break
		}
		if e.Access == domain.AccessReadWrite {
			err = p.gateway.GrantReadWrite(ctx, ns, t.Name, role)
		} else {
			err = p.gateway.GrantRead(ctx, ns, t.Name, role)
		}
	}
	if err != nil {
		return &domain.PermissionPropagationError{Table: t.Name, Action: action, Err: err}
	}
	return nil
}

func (p *Propagator) revoke(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, e domain.ACLEntry) error {
	ns := owner.Namespace()
	action := "revoke from " + string(e.EntityType) + " " + e.EntityID
	var err error
	switch e.EntityType {
	case domain.ShareOrganization:
		err = p.gateway.RevokeOrg(ctx, ns, t.Name, e.EntityID)
	default:
		var role string
		if role, err = p.userRole(ctx, e.EntityID); err == nil {
			err = p.gateway.Revoke(ctx, ns, t.Name, role)
		}
	}
	if err != nil {
		return &domain.PermissionPropagationError{Table: t.Name, Action: action, Err: err}
	}
	return nil
}

func (p *Propagator) userRole(ctx context.Context, ownerID string) (string, error) {
	o, err := p.owners.Get(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("resolve role of %s: %w", ownerID, err)
	}
	return o.DatabaseRole, nil
}
