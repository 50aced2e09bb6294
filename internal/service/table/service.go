// Package table is the entry point for table lifecycle operations. It wires
// the schema reader, geometry normalizer, writer, identity controller and
// privacy propagator over the metastore repositories.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"geotables/internal/domain"
	"geotables/internal/service/geometry"
	"geotables/internal/service/identity"
	"geotables/internal/service/privacy"
	"geotables/internal/service/schema"
	"geotables/internal/service/write"
)

// Service implements table lifecycle operations.
type Service struct {
	owners     domain.OwnerRepository
	tables     domain.TableRepository
	dependents domain.DependentRegistry
	store      domain.PhysicalStore
	quota      domain.QuotaChecker
	counters   domain.UsageCounters
	names      domain.NameProposer
	reader     *schema.Reader
	normalizer *geometry.Normalizer
	writer     *write.Writer
	identity   *identity.Controller
	privacy    *privacy.Propagator
	logger     *slog.Logger
}

// Deps holds dependencies for Service.
type Deps struct {
	Owners     domain.OwnerRepository
	Tables     domain.TableRepository
	Dependents domain.DependentRegistry
	Store      domain.PhysicalStore
	Quota      domain.QuotaChecker
	Counters   domain.UsageCounters
	Names      domain.NameProposer
	Reader     *schema.Reader
	Normalizer *geometry.Normalizer
	Writer     *write.Writer
	Identity   *identity.Controller
	Privacy    *privacy.Propagator
	Logger     *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	return &Service{
		owners:     deps.Owners,
		tables:     deps.Tables,
		dependents: deps.Dependents,
		store:      deps.Store,
		quota:      deps.Quota,
		counters:   deps.Counters,
		names:      deps.Names,
		reader:     deps.Reader,
		normalizer: deps.Normalizer,
		writer:     deps.Writer,
		identity:   deps.Identity,
		privacy:    deps.Privacy,
		logger:     deps.Logger,
	}
}

// Create registers a new table for ownerID. With FromRelation set, the
// existing relation is adopted instead of creating an empty one, and the
// table quota is not consulted.
func (s *Service) Create(ctx context.Context, ownerID string, req domain.CreateTableRequest) (*domain.TableIdentity, error) {
	owner, err := s.owners.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ns := owner.Namespace()

	if req.Privacy != "" && !req.Privacy.Valid() {
		return nil, domain.ErrValidation("invalid privacy %q", req.Privacy)
	}
	if req.GeometryKind != nil {
		if _, err := geometry.CanonicalKind(*req.GeometryKind); err != nil {
			return nil, err
		}
	}

	candidate := req.Name
	if req.FromRelation != "" {
		exists, err := s.store.TableExists(ctx, ns, req.FromRelation)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &domain.SchemaNotFoundError{Schema: ns.Schema, Table: req.FromRelation}
		}
		if candidate == "" {
			candidate = req.FromRelation
		}
	} else {
		over, err := s.quota.OverTableQuota(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("check table quota: %w", err)
		}
		if over {
			quota := 0
			if owner.TableQuota != nil {
				quota = *owner.TableQuota
			}
			return nil, &domain.QuotaExceededError{OwnerID: owner.ID, Quota: quota}
		}
	}

	taken, err := s.takenNames(ctx, owner, req.FromRelation)
	if err != nil {
		return nil, err
	}
	t, err := s.tables.Create(ctx, &domain.TableIdentity{
		OwnerID: owner.ID,
		Name:    s.names.Propose(candidate, taken),
		State:   domain.TableStateCreating,
	})
	if err != nil {
		return nil, err
	}

	if err := s.materialize(ctx, ns, t.Name, req.FromRelation); err != nil {
		if derr := s.tables.Delete(ctx, t.ID); derr != nil {
			s.logger.Warn("failed to forget table after create failure", "table", t.Name, "error", derr)
		}
		return nil, err
	}
	if err := s.finishCreate(ctx, owner, t, req); err != nil {
		s.abandon(ctx, owner, t, req.FromRelation)
		return nil, err
	}
	if err := s.counters.IncrementTables(ctx, owner); err != nil {
		s.logger.Warn("failed to increment usage counters", "table", t.Name, "owner", owner.ID, "error", err)
	}

	s.logger.Info("table created", "table", t.Name, "owner", owner.ID, "id", t.ID, "migrated", req.FromRelation != "")
	return t, nil
}

// finishCreate records a materialized table as cartodbified, then runs
// geometry establishment, its canonical visualization and privacy grants.
func (s *Service) finishCreate(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, req domain.CreateTableRequest) error {
	t.State = domain.TableStateCartodbified
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}
	if _, err := s.normalizer.Establish(ctx, owner.Namespace(), t, req.GeometryKind); err != nil {
		return fmt.Errorf("establish geometry kind: %w", err)
	}

	t.Privacy = req.Privacy
	if t.Privacy == "" {
		t.Privacy = domain.PrivacyPrivate
	}
	t.State = domain.TableStateReady
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}
	if err := s.createCanonicalVisualization(ctx, owner, t); err != nil {
		return fmt.Errorf("create canonical visualization: %w", err)
	}
	return s.privacy.OnSave(ctx, owner, t, "")
}

// abandon undoes a create that failed after its relation was materialized.
// An adopted relation is given back its original name instead of being
// dropped. Counters are untouched: they are only incremented once a create
// completes.
func (s *Service) abandon(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, from string) {
	ns := owner.Namespace()
	if v, err := s.dependents.CanonicalVisualization(ctx, t.ID); err == nil && v != nil {
		if err := s.dependents.DeleteVisualization(ctx, v.ID); err != nil {
			s.logger.Warn("failed to delete visualization of abandoned table", "table", t.Name, "error", err)
		}
	}
	var err error
	switch {
	case from == "":
		err = s.store.DropTable(ctx, ns, t.Name)
	case from != t.Name:
		err = s.store.RenameTable(ctx, ns, t.Name, from)
	}
	if err != nil {
		s.logger.Warn("failed to release relation of abandoned table", "table", t.Name, "error", err)
	}
	if err := s.tables.Delete(ctx, t.ID); err != nil {
		s.logger.Warn("failed to forget abandoned table", "table", t.Name, "error", err)
		return
	}
	s.normalizer.Forget(t.ID)
	s.reader.Invalidate(t.ID)
	s.logger.Info("table create abandoned", "table", t.Name, "owner", owner.ID)
}

// takenNames lists identity and relation names in the owner's namespace,
// leaving out a relation being adopted.
func (s *Service) takenNames(ctx context.Context, owner *domain.Owner, adopting string) ([]string, error) {
	names, err := s.tables.ListNames(ctx, owner.ID)
	if err != nil {
		return nil, err
	}
	relations, err := s.store.ListRelations(ctx, owner.Namespace())
	if err != nil {
		return nil, err
	}
	taken := make([]string, 0, len(names)+len(relations))
	taken = append(taken, names...)
	for _, r := range relations {
		if r != adopting {
			taken = append(taken, r)
		}
	}
	return taken, nil
}

func (s *Service) materialize(ctx context.Context, ns domain.Namespace, name, from string) error {
	if from == "" {
		return s.store.CreateTable(ctx, ns, name)
	}
	if from != name {
		if err := s.store.RenameTable(ctx, ns, from, name); err != nil {
			return err
		}
	}
	return s.store.Cartodbify(ctx, ns, name)
}

func (s *Service) createCanonicalVisualization(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity) error {
	v, err := s.dependents.CreateVisualization(ctx, &domain.Visualization{
		OwnerID: owner.ID,
		TableID: &t.ID,
		Name:    t.Name,
		Kind:    domain.VisualizationCanonical,
	})
	if err != nil {
		return err
	}
	_, err = s.dependents.CreateLayer(ctx, &domain.Layer{
		VisualizationID: v.ID,
		OwnerID:         owner.ID,
		Kind:            domain.LayerData,
		TableName:       t.Name,
	})
	return err
}

// Get returns the owner's table named name.
func (s *Service) Get(ctx context.Context, ownerID, name string) (*domain.TableIdentity, error) {
	return s.tables.GetByName(ctx, ownerID, name)
}

// GetByID returns a table by id.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.TableIdentity, error) {
	return s.tables.Get(ctx, id)
}

// Schema returns the ordered columns of t.
func (s *Service) Schema(ctx context.Context, t *domain.TableIdentity, opts schema.ReadOptions) ([]domain.Column, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	return s.reader.Read(ctx, owner.Namespace(), t, opts)
}

// InsertRow inserts a row into t and returns its id.
func (s *Service) InsertRow(ctx context.Context, t *domain.TableIdentity, attrs map[string]any) (int64, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return 0, err
	}
	return s.writer.InsertRow(ctx, owner.Namespace(), t, attrs)
}

// UpdateRow updates row rowID of t and returns the rows affected.
func (s *Service) UpdateRow(ctx context.Context, t *domain.TableIdentity, rowID int64, attrs map[string]any) (int64, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return 0, err
	}
	return s.writer.UpdateRow(ctx, owner.Namespace(), t, rowID, attrs)
}

// Rename renames t and its dependents.
func (s *Service) Rename(ctx context.Context, t *domain.TableIdentity, newName string) (*domain.ProtocolReport, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	return s.identity.Rename(ctx, owner, t, newName)
}

// Reconcile completes a rename left with a pending marker.
func (s *Service) Reconcile(ctx context.Context, t *domain.TableIdentity) (*domain.ProtocolReport, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	return s.identity.Reconcile(ctx, owner, t)
}

// Destroy removes t.
func (s *Service) Destroy(ctx context.Context, t *domain.TableIdentity, opts identity.DestroyOptions) (*domain.ProtocolReport, error) {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return nil, err
	}
	return s.identity.Destroy(ctx, owner, t, opts)
}

// SetPrivacy propagates the grant change implied by p and then records p.
// Nothing is recorded when propagation fails.
func (s *Service) SetPrivacy(ctx context.Context, t *domain.TableIdentity, p domain.Privacy) error {
	if !p.Valid() {
		return domain.ErrValidation("invalid privacy %q", p)
	}
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	previous := t.Privacy
	if previous == p {
		return nil
	}
	t.Privacy = p
	if err := s.privacy.OnSave(ctx, owner, t, previous); err != nil {
		t.Privacy = previous
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		t.Privacy = previous
		return err
	}
	return nil
}

// Share propagates the difference to entries and then records entries as
// t's share list. Nothing is recorded when propagation fails.
func (s *Service) Share(ctx context.Context, t *domain.TableIdentity, entries []domain.ACLEntry) error {
	if err := validateShares(t, entries); err != nil {
		return err
	}
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	before, err := s.tables.ListShares(ctx, t.ID)
	if err != nil {
		return err
	}
	if err := s.privacy.Share(ctx, owner, t, before, entries); err != nil {
		return err
	}
	return s.tables.ReplaceShares(ctx, t.ID, entries)
}

// Shares returns t's share list.
func (s *Service) Shares(ctx context.Context, t *domain.TableIdentity) ([]domain.ACLEntry, error) {
	return s.tables.ListShares(ctx, t.ID)
}

func validateShares(t *domain.TableIdentity, entries []domain.ACLEntry) error {
	seen := make(map[string]bool, len(entries))
	var errs []error
	for _, e := range entries {
		switch {
		case e.EntityType != domain.ShareUser && e.EntityType != domain.ShareOrganization:
			errs = append(errs, domain.ErrValidation("invalid share entity type %q", e.EntityType))
		case e.Access != domain.AccessRead && e.Access != domain.AccessReadWrite:
			errs = append(errs, domain.ErrValidation("invalid share access %q", e.Access))
		case e.EntityID == "":
			errs = append(errs, domain.ErrValidation("share entity id is required"))
		case e.EntityType == domain.ShareUser && e.EntityID == t.OwnerID:
			errs = append(errs, domain.ErrValidation("cannot share a table with its owner"))
		}
		key := string(e.EntityType) + ":" + e.EntityID
		if seen[key] {
			errs = append(errs, domain.ErrValidation("duplicate share for %s", key))
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}
