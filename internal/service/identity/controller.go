package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"geotables/internal/ddl"
	"geotables/internal/domain"
)

// Protocol operation names used in reports.
const (
	OperationRename    = "rename"
	OperationDestroy   = "destroy"
	OperationReconcile = "reconcile"
)

// SchemaInvalidator drops cached column views of a table.
type SchemaInvalidator interface {
	Invalidate(tableID string)
}

// Controller runs the rename and destroy protocols.
type Controller struct {
	store      domain.PhysicalStore
	tables     domain.TableRepository
	dependents domain.DependentRegistry
	counters   domain.UsageCounters
	kinds      domain.GeometryKindCache
	schemas    SchemaInvalidator
	locks      *keyedMutex
	logger     *slog.Logger
}

// Deps holds dependencies for Controller.
type Deps struct {
	Store      domain.PhysicalStore
	Tables     domain.TableRepository
	Dependents domain.DependentRegistry
	Counters   domain.UsageCounters
	Kinds      domain.GeometryKindCache
	Schemas    SchemaInvalidator
	Logger     *slog.Logger
}

// NewController creates a Controller.
func NewController(deps Deps) *Controller {
	return &Controller{
		store:      deps.Store,
		tables:     deps.Tables,
		dependents: deps.Dependents,
		counters:   deps.Counters,
		kinds:      deps.Kinds,
		schemas:    deps.Schemas,
		locks:      newKeyedMutex(),
		logger:     deps.Logger,
	}
}

// Rename moves t to newName. The physical rename is never rolled back: when
// propagation to dependents fails afterwards, t keeps its new name and its
// pending-rename marker, and a PropagationIncompleteError carries the report.
func (c *Controller) Rename(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, newName string) (*domain.ProtocolReport, error) {
	unlock := c.locks.Lock(t.ID)
	defer unlock()

	ns := owner.Namespace()
	oldName := t.Name
	steps := []Step{
		{Name: "validate name", Required: true, Run: func(ctx context.Context) error {
			return c.validateNewName(ctx, ns, t, newName)
		}},
		{Name: "mark pending rename", Required: true, Run: func(ctx context.Context) error {
			t.PendingRename = &oldName
			return c.tables.Update(ctx, t)
		}},
		{Name: "rename overviews", Required: true, Run: func(ctx context.Context) error {
			return c.renameOverviews(ctx, ns, t.ID, oldName, newName)
		}},
		{Name: "rename relation", Required: true, Run: func(ctx context.Context) error {
			if err := c.renameRelation(ctx, ns, oldName, newName); err != nil {
				return err
			}
			t.Name = newName
			c.invalidate(t.ID)
			return c.tables.Update(ctx, t)
		}},
	}
	steps = append(steps, c.propagationSteps(owner, t.ID, oldName, newName)...)
	steps = append(steps, c.clearPendingStep(t))

	report := RunProtocol(ctx, c.logger, slog.LevelError, OperationRename, t.ID, steps)
	if err := requiredFailure(report); err != nil {
		return report, err
	}
	if report.Failed() {
		c.logger.Error("rename left dependents inconsistent", "table", t.ID, "from", oldName, "to", newName)
		return report, &domain.PropagationIncompleteError{Report: report}
	}
	c.logger.Info("table renamed", "table", t.ID, "owner", owner.ID, "from", oldName, "to", newName)
	return report, nil
}

// Reconcile finishes a rename whose propagation failed, pointing dependents
// still naming the pending old name at the current name.
func (c *Controller) Reconcile(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity) (*domain.ProtocolReport, error) {
	unlock := c.locks.Lock(t.ID)
	defer unlock()

	if t.PendingRename == nil {
		return &domain.ProtocolReport{Operation: OperationReconcile, TableID: t.ID}, nil
	}
	oldName := *t.PendingRename
	var steps []Step
	if oldName != t.Name {
		steps = c.propagationSteps(owner, t.ID, oldName, t.Name)
	}
	steps = append(steps, c.clearPendingStep(t))

	report := RunProtocol(ctx, c.logger, slog.LevelError, OperationReconcile, t.ID, steps)
	if report.Failed() {
		return report, &domain.PropagationIncompleteError{Report: report}
	}
	c.logger.Info("rename reconciled", "table", t.ID, "from", oldName, "to", t.Name)
	return report, nil
}

func (c *Controller) propagationSteps(owner *domain.Owner, tableID, oldName, newName string) []Step {
	return []Step{
		{Name: "propagate to analyses", Run: func(ctx context.Context) error {
			return c.dependents.RenameAnalysisSource(ctx, owner.ID, oldName, newName)
		}},
		{Name: "propagate to canonical visualization", Run: func(ctx context.Context) error {
			v, err := c.dependents.CanonicalVisualization(ctx, tableID)
			if err != nil {
				return err
			}
			if v == nil {
				return ErrSkipped
			}
			return c.dependents.RenameVisualization(ctx, v.ID, newName)
		}},
		{Name: "propagate to layers", Run: func(ctx context.Context) error {
			layers, err := c.dependents.LayersForTable(ctx, owner.ID, oldName)
			if err != nil {
				return err
			}
			var errs []error
			for _, l := range layers {
				if err := c.dependents.RenameLayerTable(ctx, l.ID, newName); err != nil {
					errs = append(errs, fmt.Errorf("layer %s: %w", l.ID, err))
				}
			}
			return errors.Join(errs...)
		}},
	}
}

func (c *Controller) clearPendingStep(t *domain.TableIdentity) Step {
	return Step{Name: "clear pending rename", SkipIfFailed: true, Run: func(ctx context.Context) error {
		pending := t.PendingRename
		t.PendingRename = nil
		if err := c.tables.Update(ctx, t); err != nil {
			t.PendingRename = pending
			return err
		}
		return nil
	}}
}

func (c *Controller) validateNewName(ctx context.Context, ns domain.Namespace, t *domain.TableIdentity, newName string) error {
	if err := ddl.ValidateTableName(newName); err != nil {
		return &domain.InvalidTableNameError{Name: newName, Reason: err.Error()}
	}
	if newName == t.Name {
		return &domain.InvalidTableNameError{Name: newName, Reason: "table already has this name"}
	}
	_, err := c.tables.GetByName(ctx, t.OwnerID, newName)
	var nf *domain.NotFoundError
	switch {
	case err == nil:
		return &domain.InvalidTableNameError{Name: newName, Reason: "a table with this name already exists"}
	case !errors.As(err, &nf):
		return err
	}
	exists, err := c.store.TableExists(ctx, ns, newName)
	if err != nil {
		return err
	}
	if exists {
		return &domain.InvalidTableNameError{Name: newName, Reason: "a relation with this name already exists"}
	}
	return nil
}

func (c *Controller) renameOverviews(ctx context.Context, ns domain.Namespace, tableID, oldName, newName string) error {
	overviews, err := c.dependents.Overviews(ctx, tableID)
	if err != nil {
		return err
	}
	for _, o := range overviews {
		to := ddl.OverviewName(o.Name, oldName, newName)
		if to == o.Name {
			continue
		}
		if err := c.store.RenameTable(ctx, ns, o.Name, to); err != nil {
			return fmt.Errorf("overview %s: %w", o.Name, err)
		}
		if err := c.dependents.RenameOverview(ctx, tableID, o.Name, to); err != nil {
			return fmt.Errorf("overview %s: %w", o.Name, err)
		}
	}
	return nil
}

// renameRelation renames through a temporary name when the target carries
// the reserved prefix.
func (c *Controller) renameRelation(ctx context.Context, ns domain.Namespace, from, to string) error {
	if !strings.HasPrefix(to, domain.ReservedTablePrefix) {
		return c.store.RenameTable(ctx, ns, from, to)
	}
	tmp := ddl.TemporaryTableName()
	if err := c.store.RenameTable(ctx, ns, from, tmp); err != nil {
		return err
	}
	if err := c.store.RenameTable(ctx, ns, tmp, to); err != nil {
		return fmt.Errorf("relation left as %s: %w", tmp, err)
	}
	return nil
}

func (c *Controller) invalidate(tableID string) {
	if c.kinds != nil {
		c.kinds.Expire(tableID)
	}
	if c.schemas != nil {
		c.schemas.Invalidate(tableID)
	}
}
