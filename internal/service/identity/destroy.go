package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"geotables/internal/domain"
)

// DestroyOptions control Destroy.
type DestroyOptions struct {
	// KeepPhysicalData leaves the relation and its overviews in place.
	KeepPhysicalData bool
}

// Destroy removes t and finalizes everything that references it. Only
// capturing dependents, deleting the canonical visualization and forgetting
// the identity are load-bearing; other failures are logged and reported
// without failing the call.
func (c *Controller) Destroy(ctx context.Context, owner *domain.Owner, t *domain.TableIdentity, opts DestroyOptions) (*domain.ProtocolReport, error) {
	unlock := c.locks.Lock(t.ID)
	defer unlock()

	ns := owner.Namespace()
	var (
		canonical  *domain.Visualization
		dependents *domain.DependentVisualizations
		overviews  []domain.Overview
	)
	steps := []Step{
		{Name: "capture dependents", Required: true, Run: func(ctx context.Context) error {
			var err error
			if canonical, err = c.dependents.CanonicalVisualization(ctx, t.ID); err != nil {
				return err
			}
			if dependents, err = c.dependents.DependentVisualizations(ctx, owner.ID, t.Name); err != nil {
				return err
			}
			overviews, err = c.dependents.Overviews(ctx, t.ID)
			return err
		}},
		{Name: "delete canonical visualization", Required: true, Run: func(ctx context.Context) error {
			if canonical == nil {
				return ErrSkipped
			}
			return c.dependents.DeleteVisualization(ctx, canonical.ID)
		}},
		{Name: "remove tags", Run: func(ctx context.Context) error {
			return c.dependents.RemoveTableTags(ctx, t.ID)
		}},
		{Name: "decrement usage counters", Run: func(ctx context.Context) error {
			return c.counters.DecrementTables(ctx, owner)
		}},
		{Name: "clear cached state", Run: func(context.Context) error {
			c.invalidate(t.ID)
			return nil
		}},
		{Name: "finalize dependent visualizations", Run: func(ctx context.Context) error {
			var errs []error
			for _, v := range dependents.Full {
				if err := c.dependents.DeleteVisualization(ctx, v.ID); err != nil {
					errs = append(errs, fmt.Errorf("delete visualization %s: %w", v.ID, err))
				}
			}
			for _, v := range dependents.Partial {
				if err := c.dependents.UnlinkVisualization(ctx, v.ID, t.Name); err != nil {
					errs = append(errs, fmt.Errorf("unlink visualization %s: %w", v.ID, err))
				}
			}
			return errors.Join(errs...)
		}},
		{Name: "touch table metadata", Run: func(ctx context.Context) error {
			exists, err := c.store.TableExists(ctx, ns, t.Name)
			if err != nil {
				return err
			}
			if !exists {
				return ErrSkipped
			}
			return c.store.TouchMetadata(ctx, ns, t.Name)
		}},
		{Name: "drop relation", Run: func(ctx context.Context) error {
			if opts.KeepPhysicalData {
				return ErrSkipped
			}
			var errs []error
			for _, o := range overviews {
				if err := c.store.DropTable(ctx, ns, o.Name); err != nil {
					errs = append(errs, fmt.Errorf("overview %s: %w", o.Name, err))
				}
			}
			if err := c.store.DropTable(ctx, ns, t.Name); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		}},
		{Name: "remove sync job", Run: func(ctx context.Context) error {
			job, err := c.dependents.SyncJobForTable(ctx, t.ID)
			if err != nil {
				return err
			}
			if job == nil {
				return ErrSkipped
			}
			return c.dependents.DeleteSyncJob(ctx, job.ID)
		}},
		{Name: "forget identity", Required: true, Run: func(ctx context.Context) error {
			if err := c.dependents.DeleteOverviews(ctx, t.ID); err != nil {
				return err
			}
			return c.tables.Delete(ctx, t.ID)
		}},
	}

	report := RunProtocol(ctx, c.logger, slog.LevelWarn, OperationDestroy, t.ID, steps)
	if err := requiredFailure(report); err != nil {
		return report, err
	}
	c.logger.Info("table destroyed", "table", t.ID, "owner", owner.ID, "name", t.Name,
		"kept_data", opts.KeepPhysicalData, "incomplete", report.Failed())
	return report, nil
}
