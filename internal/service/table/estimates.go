package table

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"geotables/internal/domain"
)

// estimateConcurrency bounds concurrent catalog reads in RefreshAllEstimates.
const estimateConcurrency = 4

// RefreshEstimates reads t's row count and size from the catalog and
// records them with the time they were taken.
func (s *Service) RefreshEstimates(ctx context.Context, t *domain.TableIdentity) error {
	owner, err := s.owners.Get(ctx, t.OwnerID)
	if err != nil {
		return err
	}
	rows, bytes, err := s.store.Estimates(ctx, owner.Namespace(), t.Name)
	if err != nil {
		return fmt.Errorf("estimates of %s: %w", t.Name, err)
	}
	now := time.Now().UTC()
	t.RowCountEstimate = &rows
	t.SizeEstimate = &bytes
	t.EstimatesUpdatedAt = &now
	return s.tables.Update(ctx, t)
}

// RefreshAllEstimates refreshes the estimates of every table of ownerID.
func (s *Service) RefreshAllEstimates(ctx context.Context, ownerID string) error {
	names, err := s.tables.ListNames(ctx, ownerID)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(estimateConcurrency)
	for _, name := range names {
		g.Go(func() error {
			t, err := s.tables.GetByName(ctx, ownerID, name)
			if err != nil {
				return err
			}
			return s.RefreshEstimates(ctx, t)
		})
	}
	return g.Wait()
}
