package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"geotables/internal/domain"
)

// DependentRepo implements domain.DependentRegistry using SQLite.
type DependentRepo struct {
	db *sql.DB
}

// NewDependentRepo creates a new DependentRepo.
func NewDependentRepo(db *sql.DB) *DependentRepo {
	return &DependentRepo{db: db}
}

var _ domain.DependentRegistry = (*DependentRepo)(nil)

const visualizationColumns = `id, owner_id, table_id, name, kind, created_at`

// CanonicalVisualization returns the table's canonical visualization, or nil.
func (r *DependentRepo) CanonicalVisualization(ctx context.Context, tableID string) (*domain.Visualization, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+visualizationColumns+` FROM visualizations WHERE table_id = ? AND kind = 'canonical'`, tableID)
	v, err := scanVisualization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// CreateVisualization inserts a visualization.
func (r *DependentRepo) CreateVisualization(ctx context.Context, v *domain.Visualization) (*domain.Visualization, error) {
	if v.ID == "" {
		v.ID = domain.NewID()
	}
	if v.Kind == "" {
		v.Kind = domain.VisualizationDerived
	}
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO visualizations (id, owner_id, table_id, name, kind, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.OwnerID, nullString(v.TableID), v.Name, v.Kind, formatTime(now))
	if err != nil {
		return nil, mapDBError(err)
	}
	out := *v
	out.CreatedAt = now.UTC().Truncate(time.Millisecond)
	return &out, nil
}

// RenameVisualization sets a visualization's display name.
func (r *DependentRepo) RenameVisualization(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE visualizations SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("visualization %q not found", id)
	}
	return nil
}

// DeleteVisualization removes a visualization with its layers and analyses.
func (r *DependentRepo) DeleteVisualization(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM visualizations WHERE id = ?`, id)
	return err
}

// DependentVisualizations returns derived visualizations with a data layer on
// tableName. A visualization is full when every data layer reads tableName.
func (r *DependentRepo) DependentVisualizations(ctx context.Context, ownerID, tableName string) (*domain.DependentVisualizations, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT v.id, v.owner_id, v.table_id, v.name, v.kind, v.created_at,
		       SUM(CASE WHEN l.table_name = ? THEN 0 ELSE 1 END) AS others
		FROM visualizations v
		JOIN layers l ON l.visualization_id = v.id AND l.kind = 'data'
		WHERE v.kind = 'derived'
		  AND v.id IN (SELECT visualization_id FROM layers WHERE owner_id = ? AND table_name = ? AND kind = 'data')
		GROUP BY v.id
		ORDER BY v.created_at, v.id`, tableName, ownerID, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	deps := &domain.DependentVisualizations{}
	for rows.Next() {
		var (
			v         domain.Visualization
			tableID   sql.NullString
			createdAt string
			others    int64
		)
		if err := rows.Scan(&v.ID, &v.OwnerID, &tableID, &v.Name, &v.Kind, &createdAt, &others); err != nil {
			return nil, err
		}
		v.TableID = stringPtr(tableID)
		v.CreatedAt = parseTime(createdAt)
		if others == 0 {
			deps.Full = append(deps.Full, v)
		} else {
			deps.Partial = append(deps.Partial, v)
		}
	}
	return deps, rows.Err()
}

// UnlinkVisualization removes the layers and analyses of a visualization that
// read tableName, leaving the rest of the visualization intact.
func (r *DependentRepo) UnlinkVisualization(ctx context.Context, visualizationID, tableName string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM layers WHERE visualization_id = ? AND table_name = ?`, visualizationID, tableName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM analysis_nodes WHERE visualization_id = ? AND source_table = ?`, visualizationID, tableName); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateLayer inserts a layer.
func (r *DependentRepo) CreateLayer(ctx context.Context, l *domain.Layer) (*domain.Layer, error) {
	if l.ID == "" {
		l.ID = domain.NewID()
	}
	if l.Kind == "" {
		l.Kind = domain.LayerData
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO layers (id, visualization_id, owner_id, kind, table_name, position) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.VisualizationID, l.OwnerID, l.Kind, l.TableName, l.Position)
	if err != nil {
		return nil, mapDBError(err)
	}
	out := *l
	return &out, nil
}

// LayersForTable returns the owner's data layers reading tableName.
func (r *DependentRepo) LayersForTable(ctx context.Context, ownerID, tableName string) ([]domain.Layer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, visualization_id, owner_id, kind, COALESCE(table_name, ''), position
		 FROM layers WHERE owner_id = ? AND table_name = ? AND kind = 'data'
		 ORDER BY visualization_id, position`, ownerID, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var layers []domain.Layer
	for rows.Next() {
		var l domain.Layer
		if err := rows.Scan(&l.ID, &l.VisualizationID, &l.OwnerID, &l.Kind, &l.TableName, &l.Position); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// RenameLayerTable points a layer at a new table name.
func (r *DependentRepo) RenameLayerTable(ctx context.Context, layerID, tableName string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE layers SET table_name = ? WHERE id = ?`, tableName, layerID)
	return err
}

// CreateAnalysisNode inserts an analysis node.
func (r *DependentRepo) CreateAnalysisNode(ctx context.Context, n *domain.AnalysisNode) (*domain.AnalysisNode, error) {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO analysis_nodes (id, visualization_id, owner_id, node_id, source_table) VALUES (?, ?, ?, ?, ?)`,
		n.ID, nullString(n.VisualizationID), n.OwnerID, n.NodeID, n.SourceTable)
	if err != nil {
		return nil, mapDBError(err)
	}
	out := *n
	return &out, nil
}

// AnalysesForTable returns the owner's analysis nodes reading tableName.
func (r *DependentRepo) AnalysesForTable(ctx context.Context, ownerID, tableName string) ([]domain.AnalysisNode, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, visualization_id, owner_id, node_id, source_table
		 FROM analysis_nodes WHERE owner_id = ? AND source_table = ? ORDER BY node_id`, ownerID, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var nodes []domain.AnalysisNode
	for rows.Next() {
		var (
			n     domain.AnalysisNode
			vizID sql.NullString
		)
		if err := rows.Scan(&n.ID, &vizID, &n.OwnerID, &n.NodeID, &n.SourceTable); err != nil {
			return nil, err
		}
		n.VisualizationID = stringPtr(vizID)
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// RenameAnalysisSource repoints every analysis node of the owner reading oldName.
func (r *DependentRepo) RenameAnalysisSource(ctx context.Context, ownerID, oldName, newName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE analysis_nodes SET source_table = ? WHERE owner_id = ? AND source_table = ?`, newName, ownerID, oldName)
	return err
}

// AddOverview records an overview relation of a table.
func (r *DependentRepo) AddOverview(ctx context.Context, o *domain.Overview) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO table_overviews (table_id, name, zoom) VALUES (?, ?, ?)`, o.TableID, o.Name, o.Zoom)
	return mapDBError(err)
}

// Overviews returns a table's overviews ordered by zoom.
func (r *DependentRepo) Overviews(ctx context.Context, tableID string) ([]domain.Overview, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT table_id, name, zoom FROM table_overviews WHERE table_id = ? ORDER BY zoom, name`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Overview
	for rows.Next() {
		var o domain.Overview
		if err := rows.Scan(&o.TableID, &o.Name, &o.Zoom); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RenameOverview renames one overview record.
func (r *DependentRepo) RenameOverview(ctx context.Context, tableID, oldName, newName string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE table_overviews SET name = ? WHERE table_id = ? AND name = ?`, newName, tableID, oldName)
	return mapDBError(err)
}

// DeleteOverviews forgets every overview of a table.
func (r *DependentRepo) DeleteOverviews(ctx context.Context, tableID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM table_overviews WHERE table_id = ?`, tableID)
	return err
}

// CreateSyncJob inserts a sync job and its schedule templates. The schedule
// and every template must be standard five-field cron expressions.
func (r *DependentRepo) CreateSyncJob(ctx context.Context, j *domain.SyncJob) (*domain.SyncJob, error) {
	if _, err := cron.ParseStandard(j.Schedule); err != nil {
		return nil, domain.ErrValidation("invalid sync schedule %q: %v", j.Schedule, err)
	}
	for _, spec := range j.Templates {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, domain.ErrValidation("invalid schedule template %q: %v", spec, err)
		}
	}
	if j.ID == "" {
		j.ID = domain.NewID()
	}
	if j.State == "" {
		j.State = domain.SyncStateCreated
	}
	now := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, table_id, owner_id, url, state, schedule, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TableID, j.OwnerID, j.URL, j.State, j.Schedule, formatTime(now)); err != nil {
		return nil, mapDBError(err)
	}
	for _, spec := range j.Templates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_schedule_templates (id, sync_job_id, cron_spec) VALUES (?, ?, ?)`,
			domain.NewID(), j.ID, spec); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := *j
	out.CreatedAt = now.UTC().Truncate(time.Millisecond)
	return &out, nil
}

// SyncJobForTable returns the table's sync job with its templates, or nil.
func (r *DependentRepo) SyncJobForTable(ctx context.Context, tableID string) (*domain.SyncJob, error) {
	var (
		j         domain.SyncJob
		createdAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, table_id, owner_id, url, state, schedule, created_at FROM sync_jobs WHERE table_id = ?`, tableID).
		Scan(&j.ID, &j.TableID, &j.OwnerID, &j.URL, &j.State, &j.Schedule, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(createdAt)

	rows, err := r.db.QueryContext(ctx,
		`SELECT cron_spec FROM sync_schedule_templates WHERE sync_job_id = ? ORDER BY rowid`, j.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, err
		}
		j.Templates = append(j.Templates, spec)
	}
	return &j, rows.Err()
}

// DeleteSyncJob removes a sync job and its templates.
func (r *DependentRepo) DeleteSyncJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE id = ?`, id)
	return err
}

// TagTable attaches a tag; attaching an existing tag is a no-op.
func (r *DependentRepo) TagTable(ctx context.Context, tableID, tag string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO table_tags (table_id, tag) VALUES (?, ?)`, tableID, tag)
	return err
}

// TableTags returns a table's tags in alphabetical order.
func (r *DependentRepo) TableTags(ctx context.Context, tableID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tag FROM table_tags WHERE table_id = ? ORDER BY tag`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// RemoveTableTags detaches every tag of a table.
func (r *DependentRepo) RemoveTableTags(ctx context.Context, tableID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM table_tags WHERE table_id = ?`, tableID)
	return err
}

func scanVisualization(row rowScanner) (*domain.Visualization, error) {
	var (
		v         domain.Visualization
		tableID   sql.NullString
		createdAt string
	)
	if err := row.Scan(&v.ID, &v.OwnerID, &tableID, &v.Name, &v.Kind, &createdAt); err != nil {
		return nil, err
	}
	v.TableID = stringPtr(tableID)
	v.CreatedAt = parseTime(createdAt)
	return &v, nil
}
