package domain

import "time"

// Visualization kinds.
const (
	VisualizationCanonical = "canonical"
	VisualizationDerived   = "derived"
)

// Layer kinds.
const (
	LayerData = "data"
	LayerBase = "base"
)

// Sync job states.
const (
	SyncStateCreated = "created"
	SyncStateSyncing = "syncing"
	SyncStateSuccess = "success"
	SyncStateFailure = "failure"
)

// Visualization is a map built on one or more tables. Each table has one
// canonical visualization; derived ones reference tables through layers.
type Visualization struct {
	ID        string
	OwnerID   string
	TableID   *string // set for canonical visualizations
	Name      string
	Kind      string
	CreatedAt time.Time
}

// Layer references a table by name from a visualization.
type Layer struct {
	ID              string
	VisualizationID string
	OwnerID         string
	Kind            string
	TableName       string
	Position        int
}

// AnalysisNode is a node of an analysis graph reading from a source table.
type AnalysisNode struct {
	ID              string
	VisualizationID *string
	OwnerID         string
	NodeID          string
	SourceTable     string
}

// Overview is a materialized, zoom-level reduction of a table.
type Overview struct {
	TableID string
	Name    string
	Zoom    int
}

// SyncJob keeps a table synchronized from a remote source.
type SyncJob struct {
	ID        string
	TableID   string
	OwnerID   string
	URL       string
	State     string
	Schedule  string
	Templates []string
	CreatedAt time.Time
}

// Active reports whether the job still feeds its table.
func (j *SyncJob) Active() bool {
	return j.State != SyncStateFailure
}

// DependentVisualizations splits derived visualizations that reference a
// table into those fully built on it and those also using other tables.
type DependentVisualizations struct {
	Full    []Visualization
	Partial []Visualization
}
