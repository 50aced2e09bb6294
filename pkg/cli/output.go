package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"geotables/internal/domain"
)

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under headers as aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

type tableView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Owner         string     `json:"owner"`
	Privacy       string     `json:"privacy"`
	GeometryKind  string     `json:"geometry_kind,omitempty"`
	State         string     `json:"state"`
	PendingRename string     `json:"pending_rename,omitempty"`
	Rows          *int64     `json:"row_count_estimate,omitempty"`
	Bytes         *int64     `json:"size_estimate,omitempty"`
	EstimatedAt   *time.Time `json:"estimates_updated_at,omitempty"`
}

func newTableView(owner *domain.Owner, t *domain.TableIdentity) tableView {
	v := tableView{
		ID:          t.ID,
		Name:        t.Name,
		Owner:       owner.Username,
		Privacy:     string(t.EffectivePrivacy()),
		State:       string(t.State),
		Rows:        t.RowCountEstimate,
		Bytes:       t.SizeEstimate,
		EstimatedAt: t.EstimatesUpdatedAt,
	}
	if t.GeometryKind != nil {
		v.GeometryKind = string(*t.GeometryKind)
	}
	if t.PendingRename != nil {
		v.PendingRename = *t.PendingRename
	}
	return v
}

func printTables(w io.Writer, output string, views ...tableView) error {
	if output == "json" {
		if len(views) == 1 {
			return printJSON(w, views[0])
		}
		return printJSON(w, views)
	}
	rows := make([][]string, len(views))
	for i, v := range views {
		rows[i] = []string{v.Name, v.Owner, v.Privacy, orDash(v.GeometryKind), v.State, formatCount(v.Rows), v.ID}
	}
	return printTable(w, []string{"NAME", "OWNER", "PRIVACY", "GEOMETRY", "STATE", "ROWS", "ID"}, rows)
}

type stepView struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func printReport(w io.Writer, output string, r *domain.ProtocolReport) error {
	steps := make([]stepView, len(r.Steps))
	for i, st := range r.Steps {
		steps[i] = stepView{Name: st.Name, Status: string(st.Status)}
		if st.Err != nil {
			steps[i].Error = st.Err.Error()
		}
	}
	if output == "json" {
		return printJSON(w, map[string]any{"operation": r.Operation, "table_id": r.TableID, "steps": steps})
	}
	rows := make([][]string, len(steps))
	for i, st := range steps {
		rows[i] = []string{st.Name, st.Status, orDash(st.Error)}
	}
	return printTable(w, []string{"STEP", "STATUS", "ERROR"}, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
