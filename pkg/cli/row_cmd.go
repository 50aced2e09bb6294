package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"geotables/internal/domain"
)

func newRowCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "row",
		Short: "Write rows",
		Long: "Write rows. Attributes are a JSON object read from the argument or stdin. " +
			"the_geom may be a GeoJSON object or string; other strings are written as EWKT or hex EWKB.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "insert <owner> <table> [json]",
		Short: "Insert a row and print its cartodb_id",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := readAttributes(cmd, args[2:])
			if err != nil {
				return err
			}
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			id, err := a.Services.Tables.InsertRow(cmd.Context(), t, attrs)
			if id != 0 {
				if perr := printRowResult(cmd, "cartodb_id", id); perr != nil {
					return perr
				}
			}
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update <owner> <table> <cartodb_id> [json]",
		Short: "Update a row and print the rows affected",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return domain.ErrValidation("invalid cartodb_id %q", args[2])
			}
			attrs, err := readAttributes(cmd, args[3:])
			if err != nil {
				return err
			}
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			affected, err := a.Services.Tables.UpdateRow(cmd.Context(), t, rowID, attrs)
			if err != nil {
				return err
			}
			return printRowResult(cmd, "affected", affected)
		},
	})

	return cmd
}

// readAttributes decodes the JSON object in args[0], or stdin without args.
func readAttributes(cmd *cobra.Command, args []string) (map[string]any, error) {
	var r io.Reader
	if len(args) > 0 {
		r = strings.NewReader(args[0])
	} else {
		r = cmd.InOrStdin()
	}
	var attrs map[string]any
	if err := json.NewDecoder(r).Decode(&attrs); err != nil {
		return nil, domain.ErrValidation("attributes must be a JSON object: %v", err)
	}
	if g, ok := attrs[domain.ColumnGeometry].(string); ok && !strings.HasPrefix(strings.TrimSpace(g), "{") {
		attrs[domain.ColumnGeometry] = domain.GeometryLiteral(g)
	}
	return attrs, nil
}

func printRowResult(cmd *cobra.Command, key string, n int64) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]int64{key: n})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", key, n)
	return nil
}
