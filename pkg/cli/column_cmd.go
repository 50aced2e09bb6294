package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newColumnCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column",
		Short: "Manage the user columns of a table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <owner> <table> <column> <type>",
		Short: "Add a column (type: string, number, boolean, date or a PostgreSQL type)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.Services.Tables.AddColumn(cmd.Context(), t, args[2], args[3]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Column %s added to %s.\n", args[2], t.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <owner> <table> <column>",
		Short: "Drop a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.Services.Tables.DropColumn(cmd.Context(), t, args[2]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Column %s dropped from %s.\n", args[2], t.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <owner> <table> <column> <new-name>",
		Short: "Rename a column",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.Services.Tables.RenameColumn(cmd.Context(), t, args[2], args[3]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Column %s of %s renamed to %s.\n", args[2], t.Name, args[3])
			return nil
		},
	})

	return cmd
}
