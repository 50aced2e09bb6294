package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the metastore schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, _, err := s.metastore(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Metastore %s is up to date.\n", s.cfg.MetaDBPath)
			return nil
		},
	}
}
