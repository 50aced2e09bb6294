package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"geotables/internal/domain"
	"geotables/internal/service/identity"
	"geotables/internal/service/schema"
)

func newTableCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Manage user tables",
	}
	cmd.AddCommand(newTableCreateCmd(s))
	cmd.AddCommand(newTableGetCmd(s))
	cmd.AddCommand(newTableSchemaCmd(s))
	cmd.AddCommand(newTableRenameCmd(s))
	cmd.AddCommand(newTableReconcileCmd(s))
	cmd.AddCommand(newTablePrivacyCmd(s))
	cmd.AddCommand(newTableShareCmd(s))
	cmd.AddCommand(newTableDestroyCmd(s))
	cmd.AddCommand(newTableEstimatesCmd(s))
	cmd.AddCommand(newTableSyncCmd(s))
	return cmd
}

func newTableCreateCmd(s *session) *cobra.Command {
	var (
		from    string
		kind    string
		privacy string
	)
	cmd := &cobra.Command{
		Use:   "create <owner> [name]",
		Short: "Create a table, or register an existing relation with --from",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := a.Owners.GetByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			req := domain.CreateTableRequest{FromRelation: from, Privacy: domain.Privacy(privacy)}
			if len(args) == 2 {
				req.Name = args[1]
			}
			if kind != "" {
				k := domain.ParseGeometryKind(kind)
				req.GeometryKind = &k
			}
			t, err := a.Services.Tables.Create(cmd.Context(), owner.ID, req)
			if err != nil {
				return err
			}
			return printTables(cmd.OutOrStdout(), getOutputFormat(cmd), newTableView(owner, t))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Existing relation to register as the table")
	cmd.Flags().StringVar(&kind, "geometry", "", "Geometry kind (point, linestring, polygon, multipoint, multilinestring, multipolygon, geometry)")
	cmd.Flags().StringVar(&privacy, "privacy", "", "Privacy (private, public, link, password)")
	return cmd
}

func newTableGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <owner> <table>",
		Short: "Show a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			owner, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			return printTables(cmd.OutOrStdout(), getOutputFormat(cmd), newTableView(owner, t))
		},
	}
}

func newTableSchemaCmd(s *session) *cobra.Command {
	var (
		reload bool
		native bool
	)
	cmd := &cobra.Command{
		Use:   "schema <owner> <table>",
		Short: "Show the columns of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			cols, err := a.Services.Tables.Schema(cmd.Context(), t, schema.ReadOptions{Reload: reload, IncludeNativeTypes: native})
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				type columnView struct {
					Name            string `json:"name"`
					Type            string `json:"type"`
					NativeType      string `json:"native_type,omitempty"`
					GeometrySubtype string `json:"geometry_subtype,omitempty"`
				}
				views := make([]columnView, len(cols))
				for i, c := range cols {
					views[i] = columnView{Name: c.Name, Type: string(c.Type), NativeType: c.NativeType, GeometrySubtype: c.GeometrySubtype}
				}
				return printJSON(cmd.OutOrStdout(), views)
			}
			rows := make([][]string, len(cols))
			for i, c := range cols {
				typ := string(c.Type)
				if c.GeometrySubtype != "" {
					typ += ", " + c.GeometrySubtype
				}
				rows[i] = []string{c.Name, typ, orDash(c.NativeType)}
			}
			return printTable(cmd.OutOrStdout(), []string{"COLUMN", "TYPE", "NATIVE"}, rows)
		},
	}
	cmd.Flags().BoolVar(&reload, "reload", false, "Bypass the schema cache")
	cmd.Flags().BoolVar(&native, "native", false, "Include native column types")
	return cmd
}

func newTableRenameCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <owner> <table> <new-name>",
		Short: "Rename a table and every dependent that refers to it",
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
			report, err := a.Services.Tables.Rename(cmd.Context(), t, args[2])
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), getOutputFormat(cmd), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newTableReconcileCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <owner> <table>",
		Short: "Finish propagating an interrupted rename",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			report, err := a.Services.Tables.Reconcile(cmd.Context(), t)
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), getOutputFormat(cmd), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newTablePrivacyCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "privacy <owner> <table> <private|public|link|password>",
		Short: "Change the privacy of a table",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			owner, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.Services.Tables.SetPrivacy(cmd.Context(), t, domain.Privacy(args[2])); err != nil {
				return err
			}
			return printTables(cmd.OutOrStdout(), getOutputFormat(cmd), newTableView(owner, t))
		},
	}
}

func newTableShareCmd(s *session) *cobra.Command {
	var (
		users []string
		orgs  []string
	)
	cmd := &cobra.Command{
		Use:   "share <owner> <table>",
		Short: "Replace the share list of a table",
		Long:  "Replace the share list of a table. Entries are NAME=ACCESS with ACCESS r or rw; users are named by username. With no entries every share is removed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			var entries []domain.ACLEntry
			for _, u := range users {
				name, access, err := parseShare(u)
				if err != nil {
					return err
				}
				grantee, err := a.Owners.GetByUsername(cmd.Context(), name)
				if err != nil {
					return err
				}
				entries = append(entries, domain.ACLEntry{EntityType: domain.ShareUser, EntityID: grantee.ID, Access: access})
			}
			for _, o := range orgs {
				id, access, err := parseShare(o)
				if err != nil {
					return err
				}
				entries = append(entries, domain.ACLEntry{EntityType: domain.ShareOrganization, EntityID: id, Access: access})
			}
			if err := a.Services.Tables.Share(cmd.Context(), t, entries); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Table %s shared with %d entries.\n", t.Name, len(entries))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&users, "user", nil, "User share as USERNAME=r|rw (repeatable)")
	cmd.Flags().StringArrayVar(&orgs, "org", nil, "Organization share as ORG_ID=r|rw (repeatable)")
	return cmd
}

func parseShare(v string) (string, domain.ShareAccess, error) {
	name, access, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return "", "", domain.ErrValidation("share %q must be NAME=r or NAME=rw", v)
	}
	return name, domain.ShareAccess(access), nil
}

func newTableDestroyCmd(s *session) *cobra.Command {
	var (
		keepData bool
		yes      bool
	)
	cmd := &cobra.Command{
		Use:   "destroy <owner> <table>",
		Short: "Destroy a table and its dependents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			_, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}

			if !yes {
				if !s.env.IsTerminal() {
					return fmt.Errorf("confirmation required but stdin is not a terminal; use --yes")
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Destroy table %s of %s? [y/N] ", t.Name, args[0])
				answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				answer = strings.TrimSpace(strings.ToLower(answer))
				if answer != "y" && answer != "yes" {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Destroy cancelled.")
					return nil
				}
			}

			report, err := a.Services.Tables.Destroy(cmd.Context(), t, identity.DestroyOptions{KeepPhysicalData: keepData})
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), getOutputFormat(cmd), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&keepData, "keep-data", false, "Keep the physical relation")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip interactive confirmation prompt")
	return cmd
}

func newTableEstimatesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "estimates <owner> [table]",
		Short: "Refresh row count and size estimates",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			owner, err := a.Owners.GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if len(args) == 2 {
				t, err := a.Services.Tables.Get(ctx, owner.ID, args[1])
				if err != nil {
					return err
				}
				if err := a.Services.Tables.RefreshEstimates(ctx, t); err != nil {
					return err
				}
				return printTables(cmd.OutOrStdout(), getOutputFormat(cmd), newTableView(owner, t))
			}
			if err := a.Services.Tables.RefreshAllEstimates(ctx, owner.ID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Estimates refreshed for %s.\n", owner.Username)
			return nil
		},
	}
}

func newTableSyncCmd(s *session) *cobra.Command {
	var (
		url       string
		schedule  string
		templates []string
	)
	cmd := &cobra.Command{
		Use:   "sync <owner> <table>",
		Short: "Attach a synchronization job to a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context())
			if err != nil {
				return err
			}
			owner, t, err := s.table(cmd.Context(), a, args[0], args[1])
			if err != nil {
				return err
			}
			job, err := a.Dependents.CreateSyncJob(cmd.Context(), &domain.SyncJob{
				TableID:   t.ID,
				OwnerID:   owner.ID,
				URL:       url,
				Schedule:  schedule,
				Templates: templates,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sync job %s attached to %s (%s).\n", job.ID, t.Name, job.Schedule)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Source URL")
	cmd.Flags().StringVar(&schedule, "schedule", "0 * * * *", "Cron schedule")
	cmd.Flags().StringArrayVar(&templates, "template", nil, "Additional schedule template (repeatable)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
