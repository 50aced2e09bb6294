package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"geotables/internal/app"
	"geotables/internal/db/repository"
	"geotables/internal/domain"
)

func newOwnerCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage table owners",
	}
	cmd.AddCommand(newOwnerCreateCmd(s))
	cmd.AddCommand(newOwnerGetCmd(s))
	return cmd
}

type ownerView struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	Schema       string  `json:"schema"`
	DatabaseRole string  `json:"database_role"`
	Organization *string `json:"organization_id,omitempty"`
	Plan         string  `json:"plan"`
	TableQuota   *int    `json:"table_quota,omitempty"`
}

func printOwner(cmd *cobra.Command, o *domain.Owner) error {
	v := ownerView{
		ID: o.ID, Username: o.Username, Schema: o.Schema, DatabaseRole: o.DatabaseRole,
		Organization: o.OrganizationID, Plan: o.Plan, TableQuota: o.TableQuota,
	}
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), v)
	}
	quota := "unlimited"
	if v.TableQuota != nil {
		quota = fmt.Sprintf("%d", *v.TableQuota)
	}
	org := "-"
	if v.Organization != nil {
		org = *v.Organization
	}
	return printTable(cmd.OutOrStdout(),
		[]string{"USERNAME", "SCHEMA", "ROLE", "ORG", "PLAN", "QUOTA", "ID"},
		[][]string{{v.Username, v.Schema, v.DatabaseRole, org, v.Plan, quota, v.ID}})
}

func newOwnerCreateCmd(s *session) *cobra.Command {
	var (
		schemaName string
		role       string
		org        string
		plan       string
		quota      int
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Register an owner (no-op when the username exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			writeDB, _, err := s.metastore()
			if err != nil {
				return err
			}
			o := &domain.Owner{Username: args[0], Schema: schemaName, DatabaseRole: role, Plan: plan}
			if org != "" {
				o.OrganizationID = &org
			}
			if cmd.Flags().Changed("quota") {
				o.TableQuota = &quota
			}
			owner, created, err := app.EnsureOwner(cmd.Context(), repository.NewOwnerRepo(writeDB), o)
			if err != nil {
				return err
			}
			if !created {
				s.logger.Info("owner already exists", "username", owner.Username)
			}
			return printOwner(cmd, owner)
		},
	}
	cmd.Flags().StringVar(&schemaName, "schema", "", "Schema holding the owner's relations (default: username)")
	cmd.Flags().StringVar(&role, "role", "", "Database role statements run as (default: username)")
	cmd.Flags().StringVar(&org, "org", "", "Organization id")
	cmd.Flags().StringVar(&plan, "plan", "", "Account plan (default: free)")
	cmd.Flags().IntVar(&quota, "quota", 0, "Table quota (default: unlimited)")
	return cmd
}

func newOwnerGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get <username>",
		Short: "Show an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			writeDB, _, err := s.metastore()
			if err != nil {
				return err
			}
			owner, err := repository.NewOwnerRepo(writeDB).GetByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOwner(cmd, owner)
		},
	}
}
