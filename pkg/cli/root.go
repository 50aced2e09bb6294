// Package cli implements the geotables command-line interface.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"geotables/internal/app"
	"geotables/internal/config"
	"geotables/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI against the default environment.
func Execute() int {
	return Run(context.Background(), DefaultEnv(), nil)
}

// Run executes the command line args (os.Args[1:] when nil) in env and
// returns the process exit code.
func Run(ctx context.Context, env *Env, args []string) int {
	s := &session{env: env}
	defer s.close()

	rootCmd := newRootCmd(s)
	if args != nil {
		rootCmd.SetArgs(args)
	}
	rootCmd.SetIn(env.Stdin)
	rootCmd.SetOut(env.Stdout)
	rootCmd.SetErr(env.Stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if s.output == "json" {
			_ = printJSON(env.Stdout, map[string]any{"error": err.Error(), "user_error": domain.IsUserError(err)})
		} else {
			_, _ = fmt.Fprintf(env.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// session lazily opens the metastore and the store for one invocation.
type session struct {
	env      *Env
	cfg      *config.Config
	logger   *slog.Logger
	output   string
	logLevel string

	writeDB *sql.DB
	readDB  *sql.DB
	app     *app.App
	closers []func() error
}

func (s *session) metastore() (writeDB, readDB *sql.DB, err error) {
	if s.writeDB == nil {
		s.writeDB, s.readDB, err = s.env.OpenMetastore(s.cfg.MetaDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open metastore %s: %w", s.cfg.MetaDBPath, err)
		}
		s.closers = append(s.closers, s.readDB.Close, s.writeDB.Close)
	}
	return s.writeDB, s.readDB, nil
}

func (s *session) application(ctx context.Context) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	writeDB, readDB, err := s.metastore()
	if err != nil {
		return nil, err
	}
	h, err := s.env.OpenStore(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if h.Close != nil {
		s.closers = append(s.closers, h.Close)
	}
	s.app, err = app.New(app.Deps{
		Cfg:     s.cfg,
		WriteDB: writeDB,
		ReadDB:  readDB,
		Store:   h.Store,
		Gateway: h.Gateway,
		Logger:  s.logger,
	})
	return s.app, err
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && s.logger != nil {
			s.logger.Warn("close failed", "error", err)
		}
	}
	s.closers = nil
}

// table resolves an owner username and table name.
func (s *session) table(ctx context.Context, a *app.App, username, name string) (*domain.Owner, *domain.TableIdentity, error) {
	owner, err := a.Owners.GetByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	t, err := a.Services.Tables.Get(ctx, owner.ID, name)
	if err != nil {
		return nil, nil, err
	}
	return owner, t, nil
}

func newRootCmd(s *session) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "geotables",
		Short:         "Manage geospatial user tables",
		Long:          "Command-line interface for creating, writing, renaming, sharing and destroying geospatial user tables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(s.output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(".env"); err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not load .env: %v\n", err)
			}

			// Precedence: flag > env > config file > default.
			var err error
			if configPath != "" {
				s.cfg, err = config.Load(configPath)
			} else {
				s.cfg, err = config.LoadFromEnv()
			}
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				s.cfg.LogLevel = s.logLevel
			}
			s.logger = newLogger(cmd, s.cfg)
			for _, w := range s.cfg.Warnings {
				s.logger.Warn(w)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $GEOTABLES_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&s.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMigrateCmd(s))
	rootCmd.AddCommand(newOwnerCmd(s))
	rootCmd.AddCommand(newTableCmd(s))
	rootCmd.AddCommand(newColumnCmd(s))
	rootCmd.AddCommand(newRowCmd(s))

	return rootCmd
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
}
