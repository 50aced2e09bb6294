package cli

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"geotables/internal/config"
	internaldb "geotables/internal/db"
	"geotables/internal/domain"
	"geotables/internal/store/postgis"
)

// StoreHandle is an opened physical store and the gateway issuing grants on it.
type StoreHandle struct {
	Store   domain.PhysicalStore
	Gateway domain.PermissionGateway
	Close   func() error
}

// Env holds the process-level collaborators of the CLI. Tests replace the
// openers with in-memory implementations.
type Env struct {
	OpenMetastore func(path string) (writeDB, readDB *sql.DB, err error)
	OpenStore     func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*StoreHandle, error)
	IsTerminal    func() bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultEnv opens the SQLite metastore and PostGIS over pgx.
func DefaultEnv() *Env {
	return &Env{
		OpenMetastore: internaldb.OpenMetastore,
		OpenStore:     openPostGIS,
		IsTerminal:    func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }, //nolint:gosec // fd fits in int
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}
}

func openPostGIS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*StoreHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	user, err := postgis.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	admin := user
	if cfg.PrivilegedDatabaseURL != cfg.DatabaseURL {
		if admin, err = postgis.OpenDB(cfg.PrivilegedDatabaseURL); err != nil {
			_ = user.Close()
			return nil, err
		}
	}
	store := postgis.New(user, admin, cfg.StatementTimeout, logger.With("component", "postgis"))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &StoreHandle{Store: store, Gateway: store, Close: store.Close}, nil
}
