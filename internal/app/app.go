// Package app provides application-level wiring and dependency injection
// for geotables.
package app

import (
	"database/sql"
	"errors"
	"log/slog"

	"geotables/internal/cache"
	"geotables/internal/config"
	"geotables/internal/db/repository"
	"geotables/internal/ddl"
	"geotables/internal/domain"
	"geotables/internal/service/geometry"
	"geotables/internal/service/identity"
	"geotables/internal/service/privacy"
	"geotables/internal/service/schema"
	"geotables/internal/service/table"
	"geotables/internal/service/widening"
	"geotables/internal/service/write"
)

// Deps holds the external dependencies that main() must provide: config,
// the metastore pools and the physical store.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Store   domain.PhysicalStore
	Gateway domain.PermissionGateway
	Logger  *slog.Logger
}

// Services groups the services the CLI drives.
type Services struct {
	Tables     *table.Service
	Schema     *schema.Reader
	Normalizer *geometry.Normalizer
	Writer     *write.Writer
	Identity   *identity.Controller
	Privacy    *privacy.Propagator
}

// App holds the fully-wired application and the repositories commands need
// outside of the table service.
type App struct {
	Services   Services
	Owners     *repository.OwnerRepo
	Dependents *repository.DependentRepo
	Counters   *repository.UsageCounterRepo
	Kinds      *cache.GeometryKinds
}

// New wires repositories, caches and services from the provided deps.
func New(deps Deps) (*App, error) {
	if deps.Cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.WriteDB == nil || deps.Store == nil || deps.Gateway == nil {
		return nil, errors.New("app: metastore, store and gateway are required")
	}
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readDB := deps.ReadDB
	if readDB == nil {
		readDB = deps.WriteDB
	}

	// === Repositories ===
	owners := repository.NewOwnerRepo(deps.WriteDB)
	tables := repository.NewTableRepo(deps.WriteDB)
	dependents := repository.NewDependentRepo(deps.WriteDB)
	counters := repository.NewUsageCounterRepo(deps.WriteDB, cfg.Hostname)
	quota := repository.NewQuotaRepo(readDB)

	// === Caches ===
	kinds := cache.NewGeometryKinds(cfg.GeometryEmptyTTL, cfg.GeometryKindTTL)

	// === Services ===
	normalizer := geometry.NewNormalizer(deps.Store, tables, kinds, logger.With("component", "geometry"))
	reader := schema.NewReader(deps.Store, normalizer, cfg.SchemaCacheTTL, logger.With("component", "schema"))
	writer := write.NewWriter(write.Deps{
		Store:     deps.Store,
		Reader:    reader,
		Kinds:     normalizer,
		KindCache: kinds,
		Resolver:  widening.NewResolver(widening.MessageIdentifier{}),
		UpdateCap: cfg.UpdateWideningCap,
		Logger:    logger.With("component", "write"),
	})
	controller := identity.NewController(identity.Deps{
		Store:      deps.Store,
		Tables:     tables,
		Dependents: dependents,
		Counters:   counters,
		Kinds:      kinds,
		Schemas:    reader,
		Logger:     logger.With("component", "identity"),
	})
	propagator := privacy.NewPropagator(deps.Gateway, owners, dependents, cfg.PublicRole, logger.With("component", "privacy"))

	tableSvc := table.NewService(table.Deps{
		Owners:     owners,
		Tables:     tables,
		Dependents: dependents,
		Store:      deps.Store,
		Quota:      quota,
		Counters:   counters,
		Names:      ddl.Proposer{},
		Reader:     reader,
		Normalizer: normalizer,
		Writer:     writer,
		Identity:   controller,
		Privacy:    propagator,
		Logger:     logger.With("component", "table"),
	})

	return &App{
		Services: Services{
			Tables:     tableSvc,
			Schema:     reader,
			Normalizer: normalizer,
			Writer:     writer,
			Identity:   controller,
			Privacy:    propagator,
		},
		Owners:     owners,
		Dependents: dependents,
		Counters:   counters,
		Kinds:      kinds,
	}, nil
}
