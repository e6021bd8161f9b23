package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/riskibarqy/duel-ingest/external/countryshapes"
	"github.com/riskibarqy/duel-ingest/external/duelsapi"
	"github.com/riskibarqy/duel-ingest/external/reversegeo"
	"github.com/riskibarqy/duel-ingest/internal/config"
	"github.com/riskibarqy/duel-ingest/internal/domain/detail"
	"github.com/riskibarqy/duel-ingest/internal/domain/match"
	"github.com/riskibarqy/duel-ingest/internal/domain/meta"
	"github.com/riskibarqy/duel-ingest/internal/domain/round"
	"github.com/riskibarqy/duel-ingest/internal/infrastructure/repository/cache"
	"github.com/riskibarqy/duel-ingest/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/duel-ingest/internal/infrastructure/repository/relational"
	"github.com/riskibarqy/duel-ingest/internal/interfaces/httpapi"
	"github.com/riskibarqy/duel-ingest/internal/platform/logging"
	"github.com/riskibarqy/duel-ingest/internal/platform/resilience"
	"github.com/riskibarqy/duel-ingest/internal/usecase"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	_ "modernc.org/sqlite"
)

// App holds the wired services shared by the API server and the CLI.
type App struct {
	Sync     *usecase.DetailSyncService
	Matches  *usecase.MatchQueryService
	Geo      *usecase.GeoResolver
	Profiles *cache.ProfileRepository
	Duels    *duelsapi.Client

	db     *sqlx.DB
	logger *logging.Logger
}

type repositories struct {
	matches match.Repository
	details detail.Repository
	rounds  round.Repository
	meta    meta.Repository
	writer  round.ResultWriter
	db      *sqlx.DB
}

func New(cfg config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Default()
	}

	repos, err := openRepositories(cfg, logger)
	if err != nil {
		return nil, err
	}

	endpoints, err := duelsapi.LoadEndpointTable(cfg.DuelsEndpointsFile)
	if err != nil {
		closeDB(repos.db, logger)
		return nil, err
	}
	endpoints = endpoints.WithHosts(cfg.DuelsAPIHosts)

	duels, err := duelsapi.NewClient(duelsapi.ClientConfig{
		Endpoints:      endpoints,
		Credential:     cfg.DuelsAPIToken,
		CookieName:     cfg.DuelsAPICookieName,
		Timeout:        cfg.DuelsAPITimeout,
		Logger:         logger.Named("duelsapi"),
		CircuitBreaker: cfg.DuelsCircuit,
	})
	if err != nil {
		closeDB(repos.db, logger)
		return nil, fmt.Errorf("build duels api client: %w", err)
	}
	profiles := cache.NewProfileRepository(duels, cfg.ProfileCacheTTL)

	geoCfg := usecase.GeoResolverConfig{
		Loader: countryshapes.NewLoader(countryshapes.LoaderConfig{
			Mirrors: cfg.GeoDatasetMirrors,
			Timeout: cfg.GeoDatasetTimeout,
			Logger:  logger.Named("countryshapes"),
		}),
		Logger: logger.Named("geo"),
	}
	if cfg.GeoReverseEnabled {
		geoCfg.Fallback = reversegeo.NewClient(reversegeo.ClientConfig{
			BaseURL:        cfg.GeoReverseURL,
			Timeout:        cfg.GeoReverseTimeout,
			Logger:         logger.Named("reversegeo"),
			CircuitBreaker: resilience.ReverseGeoCircuitBreakerConfig(),
		})
	}
	geoResolver := usecase.NewGeoResolver(geoCfg)

	fetcher := usecase.NewDetailFetcher(usecase.DetailFetcherConfig{
		Transport: duels,
		Endpoints: endpoints,
		Normalizer: usecase.NewPayloadNormalizer(usecase.PayloadNormalizerConfig{
			Resolver: geoResolver,
			Profiles: profiles,
			Logger:   logger.Named("normalizer"),
		}),
		Details: repos.details,
		Rounds:  repos.rounds,
		Writer:  repos.writer,
		Logger:  logger.Named("fetcher"),
	})

	syncSvc := usecase.NewDetailSyncService(usecase.DetailSyncConfig{
		Matches:              repos.matches,
		Details:              repos.details,
		Rounds:               repos.rounds,
		Meta:                 repos.meta,
		Fetcher:              fetcher,
		Owner:                duels,
		OwnPlayerID:          cfg.DuelsPlayerID,
		Concurrency:          cfg.IngestConcurrency,
		RetryErrors:          cfg.IngestRetryErrors,
		MissingRetryAfter:    cfg.IngestMissingRetryAfter,
		EnrichmentRetryAfter: cfg.IngestEnrichmentRetryAfter,
		Logger:               logger.Named("sync"),
	})

	return &App{
		Sync:     syncSvc,
		Matches:  usecase.NewMatchQueryService(repos.details, repos.rounds),
		Geo:      geoResolver,
		Profiles: profiles,
		Duels:    duels,
		db:       repos.db,
		logger:   logger,
	}, nil
}

// NewHTTPServer builds the API server over a wired App.
func NewHTTPServer(cfg config.Config, a *App, logger *logging.Logger) (*http.Server, error) {
	if logger == nil {
		logger = logging.Default()
	}

	handler := httpapi.NewHandler(a.Sync, a.Matches, logger.Named("http"))
	router := httpapi.NewRouter(handler, logger.Named("http"), httpapi.RouterConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		InternalJobToken:   cfg.InternalJobToken,
		MetricsEnabled:     cfg.MetricsEnabled,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if server.Addr == "" {
		return nil, fmt.Errorf("http server addr cannot be empty")
	}

	return server, nil
}

// Close stops a running ingestion pass, then releases the database.
func (a *App) Close() error {
	a.Sync.Close()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func openRepositories(cfg config.Config, logger *logging.Logger) (repositories, error) {
	if cfg.StoreDriver == config.StoreMemory || cfg.StoreDriver == "" {
		logger.Info("using in-memory store")
		store := memory.NewStore()
		return repositories{
			matches: store,
			details: store.Details(),
			rounds:  store.Rounds(),
			meta:    store,
			writer:  store,
		}, nil
	}

	db, err := openDB(cfg, logger)
	if err != nil {
		return repositories{}, err
	}
	store := relational.NewStore(db)
	return repositories{
		matches: store,
		details: store.Details(),
		rounds:  store.Rounds(),
		meta:    store,
		writer:  store,
		db:      db,
	}, nil
}

func openDB(cfg config.Config, logger *logging.Logger) (*sqlx.DB, error) {
	target, err := resolveStoreTarget(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DBAutoMigrate {
		if err := relational.MigrateUp(target.migrateURL); err != nil {
			return nil, fmt.Errorf("migrate %s store: %w", cfg.StoreDriver, err)
		}
		logger.Info("database migrations applied", "driver", cfg.StoreDriver)
	}

	db, err := otelsqlx.Open(target.driver, target.dsn,
		otelsql.WithDBSystem(target.system),
		otelsql.WithDBName(target.name()),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	if target.system == "sqlite" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Join(fmt.Errorf("ping %s store: %w", cfg.StoreDriver, err), db.Close())
	}

	logger.Info("database connected", "driver", cfg.StoreDriver, "db_name", target.name())
	return db, nil
}

func closeDB(db *sqlx.DB, logger *logging.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Warn("close database failed", "error", err)
	}
}
