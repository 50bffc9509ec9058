package tabby

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/schema"
	"go.opentelemetry.io/otel/trace"
)

// Vendor names the database engine behind a Store.
type Vendor = sqldb.Vendor

const (
	Postgres = sqldb.Postgres
	MySQL    = sqldb.MySQL
	MariaDB  = sqldb.MariaDB
)

// Store is the main entry point for Tabby. It holds a connection pool and the
// shared configuration used by event stores and projections.
type Store struct {
	pool  *sqldb.Pool
	owned bool
	be    backend
}

// New connects to the database and returns a configured Store. PostgreSQL
// uses pgxpool; MySQL and MariaDB use go-sql-driver/mysql.
func New(ctx context.Context, vendor Vendor, dsn string, opts ...Option) (*Store, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	var pool *sqldb.Pool
	switch vendor {
	case Postgres:
		pool, err = sqldb.NewPostgres(ctx, dsn)
	case MySQL, MariaDB:
		pool, err = sqldb.NewMySQL(ctx, dsn)
	default:
		return nil, fmt.Errorf("tabby: vendor %q: %w", vendor, ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("tabby: %w", err)
	}

	return newStore(pool, true, vendor, cfg), nil
}

// Open builds a Store over a caller-owned handle, for example one opened with
// lib/pq. Close leaves the handle open. MySQL handles must be opened with
// parseTime=true.
func Open(db *sql.DB, vendor Vendor, opts ...Option) (*Store, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	switch vendor {
	case Postgres, MySQL, MariaDB:
	default:
		return nil, fmt.Errorf("tabby: vendor %q: %w", vendor, ErrConfiguration)
	}
	return newStore(sqldb.Wrap(db), false, vendor, cfg), nil
}

func buildConfig(opts []Option) (*storeConfig, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	for _, name := range []string{cfg.eventStreamsTable, cfg.projectionsTable} {
		if err := schema.ValidateTableName(name); err != nil {
			return nil, fmt.Errorf("tabby: %w: %w", ErrConfiguration, err)
		}
	}
	if cfg.loadBatchSize <= 0 {
		return nil, fmt.Errorf("tabby: load batch size %d: %w", cfg.loadBatchSize, ErrConfiguration)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg, nil
}

func newStore(pool *sqldb.Pool, owned bool, vendor Vendor, cfg *storeConfig) *Store {
	dialect := sqldb.DialectFor(vendor)
	return &Store{
		pool:  pool,
		owned: owned,
		be: backend{
			exec:    pool.DB(),
			dialect: dialect,
			codec:   cfg.codec,
			schema:  schema.New(dialect),
			logger:  cfg.logger,
			tracer:  cfg.tracerProvider.Tracer(instrumentationName),
			settings: Settings{
				EventStreamsTable: cfg.eventStreamsTable,
				ProjectionsTable:  cfg.projectionsTable,
				LoadBatchSize:     cfg.loadBatchSize,
				Transactions:      cfg.transactions,
				Notify:            cfg.notify,
			},
		},
	}
}

// Close shuts down the connection pool when the Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.pool.Close()
}

// Provision creates the event streams and projections tables if missing.
func (s *Store) Provision(ctx context.Context) error {
	return s.be.schema.Provision(ctx, s.be.exec, s.be.settings.EventStreamsTable, s.be.settings.ProjectionsTable)
}

func (s *Store) DBExecutor() sqldb.Executor         { return s.be.exec }
func (s *Store) Dialect() sqldb.Dialect             { return s.be.dialect }
func (s *Store) JSONCodec() codecs.Codec            { return s.be.codec }
func (s *Store) SchemaBootstrap() *schema.Bootstrap { return s.be.schema }
func (s *Store) Logger() *slog.Logger               { return s.be.logger }
func (s *Store) Tracer() trace.Tracer               { return s.be.tracer }
func (s *Store) Settings() Settings                 { return s.be.settings }

// Vendor returns the configured database engine.
func (s *Store) Vendor() Vendor { return s.be.dialect.Vendor() }

// DB returns the underlying *sql.DB, for read-model sinks sharing the pool.
func (s *Store) DB() *sql.DB { return s.pool.DB() }

// PgxPool returns the pgxpool.Pool for LISTEN/NOTIFY, or nil when the Store
// was not opened with New on PostgreSQL.
func (s *Store) PgxPool() *pgxpool.Pool { return s.pool.PgxPool() }
