package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Pool owns the database handle used by a store. Postgres pools keep the
// pgxpool around for LISTEN/NOTIFY.
type Pool struct {
	db  *sql.DB
	pgx *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL through pgxpool and exposes it as a
// *sql.DB.
func NewPostgres(ctx context.Context, connString string) (*Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("sqldb: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqldb: ping postgres: %w", err)
	}
	return &Pool{db: stdlib.OpenDBFromPool(pool), pgx: pool}, nil
}

// NewMySQL opens a MySQL or MariaDB handle. Times are parsed as UTC and
// affected-row counts report matched rows, which the projection lock relies on.
func NewMySQL(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("sqldb: connect mysql: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqldb: ping mysql: %w", err)
	}
	return &Pool{db: db}, nil
}

// Wrap adopts a caller-owned handle.
func Wrap(db *sql.DB) *Pool {
	return &Pool{db: db}
}

func (p *Pool) DB() *sql.DB { return p.db }

// PgxPool returns the pgx pool, or nil when the handle was not opened
// through NewPostgres.
func (p *Pool) PgxPool() *pgxpool.Pool { return p.pgx }

func (p *Pool) Close() error {
	err := p.db.Close()
	if p.pgx != nil {
		p.pgx.Close()
	}
	return err
}
