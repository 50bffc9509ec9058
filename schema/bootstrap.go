package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/tabby/internal/sqldb"
)

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_./-]{0,59}$`)

// ValidateTableName checks that name can be used for the registry or
// projections table (letters, digits, underscores, dots, slashes and dashes,
// max 60 characters, no leading digit or punctuation).
func ValidateTableName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid table name %q", name)
	}
	return nil
}

// EventStreamsDDL returns the statements creating the stream registry.
func EventStreamsDDL(d sqldb.Dialect, table string) []string {
	t := d.Quote(table)
	if d.IsPostgres() {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	no BIGSERIAL,
	real_stream_name VARCHAR(150) NOT NULL,
	stream_name CHAR(41) NOT NULL,
	metadata JSONB,
	category VARCHAR(150),
	PRIMARY KEY (no),
	UNIQUE (stream_name)
)`, t),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (category)`, d.Quote(table+"_category_idx"), t),
		}
	}
	return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n"+
		"\t`no` BIGINT NOT NULL AUTO_INCREMENT,\n"+
		"\t`real_stream_name` VARCHAR(150) NOT NULL,\n"+
		"\t`stream_name` CHAR(41) NOT NULL,\n"+
		"\t`metadata` %s,\n"+
		"\t`category` VARCHAR(150),\n"+
		"\tPRIMARY KEY (`no`),\n"+
		"\tUNIQUE KEY `ix_rsn` (`real_stream_name`),\n"+
		"\tKEY `ix_cat` (`category`)\n"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin", t, jsonColumn(d))}
}

// ProjectionsDDL returns the statements creating the projection table.
func ProjectionsDDL(d sqldb.Dialect, table string) []string {
	t := d.Quote(table)
	if d.IsPostgres() {
		return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	no BIGSERIAL,
	name VARCHAR(150) NOT NULL,
	position JSONB,
	state JSONB,
	status VARCHAR(28) NOT NULL,
	locked_until TIMESTAMP(6),
	PRIMARY KEY (no),
	UNIQUE (name)
)`, t)}
	}
	return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n"+
		"\t`no` BIGINT NOT NULL AUTO_INCREMENT,\n"+
		"\t`name` VARCHAR(150) NOT NULL,\n"+
		"\t`position` %s,\n"+
		"\t`state` %s,\n"+
		"\t`status` VARCHAR(28) NOT NULL,\n"+
		"\t`locked_until` DATETIME(6) NULL,\n"+
		"\tPRIMARY KEY (`no`),\n"+
		"\tUNIQUE KEY `ix_name` (`name`)\n"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin", t, jsonColumn(d), jsonColumn(d))}
}

// DocumentsDDL returns the statements creating a JSON document table.
func DocumentsDDL(d sqldb.Dialect, table string) []string {
	t := d.Quote(table)
	if d.IsPostgres() {
		return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(150) NOT NULL,
	data JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id)
)`, t)}
	}
	return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n"+
		"\t`id` VARCHAR(150) NOT NULL,\n"+
		"\t`data` %s NOT NULL,\n"+
		"\t`version` BIGINT NOT NULL DEFAULT 1,\n"+
		"\t`updated_at` DATETIME(6) NOT NULL,\n"+
		"\tPRIMARY KEY (`id`)\n"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin", t, jsonColumn(d))}
}

func jsonColumn(d sqldb.Dialect) string {
	if d.Vendor() == sqldb.MariaDB {
		return "LONGTEXT"
	}
	return "JSON"
}

// Bootstrap manages idempotent creation of the registry and projection
// tables. It caches which tables have been created to avoid repeated DDL.
type Bootstrap struct {
	dialect sqldb.Dialect
	tables  sync.Map
}

// New returns a Bootstrap with an empty cache.
func New(d sqldb.Dialect) *Bootstrap {
	return &Bootstrap{dialect: d}
}

// IsCreated reports whether the named table has been created by this Bootstrap.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// InvalidateTable removes a table from the creation cache, so the next
// Ensure call re-runs the DDL.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

// EnsureEventStreams creates the stream registry if it doesn't exist.
func (b *Bootstrap) EnsureEventStreams(ctx context.Context, exec sqldb.Executor, table string) error {
	return b.ensure(ctx, exec, table, EventStreamsDDL(b.dialect, table))
}

// EnsureProjections creates the projection table if it doesn't exist.
func (b *Bootstrap) EnsureProjections(ctx context.Context, exec sqldb.Executor, table string) error {
	return b.ensure(ctx, exec, table, ProjectionsDDL(b.dialect, table))
}

// EnsureDocuments creates a document table if it doesn't exist.
func (b *Bootstrap) EnsureDocuments(ctx context.Context, exec sqldb.Executor, table string) error {
	return b.ensure(ctx, exec, table, DocumentsDDL(b.dialect, table))
}

// Provision creates both tables.
func (b *Bootstrap) Provision(ctx context.Context, exec sqldb.Executor, streamsTable, projectionsTable string) error {
	if err := b.EnsureEventStreams(ctx, exec, streamsTable); err != nil {
		return err
	}
	return b.EnsureProjections(ctx, exec, projectionsTable)
}

func (b *Bootstrap) ensure(ctx context.Context, exec sqldb.Executor, table string, stmts []string) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: create table %s: %w", table, err)
		}
	}
	b.tables.Store(table, true)
	return nil
}
