package tabby

import (
	"log/slog"

	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/schema"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ripkitten-co/tabby"

// Settings are the table names and behaviour switches shared by every
// component built on a backend.
type Settings struct {
	EventStreamsTable string
	ProjectionsTable  string
	LoadBatchSize     int
	Transactions      bool
	Notify            bool
}

type backend struct {
	exec     sqldb.Executor
	dialect  sqldb.Dialect
	codec    codecs.Codec
	schema   *schema.Bootstrap
	logger   *slog.Logger
	tracer   trace.Tracer
	settings Settings
}

// Backend is implemented by Store and Session. Event stores and projections
// are built on top of either.
type Backend interface {
	DBExecutor() sqldb.Executor
	Dialect() sqldb.Dialect
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
	Logger() *slog.Logger
	Tracer() trace.Tracer
	Settings() Settings
}
