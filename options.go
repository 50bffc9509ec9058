package tabby

import (
	"log/slog"

	"github.com/ripkitten-co/tabby/internal/codecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultEventStreamsTable = "event_streams"
	DefaultProjectionsTable  = "projections"
	DefaultLoadBatchSize     = 1000
)

type Option func(*storeConfig)

type storeConfig struct {
	codec             codecs.Codec
	logger            *slog.Logger
	tracerProvider    trace.TracerProvider
	eventStreamsTable string
	projectionsTable  string
	loadBatchSize     int
	transactions      bool
	notify            bool
}

func defaultConfig() *storeConfig {
	return &storeConfig{
		codec:             codecs.NewJSONIter(),
		logger:            slog.Default(),
		tracerProvider:    otel.GetTracerProvider(),
		eventStreamsTable: DefaultEventStreamsTable,
		projectionsTable:  DefaultProjectionsTable,
		loadBatchSize:     DefaultLoadBatchSize,
		transactions:      true,
		notify:            true,
	}
}

func WithCodec(c codecs.Codec) Option {
	return func(cfg *storeConfig) {
		cfg.codec = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *storeConfig) {
		cfg.logger = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *storeConfig) {
		cfg.tracerProvider = tp
	}
}

// WithEventStreamsTable overrides the registry table name.
func WithEventStreamsTable(name string) Option {
	return func(cfg *storeConfig) {
		cfg.eventStreamsTable = name
	}
}

// WithProjectionsTable overrides the projection table name.
func WithProjectionsTable(name string) Option {
	return func(cfg *storeConfig) {
		cfg.projectionsTable = name
	}
}

// WithLoadBatchSize sets how many rows a stream iterator fetches per query.
func WithLoadBatchSize(n int) Option {
	return func(cfg *storeConfig) {
		cfg.loadBatchSize = n
	}
}

// WithoutTransactions leaves transaction handling to the caller. Appends and
// stream deletion then run as plain statements.
func WithoutTransactions() Option {
	return func(cfg *storeConfig) {
		cfg.transactions = false
	}
}

// WithoutNotify disables the pg_notify sent after each append on PostgreSQL.
func WithoutNotify() Option {
	return func(cfg *storeConfig) {
		cfg.notify = false
	}
}
