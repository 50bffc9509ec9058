// Package events implements the append-only event store. Each stream lives in
// its own table, laid out by a persistence strategy, and is listed in the
// stream registry.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/codecs"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/strategy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NotifyChannel is the PostgreSQL channel signalled after each append.
const NotifyChannel = "tabby_events"

// Store provides stream operations over a backend and persistence strategy.
type Store struct {
	exec     sqldb.Executor
	dialect  sqldb.Dialect
	codec    codecs.Codec
	strategy strategy.Strategy
	logger   *slog.Logger
	tracer   trace.Tracer
	settings tabby.Settings
}

// New creates an event store. The strategy must target the backend's vendor.
func New(b tabby.Backend, s strategy.Strategy) (*Store, error) {
	if s == nil {
		return nil, fmt.Errorf("events: nil strategy: %w", tabby.ErrConfiguration)
	}
	if s.Vendor() != b.Dialect().Vendor() {
		return nil, fmt.Errorf("events: strategy for %s used with %s: %w",
			s.Vendor(), b.Dialect().Vendor(), tabby.ErrConfiguration)
	}
	return &Store{
		exec:     b.DBExecutor(),
		dialect:  b.Dialect(),
		codec:    b.JSONCodec(),
		strategy: s,
		logger:   b.Logger(),
		tracer:   b.Tracer(),
		settings: b.Settings(),
	}, nil
}

func (es *Store) registry() string { return es.dialect.Quote(es.settings.EventStreamsTable) }

func (es *Store) table(stream string) string {
	return es.dialect.Quote(es.strategy.GenerateTableName(stream))
}

func (es *Store) startSpan(ctx context.Context, op, stream string) (context.Context, trace.Span) {
	return es.tracer.Start(ctx, "tabby.events."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", string(es.dialect.Vendor())),
			attribute.String("tabby.stream", stream),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (es *Store) registryErr(op string, err error) error {
	if sqldb.IsUndefinedTable(err) {
		return fmt.Errorf("events: %s: %w: %w", op, tabby.ErrRegistryNotProvisioned, tabby.NewRuntimeError(op, err))
	}
	return fmt.Errorf("events: %w", tabby.NewRuntimeError(op, err))
}

// Create registers the stream, creates its table and appends its events.
// A failed append leaves the registered stream in place.
func (es *Store) Create(ctx context.Context, stream Stream) (err error) {
	ctx, span := es.startSpan(ctx, "create", stream.Name)
	defer func() { endSpan(span, err) }()

	if stream.Name == "" {
		return fmt.Errorf("events: create: empty stream name: %w", tabby.ErrConfiguration)
	}

	md := stream.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := es.codec.Marshal(md)
	if err != nil {
		return fmt.Errorf("events: create %s: encode metadata: %w", stream.Name, err)
	}
	var category sql.NullString
	if c := Category(stream.Name); c != "" {
		category = sql.NullString{String: c, Valid: true}
	}

	table := es.strategy.GenerateTableName(stream.Name)
	query, args, err := es.dialect.Builder().
		Insert(es.registry()).
		Columns("real_stream_name", "stream_name", "metadata", "category").
		Values(stream.Name, table, string(mdJSON), category).
		ToSql()
	if err != nil {
		return fmt.Errorf("events: create %s: build sql: %w", stream.Name, err)
	}
	if _, err := es.exec.ExecContext(ctx, query, args...); err != nil {
		if sqldb.IsDuplicate(err) {
			return fmt.Errorf("events: create %s: %w", stream.Name, tabby.ErrStreamExists)
		}
		return es.registryErr("create "+stream.Name, err)
	}

	for _, stmt := range es.strategy.CreateSchema(table) {
		if _, err := es.exec.ExecContext(ctx, stmt); err != nil {
			es.dropOrphan(ctx, stream.Name, table)
			return fmt.Errorf("events: create %s: %w", stream.Name, tabby.NewRuntimeError("create table", err))
		}
	}
	es.logger.Debug("stream created", "stream", stream.Name, "table", table)

	return es.AppendTo(ctx, stream.Name, stream.Events)
}

func (es *Store) dropOrphan(ctx context.Context, stream, table string) {
	if _, err := es.exec.ExecContext(ctx, "DROP TABLE IF EXISTS "+es.dialect.Quote(table)); err != nil {
		es.logger.Warn("drop table after failed create", "stream", stream, "error", err)
	}
	query, args, err := es.dialect.Builder().
		Delete(es.registry()).
		Where("stream_name = ?", table).
		ToSql()
	if err != nil {
		return
	}
	if _, err := es.exec.ExecContext(ctx, query, args...); err != nil {
		es.logger.Warn("remove registry row after failed create", "stream", stream, "error", err)
	}
}

// AppendTo writes events to an existing stream in one statement. An empty
// slice is a no-op. Identity collisions return ErrConcurrencyConflict and
// nothing is written.
func (es *Store) AppendTo(ctx context.Context, stream string, evts []StreamEvent) (err error) {
	if len(evts) == 0 {
		return nil
	}
	ctx, span := es.startSpan(ctx, "append", stream)
	span.SetAttributes(attribute.Int("tabby.events", len(evts)))
	defer func() { endSpan(span, err) }()

	rows := make([]strategy.Row, len(evts))
	for i, evt := range evts {
		r, err := es.encode(evt)
		if err != nil {
			return fmt.Errorf("events: append %s: %w", stream, err)
		}
		rows[i] = r
	}
	data, err := es.strategy.PrepareData(rows)
	if err != nil {
		return fmt.Errorf("events: append %s: %w", stream, err)
	}

	columns := es.strategy.ColumnNames()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = es.dialect.Quote(c)
	}
	builder := es.dialect.Builder().Insert(es.table(stream)).Columns(quoted...)
	for i := 0; i < len(data); i += len(columns) {
		builder = builder.Values(data[i : i+len(columns)]...)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("events: append %s: build sql: %w", stream, err)
	}

	err = sqldb.InTx(ctx, es.exec, es.settings.Transactions, func(exec sqldb.Executor) error {
		_, err := exec.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		switch sqldb.Classify(err) {
		case sqldb.KindUndefinedTable:
			return fmt.Errorf("events: append %s: %w", stream, tabby.ErrStreamNotFound)
		case sqldb.KindDuplicate:
			return fmt.Errorf("events: append %s: %w", stream, tabby.ErrConcurrencyConflict)
		}
		return fmt.Errorf("events: append %s: %w", stream, tabby.NewRuntimeError("append", err))
	}

	if es.dialect.IsPostgres() && es.settings.Notify {
		// best-effort wake-up for listening projectors
		_, _ = es.exec.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, stream)
	}
	return nil
}

func (es *Store) encode(evt StreamEvent) (strategy.Row, error) {
	id := evt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	md := evt.Metadata
	if md == nil {
		md = map[string]any{}
	}
	mdJSON, err := es.codec.Marshal(md)
	if err != nil {
		return strategy.Row{}, fmt.Errorf("encode metadata of %s: %w", id, err)
	}
	payload := string(evt.Payload)
	if payload == "" {
		payload = "{}"
	}
	created := evt.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return strategy.Row{
		EventID:      id.String(),
		EventName:    evt.Name,
		Payload:      payload,
		Metadata:     md,
		MetadataJSON: string(mdJSON),
		CreatedAt:    created,
	}, nil
}

// Delete removes the stream from the registry and drops its table.
func (es *Store) Delete(ctx context.Context, stream string) (err error) {
	ctx, span := es.startSpan(ctx, "delete", stream)
	defer func() { endSpan(span, err) }()

	table := es.strategy.GenerateTableName(stream)
	query, args, err := es.dialect.Builder().
		Delete(es.registry()).
		Where("stream_name = ?", table).
		ToSql()
	if err != nil {
		return fmt.Errorf("events: delete %s: build sql: %w", stream, err)
	}

	err = sqldb.InTx(ctx, es.exec, es.settings.Transactions, func(exec sqldb.Executor) error {
		res, err := exec.ExecContext(ctx, query, args...)
		if err != nil {
			return es.registryErr("delete "+stream, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("events: delete %s: rows affected: %w", stream, err)
		}
		if n == 0 {
			return fmt.Errorf("events: delete %s: %w", stream, tabby.ErrStreamNotFound)
		}
		if _, err := exec.ExecContext(ctx, "DROP TABLE IF EXISTS "+es.dialect.Quote(table)); err != nil {
			return fmt.Errorf("events: delete %s: %w", stream, tabby.NewRuntimeError("drop table", err))
		}
		return nil
	})
	if err == nil {
		es.logger.Debug("stream deleted", "stream", stream)
	}
	return err
}

// HasStream reports whether the stream is registered.
func (es *Store) HasStream(ctx context.Context, stream string) (bool, error) {
	query, args, err := es.dialect.Builder().
		Select("1").
		From(es.registry()).
		Where("stream_name = ?", es.strategy.GenerateTableName(stream)).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("events: has stream %s: build sql: %w", stream, err)
	}
	var one int
	err = es.exec.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, es.registryErr("has stream "+stream, err)
	}
	return true, nil
}

// FetchStreamMetadata returns the metadata stored when the stream was created.
func (es *Store) FetchStreamMetadata(ctx context.Context, stream string) (map[string]any, error) {
	query, args, err := es.dialect.Builder().
		Select("metadata").
		From(es.registry()).
		Where("stream_name = ?", es.strategy.GenerateTableName(stream)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: fetch metadata %s: build sql: %w", stream, err)
	}
	var raw []byte
	err = es.exec.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("events: fetch metadata %s: %w", stream, tabby.ErrStreamNotFound)
	}
	if err != nil {
		return nil, es.registryErr("fetch metadata "+stream, err)
	}
	md, err := codecs.Object(es.codec, raw)
	if err != nil {
		return nil, fmt.Errorf("events: fetch metadata %s: decode: %w", stream, err)
	}
	return md, nil
}
