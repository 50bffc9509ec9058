package events

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/filter"
	"github.com/ripkitten-co/tabby/metadata"
)

// FetchStreamNames lists registered stream names ordered by name. A non-empty
// filter matches the name exactly; the matcher applies to stream metadata.
func (es *Store) FetchStreamNames(ctx context.Context, nameFilter string, m metadata.Matcher, limit, offset int) ([]string, error) {
	var where sq.Sqlizer
	if nameFilter != "" {
		where = sq.Eq{"real_stream_name": nameFilter}
	}
	return es.fetchStreamNames(ctx, "fetch stream names", where, m, limit, offset)
}

// FetchStreamNamesRegex lists stream names matching pattern.
func (es *Store) FetchStreamNamesRegex(ctx context.Context, pattern string, m metadata.Matcher, limit, offset int) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("events: fetch stream names: empty pattern: %w", tabby.ErrConfiguration)
	}
	where := sq.Expr("real_stream_name "+es.dialect.RegexOperator()+" ?", pattern)
	return es.fetchStreamNames(ctx, "fetch stream names", where, m, limit, offset)
}

func (es *Store) fetchStreamNames(ctx context.Context, op string, where sq.Sqlizer, m metadata.Matcher, limit, offset int) ([]string, error) {
	if err := checkPage(op, limit, offset); err != nil {
		return nil, err
	}
	compiled, err := filter.Compile(es.dialect, m, filter.Options{})
	if err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}

	builder := es.dialect.Builder().
		Select("real_stream_name").
		From(es.registry()).
		OrderBy("real_stream_name").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if where != nil {
		builder = builder.Where(where)
	}
	if compiled.Where != nil {
		builder = builder.Where(compiled.Where)
	}
	return es.queryNames(ctx, op, builder)
}

// FetchCategoryNames lists distinct categories ordered by name. A non-empty
// filter matches the category exactly.
func (es *Store) FetchCategoryNames(ctx context.Context, categoryFilter string, limit, offset int) ([]string, error) {
	var where sq.Sqlizer
	if categoryFilter != "" {
		where = sq.Eq{"category": categoryFilter}
	}
	return es.fetchCategoryNames(ctx, where, limit, offset)
}

// FetchCategoryNamesRegex lists categories matching pattern.
func (es *Store) FetchCategoryNamesRegex(ctx context.Context, pattern string, limit, offset int) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("events: fetch category names: empty pattern: %w", tabby.ErrConfiguration)
	}
	return es.fetchCategoryNames(ctx, sq.Expr("category "+es.dialect.RegexOperator()+" ?", pattern), limit, offset)
}

func (es *Store) fetchCategoryNames(ctx context.Context, where sq.Sqlizer, limit, offset int) ([]string, error) {
	const op = "fetch category names"
	if err := checkPage(op, limit, offset); err != nil {
		return nil, err
	}
	builder := es.dialect.Builder().
		Select("category").
		From(es.registry()).
		Where(sq.NotEq{"category": nil}).
		GroupBy("category").
		OrderBy("category").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if where != nil {
		builder = builder.Where(where)
	}
	return es.queryNames(ctx, op, builder)
}

// AllStreamNames lists every stream except internal ones starting with "$",
// in registration order.
func (es *Store) AllStreamNames(ctx context.Context) ([]string, error) {
	builder := es.dialect.Builder().
		Select("real_stream_name").
		From(es.registry()).
		Where(sq.NotLike{"real_stream_name": "$%"}).
		OrderBy(es.dialect.Quote("no"))
	return es.queryNames(ctx, "all stream names", builder)
}

// StreamNamesByCategory lists the streams in any of the categories, in
// registration order.
func (es *Store) StreamNamesByCategory(ctx context.Context, categories []string) ([]string, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	builder := es.dialect.Builder().
		Select("real_stream_name").
		From(es.registry()).
		Where(sq.Eq{"category": categories}).
		OrderBy(es.dialect.Quote("no"))
	return es.queryNames(ctx, "stream names by category", builder)
}

func (es *Store) queryNames(ctx context.Context, op string, builder sq.SelectBuilder) ([]string, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("events: %s: build sql: %w", op, err)
	}

	rows, err := es.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, es.registryErr(op, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("events: %s: scan: %w", op, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: %s: %w", op, err)
	}
	return names, nil
}

func checkPage(op string, limit, offset int) error {
	if limit <= 0 || offset < 0 {
		return fmt.Errorf("events: %s: invalid page limit=%d offset=%d: %w", op, limit, offset, tabby.ErrConfiguration)
	}
	return nil
}
