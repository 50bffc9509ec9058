package filter

import (
	"errors"
	"reflect"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/metadata"
)

func toSQL(t *testing.T, d sqldb.Dialect, r Result) (string, []any) {
	t.Helper()
	q, args, err := d.Builder().Select("*").From("t").Where(r.Where).ToSql()
	if err != nil {
		t.Fatalf("to sql: %v", err)
	}
	return q, args
}

func TestCompile_Empty(t *testing.T) {
	r, err := Compile(sqldb.DialectFor(sqldb.Postgres), metadata.NewMatcher(), Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if r.Where != nil {
		t.Errorf("expected no predicate, got %v", r.Where)
	}
}

func TestCompile_Postgres(t *testing.T) {
	d := sqldb.DialectFor(sqldb.Postgres)
	tests := []struct {
		name     string
		m        metadata.Matcher
		wantSQL  string
		wantArgs []any
	}{
		{
			"string equals",
			metadata.NewMatcher().With("foo", metadata.Equals, "bar"),
			`SELECT * FROM t WHERE ("metadata"->>$1 = $2)`,
			[]any{"foo", "bar"},
		},
		{
			"number compares numerically",
			metadata.NewMatcher().With("int", metadata.GreaterThan, 4),
			`SELECT * FROM t WHERE (("metadata"->>$1)::numeric > $2)`,
			[]any{"int", 4},
		},
		{
			"bool compares as text",
			metadata.NewMatcher().With("flag", metadata.Equals, true),
			`SELECT * FROM t WHERE ("metadata"->>$1 = $2)`,
			[]any{"flag", "true"},
		},
		{
			"in",
			metadata.NewMatcher().With("int", metadata.In, []int{1, 2, 3}),
			`SELECT * FROM t WHERE (("metadata"->>$1)::numeric IN ($2, $3, $4))`,
			[]any{"int", 1, 2, 3},
		},
		{
			"not in strings",
			metadata.NewMatcher().With("foo", metadata.NotIn, []string{"a", "b"}),
			`SELECT * FROM t WHERE ("metadata"->>$1 NOT IN ($2, $3))`,
			[]any{"foo", "a", "b"},
		},
		{
			"regex",
			metadata.NewMatcher().With("foo", metadata.Regex, "^b[a]r$"),
			`SELECT * FROM t WHERE ("metadata"->>$1 ~ $2)`,
			[]any{"foo", "^b[a]r$"},
		},
		{
			"conjunction keeps order",
			metadata.NewMatcher().
				With("foo", metadata.NotEquals, "baz").
				WithProperty(metadata.PropertyEventName, metadata.Equals, "UserCreated"),
			`SELECT * FROM t WHERE ("metadata"->>$1 != $2 AND "event_name" = $3)`,
			[]any{"foo", "baz", "UserCreated"},
		},
		{
			"event id regex casts uuid",
			metadata.NewMatcher().WithProperty(metadata.PropertyEventID, metadata.Regex, "^0d8c"),
			`SELECT * FROM t WHERE ("event_id"::text ~ $1)`,
			[]any{"^0d8c"},
		},
		{
			"backslashes are bound untouched",
			metadata.NewMatcher().With("_aggregate_type", metadata.Equals, `Acme\Model\User`),
			`SELECT * FROM t WHERE ("metadata"->>$1 = $2)`,
			[]any{"_aggregate_type", `Acme\Model\User`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Compile(d, tt.m, Options{AllowProperties: true})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			q, args := toSQL(t, d, r)
			if q != tt.wantSQL {
				t.Errorf("sql:\ngot  %s\nwant %s", q, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args: got %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestCompile_MySQL(t *testing.T) {
	d := sqldb.DialectFor(sqldb.MySQL)

	r, err := Compile(d, metadata.NewMatcher().
		With("foo", metadata.Equals, "bar").
		With("int", metadata.LowerThanEquals, 7).
		With(`we"ird`, metadata.Regex, "x+"), Options{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	q, args := toSQL(t, d, r)
	want := "SELECT * FROM t WHERE (JSON_UNQUOTE(JSON_EXTRACT(`metadata`, ?)) = ? AND " +
		"CAST(JSON_UNQUOTE(JSON_EXTRACT(`metadata`, ?)) AS DECIMAL(65,30)) <= ? AND " +
		"JSON_UNQUOTE(JSON_EXTRACT(`metadata`, ?)) REGEXP ?)"
	if q != want {
		t.Errorf("sql:\ngot  %s\nwant %s", q, want)
	}
	wantArgs := []any{`$."foo"`, "bar", `$."int"`, 7, `$."we\"ird"`, "x+"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args: got %v, want %v", args, wantArgs)
	}
}

func TestCompile_GeneratedColumns(t *testing.T) {
	d := sqldb.DialectFor(sqldb.MariaDB)
	opts := Options{AllowProperties: true, Generated: map[string]string{"_aggregate_id": "aggregate_id"}}

	r, err := Compile(d, metadata.NewMatcher().With("_aggregate_id", metadata.Equals, "one"), opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !r.UsesGenerated {
		t.Error("expected generated column use")
	}
	q, _ := toSQL(t, d, r)
	if q != "SELECT * FROM t WHERE (`aggregate_id` = ?)" {
		t.Errorf("got %s", q)
	}

	r, err = Compile(d, metadata.NewMatcher().With("_aggregate_id", metadata.Equals, 5), opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if r.UsesGenerated {
		t.Error("numeric match must not use the text column")
	}
}

func TestCompile_CreatedAt(t *testing.T) {
	d := sqldb.DialectFor(sqldb.Postgres)
	at := time.Date(2026, 1, 2, 3, 4, 5, 999, time.FixedZone("X", 7200))

	r, err := Compile(d, metadata.NewMatcher().WithProperty(metadata.PropertyCreatedAt, metadata.GreaterThan, at), Options{AllowProperties: true})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, args := toSQL(t, d, r)
	got, ok := args[0].(time.Time)
	if !ok || !got.Equal(at.Truncate(time.Microsecond)) || got.Location() != time.UTC {
		t.Errorf("got %v", args[0])
	}
}

func TestCompile_Errors(t *testing.T) {
	d := sqldb.DialectFor(sqldb.Postgres)
	tests := []struct {
		name string
		m    metadata.Matcher
		opts Options
	}{
		{"unknown operator", metadata.NewMatcher().With("foo", metadata.Operator("like"), "x"), Options{}},
		{"in without list", metadata.NewMatcher().With("foo", metadata.In, "x"), Options{}},
		{"in empty list", metadata.NewMatcher().With("foo", metadata.In, []string{}), Options{}},
		{"in mixed types", metadata.NewMatcher().With("foo", metadata.In, []any{"a", 1}), Options{}},
		{"regex non string", metadata.NewMatcher().With("foo", metadata.Regex, 5), Options{}},
		{"nil value", metadata.NewMatcher().With("foo", metadata.Equals, nil), Options{}},
		{"struct value", metadata.NewMatcher().With("foo", metadata.Equals, struct{}{}), Options{}},
		{"empty field", metadata.NewMatcher().With("", metadata.Equals, "x"), Options{}},
		{"time on metadata", metadata.NewMatcher().With("foo", metadata.Equals, time.Now()), Options{}},
		{"property not allowed", metadata.NewMatcher().WithProperty(metadata.PropertyEventName, metadata.Equals, "x"), Options{}},
		{"unknown property", metadata.NewMatcher().WithProperty("payload", metadata.Equals, "x"), Options{AllowProperties: true}},
		{"event name bool", metadata.NewMatcher().WithProperty(metadata.PropertyEventName, metadata.Equals, true), Options{AllowProperties: true}},
		{"no as string", metadata.NewMatcher().WithProperty(metadata.PropertyNo, metadata.Equals, "1"), Options{AllowProperties: true}},
		{"created_at regex", metadata.NewMatcher().WithProperty(metadata.PropertyCreatedAt, metadata.Regex, "2026"), Options{AllowProperties: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(d, tt.m, tt.opts)
			if !errors.Is(err, tabby.ErrConfiguration) {
				t.Errorf("got %v, want ErrConfiguration", err)
			}
		})
	}
}

var _ sq.Sqlizer = sq.And{}
