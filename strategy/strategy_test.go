package strategy

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ripkitten-co/tabby"
)

func row(md map[string]any) Row {
	return Row{
		EventID:      "0d8c1b0e-5a1f-4a4e-9d55-0c0a4f7f3b7a",
		EventName:    "UserCreated",
		Payload:      `{"name":"John"}`,
		Metadata:     md,
		MetadataJSON: `{}`,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600)),
	}
}

func identity(version any) map[string]any {
	return map[string]any{
		AggregateTypeKey:    "user",
		AggregateIDKey:      "one",
		AggregateVersionKey: version,
	}
}

func TestTableName(t *testing.T) {
	got := TableName("user-123")
	if len(got) != 41 || got[0] != '_' {
		t.Fatalf("got %q", got)
	}
	if got != TableName("user-123") {
		t.Error("table name is not deterministic")
	}
	if got == TableName("user-124") {
		t.Error("different streams share a table name")
	}
	// sha1("foo") = 0beec7b5ea3f0fdbc95d0dd47f3c5bc275da8a33
	if TableName("foo") != "_0beec7b5ea3f0fdbc95d0dd47f3c5bc275da8a33" {
		t.Errorf("got %s", TableName("foo"))
	}
}

func TestSingleStream_PrepareData(t *testing.T) {
	s, err := NewSingleStream(tabby.MySQL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	data, err := s.PrepareData([]Row{row(identity(1)), row(identity(2))})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(data) != 2*len(s.ColumnNames()) {
		t.Fatalf("got %d values, want %d", len(data), 2*len(s.ColumnNames()))
	}

	created, ok := data[4].(time.Time)
	if !ok {
		t.Fatalf("created_at: got %T", data[4])
	}
	if created.Location() != time.UTC || created.Nanosecond() != 123456000 {
		t.Errorf("created_at: got %v", created)
	}
}

func TestSingleStream_MissingIdentity(t *testing.T) {
	s, _ := NewSingleStream(tabby.Postgres)

	for _, key := range []string{AggregateTypeKey, AggregateIDKey, AggregateVersionKey} {
		t.Run(key, func(t *testing.T) {
			md := identity(1)
			delete(md, key)
			_, err := s.PrepareData([]Row{row(md)})
			if !errors.Is(err, tabby.ErrConfiguration) {
				t.Fatalf("got %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestAggregateStream_UsesVersionAsPosition(t *testing.T) {
	s, _ := NewAggregateStream(tabby.Postgres)

	data, err := s.PrepareData([]Row{row(identity(float64(7))), row(identity(json.Number("8")))})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if s.ColumnNames()[0] != "no" {
		t.Fatalf("first column: got %s", s.ColumnNames()[0])
	}
	width := len(s.ColumnNames())
	if data[0] != int64(7) || data[width] != int64(8) {
		t.Errorf("got versions %v and %v", data[0], data[width])
	}

	if _, err := s.PrepareData([]Row{row(map[string]any{})}); !errors.Is(err, tabby.ErrConfiguration) {
		t.Errorf("missing version: got %v", err)
	}
	if _, err := s.PrepareData([]Row{row(identity(1.5))}); !errors.Is(err, tabby.ErrConfiguration) {
		t.Errorf("fractional version: got %v", err)
	}
}

func TestSimpleStream_AcceptsAnyMetadata(t *testing.T) {
	s, _ := NewSimpleStream(tabby.MariaDB)
	data, err := s.PrepareData([]Row{row(nil)})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(data) != 5 {
		t.Errorf("got %d values", len(data))
	}
}

func TestCreateSchema(t *testing.T) {
	table := TableName("user")
	tests := []struct {
		name  string
		build func(tabby.Vendor) (Strategy, error)
		v     tabby.Vendor
		want  []string
	}{
		{"pg single", single, tabby.Postgres, []string{
			`CREATE TABLE "` + table + `"`,
			"GENERATED ALWAYS AS ((metadata->>'_aggregate_version')::integer) STORED",
			`CONSTRAINT "` + table + `_unique_event" UNIQUE (aggregate_type, aggregate_id, aggregate_version)`,
			`CREATE INDEX "` + table + `_ix_query_aggregate"`,
		}},
		{"mysql single", single, tabby.MySQL, []string{
			"`metadata` JSON NOT NULL",
			"JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_id'))",
			"UNIQUE KEY `ix_unique_event`",
			"KEY `ix_query_aggregate`",
		}},
		{"mariadb single", single, tabby.MariaDB, []string{
			"`metadata` LONGTEXT NOT NULL",
			"CHECK (`metadata` IS NOT NULL AND JSON_VALID(`metadata`))",
		}},
		{"pg aggregate", aggregate, tabby.Postgres, []string{"no BIGINT NOT NULL"}},
		{"mysql simple", simple, tabby.MySQL, []string{"`no` BIGINT(20) NOT NULL AUTO_INCREMENT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.build(tt.v)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			ddl := strings.Join(s.CreateSchema(table), ";\n")
			for _, part := range tt.want {
				if !strings.Contains(ddl, part) {
					t.Errorf("missing %q in:\n%s", part, ddl)
				}
			}
		})
	}
}

func TestIndexName(t *testing.T) {
	pg, _ := NewSingleStream(tabby.Postgres)
	my, _ := NewSingleStream(tabby.MySQL)
	if pg.IndexName() != "" {
		t.Errorf("postgres: got %q", pg.IndexName())
	}
	if my.IndexName() != "ix_query_aggregate" {
		t.Errorf("mysql: got %q", my.IndexName())
	}
}

func TestUnknownVendor(t *testing.T) {
	if _, err := NewSingleStream("sqlite"); !errors.Is(err, tabby.ErrConfiguration) {
		t.Errorf("got %v", err)
	}
}

func single(v tabby.Vendor) (Strategy, error)    { return NewSingleStream(v) }
func simple(v tabby.Vendor) (Strategy, error)    { return NewSimpleStream(v) }
func aggregate(v tabby.Vendor) (Strategy, error) { return NewAggregateStream(v) }
