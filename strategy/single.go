package strategy

import (
	"fmt"

	"github.com/ripkitten-co/tabby"
)

// SingleStream stores events of many aggregates in one table. Identity
// columns are generated from metadata and carry a unique constraint, so a
// second event with the same type, id and version fails the append.
type SingleStream struct {
	vendor tabby.Vendor
}

func NewSingleStream(v tabby.Vendor) (*SingleStream, error) {
	if err := validVendor(v); err != nil {
		return nil, err
	}
	return &SingleStream{vendor: v}, nil
}

func (s *SingleStream) Vendor() tabby.Vendor { return s.vendor }

func (s *SingleStream) ColumnNames() []string { return baseColumns }

func (s *SingleStream) GenerateTableName(stream string) string { return TableName(stream) }

// IndexName is empty on PostgreSQL, which has no index hints.
func (s *SingleStream) IndexName() string {
	if s.vendor == tabby.Postgres {
		return ""
	}
	return "ix_query_aggregate"
}

func (s *SingleStream) GeneratedColumns() map[string]string {
	return map[string]string{
		AggregateTypeKey: "aggregate_type",
		AggregateIDKey:   "aggregate_id",
	}
}

func (s *SingleStream) PrepareData(rows []Row) ([]any, error) {
	data := make([]any, 0, len(rows)*len(baseColumns))
	for _, r := range rows {
		if err := requireString(r, AggregateTypeKey); err != nil {
			return nil, err
		}
		if err := requireString(r, AggregateIDKey); err != nil {
			return nil, err
		}
		if _, err := requireVersion(r); err != nil {
			return nil, err
		}
		data = append(data, rowValues(r)...)
	}
	return data, nil
}

func (s *SingleStream) CreateSchema(table string) []string {
	switch s.vendor {
	case tabby.Postgres:
		return []string{
			fmt.Sprintf(`CREATE TABLE %s (
	no BIGSERIAL,
	event_id UUID NOT NULL,
	event_name VARCHAR(100) NOT NULL,
	payload JSON NOT NULL,
	metadata JSONB NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	aggregate_type TEXT GENERATED ALWAYS AS (metadata->>'_aggregate_type') STORED NOT NULL,
	aggregate_id TEXT GENERATED ALWAYS AS (metadata->>'_aggregate_id') STORED NOT NULL,
	aggregate_version INTEGER GENERATED ALWAYS AS ((metadata->>'_aggregate_version')::integer) STORED NOT NULL,
	PRIMARY KEY (no),
	UNIQUE (event_id),
	CONSTRAINT %s UNIQUE (aggregate_type, aggregate_id, aggregate_version)
)`, pgQuote(table), pgQuote(table+"_unique_event")),
			fmt.Sprintf(`CREATE INDEX %s ON %s (aggregate_type, aggregate_id, no)`,
				pgQuote(table+"_ix_query_aggregate"), pgQuote(table)),
		}
	case tabby.MariaDB:
		return []string{"CREATE TABLE " + myQuote(table) + " (\n" +
			"\t`no` BIGINT(20) NOT NULL AUTO_INCREMENT,\n" +
			"\t`event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n" +
			"\t`event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n" +
			"\t`payload` LONGTEXT NOT NULL,\n" +
			"\t`metadata` LONGTEXT NOT NULL,\n" +
			"\t`created_at` DATETIME(6) NOT NULL,\n" +
			"\t`aggregate_version` INT(11) UNSIGNED GENERATED ALWAYS AS (JSON_EXTRACT(metadata, '$._aggregate_version')) STORED,\n" +
			"\t`aggregate_id` VARCHAR(150) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_id'))) STORED,\n" +
			"\t`aggregate_type` VARCHAR(150) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_type'))) STORED,\n" +
			"\tCHECK (`payload` IS NOT NULL AND JSON_VALID(`payload`)),\n" +
			"\tCHECK (`metadata` IS NOT NULL AND JSON_VALID(`metadata`)),\n" +
			"\tPRIMARY KEY (`no`),\n" +
			"\tUNIQUE KEY `ix_event_id` (`event_id`),\n" +
			"\tUNIQUE KEY `ix_unique_event` (`aggregate_type`, `aggregate_id`, `aggregate_version`),\n" +
			"\tKEY `ix_query_aggregate` (`aggregate_type`, `aggregate_id`, `no`)\n" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"}
	default:
		return []string{"CREATE TABLE " + myQuote(table) + " (\n" +
			"\t`no` BIGINT(20) NOT NULL AUTO_INCREMENT,\n" +
			"\t`event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n" +
			"\t`event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n" +
			"\t`payload` JSON NOT NULL,\n" +
			"\t`metadata` JSON NOT NULL,\n" +
			"\t`created_at` DATETIME(6) NOT NULL,\n" +
			"\t`aggregate_version` INT(11) UNSIGNED GENERATED ALWAYS AS (JSON_EXTRACT(metadata, '$._aggregate_version')) STORED NOT NULL,\n" +
			"\t`aggregate_id` VARCHAR(150) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_id'))) STORED NOT NULL,\n" +
			"\t`aggregate_type` VARCHAR(150) GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$._aggregate_type'))) STORED NOT NULL,\n" +
			"\tPRIMARY KEY (`no`),\n" +
			"\tUNIQUE KEY `ix_event_id` (`event_id`),\n" +
			"\tUNIQUE KEY `ix_unique_event` (`aggregate_type`, `aggregate_id`, `aggregate_version`),\n" +
			"\tKEY `ix_query_aggregate` (`aggregate_type`, `aggregate_id`, `no`)\n" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"}
	}
}

func pgQuote(s string) string { return `"` + s + `"` }

func myQuote(s string) string { return "`" + s + "`" }
