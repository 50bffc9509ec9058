package strategy

import (
	"fmt"

	"github.com/ripkitten-co/tabby"
)

// SimpleStream stores any events in one table per stream, without identity
// columns. Only event ids are unique.
type SimpleStream struct {
	vendor tabby.Vendor
}

func NewSimpleStream(v tabby.Vendor) (*SimpleStream, error) {
	if err := validVendor(v); err != nil {
		return nil, err
	}
	return &SimpleStream{vendor: v}, nil
}

func (s *SimpleStream) Vendor() tabby.Vendor { return s.vendor }

func (s *SimpleStream) ColumnNames() []string { return baseColumns }

func (s *SimpleStream) GenerateTableName(stream string) string { return TableName(stream) }

func (s *SimpleStream) PrepareData(rows []Row) ([]any, error) {
	data := make([]any, 0, len(rows)*len(baseColumns))
	for _, r := range rows {
		data = append(data, rowValues(r)...)
	}
	return data, nil
}

func (s *SimpleStream) CreateSchema(table string) []string {
	if s.vendor == tabby.Postgres {
		return []string{fmt.Sprintf(`CREATE TABLE %s (
	no BIGSERIAL,
	event_id UUID NOT NULL,
	event_name VARCHAR(100) NOT NULL,
	payload JSON NOT NULL,
	metadata JSONB NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (no),
	UNIQUE (event_id)
)`, pgQuote(table))}
	}
	return []string{"CREATE TABLE " + myQuote(table) + " (\n" +
		"\t`no` BIGINT(20) NOT NULL AUTO_INCREMENT,\n" +
		"\t`event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n" +
		"\t`event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n" +
		mysqlPayloadColumns(s.vendor) +
		"\t`created_at` DATETIME(6) NOT NULL,\n" +
		"\tPRIMARY KEY (`no`),\n" +
		"\tUNIQUE KEY `ix_event_id` (`event_id`)\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"}
}

func mysqlPayloadColumns(v tabby.Vendor) string {
	if v == tabby.MariaDB {
		return "\t`payload` LONGTEXT NOT NULL CHECK (JSON_VALID(`payload`)),\n" +
			"\t`metadata` LONGTEXT NOT NULL CHECK (JSON_VALID(`metadata`)),\n"
	}
	return "\t`payload` JSON NOT NULL,\n" +
		"\t`metadata` JSON NOT NULL,\n"
}
