package strategy

import (
	"fmt"

	"github.com/ripkitten-co/tabby"
)

// AggregateStream stores one aggregate per table. The stream position is the
// aggregate version, so a repeated version collides on the primary key.
type AggregateStream struct {
	vendor tabby.Vendor
}

func NewAggregateStream(v tabby.Vendor) (*AggregateStream, error) {
	if err := validVendor(v); err != nil {
		return nil, err
	}
	return &AggregateStream{vendor: v}, nil
}

func (s *AggregateStream) Vendor() tabby.Vendor { return s.vendor }

func (s *AggregateStream) ColumnNames() []string {
	return append([]string{"no"}, baseColumns...)
}

func (s *AggregateStream) GenerateTableName(stream string) string { return TableName(stream) }

func (s *AggregateStream) PrepareData(rows []Row) ([]any, error) {
	data := make([]any, 0, len(rows)*(len(baseColumns)+1))
	for _, r := range rows {
		version, err := requireVersion(r)
		if err != nil {
			return nil, err
		}
		data = append(data, version)
		data = append(data, rowValues(r)...)
	}
	return data, nil
}

func (s *AggregateStream) CreateSchema(table string) []string {
	if s.vendor == tabby.Postgres {
		return []string{fmt.Sprintf(`CREATE TABLE %s (
	no BIGINT NOT NULL,
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
		"\t`no` BIGINT(20) NOT NULL,\n" +
		"\t`event_id` CHAR(36) COLLATE utf8mb4_bin NOT NULL,\n" +
		"\t`event_name` VARCHAR(100) COLLATE utf8mb4_bin NOT NULL,\n" +
		mysqlPayloadColumns(s.vendor) +
		"\t`created_at` DATETIME(6) NOT NULL,\n" +
		"\tPRIMARY KEY (`no`),\n" +
		"\tUNIQUE KEY `ix_event_id` (`event_id`)\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin"}
}
