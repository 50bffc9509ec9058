// Package strategy maps logical event streams onto physical tables. Each
// strategy owns the DDL, column list and row encoding for one table layout on
// one database vendor.
package strategy

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ripkitten-co/tabby"
)

const (
	AggregateTypeKey    = "_aggregate_type"
	AggregateIDKey      = "_aggregate_id"
	AggregateVersionKey = "_aggregate_version"
)

// Row is an event encoded for insertion.
type Row struct {
	EventID      string
	EventName    string
	Payload      string
	Metadata     map[string]any
	MetadataJSON string
	CreatedAt    time.Time
}

// Strategy describes one physical table layout.
type Strategy interface {
	Vendor() tabby.Vendor
	// CreateSchema returns the DDL statements creating table.
	CreateSchema(table string) []string
	ColumnNames() []string
	// PrepareData flattens rows into insert arguments, ColumnNames order.
	PrepareData(rows []Row) ([]any, error)
	GenerateTableName(stream string) string
}

// IndexHinter is implemented by strategies that name an index the planner
// should use for aggregate-scoped range reads.
type IndexHinter interface {
	IndexName() string
}

// GeneratedColumns is implemented by strategies that extract metadata keys
// into indexed columns. The map goes from metadata key to column name.
type GeneratedColumns interface {
	GeneratedColumns() map[string]string
}

// TableName is the physical name used for stream: "_" followed by the hex
// SHA-1 of the stream name.
func TableName(stream string) string {
	sum := sha1.Sum([]byte(stream))
	return "_" + hex.EncodeToString(sum[:])
}

func validVendor(v tabby.Vendor) error {
	switch v {
	case tabby.Postgres, tabby.MySQL, tabby.MariaDB:
		return nil
	}
	return fmt.Errorf("strategy: vendor %q: %w", v, tabby.ErrConfiguration)
}

func missing(r Row, key string) error {
	return fmt.Errorf("strategy: event %s: %s is missing in metadata: %w", r.EventID, key, tabby.ErrConfiguration)
}

func requireString(r Row, key string) error {
	s, ok := r.Metadata[key].(string)
	if !ok || s == "" {
		return missing(r, key)
	}
	return nil
}

func requireVersion(r Row) (int64, error) {
	v, ok := r.Metadata[AggregateVersionKey]
	if !ok || v == nil {
		return 0, missing(r, AggregateVersionKey)
	}
	n, ok := AsInt64(v)
	if !ok || n < 1 {
		return 0, fmt.Errorf("strategy: event %s: %s must be a positive integer, got %v: %w",
			r.EventID, AggregateVersionKey, v, tabby.ErrConfiguration)
	}
	return n, nil
}

// AsInt64 converts the integer kinds found in decoded metadata.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func rowValues(r Row) []any {
	return []any{r.EventID, r.EventName, r.Payload, r.MetadataJSON, r.CreatedAt.UTC().Truncate(time.Microsecond)}
}

var baseColumns = []string{"event_id", "event_name", "payload", "metadata", "created_at"}
