// Package filter compiles metadata matchers into SQL predicates. Values and
// JSON paths are always bound as parameters.
package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ripkitten-co/tabby"
	"github.com/ripkitten-co/tabby/internal/sqldb"
	"github.com/ripkitten-co/tabby/metadata"
)

// Options tune compilation for the table being queried.
type Options struct {
	// Column holds the metadata JSON. Defaults to "metadata".
	Column string
	// AllowProperties permits message property clauses. Registry queries
	// leave it off.
	AllowProperties bool
	// Generated maps metadata keys to indexed columns holding the same text.
	Generated map[string]string
}

// Result is a compiled matcher.
type Result struct {
	// Where is nil for an empty matcher.
	Where sq.Sqlizer
	// UsesGenerated is set when a clause was rewritten onto a generated column.
	UsesGenerated bool
}

type kind int

const (
	kindString kind = iota
	kindNumber
	kindBool
	kindTime
)

// Compile turns m into a conjunction of predicates for dialect d.
func Compile(d sqldb.Dialect, m metadata.Matcher, opts Options) (Result, error) {
	if opts.Column == "" {
		opts.Column = "metadata"
	}
	if m.IsEmpty() {
		return Result{}, nil
	}

	var res Result
	and := sq.And{}
	for _, c := range m.Data() {
		expr, generated, err := compileMatch(d, c, opts)
		if err != nil {
			return Result{}, fmt.Errorf("filter: %s: %w", c, err)
		}
		res.UsesGenerated = res.UsesGenerated || generated
		and = append(and, expr)
	}
	res.Where = and
	return res, nil
}

func compileMatch(d sqldb.Dialect, c metadata.Match, opts Options) (sq.Sqlizer, bool, error) {
	if !c.Operator.Valid() {
		return nil, false, fmt.Errorf("unknown operator %q: %w", c.Operator, tabby.ErrConfiguration)
	}

	values, k, err := operands(c)
	if err != nil {
		return nil, false, err
	}

	var (
		field     string
		fieldArgs []any
		generated bool
	)
	switch c.FieldType {
	case metadata.Metadata:
		if c.Field == "" {
			return nil, false, fmt.Errorf("empty metadata field: %w", tabby.ErrConfiguration)
		}
		if k == kindTime {
			return nil, false, fmt.Errorf("time values only apply to created_at: %w", tabby.ErrConfiguration)
		}
		if col, ok := opts.Generated[c.Field]; ok && k == kindString {
			field = d.Quote(col)
			generated = true
			break
		}
		field, fieldArgs = metadataField(d, opts.Column, c.Field, k)
	case metadata.MessageProperty:
		if !opts.AllowProperties {
			return nil, false, fmt.Errorf("message properties are not available here: %w", tabby.ErrConfiguration)
		}
		field, values, err = propertyField(d, c, k, values)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("unknown field type %d: %w", c.FieldType, tabby.ErrConfiguration)
	}

	args := append(fieldArgs, values...)
	switch c.Operator {
	case metadata.In, metadata.NotIn:
		op := "IN"
		if c.Operator == metadata.NotIn {
			op = "NOT IN"
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return sq.Expr(fmt.Sprintf("%s %s (%s)", field, op, marks), args...), generated, nil
	case metadata.Regex:
		return sq.Expr(fmt.Sprintf("%s %s ?", field, d.RegexOperator()), args...), generated, nil
	default:
		return sq.Expr(fmt.Sprintf("%s %s ?", field, c.Operator), args...), generated, nil
	}
}

// metadataField extracts the unquoted JSON text, or a decimal for numeric
// comparisons. MySQL does not support IN() over JSON values, hence the cast.
func metadataField(d sqldb.Dialect, column, key string, k kind) (string, []any) {
	col := d.Quote(column)
	if d.IsPostgres() {
		if k == kindNumber {
			return fmt.Sprintf("(%s->>?)::numeric", col), []any{key}
		}
		return fmt.Sprintf("%s->>?", col), []any{key}
	}
	path := `$."` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(key) + `"`
	if k == kindNumber {
		return fmt.Sprintf("CAST(JSON_UNQUOTE(JSON_EXTRACT(%s, ?)) AS DECIMAL(65,30))", col), []any{path}
	}
	return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, ?))", col), []any{path}
}

func propertyField(d sqldb.Dialect, c metadata.Match, k kind, values []any) (string, []any, error) {
	bad := func() (string, []any, error) {
		return "", nil, fmt.Errorf("invalid value %v for %s: %w", c.Value, c.Field, tabby.ErrConfiguration)
	}
	col := d.Quote(c.Field)
	switch c.Field {
	case metadata.PropertyEventID:
		if k != kindString {
			return bad()
		}
		if d.IsPostgres() {
			col += "::text"
		}
	case metadata.PropertyEventName:
		if k != kindString {
			return bad()
		}
	case metadata.PropertyCreatedAt:
		if k != kindTime && k != kindString || c.Operator == metadata.Regex {
			return bad()
		}
	case metadata.PropertyNo:
		if k != kindNumber || c.Operator == metadata.Regex {
			return bad()
		}
	default:
		return "", nil, fmt.Errorf("unknown message property %q: %w", c.Field, tabby.ErrConfiguration)
	}
	return col, values, nil
}

// operands normalizes the match value into bound arguments sharing one kind.
func operands(c metadata.Match) ([]any, kind, error) {
	switch c.Operator {
	case metadata.In, metadata.NotIn:
		rv := reflect.ValueOf(c.Value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, 0, fmt.Errorf("%s needs a list value: %w", c.Operator, tabby.ErrConfiguration)
		}
		if rv.Len() == 0 {
			return nil, 0, fmt.Errorf("%s needs at least one value: %w", c.Operator, tabby.ErrConfiguration)
		}
		out := make([]any, rv.Len())
		var first kind
		for i := range rv.Len() {
			v, k, err := scalar(rv.Index(i).Interface())
			if err != nil {
				return nil, 0, err
			}
			if i == 0 {
				first = k
			} else if k != first {
				return nil, 0, fmt.Errorf("%s values mix types: %w", c.Operator, tabby.ErrConfiguration)
			}
			out[i] = v
		}
		return out, first, nil
	case metadata.Regex:
		s, ok := c.Value.(string)
		if !ok || s == "" {
			return nil, 0, fmt.Errorf("regex needs a non-empty string pattern: %w", tabby.ErrConfiguration)
		}
		return []any{s}, kindString, nil
	default:
		v, k, err := scalar(c.Value)
		if err != nil {
			return nil, 0, err
		}
		return []any{v}, k, nil
	}
}

func scalar(v any) (any, kind, error) {
	switch x := v.(type) {
	case string:
		return x, kindString, nil
	case bool:
		if x {
			return "true", kindBool, nil
		}
		return "false", kindBool, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x, kindNumber, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, kindNumber, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, 0, fmt.Errorf("invalid number %q: %w", x, tabby.ErrConfiguration)
		}
		return f, kindNumber, nil
	case time.Time:
		return x.UTC().Truncate(time.Microsecond), kindTime, nil
	case nil:
		return nil, 0, fmt.Errorf("nil value: %w", tabby.ErrConfiguration)
	default:
		return nil, 0, fmt.Errorf("unsupported value type %T: %w", v, tabby.ErrConfiguration)
	}
}
