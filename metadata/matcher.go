// Package metadata describes filters over event metadata and message
// properties. Matchers are immutable; every With call returns a new value.
package metadata

import "fmt"

// Operator is a comparison applied by a Match.
type Operator string

const (
	Equals            Operator = "="
	NotEquals         Operator = "!="
	GreaterThan       Operator = ">"
	GreaterThanEquals Operator = ">="
	LowerThan         Operator = "<"
	LowerThanEquals   Operator = "<="
	In                Operator = "in"
	NotIn             Operator = "nin"
	Regex             Operator = "regex"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case Equals, NotEquals, GreaterThan, GreaterThanEquals, LowerThan, LowerThanEquals, In, NotIn, Regex:
		return true
	}
	return false
}

// FieldType selects what a Match compares against.
type FieldType int

const (
	// Metadata compares a key of the metadata JSON object.
	Metadata FieldType = iota
	// MessageProperty compares a column of the event row.
	MessageProperty
)

func (f FieldType) String() string {
	if f == MessageProperty {
		return "message_property"
	}
	return "metadata"
}

// Message properties usable with WithProperty.
const (
	PropertyEventID   = "event_id"
	PropertyEventName = "event_name"
	PropertyCreatedAt = "created_at"
	PropertyNo        = "no"
)

// Match is one clause of a Matcher.
type Match struct {
	Field     string
	Operator  Operator
	Value     any
	FieldType FieldType
}

func (m Match) String() string {
	return fmt.Sprintf("%s %s %s %v", m.FieldType, m.Field, m.Operator, m.Value)
}

// Matcher is an ordered conjunction of clauses.
type Matcher struct {
	data []Match
}

// NewMatcher returns an empty matcher.
func NewMatcher() Matcher { return Matcher{} }

// With adds a metadata clause.
func (m Matcher) With(field string, op Operator, value any) Matcher {
	return m.add(Match{Field: field, Operator: op, Value: value, FieldType: Metadata})
}

// WithProperty adds a message property clause.
func (m Matcher) WithProperty(property string, op Operator, value any) Matcher {
	return m.add(Match{Field: property, Operator: op, Value: value, FieldType: MessageProperty})
}

func (m Matcher) add(c Match) Matcher {
	data := make([]Match, len(m.data), len(m.data)+1)
	copy(data, m.data)
	return Matcher{data: append(data, c)}
}

// Data returns the clauses in insertion order.
func (m Matcher) Data() []Match {
	out := make([]Match, len(m.data))
	copy(out, m.data)
	return out
}

func (m Matcher) Len() int { return len(m.data) }

func (m Matcher) IsEmpty() bool { return len(m.data) == 0 }
