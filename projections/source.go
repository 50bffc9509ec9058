package projections

import (
	"context"
	"fmt"

	"github.com/ripkitten-co/tabby"
)

type sourceKind int

const (
	sourceNone sourceKind = iota
	sourceStreams
	sourceCategories
	sourceAll
)

// Source selects the streams a projection reads.
type Source struct {
	kind  sourceKind
	names []string
}

// FromStream reads a single stream.
func FromStream(name string) Source { return FromStreams(name) }

// FromStreams reads the named streams in the given order.
func FromStreams(names ...string) Source {
	return Source{kind: sourceStreams, names: names}
}

// FromCategory reads every stream whose name starts with "<category>-".
func FromCategory(name string) Source { return FromCategories(name) }

// FromCategories reads every stream in any of the categories.
func FromCategories(names ...string) Source {
	return Source{kind: sourceCategories, names: names}
}

// FromAll reads every registered stream except internal ones prefixed "$".
func FromAll() Source { return Source{kind: sourceAll} }

func (s Source) validate() error {
	switch s.kind {
	case sourceNone:
		return fmt.Errorf("projections: no source configured: %w", tabby.ErrConfiguration)
	case sourceAll:
		return nil
	}
	if len(s.names) == 0 {
		return fmt.Errorf("projections: empty source: %w", tabby.ErrConfiguration)
	}
	seen := make(map[string]bool, len(s.names))
	for _, n := range s.names {
		if n == "" {
			return fmt.Errorf("projections: empty name in source: %w", tabby.ErrConfiguration)
		}
		if seen[n] {
			return fmt.Errorf("projections: %q listed twice in source: %w", n, tabby.ErrConfiguration)
		}
		seen[n] = true
	}
	return nil
}

func (s Source) resolve(ctx context.Context, es eventStore) ([]string, error) {
	switch s.kind {
	case sourceStreams:
		return s.names, nil
	case sourceCategories:
		return es.StreamNamesByCategory(ctx, s.names)
	case sourceAll:
		return es.AllStreamNames(ctx)
	}
	return nil, fmt.Errorf("projections: no source configured: %w", tabby.ErrConfiguration)
}
