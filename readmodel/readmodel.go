// Package readmodel provides projections.ReadModel implementations that keep
// one table in sync: a bun or gorm model table, or a JSON document table.
// Handlers queue changes with Stack:
//
//	hc.ReadModel().Stack(readmodel.OpUpsert, &User{ID: id, Name: name})
//
// and the projector flushes the queue in one transaction before it
// checkpoints.
package readmodel

import (
	"fmt"
	"sync"

	"github.com/ripkitten-co/tabby"
)

// Operations accepted by Stack. Each takes exactly one *T.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpUpsert = "upsert"
	OpDelete = "delete"
)

type op[T any] struct {
	kind string
	row  *T
}

// queue buffers stacked operations. A malformed Stack call is reported by
// the next Persist.
type queue[T any] struct {
	mu  sync.Mutex
	ops []op[T]
	err error
}

func (q *queue[T]) push(operation string, args []any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return
	}
	switch operation {
	case OpInsert, OpUpdate, OpUpsert, OpDelete:
	default:
		q.err = fmt.Errorf("readmodel: unknown operation %q: %w", operation, tabby.ErrConfiguration)
		return
	}
	if len(args) != 1 {
		q.err = fmt.Errorf("readmodel: %s takes one row, got %d: %w", operation, len(args), tabby.ErrConfiguration)
		return
	}
	row, ok := args[0].(*T)
	if !ok || row == nil {
		var zero T
		q.err = fmt.Errorf("readmodel: %s wants *%T, got %T: %w", operation, zero, args[0], tabby.ErrConfiguration)
		return
	}
	q.ops = append(q.ops, op[T]{kind: operation, row: row})
}

func (q *queue[T]) drain() ([]op[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, err := q.ops, q.err
	q.ops, q.err = nil, nil
	return ops, err
}

func (q *queue[T]) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops, q.err = nil, nil
}
