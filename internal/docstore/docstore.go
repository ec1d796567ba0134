// Package docstore defines the document store the service delegates
// persistence and live queries to. Backends live in subpackages.
package docstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

type Document struct {
	ID   string
	Data map[string]any
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

type Query struct {
	Collection string
	Filters    []Filter
}

// Where returns a copy of q with an additional equality filter.
func (q Query) Where(field string, value any) Query {
	filters := make([]Filter, 0, len(q.Filters)+1)
	filters = append(filters, q.Filters...)
	filters = append(filters, Filter{Field: field, Value: value})
	q.Filters = filters
	return q
}

// Matches reports whether data satisfies every filter of q.
func (q Query) Matches(data map[string]any) bool {
	for _, f := range q.Filters {
		if !equalValues(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// Snapshot is the full result set of a live query at one point in time.
// A snapshot with Err set is the last one delivered on its channel.
type Snapshot struct {
	Docs []Document
	Err  error
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Update merges fields into an existing document, failing with
	// ErrNotFound when it does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Listen pushes a snapshot immediately and after every change that
	// touches the query's collection. The channel is closed when ctx ends.
	Listen(ctx context.Context, q Query) (<-chan Snapshot, error)
}

func equalValues(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		return numeric(b) == av && isNumber(b)
	case int:
		return numeric(b) == float64(av) && isNumber(b)
	case int64:
		return numeric(b) == float64(av) && isNumber(b)
	default:
		return a == nil && b == nil
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, int, int64:
		return true
	}
	return false
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
