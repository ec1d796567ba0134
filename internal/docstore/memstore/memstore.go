// Package memstore is an in-process docstore.Store used for local
// development and tests. Live queries are served from the same process.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"uolems/internal/docstore"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	watchers    map[uint64]*watcher
	nextWatcher uint64
}

type watcher struct {
	query docstore.Query
	ch    chan docstore.Snapshot
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[uint64]*watcher),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return docstore.Document{ID: id, Data: cloneData(data)}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	docs[id] = cloneData(data)
	s.publishLocked(collection)
	return nil
}

// Add stores data under a generated id and returns it.
func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	for k, v := range cloneData(fields) {
		data[k] = v
	}
	s.publishLocked(collection)
	return nil
}

func (s *Store) Listen(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &watcher{query: q, ch: make(chan docstore.Snapshot, 1)}

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = w
	w.ch <- docstore.Snapshot{Docs: s.queryLocked(q)}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		close(w.ch)
		s.mu.Unlock()
	}()
	return w.ch, nil
}

// publishLocked replaces any undelivered snapshot with the current one, so
// slow listeners only ever see the latest state.
func (s *Store) publishLocked(collection string) {
	for _, w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		snap := docstore.Snapshot{Docs: s.queryLocked(w.query)}
		select {
		case <-w.ch:
		default:
		}
		w.ch <- snap
	}
}

func (s *Store) queryLocked(q docstore.Query) []docstore.Document {
	docs := make([]docstore.Document, 0)
	for id, data := range s.collections[q.Collection] {
		if q.Matches(data) {
			docs = append(docs, docstore.Document{ID: id, Data: cloneData(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch tv := v.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []any:
			out[k] = append([]any(nil), tv...)
		case map[string]any:
			out[k] = cloneData(tv)
		default:
			out[k] = v
		}
	}
	return out
}
