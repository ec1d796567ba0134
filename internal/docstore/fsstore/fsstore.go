// Package fsstore adapts Cloud Firestore to docstore.Store.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"uolems/internal/docstore"
)

type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// New connects to the project. FIRESTORE_EMULATOR_HOST is honoured by the
// client library.
func New(ctx context.Context, projectID string, logger *slog.Logger) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("firestore project id required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Store{client: client, logger: logger.With("component", "fsstore")}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		return docstore.Document{}, err
	}
	return docstore.Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, data)
	return err
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return err
}

func (s *Store) Listen(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	query := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, "==", f.Value)
	}
	it := query.Snapshots(ctx)

	ch := make(chan docstore.Snapshot, 1)
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) {
					s.logger.Warn("live query stopped", "collection", q.Collection, "error", err)
					replace(ch, docstore.Snapshot{Err: err})
				}
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				replace(ch, docstore.Snapshot{Err: err})
				return
			}
			docs := make([]docstore.Document, 0, len(snaps))
			for _, snap := range snaps {
				docs = append(docs, docstore.Document{ID: snap.Ref.ID, Data: snap.Data()})
			}
			replace(ch, docstore.Snapshot{Docs: docs})
		}
	}()
	return ch, nil
}

func replace(ch chan docstore.Snapshot, snap docstore.Snapshot) {
	select {
	case <-ch:
	default:
	}
	ch <- snap
}
