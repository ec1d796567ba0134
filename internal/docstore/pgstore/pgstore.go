// Package pgstore stores documents as JSONB rows in PostgreSQL. Live
// queries are driven by LISTEN/NOTIFY on the document_changes channel.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"uolems/internal/docstore"
)

const notifyChannel = "document_changes"

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "pgstore")}
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var data map[string]any
	row := s.pool.QueryRow(ctx, `
		SELECT data
		FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
		}
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Data: data}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
	`, collection, id, data)
	return err
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, fields)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Listen(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	docs, err := s.query(ctx, q)
	if err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan docstore.Snapshot, 1)
	ch <- docstore.Snapshot{Docs: docs}

	go func() {
		defer close(ch)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("live query stopped", "collection", q.Collection, "error", err)
					replace(ch, docstore.Snapshot{Err: err})
				}
				return
			}
			if n.Payload != q.Collection {
				continue
			}
			docs, err := s.query(ctx, q)
			if err != nil {
				if ctx.Err() == nil {
					replace(ch, docstore.Snapshot{Err: err})
				}
				return
			}
			replace(ch, docstore.Snapshot{Docs: docs})
		}
	}()
	return ch, nil
}

func (s *Store) query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	filter := make(map[string]any, len(q.Filters))
	for _, f := range q.Filters {
		filter[f.Field] = f.Value
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, data
		FROM documents
		WHERE collection = $1 AND data @> $2::jsonb
		ORDER BY id
	`, q.Collection, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		var doc docstore.Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// replace drops an undelivered snapshot in favour of snap. The listen
// goroutine is the only sender, so the send never blocks.
func replace(ch chan docstore.Snapshot, snap docstore.Snapshot) {
	select {
	case <-ch:
	default:
	}
	ch <- snap
}
