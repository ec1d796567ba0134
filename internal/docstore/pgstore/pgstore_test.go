package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"uolems/internal/database/dbtest"
	"uolems/internal/docstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	pool := dbtest.Pool(t)
	return New(pool, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestDocumentCRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "users", "u1"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Update(ctx, "users", "u1", map[string]any{"isManager": true}); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
	if err := s.Set(ctx, "users", "u1", map[string]any{"role": "student", "isManager": false}); err != nil {
		t.Fatalf("set error: %v", err)
	}
	if err := s.Update(ctx, "users", "u1", map[string]any{"isManager": true}); err != nil {
		t.Fatalf("update error: %v", err)
	}
	doc, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if doc.Data["role"] != "student" || doc.Data["isManager"] != true {
		t.Fatalf("unexpected data %v", doc.Data)
	}
}

func TestListenFollowsNotifications(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Set(ctx, "users", "a", map[string]any{"role": "student", "department": "CS", "status": "approved"})
	q := docstore.Query{Collection: "users"}.
		Where("role", "student").
		Where("department", "CS").
		Where("status", "approved")

	ch, err := s.Listen(ctx, q)
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	first := next(t, ch)
	if len(first.Docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(first.Docs))
	}

	_ = s.Set(ctx, "users", "b", map[string]any{"role": "student", "department": "CS", "status": "approved"})
	_ = s.Set(ctx, "users", "c", map[string]any{"role": "student", "department": "EE", "status": "approved"})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Err != nil {
				t.Fatalf("snapshot error: %v", snap.Err)
			}
			if len(snap.Docs) == 2 {
				return
			}
		case <-deadline:
			t.Fatalf("did not observe inserted document")
		}
	}
}

func next(t *testing.T, ch <-chan docstore.Snapshot) docstore.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return docstore.Snapshot{}
}
