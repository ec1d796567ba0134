package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"uolems/internal/docstore"
	"uolems/internal/model"
)

type countingOpener struct {
	mu     sync.Mutex
	store  docstore.Store
	opened int
}

func (o *countingOpener) open(ctx context.Context, adminUID string) (*Console, error) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
	return Open(ctx, o.store, adminUID, Options{
		Now:   func() time.Time { return refNow },
		ticks: (&manualTicks{}).source,
	})
}

func (o *countingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func TestRegistryReusesConsole(t *testing.T) {
	opener := &countingOpener{store: seedConsole(t, "CS")}
	reg := NewRegistry(4, time.Minute, opener.open)
	defer reg.Close()

	first, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second || opener.count() != 1 {
		t.Fatalf("expected cached console, opened %d", opener.count())
	}
}

func TestRegistryDropClosesConsole(t *testing.T) {
	opener := &countingOpener{store: seedConsole(t, "CS")}
	reg := NewRegistry(4, time.Minute, opener.open)
	defer reg.Close()

	c, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	reg.Drop("admin1")
	waitFor(t, c.Closed)
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry")
	}

	again, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again == c || opener.count() != 2 {
		t.Fatalf("expected a fresh console")
	}
}

func TestRegistryEvictsBySize(t *testing.T) {
	opener := &countingOpener{store: seedConsole(t, "CS")}
	reg := NewRegistry(1, time.Minute, opener.open)
	defer reg.Close()

	a, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := reg.Get(context.Background(), "admin2"); err != nil {
		t.Fatalf("get: %v", err)
	}
	waitFor(t, a.Closed)
	if reg.Len() != 1 {
		t.Fatalf("expected one console, got %d", reg.Len())
	}
}

func TestRegistryOpenError(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry(1, time.Minute, func(context.Context, string) (*Console, error) { return nil, boom })
	if _, err := reg.Get(context.Background(), "admin1"); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("failed open must not be cached")
	}
}

func TestRegistryCloseClosesAll(t *testing.T) {
	opener := &countingOpener{store: seedConsole(t, "CS")}
	reg := NewRegistry(4, time.Minute, opener.open)

	a, _ := reg.Get(context.Background(), "admin1")
	b, _ := reg.Get(context.Background(), "admin2")
	reg.Close()
	if !a.Closed() || !b.Closed() {
		t.Fatalf("expected all consoles closed")
	}
}

func TestRegistryReopensFailedConsole(t *testing.T) {
	inner := seedConsole(t, "CS")
	store := newBreakableStore(inner)
	opener := &countingOpener{store: store}
	reg := NewRegistry(4, time.Minute, opener.open)
	defer reg.Close()

	first, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	store.breakEvents()
	waitFor(t, first.Closed)

	if _, err := inner.Add(context.Background(), model.CollectionEvents, model.EventDocument(model.Event{Title: "Expo", Date: day(3)})); err != nil {
		t.Fatalf("add event: %v", err)
	}
	second, err := reg.Get(context.Background(), "admin1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second == first || opener.count() != 2 {
		t.Fatalf("expected failed console to be replaced, opened %d", opener.count())
	}
	if total := second.Events(FilterAll, TimeAll).Total; total != 4 {
		t.Fatalf("expected reopened console to see 4 events, got %d", total)
	}
}

func TestRegistryOpenDoesNotBlockOtherAdmins(t *testing.T) {
	store := seedConsole(t, "CS")
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry(4, time.Minute, func(ctx context.Context, uid string) (*Console, error) {
		if uid == "slow" {
			close(entered)
			<-release
		}
		return Open(ctx, store, uid, Options{ticks: (&manualTicks{}).source})
	})
	defer reg.Close()

	slowDone := make(chan error, 1)
	go func() {
		_, err := reg.Get(context.Background(), "slow")
		slowDone <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.Get(ctx, "admin1"); err != nil {
		t.Fatalf("get admin1 while another admin opens: %v", err)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow open: %v", err)
	}
}

func TestRegistrySharesConcurrentOpen(t *testing.T) {
	store := seedConsole(t, "CS")
	var mu sync.Mutex
	opened := 0
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry(4, time.Minute, func(ctx context.Context, uid string) (*Console, error) {
		mu.Lock()
		opened++
		first := opened == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		return Open(ctx, store, uid, Options{ticks: (&manualTicks{}).source})
	})
	defer reg.Close()

	results := make(chan *Console, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := reg.Get(context.Background(), "admin1")
			if err != nil {
				t.Errorf("get: %v", err)
			}
			results <- c
		}()
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)

	a, b := <-results, <-results
	if a == nil || a != b {
		t.Fatalf("expected both callers to share one console")
	}
	mu.Lock()
	defer mu.Unlock()
	if opened != 1 {
		t.Fatalf("expected a single open, got %d", opened)
	}
}

func TestRegistryGetHonoursCallerContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	reg := NewRegistry(4, time.Minute, func(ctx context.Context, uid string) (*Console, error) {
		<-release
		return nil, errors.New("never used")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := reg.Get(ctx, "admin1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
