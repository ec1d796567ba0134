package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"uolems/internal/docstore"
	"uolems/internal/docstore/memstore"
	"uolems/internal/model"
)

var errLiveQuery = errors.New("listen: connection reset")

// breakableStore serves the events live query from memstore until
// breakEvents is called. Each broken stream delivers one error snapshot and
// closes, the way the postgres and firestore backends end a failed query.
type breakableStore struct {
	*memstore.Store

	mu       sync.Mutex
	broken   chan struct{}
	failOpen bool
}

func newBreakableStore(inner *memstore.Store) *breakableStore {
	return &breakableStore{Store: inner, broken: make(chan struct{})}
}

func (s *breakableStore) breakEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.broken)
	s.broken = make(chan struct{})
}

func (s *breakableStore) Listen(ctx context.Context, q docstore.Query) (<-chan docstore.Snapshot, error) {
	if q.Collection != model.CollectionEvents {
		return s.Store.Listen(ctx, q)
	}
	s.mu.Lock()
	broken, failOpen := s.broken, s.failOpen
	s.mu.Unlock()

	out := make(chan docstore.Snapshot, 1)
	if failOpen {
		out <- docstore.Snapshot{Err: errLiveQuery}
		close(out)
		return out, nil
	}
	inner, err := s.Store.Listen(ctx, q)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		for {
			select {
			case snap, ok := <-inner:
				if !ok {
					return
				}
				out <- snap
			case <-broken:
				out <- docstore.Snapshot{Err: errLiveQuery}
				return
			}
		}
	}()
	return out, nil
}

func seedConsole(t *testing.T, department string) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	seed := func(collection, id string, data map[string]any) {
		if err := store.Set(ctx, collection, id, data); err != nil {
			t.Fatalf("seed %s/%s: %v", collection, id, err)
		}
	}
	seed(model.CollectionUsers, "admin1", map[string]any{
		model.FieldFullName:   "Dr. Rana",
		model.FieldRole:       "admin",
		model.FieldDepartment: department,
	})
	student := func(id, name, dept, status string) {
		seed(model.CollectionUsers, id, map[string]any{
			model.FieldFullName:   name,
			model.FieldRole:       "student",
			model.FieldDepartment: dept,
			model.FieldStatus:     status,
		})
	}
	student("s1", "zara", department, "approved")
	student("s2", "Bilal", department, "approved")
	student("s3", "Pending Pat", department, "pending")
	student("s4", "Other Dept", "Physics", "approved")

	seed(model.CollectionEvents, "e1", model.EventDocument(model.Event{Title: "Hackathon", Date: day(2), RegisteredStudents: []string{"s1"}}))
	seed(model.CollectionEvents, "e2", model.EventDocument(model.Event{Title: "Seminar", Date: day(-1)}))
	seed(model.CollectionEvents, "e3", model.EventDocument(model.Event{Title: "Fair", Date: day(20)}))
	return store
}

func openTestConsole(t *testing.T, store *memstore.Store) *Console {
	t.Helper()
	ticks := &manualTicks{}
	c, err := Open(context.Background(), store, "admin1", Options{
		Now:   func() time.Time { return refNow },
		ticks: ticks.source,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConsoleDetails(t *testing.T) {
	c := openTestConsole(t, seedConsole(t, " CS "))
	d := c.Details()
	if d.FullName != "Dr. Rana" || d.Department != "CS" || !d.IsSuperAdmin {
		t.Fatalf("unexpected details %+v", d)
	}

	other := openTestConsole(t, seedConsole(t, "Physics"))
	if other.Details().IsSuperAdmin {
		t.Fatalf("physics admin must not be super admin")
	}
}

func TestConsoleMissingAdminDocument(t *testing.T) {
	c, err := Open(context.Background(), memstore.New(), "nobody", Options{ticks: (&manualTicks{}).source})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if d := c.Details(); d.FullName != "Admin" || d.Department != "" || d.IsSuperAdmin {
		t.Fatalf("unexpected fallback details %+v", d)
	}
}

func TestConsoleStudentsFilteredAndSorted(t *testing.T) {
	c := openTestConsole(t, seedConsole(t, "CS"))
	students := c.Students()
	if len(students) != 2 {
		t.Fatalf("expected 2 approved CS students, got %d", len(students))
	}
	if students[0].FullName != "Bilal" || students[1].FullName != "zara" {
		t.Fatalf("expected case-insensitive name order, got %s, %s", students[0].FullName, students[1].FullName)
	}
}

func TestConsoleEventsAndTicker(t *testing.T) {
	c := openTestConsole(t, seedConsole(t, "CS"))

	view := c.Events(FilterAll, TimeAll)
	if view.Total != 3 || len(view.Events) != 3 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Events[0].Title != "Hackathon" || view.Events[2].Title != "Seminar" {
		t.Fatalf("unexpected order %v", ids(view.Events))
	}
	week := c.Events(FilterUpcoming, TimeWeek)
	if week.Total != 3 || len(week.Events) != 1 {
		t.Fatalf("expected total of all events and one in week, got %+v", week)
	}

	state := c.Ticker()
	if len(state.VisibleOpenEvents) != 2 || state.Current == nil || state.Current.Title != "Hackathon" {
		t.Fatalf("unexpected ticker state %+v", state)
	}
	if state.Current.RegisteredCount != 1 {
		t.Fatalf("expected one registration, got %d", state.Current.RegisteredCount)
	}
}

func TestConsoleFollowsLiveUpdates(t *testing.T) {
	store := seedConsole(t, "CS")
	c := openTestConsole(t, store)

	ctx := context.Background()
	if _, err := store.Add(ctx, model.CollectionEvents, model.EventDocument(model.Event{Title: "Expo", Date: day(3)})); err != nil {
		t.Fatalf("add event: %v", err)
	}
	waitFor(t, func() bool { return c.Events(FilterAll, TimeAll).Total == 4 })

	n, err := c.Toggle(ctx, "s2", false, "Bilal")
	if err != nil || n.Kind != NotifySuccess {
		t.Fatalf("toggle: %+v %v", n, err)
	}
	waitFor(t, func() bool {
		for _, s := range c.Students() {
			if s.UID == "s2" {
				return s.IsManager
			}
		}
		return false
	})
}

func TestConsoleToggleRejectsUnknownStudent(t *testing.T) {
	c := openTestConsole(t, seedConsole(t, "CS"))
	if _, err := c.Toggle(context.Background(), "s4", false, "Other Dept"); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected student not found, got %v", err)
	}
}

func TestConsoleCloseIdempotent(t *testing.T) {
	c := openTestConsole(t, seedConsole(t, "CS"))
	c.Close()
	c.Close()
	if !c.Closed() {
		t.Fatalf("expected closed")
	}
	if _, err := c.Toggle(context.Background(), "s1", false, "zara"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestStudentsQuery(t *testing.T) {
	q := StudentsQuery("CS")
	if q.Collection != model.CollectionUsers || len(q.Filters) != 3 {
		t.Fatalf("unexpected query %+v", q)
	}
	if !q.Matches(map[string]any{"role": "student", "department": "CS", "status": "approved"}) {
		t.Fatalf("expected approved student to match")
	}
	if q.Matches(map[string]any{"role": "student", "department": "CS", "status": "pending"}) {
		t.Fatalf("pending student must not match")
	}
}

func TestConsoleFailsWhenLiveQueryBreaks(t *testing.T) {
	store := newBreakableStore(seedConsole(t, "CS"))
	c, err := Open(context.Background(), store, "admin1", Options{
		Now:   func() time.Time { return refNow },
		ticks: (&manualTicks{}).source,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if c.Closed() || c.Err() != nil {
		t.Fatalf("fresh console must be live")
	}

	store.breakEvents()
	waitFor(t, c.Closed)
	if !errors.Is(c.Err(), ErrStreamFailed) {
		t.Fatalf("expected stream failure, got %v", c.Err())
	}
	if _, err := c.Toggle(context.Background(), "s1", false, "zara"); !errors.Is(err, ErrStreamFailed) {
		t.Fatalf("toggle on failed console: expected stream failure, got %v", err)
	}
	c.Close()
}

func TestConsoleOpenFailsOnBrokenQuery(t *testing.T) {
	store := newBreakableStore(seedConsole(t, "CS"))
	store.failOpen = true
	_, err := Open(context.Background(), store, "admin1", Options{ticks: (&manualTicks{}).source})
	if !errors.Is(err, ErrStreamFailed) {
		t.Fatalf("expected stream failure, got %v", err)
	}
}
