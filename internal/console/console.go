// Package console is the admin dashboard backend: it follows the events and
// students live queries for one admin and derives the filtered views, the
// ticker highlight and the manager toggle from them.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"uolems/internal/docstore"
	"uolems/internal/metrics"
	"uolems/internal/model"
)

var (
	ErrClosed          = errors.New("console closed")
	ErrStudentNotFound = errors.New("student not in console view")
	ErrStreamFailed    = errors.New("live query failed")
)

var errStreamEnded = errors.New("stream ended")

type Details struct {
	UID          string `json:"uid"`
	FullName     string `json:"fullName"`
	Department   string `json:"department"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

type EventsView struct {
	Total  int           `json:"total"`
	Events []model.Event `json:"events"`
}

type Options struct {
	TickerInterval time.Duration
	Logger         *slog.Logger
	Now            func() time.Time

	ticks TickSource
}

type Console struct {
	store   docstore.Store
	details Details
	ticker  *Ticker
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.RWMutex
	events   []model.Event
	students []model.UserProfile
	closed   bool
	failure  error

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open loads the admin's details and subscribes to the events and students
// live queries. It returns once both have delivered their first snapshot.
// The subscriptions outlive ctx and end with Close.
func Open(ctx context.Context, store docstore.Store, adminUID string, opts Options) (*Console, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickerInterval <= 0 {
		opts.TickerInterval = 4 * time.Second
	}
	if opts.ticks == nil {
		opts.ticks = realTicks
	}

	details, err := loadDetails(ctx, store, adminUID)
	if err != nil {
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Console{
		store:    store,
		details:  details,
		ticker:   newTicker(opts.TickerInterval, opts.ticks),
		now:      opts.Now,
		logger:   opts.Logger.With("component", "console", "admin", adminUID),
		events:   []model.Event{},
		students: []model.UserProfile{},
		cancel:   cancel,
	}

	eventsCh, err := store.Listen(listenCtx, docstore.Query{Collection: model.CollectionEvents})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen events: %w", err)
	}
	studentsCh, err := store.Listen(listenCtx, StudentsQuery(details.Department))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("listen students: %w", err)
	}

	eventsReady := make(chan struct{})
	studentsReady := make(chan struct{})
	c.follow(eventsCh, "events", c.applyEvents, eventsReady)
	c.follow(studentsCh, "students", c.applyStudents, studentsReady)
	metrics.OpenConsoles.Inc()

	for _, ready := range []chan struct{}{eventsReady, studentsReady} {
		select {
		case <-ready:
		case <-ctx.Done():
			c.Close()
			return nil, ctx.Err()
		}
	}
	if err := c.Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// StudentsQuery selects the approved students of a department.
func StudentsQuery(department string) docstore.Query {
	return docstore.Query{Collection: model.CollectionUsers}.
		Where(model.FieldRole, string(model.RoleStudent)).
		Where(model.FieldDepartment, department).
		Where(model.FieldStatus, string(model.StatusApproved))
}

func loadDetails(ctx context.Context, store docstore.Store, uid string) (Details, error) {
	d := Details{UID: uid, FullName: "Admin"}
	doc, err := store.Get(ctx, model.CollectionUsers, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return d, nil
	}
	if err != nil {
		return Details{}, fmt.Errorf("load admin details: %w", err)
	}
	if name, ok := doc.Data[model.FieldFullName].(string); ok && name != "" {
		d.FullName = name
	}
	if dept, ok := doc.Data[model.FieldDepartment].(string); ok {
		d.Department = strings.TrimSpace(dept)
	}
	d.IsSuperAdmin = d.Department == "Computer Science" || d.Department == "CS"
	return d, nil
}

func (c *Console) follow(ch <-chan docstore.Snapshot, stream string, apply func([]docstore.Document), ready chan struct{}) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		first := true
		markReady := func() {
			if first {
				first = false
				close(ready)
			}
		}
		defer markReady()
		for snap := range ch {
			if snap.Err != nil {
				c.fail(stream, snap.Err)
				continue
			}
			apply(snap.Docs)
			metrics.ConsoleSnapshots.WithLabelValues(stream).Inc()
			markReady()
		}
		c.fail(stream, errStreamEnded)
	}()
}

// fail records the first stream failure and tears down the other stream and
// the ticker. The views stop updating, so the console reports itself closed.
func (c *Console) fail(stream string, err error) {
	c.mu.Lock()
	if c.closed || c.failure != nil {
		c.mu.Unlock()
		return
	}
	c.failure = fmt.Errorf("%s: %w: %v", stream, ErrStreamFailed, err)
	c.mu.Unlock()

	c.logger.Error("live query failed", slog.String("stream", stream), slog.String("error", err.Error()))
	c.cancel()
	c.ticker.Stop()
}

func (c *Console) applyEvents(docs []docstore.Document) {
	events := make([]model.Event, 0, len(docs))
	for _, doc := range docs {
		e, err := model.EventFromDocument(doc.ID, doc.Data)
		if err != nil {
			c.logger.Debug("skipping event", slog.String("error", err.Error()))
			continue
		}
		events = append(events, e)
	}
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
	c.ticker.Update(events, c.now())
}

func (c *Console) applyStudents(docs []docstore.Document) {
	students := make([]model.UserProfile, 0, len(docs))
	for _, doc := range docs {
		students = append(students, model.ProfileFromDocument(doc.ID, doc.Data))
	}
	sort.SliceStable(students, func(i, j int) bool {
		return strings.ToLower(students[i].FullName) < strings.ToLower(students[j].FullName)
	})
	c.mu.Lock()
	c.students = students
	c.mu.Unlock()
}

func (c *Console) Details() Details {
	return c.details
}

// Events derives the filtered view from the latest snapshot. Open and past
// are recomputed against now on every call.
func (c *Console) Events(main MainFilter, tf TimeFilter) EventsView {
	c.mu.RLock()
	events := c.events
	c.mu.RUnlock()
	return EventsView{Total: len(events), Events: ApplyFilters(events, main, tf, c.now())}
}

func (c *Console) Students() []model.UserProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.UserProfile(nil), c.students...)
}

func (c *Console) Ticker() TickerState {
	return c.ticker.State()
}

// Toggle flips the manager flag of a student visible in this console.
func (c *Console) Toggle(ctx context.Context, uid string, current bool, name string) (Notification, error) {
	c.mu.RLock()
	closed, failure := c.closed, c.failure
	known := false
	for _, s := range c.students {
		if s.UID == uid {
			known = true
			break
		}
	}
	c.mu.RUnlock()
	if closed {
		return Notification{}, ErrClosed
	}
	if failure != nil {
		return Notification{}, failure
	}
	if !known {
		return Notification{}, ErrStudentNotFound
	}
	return ToggleManager(ctx, c.store, uid, current, name)
}

// Closed reports whether the console was closed or one of its live queries
// failed. Either way its views no longer follow the store.
func (c *Console) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || c.failure != nil
}

// Err returns the live query failure, if any.
func (c *Console) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// Close ends both subscriptions and the ticker rotation. It is idempotent.
func (c *Console) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.ticker.Stop()
		c.wg.Wait()
		metrics.OpenConsoles.Dec()
	})
}
