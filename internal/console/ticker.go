package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"uolems/internal/model"
)

// TickSource starts a periodic tick and returns its channel and a stop func.
type TickSource func(d time.Duration) (<-chan time.Time, func())

func realTicks(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Highlight struct {
	EventID         string `json:"eventId"`
	Title           string `json:"title"`
	RegisteredCount int    `json:"registeredCount"`
	Label           string `json:"label"`
}

type TickerState struct {
	VisibleOpenEvents []model.Event `json:"visibleOpenEvents"`
	CurrentIndex      int           `json:"currentIndex"`
	Current           *Highlight    `json:"current,omitempty"`
	Placeholder       string        `json:"placeholder,omitempty"`
}

// Ticker rotates a highlight through the open events. The rotation restarts
// only when the number of open events changes.
type Ticker struct {
	mu       sync.Mutex
	interval time.Duration
	ticks    TickSource
	open     []model.Event
	index    int
	cancel   context.CancelFunc
	gen      uint64
	stopped  bool
}

func NewTicker(interval time.Duration) *Ticker {
	return newTicker(interval, realTicks)
}

func newTicker(interval time.Duration, ticks TickSource) *Ticker {
	return &Ticker{interval: interval, ticks: ticks, open: []model.Event{}}
}

func (t *Ticker) Update(events []model.Event, now time.Time) {
	open := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.OpenAt(now) {
			open = append(open, e)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || len(open) == len(t.open) {
		return
	}
	t.open = open
	t.index = 0
	t.stopRotationLocked()
	if len(open) > 1 {
		t.startRotationLocked()
	}
}

// Stop cancels the rotation. Later ticks and updates have no effect.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.stopRotationLocked()
}

func (t *Ticker) State() TickerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := TickerState{
		VisibleOpenEvents: append([]model.Event(nil), t.open...),
		CurrentIndex:      t.index,
	}
	if len(t.open) == 0 {
		state.VisibleOpenEvents = []model.Event{}
		state.Placeholder = "No Upcoming Events"
		return state
	}
	e := t.open[t.index]
	state.Current = &Highlight{
		EventID:         e.ID,
		Title:           e.Title,
		RegisteredCount: len(e.RegisteredStudents),
		Label:           fmt.Sprintf("Reg: %s", e.Title),
	}
	return state
}

func (t *Ticker) stopRotationLocked() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Ticker) startRotationLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	gen := t.gen
	ch, stop := t.ticks(t.interval)

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				t.mu.Lock()
				if t.gen == gen && len(t.open) > 0 {
					t.index = (t.index + 1) % len(t.open)
				}
				t.mu.Unlock()
			}
		}
	}()
}
