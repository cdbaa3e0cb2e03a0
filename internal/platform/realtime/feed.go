// Package realtime maintains a client's in-memory view of its records,
// kept consistent by merging change events from a subscription instead of
// re-fetching on every change. Events are applied in delivery order with
// idempotent upsert-by-id semantics, so duplicated or re-ordered delivery
// from the transport cannot corrupt the view.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/carebridge/portal/internal/platform/websocket"
)

// Entry is one record in the feed, newest first.
type Entry struct {
	ID   string
	Data json.RawMessage
}

// Lister re-fetches the full current list, newest first. Used for the
// initial load and for reconciliation after a dropped subscription, since
// events buffered during an outage are not replayed.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Feed is the ordered in-memory view.
type Feed struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	lister  Lister
}

func NewFeed(lister Lister) *Feed {
	return &Feed{
		index:  make(map[string]int),
		lister: lister,
	}
}

// Apply merges a single change event into the view.
//
// Insert prepends; an insert for a known id degrades to an update so a
// replayed event cannot duplicate an entry. Update replaces the entry's
// data in place, preserving list position; an update for an unknown id
// upserts at the head, tolerating an insert/update pair delivered out of
// order. Delete removes by id and is a no-op for unknown ids.
func (f *Feed) Apply(event websocket.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch event.Action {
	case websocket.ActionInsert, websocket.ActionUpdate:
		if i, ok := f.index[event.ResourceID]; ok {
			f.entries[i].Data = event.Data
			return
		}
		f.prepend(Entry{ID: event.ResourceID, Data: event.Data})
	case websocket.ActionDelete:
		i, ok := f.index[event.ResourceID]
		if !ok {
			return
		}
		f.entries = append(f.entries[:i], f.entries[i+1:]...)
		delete(f.index, event.ResourceID)
		f.reindexFrom(i)
	}
}

// Resync replaces the view with a fresh full fetch. Call after the
// subscription reconnects.
func (f *Feed) Resync(ctx context.Context) error {
	entries, err := f.lister.List(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = make([]Entry, len(entries))
	copy(f.entries, entries)
	f.index = make(map[string]int, len(entries))
	for i, e := range f.entries {
		f.index[e.ID] = i
	}
	return nil
}

// Snapshot returns a copy of the current view, newest first.
func (f *Feed) Snapshot() []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the number of entries in the view.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

func (f *Feed) prepend(e Entry) {
	f.entries = append([]Entry{e}, f.entries...)
	f.index[e.ID] = 0
	f.reindexFrom(1)
}

func (f *Feed) reindexFrom(start int) {
	for i := start; i < len(f.entries); i++ {
		f.index[f.entries[i].ID] = i
	}
}
