// Package aggregate merges content items from many platforms and tabs into
// deduplicated, insertion-ordered result sets.
package aggregate

import (
	"sort"
	"sync"

	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/pkg/metrics"
)

type entry struct {
	seq  uint64
	item model.ContentItem
}

type tab struct {
	entries []entry
	seen    map[string]uint64
}

func newTab() *tab {
	return &tab{seen: make(map[string]uint64)}
}

// Aggregator holds the result sets of every tab. Items are never re-sorted;
// each gets a global arrival sequence used to resolve cross-tab duplicates.
type Aggregator struct {
	mu    sync.RWMutex
	tabs  map[string]*tab
	order []string
	seq   uint64
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{tabs: make(map[string]*tab)}
}

// Ingest appends items to a tab, dropping ids the tab already holds and items
// without an id. It returns the number of items added.
func (a *Aggregator) Ingest(tabID string, items []model.ContentItem) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.tabLocked(tabID)
	added := 0
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, dup := t.seen[item.ID]; dup {
			continue
		}
		a.seq++
		t.seen[item.ID] = a.seq
		t.entries = append(t.entries, entry{seq: a.seq, item: item})
		metrics.ItemsIngestedTotal.WithLabelValues(string(item.Platform)).Inc()
		added++
	}
	return added
}

// IngestResult ingests a platform batch. Failed batches contribute nothing.
func (a *Aggregator) IngestResult(tabID string, r model.PlatformResult) int {
	if !r.Success {
		return 0
	}
	return a.Ingest(tabID, r.Items)
}

// ReplaceTab swaps a tab's contents for an authoritative list. Items the tab
// already held keep their arrival sequence.
func (a *Aggregator) ReplaceTab(tabID string, items []model.ContentItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.tabLocked(tabID)
	next := newTab()
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, dup := next.seen[item.ID]; dup {
			continue
		}
		seq, ok := prev.seen[item.ID]
		if !ok {
			a.seq++
			seq = a.seq
		}
		next.seen[item.ID] = seq
		next.entries = append(next.entries, entry{seq: seq, item: item})
	}
	a.tabs[tabID] = next
}

// Tab returns a copy of one tab's items in insertion order.
func (a *Aggregator) Tab(tabID string) []model.ContentItem {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.tabs[tabID]
	if !ok {
		return nil
	}
	out := make([]model.ContentItem, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.item
	}
	return out
}

// Len returns the number of items in a tab.
func (a *Aggregator) Len(tabID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if t, ok := a.tabs[tabID]; ok {
		return len(t.entries)
	}
	return 0
}

// Merged returns the union of all tabs in arrival order, deduplicated by id.
// The first-seen instance of an id wins.
func (a *Aggregator) Merged() []model.ContentItem {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var all []entry
	for _, id := range a.order {
		all = append(all, a.tabs[id].entries...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	seen := make(map[string]struct{}, len(all))
	out := make([]model.ContentItem, 0, len(all))
	for _, e := range all {
		if _, dup := seen[e.item.ID]; dup {
			continue
		}
		seen[e.item.ID] = struct{}{}
		out = append(out, e.item)
	}
	return out
}

// Tabs returns tab ids in creation order.
func (a *Aggregator) Tabs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// RemoveTab drops a tab and its items.
func (a *Aggregator) RemoveTab(tabID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.tabs[tabID]; !ok {
		return
	}
	delete(a.tabs, tabID)
	for i, id := range a.order {
		if id == tabID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Reset drops every tab.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tabs = make(map[string]*tab)
	a.order = nil
}

func (a *Aggregator) tabLocked(tabID string) *tab {
	t, ok := a.tabs[tabID]
	if !ok {
		t = newTab()
		a.tabs[tabID] = t
		a.order = append(a.order, tabID)
	}
	return t
}
