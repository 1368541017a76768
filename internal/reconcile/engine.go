// Package reconcile owns the shared conversation list. Every mutation,
// whether an optimistic local insert, an authoritative frame, or a bulk
// resync, funnels through the Engine, which is the list's only writer.
// Everything else reads snapshots.
package reconcile

import (
	"sort"
	"sync"

	"github.com/studyhall/liveview/internal/metrics"
	"github.com/studyhall/liveview/internal/model"
)

// MergeKind classifies an authoritative frame for the merge algorithm.
type MergeKind string

const (
	MergeCreate MergeKind = "create"
	MergePatch  MergeKind = "patch"
	MergeDelete MergeKind = "delete"
)

// ContextLookup resolves parent-context metadata for backfill. A miss skips
// backfill; it never blocks the merge.
type ContextLookup interface {
	Get(id string) (model.ParentContext, bool)
}

// Engine holds the reconciled entry list, kept sorted by descending updatedAt
// with ties broken by most recent operation.
type Engine struct {
	mu       sync.Mutex
	entries  []model.Entry
	seq      map[string]uint64
	nextSeq  uint64
	contexts ContextLookup
	onChange func()
}

// New creates an empty engine. contexts may be nil, in which case parentInfo
// backfill is skipped.
func New(contexts ContextLookup) *Engine {
	return &Engine{contexts: contexts, seq: map[string]uint64{}}
}

// OnChange registers the single change callback, invoked after every mutation
// that altered the list. Must be set before the engine starts receiving
// frames; the callback runs on whichever goroutine performed the mutation.
func (e *Engine) OnChange(fn func()) {
	e.onChange = fn
}

// Snapshot returns a sorted copy of the current list.
func (e *Engine) Snapshot() []model.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Get returns the entry with the given id.
func (e *Engine) Get(id string) (model.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return model.Entry{}, false
}

// Insert adds a locally created entry. Used by the optimistic tracker; frames
// never take this path. Duplicate ids are ignored.
func (e *Engine) Insert(entry model.Entry) {
	e.mu.Lock()
	if e.indexOf(entry.ID) >= 0 {
		e.mu.Unlock()
		return
	}
	entry.Titled = model.HasRealTitle(entry.Title)
	e.backfillParent(&entry)
	e.add(entry)
	e.resort()
	e.mu.Unlock()
	e.notify()
}

// Merge folds one authoritative entry into the list using the ordered
// matching priority: exact id, then correlation hint against an optimistic
// entry, then the most recently created optimistic entry under the same
// parent. Applying an identical frame twice leaves the list unchanged.
func (e *Engine) Merge(incoming model.Entry, kind MergeKind) {
	e.mu.Lock()
	outcome := e.applyLocked(incoming, kind)
	e.mu.Unlock()
	metrics.CountMerge(outcome)
	if outcome != "noop" {
		e.notify()
	}
}

// Delete removes the entry with the given id. No-op if absent.
func (e *Engine) Delete(id string) {
	e.Merge(model.Entry{ID: id}, MergeDelete)
}

// SetAnchor updates an entry's UI-only state. Anchor changes never affect
// sort order.
func (e *Engine) SetAnchor(id string, anchor model.UIAnchor) {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 || e.entries[i].UIAnchor == anchor {
		e.mu.Unlock()
		return
	}
	e.entries[i].UIAnchor = anchor
	e.mu.Unlock()
	e.notify()
}

// RefreshParentInfo updates the denormalized parent snapshot on every entry
// referencing the given context.
func (e *Engine) RefreshParentInfo(pc model.ParentContext) {
	e.mu.Lock()
	changed := false
	for i := range e.entries {
		if e.entries[i].ParentID != pc.ID {
			continue
		}
		info := pc.Info()
		if e.entries[i].ParentInfo == nil || *e.entries[i].ParentInfo != *info {
			e.entries[i].ParentInfo = info
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.notify()
	}
}

// ReplaceAll atomically swaps the list for a freshly fetched one, as a resync
// demands. Optimistic entries survive: one matched by hint donates its UI
// anchor to the authoritative replacement, an unmatched one is re-appended
// rather than silently dropped.
func (e *Engine) ReplaceAll(fresh []model.Entry) {
	e.mu.Lock()
	prev := e.entries
	prevSeq := e.seq
	e.entries = nil
	e.seq = map[string]uint64{}

	for _, entry := range fresh {
		entry.Optimistic = false
		entry.Titled = model.HasRealTitle(entry.Title)
		e.backfillParent(&entry)
		if i := indexByID(prev, entry.ID); i >= 0 {
			entry.UIAnchor = prev[i].UIAnchor
		} else if entry.CorrelationHint != "" {
			if i := indexByHint(prev, entry.CorrelationHint); i >= 0 {
				entry.UIAnchor = prev[i].UIAnchor
				prev[i].Optimistic = false // consumed; do not re-append below
			}
		}
		e.add(entry)
	}
	for _, entry := range prev {
		if entry.Optimistic && e.indexOf(entry.ID) < 0 {
			e.add(entry)
			if s, ok := prevSeq[entry.ID]; ok {
				e.seq[entry.ID] = s
			}
		}
	}
	e.resort()
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) applyLocked(incoming model.Entry, kind MergeKind) string {
	if kind == MergeDelete {
		i := e.indexOf(incoming.ID)
		if i < 0 {
			return "noop"
		}
		delete(e.seq, incoming.ID)
		e.entries = append(e.entries[:i], e.entries[i+1:]...)
		return "deleted"
	}

	e.backfillParent(&incoming)

	i := e.match(incoming)
	if i < 0 {
		incoming.Optimistic = false
		incoming.Titled = model.HasRealTitle(incoming.Title)
		e.add(incoming)
		e.resort()
		return "inserted"
	}

	existing := e.entries[i]
	merged := existing
	merged.ID = incoming.ID
	merged.UpdatedAt = incoming.UpdatedAt
	if !incoming.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	merged.ParentID = incoming.ParentID
	if incoming.ParentInfo != nil {
		merged.ParentInfo = incoming.ParentInfo
	}
	if incoming.CorrelationHint != "" {
		merged.CorrelationHint = incoming.CorrelationHint
	}
	// Title lock: only an untitled entry may take a title from a frame, and
	// it latches the first real one.
	if !existing.Titled && incoming.Title != "" {
		merged.Title = incoming.Title
		merged.Titled = model.HasRealTitle(incoming.Title)
	}
	merged.Optimistic = false

	if entryEqual(existing, merged) {
		return "noop"
	}

	s := e.seq[existing.ID]
	delete(e.seq, existing.ID)
	e.seq[merged.ID] = s
	e.entries[i] = merged
	e.resort()
	if existing.Optimistic {
		return "confirmed"
	}
	return "patched"
}

// match returns the index of the entry the incoming frame supersedes, or -1.
func (e *Engine) match(incoming model.Entry) int {
	if i := e.indexOf(incoming.ID); i >= 0 {
		return i
	}
	if incoming.CorrelationHint != "" {
		for i, entry := range e.entries {
			if entry.Optimistic && entry.CorrelationHint == incoming.CorrelationHint {
				return i
			}
		}
	}
	// Heuristic fallback: the most recently created still-optimistic entry
	// under the same parent. Ties go to the later insertion.
	best := -1
	for i, entry := range e.entries {
		if !entry.Optimistic || entry.ParentID != incoming.ParentID {
			continue
		}
		if best < 0 ||
			entry.CreatedAt.After(e.entries[best].CreatedAt) ||
			(entry.CreatedAt.Equal(e.entries[best].CreatedAt) && e.seq[entry.ID] > e.seq[e.entries[best].ID]) {
			best = i
		}
	}
	return best
}

func (e *Engine) add(entry model.Entry) {
	e.nextSeq++
	e.seq[entry.ID] = e.nextSeq
	e.entries = append(e.entries, entry)
}

func (e *Engine) resort() {
	sort.SliceStable(e.entries, func(a, b int) bool {
		ea, eb := e.entries[a], e.entries[b]
		if !ea.UpdatedAt.Equal(eb.UpdatedAt) {
			return ea.UpdatedAt.After(eb.UpdatedAt)
		}
		return e.seq[ea.ID] > e.seq[eb.ID]
	})
}

func (e *Engine) backfillParent(entry *model.Entry) {
	if entry.ParentInfo != nil || entry.ParentID == "" || e.contexts == nil {
		return
	}
	if pc, ok := e.contexts.Get(entry.ParentID); ok {
		entry.ParentInfo = pc.Info()
	}
}

func (e *Engine) indexOf(id string) int {
	return indexByID(e.entries, id)
}

func indexByID(entries []model.Entry, id string) int {
	for i, entry := range entries {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

func indexByHint(entries []model.Entry, hint string) int {
	for i, entry := range entries {
		if entry.Optimistic && entry.CorrelationHint == hint {
			return i
		}
	}
	return -1
}

func entryEqual(a, b model.Entry) bool {
	ap, bp := a.ParentInfo, b.ParentInfo
	a.ParentInfo, b.ParentInfo = nil, nil
	if a != b {
		return false
	}
	if (ap == nil) != (bp == nil) {
		return false
	}
	return ap == nil || *ap == *bp
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}
