// Package optimistic creates placeholder entries the instant the user acts,
// before any server round trip. The placeholder is retired by the engine when
// its confirmation frame arrives.
package optimistic

import (
	"time"

	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/reconcile"
)

// Tracker mints ephemeral entries and inserts them through the engine, the
// list's sole writer.
type Tracker struct {
	engine *reconcile.Engine
	now    func() time.Time
}

// New creates a Tracker bound to the given engine.
func New(engine *reconcile.Engine) *Tracker {
	return &Tracker{engine: engine, now: time.Now}
}

// Create makes a speculative entry and returns its ephemeral id. If an
// unconfirmed placeholder already exists for the same parent and hint class,
// its id is returned instead: a rapid double submit must not produce two
// placeholders.
//
// insertAtTail puts the entry's updatedAt a year in the past so it sorts
// last; used only for the seeded entry shown to first-time anonymous users.
func (t *Tracker) Create(title, parentID, correlationHint string, insertAtTail bool) string {
	if existing, ok := t.pending(parentID, correlationHint); ok {
		return existing
	}

	if title == "" {
		title = model.DefaultTitle
	}
	now := t.now()
	updatedAt := now
	if insertAtTail {
		updatedAt = now.AddDate(-1, 0, 0)
	}
	entry := model.Entry{
		ID:              model.NewEphemeralID(),
		Title:           title,
		CreatedAt:       now,
		UpdatedAt:       updatedAt,
		ParentID:        parentID,
		CorrelationHint: correlationHint,
		Optimistic:      true,
	}
	t.engine.Insert(entry)
	return entry.ID
}

// Remove retires a placeholder whose originating request failed. The engine
// never does this on its own; only the action's caller knows the request
// outcome.
func (t *Tracker) Remove(id string) {
	if model.IsEphemeralID(id) {
		t.engine.Delete(id)
	}
}

func (t *Tracker) pending(parentID, correlationHint string) (string, bool) {
	for _, entry := range t.engine.Snapshot() {
		if entry.Optimistic && entry.ParentID == parentID && entry.CorrelationHint == correlationHint {
			return entry.ID, true
		}
	}
	return "", false
}
