// Package dispatch routes decoded frames to the reconciliation engine and the
// context cache. Dispatch is synchronous and in arrival order; a malformed
// frame is logged and skipped, never fatal to the stream.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/studyhall/liveview/internal/metrics"
	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/reconcile"
)

// ContextStore is the slice of the context cache the dispatcher writes to.
type ContextStore interface {
	Put(pc model.ParentContext)
	Invalidate(id string)
}

// Dispatcher is the single consumer of a push connection.
type Dispatcher struct {
	engine   *reconcile.Engine
	contexts ContextStore
	resync   func(ctx context.Context) error
}

// New creates a Dispatcher. resync is invoked on a bulk-resync frame and is
// expected to refetch the full list and replace it through the engine;
// contexts may be nil when no cache is wired.
func New(engine *reconcile.Engine, contexts ContextStore, resync func(ctx context.Context) error) *Dispatcher {
	return &Dispatcher{engine: engine, contexts: contexts, resync: resync}
}

// Dispatch handles one frame. It never returns an error: every anomaly
// degrades to skip-and-log.
func (d *Dispatcher) Dispatch(ctx context.Context, frame model.Frame) {
	metrics.CountFrame(string(frame.Type))

	switch frame.Type {
	case model.FramePing:
		// Heartbeat. Receipt alone proves liveness; the connection resets
		// its last-seen clock for every frame before we get here.

	case model.FrameEntryCreated:
		if entry, ok := decodeEntry(frame); ok {
			d.engine.Merge(entry, reconcile.MergeCreate)
		}

	case model.FrameEntryUpdated:
		if entry, ok := decodeEntry(frame); ok {
			d.engine.Merge(entry, reconcile.MergePatch)
		}

	case model.FrameEntryDeleted:
		if del, ok := decodeDeletion(frame); ok {
			d.engine.Delete(del.ID)
		}

	case model.FrameContextCreated, model.FrameContextUpdated:
		var pc model.ParentContext
		if err := json.Unmarshal(frame.Payload, &pc); err != nil {
			skip(frame, err)
			return
		}
		if d.contexts != nil {
			d.contexts.Put(pc)
		}
		d.engine.RefreshParentInfo(pc)

	case model.FrameContextDeleted:
		if del, ok := decodeDeletion(frame); ok && d.contexts != nil {
			d.contexts.Invalidate(del.ID)
		}

	case model.FrameResync:
		if d.resync == nil {
			return
		}
		if err := d.resync(ctx); err != nil {
			log.Error("Dispatcher: resync refetch failed", "err", err)
		}

	default:
		log.Debug("Dispatcher: ignoring unrecognized frame", "type", frame.Type)
	}
}

func decodeEntry(frame model.Frame) (model.Entry, bool) {
	var entry model.Entry
	if err := json.Unmarshal(frame.Payload, &entry); err != nil {
		skip(frame, err)
		return model.Entry{}, false
	}
	if entry.ID == "" {
		log.Warn("Dispatcher: dropping entry frame without id", "type", frame.Type)
		metrics.CountDecodeFailure()
		return model.Entry{}, false
	}
	return entry, true
}

func decodeDeletion(frame model.Frame) (model.Deletion, bool) {
	var del model.Deletion
	if err := json.Unmarshal(frame.Payload, &del); err != nil || del.ID == "" {
		skip(frame, err)
		return model.Deletion{}, false
	}
	return del, true
}

func skip(frame model.Frame, err error) {
	log.Warn("Dispatcher: dropping malformed frame", "type", frame.Type, "err", err)
	metrics.CountDecodeFailure()
}
