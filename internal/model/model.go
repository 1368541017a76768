package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EphemeralIDPrefix namespaces locally generated entry ids so they can never
// collide with a server-issued id.
const EphemeralIDPrefix = "local-"

// DefaultTitle is the placeholder title a conversation carries until its first
// real content arrives.
const DefaultTitle = "New conversation"

// NewEphemeralID returns a fresh local entry id.
func NewEphemeralID() string {
	return EphemeralIDPrefix + uuid.NewString()
}

// IsEphemeralID reports whether id was generated locally rather than issued by
// the server.
func IsEphemeralID(id string) bool {
	return strings.HasPrefix(id, EphemeralIDPrefix)
}

// ParentInfo is a denormalized snapshot of a parent context, carried on an
// entry when the full ParentContext may not be resident locally.
type ParentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// ParentContext is a coarse grouping entity (a module/topic) that entries may
// belong to. Fetched and cached independently of the entry list.
type ParentContext struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Info returns the denormalized snapshot form of the context.
func (p ParentContext) Info() *ParentInfo {
	return &ParentInfo{ID: p.ID, Name: p.Name, Icon: p.Icon}
}

// UIAnchor carries view-only state that must survive reconciliation. It is
// never a matching key and never crosses the wire.
type UIAnchor struct {
	Route       string
	ScrollToken string
	Active      bool
}

// Entry is one row in the reconciled conversation list.
type Entry struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	ParentID        string      `json:"parentId,omitempty"`
	ParentInfo      *ParentInfo `json:"parentInfo,omitempty"`
	CorrelationHint string      `json:"correlationHint,omitempty"`

	// Optimistic is true for a locally created placeholder that has not yet
	// been superseded by a server frame.
	Optimistic bool `json:"-"`

	// Titled latches once the title has been set by real content; after that
	// no frame may silently overwrite it.
	Titled bool `json:"-"`

	UIAnchor UIAnchor `json:"-"`
}

// HasRealTitle reports whether title counts as real content rather than the
// empty or placeholder default.
func HasRealTitle(title string) bool {
	return title != "" && title != DefaultTitle
}

// FrameType enumerates every event the push feed can deliver. Decoded once at
// the transport boundary; everything downstream switches on this closed set.
type FrameType string

const (
	FramePing           FrameType = "ping"
	FrameEntryCreated   FrameType = "entry.created"
	FrameEntryUpdated   FrameType = "entry.updated"
	FrameEntryDeleted   FrameType = "entry.deleted"
	FrameContextCreated FrameType = "context.created"
	FrameContextUpdated FrameType = "context.updated"
	FrameContextDeleted FrameType = "context.deleted"
	FrameResync         FrameType = "resync"
)

// ParseFrameType maps a wire event name to its FrameType. ok is false for
// event names outside the closed set; callers skip those frames.
func ParseFrameType(s string) (FrameType, bool) {
	switch t := FrameType(s); t {
	case FramePing, FrameEntryCreated, FrameEntryUpdated, FrameEntryDeleted,
		FrameContextCreated, FrameContextUpdated, FrameContextDeleted, FrameResync:
		return t, true
	}
	return "", false
}

// Frame is one decoded unit from the push transport.
type Frame struct {
	Type    FrameType
	Payload json.RawMessage
}

// Deletion is the payload of an entry.deleted or context.deleted frame.
type Deletion struct {
	ID string `json:"id"`
}
