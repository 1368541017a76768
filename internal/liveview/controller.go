// Package liveview wires the live list subsystem together: session identity,
// bulk fetch, push connection, dispatcher, reconciliation engine, and the
// context cache. Components receive their collaborators explicitly; nothing
// reaches through ambient globals.
package liveview

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/studyhall/liveview/internal/api"
	"github.com/studyhall/liveview/internal/config"
	"github.com/studyhall/liveview/internal/contextcache"
	"github.com/studyhall/liveview/internal/dispatch"
	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/optimistic"
	"github.com/studyhall/liveview/internal/push"
	"github.com/studyhall/liveview/internal/reconcile"
	"github.com/studyhall/liveview/internal/session"
)

// Controller owns the live view's lifecycle: initial population, the event
// loop, resync, user actions, and shutdown.
type Controller struct {
	cfg      config.Config
	identity session.Identity
	client   *api.Client
	cache    *contextcache.Cache
	engine   *reconcile.Engine
	tracker  *optimistic.Tracker
	conn     *push.Connection

	seedOnStart bool
	cancel      context.CancelFunc
}

// New builds the component graph. Nothing touches the network until Start.
func New(cfg config.Config, provider session.Provider) (*Controller, error) {
	seed := false
	if ap, ok := provider.(session.AnonymousProvider); ok {
		seed = cfg.SeedWelcomeEntry && ap.IsFirstRun()
	}
	identity, err := provider.CurrentIdentity()
	if err != nil {
		return nil, fmt.Errorf("liveview: resolve identity: %w", err)
	}

	cache, err := contextcache.New()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:         cfg,
		identity:    identity,
		client:      api.New(cfg.ServerURL, identity, cfg.RequestTimeout),
		cache:       cache,
		seedOnStart: seed,
	}
	c.engine = reconcile.New(cache)
	c.tracker = optimistic.New(c.engine)

	dispatcher := dispatch.New(c.engine, cache, c.resync)
	c.conn = push.New(push.Config{
		URLForIdentity: func(string) string { return c.client.EventsURL() },
		Probe:          c.client.Ping,
		ReconnectDelay: cfg.ReconnectDelay,
		ProbeInterval:  cfg.ProbeInterval,
	})
	if err := c.conn.OnFrame(dispatcher.Dispatch); err != nil {
		cache.Close()
		return nil, err
	}
	c.conn.OnReconnect(func() {
		if err := c.resync(context.Background()); err != nil {
			log.Error("Controller: post-reconnect refetch failed", "err", err)
		}
	})
	return c, nil
}

// OnChange registers the single view callback; it fires synchronously inside
// each mutation turn.
func (c *Controller) OnChange(fn func()) {
	c.engine.OnChange(fn)
}

// Start populates the list and opens the push connection. The context scopes
// the connection and background refresh; cancelling it stops both.
func (c *Controller) Start(ctx context.Context) error {
	c.refreshContexts(ctx)

	entries, err := c.client.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("liveview: initial fetch: %w", err)
	}
	c.engine.ReplaceAll(entries)

	if c.seedOnStart && len(entries) == 0 {
		c.tracker.Create("Welcome to StudyHall", "", "welcome-seed", true)
	}

	if err := c.conn.Open(ctx, c.identity.Key); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.refreshLoop(runCtx)
	return nil
}

// Close tears down the connection and background work. Applied merges stay as
// they are; the last known state is kept, never reverted.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.conn.Close()
	c.cache.Close()
}

// NewConversation creates a placeholder immediately and issues the create
// request. Returns the placeholder's ephemeral id; the confirmation frame
// will retire it. On request failure the placeholder is removed here, by the
// action's caller, never by the engine.
func (c *Controller) NewConversation(ctx context.Context, title, parentID string) (string, error) {
	hint := uuid.NewString()
	localID := c.tracker.Create(title, parentID, hint, false)
	c.engine.SetAnchor(localID, model.UIAnchor{Route: "/chat/" + localID, Active: true})

	if _, err := c.client.CreateEntry(ctx, title, parentID, hint); err != nil {
		c.tracker.Remove(localID)
		return "", fmt.Errorf("liveview: create conversation: %w", err)
	}
	return localID, nil
}

// DeleteConversation removes a conversation. A still-optimistic placeholder
// is a purely local affair; a confirmed entry is deleted on the server first
// and locally once the request succeeds (the deletion frame is then a no-op).
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if model.IsEphemeralID(id) {
		c.tracker.Remove(id)
		return nil
	}
	if err := c.client.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("liveview: delete conversation: %w", err)
	}
	c.engine.Delete(id)
	return nil
}

// Activate marks one entry active for the view, clearing the previous mark.
func (c *Controller) Activate(id string) {
	for _, entry := range c.engine.Snapshot() {
		if entry.UIAnchor.Active && entry.ID != id {
			anchor := entry.UIAnchor
			anchor.Active = false
			c.engine.SetAnchor(entry.ID, anchor)
		}
	}
	if entry, ok := c.engine.Get(id); ok {
		anchor := entry.UIAnchor
		anchor.Active = true
		c.engine.SetAnchor(id, anchor)
	}
}

// Entries returns the sorted list.
func (c *Controller) Entries() []model.Entry {
	return c.engine.Snapshot()
}

// Buckets returns the recency grouping of the current list.
func (c *Controller) Buckets() reconcile.Buckets {
	return reconcile.Group(c.engine.Snapshot(), time.Now())
}

// ConnectionState exposes the push lifecycle for the "reconnecting" hint.
func (c *Controller) ConnectionState() push.State {
	return c.conn.State()
}

// resync refetches the full list and replaces it atomically. Used for resync
// frames and after every reconnect, since dropped frames are not replayed.
func (c *Controller) resync(ctx context.Context) error {
	entries, err := c.client.ListEntries(ctx)
	if err != nil {
		return err
	}
	c.engine.ReplaceAll(entries)
	return nil
}

func (c *Controller) refreshContexts(ctx context.Context) {
	contexts, err := c.client.ListContexts(ctx)
	if err != nil {
		// A stale or empty cache only means backfill is skipped.
		log.Warn("Controller: context fetch failed", "err", err)
		return
	}
	c.cache.ReplaceAll(contexts)
}

func (c *Controller) refreshLoop(ctx context.Context) {
	interval := c.cfg.ContextRefreshInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshContexts(ctx)
		}
	}
}
