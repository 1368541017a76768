package reconcile

import (
	"testing"
	"time"

	"github.com/studyhall/liveview/internal/model"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func optimisticEntry(id, title, parentID, hint string, at time.Time) model.Entry {
	return model.Entry{
		ID:              id,
		Title:           title,
		CreatedAt:       at,
		UpdatedAt:       at,
		ParentID:        parentID,
		CorrelationHint: hint,
		Optimistic:      true,
		UIAnchor:        model.UIAnchor{Route: "/chat/" + id, Active: true},
	}
}

func TestMerge_ConfirmsOptimisticByHint(t *testing.T) {
	e := New(nil)
	opt := optimisticEntry("local-1", model.DefaultTitle, "P1", "H1", base)
	e.Insert(opt)

	e.Merge(model.Entry{
		ID:              "srv-9",
		Title:           model.DefaultTitle,
		ParentID:        "P1",
		CorrelationHint: "H1",
		CreatedAt:       base.Add(time.Second),
		UpdatedAt:       base.Add(time.Second),
	}, MergeCreate)

	entries := e.Snapshot()
	require.Len(t, entries, 1)
	got := entries[0]
	require.Equal(t, "srv-9", got.ID)
	require.False(t, got.Optimistic)
	// UI-only state survives the identity change.
	require.Equal(t, opt.UIAnchor, got.UIAnchor)
}

func TestMerge_NoDuplicateForSameHint(t *testing.T) {
	e := New(nil)
	e.Insert(optimisticEntry("local-1", model.DefaultTitle, "P1", "H1", base))

	confirm := model.Entry{ID: "srv-9", Title: "New", ParentID: "P1", CorrelationHint: "H1", UpdatedAt: base.Add(time.Second)}
	e.Merge(confirm, MergeCreate)
	e.Merge(confirm, MergeCreate) // duplicate delivery

	entries := e.Snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, "srv-9", entries[0].ID)
}

func TestMerge_IdempotentFrame(t *testing.T) {
	e := New(nil)
	frame := model.Entry{ID: "srv-1", Title: "Algebra", UpdatedAt: base}
	e.Merge(frame, MergeCreate)
	once := e.Snapshot()

	e.Merge(frame, MergeCreate)
	require.Equal(t, once, e.Snapshot())
}

func TestMerge_HeuristicFallbackPicksNewestOptimisticWithSameParent(t *testing.T) {
	e := New(nil)
	e.Insert(optimisticEntry("local-old", model.DefaultTitle, "P1", "", base))
	e.Insert(optimisticEntry("local-new", model.DefaultTitle, "P1", "", base.Add(time.Minute)))
	e.Insert(optimisticEntry("local-other", model.DefaultTitle, "P2", "", base.Add(time.Hour)))

	e.Merge(model.Entry{ID: "srv-1", Title: "New", ParentID: "P1", UpdatedAt: base.Add(2 * time.Minute)}, MergeCreate)

	_, ok := e.Get("srv-1")
	require.True(t, ok)
	_, ok = e.Get("local-new")
	require.False(t, ok, "newest optimistic under P1 should be superseded")
	_, ok = e.Get("local-old")
	require.True(t, ok, "older optimistic entry is left untouched")
	_, ok = e.Get("local-other")
	require.True(t, ok, "other parent is never a candidate")
}

func TestMerge_HeuristicIgnoresParentMismatch(t *testing.T) {
	e := New(nil)
	e.Insert(optimisticEntry("local-1", model.DefaultTitle, "P1", "", base))

	e.Merge(model.Entry{ID: "srv-1", Title: "Hello", UpdatedAt: base.Add(time.Second)}, MergeCreate)

	require.Len(t, e.Snapshot(), 2, "parentless frame must not supersede a parented placeholder")
}

func TestMerge_TitleLock(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "srv-1", Title: model.DefaultTitle, UpdatedAt: base}, MergeCreate)

	// First content frame may retitle.
	e.Merge(model.Entry{ID: "srv-1", Title: "Discussion about photosynthesis", UpdatedAt: base.Add(time.Minute)}, MergePatch)
	got, _ := e.Get("srv-1")
	require.Equal(t, "Discussion about photosynthesis", got.Title)

	// A slow later frame must not clobber it, but still re-sorts.
	e.Merge(model.Entry{ID: "srv-1", Title: "Photosynthesis, take two", UpdatedAt: base.Add(2 * time.Minute)}, MergePatch)
	got, _ = e.Get("srv-1")
	require.Equal(t, "Discussion about photosynthesis", got.Title)
	require.Equal(t, base.Add(2*time.Minute), got.UpdatedAt)
}

func TestMerge_UnmatchedFrameInsertsNewEntry(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "srv-1", Title: "From another device", UpdatedAt: base}, MergeCreate)

	entries := e.Snapshot()
	require.Len(t, entries, 1)
	require.False(t, entries[0].Optimistic)
	require.True(t, entries[0].Titled)
}

func TestDelete_RemovesByID(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "srv-1", Title: "A", UpdatedAt: base}, MergeCreate)
	e.Delete("srv-1")
	require.Empty(t, e.Snapshot())

	e.Delete("srv-1") // absent: no-op
	require.Empty(t, e.Snapshot())
}

func TestSortOrder_DescendingUpdatedAtNewestOperationWinsTies(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "a", Title: "A", UpdatedAt: base}, MergeCreate)
	e.Merge(model.Entry{ID: "b", Title: "B", UpdatedAt: base.Add(time.Hour)}, MergeCreate)
	e.Merge(model.Entry{ID: "c", Title: "C", UpdatedAt: base.Add(time.Hour)}, MergeCreate)

	entries := e.Snapshot()
	require.Equal(t, []string{"c", "b", "a"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestMerge_ParentBackfillFromCache(t *testing.T) {
	e := New(stubLookup{"P1": {ID: "P1", Name: "Biology", Icon: "leaf"}})
	e.Merge(model.Entry{ID: "srv-1", Title: "Cells", ParentID: "P1", UpdatedAt: base}, MergeCreate)

	got, _ := e.Get("srv-1")
	require.NotNil(t, got.ParentInfo)
	require.Equal(t, "Biology", got.ParentInfo.Name)
}

func TestMerge_ParentBackfillMissIsSkipped(t *testing.T) {
	e := New(stubLookup{})
	e.Merge(model.Entry{ID: "srv-1", Title: "Cells", ParentID: "P1", UpdatedAt: base}, MergeCreate)

	got, _ := e.Get("srv-1")
	require.Nil(t, got.ParentInfo)
}

func TestRefreshParentInfo(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "srv-1", Title: "Cells", ParentID: "P1",
		ParentInfo: &model.ParentInfo{ID: "P1", Name: "Bio"}, UpdatedAt: base}, MergeCreate)

	e.RefreshParentInfo(model.ParentContext{ID: "P1", Name: "Biology", Icon: "leaf"})
	got, _ := e.Get("srv-1")
	require.Equal(t, "Biology", got.ParentInfo.Name)
}

func TestReplaceAll_KeepsUnmatchedOptimisticEntries(t *testing.T) {
	e := New(nil)
	e.Insert(optimisticEntry("local-1", model.DefaultTitle, "", "H1", base))
	e.Merge(model.Entry{ID: "srv-old", Title: "Stale", UpdatedAt: base.Add(-time.Hour)}, MergeCreate)

	e.ReplaceAll([]model.Entry{{ID: "srv-new", Title: "Fresh", UpdatedAt: base.Add(time.Hour)}})

	_, ok := e.Get("srv-old")
	require.False(t, ok, "confirmed entries are replaced wholesale")
	_, ok = e.Get("local-1")
	require.True(t, ok, "an unconfirmed placeholder survives a resync")
	_, ok = e.Get("srv-new")
	require.True(t, ok)
}

func TestReplaceAll_HintMatchDonatesAnchor(t *testing.T) {
	e := New(nil)
	opt := optimisticEntry("local-1", model.DefaultTitle, "", "H1", base)
	e.Insert(opt)

	e.ReplaceAll([]model.Entry{{ID: "srv-9", Title: "New", CorrelationHint: "H1", UpdatedAt: base.Add(time.Second)}})

	entries := e.Snapshot()
	require.Len(t, entries, 1)
	require.Equal(t, "srv-9", entries[0].ID)
	require.Equal(t, opt.UIAnchor, entries[0].UIAnchor)
}

func TestOnChange_FiresOncePerEffectiveMutation(t *testing.T) {
	e := New(nil)
	var calls int
	e.OnChange(func() { calls++ })

	frame := model.Entry{ID: "srv-1", Title: "A", UpdatedAt: base}
	e.Merge(frame, MergeCreate)
	require.Equal(t, 1, calls)

	e.Merge(frame, MergeCreate) // no-op: duplicate
	require.Equal(t, 1, calls)

	e.Delete("srv-1")
	require.Equal(t, 2, calls)
}

func TestSetAnchor(t *testing.T) {
	e := New(nil)
	e.Merge(model.Entry{ID: "srv-1", Title: "A", UpdatedAt: base}, MergeCreate)

	e.SetAnchor("srv-1", model.UIAnchor{Route: "/chat/srv-1", Active: true})
	got, _ := e.Get("srv-1")
	require.True(t, got.UIAnchor.Active)
}

type stubLookup map[string]model.ParentContext

func (s stubLookup) Get(id string) (model.ParentContext, bool) {
	pc, ok := s[id]
	return pc, ok
}
