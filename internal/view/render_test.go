package view

import (
	"strings"
	"testing"
	"time"

	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/reconcile"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestRender_EmptyList(t *testing.T) {
	out := Render(reconcile.Buckets{}, now)
	require.Contains(t, out, "No conversations yet.")
}

func TestRender_SectionsAndMarkers(t *testing.T) {
	b := reconcile.Buckets{
		Today: []model.Entry{
			{ID: "a", Title: "Algebra", UpdatedAt: now.Add(-time.Hour), UIAnchor: model.UIAnchor{Active: true}},
			{ID: "b", Title: model.DefaultTitle, Optimistic: true, UpdatedAt: now},
		},
		Last7Days: []model.Entry{
			{ID: "c", Title: "Cells", UpdatedAt: now.AddDate(0, 0, -2),
				ParentInfo: &model.ParentInfo{ID: "P1", Name: "Biology"}},
		},
	}

	out := Render(b, now)
	require.Contains(t, out, "Today")
	require.Contains(t, out, "Previous 7 days")
	require.NotContains(t, out, "Previous 30 days")
	require.Contains(t, out, "Algebra")
	require.Contains(t, out, "(pending)")
	require.Contains(t, out, "Biology")
	require.Contains(t, out, "> ")
}

func TestStamp(t *testing.T) {
	require.Equal(t, "08:30", stamp(now.Add(-90*time.Minute), now))
	require.Equal(t, "Jun 13", stamp(now.AddDate(0, 0, -2), now))
	require.True(t, strings.HasSuffix(stamp(now.AddDate(-1, 0, 0), now), "2024"))
}
