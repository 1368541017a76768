package reconcile

import (
	"time"

	"github.com/studyhall/liveview/internal/model"
)

// Buckets partitions the list for display. Order within each bucket follows
// the input order (descending updatedAt).
type Buckets struct {
	Today      []model.Entry
	Last7Days  []model.Entry
	Last30Days []model.Entry
	Older      []model.Entry
}

// Group partitions entries by updatedAt relative to now. An optimistic entry
// always lands in Today regardless of its timestamp: the user just created it
// in this session. Pure function; no side effects.
func Group(entries []model.Entry, now time.Time) Buckets {
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := startOfToday.AddDate(0, 0, -7)
	monthAgo := startOfToday.AddDate(0, 0, -30)

	var b Buckets
	for _, entry := range entries {
		switch {
		case entry.Optimistic || !entry.UpdatedAt.Before(startOfToday):
			b.Today = append(b.Today, entry)
		case !entry.UpdatedAt.Before(weekAgo):
			b.Last7Days = append(b.Last7Days, entry)
		case !entry.UpdatedAt.Before(monthAgo):
			b.Last30Days = append(b.Last30Days, entry)
		default:
			b.Older = append(b.Older, entry)
		}
	}
	return b
}
