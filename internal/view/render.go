// Package view projects the grouped entry list to styled terminal output for
// the watch command. Pure formatting; it never mutates the list.
package view

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/studyhall/liveview/internal/model"
	"github.com/studyhall/liveview/internal/reconcile"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginTop(1)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	parentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	pendingStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("11"))
	stampStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Render returns the full list view for the given buckets.
func Render(b reconcile.Buckets, now time.Time) string {
	var sb strings.Builder
	section(&sb, "Today", b.Today, now)
	section(&sb, "Previous 7 days", b.Last7Days, now)
	section(&sb, "Previous 30 days", b.Last30Days, now)
	section(&sb, "Older", b.Older, now)
	if sb.Len() == 0 {
		return parentStyle.Render("No conversations yet.") + "\n"
	}
	return sb.String()
}

func section(sb *strings.Builder, name string, entries []model.Entry, now time.Time) {
	if len(entries) == 0 {
		return
	}
	sb.WriteString(headerStyle.Render(name))
	sb.WriteByte('\n')
	for _, entry := range entries {
		sb.WriteString(line(entry, now))
		sb.WriteByte('\n')
	}
}

func line(entry model.Entry, now time.Time) string {
	marker := "  "
	style := titleStyle
	if entry.UIAnchor.Active {
		marker = "> "
		style = activeStyle
	}

	parts := []string{marker + style.Render(entry.Title)}
	if entry.ParentInfo != nil {
		label := entry.ParentInfo.Name
		if entry.ParentInfo.Icon != "" {
			label = entry.ParentInfo.Icon + " " + label
		}
		parts = append(parts, parentStyle.Render(label))
	}
	if entry.Optimistic {
		parts = append(parts, pendingStyle.Render("(pending)"))
	} else {
		parts = append(parts, stampStyle.Render(stamp(entry.UpdatedAt, now)))
	}
	return strings.Join(parts, "  ")
}

// stamp keeps timestamps short: clock time today, date otherwise.
func stamp(t, now time.Time) string {
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2 2006")
}
