package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"runbell/internal/runstate"
)

// ============================================================================
// Tab Item
// ============================================================================

// tabItem wraps a TabState for the list component
type tabItem struct {
	state *runstate.TabState
}

func (i tabItem) FilterValue() string { return fmt.Sprintf("tab %d", i.state.TabID) }

// tabDelegate renders tab items
type tabDelegate struct {
	styles Styles
	width  int
}

func newTabDelegate(s Styles) *tabDelegate {
	return &tabDelegate{styles: s}
}

func (d *tabDelegate) SetWidth(w int) { d.width = w }

func (d *tabDelegate) Height() int                             { return 2 }
func (d *tabDelegate) Spacing() int                            { return 1 }
func (d *tabDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d *tabDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(tabItem)
	if !ok {
		return
	}
	ts := i.state

	statusStyle := d.styles.ForStatus(ts.Status)
	title := fmt.Sprintf("%s tab %d", statusGlyph(ts.Status), ts.TabID)
	if ts.RunName != "" {
		title += "  " + ts.RunName
	}

	desc := string(ts.Status)
	switch ts.Status {
	case runstate.StatusRunning, runstate.StatusPaused:
		desc += " | " + formatMs(ts.ElapsedTime)
	case runstate.StatusStopped:
		desc += " | finished in " + formatMs(ts.ElapsedTime)
	case runstate.StatusError:
		desc += " | " + ts.Error
	}
	if !ts.IsVisible {
		desc += " | background"
	}

	titleLine := statusStyle.Render(truncate(title, d.width))
	descLine := d.styles.Muted.Render(truncate("  "+desc, d.width))
	if index == m.Index() {
		titleLine = d.styles.Selected.Render(truncate(title, d.width))
	}
	fmt.Fprintf(w, "%s\n%s", titleLine, descLine)
}

// ============================================================================
// History Item
// ============================================================================

// historyItem wraps one finished run
type historyItem struct {
	entry runstate.HistoryEntry
}

func (i historyItem) FilterValue() string { return i.entry.RunName }

// historyDelegate renders history entries
type historyDelegate struct {
	styles Styles
	width  int
}

func newHistoryDelegate(s Styles) *historyDelegate {
	return &historyDelegate{styles: s}
}

func (d *historyDelegate) SetWidth(w int) { d.width = w }

func (d *historyDelegate) Height() int                             { return 2 }
func (d *historyDelegate) Spacing() int                            { return 1 }
func (d *historyDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d *historyDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	i, ok := item.(historyItem)
	if !ok {
		return
	}
	e := i.entry

	name := e.RunName
	if name == "" {
		name = "(unnamed run)"
	}

	statusStyle := d.styles.ForStatus(e.Status)
	title := fmt.Sprintf("%s %s", statusGlyph(e.Status), name)
	desc := fmt.Sprintf("  %s | %s ago", formatMs(e.DurationMs), formatTimeAgo(time.UnixMilli(e.EndTime)))

	titleLine := statusStyle.Render(truncate(title, d.width))
	if index == m.Index() {
		titleLine = d.styles.Selected.Render(truncate(title, d.width))
	}
	fmt.Fprintf(w, "%s\n%s", titleLine, d.styles.Muted.Render(truncate(desc, d.width)))
}

// ============================================================================
// Rendering helpers
// ============================================================================

func statusGlyph(s runstate.Status) string {
	switch s {
	case runstate.StatusRunning:
		return "▶"
	case runstate.StatusPaused:
		return "⏸"
	case runstate.StatusStopped:
		return "✓"
	case runstate.StatusError:
		return "✗"
	case runstate.StatusStandby:
		return "·"
	default:
		return "○"
	}
}

// formatMs renders a millisecond duration like "1m 5s".
func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// formatTimeAgo renders a relative timestamp like "5m" or "2h"
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
