package tui

import (
	"fmt"
	"strings"

	"runbell/internal/runstate"
)

// View renders the UI based on the model state
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.err != nil {
		return m.styles.Error.Render(fmt.Sprintf("Error: %v", m.err))
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	b.WriteString(m.renderViewTabs())
	b.WriteString("\n")

	switch m.viewMode {
	case ViewTabs:
		b.WriteString(m.tabList.View())
	case ViewHistory:
		b.WriteString(m.historyList.View())
	}

	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.styles.Notice.Render("🔔 " + m.notice))
	}
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

// renderHeader renders the top header bar
func (m Model) renderHeader() string {
	title := m.styles.Title.Render("runbell")

	running := 0
	for _, ts := range m.tabs {
		if ts.Status == runstate.StatusRunning {
			running++
		}
	}

	var status string
	if len(m.tabs) == 0 {
		status = m.styles.Status.Render("no tabs tracked")
	} else {
		status = m.styles.Status.Render(fmt.Sprintf("%d tabs (%d running)", len(m.tabs), running))
	}

	return title + "  " + status
}

// renderViewTabs renders the view switcher row
func (m Model) renderViewTabs() string {
	tabsLabel := "Tabs"
	historyLabel := "History"
	if ts := m.SelectedTab(); ts != nil {
		historyLabel = fmt.Sprintf("History (tab %d)", ts.TabID)
	}

	switch m.viewMode {
	case ViewHistory:
		return m.styles.InactiveTab.Render(tabsLabel) + m.styles.ActiveTab.Render(historyLabel)
	default:
		return m.styles.ActiveTab.Render(tabsLabel) + m.styles.InactiveTab.Render(historyLabel)
	}
}

// renderHelp renders the footer key hints
func (m Model) renderHelp() string {
	hints := []string{
		"↑/↓ move",
		"tab switch view",
		"enter go to tab",
		"p pause/resume",
		"x dismiss",
		"q quit",
	}
	return m.styles.Help.Render(strings.Join(hints, " • "))
}
