package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"runbell/internal/runstate"
)

// noticeDuration is how long a notification banner stays on screen.
const noticeDuration = 8 * time.Second

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m.updateListSizes(), nil

	case stateMsg:
		return m.applyState(runstate.Global(msg)), m.waitForServerCmd()

	case noticeMsg:
		m.notice = msg.Title
		if msg.Body != "" {
			m.notice = msg.Title + ": " + msg.Body
		}
		m.noticeUntil = time.Now().Add(noticeDuration)
		return m, m.waitForServerCmd()

	case serverGoneMsg:
		m.err = fmt.Errorf("daemon connection lost")
		return m, tea.Quit

	case tickMsg:
		if m.notice != "" && time.Now().After(m.noticeUntil) {
			m.notice = ""
		}
		return m, m.tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		if m.viewMode == ViewTabs {
			m.viewMode = ViewHistory
			m = m.updateHistoryList()
		} else {
			m.viewMode = ViewTabs
		}
		return m.updateListSizes(), nil

	case "esc":
		if m.viewMode == ViewHistory {
			m.viewMode = ViewTabs
			return m.updateListSizes(), nil
		}
		return m, nil

	case "enter":
		if ts := m.SelectedTab(); ts != nil {
			if err := m.client.NavigateToTab(ts.TabID, ts.WindowID); err != nil {
				m.err = err
				return m, tea.Quit
			}
		}
		return m, nil

	case "p":
		if ts := m.SelectedTab(); ts != nil {
			if err := m.client.PauseResume(ts.TabID); err != nil {
				m.err = err
				return m, tea.Quit
			}
		}
		return m, nil

	case "x":
		if ts := m.SelectedTab(); ts != nil {
			if err := m.client.CloseIndicator(ts.TabID); err != nil {
				m.err = err
				return m, tea.Quit
			}
		}
		return m, nil
	}

	// Everything else is list navigation.
	var cmd tea.Cmd
	switch m.viewMode {
	case ViewTabs:
		m.tabList, cmd = m.tabList.Update(msg)
		m = m.updateHistoryList()
	case ViewHistory:
		m.historyList, cmd = m.historyList.Update(msg)
	}
	return m, cmd
}
