// Package tui is the terminal dashboard. It mirrors the daemon's state
// snapshots into two views, a live tab list and the selected tab's run
// history, and sends user actions back over the socket.
package tui

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"runbell/internal/config"
	"runbell/internal/protocol"
	"runbell/internal/runstate"
)

// ViewMode represents the current view
type ViewMode int

const (
	ViewTabs    ViewMode = iota // All tracked tabs
	ViewHistory                 // Run history for the selected tab
)

// Model represents the application state
type Model struct {
	client *Client
	styles Styles

	state    runstate.Global
	tabs     []*runstate.TabState // sorted by tab id for stable display
	viewMode ViewMode

	tabList     list.Model
	historyList list.Model

	tabDelegate     *tabDelegate
	historyDelegate *historyDelegate

	// historyTab is the tab whose history is on screen.
	historyTab int

	// notice is the last notification banner, cleared after a while.
	notice      string
	noticeUntil time.Time

	width  int
	height int

	err error
}

// NewModel creates a dashboard model over an established client.
func NewModel(client *Client, cfg *config.Config) Model {
	styles := NewStyles(cfg.Theme)
	tabDel := newTabDelegate(styles)
	historyDel := newHistoryDelegate(styles)

	m := Model{
		client:          client,
		styles:          styles,
		viewMode:        ViewTabs,
		tabDelegate:     tabDel,
		historyDelegate: historyDel,
	}

	m.tabList = newList(tabDel)
	m.historyList = newList(historyDel)
	return m
}

func newList(d list.ItemDelegate) list.Model {
	l := list.New([]list.Item{}, d, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()
	return l
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForServerCmd(),
		m.tickCmd(),
	)
}

// Message types
type (
	stateMsg      runstate.Global  // Full snapshot from init or stateUpdate
	noticeMsg     protocol.Message // A notify pushed by the daemon
	serverGoneMsg struct{}         // Connection to the daemon dropped
	tickMsg       time.Time
)

// waitForServerCmd blocks on the next daemon message.
func (m Model) waitForServerCmd() tea.Cmd {
	return func() tea.Msg {
		for msg := range m.client.Events {
			switch msg.Type {
			case protocol.TypeInit, protocol.TypeStateUpdate:
				return stateMsg(msg.State)
			case protocol.TypeNotify:
				return noticeMsg(msg)
			}
			// Other message types are page-observer concerns.
		}
		return serverGoneMsg{}
	}
}

// tickCmd refreshes relative timestamps once a second.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// applyState replaces the snapshot and rebuilds both lists.
func (m Model) applyState(g runstate.Global) Model {
	m.state = g

	m.tabs = make([]*runstate.TabState, 0, len(g))
	for _, ts := range g {
		m.tabs = append(m.tabs, ts)
	}
	sort.Slice(m.tabs, func(i, j int) bool { return m.tabs[i].TabID < m.tabs[j].TabID })

	items := make([]list.Item, len(m.tabs))
	for i, ts := range m.tabs {
		items[i] = tabItem{state: ts}
	}
	selected := m.tabList.Index()
	m.tabList.SetItems(items)
	if selected < len(items) {
		m.tabList.Select(selected)
	}

	return m.updateHistoryList()
}

// updateHistoryList rebuilds the history view for the selected tab.
func (m Model) updateHistoryList() Model {
	ts := m.SelectedTab()
	if ts == nil {
		m.historyList.SetItems([]list.Item{})
		m.historyTab = 0
		return m
	}

	tabChanged := m.historyTab != ts.TabID
	m.historyTab = ts.TabID

	items := make([]list.Item, len(ts.History))
	for i := range ts.History {
		items[i] = historyItem{entry: ts.History[i]}
	}
	m.historyList.SetItems(items)
	if tabChanged {
		m.historyList.Select(0)
	}
	return m
}

// updateListSizes updates list dimensions based on terminal size
func (m Model) updateListSizes() Model {
	// Reserve space for header (2), tabs (2), notice (1), help (2), margins (2)
	listHeight := m.height - 9
	if listHeight < 5 {
		listHeight = 5
	}
	listWidth := m.width - 4
	if listWidth < 20 {
		listWidth = 20
	}

	m.tabDelegate.SetWidth(listWidth)
	m.historyDelegate.SetWidth(listWidth)
	m.tabList.SetSize(listWidth, listHeight)
	m.historyList.SetSize(listWidth, listHeight)
	return m
}

// SelectedTab returns the tab under the cursor or nil.
func (m Model) SelectedTab() *runstate.TabState {
	idx := m.tabList.Index()
	if idx >= 0 && idx < len(m.tabs) {
		return m.tabs[idx]
	}
	return nil
}
