package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// RefreshMsg carries the result of a Snapshot fetch
type RefreshMsg struct {
	Snap Snapshot
	Err  error
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, refreshCmd(m.fetch)
		case "j", "down":
			if m.activeTab == 1 && m.pointScroll < len(m.snap.Points)-1 {
				m.pointScroll++
			}
		case "k", "up":
			if m.activeTab == 1 && m.pointScroll > 0 {
				m.pointScroll--
			}
		case "g":
			if m.activeTab == 1 {
				m.pointScroll = 0
			}
		case "G":
			if m.activeTab == 1 && len(m.snap.Points) > 0 {
				m.pointScroll = len(m.snap.Points) - 1
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % 4
			m.pointScroll = 0
		case "p":
			// Jump to points tab
			m.activeTab = 1
			m.pointScroll = 0
		case "a":
			// Jump to agents tab
			m.activeTab = 2
		case "h":
			// Jump to history tab
			m.activeTab = 3
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(refreshCmd(m.fetch), tickCmd())

	case RefreshMsg:
		if msg.Err != nil {
			// Keep showing the last good snapshot alongside the error
			m.fetchErr = msg.Err
			return m, nil
		}
		m.fetchErr = nil
		m.applySnapshot(msg.Snap)
		return m, nil
	}

	return m, nil
}

// applySnapshot replaces the dashboard data and recomputes the header counts.
func (m *Model) applySnapshot(snap Snapshot) {
	m.snap = snap
	m.converged = 0
	m.failed = 0
	for _, p := range snap.Points {
		if p.Failed {
			m.failed++
		} else {
			m.converged++
		}
	}
	if len(snap.Points) == 0 {
		m.pointScroll = 0
	} else if m.pointScroll >= len(snap.Points) {
		m.pointScroll = len(snap.Points) - 1
	}
	m.lastRefresh = time.Now()
}

// SetSnapshot replaces the dashboard data outside the message loop.
func (m *Model) SetSnapshot(snap Snapshot) {
	m.applySnapshot(snap)
}

// refreshCmd fetches a new Snapshot off the Update loop. With no FetchFunc
// the model is static and refreshes are no-ops.
func refreshCmd(fetch FetchFunc) tea.Cmd {
	if fetch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := fetch()
		return RefreshMsg{Snap: snap, Err: err}
	}
}
