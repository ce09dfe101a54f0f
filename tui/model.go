package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

// FetchFunc pulls a fresh Snapshot from wherever the dashboard data lives,
// usually a result tree scan plus optional history and pool queries. It runs
// on its own goroutine, so it may block on disk or HTTP.
type FetchFunc func() (Snapshot, error)

// Snapshot is one refresh worth of dashboard data.
type Snapshot struct {
	Root    string
	Planned int // points the sweep plan names, 0 when the plan is not known
	Points  []PointView
	Agents  []AgentView
	History []InvocationView
	Overall *domain.OverallSummary
}

// PointView is one recorded operating point.
type PointView struct {
	ID          domain.PointID
	CL          float64
	CD          float64
	Failed      bool
	WallTime    string
	Diagnostics string
}

// AgentView is one connected pool agent.
type AgentView struct {
	ID             string
	Host           string
	MaxSlots       int
	ActivePoints   int
	ConnectedSince time.Time
}

// InvocationView is one row from the run history ledger.
type InvocationView struct {
	ID        string
	Status    domain.InvocationStatus
	Mode      string
	StartedAt time.Time
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Model is the TUI application model
type Model struct {
	// Data
	snap     Snapshot
	fetch    FetchFunc
	fetchErr error

	// Stats, recomputed on every refresh
	converged int
	failed    int

	// UI state
	width       int
	height      int
	activeTab   int
	pointScroll int

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Snapshot Snapshot
	Fetch    FetchFunc
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	m := Model{
		fetch:     cfg.Fetch,
		activeTab: 0,
	}
	m.applySnapshot(cfg.Snapshot)
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		refreshCmd(m.fetch),
		tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
