package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aerobench/sweep-orchestrator/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	convergedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	idleStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	// Header
	remaining := "?"
	if m.snap.Planned > 0 {
		remaining = fmt.Sprintf("%d", m.snap.Planned-len(m.snap.Points))
	}
	header := fmt.Sprintf(" Sweep Orchestrator │ %s │ Converged: %d │ Failed: %d │ Remaining: %s │ Agents: %d ",
		truncate(m.snap.Root, 30), m.converged, m.failed, remaining, len(m.snap.Agents))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	// Tab bar
	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	// Content based on active tab
	switch m.activeTab {
	case 0: // Dashboard
		progressSection := m.renderProgress()
		b.WriteString(sectionStyle.Width(m.width - 2).Render(progressSection))
		b.WriteString("\n")

		scenarioSection := m.renderScenarios()
		b.WriteString(sectionStyle.Width(m.width - 2).Render(scenarioSection))
		b.WriteString("\n")

		if m.failed > 0 {
			failureSection := m.renderFailures()
			b.WriteString(sectionStyle.Width(m.width - 2).Render(failureSection))
			b.WriteString("\n")
		}

	case 1: // Points
		pointsSection := m.renderPoints()
		b.WriteString(sectionStyle.Width(m.width - 2).Render(pointsSection))
		b.WriteString("\n")

	case 2: // Agents
		agentsSection := m.renderAgents()
		b.WriteString(sectionStyle.Width(m.width - 2).Render(agentsSection))
		b.WriteString("\n")

	case 3: // History
		historySection := m.renderHistory()
		b.WriteString(sectionStyle.Width(m.width - 2).Render(historySection))
		b.WriteString("\n")
	}

	// Fetch errors show above the status bar, the stale snapshot stays up
	if m.fetchErr != nil {
		b.WriteString(warningStyle.Width(m.width).Render(fmt.Sprintf(" refresh failed: %v ", m.fetchErr)))
		b.WriteString("\n")
	}

	// Status bar
	var statusBar string
	switch m.activeTab {
	case 1: // Points
		statusBar = " [tab]switch [j/k]scroll [g/G]top/bottom [r]efresh [q]uit "
	default:
		statusBar = " [tab]switch [p]oints [a]gents [h]istory [r]efresh [q]uit "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Dashboard", "Points", "Agents", "History"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderProgress() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("PROGRESS"))
	b.WriteString("\n")

	done := len(m.snap.Points)
	if m.snap.Planned > 0 {
		b.WriteString(fmt.Sprintf("  %s %d/%d points", progressBar(done, m.snap.Planned, 30), done, m.snap.Planned))
	} else {
		b.WriteString(fmt.Sprintf("  %d points recorded", done))
	}
	b.WriteString("\n")

	b.WriteString("  ")
	b.WriteString(convergedStyle.Render(fmt.Sprintf("● %d converged", m.converged)))
	b.WriteString("   ")
	if m.failed > 0 {
		b.WriteString(failedStyle.Render(fmt.Sprintf("✗ %d failed", m.failed)))
	} else {
		b.WriteString(idleStyle.Render("✗ 0 failed"))
	}
	b.WriteString("\n")

	if m.snap.Overall != nil && m.snap.Overall.EndTime != "" {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  finished, total wall time %s", m.snap.Overall.TotalWallTime)))
	} else {
		b.WriteString(dimmedStyle.Render("  sweep running or interrupted, summary not final"))
	}
	b.WriteString("\n")

	if !m.lastRefresh.IsZero() {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  updated %s", humanize.Time(m.lastRefresh))))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderScenarios() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SCENARIOS"))
	b.WriteString("\n")

	counts := m.scenarioCounts()
	if len(counts) == 0 {
		b.WriteString(idleStyle.Render("  No records yet"))
		return b.String()
	}

	for _, sc := range counts {
		line := fmt.Sprintf("  %-44s %3d converged %3d failed",
			truncate(sc.title, 44), sc.converged, sc.failed)
		if sc.failed > 0 {
			b.WriteString(warningStyle.Render(line))
		} else {
			b.WriteString(convergedStyle.Render(line))
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderFailures() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FAILURES (first 5)"))
	b.WriteString("\n")

	shown := 0
	for _, p := range m.snap.Points {
		if !p.Failed {
			continue
		}
		if shown >= 5 {
			break
		}
		diag := p.Diagnostics
		if diag == "" {
			diag = "no diagnostics recorded"
		}
		line := fmt.Sprintf("  ✗ %-44s %s", truncate(p.ID.String(), 44), truncate(diag, 40))
		b.WriteString(failedStyle.Render(line))
		b.WriteString("\n")
		shown++
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderPoints() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("POINTS (%d)", len(m.snap.Points))))
	b.WriteString("\n")

	if len(m.snap.Points) == 0 {
		b.WriteString(idleStyle.Render("  No records yet"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("    %-42s %8s %8s %-9s %s", "point", "CL", "CD", "status", "wall time")))
	b.WriteString("\n")

	maxVisible := m.height - 10
	if maxVisible < 5 {
		maxVisible = 5
	}
	start := 0
	if m.pointScroll >= maxVisible {
		start = m.pointScroll - maxVisible + 1
	}
	end := start + maxVisible
	if end > len(m.snap.Points) {
		end = len(m.snap.Points)
	}

	for i := start; i < end; i++ {
		p := m.snap.Points[i]
		cursor := "  "
		if i == m.pointScroll {
			cursor = "> "
		}
		if p.Failed {
			line := fmt.Sprintf("%s✗ %-42s %8s %8s %-9s %s",
				cursor, truncate(p.ID.String(), 42), "-", "-", "failed", p.WallTime)
			b.WriteString(failedStyle.Render(line))
		} else {
			line := fmt.Sprintf("%s● %-42s %8.4f %8.4f %-9s %s",
				cursor, truncate(p.ID.String(), 42), p.CL, p.CD, "converged", p.WallTime)
			b.WriteString(convergedStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if end < len(m.snap.Points) {
		b.WriteString(dimmedStyle.Render(fmt.Sprintf("  ... %d more", len(m.snap.Points)-end)))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderAgents() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("POOL AGENTS"))
	b.WriteString("\n")

	if len(m.snap.Agents) == 0 {
		b.WriteString(idleStyle.Render("  No agents connected"))
		return b.String()
	}

	for _, a := range m.snap.Agents {
		connected := "-"
		if !a.ConnectedSince.IsZero() {
			connected = humanize.Time(a.ConnectedSince)
		}
		line := fmt.Sprintf("  ● %-20s %-15s %d/%d slots  connected %s",
			truncate(a.ID, 20), truncate(a.Host, 15), a.ActivePoints, a.MaxSlots, connected)
		if a.ActivePoints > 0 {
			b.WriteString(convergedStyle.Render(line))
		} else {
			b.WriteString(idleStyle.Render(line))
		}
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RECENT INVOCATIONS"))
	b.WriteString("\n")

	if len(m.snap.History) == 0 {
		b.WriteString(idleStyle.Render("  No history recorded"))
		return b.String()
	}

	for _, inv := range m.snap.History {
		started := "-"
		if !inv.StartedAt.IsZero() {
			started = humanize.Time(inv.StartedAt)
		}
		line := fmt.Sprintf("  %s %-24s %-6s %3d ok %3d failed %3d skipped  started %s",
			statusGlyph(inv.Status), inv.Status, inv.Mode,
			inv.Succeeded, inv.Failed, inv.Skipped, started)
		b.WriteString(statusStyle(inv.Status).Render(line))
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// scenarioCount aggregates one hierarchy/case/scenario/level group.
type scenarioCount struct {
	title     string
	converged int
	failed    int
}

func (m Model) scenarioCounts() []scenarioCount {
	byTitle := make(map[string]*scenarioCount)
	var titles []string
	for _, p := range m.snap.Points {
		title := fmt.Sprintf("%s/%s/%s/L%d", p.ID.Hierarchy, p.ID.Case, p.ID.Scenario, p.ID.Level)
		sc, ok := byTitle[title]
		if !ok {
			sc = &scenarioCount{title: title}
			byTitle[title] = sc
			titles = append(titles, title)
		}
		if p.Failed {
			sc.failed++
		} else {
			sc.converged++
		}
	}
	sort.Strings(titles)

	out := make([]scenarioCount, 0, len(titles))
	for _, t := range titles {
		out = append(out, *byTitle[t])
	}
	return out
}

func statusGlyph(s domain.InvocationStatus) string {
	switch s {
	case domain.InvocationRunning:
		return "▶"
	case domain.InvocationCompleted:
		return "●"
	case domain.InvocationWithFailures:
		return "◐"
	default:
		return "✗"
	}
}

func statusStyle(s domain.InvocationStatus) lipgloss.Style {
	switch s {
	case domain.InvocationRunning:
		return convergedStyle
	case domain.InvocationCompleted:
		return idleStyle
	case domain.InvocationWithFailures:
		return warningStyle
	default:
		return failedStyle
	}
}

func progressBar(done, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	if done > total {
		done = total
	}
	filled := done * width / total
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
