// Command flockmind-tui is a terminal dashboard for a running flockmind
// daemon. It polls the HTTP API and renders the population, evolution
// state and environment dials.
//
// Usage:
//
//	flockmind-tui --api http://127.0.0.1:8787 --token <viewer-token>
//
// Works over SSH, tmux, screen. A viewer-role token is enough; without
// a configured API secret no token is needed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8787", "flockmind API URL")
	token := flag.String("token", "", "API bearer token (viewer role is enough)")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	client := &apiClient{
		baseURL: strings.TrimRight(*apiURL, "/"),
		token:   *token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}

	p := tea.NewProgram(newDashModel(client, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

// ─────────────────────────────────────────────────────
// API client
// ─────────────────────────────────────────────────────

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) get(path string, dst any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// Wire shapes, mirrored from the API responses.

type statusData struct {
	OrchestratorID string  `json:"orchestrator_id"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalAgents    int     `json:"total_agents"`
	ActiveAgents   int     `json:"active_agents"`
	TotalTasks     int64   `json:"total_tasks"`
	AvgSuccessRate float64 `json:"avg_success_rate"`
	GraphNodes     int     `json:"graph_nodes"`
	GraphEdges     int     `json:"graph_edges"`
}

type agentRow struct {
	ID      string  `json:"id"`
	State   string  `json:"state"`
	Fitness float64 `json:"fitness"`
	Metrics struct {
		TasksCompleted  int64   `json:"tasks_completed"`
		TasksFailed     int64   `json:"tasks_failed"`
		AvgResponseTime float64 `json:"avg_response_time"`
		SuccessRate     float64 `json:"success_rate"`
	} `json:"metrics"`
}

type evoData struct {
	Generation    int     `json:"generation"`
	HistoryLength int     `json:"history_length"`
	AvgFitness    float64 `json:"avg_fitness"`
	Trend         string  `json:"trend"`
	Environment   struct {
		Complexity           float64 `json:"complexity"`
		Volatility           float64 `json:"volatility"`
		ResourceAvailability float64 `json:"resource_availability"`
		TaskDiversity        float64 `json:"task_diversity"`
	} `json:"environment"`
}

// ─────────────────────────────────────────────────────
// Bubble Tea messages
// ─────────────────────────────────────────────────────

type snapshotMsg struct {
	status statusData
	agents []agentRow
	evo    evoData
	at     time.Time
}

type fetchErrMsg struct{ err error }

type tickMsg struct{}

func fetchCmd(c *apiClient) tea.Cmd {
	return func() tea.Msg {
		var snap snapshotMsg
		if err := c.get("/api/status", &snap.status); err != nil {
			return fetchErrMsg{err}
		}
		if err := c.get("/api/agents", &snap.agents); err != nil {
			return fetchErrMsg{err}
		}
		if err := c.get("/api/evolution", &snap.evo); err != nil {
			return fetchErrMsg{err}
		}
		snap.at = time.Now()
		return snap
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// ─────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────

var (
	primaryColor   = lipgloss.Color("#7C3AED") // violet
	secondaryColor = lipgloss.Color("#06B6D4") // cyan
	mutedColor     = lipgloss.Color("#6B7280") // gray
	successColor   = lipgloss.Color("#10B981") // green
	errorColor     = lipgloss.Color("#EF4444") // red
	warnColor      = lipgloss.Color("#F59E0B") // amber

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	metricStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(2)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	stateActive = lipgloss.NewStyle().
			Foreground(successColor)

	stateBusy = lipgloss.NewStyle().
			Foreground(warnColor)

	stateOther = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// ─────────────────────────────────────────────────────
// Dashboard model
// ─────────────────────────────────────────────────────

const sidebarWidth = 44

type dashModel struct {
	client   *apiClient
	interval time.Duration

	status  statusData
	agents  []agentRow
	evo     evoData
	haveAny bool
	lastOK  time.Time
	lastErr error

	population viewport.Model
	width      int
	height     int
	ready      bool
}

func newDashModel(client *apiClient, interval time.Duration) dashModel {
	return dashModel{client: client, interval: interval}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.client), tickCmd(m.interval))
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.client)
		}

	case snapshotMsg:
		m.status = msg.status
		m.agents = msg.agents
		m.evo = msg.evo
		m.haveAny = true
		m.lastOK = msg.at
		m.lastErr = nil
		sort.Slice(m.agents, func(i, j int) bool {
			return m.agents[i].Fitness > m.agents[j].Fitness
		})
		if m.ready {
			m.population.SetContent(m.renderPopulation())
		}
		return m, nil

	case fetchErrMsg:
		// Keep the stale snapshot on screen; the header flips to
		// UNREACHABLE until a poll succeeds again.
		m.lastErr = msg.err
		return m, nil

	case tickMsg:
		cmds = append(cmds, fetchCmd(m.client), tickCmd(m.interval))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		popH := m.height - 6 // header + borders + footer
		if popH < 3 {
			popH = 3
		}
		if !m.ready {
			m.population = viewport.New(sidebarWidth-4, popH)
			m.population.SetContent(m.renderPopulation())
			m.ready = true
		} else {
			m.population.Width = sidebarWidth - 4
			m.population.Height = popH
			m.population.SetContent(m.renderPopulation())
		}
	}

	var cmd tea.Cmd
	m.population, cmd = m.population.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m dashModel) View() string {
	if !m.ready {
		return "Connecting to flockmind..."
	}

	var conn string
	if m.lastErr == nil && m.haveAny {
		conn = onlineStyle.Render("● ONLINE")
	} else {
		conn = offlineStyle.Render("○ UNREACHABLE")
	}
	header := headerStyle.Width(m.width).Render("  flockmind dashboard  " + conn)

	left := panelStyle.Height(m.height - 4).Render(
		panelTitle.Render("Population") + "\n\n" + m.population.View(),
	)
	right := panelStyle.Width(m.width - sidebarWidth - 2).Height(m.height - 4).Render(
		m.renderStats(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	footer := footerStyle.Render("  q: quit │ r: refresh │ ↑↓: scroll agents" + m.footerNote())

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m dashModel) footerNote() string {
	if m.lastErr != nil {
		return " │ " + offlineStyle.Render(m.lastErr.Error())
	}
	if !m.lastOK.IsZero() {
		return fmt.Sprintf(" │ updated %s", m.lastOK.Format("15:04:05"))
	}
	return ""
}

// ─────────────────────────────────────────────────────
// Rendering helpers
// ─────────────────────────────────────────────────────

func (m dashModel) renderPopulation() string {
	if len(m.agents) == 0 {
		return metricStyle.Render("No agents registered")
	}

	var sb strings.Builder
	for _, a := range m.agents {
		var indicator string
		switch a.State {
		case "active":
			indicator = stateActive.Render("●")
		case "evolving", "learning":
			indicator = stateBusy.Render("◉")
		default:
			indicator = stateOther.Render("○")
		}

		sb.WriteString(fmt.Sprintf("%s %s\n", indicator, labelStyle.Render(a.ID)))
		sb.WriteString(metricStyle.Render(fmt.Sprintf("fitness: %.3f", a.Fitness)))
		sb.WriteString("\n")

		total := a.Metrics.TasksCompleted + a.Metrics.TasksFailed
		if total > 0 {
			sb.WriteString(metricStyle.Render(fmt.Sprintf("tasks: %d (%.0f%% ok)", total, a.Metrics.SuccessRate*100)))
			sb.WriteString("\n")
			sb.WriteString(metricStyle.Render(fmt.Sprintf("avg rt: %.2fs", a.Metrics.AvgResponseTime)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m dashModel) renderStats() string {
	var sb strings.Builder

	sb.WriteString(panelTitle.Render("System"))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("agents: %d/%d active", m.status.ActiveAgents, m.status.TotalAgents)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("tasks: %d", m.status.TotalTasks)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("success rate: %.0f%%", m.status.AvgSuccessRate*100)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("graph: %d nodes, %d edges", m.status.GraphNodes, m.status.GraphEdges)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("up: " + formatDuration(time.Duration(m.status.UptimeSeconds)*time.Second)))
	sb.WriteString("\n\n")

	sb.WriteString(panelTitle.Render("Evolution"))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("generation: %d", m.evo.Generation)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render(fmt.Sprintf("avg fitness: %.3f", m.evo.AvgFitness)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("trend: ") + renderTrend(m.evo.Trend))
	sb.WriteString("\n\n")

	sb.WriteString(panelTitle.Render("Environment"))
	sb.WriteString("\n")
	env := m.evo.Environment
	sb.WriteString(metricStyle.Render("complexity:  " + renderDial(env.Complexity)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("volatility:  " + renderDial(env.Volatility)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("resources:   " + renderDial(env.ResourceAvailability)))
	sb.WriteString("\n")
	sb.WriteString(metricStyle.Render("diversity:   " + renderDial(env.TaskDiversity)))
	sb.WriteString("\n")

	return sb.String()
}

func renderTrend(trend string) string {
	switch trend {
	case "improving":
		return stateActive.Render("↑ improving")
	case "declining":
		return offlineStyle.Render("↓ declining")
	case "stable":
		return labelStyle.Render("→ stable")
	default:
		return stateOther.Render("· " + trend)
	}
}

// renderDial draws a 10-step bar for a value in [0,1].
func renderDial(v float64) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v*10 + 0.5)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
	style := lipgloss.NewStyle().Foreground(secondaryColor)
	return style.Render(bar) + fmt.Sprintf(" %.2f", v)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
