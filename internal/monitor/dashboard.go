// Package monitor provides a live terminal dashboard for a canopy server.
//
// The dashboard follows a replica for tree contents and change activity
// and polls the admin API for server status.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/canopy/internal/client"
	apihttp "github.com/fyrsmithlabs/canopy/internal/http"
	"github.com/fyrsmithlabs/canopy/internal/tree"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxEvents       = 8
	maxTreeLines    = 20
)

// ErrDisconnected is shown once the replica's update stream ends.
var ErrDisconnected = errors.New("disconnected from server")

// Replica is the part of a client.Replica the dashboard reads.
type Replica interface {
	Session() uint64
	Hash() uint64
	View() tree.View
	Resync() error
}

// StatusSource reports server status, usually a *client.HTTPClient.
type StatusSource interface {
	Status(ctx context.Context) (apihttp.StatusResponse, error)
}

// Model represents the BubbleTea dashboard model
type Model struct {
	replica  Replica
	api      StatusSource
	updates  <-chan client.Update
	interval time.Duration

	status     apihttp.StatusResponse
	hasStatus  bool
	lastUpdate time.Time
	err        error
	quitting   bool

	events      []string
	changes     int
	rateHistory []float64
	ratePeak    float64

	activity progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard over replica. updates must carry the
// replica's update stream and be closed when the replica stops. api may be
// nil, in which case the status line is omitted.
func NewModel(replica Replica, api StatusSource, updates <-chan client.Update, interval time.Duration) Model {
	return Model{
		replica:     replica,
		api:         api,
		updates:     updates,
		interval:    interval,
		rateHistory: make([]float64, 0, historySize),
		ratePeak:    1.0,
		activity: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

// statusBadge returns the overall badge for the header line.
func (m Model) statusBadge() string {
	switch {
	case m.err != nil:
		return errorStyle.Render("✗ ERROR")
	case m.hasStatus && m.status.Status != "ok":
		return warningStyle.Render("⚠ " + strings.ToUpper(m.status.Status))
	default:
		return healthyStyle.Render("✓ LIVE")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type statusMsg apihttp.StatusResponse
type updateMsg client.Update
type closedMsg struct{}
type errMsg error

// Init starts the refresh ticker, the first status fetch and the update
// listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchStatus(m.api),
		waitForUpdate(m.updates),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatus(api StatusSource) tea.Cmd {
	if api == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status, err := api.Status(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statusMsg(status)
	}
}

func waitForUpdate(updates <-chan client.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

func resync(r Replica) tea.Cmd {
	return func() tea.Msg {
		if err := r.Resync(); err != nil {
			return errMsg(err)
		}
		return nil
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStatus(m.api)
		case "s":
			return m, resync(m.replica)
		}

	case tickMsg:
		// per-interval change count feeds the sparkline
		rate := float64(m.changes)
		m.changes = 0
		m.rateHistory = appendToHistory(m.rateHistory, rate)
		if rate > m.ratePeak {
			m.ratePeak = rate
		}
		return m, tea.Batch(tick(m.interval), fetchStatus(m.api))

	case statusMsg:
		m.status = apihttp.StatusResponse(msg)
		m.hasStatus = true
		m.lastUpdate = time.Now()
		if !errors.Is(m.err, ErrDisconnected) {
			m.err = nil
		}
		return m, nil

	case updateMsg:
		u := client.Update(msg)
		if u.Kind == client.UpdateChange {
			m.changes++
		}
		m.events = append(m.events, FormatUpdate(u))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, waitForUpdate(m.updates)

	case closedMsg:
		m.err = ErrDisconnected
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" canopy Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s %s   %s\n",
		m.statusBadge(),
		dimStyle.Render("Session:"), valueStyle.Render(fmt.Sprintf("%d", m.replica.Session())),
		dimStyle.Render("Hash:"), valueStyle.Render(fmt.Sprintf("%016x", m.replica.Hash())),
		dimStyle.Render(lastUpdateStr)))
	if m.err != nil {
		b.WriteString(errorStyle.Render("⚠ "+m.err.Error()) + "\n")
	}

	if m.hasStatus {
		b.WriteString("\n" + sectionStyle.Render("┃ Server") + "\n")
		b.WriteString(labelStyle.Render("  Version: ") + valueStyle.Render(m.status.Version) +
			labelStyle.Render("  Uptime: ") + valueStyle.Render(m.status.Uptime) + "\n")
		b.WriteString(labelStyle.Render("  Clients: ") + valueStyle.Render(fmt.Sprintf("%d", m.status.Clients)) +
			labelStyle.Render("  Nodes: ") + valueStyle.Render(fmt.Sprintf("%d", m.status.Nodes)) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Activity") + "\n")
	current := 0.0
	if n := len(m.rateHistory); n > 0 {
		current = m.rateHistory[n-1]
	}
	b.WriteString(labelStyle.Render("  Changes: ") +
		valueStyle.Render(FormatRate(current, m.interval)) +
		"   " + createSparkline(m.rateHistory) + "\n")
	load := current / m.ratePeak
	if load > 1.0 {
		load = 1.0
	}
	b.WriteString(labelStyle.Render("  Load: ") + m.activity.ViewAs(load) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", load*100)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Tree") + "\n")
	for _, line := range TreeLines(m.replica.View(), maxTreeLines) {
		b.WriteString("  " + line + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Recent") + "\n")
	if len(m.events) == 0 {
		b.WriteString(dimStyle.Render("  waiting for changes") + "\n")
	}
	for _, e := range m.events {
		b.WriteString("  " + e + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[s]") + footerStyle.Render(" resync  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}
