// Package monitor renders orchestration sessions for the terminal: a live
// dashboard polling a taskpilot server and static summaries for saved
// checkpoints.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	api "github.com/fyrsmithlabs/taskpilot/internal/http"
	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	logLines        = 8
)

// Model is the bubbletea dashboard model.
type Model struct {
	serverURL  string
	client     *Client
	interval   time.Duration
	started    time.Time
	lastUpdate time.Time
	session    api.SessionResponse
	logs       []taskgraph.LogEntry
	err        error
	quitting   bool

	completedHistory []float64
	taskProgress     progress.Model
}

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		client:    NewClient(serverURL),
		interval:  interval,
		started:   time.Now(),
		taskProgress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		completedHistory: make([]float64, 0, historySize),
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

type tickMsg time.Time

type snapshotMsg struct {
	session api.SessionResponse
	logs    []taskgraph.LogEntry
}

type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetch(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		session, err := client.Session(ctx)
		if err != nil {
			return errMsg(err)
		}
		logs, err := client.Logs(ctx, logLines)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg{session: session, logs: logs.Entries}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetch(m.client),
		)

	case snapshotMsg:
		m.session = msg.session
		m.logs = msg.logs
		done, _ := Progress(msg.session.Tasks)
		m.completedHistory = appendToHistory(m.completedHistory, float64(done))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("taskpilot monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach taskpilot server") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Start one with: taskpilot serve --project <dir>") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	running := dimStyle.Render("idle")
	if m.session.Running {
		running = healthyStyle.Render("running")
	}

	content += headerStyle.Render(" taskpilot monitor ") + "\n"
	content += fmt.Sprintf("%s   %s   %s   %s   %s\n",
		StatusBadge(m.session.Status),
		running,
		dimStyle.Render("Watching:"),
		valueStyle.Render(FormatDuration(int64(time.Since(m.started).Seconds()))),
		dimStyle.Render(lastUpdateStr))
	content += labelStyle.Render("Project: ") + valueStyle.Render(m.session.ProjectRoot) + "\n"

	done, total := Progress(m.session.Tasks)
	ratio := 0.0
	if total > 0 {
		ratio = float64(done) / float64(total)
	}
	content += "\n" + sectionStyle.Render("┃ Progress") + "\n"
	content += labelStyle.Render("  Completed: ") +
		valueStyle.Render(fmt.Sprintf("%d/%d", done, total)) +
		"   " + createSparkline(m.completedHistory) + "\n"
	content += labelStyle.Render("  ") + m.taskProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratio*100)) + "\n"

	if len(m.session.Tasks) > 0 {
		content += "\n" + sectionStyle.Render("┃ Tasks") + "\n"
		content += TaskTable(m.session.Tasks) + "\n"
	}

	content += "\n" + sectionStyle.Render("┃ Recent log") + "\n"
	if len(m.logs) == 0 {
		content += dimStyle.Render("  no entries") + "\n"
	}
	for _, e := range m.logs {
		task := ""
		if e.TaskID != "" {
			task = labelStyle.Render("["+e.TaskID+"] ")
		}
		content += dimStyle.Render("  "+e.Timestamp.Format("15:04:05")+" ") +
			levelStyle(e.Level).Render(fmt.Sprintf("%-5s", e.Level)) + " " +
			task + Truncate(firstLine(e.Message), 80) + "\n"
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}
