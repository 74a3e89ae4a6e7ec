package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fyrsmithlabs/taskpilot/internal/taskgraph"
)

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

// StatusBadge renders the project status with a severity color.
func StatusBadge(s taskgraph.ProjectStatus) string {
	switch s.Kind {
	case taskgraph.ProjectCompletedGoal:
		return healthyStyle.Render("✓ " + s.String())
	case taskgraph.ProjectExecutingTask, taskgraph.ProjectReadyToExecute, taskgraph.ProjectPlanning:
		return valueStyle.Render("▶ " + s.String())
	case taskgraph.ProjectSelfCorrecting, taskgraph.ProjectPaused, taskgraph.ProjectAwaitingHumanInput:
		return warningStyle.Render("⚠ " + s.String())
	case taskgraph.ProjectError:
		return errorStyle.Render("✗ " + s.String())
	}
	return dimStyle.Render(s.String())
}

func taskStyle(s taskgraph.Status) lipgloss.Style {
	switch s.Kind {
	case taskgraph.StatusCompletedSuccess:
		return healthyStyle
	case taskgraph.StatusCompletedWithWarnings, taskgraph.StatusAwaitingHumanClarification, taskgraph.StatusBlockedByError:
		return warningStyle
	case taskgraph.StatusFailed:
		return errorStyle
	case taskgraph.StatusInProgress:
		return valueStyle
	}
	return dimStyle
}

// Progress returns the number of successfully completed tasks and the total.
func Progress(tasks []taskgraph.Task) (done, total int) {
	for i := range tasks {
		if tasks[i].Status.Is(taskgraph.StatusCompletedSuccess) {
			done++
		}
	}
	return done, len(tasks)
}

// TaskTable renders tasks as a bordered table.
func TaskTable(tasks []taskgraph.Task) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "TYPE", "STATUS", "ATTEMPTS", "DESCRIPTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return labelStyle.Bold(true).Padding(0, 1)
			}
			if col == 2 && row >= 0 && row < len(tasks) {
				return taskStyle(tasks[row].Status).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, task := range tasks {
		status := string(task.Status.Kind)
		if task.Status.Reason != "" {
			status += ": " + Truncate(firstLine(task.Status.Reason), 40)
		}
		t.Row(task.ID, string(task.Type), status, fmt.Sprintf("%d", len(task.Attempts)), Truncate(task.Description, 50))
	}
	return t.Render()
}

// Summary renders a header, progress line and task table for a session.
func Summary(s *taskgraph.Session) string {
	done, total := Progress(s.Tasks)
	var b strings.Builder
	b.WriteString(headerStyle.Render(" taskpilot ") + "  " + StatusBadge(s.Status) + "\n")
	b.WriteString(labelStyle.Render("Project: ") + valueStyle.Render(s.ProjectRoot) + "\n")
	b.WriteString(labelStyle.Render("Tasks:   ") + valueStyle.Render(fmt.Sprintf("%d/%d completed", done, total)) + "\n")
	if len(s.Tasks) > 0 {
		b.WriteString(TaskTable(s.Tasks) + "\n")
	}
	return b.String()
}

// Truncate shortens s to n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func levelStyle(l taskgraph.LogLevel) lipgloss.Style {
	switch l {
	case taskgraph.LevelError:
		return errorStyle
	case taskgraph.LevelWarn, taskgraph.LevelHumanInput:
		return warningStyle
	case taskgraph.LevelInfo:
		return healthyStyle
	}
	return dimStyle
}
