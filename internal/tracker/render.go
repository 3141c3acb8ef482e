package tracker

import (
	"fmt"
	"strings"
	"time"

	"devgroup-bot/internal/domain"
)

const barWidth = 20

// Render produces the full status message body for one tracker. Pure
// function over a task snapshot, so it renders identically regardless of
// which goroutine triggered the edit.
func Render(kind, userDisplay, groupDisplay string, tasks []*Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📦 %s tasks for %s\n", kind, userDisplay)
	if groupDisplay != "" {
		fmt.Fprintf(&b, "👥 %s\n", groupDisplay)
	}

	if len(tasks) == 0 {
		b.WriteString("\nNo active transfers.")
		return b.String()
	}
	if len(tasks) > 1 {
		fmt.Fprintf(&b, "⬇️ %d transfers in flight\n", len(tasks))
	}

	for _, task := range tasks {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s\n", stageIcon(task.Stage), task.Label)
		fmt.Fprintf(&b, "[%s] %5.1f%%\n", renderBar(task.Percent), task.Percent)
		b.WriteString(renderCounters(task))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderBar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func renderCounters(task *Task) string {
	if task.Total > 0 {
		line := fmt.Sprintf("%s / %s", formatBytes(task.Downloaded), formatBytes(task.Total))
		if task.SpeedBps > 0 {
			line += fmt.Sprintf(" @ %s/s", formatBytes(int64(task.SpeedBps)))
			remaining := task.Total - task.Downloaded
			if remaining > 0 {
				eta := time.Duration(float64(remaining) / task.SpeedBps * float64(time.Second)).Round(time.Second)
				line += fmt.Sprintf(" · ETA %s", eta)
			}
		}
		return line
	}

	line := fmt.Sprintf("%s so far", formatBytes(task.Downloaded))
	if task.SpeedBps > 0 {
		line += fmt.Sprintf(" @ %s/s", formatBytes(int64(task.SpeedBps)))
	}
	return line
}

func stageIcon(stage domain.Stage) string {
	switch stage {
	case domain.StageUpload:
		return "📤"
	case domain.StageDone:
		return "✅"
	case domain.StageError:
		return "❌"
	default:
		return "📥"
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
