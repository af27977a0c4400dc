package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/refilltrack/refilltrack/internal/services/forecast"
)

// NarrowWidth is the terminal width below which panels stack vertically.
const NarrowWidth = 80

// Panel renders a bordered panel with its title set into the top border.
func (t *Theme) Panel(title, content string, width int) string {
	body := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderTop(false).
		BorderForeground(t.SecondaryColor).
		Width(max(width-2, 1)).
		Padding(0, 1).
		Render(content)

	border := lipgloss.RoundedBorder()
	bodyWidth := lipgloss.Width(body)
	edge := lipgloss.NewStyle().Foreground(t.SecondaryColor)

	label := ""
	if title != "" {
		label = t.Accent.Bold(true).Render(" " + title + " ")
	}
	fill := max(bodyWidth-3-lipgloss.Width(label), 0)
	top := edge.Render(border.TopLeft+border.Top) + label +
		edge.Render(strings.Repeat(border.Top, fill)+border.TopRight)

	return top + "\n" + body
}

// SideBySide renders two blocks next to each other, stacking them when they
// do not fit in totalWidth.
func SideBySide(left, right string, totalWidth, gap int) string {
	leftWidth := lipgloss.Width(left)
	if leftWidth+lipgloss.Width(right)+gap > totalWidth {
		return left + "\n" + right
	}

	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")
	rows := max(len(leftLines), len(rightLines))

	var b strings.Builder
	for i := 0; i < rows; i++ {
		var l, r string
		if i < len(leftLines) {
			l = leftLines[i]
		}
		if i < len(rightLines) {
			r = rightLines[i]
		}

		b.WriteString(PadRight(l, leftWidth+gap))
		b.WriteString(r)
		if i < rows-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// SupplyBar renders days of supply against a full window of windowDays,
// colored by forecast status.
func (t *Theme) SupplyBar(days, windowDays, width int, status forecast.Status) string {
	if windowDays <= 0 {
		windowDays = 1
	}
	ratio := float64(days) / float64(windowDays)
	ratio = min(max(ratio, 0), 1)

	barWidth := max(width-2, 4)
	filled := int(ratio * float64(barWidth))
	bar := "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"

	return t.ForecastStyle(status).Render(bar)
}

// Truncate shortens s to maxWidth, ending with an ellipsis when cut.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	if maxWidth == 1 || len(runes) < maxWidth {
		return string(runes[:min(maxWidth, len(runes))])
	}
	return string(runes[:maxWidth-1]) + "…"
}

// PadRight pads s with spaces to width.
func PadRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
