// Package components provides reusable TUI components.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column defines a table column.
type Column struct {
	Title string
	Width int
	Align lipgloss.Position
}

// Table is a scrolling table with a selected row.
type Table struct {
	columns     []Column
	rows        [][]string
	selected    int
	offset      int
	visibleRows int
	focused     bool

	headerStyle   lipgloss.Style
	rowStyle      lipgloss.Style
	rowAltStyle   lipgloss.Style
	selectedStyle lipgloss.Style
	borderStyle   lipgloss.Style
}

// NewTable creates a new table with the given columns.
func NewTable(columns []Column) *Table {
	return &Table{
		columns:       columns,
		rows:          [][]string{},
		visibleRows:   10,
		headerStyle:   lipgloss.NewStyle().Bold(true),
		rowStyle:      lipgloss.NewStyle(),
		rowAltStyle:   lipgloss.NewStyle(),
		selectedStyle: lipgloss.NewStyle().Reverse(true),
		borderStyle:   lipgloss.NewStyle(),
	}
}

// SetRows replaces the table data, keeping the selection in range.
func (t *Table) SetRows(rows [][]string) {
	t.rows = rows
	t.clamp()
}

// SetVisibleRows sets the number of visible rows.
func (t *Table) SetVisibleRows(n int) {
	if n < 1 {
		n = 1
	}
	t.visibleRows = n
	t.clamp()
}

// SetStyles sets the table styles.
func (t *Table) SetStyles(header, row, rowAlt, selected, border lipgloss.Style) {
	t.headerStyle = header
	t.rowStyle = row
	t.rowAltStyle = rowAlt
	t.selectedStyle = selected
	t.borderStyle = border
}

// Focus sets the table focus state.
func (t *Table) Focus(focused bool) {
	t.focused = focused
}

// Selected returns the currently selected row index.
func (t *Table) Selected() int {
	return t.selected
}

// SelectedRow returns the currently selected row data.
func (t *Table) SelectedRow() []string {
	if t.selected >= 0 && t.selected < len(t.rows) {
		return t.rows[t.selected]
	}
	return nil
}

// MoveUp moves the selection up.
func (t *Table) MoveUp() {
	if t.selected > 0 {
		t.selected--
		if t.selected < t.offset {
			t.offset = t.selected
		}
	}
}

// MoveDown moves the selection down.
func (t *Table) MoveDown() {
	if t.selected < len(t.rows)-1 {
		t.selected++
		if t.selected >= t.offset+t.visibleRows {
			t.offset = t.selected - t.visibleRows + 1
		}
	}
}

// GoToTop goes to the first row.
func (t *Table) GoToTop() {
	t.selected = 0
	t.offset = 0
}

// GoToBottom goes to the last row.
func (t *Table) GoToBottom() {
	if len(t.rows) > 0 {
		t.selected = len(t.rows) - 1
		t.offset = max(t.selected-t.visibleRows+1, 0)
	}
}

func (t *Table) clamp() {
	if t.selected >= len(t.rows) {
		t.selected = max(len(t.rows)-1, 0)
	}
	if t.offset > t.selected {
		t.offset = t.selected
	}
	if t.selected >= t.offset+t.visibleRows {
		t.offset = t.selected - t.visibleRows + 1
	}
}

// Render renders the header, a rule and the visible rows. A position
// indicator is appended when not every row fits.
func (t *Table) Render() string {
	var b strings.Builder

	totalWidth := 0
	for _, col := range t.columns {
		totalWidth += col.Width + 3
	}

	b.WriteString(t.renderRow(t.headers(), t.headerStyle))
	b.WriteString("\n")
	b.WriteString(t.borderStyle.Render(strings.Repeat("─", totalWidth)))
	b.WriteString("\n")

	end := min(t.offset+t.visibleRows, len(t.rows))
	for i := t.offset; i < end; i++ {
		style := t.rowStyle
		switch {
		case i == t.selected && t.focused:
			style = t.selectedStyle
		case (i-t.offset)%2 == 1:
			style = t.rowAltStyle
		}
		b.WriteString(t.renderRow(t.rows[i], style))
		b.WriteString("\n")
	}

	if len(t.rows) > t.visibleRows {
		b.WriteString(t.borderStyle.Render(fmt.Sprintf("%d-%d of %d", t.offset+1, end, len(t.rows))))
	}

	return b.String()
}

func (t *Table) headers() []string {
	headers := make([]string, len(t.columns))
	for i, col := range t.columns {
		headers[i] = col.Title
	}
	return headers
}

func (t *Table) renderRow(cells []string, style lipgloss.Style) string {
	parts := make([]string, len(t.columns))

	for i, col := range t.columns {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}

		runes := []rune(cell)
		if len(runes) > col.Width {
			cell = string(runes[:col.Width-1]) + "…"
			runes = []rune(cell)
		}

		pad := col.Width - len(runes)
		switch col.Align {
		case lipgloss.Right:
			cell = strings.Repeat(" ", pad) + cell
		case lipgloss.Center:
			left := pad / 2
			cell = strings.Repeat(" ", left) + cell + strings.Repeat(" ", pad-left)
		default:
			cell += strings.Repeat(" ", pad)
		}

		parts[i] = style.Render(cell)
	}

	return " " + strings.Join(parts, " │ ") + " "
}

// Empty returns true if the table has no rows.
func (t *Table) Empty() bool {
	return len(t.rows) == 0
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int {
	return len(t.rows)
}
