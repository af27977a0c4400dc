package components

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Input is a single-line text field with a cursor. An optional accept
// function filters which characters may be typed.
type Input struct {
	label     string
	value     string
	width     int
	focused   bool
	cursorPos int
	maxLength int
	accept    func(r rune) bool
	err       string

	labelStyle lipgloss.Style
	valueStyle lipgloss.Style
	errStyle   lipgloss.Style
}

// NewInput creates a new input field.
func NewInput(label string) *Input {
	return &Input{
		label:      label,
		width:      8,
		maxLength:  100,
		labelStyle: lipgloss.NewStyle().Bold(true),
		valueStyle: lipgloss.NewStyle(),
		errStyle:   lipgloss.NewStyle().Bold(true),
	}
}

// NewCountInput creates a field that only accepts up to maxDigits digits.
func NewCountInput(label string, maxDigits int) *Input {
	return NewInput(label).
		SetMaxLength(maxDigits).
		SetWidth(maxDigits + 1).
		SetAccept(func(r rune) bool { return r >= '0' && r <= '9' })
}

// SetValue sets the input value.
func (i *Input) SetValue(v string) *Input {
	i.value = v
	i.cursorPos = len(v)
	return i
}

// SetWidth sets the input width.
func (i *Input) SetWidth(w int) *Input {
	i.width = w
	return i
}

// SetMaxLength sets the maximum input length.
func (i *Input) SetMaxLength(m int) *Input {
	i.maxLength = m
	return i
}

// SetAccept restricts typed characters to those accept allows.
func (i *Input) SetAccept(accept func(r rune) bool) *Input {
	i.accept = accept
	return i
}

// SetStyles sets the label, value and error styles.
func (i *Input) SetStyles(label, value, errStyle lipgloss.Style) *Input {
	i.labelStyle = label
	i.valueStyle = value
	i.errStyle = errStyle
	return i
}

// SetError sets an error message.
func (i *Input) SetError(e string) *Input {
	i.err = e
	return i
}

// Focus sets the focus state.
func (i *Input) Focus(focused bool) {
	i.focused = focused
	if focused && i.cursorPos > len(i.value) {
		i.cursorPos = len(i.value)
	}
}

// IsFocused returns the focus state.
func (i *Input) IsFocused() bool {
	return i.focused
}

// Value returns the current value.
func (i *Input) Value() string {
	return i.value
}

// Reset clears the value and error and drops focus.
func (i *Input) Reset() {
	i.value = ""
	i.cursorPos = 0
	i.err = ""
	i.focused = false
}

// Int parses the value as a base-10 integer.
func (i *Input) Int() (int, error) {
	return strconv.Atoi(strings.TrimSpace(i.value))
}

// HandleKey handles a key press.
func (i *Input) HandleKey(key string) {
	if !i.focused {
		return
	}

	switch key {
	case "backspace":
		if len(i.value) > 0 && i.cursorPos > 0 {
			i.value = i.value[:i.cursorPos-1] + i.value[i.cursorPos:]
			i.cursorPos--
		}
	case "delete":
		if i.cursorPos < len(i.value) {
			i.value = i.value[:i.cursorPos] + i.value[i.cursorPos+1:]
		}
	case "left":
		if i.cursorPos > 0 {
			i.cursorPos--
		}
	case "right":
		if i.cursorPos < len(i.value) {
			i.cursorPos++
		}
	case "home", "ctrl+a":
		i.cursorPos = 0
	case "end", "ctrl+e":
		i.cursorPos = len(i.value)
	default:
		if len(key) != 1 || len(i.value) >= i.maxLength {
			return
		}
		if i.accept != nil && !i.accept(rune(key[0])) {
			return
		}
		i.value = i.value[:i.cursorPos] + key + i.value[i.cursorPos:]
		i.cursorPos++
		i.err = ""
	}
}

// Render renders the input field.
func (i *Input) Render() string {
	display := i.value
	if i.focused {
		display = i.value[:i.cursorPos] + "_" + i.value[i.cursorPos:]
	}
	if n := len(display); n < i.width {
		display += strings.Repeat(" ", i.width-n)
	}

	result := i.labelStyle.Render(i.label+":") + " " + i.valueStyle.Render(display)
	if i.err != "" {
		result += " " + i.errStyle.Render(i.err)
	}
	return result
}
