package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// KeyMap defines all key bindings for the dashboard.
type KeyMap struct {
	// Inventory actions
	TakeDose Key
	Request  Key
	Receive  Key
	Evaluate Key
	NextDay  Key

	// Views
	Dashboard Key
	History   Key
	Help      Key
	Back      Key
	Quit      Key
	Up        Key
	Down      Key

	// Dialogs and count entry
	Confirm Key
	Deny    Key
	Submit  Key
}

// Key represents a key binding.
type Key struct {
	Keys    []string
	Help    string
	Enabled bool
}

func bind(help string, keys ...string) Key {
	return Key{Keys: keys, Help: help, Enabled: true}
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		TakeDose: bind("take", "t"),
		Request:  bind("request", "r"),
		Receive:  bind("receive", "f"),
		Evaluate: bind("evaluate", "e"),
		NextDay:  bind("next day", "n"),

		Dashboard: bind("dashboard", "f2", "d"),
		History:   bind("history", "f3", "h"),
		Help:      bind("help", "f1", "?"),
		Back:      bind("back", "esc"),
		Quit:      bind("quit", "q", "ctrl+c", "f10"),
		Up:        bind("up", "up", "k"),
		Down:      bind("down", "down", "j"),

		Confirm: bind("yes", "y", "Y", "enter"),
		Deny:    bind("no", "n", "N", "esc"),
		Submit:  bind("confirm", "enter"),
	}
}

// Matches checks if a key message matches this key binding.
func (k Key) Matches(msg tea.KeyMsg) bool {
	if !k.Enabled {
		return false
	}

	keyStr := msg.String()
	for _, key := range k.Keys {
		if keyStr == key {
			return true
		}
	}
	return false
}

// MatchesAny checks if a key message matches any of the provided key bindings.
func MatchesAny(msg tea.KeyMsg, keys ...Key) bool {
	for _, k := range keys {
		if k.Matches(msg) {
			return true
		}
	}
	return false
}

// IsAction reports whether msg triggers an inventory action.
func (km KeyMap) IsAction(msg tea.KeyMsg) bool {
	return MatchesAny(msg, km.TakeDose, km.Request, km.Receive, km.Evaluate, km.NextDay)
}

// StatusBarHelp returns the help text for the status bar.
func (km KeyMap) StatusBarHelp() string {
	var parts []string
	for _, k := range []Key{km.TakeDose, km.Request, km.Receive, km.Evaluate, km.NextDay, km.History, km.Help, km.Quit} {
		parts = append(parts, "["+k.Keys[0]+"]"+k.Help)
	}
	return strings.Join(parts, " ")
}
