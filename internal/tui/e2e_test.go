package tui

import (
	"bytes"
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
)

// newE2EApp creates an App for teatest, which sends its own WindowSizeMsg.
func newE2EApp(t *testing.T) (*App, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return New(env.svc, env.queue, env.cfg, env.clock), env
}

// waitFor is a convenience wrapper around teatest.WaitFor with a standard timeout.
func waitFor(t *testing.T, tm *teatest.TestModel, text string) {
	t.Helper()
	teatest.WaitFor(t, tm.Output(), func(bts []byte) bool {
		return bytes.Contains(bts, []byte(text))
	}, teatest.WithDuration(5*time.Second))
}

func TestE2E_DashboardOnStartup(t *testing.T) {
	app, _ := newE2EApp(t)
	tm := teatest.NewTestModel(t, app, teatest.WithInitialTermSize(120, 40))
	t.Cleanup(func() { tm.Quit() })

	waitFor(t, tm, "MEDICATION SUPPLY")
}

func TestE2E_ReceiveThenTakeDose(t *testing.T) {
	app, _ := newE2EApp(t)
	tm := teatest.NewTestModel(t, app, teatest.WithInitialTermSize(120, 40))
	t.Cleanup(func() { tm.Quit() })

	waitFor(t, tm, "MEDICATION SUPPLY")

	tm.Type("f")
	waitFor(t, tm, "PILLS RECEIVED")
	tm.Type("30")
	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})
	waitFor(t, tm, "Refill received: 30 pills")

	tm.Type("t")
	waitFor(t, tm, "29 pills left")
}

func TestE2E_RequestRefillShowsWaiting(t *testing.T) {
	app, env := newE2EApp(t)
	tm := teatest.NewTestModel(t, app, teatest.WithInitialTermSize(120, 40))
	t.Cleanup(func() { tm.Quit() })

	waitFor(t, tm, "MEDICATION SUPPLY")

	tm.Type("r")
	waitFor(t, tm, "Refill requested")

	state, err := env.svc.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !state.IsWaitingForRefill() {
		t.Error("IsWaitingForRefill() = false after r")
	}
}

func TestE2E_QuitFlow(t *testing.T) {
	app, _ := newE2EApp(t)
	tm := teatest.NewTestModel(t, app, teatest.WithInitialTermSize(120, 40))

	waitFor(t, tm, "MEDICATION SUPPLY")

	tm.Type("q")
	waitFor(t, tm, "CONFIRM EXIT")
	tm.Type("y")

	m := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second))
	final, ok := m.(*App)
	if !ok {
		t.Fatalf("final model is %T, want *App", m)
	}
	if !final.quitting {
		t.Error("quitting = false after confirm")
	}
}
