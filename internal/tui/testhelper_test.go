package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/refilltrack/refilltrack/internal/config"
	"github.com/refilltrack/refilltrack/internal/repository"
	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/testutil"
	"github.com/refilltrack/refilltrack/internal/util"
)

type testEnv struct {
	svc   *inventory.Service
	queue *repository.NotificationRepository
	clock *util.ManualClock
	cfg   *config.Config
}

// newTestEnv wires the service to a migrated in-memory database and a manual
// clock pinned at testutil.Epoch.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	cfg := config.Default()
	clock := util.NewManualClock(testutil.Epoch)

	queue := repository.NewNotificationRepository(db.SQL())
	scheduler := reminders.NewScheduler(queue, time.Minute, nil)
	svc := inventory.NewService(repository.NewInventoryRepository(db.SQL()), scheduler, cfg, clock, nil)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	return &testEnv{svc: svc, queue: queue, clock: clock, cfg: cfg}
}

// newTestApp creates an App sized 120x40 and marked ready.
func newTestApp(t *testing.T) (*App, *testEnv) {
	t.Helper()

	env := newTestEnv(t)
	app := New(env.svc, env.queue, env.cfg, env.clock)
	app.width = 120
	app.height = 40
	app.ready = true

	return app, env
}

// drive runs cmd and feeds every resulting message back into the app until
// no commands remain. Ticks are dropped so the loop terminates.
func drive(t *testing.T, app *App, cmd tea.Cmd) {
	t.Helper()

	queue := []tea.Cmd{cmd}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}

		switch msg := next().(type) {
		case nil, tea.QuitMsg, tickMsg:
		case tea.BatchMsg:
			queue = append(queue, msg...)
		default:
			_, follow := app.Update(msg)
			queue = append(queue, follow)
		}
	}
}

// press sends a key and drives whatever it triggers.
func press(t *testing.T, app *App, key string) {
	t.Helper()
	_, cmd := app.Update(keyMsg(key))
	drive(t, app, cmd)
}

// keyMsg creates a tea.KeyMsg for a regular character key.
func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

// specialKeyMsg creates a tea.KeyMsg for a special key type.
func specialKeyMsg(keyType tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: keyType}
}
