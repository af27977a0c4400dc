package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/refilltrack/refilltrack/internal/config"
	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/util"
)

func TestApp_InitialState(t *testing.T) {
	app, _ := newTestApp(t)

	if app.currentModule != ModuleDashboard {
		t.Errorf("currentModule = %s, want %s", app.currentModule, ModuleDashboard)
	}
	if app.quitting {
		t.Error("quitting = true, want false")
	}
	if app.receive.IsFocused() {
		t.Error("receive prompt open, want closed")
	}
	if app.dispatcher == nil {
		t.Error("dispatcher = nil, want one when a queue is given")
	}
}

func TestApp_View_NotReady(t *testing.T) {
	app, _ := newTestApp(t)
	app.ready = false

	if output := app.View(); !strings.Contains(output, "Initializing") {
		t.Error("expected initialization message when not ready")
	}
}

func TestApp_View_Quitting(t *testing.T) {
	app, _ := newTestApp(t)
	app.quitting = true

	if output := app.View(); !strings.Contains(output, "shutting down") {
		t.Error("expected shutdown message when quitting")
	}
}

func TestApp_View_Dashboard(t *testing.T) {
	app, env := newTestApp(t)
	if _, err := env.svc.ReceiveRefill(context.Background(), 30); err != nil {
		t.Fatal(err)
	}
	drive(t, app, app.loadStatus())

	output := app.View()
	for _, want := range []string{"MEDICATION SUPPLY", "Pills left", "30", "IDLE", "Low supply"} {
		if !strings.Contains(output, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestApp_TakeDose(t *testing.T) {
	app, env := newTestApp(t)
	if _, err := env.svc.ReceiveRefill(context.Background(), 8); err != nil {
		t.Fatal(err)
	}

	press(t, app, "t")

	if app.status == nil {
		t.Fatal("status not loaded after action")
	}
	if got := app.status.State.CurrentPillCount; got != 7 {
		t.Errorf("CurrentPillCount = %d, want 7", got)
	}
	if !app.status.Decision.InventoryLow {
		t.Error("InventoryLow = false at 7 days, want true")
	}
	if len(app.alerts) == 0 || !strings.Contains(app.alerts[0].Message, "Dose logged") {
		t.Errorf("alerts = %+v, want a dose confirmation", app.alerts)
	}
}

func TestApp_ReceivePrompt(t *testing.T) {
	app, _ := newTestApp(t)

	press(t, app, "f")
	if !app.receive.IsFocused() {
		t.Fatal("receive prompt closed after f, want open")
	}

	for _, key := range []string{"3", "x", "0"} {
		press(t, app, key)
	}
	_, cmd := app.Update(specialKeyMsg(tea.KeyBackspace))
	drive(t, app, cmd)
	press(t, app, "5")

	if app.receive.Value() != "35" {
		t.Errorf("receive.Value() = %q, want %q", app.receive.Value(), "35")
	}
	if !strings.Contains(app.View(), "PILLS RECEIVED") {
		t.Error("receive prompt not rendered")
	}

	_, cmd = app.Update(specialKeyMsg(tea.KeyEnter))
	drive(t, app, cmd)

	if app.receive.IsFocused() {
		t.Error("receive prompt still open after enter")
	}
	if got := app.status.State.CurrentPillCount; got != 35 {
		t.Errorf("CurrentPillCount = %d, want 35", got)
	}
}

func TestApp_ReceivePrompt_ZeroCount(t *testing.T) {
	app, _ := newTestApp(t)

	press(t, app, "f")
	press(t, app, "0")
	_, cmd := app.Update(specialKeyMsg(tea.KeyEnter))
	drive(t, app, cmd)

	if len(app.alerts) == 0 || !strings.Contains(app.alerts[0].Message, "greater than zero") {
		t.Errorf("alerts = %+v, want invalid count warning", app.alerts)
	}
	if app.status != nil && app.status.State.CurrentPillCount != 0 {
		t.Errorf("CurrentPillCount = %d, want 0", app.status.State.CurrentPillCount)
	}
}

func TestApp_ReceivePrompt_Cancel(t *testing.T) {
	app, _ := newTestApp(t)

	press(t, app, "f")
	press(t, app, "9")
	_, cmd := app.Update(specialKeyMsg(tea.KeyEscape))
	drive(t, app, cmd)

	if app.receive.IsFocused() || app.receive.Value() != "" {
		t.Errorf("receive prompt still open: focused=%v input=%q", app.receive.IsFocused(), app.receive.Value())
	}
}

func TestApp_RequestRefill(t *testing.T) {
	app, env := newTestApp(t)

	press(t, app, "r")

	if app.status.Decision.State != models.StateWaiting {
		t.Errorf("State = %v, want %v", app.status.Decision.State, models.StateWaiting)
	}
	if !strings.Contains(app.View(), "WAITING") {
		t.Error("view does not show the waiting state")
	}

	pending, err := env.queue.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != reminders.KeyFollowUp {
		t.Errorf("pending = %v, want [%s]", pending, reminders.KeyFollowUp)
	}
}

func TestApp_DueReminderShowsInAlertBar(t *testing.T) {
	app, env := newTestApp(t)

	press(t, app, "f")
	press(t, app, "5")
	_, cmd := app.Update(specialKeyMsg(tea.KeyEnter))
	drive(t, app, cmd)

	env.clock.Advance(2 * time.Minute)
	drive(t, app, app.dispatch())

	if len(app.alerts) == 0 || app.alerts[0].Level != AlertWarning {
		t.Fatalf("alerts = %+v, want a delivered reminder", app.alerts)
	}
	if !strings.Contains(app.alerts[0].Message, "Medication running low") {
		t.Errorf("alert = %q, want the low supply reminder", app.alerts[0].Message)
	}
	if !strings.Contains(app.renderAlertBar(), "REMINDER") {
		t.Error("alert bar does not show the reminder")
	}
}

func TestApp_NextDay_DeliversFollowUp(t *testing.T) {
	app, env := newTestApp(t)

	press(t, app, "r")
	for i := 0; i < reminders.FollowUpGraceDays; i++ {
		press(t, app, "n")
	}

	if want := env.clock.Now(); !want.Equal(app.clock.Now()) {
		t.Fatal("app clock and test clock diverged")
	}

	found := false
	for _, alert := range app.alerts {
		if strings.Contains(alert.Message, "Did your refill arrive?") {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %+v, want the follow-up after %d days", app.alerts, reminders.FollowUpGraceDays)
	}

	n, err := env.queue.Get(context.Background(), reminders.KeyFollowUp)
	if err != nil {
		t.Fatal(err)
	}
	if want := env.clock.Now().Add(util.Day); !n.FireAt.Equal(want) {
		t.Errorf("next follow-up FireAt = %v, want %v", n.FireAt, want)
	}
}

func TestApp_NextDay_RequiresManualClock(t *testing.T) {
	env := newTestEnv(t)
	app := New(env.svc, env.queue, env.cfg, util.SystemClock{})
	app.width, app.height, app.ready = 120, 40, true

	press(t, app, "n")

	if len(app.alerts) == 0 || !strings.Contains(app.alerts[0].Message, "not simulated") {
		t.Errorf("alerts = %+v, want a simulated clock warning", app.alerts)
	}
}

func TestApp_Navigation(t *testing.T) {
	app, _ := newTestApp(t)

	tests := []struct {
		key  tea.KeyMsg
		want Module
	}{
		{keyMsg("h"), ModuleHistory},
		{keyMsg("?"), ModuleHelp},
		{specialKeyMsg(tea.KeyEscape), ModuleHistory},
		{specialKeyMsg(tea.KeyF2), ModuleDashboard},
		{specialKeyMsg(tea.KeyF3), ModuleHistory},
		{specialKeyMsg(tea.KeyF1), ModuleHelp},
		{keyMsg("d"), ModuleDashboard},
	}

	for _, tt := range tests {
		app.Update(tt.key)
		if app.currentModule != tt.want {
			t.Errorf("after %q currentModule = %s, want %s", tt.key.String(), app.currentModule, tt.want)
		}
	}
}

func TestApp_HistoryView(t *testing.T) {
	app, env := newTestApp(t)
	ctx := context.Background()

	if _, err := env.svc.RequestRefill(ctx); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(util.Day)
	if _, err := env.svc.ReceiveRefill(ctx, 60); err != nil {
		t.Fatal(err)
	}
	drive(t, app, app.loadStatus())

	press(t, app, "h")
	output := app.View()

	for _, want := range []string{"REFILL HISTORY", "REQUESTED", "RECEIVED", "60"} {
		if !strings.Contains(output, want) {
			t.Errorf("history view missing %q", want)
		}
	}
	if strings.Index(output, "RECEIVED") > strings.Index(output, "REQUESTED") {
		t.Error("history is not newest first")
	}
}

func TestApp_HistoryScroll(t *testing.T) {
	app, env := newTestApp(t)
	ctx := context.Background()

	for _, count := range []int{30, 40, 50} {
		if _, err := env.svc.ReceiveRefill(ctx, count); err != nil {
			t.Fatal(err)
		}
		env.clock.Advance(util.Day)
	}
	drive(t, app, app.loadStatus())

	press(t, app, "h")
	if got := app.history.SelectedRow(); len(got) != 3 || got[2] != "50" {
		t.Fatalf("SelectedRow() = %v, want newest receipt first", got)
	}

	press(t, app, "j")
	press(t, app, "j")
	if got := app.history.SelectedRow(); got[2] != "30" {
		t.Errorf("SelectedRow() after two downs = %v, want oldest receipt", got)
	}

	press(t, app, "k")
	if got := app.history.SelectedRow(); got[2] != "40" {
		t.Errorf("SelectedRow() after up = %v, want middle receipt", got)
	}
}

func TestApp_QuitConfirm(t *testing.T) {
	app, _ := newTestApp(t)

	app.Update(keyMsg("q"))
	if !app.showConfirm {
		t.Fatal("showConfirm = false after q")
	}
	if !strings.Contains(app.View(), "CONFIRM EXIT") {
		t.Error("confirm dialog not rendered")
	}

	app.Update(keyMsg("n"))
	if app.showConfirm {
		t.Error("showConfirm = true after n")
	}

	app.Update(keyMsg("q"))
	_, cmd := app.Update(keyMsg("y"))
	if !app.quitting {
		t.Error("quitting = false after y")
	}
	if cmd == nil {
		t.Error("expected quit command")
	}
}

func TestApp_OnTick_DayChangeReevaluates(t *testing.T) {
	app, env := newTestApp(t)
	app.lastEval = env.clock.Now()
	app.lastDispatch = time.Now()

	if cmds := app.onTick(time.Now()); len(cmds) != 0 {
		t.Errorf("onTick() = %d commands on the same day, want 0", len(cmds))
	}

	env.clock.Advance(util.Day)
	if cmds := app.onTick(time.Now()); len(cmds) != 1 {
		t.Errorf("onTick() = %d commands after a day change, want 1", len(cmds))
	}
}

func TestApp_AddAlert_KeepsTen(t *testing.T) {
	app, _ := newTestApp(t)

	for i := 0; i < 15; i++ {
		app.AddAlert(AlertInfo, "alert")
	}
	if len(app.alerts) != 10 {
		t.Errorf("len(alerts) = %d, want 10", len(app.alerts))
	}

	app.ClearAlerts()
	if len(app.alerts) != 0 {
		t.Errorf("len(alerts) = %d after clear, want 0", len(app.alerts))
	}
}

func TestApp_Themes(t *testing.T) {
	for _, scheme := range []config.ColorScheme{config.ColorSchemeGreen, config.ColorSchemeAmber, config.ColorSchemeWhite} {
		t.Run(string(scheme), func(t *testing.T) {
			if NewTheme(scheme) == nil {
				t.Error("NewTheme() = nil")
			}
		})
	}
}
