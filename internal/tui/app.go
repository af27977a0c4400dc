package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/refilltrack/refilltrack/internal/config"
	"github.com/refilltrack/refilltrack/internal/models"
	"github.com/refilltrack/refilltrack/internal/services/delivery"
	"github.com/refilltrack/refilltrack/internal/services/inventory"
	"github.com/refilltrack/refilltrack/internal/services/reminders"
	"github.com/refilltrack/refilltrack/internal/tui/components"
	"github.com/refilltrack/refilltrack/internal/util"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// MaxContentWidth is the maximum width for content display
const MaxContentWidth = 120

// maxCountDigits bounds the refill count typed into the receive prompt.
const maxCountDigits = 4

// Module is a screen of the dashboard.
type Module string

const (
	ModuleDashboard Module = "dashboard"
	ModuleHistory   Module = "history"
	ModuleHelp      Module = "help"
)

// App is the main Bubble Tea application model.
type App struct {
	svc        *inventory.Service
	dispatcher *delivery.Dispatcher
	inbox      *alertInbox
	config     *config.Config
	clock      util.Clock

	pollInterval time.Duration
	lastDispatch time.Time
	lastEval     time.Time

	// UI state
	theme       *Theme
	keys        KeyMap
	width       int
	height      int
	ready       bool
	quitting    bool
	showConfirm bool

	currentModule  Module
	previousModule Module

	receive *components.Input
	history *components.Table

	status *inventory.Status
	alerts []Alert
}

// Alert is a line in the alert bar.
type Alert struct {
	Level   AlertLevel
	Message string
	Time    time.Time
}

// AlertLevel indicates the severity of an alert.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertWarning
	AlertCritical
)

// alertInbox is the Deliverer that turns due notifications into alerts.
type alertInbox struct {
	mu        sync.Mutex
	delivered []models.Notification
}

func (b *alertInbox) Deliver(_ context.Context, n models.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered = append(b.delivered, n)
	return nil
}

func (b *alertInbox) drain() []models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.delivered
	b.delivered = nil
	return out
}

type tickMsg time.Time

type statusMsg struct {
	status *inventory.Status
	err    error
}

type actionMsg struct {
	op     string
	result *inventory.Result
	err    error
}

type deliveredMsg struct {
	notifications []models.Notification
	err           error
}

// dayAdvancedMsg carries what came due during a simulated day and the
// evaluation that followed.
type dayAdvancedMsg struct {
	delivered deliveredMsg
	action    actionMsg
}

// New creates the dashboard. queue may be nil, in which case due
// notifications are not shown.
func New(svc *inventory.Service, queue delivery.Queue, cfg *config.Config, clock util.Clock) *App {
	if clock == nil {
		clock = util.SystemClock{}
	}

	timing, err := cfg.Notifications.Timing()
	if err != nil {
		timing = config.Timing{PollInterval: 30 * time.Second}
	}

	app := &App{
		svc:           svc,
		config:        cfg,
		clock:         clock,
		pollInterval:  timing.PollInterval,
		theme:         NewTheme(cfg.Display.ColorScheme),
		keys:          DefaultKeyMap(),
		currentModule: ModuleDashboard,
		alerts:        []Alert{},
	}

	app.receive = components.NewCountInput("PILLS RECEIVED", maxCountDigits).
		SetStyles(app.theme.Label, app.theme.Input, app.theme.AlertWarn)
	app.history = components.NewTable([]components.Column{
		{Title: "DATE", Width: 18},
		{Title: "EVENT", Width: 10},
		{Title: "PILLS", Width: 6, Align: lipgloss.Right},
	})
	app.history.SetStyles(app.theme.TableHeader, app.theme.Primary, app.theme.Accent, app.theme.TableSelected, app.theme.Muted)
	app.history.Focus(true)

	if queue != nil {
		app.inbox = &alertInbox{}
		app.dispatcher = delivery.NewDispatcher(queue, app.inbox, clock, delivery.Options{
			MaxAttempts:    1,
			InitialBackoff: timing.InitialBackoff,
			MaxBackoff:     timing.MaxBackoff,
		}, slog.Default())
	}

	return app
}

// Init implements tea.Model. Opening the dashboard re-evaluates reminders.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		a.runAction("startup", a.svc.Evaluate),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) loadStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := a.svc.Status(context.Background())
		return statusMsg{status: status, err: err}
	}
}

func (a *App) runAction(op string, fn func(ctx context.Context) (*inventory.Result, error)) tea.Cmd {
	return func() tea.Msg {
		result, err := fn(context.Background())
		return actionMsg{op: op, result: result, err: err}
	}
}

func (a *App) dispatch() tea.Cmd {
	if a.dispatcher == nil {
		return nil
	}
	return func() tea.Msg {
		_, err := a.dispatcher.DispatchDue(context.Background())
		return deliveredMsg{notifications: a.inbox.drain(), err: err}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		return a, nil

	case tickMsg:
		return a, tea.Batch(append(a.onTick(time.Time(msg)), tickCmd())...)

	case statusMsg:
		if msg.err != nil {
			a.AddAlert(AlertWarning, "Failed to load status: "+msg.err.Error())
			return a, nil
		}
		a.status = msg.status
		a.refreshHistory()
		return a, nil

	case actionMsg:
		a.handleActionResult(msg)
		return a, tea.Batch(a.loadStatus(), a.dispatch())

	case deliveredMsg:
		if a.handleDelivered(msg) {
			return a, a.loadStatus()
		}
		return a, nil

	case dayAdvancedMsg:
		a.handleDelivered(msg.delivered)
		a.handleActionResult(msg.action)
		return a, tea.Batch(a.loadStatus(), a.dispatch())
	}

	return a, nil
}

// onTick re-evaluates when the local day changes and polls for due reminders.
func (a *App) onTick(wall time.Time) []tea.Cmd {
	var cmds []tea.Cmd

	now := a.clock.Now()
	if !a.lastEval.IsZero() && !util.IsSameDay(a.lastEval, now) {
		a.lastEval = now
		cmds = append(cmds, a.runAction("day change", a.svc.Evaluate))
	}

	if a.dispatcher != nil && wall.Sub(a.lastDispatch) >= a.pollInterval {
		a.lastDispatch = wall
		cmds = append(cmds, a.dispatch())
	}

	return cmds
}

func (a *App) handleActionResult(msg actionMsg) {
	if msg.op == "startup" || msg.op == "day change" || msg.op == "evaluate" || msg.op == "next day" {
		a.lastEval = a.clock.Now()
	}

	var persistErr *inventory.PersistError
	switch {
	case errors.As(msg.err, &persistErr):
		a.AddAlert(AlertCritical, persistErr.Error())
	case errors.Is(msg.err, models.ErrInvalidPillCount):
		a.AddAlert(AlertWarning, "Refill count must be greater than zero")
		return
	case msg.err != nil:
		a.AddAlert(AlertWarning, msg.op+" failed: "+msg.err.Error())
		return
	}

	if msg.result == nil {
		return
	}
	if msg.result.Report != nil {
		if err := msg.result.Report.Err(); err != nil {
			a.AddAlert(AlertWarning, "Some reminders could not be updated: "+err.Error())
			return
		}
	}
	if msg.err != nil {
		return
	}

	state := msg.result.State
	switch msg.op {
	case "take":
		a.AddAlert(AlertInfo, fmt.Sprintf("Dose logged. %s left", util.Plural(state.CurrentPillCount, "pill")))
	case "request":
		if msg.result.Changed {
			a.AddAlert(AlertInfo, "Refill requested")
		} else {
			a.AddAlert(AlertInfo, "Refill already requested")
		}
	case "receive":
		a.AddAlert(AlertInfo, fmt.Sprintf("Refill received: %s", util.Plural(state.CurrentPillCount, "pill")))
	case "evaluate":
		active := msg.result.Report.Decision.Active()
		if len(active) == 0 {
			a.AddAlert(AlertInfo, "Reminders evaluated: none active")
		} else {
			a.AddAlert(AlertInfo, "Reminders evaluated: "+strings.Join(active, ", "))
		}
	case "next day":
		a.AddAlert(AlertInfo, "Clock advanced to "+a.formatDate(a.clock.Now()))
	}
}

// handleDelivered shows delivered notifications and reports whether any arrived.
func (a *App) handleDelivered(msg deliveredMsg) bool {
	if msg.err != nil {
		a.AddAlert(AlertWarning, "Failed to deliver reminders: "+msg.err.Error())
	}
	for _, n := range msg.notifications {
		a.AddAlert(notificationLevel(n.Key), n.Title+": "+n.Body)
	}
	return len(msg.notifications) > 0
}

func notificationLevel(key string) AlertLevel {
	switch key {
	case reminders.KeyInventory, reminders.KeyFollowUp:
		return AlertWarning
	default:
		return AlertInfo
	}
}

func (a *App) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Modal takes priority
	if a.showConfirm {
		switch {
		case a.keys.Confirm.Matches(msg):
			a.quitting = true
			return a, tea.Quit
		case a.keys.Deny.Matches(msg):
			a.showConfirm = false
		}
		return a, nil
	}

	// The count prompt needs all input
	if a.receive.IsFocused() {
		return a.handleReceiveKeys(msg)
	}

	switch {
	case a.keys.Quit.Matches(msg):
		a.showConfirm = true
	case a.keys.Help.Matches(msg):
		if a.currentModule != ModuleHelp {
			a.previousModule = a.currentModule
			a.currentModule = ModuleHelp
		}
	case a.keys.Dashboard.Matches(msg):
		a.currentModule = ModuleDashboard
	case a.keys.History.Matches(msg):
		a.currentModule = ModuleHistory
	case a.currentModule == ModuleHistory && a.keys.Up.Matches(msg):
		a.history.MoveUp()
	case a.currentModule == ModuleHistory && a.keys.Down.Matches(msg):
		a.history.MoveDown()
	case a.keys.Back.Matches(msg):
		if a.currentModule == ModuleHelp && a.previousModule != "" {
			a.currentModule = a.previousModule
			a.previousModule = ""
		} else {
			a.currentModule = ModuleDashboard
		}
	case a.keys.IsAction(msg):
		return a, a.handleAction(msg)
	}

	return a, nil
}

func (a *App) handleAction(msg tea.KeyMsg) tea.Cmd {
	switch {
	case a.keys.TakeDose.Matches(msg):
		return a.runAction("take", a.svc.TakeDose)
	case a.keys.Request.Matches(msg):
		return a.runAction("request", a.svc.RequestRefill)
	case a.keys.Receive.Matches(msg):
		a.receive.Reset()
		a.receive.Focus(true)
	case a.keys.Evaluate.Matches(msg):
		return a.runAction("evaluate", a.svc.Evaluate)
	case a.keys.NextDay.Matches(msg):
		manual, ok := a.clock.(*util.ManualClock)
		if !ok {
			a.AddAlert(AlertWarning, "Clock is not simulated; start with --at to step through days")
			return nil
		}
		if err := manual.Advance(util.Day); err != nil {
			a.AddAlert(AlertWarning, err.Error())
			return nil
		}
		return a.advanceDay()
	}
	return nil
}

// advanceDay delivers what came due during the skipped day before
// re-evaluating, so reminders fire before they are rescheduled.
func (a *App) advanceDay() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		var delivered deliveredMsg
		if a.dispatcher != nil {
			_, err := a.dispatcher.DispatchDue(ctx)
			delivered = deliveredMsg{notifications: a.inbox.drain(), err: err}
		}

		result, err := a.svc.Evaluate(ctx)
		return dayAdvancedMsg{
			delivered: delivered,
			action:    actionMsg{op: "next day", result: result, err: err},
		}
	}
}

func (a *App) handleReceiveKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case a.keys.Back.Matches(msg):
		a.receive.Reset()
	case a.keys.Submit.Matches(msg):
		if a.receive.Value() == "" {
			return a, nil
		}
		count, err := a.receive.Int()
		a.receive.Reset()
		if err != nil {
			a.AddAlert(AlertWarning, "Invalid refill count")
			return a, nil
		}
		return a, a.runAction("receive", func(ctx context.Context) (*inventory.Result, error) {
			return a.svc.ReceiveRefill(ctx, count)
		})
	default:
		a.receive.HandleKey(msg.String())
	}
	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if !a.ready {
		return "Initializing..."
	}

	if a.quitting {
		return a.theme.Title.Render("refilltrack shutting down...")
	}

	var b strings.Builder

	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(a.renderAlertBar())
	b.WriteString("\n")

	contentHeight := a.height - 6 // header, alert, footer
	if a.showConfirm {
		b.WriteString(a.renderConfirmDialog(contentHeight))
	} else {
		b.WriteString(a.renderContent(contentHeight))
	}

	b.WriteString("\n")
	b.WriteString(a.renderFooter())

	return b.String()
}

func (a *App) renderHeader() string {
	title := fmt.Sprintf("REFILLTRACK v%s", Version)

	info := "loading"
	if a.status != nil {
		info = fmt.Sprintf("%s | %s",
			strings.ToUpper(util.Plural(a.status.State.CurrentPillCount, "pill")),
			a.status.Decision.State,
		)
	}

	spacing := max(a.width-lipgloss.Width(title)-lipgloss.Width(info)-4, 1)

	header := a.theme.Header.Render(title) +
		strings.Repeat(" ", spacing) +
		a.theme.Header.Render(info)

	return header + "\n" + a.theme.DrawDoubleLine(a.width)
}

func (a *App) renderAlertBar() string {
	now := a.clock.Now()
	timeStr := now.Format(a.config.Display.DateFormat + " " + a.config.Display.TimeFormat)

	var alertText string
	if len(a.alerts) > 0 {
		alert := a.alerts[0]
		switch alert.Level {
		case AlertCritical:
			alertText = a.theme.AlertCrit.Render("CRITICAL: " + alert.Message)
		case AlertWarning:
			alertText = a.theme.AlertWarn.Render("REMINDER: " + alert.Message)
		default:
			alertText = a.theme.Alert.Render(alert.Message)
		}
	} else {
		alertText = a.theme.Muted.Render("No reminders")
	}

	return a.theme.Value.Render(timeStr) + a.theme.StatusDivider.Render() + alertText
}

func (a *App) renderContent(height int) string {
	var content string
	switch a.currentModule {
	case ModuleHistory:
		content = a.renderHistory()
	case ModuleHelp:
		content = a.renderHelp()
	default:
		content = a.renderDashboard()
	}

	if a.receive.IsFocused() {
		content += "\n\n" + a.renderReceivePrompt()
	}

	style := lipgloss.NewStyle().
		Width(a.width).
		Height(max(height, 1)).
		Align(lipgloss.Center, lipgloss.Top)

	return style.Render(lipgloss.NewStyle().Width(a.contentWidth()).Render(content))
}

func (a *App) contentWidth() int {
	return min(a.width, MaxContentWidth)
}

func (a *App) renderDashboard() string {
	if a.status == nil {
		return a.theme.Muted.Render("Loading inventory...")
	}

	var b strings.Builder
	b.WriteString(a.theme.Title.Render("═══ MEDICATION SUPPLY ═══"))
	b.WriteString("\n\n")

	width := a.contentWidth()
	panelWidth := width/2 - 1
	if width < NarrowWidth {
		panelWidth = width
	}

	supply := a.theme.Panel("SUPPLY", a.renderSupply(panelWidth-6), panelWidth)
	refill := a.theme.Panel("REFILL", a.renderRefill(), panelWidth)
	b.WriteString(SideBySide(supply, refill, width, 2))
	b.WriteString("\n")
	b.WriteString(a.theme.Panel("REMINDERS", a.renderReminders(), width))

	return b.String()
}

func (a *App) row(label, value string) string {
	return a.theme.Label.Render(PadRight(label, 16)) + a.theme.Value.Render(value) + "\n"
}

func (a *App) renderSupply(barWidth int) string {
	proj := a.status.Decision.Forecast
	settings := a.config.Settings()

	var b strings.Builder
	b.WriteString(a.row("Pills left", strconv.Itoa(proj.PillCount)))
	b.WriteString(a.row("Daily usage", strconv.FormatFloat(proj.DailyUsageRate, 'f', -1, 64)))

	if proj.Unbounded {
		b.WriteString(a.row("Days remaining", "unlimited"))
	} else {
		b.WriteString(a.row("Days remaining", strconv.Itoa(proj.DaysRemaining)))
		b.WriteString(a.row("Runs out", a.formatDate(*proj.DepletionDate)))
	}
	b.WriteString(a.theme.Label.Render(PadRight("Status", 16)) +
		a.theme.ForecastStyle(proj.Status).Render(proj.Status.String()) + "\n")

	window := max(settings.InventoryReminderThresholdDays*4, 1)
	days := proj.DaysRemaining
	if proj.Unbounded {
		days = window
	}
	b.WriteString(a.theme.SupplyBar(days, window, max(barWidth, 10), proj.Status))

	return b.String()
}

func (a *App) renderRefill() string {
	state := a.status.State
	dec := a.status.Decision
	now := a.status.At

	var b strings.Builder
	b.WriteString(a.row("State", dec.State.String()))

	if last, ok := state.LastReceived(); ok {
		b.WriteString(a.row("Last refill", a.formatDate(last.Timestamp)+" ("+util.RelativeTimeString(last.Timestamp, now)+")"))
		b.WriteString(a.row("Since refill", util.Plural(dec.DaysSinceRefill, "day")))
	} else {
		b.WriteString(a.row("Last refill", "never"))
	}

	if dec.State == models.StateWaiting {
		b.WriteString(a.row("Requested", a.formatDate(dec.RequestedAt)+" ("+util.Plural(dec.DaysSinceRequest, "day")+" ago)"))
		if dec.FollowUp {
			b.WriteString(a.row("Follow-up", a.formatDateTime(dec.FollowUpAt)))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (a *App) renderReminders() string {
	dec := a.status.Decision
	pending := make(map[string]bool, len(a.status.Pending))
	for _, key := range a.status.Pending {
		pending[key] = true
	}

	channels := []struct {
		key    string
		label  string
		active bool
	}{
		{reminders.KeyInventory, "Low supply", dec.InventoryLow},
		{reminders.KeyTime, "Time since refill", dec.TimeElapsed},
		{reminders.KeyFollowUp, "Refill follow-up", dec.FollowUp},
	}

	var b strings.Builder
	for i, ch := range channels {
		mark := a.theme.Muted.Render("off")
		if ch.active {
			mark = a.theme.Warning.Render("ON ")
		}
		sched := ""
		if pending[ch.key] {
			sched = a.theme.Muted.Render("  scheduled")
		}
		b.WriteString(a.theme.Label.Render(PadRight(ch.label, 20)) + mark + sched)
		if i < len(channels)-1 {
			b.WriteString("\n")
		}
	}

	if !a.config.Reminders.Enabled {
		b.WriteString("\n" + a.theme.Muted.Render("Refill reminders are disabled"))
	}

	return b.String()
}

// refreshHistory loads the refill log into the history table, newest first.
func (a *App) refreshHistory() {
	if a.status == nil {
		a.history.SetRows(nil)
		return
	}

	events := a.status.State.SortedEvents()
	rows := make([][]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		pills := "-"
		if e.Kind == models.RefillReceived {
			pills = strconv.Itoa(e.ReceivedCount())
		}
		rows = append(rows, []string{a.formatDateTime(e.Timestamp), e.Kind.String(), pills})
	}
	a.history.SetRows(rows)
}

func (a *App) renderHistory() string {
	var b strings.Builder
	b.WriteString(a.theme.Title.Render("═══ REFILL HISTORY ═══"))
	b.WriteString("\n\n")

	if a.history.Empty() {
		b.WriteString(a.theme.Muted.Render("No refills recorded"))
		return b.String()
	}

	a.history.SetVisibleRows(a.height - 12)
	b.WriteString(a.history.Render())

	return b.String()
}

func (a *App) renderHelp() string {
	var b strings.Builder

	b.WriteString(a.theme.Title.Render("═══ HELP ═══"))
	b.WriteString("\n\n")

	items := [][2]string{
		{"t", "Log a dose"},
		{"r", "Request a refill"},
		{"f", "Log a received refill"},
		{"e", "Re-evaluate reminders"},
		{"n", "Advance a simulated clock one day"},
		{"d / F2", "Dashboard"},
		{"h / F3", "Refill history"},
		{"j / k", "Scroll history"},
		{"? / F1", "Help"},
		{"q / F10", "Quit"},
	}
	for _, item := range items {
		b.WriteString(a.theme.Primary.Render(fmt.Sprintf("    %-8s  %s", item[0], item[1])))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(a.theme.Muted.Render("Press Esc to return"))

	return b.String()
}

func (a *App) renderReceivePrompt() string {
	return a.theme.Box.Render(
		a.receive.Render() + "\n" +
			a.theme.Muted.Render("[Enter] save  [Esc] cancel"),
	)
}

func (a *App) renderConfirmDialog(height int) string {
	dialog := a.theme.Box.Render(
		a.theme.Title.Render("CONFIRM EXIT") + "\n\n" +
			a.theme.Base.Render("Are you sure you want to exit?") + "\n\n" +
			a.theme.Label.Render("[Y]es  [N]o"),
	)

	style := lipgloss.NewStyle().
		Width(a.width).
		Height(max(height, 1)).
		Align(lipgloss.Center, lipgloss.Center)

	return style.Render(dialog)
}

func (a *App) renderFooter() string {
	return a.theme.DrawHorizontalLine(a.width) + "\n" + a.theme.Footer.Render(a.keys.StatusBarHelp())
}

func (a *App) formatDate(t time.Time) string {
	return t.Format(a.config.Display.DateFormat)
}

func (a *App) formatDateTime(t time.Time) string {
	return t.Format(a.config.Display.DateFormat + " " + a.config.Display.TimeFormat)
}

// AddAlert pushes an alert to the front of the alert bar.
func (a *App) AddAlert(level AlertLevel, message string) {
	a.alerts = append([]Alert{{
		Level:   level,
		Message: message,
		Time:    a.clock.Now(),
	}}, a.alerts...)

	// Keep only last 10 alerts
	if len(a.alerts) > 10 {
		a.alerts = a.alerts[:10]
	}
}

// ClearAlerts removes all alerts.
func (a *App) ClearAlerts() {
	a.alerts = []Alert{}
}

// Run starts the dashboard and blocks until it exits or ctx is done.
func Run(ctx context.Context, svc *inventory.Service, queue delivery.Queue, cfg *config.Config, clock util.Clock) error {
	app := New(svc, queue, cfg, clock)

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
