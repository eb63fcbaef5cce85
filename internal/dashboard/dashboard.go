// Package dashboard is the terminal front end of the lead pipeline. It has one
// action, running the pipeline, and shows the results in five tabs.
package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shpitdev/lead-engagement-pipeline/internal/pipeline"
	"github.com/shpitdev/lead-engagement-pipeline/pkg/pipeline/redact"
)

// RunFunc executes one pipeline run. Progress goes to onEvent and log lines
// to logs; both are safe to call from any goroutine.
type RunFunc func(ctx context.Context, run *pipeline.Run, onEvent func(pipeline.Event), logs io.Writer) (pipeline.Report, error)

type tab int

const (
	tabScores tab = iota
	tabFiltered
	tabEmails
	tabCosts
	tabActivity
	tabCount
)

var tabNames = [tabCount]string{"Lead Scores", "Filtered Leads", "Generated Emails", "Costs", "Activity"}

const maxActivity = 500

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	activeTabStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Padding(0, 1)
	headingStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

type eventMsg struct{ ev pipeline.Event }

type logMsg struct{ line string }

type runDoneMsg struct {
	report pipeline.Report
	err    error
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	runFn  RunFunc

	run      *pipeline.Run
	report   pipeline.Report
	hasRun   bool
	running  bool
	state    pipeline.State
	progress string
	err      error

	activity []string
	msgs     chan tea.Msg

	tab      tab
	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int
}

// New returns a dashboard that runs the pipeline with runFn.
func New(ctx context.Context, runFn RunFunc) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:      ctx,
		cancel:   cancel,
		runFn:    runFn,
		run:      pipeline.NewRun(),
		state:    pipeline.StateIdle,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		viewport: viewport.New(100, 20),
		width:    100,
		height:   30,
	}
}

// Run starts the dashboard in the alternate screen and blocks until it quits.
func Run(ctx context.Context, runFn RunFunc) error {
	m := New(ctx, runFn)
	defer m.cancel()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	m.refresh()
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(5, msg.Height-8)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit
		case "r":
			return m, m.startRun()
		case "tab", "right", "l":
			m.tab = (m.tab + 1) % tabCount
			m.refresh()
			return m, nil
		case "shift+tab", "left", "h":
			m.tab = (m.tab + tabCount - 1) % tabCount
			m.refresh()
			return m, nil
		case "1", "2", "3", "4", "5":
			m.tab = tab(msg.String()[0] - '1')
			m.refresh()
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, m.waitForMsg()

	case logMsg:
		m.appendActivity(msg.line)
		return m, m.waitForMsg()

	case runDoneMsg:
		m.running = false
		m.hasRun = true
		m.report = msg.report
		m.err = msg.err
		m.state = msg.report.State
		if msg.err != nil {
			m.state = pipeline.StateFailed
			m.appendActivity("run failed: " + redact.Error(msg.err))
		}
		m.progress = ""
		m.refresh()
		return m, m.waitForMsg()

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// startRun launches the pipeline in the background. Its events, log lines and
// final report come back through m.msgs one at a time.
func (m *Model) startRun() tea.Cmd {
	if m.running || m.runFn == nil {
		return nil
	}
	m.running = true
	m.err = nil
	m.activity = nil
	m.progress = ""
	m.refresh()

	ch := make(chan tea.Msg, 64)
	m.msgs = ch
	ctx := m.ctx
	run := m.run
	send := func(msg tea.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
	go func() {
		defer close(ch)
		logs := &lineWriter{send: func(line string) { send(logMsg{line: line}) }}
		rep, err := m.runFn(ctx, run, func(ev pipeline.Event) { send(eventMsg{ev: ev}) }, logs)
		logs.flush()
		send(runDoneMsg{report: rep, err: err})
	}()
	return tea.Batch(m.waitForMsg(), m.spinner.Tick)
}

func (m *Model) waitForMsg() tea.Cmd {
	ch := m.msgs
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) handleEvent(ev pipeline.Event) {
	m.state = ev.State
	switch ev.Kind {
	case pipeline.EventState:
		m.progress = ""
		m.appendActivity(fmt.Sprintf("state: %s", ev.State))
	case pipeline.EventLeadScored:
		m.progress = fmt.Sprintf("%d/%d", ev.Index+1, ev.Total)
		m.appendActivity(fmt.Sprintf("scored %s (%s): %d", ev.Lead.Name, ev.Lead.Company, ev.Score))
	case pipeline.EventEmailDrafted:
		m.appendActivity(fmt.Sprintf("drafted email for %s (%s)", ev.Lead.Name, ev.Lead.Company))
	case pipeline.EventLeadFailed:
		msg := ""
		if ev.Err != nil {
			msg = redact.Error(ev.Err)
		}
		m.appendActivity(fmt.Sprintf("failed %s: %s", ev.Lead.Name, msg))
	}
}

func (m *Model) appendActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivity {
		m.activity = m.activity[len(m.activity)-maxActivity:]
	}
	if m.tab == tabActivity {
		m.refresh()
	}
}

// refresh re-renders the current tab into the viewport.
func (m *Model) refresh() {
	width := max(20, m.viewport.Width)
	var content string
	switch m.tab {
	case tabScores:
		content = renderScores(m.report, m.hasRun)
	case tabFiltered:
		content = renderTable(m.report.Filtered.Columns, m.report.Filtered.Rows, width, m.hasRun)
	case tabEmails:
		content = renderEmails(m.report, m.hasRun)
	case tabCosts:
		content = renderCosts(m.report, width, m.hasRun)
	case tabActivity:
		content = strings.Join(m.activity, "\n")
		if content == "" {
			content = hintStyle.Render("No activity yet.")
		}
	}
	m.viewport.SetContent(content)
	if m.tab == tabActivity {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	tabs := make([]string, 0, tabCount)
	for i, name := range tabNames {
		label := fmt.Sprintf("%d %s", i+1, name)
		if tab(i) == m.tab {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Lead Engagement Pipeline"),
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...),
		"",
		m.viewport.View(),
		"",
		m.statusLine(),
		hintStyle.Render("r run pipeline · tab switch · ↑/↓ scroll · q quit"),
	)
}

func (m *Model) statusLine() string {
	switch {
	case m.running:
		line := fmt.Sprintf("%s %s", m.spinner.View(), m.state)
		if m.progress != "" {
			line += " " + m.progress
		}
		return line
	case m.err != nil:
		return failStyle.Render("✗ Failed: " + redact.Error(m.err))
	case m.hasRun:
		status := okStyle.Render("✓ Done")
		if n := len(m.report.Failures); n > 0 {
			status += failStyle.Render(fmt.Sprintf(" (%d leads failed)", n))
		}
		return status
	default:
		return labelStyle.Render("Idle. Press r to run the pipeline.")
	}
}

func renderScores(rep pipeline.Report, hasRun bool) string {
	if len(rep.Scores) == 0 {
		return emptyHint(hasRun, "No leads scored.")
	}
	width := 0
	for _, attr := range pipeline.ScoreAttributes() {
		width = max(width, lipgloss.Width(attr))
	}
	var b strings.Builder
	for i, t := range rep.Scores {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(headingStyle.Render(t.Title) + "\n")
		for _, row := range t.Rows {
			b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", width, row[0])) + "  " + row[1] + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEmails(rep pipeline.Report, hasRun bool) string {
	if len(rep.Emails) == 0 {
		return emptyHint(hasRun, "No emails generated.")
	}
	var b strings.Builder
	for i, e := range rep.Emails {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(headingStyle.Render(e.Title) + "\n")
		b.WriteString(labelStyle.Render("To: "+e.Target) + "\n\n")
		b.WriteString(e.Body)
	}
	return b.String()
}

func renderCosts(rep pipeline.Report, width int, hasRun bool) string {
	if len(rep.Costs) == 0 {
		return emptyHint(hasRun, "No costs recorded.")
	}
	cols := []string{"Name", "Company", "Scoring Tokens", "Scoring ($)", "Email Tokens", "Email ($)", "Total ($)"}
	rows := make([][]string, 0, len(rep.Costs))
	for _, c := range rep.Costs {
		rows = append(rows, []string{
			c.Name,
			c.Company,
			fmt.Sprint(c.ScoringUsage.TotalTokens),
			fmt.Sprintf("%.4f", c.ScoringCost),
			fmt.Sprint(c.EmailUsage.TotalTokens),
			fmt.Sprintf("%.4f", c.EmailCost),
			fmt.Sprintf("%.4f", c.Total()),
		})
	}
	return renderTable(cols, rows, width, hasRun) + "\n\n" + headingStyle.Render(fmt.Sprintf("Total cost: $%.4f", rep.TotalCost()))
}

// renderTable draws rows with the bubbles table, splitting width evenly.
func renderTable(cols []string, rows [][]string, width int, hasRun bool) string {
	if len(rows) == 0 {
		return emptyHint(hasRun, "No leads passed the filter.")
	}
	colWidth := max(8, (width-2*len(cols))/max(1, len(cols)))
	columns := make([]table.Column, 0, len(cols))
	for _, c := range cols {
		columns = append(columns, table.Column{Title: c, Width: colWidth})
	}
	tableRows := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		tableRows = append(tableRows, table.Row(r))
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(tableRows),
		table.WithHeight(len(tableRows)+1),
		table.WithFocused(false),
	)
	return t.View()
}

func emptyHint(hasRun bool, msg string) string {
	if !hasRun {
		return hintStyle.Render("No results yet. Press r to run the pipeline.")
	}
	return hintStyle.Render(msg)
}

// lineWriter turns log output into one message per line.
type lineWriter struct {
	send func(string)
	buf  []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line != "" {
			w.send(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.send(string(w.buf))
		w.buf = nil
	}
}
