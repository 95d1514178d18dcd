// Package tui renders live pipeline progress with Bubble Tea.
//
// The [Model] shows one row per stage and a tail of recent log and
// subprocess output. Feed it with [Observer] for stage events and [Forward]
// for output lines, and send [DoneMsg] when the run finishes.
package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"go.jacobcolvin.com/profharness/log"
	"go.jacobcolvin.com/profharness/pipeline"
)

const (
	defaultLogLines = 12
	tickInterval    = 100 * time.Millisecond
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// EventMsg carries a [pipeline.Event] into the model.
type EventMsg pipeline.Event

// LogMsg carries one line of log or subprocess output.
type LogMsg string

// DoneMsg ends the view once the pipeline returns.
type DoneMsg struct {
	Err    error
	Result *pipeline.Result
}

type tickMsg struct{}

type row struct {
	started time.Time
	detail  string
	status  pipeline.Status
	took    time.Duration
}

// Model is the Bubble Tea model for pipeline progress.
//
// Create instances with [New].
type Model struct {
	now      func() time.Time
	rows     map[pipeline.Stage]*row
	err      error
	result   *pipeline.Result
	logs     []string
	logLines int
	width    int
	frame    int
	done     bool
	quit     bool
}

// Option configures a [Model].
type Option func(*Model)

// WithLogLines sets how many output lines are kept. Values less than 1 are
// clamped to 1.
func WithLogLines(n int) Option {
	return func(m *Model) {
		m.logLines = max(n, 1)
	}
}

// WithClock sets the clock used for elapsed times.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}

// New creates a [Model] with every stage pending.
func New(opts ...Option) *Model {
	m := &Model{
		now:      time.Now,
		rows:     map[pipeline.Stage]*row{},
		logLines: defaultLogLines,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, s := range pipeline.Stages() {
		m.rows[s] = &row{}
	}

	return m
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return tick()
}

// Update handles pipeline, output, resize, and quit messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true

			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case EventMsg:
		m.apply(pipeline.Event(msg))

	case LogMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > m.logLines {
			m.logs = m.logs[len(m.logs)-m.logLines:]
		}

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.result = msg.Result

		return m, tea.Quit

	case tickMsg:
		if m.done {
			return m, nil
		}

		m.frame++

		return m, tick()
	}

	return m, nil
}

// Quit reports whether the user asked to stop before the run finished.
func (m *Model) Quit() bool {
	return m.quit && !m.done
}

func (m *Model) apply(ev pipeline.Event) {
	r, ok := m.rows[ev.Stage]
	if !ok {
		return
	}

	r.status = ev.Status

	switch ev.Status {
	case pipeline.StatusStarted:
		r.started = m.now()

	case pipeline.StatusFailed:
		r.took = ev.Duration
		if ev.Err != nil {
			r.detail = firstLine(ev.Err.Error())
		}

	case pipeline.StatusDegraded:
		r.took = ev.Duration
		r.detail = "fallback label " + ev.Detail

	case pipeline.StatusSucceeded, pipeline.StatusSkipped:
		r.took = ev.Duration
		r.detail = ev.Detail
	}
}

// View renders the model.
func (m *Model) View() tea.View {
	return tea.NewView(m.Render())
}

// Render returns the progress view as text.
func (m *Model) Render() string {
	var b strings.Builder

	for _, s := range pipeline.Stages() {
		r := m.rows[s]

		line := fmt.Sprintf("%s %-10s %s", m.icon(r.status), s, m.elapsed(r))
		if r.detail != "" {
			line += "  " + faintStyle.Render(r.detail)
		}

		b.WriteString(m.fit(line))
		b.WriteByte('\n')
	}

	if len(m.logs) > 0 {
		b.WriteByte('\n')

		for _, l := range m.logs {
			b.WriteString(m.fit(faintStyle.Render(l)))
			b.WriteByte('\n')
		}
	}

	if m.done {
		b.WriteByte('\n')
		b.WriteString(m.summary())
		b.WriteByte('\n')
	}

	return b.String()
}

func (m *Model) summary() string {
	if m.err != nil {
		return failStyle.Render("failed: ") + firstLine(m.err.Error())
	}

	if m.result == nil {
		return okStyle.Render("done")
	}

	return okStyle.Render("wrote ") + m.result.Graph
}

func (m *Model) icon(s pipeline.Status) string {
	switch s {
	case pipeline.StatusStarted:
		return spinner[m.frame%len(spinner)]
	case pipeline.StatusSucceeded:
		return okStyle.Render("✓")
	case pipeline.StatusFailed:
		return failStyle.Render("✗")
	case pipeline.StatusDegraded:
		return warnStyle.Render("!")
	case pipeline.StatusSkipped:
		return faintStyle.Render("-")
	}

	return faintStyle.Render("·")
}

func (m *Model) elapsed(r *row) string {
	switch r.status {
	case "":
		return faintStyle.Render("pending")
	case pipeline.StatusStarted:
		return m.now().Sub(r.started).Round(time.Second).String()
	case pipeline.StatusSkipped:
		return faintStyle.Render("skipped")
	case pipeline.StatusSucceeded, pipeline.StatusFailed, pipeline.StatusDegraded:
	}

	return r.took.Round(time.Millisecond).String()
}

func (m *Model) fit(s string) string {
	if m.width <= 0 {
		return s
	}

	return ansi.Truncate(s, m.width, "…")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")

	return line
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Sender delivers messages to a running program. [*tea.Program] implements
// it.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer returns a [pipeline.Observer] that forwards events to s.
func Observer(s Sender) pipeline.Observer {
	return func(ev pipeline.Event) {
		s.Send(EventMsg(ev))
	}
}

// Forward sends each line from sub to s until sub is closed or ctx is done.
func Forward(ctx context.Context, s Sender, sub *log.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case line, ok := <-sub.C():
			if !ok {
				return
			}

			s.Send(LogMsg(line))
		}
	}
}

// NewProgram creates a program rendering m to out and reading keys from in.
func NewProgram(ctx context.Context, m *Model, in io.Reader, out io.Writer) *tea.Program {
	return tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
}

// Enabled reports whether f is a terminal the view can draw on.
func Enabled(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // File descriptors fit in int.
}
