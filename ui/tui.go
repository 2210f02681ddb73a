package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/franksops/gofanout/daemon"
)

// StatusMsg carries a freshly read status snapshot.
type StatusMsg struct {
	Status daemon.Status
	Err    error
}

// TUIModel renders a running daemon's status file.
type TUIModel struct {
	path     string
	interval time.Duration

	status     daemon.Status
	loaded     bool
	err        error
	throughput float64 // bytes per second received

	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	headStyle    lipgloss.Style
	streamStyle  lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
	successStyle lipgloss.Style
}

// NewTUIModel polls the status file at statusPath every interval.
func NewTUIModel(statusPath string, interval time.Duration) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		path:         statusPath,
		interval:     interval,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		headStyle:    lipgloss.NewStyle().Bold(true),
		streamStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		warnStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

// Poll reads the status file after d.
func Poll(path string, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		st, err := daemon.ReadStatus(path)
		return StatusMsg{Status: st, Err: err}
	})
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		Poll(m.path, 0),
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case StatusMsg:
		m = m.apply(msg)
		cmds = append(cmds, Poll(m.path, m.interval))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// apply folds a new snapshot in, deriving throughput from the change in
// received bytes since the previous one.
func (m TUIModel) apply(msg StatusMsg) TUIModel {
	m.err = msg.Err
	if msg.Err != nil {
		return m
	}
	if m.loaded && msg.Status.Instance == m.status.Instance {
		elapsed := msg.Status.Updated.Sub(m.status.Updated).Seconds()
		if elapsed > 0 {
			delta := receivedBytes(msg.Status) - receivedBytes(m.status)
			m.throughput = max(0, float64(delta)/elapsed)
		}
	} else {
		m.throughput = 0
	}
	m.status = msg.Status
	m.loaded = true
	return m
}

func receivedBytes(st daemon.Status) int64 {
	var n int64
	for _, d := range st.Counters.Dirs {
		n += d.BytesReceived
	}
	return n
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	header := fmt.Sprintf("%s gofanout %s", m.spinner.View(), m.titleStyle.Render("Distribution Monitor"))
	sb.WriteString(header + "\n")

	if !m.loaded {
		if m.err != nil {
			sb.WriteString(m.errorStyle.Render(m.err.Error()) + "\n")
		} else {
			sb.WriteString(m.infoStyle.Render("Waiting for status...") + "\n")
		}
		sb.WriteString("\n" + m.helpStyle.Render("q/ctrl+c: quit"))
		return sb.String()
	}

	st := m.status
	opsInfo := fmt.Sprintf("pid %d | up %s | Workers: %d/%d | Backlog: %d | Jobs: %d | %s",
		st.PID,
		formatUptime(st.Updated.Sub(st.Started)),
		st.Pool.Active, st.Pool.Max,
		st.Backlog, st.Jobs,
		formatSpeed(m.throughput))
	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")

	var occupancy float64
	if st.Pool.Max > 0 {
		occupancy = float64(st.Pool.Active) / float64(st.Pool.Max)
	}
	sb.WriteString(m.progress.ViewAs(occupancy) + "\n")

	if m.err != nil {
		sb.WriteString(m.errorStyle.Render(m.err.Error()) + "\n")
	} else if m.interval > 0 && time.Since(st.Updated) > 5*m.interval+5*time.Second {
		sb.WriteString(m.warnStyle.Render("status is stale, is the daemon running?") + "\n")
	}
	sb.WriteString("\n")

	var content strings.Builder
	content.WriteString(m.directoriesView(st))
	content.WriteString("\n")
	content.WriteString(m.targetsView(st))
	if len(st.Pool.Workers) > 0 {
		content.WriteString("\n" + m.headStyle.Render("Workers:") + "\n")
		for _, w := range st.Pool.Workers {
			content.WriteString(m.streamStyle.Render(fmt.Sprintf("  %-16s %-12s job %-8d %-10s %s\n",
				truncate(w.Dir, 16), truncate(w.Target, 12), w.JobID, formatUptime(st.Updated.Sub(w.Started)), truncate(w.Recipient, 40))))
		}
	}

	m.viewport.SetContent(content.String())
	sb.WriteString(m.viewport.View())

	sb.WriteString("\n" + m.helpStyle.Render("q/ctrl+c: quit • up/down: scroll"))
	return sb.String()
}

func (m TUIModel) directoriesView(st daemon.Status) string {
	var sb strings.Builder
	sb.WriteString(m.headStyle.Render(fmt.Sprintf("%-16s %10s %10s %8s %8s %8s  %s",
		"Directory", "Files", "Bytes", "Unknown", "Aged", "Discard", "Last scan")) + "\n")
	if len(st.Directories) == 0 {
		sb.WriteString(m.infoStyle.Render("No directories configured") + "\n")
	}
	for _, d := range st.Directories {
		c := st.Counters.Dirs[d.Alias]
		last := "never"
		if !d.LastScan.IsZero() {
			last = humanize.RelTime(d.LastScan, st.Updated, "ago", "from now")
		}
		alias := truncate(d.Alias, 16)
		if d.Remote {
			alias = truncate(d.Alias, 14) + " *"
		}
		sb.WriteString(fmt.Sprintf("%-16s %10d %10s %8d %8d %8d  %s\n",
			alias, c.FilesReceived, humanize.Bytes(uint64(c.BytesReceived)),
			c.UnknownDeleted, c.AgeDeleted, c.FilesDiscarded, last))
	}
	return sb.String()
}

func (m TUIModel) targetsView(st daemon.Status) string {
	names := make(map[string]struct{}, len(st.Targets)+len(st.Counters.Targets))
	for name := range st.Targets {
		names[name] = struct{}{}
	}
	for name := range st.Counters.Targets {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var sb strings.Builder
	sb.WriteString(m.headStyle.Render(fmt.Sprintf("%-16s %-9s %8s %10s %10s %8s %10s",
		"Target", "State", "Jobs", "To send", "Bytes", "Held", "Held bytes")) + "\n")
	if len(sorted) == 0 {
		sb.WriteString(m.infoStyle.Render("No targets seen yet") + "\n")
	}
	for _, name := range sorted {
		state := st.Targets[name]
		c := st.Counters.Targets[name]
		label := m.successStyle.Render(fmt.Sprintf("%-9s", "active"))
		switch {
		case state.Disabled:
			label = m.errorStyle.Render(fmt.Sprintf("%-9s", "disabled"))
		case state.Paused:
			label = m.warnStyle.Render(fmt.Sprintf("%-9s", "paused"))
		}
		sb.WriteString(fmt.Sprintf("%-16s %s %8d %10d %10s %8d %10s\n",
			truncate(name, 16), label, c.Jobs, c.FilesToSend, humanize.Bytes(uint64(c.BytesToSend)),
			c.FilesQueued, humanize.Bytes(uint64(c.BytesQueued))))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-(n-3):]
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d.Hours() > 48 {
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
	return d.Round(time.Second).String()
}
