package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"zira/internal/core/jobs"
	"zira/internal/engine/scan"
	"zira/internal/engine/search"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
	target      sourceTarget
	result      int // index into model.results, -1 for matches
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

// uiActions are the coordinator operations reachable from key bindings.
type uiActions interface {
	CancelCurrent() bool
	Rescan() error
}

type panelMode int

const (
	panelResults panelMode = iota
	panelDiagnostics
)

type model struct {
	title    string
	root     string
	actions  uiActions
	progress progress.Model
	percent  float64
	status   string
	running  bool

	resultList list.Model
	diagList   list.Model
	mode       panelMode
	results    []jobs.JobResult
	matches    int
	errors     int
	lastUpdate time.Time

	// waitKind ends a one-shot view: the first result of this kind is kept
	// in final and, with quitOnDone, quits the program.
	waitKind   jobs.Kind
	quitOnDone bool
	final      *jobs.JobResult

	sourceJumpStatus string
}

type progressMsg struct{ p jobs.Progress }

type resultMsg struct{ r jobs.JobResult }

type sourceJumpResultMsg struct {
	target string
	err    error
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return handleKeyActions(msg, m)
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		width := msg.Width - h
		height := msg.Height - v - 8
		if height < 5 {
			height = 5
		}
		m.resultList.SetSize(width, height)
		m.diagList.SetSize(width, height)
		m.progress.Width = max(width-4, 10)
		return m, nil
	case progressMsg:
		return m.applyProgress(msg.p), nil
	case resultMsg:
		return m.applyResult(msg.r)
	case sourceJumpResultMsg:
		if msg.err != nil {
			m.sourceJumpStatus = statusStyle.Render(fmt.Sprintf("Source jump failed: %v", msg.err))
		} else {
			m.sourceJumpStatus = statusStyle.Render(fmt.Sprintf("Opened source: %s", msg.target))
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.mode == panelResults {
		m.resultList, cmd = m.resultList.Update(msg)
	} else {
		m.diagList, cmd = m.diagList.Update(msg)
	}
	return m, cmd
}

func (m model) applyProgress(p jobs.Progress) model {
	m.running = !p.Done()
	m.percent = float64(p.Percent) / 100
	if p.Status != "" {
		m.status = fmt.Sprintf("%s: %s", p.Kind, p.Status)
	}
	m.lastUpdate = time.Now()

	switch it := p.Item.(type) {
	case search.Match:
		m.matches++
		m.resultList.InsertItem(len(m.resultList.Items()), item{
			title:  fmt.Sprintf("%s:%d", it.File, it.Line),
			desc:   it.Text,
			target: sourceTarget{file: filepath.Join(m.root, filepath.FromSlash(it.File)), line: it.Line},
			result: -1,
		})
	case search.Hit:
		m.resultList.InsertItem(len(m.resultList.Items()), item{
			title:  it.Label,
			desc:   it.Path,
			target: sourceTarget{file: filepath.Join(m.root, filepath.FromSlash(it.Path)), line: max(it.Line, 1)},
			result: -1,
		})
	}
	return m
}

func (m model) applyResult(r jobs.JobResult) (model, tea.Cmd) {
	m.running = false
	m.lastUpdate = time.Now()
	if r.Outcome == jobs.OutcomeSuccess {
		m.percent = 1
	}
	if r.Outcome == jobs.OutcomeErrors {
		m.errors++
	}
	m.status = fmt.Sprintf("%s %s in %s", r.Kind, r.Outcome, r.Duration().Round(time.Millisecond))

	m.results = append(m.results, r)
	m.resultList.InsertItem(len(m.resultList.Items()), item{
		title:  fmt.Sprintf("%s %s", r.Kind, r.Outcome),
		desc:   describeResult(r),
		result: len(m.results) - 1,
	})

	if m.waitKind != "" && r.Kind == m.waitKind && m.final == nil {
		final := r
		m.final = &final
		if m.quitOnDone {
			return m, tea.Quit
		}
	}
	return m, nil
}

func describeResult(r jobs.JobResult) string {
	desc := r.Finished.Format("15:04:05")
	switch p := r.Payload.(type) {
	case scan.Result:
		desc += fmt.Sprintf(" | %d scanned, %d removed, %d failed", p.Scanned, p.Removed, p.Failed)
	case search.Summary:
		desc += fmt.Sprintf(" | %d matches in %d files", p.Matches, p.Files)
	}
	if n := len(r.Diagnostics) + len(r.Errors); n > 0 {
		desc += fmt.Sprintf(" | %d diagnostics", n)
	}
	if r.Stale {
		desc += " | stale"
	}
	return desc
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last update: %v | %d results | %d matches",
		m.lastUpdate.Format("15:04:05"), len(m.results), m.matches))

	var summary string
	switch {
	case m.errors > 0:
		summary = errorStyle.Render(fmt.Sprintf("%d failed", m.errors))
	case m.running:
		summary = warningStyle.Render("Running")
	default:
		summary = successStyle.Render("Idle")
	}

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle(m.title), status, summary)
	bar := m.progress.ViewAs(m.percent) + "\n" + statusStyle.Render(m.status)
	help := renderHelp(m)

	body := m.resultList.View()
	if m.mode == panelDiagnostics {
		body = m.diagList.View()
	}
	if m.sourceJumpStatus != "" {
		body += "\n\n" + m.sourceJumpStatus
	}
	return docStyle.Render(header + "\n" + bar + "\n" + help + "\n\n" + body)
}

func renderHelp(m model) string {
	if m.mode == panelDiagnostics {
		return statusStyle.Render("esc back | o open | c cancel | q quit")
	}
	return statusStyle.Render("enter diagnostics | o open | c cancel | r rescan | q quit")
}

func initialModel(title, root string, actions uiActions) model {
	resultList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	resultList.Title = "Results"
	resultList.SetShowStatusBar(false)
	resultList.SetFilteringEnabled(true)

	diagList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	diagList.Title = "Diagnostics"
	diagList.SetShowStatusBar(false)
	diagList.SetFilteringEnabled(false)

	return model{
		title:      title,
		root:       root,
		actions:    actions,
		progress:   progress.New(progress.WithDefaultGradient()),
		resultList: resultList,
		diagList:   diagList,
		lastUpdate: time.Now(),
	}
}
