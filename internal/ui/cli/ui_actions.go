package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"zira/internal/core/ports"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

func handleKeyActions(msg tea.KeyMsg, m model) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "c":
		if m.actions != nil && m.actions.CancelCurrent() {
			m.status = "cancelling…"
		}
		return m, nil
	case "r":
		if m.actions == nil {
			return m, nil
		}
		if err := m.actions.Rescan(); err != nil {
			m.status = fmt.Sprintf("rescan not queued: %v", err)
		} else {
			m.status = "rescan queued"
			m.running = true
		}
		return m, nil
	case "o":
		target, ok := selectedSourceTarget(m)
		if !ok {
			m.sourceJumpStatus = statusStyle.Render("No source target available.")
			return m, nil
		}
		return m, jumpToSourceCmd(target)
	}

	if m.mode == panelDiagnostics {
		switch msg.String() {
		case "esc", "backspace", "tab":
			m.mode = panelResults
			return m, nil
		}
		var cmd tea.Cmd
		m.diagList, cmd = m.diagList.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "enter", "tab":
		return showDiagnostics(m), nil
	}
	var cmd tea.Cmd
	m.resultList, cmd = m.resultList.Update(msg)
	return m, cmd
}

// showDiagnostics opens the diagnostics of the selected result.
func showDiagnostics(m model) model {
	sel, ok := m.resultList.SelectedItem().(item)
	if !ok || sel.result < 0 || sel.result >= len(m.results) {
		return m
	}
	r := m.results[sel.result]
	diags := make([]ports.Diagnostic, 0, len(r.Errors)+len(r.Diagnostics))
	diags = append(diags, r.Errors...)
	diags = append(diags, r.Diagnostics...)
	items := make([]list.Item, 0, len(diags))
	for _, d := range diags {
		items = append(items, item{
			title:  fmt.Sprintf("%d:%d %s", d.Line, d.Column, d.Severity),
			desc:   fmt.Sprintf("%s [%s]", d.Message, d.Source),
			result: -1,
		})
	}
	m.diagList.SetItems(items)
	m.diagList.Title = fmt.Sprintf("Diagnostics: %s %s", r.Kind, r.Outcome)
	m.mode = panelDiagnostics
	return m
}

type sourceTarget struct {
	file string
	line int
}

func selectedSourceTarget(m model) (sourceTarget, bool) {
	l := m.resultList
	if m.mode == panelDiagnostics {
		l = m.diagList
	}
	sel, ok := l.SelectedItem().(item)
	if !ok || sel.target.file == "" {
		return sourceTarget{}, false
	}
	return sel.target, true
}

func jumpToSourceCmd(target sourceTarget) tea.Cmd {
	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	args := []string{target.file}
	if strings.Contains(editor, "vim") || strings.Contains(editor, "nvim") || strings.HasSuffix(editor, "/vi") || editor == "vi" {
		args = []string{fmt.Sprintf("+%d", target.line), target.file}
	}
	cmd := exec.Command(editor, args...)
	label := fmt.Sprintf("%s:%d", target.file, target.line)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return sourceJumpResultMsg{target: label, err: err}
	})
}
