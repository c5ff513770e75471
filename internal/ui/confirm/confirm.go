// Package confirm asks the user whether a plugin may have the permissions it
// requests, either as a full-screen prompt or as a plain line prompt.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	plugindto "plughost/internal/modules/plugin/dto"
	"plughost/internal/ui/theme"
)

var ErrAborted = errors.New("prompt aborted")

type choice int

const (
	choiceApprove choice = iota
	choiceDeny
)

// Model is the Bubble Tea model for a single install approval.
type Model struct {
	pending  plugindto.PendingApproval
	cursor   choice
	done     bool
	approved bool
	aborted  bool
	width    int
}

func New(pending plugindto.PendingApproval) Model {
	// Requests with a high-risk permission default to deny.
	cursor := choiceApprove
	if len(pending.High) > 0 {
		cursor = choiceDeny
	}
	return Model{pending: pending, cursor: cursor}
}

// Approved reports the final answer once the program has quit.
func (m Model) Approved() bool { return m.done && m.approved }

// Aborted reports whether the prompt was interrupted rather than answered.
func (m Model) Aborted() bool { return m.aborted }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "Y":
			return m.finish(true)
		case "n", "N", "esc":
			return m.finish(false)
		case "left", "right", "tab", "shift+tab", "h", "l":
			m.cursor = 1 - m.cursor
		case "enter":
			return m.finish(m.cursor == choiceApprove)
		case "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) finish(approved bool) (tea.Model, tea.Cmd) {
	m.done = true
	m.approved = approved
	return m, tea.Quit
}

func (m Model) View() string {
	if m.done || m.aborted {
		return ""
	}
	approve, deny := theme.Button.Render("Approve"), theme.ButtonActive.Render("Deny")
	if m.cursor == choiceApprove {
		approve, deny = theme.ButtonActive.Render("Approve"), theme.Button.Render("Deny")
	}
	body := Summary(m.pending) + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, approve, "  ", deny) + "\n\n" +
		theme.Muted.Render("y: approve  n/esc: deny  ←/→: move  enter: choose")
	pane := theme.PaneActive
	if m.width > 8 {
		pane = pane.Width(m.width - 4)
	}
	return pane.Render(body)
}

// Summary renders the request grouped from highest to lowest risk.
func Summary(p plugindto.PendingApproval) string {
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(fmt.Sprintf("Install %s %s", p.PluginName, p.Version)) + "\n")
	sb.WriteString(theme.Muted.Render(fmt.Sprintf("%s requests %d permission(s)", p.PluginID, len(p.Permissions))) + "\n\n")
	groups := []struct {
		label string
		risk  string
		items []plugindto.PermissionInfo
	}{
		{"High risk", "high", p.High},
		{"Medium risk", "medium", p.Medium},
		{"Low risk", "low", p.Low},
	}
	for _, g := range groups {
		if len(g.items) == 0 {
			continue
		}
		style := theme.Risk(g.risk)
		sb.WriteString(style.Render(g.label) + "\n")
		for _, item := range g.items {
			sb.WriteString(fmt.Sprintf("  %s %s  %s\n", style.Render("•"), item.Label, theme.Muted.Render(item.Permission)))
			if item.Description != "" {
				sb.WriteString("    " + theme.Muted.Render(item.Description) + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Prompt runs the interactive prompt on in/out until the user answers or ctx
// ends.
func Prompt(ctx context.Context, pending plugindto.PendingApproval, in io.Reader, out io.Writer) (bool, error) {
	program := tea.NewProgram(New(pending), tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("run permission prompt: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return false, fmt.Errorf("run permission prompt: unexpected model %T", final)
	}
	if m.Aborted() {
		return false, ErrAborted
	}
	return m.Approved(), nil
}

// Terminal returns a confirm func backed by the interactive prompt.
func Terminal(in io.Reader, out io.Writer) plugindto.ConfirmFunc {
	return func(ctx context.Context, pending plugindto.PendingApproval) (bool, error) {
		return Prompt(ctx, pending, in, out)
	}
}

// Line returns a confirm func that prints the summary and reads a y/N answer.
// It is used when stdin is not a terminal.
func Line(in io.Reader, out io.Writer) plugindto.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, pending plugindto.PendingApproval) (bool, error) {
		fmt.Fprint(out, Summary(pending))
		fmt.Fprint(out, "Approve? [y/N] ")
		return readYes(ctx, reader)
	}
}

// LineUninstall asks before removing a plugin.
func LineUninstall(in io.Reader, out io.Writer) plugindto.UninstallConfirmFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, pluginID string) (bool, error) {
		fmt.Fprintf(out, "Uninstall %s and revoke its permissions? [y/N] ", pluginID)
		return readYes(ctx, reader)
	}
}

// AutoApprove grants every request without asking.
func AutoApprove() plugindto.ConfirmFunc {
	return func(context.Context, plugindto.PendingApproval) (bool, error) { return true, nil }
}

func readYes(ctx context.Context, reader *bufio.Reader) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
