package plugins

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	plugindto "plughost/internal/modules/plugin/dto"
	"plughost/internal/ui/theme"
)

// Port is the slice of the plugin use-case this view drives.
type Port interface {
	Installed(ctx context.Context) ([]plugindto.InstalledPlugin, error)
	Toggle(ctx context.Context, pluginID string, enabled bool) plugindto.LifecycleResult
	Uninstall(ctx context.Context, pluginID string, confirm plugindto.UninstallConfirmFunc) plugindto.LifecycleResult
	Grants(pluginID string) []string
}

// LoadedMsg carries a fresh installed list.
type LoadedMsg struct {
	Plugins []plugindto.InstalledPlugin
	Err     error
}

// ResultMsg reports a toggle or uninstall and triggers a reload.
type ResultMsg struct {
	Result plugindto.LifecycleResult
}

// Model lists installed plugins and lets the user enable, disable and remove
// them.
type Model struct {
	port          Port
	plugins       []plugindto.InstalledPlugin
	cursor        int
	confirmDelete bool
	busy          bool
	status        string
	statusErr     bool
	width         int
	height        int
}

func New(port Port) Model {
	return Model{port: port, busy: true}
}

func (m Model) Init() tea.Cmd { return m.loadCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case LoadedMsg:
		m.busy = false
		if msg.Err != nil {
			m.setStatus("load plugins: "+msg.Err.Error(), true)
			return m, nil
		}
		m.plugins = msg.Plugins
		if m.cursor >= len(m.plugins) {
			m.cursor = max(len(m.plugins)-1, 0)
		}

	case ResultMsg:
		m.setStatus(msg.Result.Message, !msg.Result.Success)
		return m, m.loadCmd()

	case tea.KeyMsg:
		if m.confirmDelete {
			m.confirmDelete = false
			if msg.String() == "y" {
				if p, ok := m.selected(); ok {
					m.busy = true
					return m, m.uninstallCmd(p.PluginID)
				}
			}
			m.setStatus("uninstall cancelled", false)
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.plugins)-1 {
				m.cursor++
			}
		case "r":
			m.busy = true
			return m, m.loadCmd()
		case " ", "enter":
			if p, ok := m.selected(); ok && !m.busy {
				m.busy = true
				return m, m.toggleCmd(p.PluginID, !p.Enabled)
			}
		case "d", "delete":
			if _, ok := m.selected(); ok && !m.busy {
				m.confirmDelete = true
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	header := theme.Title.Render("Plugins") + "  " + theme.Muted.Render(fmt.Sprintf("%d installed", len(m.plugins)))
	if m.busy {
		header += "  " + theme.Muted.Render("working…")
	}

	listW := 36
	if m.width > 0 {
		listW = max(m.width*4/10, 24)
	}
	var rows strings.Builder
	if len(m.plugins) == 0 {
		rows.WriteString(theme.Muted.Render("No plugins installed."))
	}
	for i, p := range m.plugins {
		marker := "  "
		if i == m.cursor {
			marker = theme.Hot.Render("> ")
		}
		state := theme.Muted.Render("disabled")
		if p.Enabled && p.Loaded {
			state = theme.Ok.Render("loaded")
		} else if p.Enabled {
			state = theme.RiskMedium.Render("enabled")
		}
		rows.WriteString(fmt.Sprintf("%s%s %s  %s\n", marker, p.Name, theme.Muted.Render(p.Version), state))
	}
	list := theme.PaneActive.Width(listW).Render(rows.String())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", theme.Pane.Render(m.renderDetail()))

	footer := theme.Muted.Render("↑/↓: move  space: enable/disable  d: uninstall  r: reload  q: quit")
	if m.confirmDelete {
		if p, ok := m.selected(); ok {
			footer = theme.Hot.Render(fmt.Sprintf("Uninstall %s and revoke its permissions? y/N", p.PluginID))
		}
	} else if m.status != "" {
		style := theme.Ok
		if m.statusErr {
			style = theme.Hot
		}
		footer = style.Render(m.status) + "\n" + footer
	}
	return theme.App.Render(lipgloss.JoinVertical(lipgloss.Left, header, "", body, "", footer))
}

func (m Model) renderDetail() string {
	p, ok := m.selected()
	if !ok {
		return theme.Muted.Render("Select a plugin.")
	}
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(p.Name) + "  " + theme.Muted.Render(p.PluginID) + "\n")
	sb.WriteString(theme.Muted.Render("installed "+p.InstalledAt.Format("2006-01-02 15:04")) + "\n\n")
	grants := m.port.Grants(p.PluginID)
	if len(grants) == 0 {
		sb.WriteString(theme.Muted.Render("No permissions granted."))
		return sb.String()
	}
	sb.WriteString("Granted permissions\n")
	for _, g := range grants {
		sb.WriteString("  • " + g + "\n")
	}
	return sb.String()
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status = msg
	m.statusErr = isErr
}

func (m Model) selected() (plugindto.InstalledPlugin, bool) {
	if m.cursor < 0 || m.cursor >= len(m.plugins) {
		return plugindto.InstalledPlugin{}, false
	}
	return m.plugins[m.cursor], true
}

func (m Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		plugins, err := m.port.Installed(context.Background())
		return LoadedMsg{Plugins: plugins, Err: err}
	}
}

func (m Model) toggleCmd(pluginID string, enabled bool) tea.Cmd {
	return func() tea.Msg {
		return ResultMsg{Result: m.port.Toggle(context.Background(), pluginID, enabled)}
	}
}

// uninstallCmd runs after the inline y/N prompt, so the use-case is not asked
// to confirm again.
func (m Model) uninstallCmd(pluginID string) tea.Cmd {
	return func() tea.Msg {
		return ResultMsg{Result: m.port.Uninstall(context.Background(), pluginID, nil)}
	}
}
