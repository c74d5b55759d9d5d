// internal/tui/model.go
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andrewleech/mpy-devices/internal/model"
	"github.com/andrewleech/mpy-devices/internal/query"
)

// Ensure Model satisfies tea.Model.
var _ tea.Model = (*Model)(nil)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Model is the root Bubble Tea model for the device dashboard.
type Model struct {
	service *query.Service
	timeout time.Duration

	table     table.Model
	endpoints []model.DeviceEndpoint
	results   map[string]model.QueryResult
	pending   map[string]bool
	status    string

	width  int
	height int
}

// New creates the dashboard model.
func New(service *query.Service, timeout time.Duration) Model {
	columns := []table.Column{
		{Title: "Device", Width: 22},
		{Title: "Serial", Width: 16},
		{Title: "VID:PID", Width: 10},
		{Title: "Board", Width: 30},
		{Title: "Status", Width: 12},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{
		service: service,
		timeout: timeout,
		table:   t,
		results: make(map[string]model.QueryResult),
		pending: make(map[string]bool),
		status:  "Scanning...",
	}
}

// Init starts the first enumeration pass.
func (m Model) Init() tea.Cmd {
	return loadDevicesCmd(m.service)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height-12, 4))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "Scanning..."
			m.results = make(map[string]model.QueryResult)
			m.pending = make(map[string]bool)
			return m, loadDevicesCmd(m.service)
		}

	case devicesLoadedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Scan failed: %v", msg.err)
			m.endpoints = nil
			m.table.SetRows(nil)
			return m, nil
		}
		m.endpoints = msg.endpoints
		if len(m.endpoints) == 0 {
			m.status = "No devices found - press r to rescan"
			m.table.SetRows(nil)
			return m, nil
		}

		cmds := make([]tea.Cmd, 0, len(m.endpoints))
		for _, endpoint := range m.endpoints {
			m.pending[endpoint.Path] = true
			cmds = append(cmds, queryDeviceCmd(m.service, endpoint, m.timeout))
		}
		m.status = fmt.Sprintf("Querying %d device(s)...", len(m.endpoints))
		m.refreshRows()
		return m, tea.Batch(cmds...)

	case queryResultMsg:
		path := msg.result.Endpoint.Path
		delete(m.pending, path)
		m.results[path] = msg.result
		m.refreshRows()
		if len(m.pending) == 0 {
			m.status = fmt.Sprintf("%d device(s) - updated %s",
				len(m.endpoints), time.Now().Format("15:04:05"))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	title := titleStyle.Render("MicroPython Devices")
	details := panelStyle.Render(m.detailsView())
	status := helpStyle.Render(m.status)
	help := helpStyle.Render("r refresh - q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.table.View(),
		details,
		status,
		help,
	)
}

// refreshRows rebuilds the table from current endpoints and results.
func (m *Model) refreshRows() {
	rows := make([]table.Row, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		board := ""
		status := warnStyle.Render("querying...")

		if result, ok := m.results[endpoint.Path]; ok {
			if result.OK() {
				if result.Identity.Machine != nil {
					board = *result.Identity.Machine
				}
				status = okStyle.Render("ok")
			} else {
				status = errStyle.Render(string(result.Failure.Kind))
			}
		}

		rows = append(rows, table.Row{
			endpoint.Path,
			endpoint.SerialNumber,
			endpoint.VIDPID(),
			board,
			status,
		})
	}
	m.table.SetRows(rows)
}

// detailsView renders the selected device's details.
func (m Model) detailsView() string {
	cursor := m.table.Cursor()
	if cursor < 0 || cursor >= len(m.endpoints) {
		return "Select a device to view details"
	}
	endpoint := m.endpoints[cursor]

	lines := []string{labelStyle.Render("TTY Path: ") + endpoint.Path}
	if endpoint.ByIDPath != "" {
		lines = append(lines, labelStyle.Render("By-ID Path: ")+endpoint.ByIDPath)
	}
	if endpoint.VIDPID() != "" {
		lines = append(lines, labelStyle.Render("VID:PID: ")+endpoint.VIDPID())
	}
	if endpoint.SerialNumber != "" {
		lines = append(lines, labelStyle.Render("Serial Number: ")+endpoint.SerialNumber)
	}
	if endpoint.Manufacturer != "" {
		lines = append(lines, labelStyle.Render("Manufacturer: ")+endpoint.Manufacturer)
	}
	if endpoint.Product != "" {
		lines = append(lines, labelStyle.Render("Product: ")+endpoint.Product)
	}

	if m.pending[endpoint.Path] {
		lines = append(lines, "", warnStyle.Render("Querying device..."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	if result, ok := m.results[endpoint.Path]; ok {
		if result.OK() {
			lines = append(lines, "", labelStyle.Render("MicroPython:"))
			lines = append(lines, identityLines(result.Identity)...)
		} else {
			lines = append(lines, "", errStyle.Render("Error: ")+result.Failure.Error())
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func identityLines(identity *model.DeviceIdentity) []string {
	var lines []string
	add := func(label string, value *string) {
		if value != nil {
			lines = append(lines, "  "+labelStyle.Render(label+": ")+*value)
		}
	}
	add("Machine", identity.Machine)
	add("System", identity.System)
	add("Release", identity.Release)
	add("Version", identity.Version)
	add("Nodename", identity.NodeName)
	return lines
}

// Run starts the dashboard in the alternate screen.
func Run(service *query.Service, timeout time.Duration) error {
	program := tea.NewProgram(New(service, timeout), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
