// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/stimctl/internal/metrics"
	"github.com/Thermoquad/stimctl/pkg/frame"
	"github.com/Thermoquad/stimctl/pkg/link"
	"github.com/Thermoquad/stimctl/pkg/magstim"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type monitorModel struct {
	s        *session
	devices  *metrics.DeviceMetrics
	interval time.Duration

	state       magstim.DeviceState
	params      string
	temperature string
	stats       link.Statistics
	pollErr     error

	editingPower bool
	powerInput   textinput.Model

	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type monitorTickMsg time.Time

type pollMsg struct {
	state       magstim.DeviceState
	params      string
	temperature string
	stats       link.Statistics
	err         error
}

type actionMsg struct {
	action string
	err    error
}

func initialMonitorModel(s *session, devices *metrics.DeviceMetrics, interval time.Duration) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "0-100"
	ti.CharLimit = 3
	ti.Width = 5
	return monitorModel{
		s:             s,
		devices:       devices,
		interval:      interval,
		powerInput:    ti,
		maxLogEntries: 50,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), m.tick())
}

func (m monitorModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// poll reads parameters and temperature off the UI goroutine.
func (m monitorModel) poll() tea.Cmd {
	s := m.s
	return func() tea.Msg {
		var msg pollMsg
		msg.params, msg.err = s.parameters()
		if r, err := s.unit.GetTemperature(); err == nil {
			msg.temperature = frame.FormatResponse(r)
		}
		msg.state = s.unit.State()
		msg.stats = s.unit.Statistics()
		return msg
	}
}

func (m monitorModel) act(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: name, err: fn()}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editingPower {
			return m.updatePowerInput(msg)
		}
		u := m.s.unit
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a":
			return m, m.act("arm", func() error { _, err := u.Arm(false); return err })
		case "d":
			return m, m.act("disarm", func() error { _, err := u.Disarm(); return err })
		case "f":
			return m, m.act("fire", func() error { _, err := u.Fire(); return err })
		case "t":
			return m, m.act("quick fire", func() error {
				if err := u.QuickFire(); err != nil {
					return err
				}
				time.Sleep(10 * time.Millisecond)
				return u.ResetQuickFire()
			})
		case "p":
			m.editingPower = true
			m.powerInput.SetValue("")
			return m, m.powerInput.Focus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		return m, tea.Batch(m.poll(), m.tick())

	case pollMsg:
		m.pollErr = msg.err
		m.state = msg.state
		m.stats = msg.stats
		if msg.err == nil {
			m.params = msg.params
		}
		if msg.temperature != "" {
			m.temperature = msg.temperature
		}
		if m.devices != nil {
			m.devices.ObserveState(msg.state)
			if m.s.dev != nil {
				m.devices.ObserveSnapshot(m.s.dev.Snapshot())
			}
		}

	case actionMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.action, msg.err), true)
		} else {
			m.addLogEntry(msg.action+" ok", false)
		}
		return m, m.poll()
	}

	return m, nil
}

func (m monitorModel) updatePowerInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.editingPower = false
		m.powerInput.Blur()
		return m, nil
	case "enter":
		m.editingPower = false
		m.powerInput.Blur()
		level, err := strconv.Atoi(strings.TrimSpace(m.powerInput.Value()))
		if err != nil {
			m.addLogEntry(fmt.Sprintf("invalid power %q", m.powerInput.Value()), true)
			return m, nil
		}
		u := m.s.unit
		return m, m.act(fmt.Sprintf("power %d%%", level), func() error {
			_, err := u.SetPower(level, true)
			return err
		})
	}
	var cmd tea.Cmd
	m.powerInput, cmd = m.powerInput.Update(msg)
	return m, cmd
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func indicator(on bool, label string, onStyle, offStyle lipgloss.Style) string {
	if on {
		return onStyle.Render("● " + label)
	}
	return offStyle.Render("○ " + label)
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Disarming and releasing remote control...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("STIMCTL MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | a=arm d=disarm f=fire t=quick p=power q=quit",
		m.s.info, m.s.unit.Model())))
	s.WriteString("\n\n")

	// Unit state
	st := m.state
	state := strings.Join([]string{
		indicator(st.Connected, "connected", statsValueStyle, headerStyle),
		indicator(st.RemoteControl, "remote", statsValueStyle, warningStyle),
		indicator(st.Armed, "armed", warningStyle, headerStyle),
		indicator(st.Ready, "ready", errorStyle, headerStyle),
	}, "  ")
	if st.RepetitiveMode {
		state += "  " + indicator(st.SequenceValidated, "validated", statsValueStyle, warningStyle)
	}
	if st.Version != nil {
		state += "  " + headerStyle.Render("software "+st.Version.String())
	}

	unit := strings.Builder{}
	unit.WriteString(state + "\n")
	unit.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Parameters:"), statsValueStyle.Render(m.params)))
	unit.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Temperature:"), statsValueStyle.Render(m.temperature)))
	if m.pollErr != nil {
		unit.WriteString("\n" + errorStyle.Render(fmt.Sprintf("Poll failed: %v", m.pollErr)))
	}
	s.WriteString(boxStyle.Render(unit.String()))
	s.WriteString("\n\n")

	// Link statistics
	linkBox := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.FramesSent)),
		statsLabelStyle.Render("Heartbeats:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Heartbeats)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Errors:"), func() string {
			n := m.stats.WriteErrors + m.stats.ReadErrors + m.stats.ProtocolErrors
			if n > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", n))
			}
			return statsValueStyle.Render("0")
		}(),
	)
	s.WriteString(boxStyle.Render(linkBox))
	s.WriteString("\n\n")

	if m.editingPower {
		s.WriteString(statsLabelStyle.Render("Power: "))
		s.WriteString(m.powerInput.View())
		s.WriteString(headerStyle.Render("  enter=set esc=cancel"))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Events:"))
	s.WriteString("\n")
	maxLines := m.height - 14
	if maxLines < 3 {
		maxLines = 3
	}
	start := 0
	if len(m.eventLog) > maxLines {
		start = len(m.eventLog) - maxLines
	}
	for _, e := range m.eventLog[start:] {
		line := fmt.Sprintf("[%s] %s", e.timestamp.Format("15:04:05"), e.message)
		if e.isError {
			s.WriteString(errorStyle.Render(line))
		} else {
			s.WriteString(headerStyle.Render(line))
		}
		s.WriteString("\n")
	}

	return s.String()
}
