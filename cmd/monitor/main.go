// command monitor is an interactive front panel for the controller
// core: it runs the full firmware loop against simulated hardware and
// shows the output port levels, button states, plunger position and
// status flags live, while accepting raw protocol messages from a
// prompt. Useful for exercising the LedWiz flash modes and the plunger
// release synthesizer without a cabinet.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"

	"pincab.dev/config"
	"pincab.dev/device"
	"pincab.dev/driver/tcd1103"
	"pincab.dev/driver/tsl14xx"
	"pincab.dev/plunger"
	"pincab.dev/proto"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#d9dccf", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874bfd", Dark: "#7d56f4"}
	active    = lipgloss.AdaptiveColor{Light: "#43bf6d", Dark: "#73f59f"}

	titleStyle = lipgloss.NewStyle().Foreground(highlight).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(subtle)
	onStyle    = lipgloss.NewStyle().Foreground(active)
	barStyle   = lipgloss.NewStyle().Foreground(highlight)
)

type tick struct{}

func doTick() tea.Cmd {
	return tea.Tick(25*time.Millisecond, func(time.Time) tea.Msg {
		return tick{}
	})
}

// Plunger animation states driven from the keyboard.
const (
	plungerIdle = iota
	plungerPulling
	plungerReleasing
)

type model struct {
	core *device.Core
	cfg  *config.Config
	sim  *tsl14xx.Sim

	input   textinput.Model
	history []string

	plungerAnim int
	err         string
}

// simHW is the all-virtual hardware backing: no pins, no buses, and
// the CCD simulator as the plunger acquisition path.
type simHW struct {
	sim *tsl14xx.Sim
}

func (h *simHW) GPIOOut(config.PinID) gpio.PinOut { return nil }
func (h *simHW) GPIOIn(config.PinID) gpio.PinIn   { return nil }
func (h *simHW) ADC(config.PinID) analog.PinADC   { return nil }
func (h *simHW) SPI() spi.Port                    { return nil }
func (h *simHW) I2C() i2c.Bus                     { return nil }
func (h *simHW) TSLEngine() tsl14xx.Engine        { return h.sim }
func (h *simHW) TCDEngine() tcd1103.Engine        { return nil }

func newModel() (*model, error) {
	cfg := &config.Config{}
	cfg.SetFactoryDefaults()
	for i := 0; i < 32; i++ {
		cfg.Outputs[i].Type = config.PortVirtual
	}
	// A couple of noisemakers so night mode is visible.
	cfg.Outputs[4].Flags = config.PortNoisemaker
	cfg.Outputs[5].Flags = config.PortNoisemaker
	cfg.Plunger.Enabled = true
	cfg.Plunger.SensorType = config.PlungerTSL1410R
	for i := 0; i < 8; i++ {
		cfg.Buttons[i].Type = config.KeyJoystick
		cfg.Buttons[i].Val = byte(i + 1)
	}

	sim := tsl14xx.NewSim()
	sim.Edge = 200

	start := time.Now()
	clock := func() uint32 {
		return uint32(time.Since(start).Microseconds())
	}
	core, err := device.New(cfg, &simHW{sim: sim}, clock, device.Options{})
	if err != nil {
		return nil, err
	}

	ti := textinput.New()
	ti.Placeholder = "raw message bytes, e.g. 40 ff 0 0 0 2"
	ti.Prompt = "> "
	ti.Focus()

	return &model{core: core, cfg: cfg, sim: sim, input: ti}, nil
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, doTick())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tick:
		m.animatePlunger()
		m.sim.Frame()
		for i := 0; i < 8; i++ {
			m.core.RunOnce()
		}
		return m, doTick()
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "f1", "f2", "f3", "f4":
			// Hold-free button taps.
			n := int(msg.String()[1] - '1')
			m.core.Scanner().SetPhysical(n, !m.core.Scanner().Physical(n))
			return m, nil
		case "ctrl+n":
			m.dispatchBytes([]byte{proto.MsgControl, proto.CtlNightMode, boolByte(!m.core.NightMode())})
			return m, nil
		case "ctrl+p":
			switch m.plungerAnim {
			case plungerIdle:
				m.plungerAnim = plungerPulling
			case plungerPulling:
				m.plungerAnim = plungerReleasing
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// animatePlunger moves the simulated shadow edge: a slow pull to full
// retraction, then a spring release back through the rest point.
func (m *model) animatePlunger() {
	const rest = 200
	switch m.plungerAnim {
	case plungerPulling:
		m.sim.Edge += 12
		if m.sim.Edge >= 1200 {
			m.sim.Edge = 1200
		}
	case plungerReleasing:
		m.sim.Edge -= 220
		if m.sim.Edge <= rest {
			m.sim.Edge = rest
			m.plungerAnim = plungerIdle
		}
	}
}

func (m *model) submit() {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	msg := make([]byte, 0, proto.MsgLen)
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			m.err = fmt.Sprintf("bad byte %q", f)
			return
		}
		msg = append(msg, byte(v))
	}
	m.err = ""
	m.dispatchBytes(msg)
	m.history = append(m.history, line)
	if len(m.history) > 5 {
		m.history = m.history[1:]
	}
}

func (m *model) dispatchBytes(b []byte) {
	var msg [proto.MsgLen]byte
	copy(msg[:], b)
	m.core.Dispatch(msg)
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("pincab monitor"))
	b.WriteString(dimStyle.Render("  ctrl+p pull/release plunger · ctrl+n night mode · f1-f4 buttons · esc quit"))
	b.WriteString("\n\n")

	// Output ports, four rows of eight.
	b.WriteString(titleStyle.Render("outputs"))
	b.WriteString("\n")
	ports := m.core.Ports()
	for row := 0; row < 4 && row*8 < len(ports); row++ {
		for col := 0; col < 8; col++ {
			i := row*8 + col
			if i >= len(ports) {
				break
			}
			b.WriteString(fmt.Sprintf("%3d %s  ", i+1, bar(ports[i].Level())))
		}
		b.WriteString("\n")
	}

	// Plunger.
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("plunger"))
	pos := m.core.Reader().Position()
	gauge := plungerGauge(pos)
	state := ""
	if m.core.Reader().Firing() {
		state = onStyle.Render(" FIRING")
	}
	b.WriteString(fmt.Sprintf("  %s %5d%s\n", gauge, pos, state))

	// Buttons.
	b.WriteString("\n")
	b.WriteString(titleStyle.Render("buttons"))
	b.WriteString("  ")
	for i := 0; i < 8; i++ {
		label := fmt.Sprintf("[%d]", i+1)
		if m.core.Scanner().Logical(i) {
			b.WriteString(onStyle.Render(label))
		} else {
			b.WriteString(dimStyle.Render(label))
		}
	}
	b.WriteString("\n\n")

	// Status.
	b.WriteString(titleStyle.Render("status"))
	b.WriteString("  ")
	if m.core.NightMode() {
		b.WriteString(onStyle.Render("night-mode "))
	}
	if m.core.Reader().Calibrating() {
		b.WriteString(onStyle.Render("calibrating "))
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("pbaIdx=%d", m.core.PBAIndex())))
	b.WriteString("\n\n")

	for _, h := range m.history {
		b.WriteString(dimStyle.Render("  " + h))
		b.WriteString("\n")
	}
	if m.err != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(m.err))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}

// bar renders an 8-step level bar.
func bar(v byte) string {
	blocks := "▁▂▃▄▅▆▇█"
	if v == 0 {
		return dimStyle.Render("·")
	}
	idx := int(v) * len([]rune(blocks)) / 256
	return barStyle.Render(string([]rune(blocks)[idx]))
}

// plungerGauge renders the Z axis as a bar around its rest point.
func plungerGauge(pos int16) string {
	const width = 24
	cell := int((int32(pos) + plunger.JoyMax) * width / (2 * plunger.JoyMax))
	if cell < 0 {
		cell = 0
	}
	if cell >= width {
		cell = width - 1
	}
	var sb strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == cell:
			sb.WriteString(barStyle.Render("█"))
		case i == width/2:
			sb.WriteString(dimStyle.Render("|"))
		default:
			sb.WriteString(dimStyle.Render("·"))
		}
	}
	return sb.String()
}

func main() {
	m, err := newModel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
	if _, err := tea.NewProgram(m).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}
