package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-capi/capi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	engine   *capi.Engine
	instance *capi.Instance
	stubLog  *bytes.Buffer
	filename string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	opts     options
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	fn      *capi.Func
	name    string
	params  []capi.ValKind
	results []capi.ValKind
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(opts options, filename string) *interactiveModel {
	return &interactiveModel{
		filename: filename,
		opts:     opts,
		stubLog:  &bytes.Buffer{},
		state:    stateSelectFunc,
	}
}

type loadedMsg struct {
	err    error
	engine *capi.Engine
	inst   *capi.Instance
	funcs  []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	ctx := context.Background()

	eng, store, mod, err := open(ctx, m.opts, m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	stubs, err := stubImports(store, mod, m.stubLog)
	if err != nil {
		eng.Delete(ctx)
		return loadedMsg{err: err}
	}
	inst, err := capi.NewInstance(ctx, store, mod, stubs)
	if err != nil {
		eng.Delete(ctx)
		return loadedMsg{err: err}
	}

	names, err := exportedFuncs(mod)
	if err != nil {
		eng.Delete(ctx)
		return loadedMsg{err: err}
	}
	sort.Strings(names)

	var funcs []funcInfo
	for _, name := range names {
		ext, err := inst.Export(name)
		if err != nil {
			eng.Delete(ctx)
			return loadedMsg{err: err}
		}
		fn, err := ext.AsFunc()
		if err != nil {
			eng.Delete(ctx)
			return loadedMsg{err: err}
		}
		ft, err := fn.Type()
		if err != nil {
			eng.Delete(ctx)
			return loadedMsg{err: err}
		}
		fi := funcInfo{fn: fn, name: name, results: resultKinds(ft)}
		for _, p := range ft.Params().Slice() {
			fi.params = append(fi.params, p.Kind())
		}
		funcs = append(funcs, fi)
	}

	return loadedMsg{engine: eng, inst: inst, funcs: funcs}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.engine != nil {
				m.engine.Delete(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.engine = msg.engine
		m.instance = msg.inst
		m.funcs = msg.funcs

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.params))
	for i, k := range f.params {
		ti := textinput.New()
		ti.Placeholder = k.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]capi.Val, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseVal(strings.TrimSpace(input.Value()), f.params[i])
		if err != nil {
			return callResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = v
	}

	m.stubLog.Reset()
	results := make([]capi.Val, len(f.results))
	if err := f.fn.Call(context.Background(), args, results); err != nil {
		return callResultMsg{err: err}
	}

	out := formatVals(results)
	if m.stubLog.Len() > 0 {
		out += "\n\nimports called:\n" + strings.TrimRight(m.stubLog.String(), "\n")
	}
	return callResultMsg{result: out}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.instance == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Explorer"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render("(" + m.engine.Mode().String() + ")"))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("The module exports no functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatFunc(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Trap: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	params := make([]string, len(f.params))
	for i, k := range f.params {
		params[i] = typeStyle.Render(k.String())
	}
	out := funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")"
	if len(f.results) > 0 {
		results := make([]string, len(f.results))
		for i, k := range f.results {
			results[i] = typeStyle.Render(k.String())
		}
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}

func runInteractive(opts options, filename string) error {
	p := tea.NewProgram(newInteractiveModel(opts, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
