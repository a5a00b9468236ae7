// Package tui provides the terminal user interface for a task list.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"milista/backend"
	"milista/internal/item"
	"milista/internal/tasklist"
)

// TaskList is the part of the list controller the UI drives
type TaskList interface {
	item.Actions
	AddTask(ctx context.Context, text string) tasklist.Result
	Tasks() []backend.Task
}

// Focus indicates which part of the screen receives keys
type Focus int

const (
	FocusInput Focus = iota
	FocusList
)

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeEdit
	ModeFilter
	ModeHelp
)

// Model represents the TUI state
type Model struct {
	list  TaskList
	rows  *item.Rows
	ctx   context.Context
	title string

	// indices into rows for the filtered view
	visible []int
	cursor  int
	offset  int

	focus     Focus
	mode      Mode
	editingID string
	input     textinput.Model
	editor    textinput.Model
	search    textinput.Model
	filter    string
	lastErr   error

	width  int
	height int

	headerStyle    lipgloss.Style
	inputStyle     lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	helpStyle      lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
	errorStyle     lipgloss.Style
}

// tasksMsg carries the list after a snapshot or an optimistic patch
type tasksMsg struct {
	tasks []backend.Task
}

type resultMsg struct {
	res tasklist.Result
}

type errMsg struct {
	err error
}

// Option configures a Model
type Option func(*Model)

// WithTitle sets the header text
func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

// WithContext sets the context passed to list mutations
func WithContext(ctx context.Context) Option {
	return func(m *Model) {
		m.ctx = ctx
	}
}

// New creates a TUI model over list. The rows start from list.Tasks();
// later changes arrive through Attach.
func New(list TaskList, opts ...Option) *Model {
	input := textinput.New()
	input.Placeholder = "What needs to be done?"
	input.CharLimit = 512
	input.Prompt = "+ "
	input.Focus()

	editor := textinput.New()
	editor.CharLimit = 512
	editor.Prompt = ""

	search := textinput.New()
	search.Placeholder = "Search..."

	m := &Model{
		list:   list,
		rows:   item.NewRows(list),
		ctx:    context.Background(),
		title:  "milista",
		focus:  FocusInput,
		mode:   ModeNormal,
		input:  input,
		editor: editor,
		search: search,
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1),
		inputStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		errorStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("52")).
			Foreground(lipgloss.Color("231")).
			Padding(0, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rows.Sync(list.Tasks())
	m.applyFilter()
	return m
}

// Attach forwards every list change to send, usually Program.Send.
// It must be called before the controller is started.
func Attach(list *tasklist.Controller, send func(tea.Msg)) {
	list.OnChange(func(tasks []backend.Task) {
		send(tasksMsg{tasks: tasks})
	})
}

// Run starts list and runs the UI until the user quits or ctx is done.
// The caller stops the controller afterwards.
func Run(ctx context.Context, list *tasklist.Controller, opts ...Option) error {
	m := New(list, append([]Option{WithContext(ctx)}, opts...)...)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	Attach(list, p.Send)

	go func() {
		if err := list.Start(ctx); err != nil {
			p.Send(errMsg{err})
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) resultCmd(fn func() tasklist.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{fn()}
	}
}

// selected returns the row under the cursor
func (m *Model) selected() *item.Controller {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return nil
	}
	return m.rows.At(m.visible[m.cursor])
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-8, 10)
		m.editor.Width = max(msg.Width-12, 10)
		m.clampCursor()
		return m, nil

	case tasksMsg:
		m.rows.Sync(msg.tasks)
		if m.mode == ModeEdit {
			if _, ok := m.rows.Get(m.editingID); !ok {
				m.stopEditing()
			}
		}
		m.applyFilter()
		return m, nil

	case resultMsg:
		switch {
		case msg.res.OK():
			m.lastErr = nil
		case errors.Is(msg.res.Err, tasklist.ErrEmptyText):
			// nothing was typed
		default:
			m.lastErr = fmt.Errorf("%s failed: %w", msg.res.Op, msg.res.Err)
		}
		return m, nil

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.mode {
		case ModeEdit:
			return m.handleEditMode(msg)
		case ModeFilter:
			return m.handleFilterMode(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		}
		if m.focus == FocusInput {
			return m.handleInput(msg)
		}
		return m.handleListKeys(msg)
	}

	return m, nil
}

func (m *Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		text := m.input.Value()
		m.input.Reset()
		return m, m.resultCmd(func() tasklist.Result {
			return m.list.AddTask(m.ctx, text)
		})

	case tea.KeyTab, tea.KeyDown, tea.KeyEsc:
		m.focus = FocusList
		m.input.Blur()
		return m, nil
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "tab", "a", "i":
		m.focus = FocusInput
		m.input.Focus()
		return m, textinput.Blink

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampCursor()
		return m, nil

	case "down", "j":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
		m.clampCursor()
		return m, nil

	case "g", "home":
		m.cursor = 0
		m.clampCursor()
		return m, nil

	case "G", "end":
		m.cursor = len(m.visible) - 1
		m.clampCursor()
		return m, nil

	case "e", "enter":
		row := m.selected()
		if row == nil {
			return m, nil
		}
		row.BeginEdit()
		m.mode = ModeEdit
		m.editingID = row.Task().ID
		m.editor.SetValue(row.Buffer())
		m.editor.CursorEnd()
		m.editor.Focus()
		return m, textinput.Blink

	case "c", " ":
		row := m.selected()
		if row == nil {
			return m, nil
		}
		return m, m.resultCmd(func() tasklist.Result { return row.Toggle(m.ctx) })

	case "d":
		row := m.selected()
		if row == nil {
			return m, nil
		}
		return m, m.resultCmd(func() tasklist.Result { return row.Delete(m.ctx) })

	case "/":
		m.mode = ModeFilter
		m.search.SetValue(m.filter)
		m.search.Focus()
		return m, textinput.Blink

	case "?":
		m.mode = ModeHelp
		return m, nil
	}
	return m, nil
}

func (m *Model) handleEditMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	row, ok := m.rows.Get(m.editingID)
	if !ok {
		m.stopEditing()
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		row.SetBuffer(m.editor.Value())
		m.stopEditing()
		return m, m.resultCmd(func() tasklist.Result { return row.Confirm(m.ctx) })

	case tea.KeyEsc:
		row.Cancel()
		m.stopEditing()
		return m, nil
	}

	m.editor, cmd = m.editor.Update(msg)
	row.SetBuffer(m.editor.Value())
	return m, cmd
}

func (m *Model) stopEditing() {
	m.mode = ModeNormal
	m.editingID = ""
	m.editor.Blur()
}

func (m *Model) handleFilterMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		m.filter = m.search.Value()
		m.search.Blur()
		m.mode = ModeNormal
		m.applyFilter()
		return m, nil

	case tea.KeyEsc:
		m.filter = ""
		m.search.Blur()
		m.mode = ModeNormal
		m.applyFilter()
		return m, nil
	}

	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m *Model) applyFilter() {
	needle := strings.ToLower(m.filter)
	m.visible = m.visible[:0]
	for i, row := range m.rows.Items() {
		if needle == "" || strings.Contains(strings.ToLower(row.Task().Text), needle) {
			m.visible = append(m.visible, i)
		}
	}
	m.clampCursor()
}

// listHeight is the number of task lines that fit on screen
func (m *Model) listHeight() int {
	h := m.height
	if h == 0 {
		h = 24
	}
	// header, input box (3 lines), blank line, status bar
	return max(h-6, 1)
}

// clampCursor keeps the cursor in range and scrolls it into view
func (m *Model) clampCursor() {
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	height := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+height {
		m.offset = m.cursor - height + 1
	}
	if m.offset > max(len(m.visible)-height, 0) {
		m.offset = max(len(m.visible)-height, 0)
	}
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeFilter:
		return m.renderFilterDialog()
	case ModeHelp:
		return m.renderHelpDialog()
	}

	var b strings.Builder
	b.WriteString(m.headerStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.inputStyle.Width(max(m.width-4, 10)).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderTasks())
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderTasks() string {
	var b strings.Builder
	height := m.listHeight()

	if len(m.visible) == 0 {
		if m.filter != "" {
			b.WriteString("  No matching tasks\n")
		} else {
			b.WriteString("  No tasks yet\n")
		}
		height--
	}

	end := min(m.offset+height, len(m.visible))
	for vi := m.offset; vi < end; vi++ {
		row := m.rows.At(m.visible[vi])
		b.WriteString(m.renderRow(row, vi == m.cursor && m.focus == FocusList))
		b.WriteString("\n")
	}
	for i := end - m.offset; i < height; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderRow(row *item.Controller, selected bool) string {
	task := row.Task()

	cursor := " "
	if selected {
		cursor = ">"
	}
	status := "[ ]"
	if task.IsComplete {
		status = "[✓]"
	}

	if row.State() == item.Editing && task.ID == m.editingID {
		return cursor + " " + status + " " + m.editor.View()
	}

	text := task.Text
	switch {
	case task.IsComplete:
		text = m.completedStyle.Render(text)
	case selected:
		text = m.selectedStyle.Render(text)
	}
	return cursor + " " + status + " " + text
}

func (m *Model) renderStatusBar() string {
	if m.lastErr != nil {
		return m.errorStyle.Width(m.width).Render("error: " + m.lastErr.Error())
	}

	done := 0
	for _, row := range m.rows.Items() {
		if row.Task().IsComplete {
			done++
		}
	}
	left := fmt.Sprintf("%d tasks, %d done", m.rows.Len(), done)

	var right string
	switch {
	case m.mode == ModeEdit:
		right = "enter:save  esc:cancel"
	case m.focus == FocusInput:
		right = "enter:add  tab:list  ctrl+c:quit"
	default:
		right = "e:edit  c:toggle  d:delete  ?:help  q:quit"
	}
	if m.filter != "" {
		right = "Filter: " + m.filter + "  " + right
	}

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) renderFilterDialog() string {
	dialog := m.dialogStyle.Render(
		"Search Tasks\n\n" +
			m.search.View() + "\n\n" +
			m.helpStyle.Render("Enter: filter  Esc: clear"),
	)
	return m.centerDialog(dialog)
}

func (m *Model) renderHelpDialog() string {
	help := `Help - Key Bindings

New task input:
  Enter  Add the typed task
  Tab    Move to the list

List:
  j/↓    Move down
  k/↑    Move up
  e      Edit selected task (Enter saves, Esc cancels)
  c/Space Toggle completion
  d      Delete task
  /      Search tasks
  Tab    Back to the input

General:
  ?      Show this help
  q      Quit

Press any key to close`

	return m.centerDialog(m.dialogStyle.Render(help))
}

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogWidth := 0
	for _, line := range lines {
		dialogWidth = max(dialogWidth, lipgloss.Width(line))
	}

	topPad := max((m.height-len(lines))/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", topPad))
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Focus returns which part of the screen has focus
func (m *Model) Focus() Focus {
	return m.focus
}

// Mode returns the current input mode
func (m *Model) Mode() Mode {
	return m.mode
}

// Err returns the error shown in the status bar, if any
func (m *Model) Err() error {
	return m.lastErr
}
