// Package overlay is the terminal panel for a debugger: console, network
// and storage tabs fed by aggregator updates, with a command input.
package overlay

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"pagescope/internal/aggregator"
	"pagescope/internal/bridge"
	"pagescope/internal/event"
	"pagescope/internal/logging"
)

// Tab is one of the panel's views.
type Tab int

const (
	TabConsole Tab = iota
	TabNetwork
	TabStorage
	tabCount
)

func (t Tab) String() string {
	switch t {
	case TabConsole:
		return "Console"
	case TabNetwork:
		return "Network"
	case TabStorage:
		return "Storage"
	}
	return "?"
}

// chrome is the number of rows outside the body viewport.
const chrome = 5

// Debugger is what the panel reads from and calls back into.
type Debugger interface {
	Aggregator() *aggregator.Aggregator
	Execute(ctx context.Context, code string) bridge.CommandResult
	Hide()
	ClearLogs() error
	ClearNetworkRequests() error
	HandleMemoryPressure() (aggregator.CompactResult, error)
}

// Options configures the panel.
type Options struct {
	// Context bounds commands started from the input line.
	Context context.Context
	// MarkdownStyle is a glamour style name for the request detail view.
	MarkdownStyle string
	Width         int
	Height        int
}

// UpdateMsg carries one aggregator change into the program.
type UpdateMsg struct {
	Update aggregator.Update
}

type commandDoneMsg struct {
	result bridge.CommandResult
}

type compactedMsg struct {
	result aggregator.CompactResult
	err    error
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Forward subscribes to agg and sends every update to p as an UpdateMsg.
func Forward(agg *aggregator.Aggregator, p Sender) (cancel func()) {
	return agg.Subscribe(func(u aggregator.Update) {
		p.Send(UpdateMsg{Update: u})
	})
}

// Model is the bubbletea model of the panel.
type Model struct {
	dbg    Debugger
	ctx    context.Context
	styles Styles
	style  string

	tab         Tab
	hidden      map[event.Level]bool
	hideReports bool // network reports posted by page code

	logs       []event.LogEntry
	maxLogs    int
	requests   []event.NetworkRequest // newest first
	storage    event.StorageSnapshot
	hasStorage bool

	cursor   int
	selected string
	detail   string

	input    textinput.Model
	body     viewport.Model
	renderer *glamour.TermRenderer
	status   string

	width  int
	height int
}

// New builds a panel showing dbg's current state.
func New(dbg Debugger, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Width <= 0 {
		opts.Width = 100
	}
	if opts.Height <= 0 {
		opts.Height = 30
	}

	in := textinput.New()
	in.Placeholder = "JavaScript code..."
	in.Prompt = "> "
	in.Focus()

	agg := dbg.Aggregator()
	m := Model{
		dbg:     dbg,
		ctx:     opts.Context,
		styles:  DefaultStyles(),
		style:   opts.MarkdownStyle,
		hidden:  map[event.Level]bool{},
		logs:    agg.CurrentLogs(),
		maxLogs: agg.Options().MaxLogs,
		input:   in,
		body:    viewport.New(opts.Width, 1),
	}
	m.requests = newestFirst(agg.Requests())
	m.storage, m.hasStorage = agg.Storage()
	m.setSize(opts.Width, opts.Height)
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Tab reports the active tab.
func (m Model) Tab() Tab { return m.tab }

// Status is the last one-line notice shown above the body.
func (m Model) Status() string { return m.status }

// Selected returns the id of the request whose detail is open.
func (m Model) Selected() string { return m.selected }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil
	case UpdateMsg:
		m.apply(msg.Update)
		m.refresh()
		return m, nil
	case commandDoneMsg:
		if msg.result.Failed() {
			m.status = "command failed"
		} else {
			m.status = ""
		}
		return m, nil
	case compactedMsg:
		if msg.err != nil {
			m.status = "compaction failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("compacted: removed %d logs, %d requests",
				msg.result.RemovedLogs, msg.result.RemovedRequests)
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.detail != "" {
			m.closeDetail()
			m.refresh()
			return m, nil
		}
		return m.Close()
	case "tab":
		m.setTab((m.tab + 1) % tabCount)
		return m, nil
	case "shift+tab":
		m.setTab((m.tab + tabCount - 1) % tabCount)
		return m, nil
	case "ctrl+x":
		return m.Clear()
	case "ctrl+g":
		dbg := m.dbg
		return m, func() tea.Msg {
			res, err := dbg.HandleMemoryPressure()
			return compactedMsg{result: res, err: err}
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.body, cmd = m.body.Update(msg)
		return m, cmd
	case "f1", "f2", "f3", "f4", "f5":
		if m.tab == TabConsole {
			m.toggleLevel(event.AllLevels[key[1]-'1'])
			m.refresh()
		}
		return m, nil
	case "f6":
		if m.tab == TabConsole {
			m.hideReports = !m.hideReports
			m.refresh()
		}
		return m, nil
	}

	if m.detail != "" || m.tab == TabStorage {
		var cmd tea.Cmd
		m.body, cmd = m.body.Update(msg)
		return m, cmd
	}

	switch m.tab {
	case TabConsole:
		if msg.Type == tea.KeyEnter {
			return m.execute()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case TabNetwork:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.requests)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.requests) {
				m = m.SelectRequest(m.requests[m.cursor].ID)
			}
		}
		m.refresh()
	}
	return m, nil
}

// Close hides the panel and ends the program.
func (m Model) Close() (Model, tea.Cmd) {
	m.dbg.Hide()
	return m, tea.Quit
}

// Clear empties the store behind the active tab. Storage is never cleared.
func (m Model) Clear() (Model, tea.Cmd) {
	var err error
	switch m.tab {
	case TabConsole:
		err = m.dbg.ClearLogs()
		m.logs = nil
	case TabNetwork:
		err = m.dbg.ClearNetworkRequests()
		m.requests = nil
		m.cursor = 0
		m.closeDetail()
	default:
		return m, nil
	}
	if err != nil {
		logging.OverlayDebug("clear %s: %v", m.tab, err)
		m.status = "clear failed: " + err.Error()
	}
	m.refresh()
	return m, nil
}

// SelectRequest opens the detail view for id. Unknown ids close it.
func (m Model) SelectRequest(id string) Model {
	for i, req := range m.requests {
		if req.ID == id {
			m.cursor = i
			m.selected = id
			m.detail = m.render(RequestMarkdown(req))
			m.tab = TabNetwork
			m.refresh()
			m.body.GotoTop()
			return m
		}
	}
	m.closeDetail()
	m.refresh()
	return m
}

func (m Model) execute() (tea.Model, tea.Cmd) {
	code := strings.TrimSpace(m.input.Value())
	if code == "" {
		return m, nil
	}
	m.input.Reset()
	dbg, ctx := m.dbg, m.ctx
	return m, func() tea.Msg {
		return commandDoneMsg{result: dbg.Execute(ctx, code)}
	}
}

func (m *Model) apply(u aggregator.Update) {
	switch u.Kind {
	case aggregator.LogAdded:
		m.logs = append(m.logs, u.Log)
		if over := len(m.logs) - m.maxLogs; m.maxLogs > 0 && over > 0 {
			m.logs = append([]event.LogEntry(nil), m.logs[over:]...)
		}
	case aggregator.LogsReset:
		m.logs = u.Logs
	case aggregator.RequestsChanged:
		m.requests = newestFirst(u.Requests)
		if m.cursor >= len(m.requests) {
			m.cursor = max(0, len(m.requests)-1)
		}
		if m.selected != "" {
			found := false
			for _, req := range m.requests {
				if req.ID == m.selected {
					m.detail = m.render(RequestMarkdown(req))
					found = true
					break
				}
			}
			if !found {
				m.closeDetail()
			}
		}
	case aggregator.StorageChanged:
		m.storage = u.Storage
		m.hasStorage = true
	}
}

func (m *Model) setTab(t Tab) {
	m.tab = t
	m.closeDetail()
	if t == TabConsole {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.refresh()
}

func (m *Model) closeDetail() {
	m.selected = ""
	m.detail = ""
}

func (m *Model) toggleLevel(lvl event.Level) {
	next := make(map[event.Level]bool, len(m.hidden)+1)
	for k, v := range m.hidden {
		next[k] = v
	}
	next[lvl] = !next[lvl]
	m.hidden = next
}

func (m *Model) setSize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	widthChanged := w != m.width
	m.width, m.height = w, h
	m.body.Width = w
	m.body.Height = max(1, h-chrome)
	m.input.Width = max(10, w-4)
	if widthChanged || m.renderer == nil {
		r, err := newRenderer(m.style, w-4)
		if err != nil {
			logging.OverlayDebug("markdown renderer: %v", err)
		}
		m.renderer = r
	}
	m.refresh()
}

func (m Model) render(md string) string {
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		logging.OverlayDebug("render detail: %v", err)
		return md
	}
	return out
}

func (m *Model) refresh() {
	switch {
	case m.detail != "":
		m.body.SetContent(m.detail)
	case m.tab == TabConsole:
		m.body.SetContent(m.consoleView())
		m.body.GotoBottom()
	case m.tab == TabNetwork:
		m.body.SetContent(m.networkView())
	case m.tab == TabStorage:
		m.body.SetContent(m.storageView())
	}
}

// VisibleLogs applies the level and network-report filters.
func (m Model) VisibleLogs() []event.LogEntry {
	f := aggregator.Filter{Levels: make([]event.Level, 0, len(event.AllLevels))}
	for _, lvl := range event.AllLevels {
		if !m.hidden[lvl] {
			f.Levels = append(f.Levels, lvl)
		}
	}
	if len(f.Levels) == 0 {
		return []event.LogEntry{}
	}
	if m.hideReports {
		f.ExcludeOrigins = []event.Origin{event.OriginNetwork}
	}
	out := make([]event.LogEntry, 0, len(m.logs))
	for _, e := range m.logs {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (m Model) consoleView() string {
	logs := m.VisibleLogs()
	if len(logs) == 0 {
		return m.styles.Muted.Render("No logs")
	}
	var sb strings.Builder
	for _, e := range logs {
		line := fmt.Sprintf("%s %-7s %s", e.FormattedTimestamp(), LevelBadge(e.Level), e.Message)
		if e.Source != "" {
			line += m.styles.Muted.Render("  " + e.Source)
		}
		sb.WriteString(m.styles.Level(e.Level).Render(line))
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (m Model) networkView() string {
	if len(m.requests) == 0 {
		return m.styles.Muted.Render("No requests")
	}
	var sb strings.Builder
	for i, req := range m.requests {
		marker := "  "
		if i == m.cursor {
			marker = "› "
		}
		row := fmt.Sprintf("%s%-7s %-8s %-7s %s", marker, req.Method,
			m.styles.RequestStatus(req.Status).Render(fmt.Sprintf("%-8s", statusLabel(req))),
			req.FormattedDuration(), truncate(req.URL, max(10, m.width-30)))
		if i == m.cursor {
			row = m.styles.Selected.Render(row)
		}
		sb.WriteString(row)
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (m Model) storageView() string {
	if !m.hasStorage {
		return m.styles.Muted.Render("No storage snapshot yet")
	}
	var sb strings.Builder
	section := func(title string, kv map[string]string) {
		sb.WriteString(m.styles.Section.Render(title))
		sb.WriteByte('\n')
		if len(kv) == 0 {
			sb.WriteString(m.styles.Muted.Render("  (empty)"))
			sb.WriteString("\n\n")
			return
		}
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s = %s\n", m.styles.Key.Render(k), kv[k])
		}
		sb.WriteByte('\n')
	}
	section("Local Storage", m.storage.LocalStorage)
	section("Session Storage", m.storage.SessionStorage)

	cookies := make(map[string]string)
	for _, c := range m.storage.ParsedCookies() {
		cookies[c.Name] = c.Value
	}
	section("Cookies", cookies)
	sb.WriteString(m.styles.Muted.Render("Total " + m.storage.FormattedTotalSize()))
	return sb.String()
}

func (m Model) View() string {
	var tabs []string
	for t := Tab(0); t < tabCount; t++ {
		if t == m.tab {
			tabs = append(tabs, m.styles.ActiveTab.Render(t.String()))
		} else {
			tabs = append(tabs, m.styles.Tab.Render(t.String()))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		m.styles.Header.Render("pagescope"), lipgloss.JoinHorizontal(lipgloss.Top, tabs...))

	sections := []string{header}
	if m.tab == TabConsole && m.detail == "" {
		sections = append(sections, m.filterBar())
	}
	if m.status != "" {
		sections = append(sections, m.styles.Status.Render(m.status))
	}
	sections = append(sections, m.styles.Body.Render(m.body.View()))
	if m.tab == TabConsole && m.detail == "" {
		sections = append(sections, m.input.View())
	}
	sections = append(sections, m.styles.Footer.Render(m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) filterBar() string {
	parts := make([]string, 0, len(event.AllLevels)+1)
	for i, lvl := range event.AllLevels {
		label := fmt.Sprintf("F%d %s", i+1, strings.ToUpper(string(lvl)))
		if m.hidden[lvl] {
			parts = append(parts, m.styles.FilterOff.Render(label))
		} else {
			parts = append(parts, m.styles.FilterOn.Render(label))
		}
	}
	label := "F6 NET"
	if m.hideReports {
		parts = append(parts, m.styles.FilterOff.Render(label))
	} else {
		parts = append(parts, m.styles.FilterOn.Render(label))
	}
	return " " + strings.Join(parts, "  ")
}

func (m Model) help() string {
	switch {
	case m.detail != "":
		return "esc back • pgup/pgdown scroll"
	case m.tab == TabConsole:
		return "enter run • f1-f6 filter • tab switch • ctrl+x clear • ctrl+g compact • esc close"
	case m.tab == TabNetwork:
		return "↑/↓ select • enter details • tab switch • ctrl+x clear • esc close"
	}
	return "tab switch • ↑/↓ scroll • esc close"
}

func newestFirst(reqs []event.NetworkRequest) []event.NetworkRequest {
	out := append([]event.NetworkRequest(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestTime.After(out[j].RequestTime)
	})
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
