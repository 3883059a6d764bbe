package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"

	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/keys"
	"github.com/inkfolio/folio/internal/lifecycle"
	"github.com/inkfolio/folio/internal/orchestrator"
)

const statusBarHeight = 1

var readerHelpHeight int

type contentRenderedMsg struct {
	key     string
	content string
}

type readerState int

const (
	readerStateLoading readerState = iota
	readerStateBrowse
	readerStateStatusMessage
	readerStateError
)

type readerModel struct {
	common   *commonModel
	scope    *lifecycle.Scope
	viewport viewport.Model
	state    readerState
	showHelp bool

	statusMessage      string
	statusMessageTimer *time.Timer

	novel   backend.Novel
	number  int
	chapter *backend.Chapter
	err     error
}

func newReaderModel(common *commonModel) readerModel {
	vp := viewport.New(0, 0)
	vp.YPosition = 0

	return readerModel{
		common:   common,
		viewport: vp,
	}
}

func (m readerModel) owns(scope string) bool {
	return m.scope != nil && m.scope.ID() == scope
}

func (m *readerModel) key() string {
	return keys.Chapter(m.novel.ID, m.number)
}

func (m *readerModel) setSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h - statusBarHeight

	if m.showHelp {
		if readerHelpHeight == 0 {
			readerHelpHeight = strings.Count(m.helpView(), "\n")
		}
		m.viewport.Height -= (statusBarHeight + readerHelpHeight)
	}
}

func (m *readerModel) toggleHelp() {
	m.showHelp = !m.showHelp
	m.setSize(m.common.width, m.common.height)
	if m.viewport.PastBottom() {
		m.viewport.GotoBottom()
	}
}

// open starts loading chapter number of novel in a fresh scope.
func (m *readerModel) open(novel backend.Novel, number int) tea.Cmd {
	m.unload()
	m.scope = lifecycle.NewScope(m.common.app.Orchestrator)
	m.novel = novel
	m.number = number
	m.chapter = nil
	m.err = nil
	m.state = readerStateLoading
	m.viewport.SetContent("")
	m.viewport.GotoTop()

	return fetchCmd(m.scope, m.common.app, m.key())
}

func (m *readerModel) unload() {
	if m.showHelp {
		m.toggleHelp()
	}
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	if m.scope != nil {
		m.scope.Close()
		m.scope = nil
	}
	m.viewport.SetContent("")
	m.viewport.YOffset = 0
}

// lookahead queues the chapters after the current one.
func (m *readerModel) lookahead() {
	var ks []string
	for n := m.number + 1; n <= min(m.novel.Chapters, m.number+m.common.cfg.Lookahead); n++ {
		ks = append(ks, keys.Chapter(m.novel.ID, n))
	}
	prefetch(m.common.app, false, ks...)
}

type readerStatusMessage struct {
	message string
	isError bool
}

func (m *readerModel) showStatusMessage(msg readerStatusMessage) tea.Cmd {
	m.state = readerStateStatusMessage
	m.statusMessage = msg.message
	if m.statusMessageTimer != nil {
		m.statusMessageTimer.Stop()
	}
	m.statusMessageTimer = time.NewTimer(statusMessageTimeout)

	return waitForStatusMessageTimeout(m.statusMessageTimer)
}

func (m readerModel) update(msg tea.Msg) (readerModel, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "h":
			if m.state == readerStateStatusMessage {
				m.state = readerStateBrowse
				return m, nil
			}
			return m, func() tea.Msg { return backMsg{} }

		case "home", "g":
			m.viewport.GotoTop()

		case "end", "G":
			m.viewport.GotoBottom()

		case "d":
			m.viewport.HalfViewDown()

		case "u":
			m.viewport.HalfViewUp()

		case "n", "right":
			if m.number < m.novel.Chapters {
				return m, m.open(m.novel, m.number+1)
			}
			return m, m.showStatusMessage(readerStatusMessage{"Last chapter", false})

		case "p", "left":
			if m.number > 1 {
				return m, m.open(m.novel, m.number-1)
			}
			return m, m.showStatusMessage(readerStatusMessage{"First chapter", false})

		case "c":
			if m.chapter == nil {
				break
			}
			// Copy using OSC 52
			termenv.Copy(m.chapter.Body)
			// Copy using native system clipboard
			_ = clipboard.WriteAll(m.chapter.Body)
			cmds = append(cmds, m.showStatusMessage(readerStatusMessage{"Copied chapter", false}))

		case "r":
			m.state = readerStateLoading
			return m, fetchCmd(m.scope, m.common.app, m.key(), orchestrator.SkipCache())

		case "?":
			m.toggleHelp()
		}

	case fetchedMsg:
		if msg.key != m.key() {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			m.state = readerStateError
			return m, nil
		}
		ch, ok := msg.value.(*backend.Chapter)
		if !ok || ch == nil {
			m.err = fmt.Errorf("%s: %w", msg.key, backend.ErrNotFound)
			m.state = readerStateError
			return m, nil
		}
		m.chapter = ch
		m.lookahead()
		return m, renderWithGlamour(m, *ch)

	// The chapter has been rendered
	case contentRenderedMsg:
		if msg.key != m.key() {
			return m, nil
		}
		m.viewport.SetContent(msg.content)
		if m.state == readerStateLoading {
			m.state = readerStateBrowse
		}

	// We've received terminal dimensions, either for the first time or
	// after a resize
	case tea.WindowSizeMsg:
		if m.chapter != nil {
			return m, renderWithGlamour(m, *m.chapter)
		}

	case statusMessageTimeoutMsg:
		m.state = readerStateBrowse
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m readerModel) View() string {
	var b strings.Builder

	switch m.state {
	case readerStateLoading:
		if m.chapter == nil {
			fmt.Fprintf(&b, "\n  %s\n", subtleStyle.Render("Loading chapter…"))
			padTo(&b, m.viewport.Height)
		} else {
			b.WriteString(m.viewport.View() + "\n")
		}
	case readerStateError:
		fmt.Fprintf(&b, "\n  %s\n", errorStyle.Render(friendlyError(m.err)))
		padTo(&b, m.viewport.Height)
	default:
		b.WriteString(m.viewport.View() + "\n")
	}

	// Footer
	m.statusBarView(&b)

	if m.showHelp {
		fmt.Fprint(&b, "\n"+m.helpView())
	}

	return b.String()
}

func padTo(b *strings.Builder, height int) {
	if n := height - strings.Count(b.String(), "\n"); n > 0 {
		b.WriteString(strings.Repeat("\n", n))
	}
}

func (m readerModel) statusBarView(b *strings.Builder) {
	const (
		minPercent               float64 = 0.0
		maxPercent               float64 = 1.0
		percentToStringMagnitude float64 = 100.0
	)

	showStatusMessage := m.state == readerStateStatusMessage

	logo := logoView()

	// Scroll percent
	percent := math.Max(minPercent, math.Min(maxPercent, m.viewport.ScrollPercent()))
	scrollPercent := fmt.Sprintf(" %3.f%% ", percent*percentToStringMagnitude)
	if showStatusMessage {
		scrollPercent = statusBarMessageStyle(scrollPercent)
	} else {
		scrollPercent = statusBarScrollPosStyle(scrollPercent)
	}

	// "Help" note
	var helpNote string
	if showStatusMessage {
		helpNote = statusBarMessageStyle(" ? Help ")
	} else {
		helpNote = statusBarHelpStyle(" ? Help ")
	}

	// Note
	var note string
	if showStatusMessage {
		note = m.statusMessage
	} else {
		note = m.note()
	}
	note = truncate.StringWithTail(" "+note+" ", uint(max(0, //nolint:gosec
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(scrollPercent)-
			ansi.PrintableRuneWidth(helpNote),
	)), ellipsis)
	if showStatusMessage {
		note = statusBarMessageStyle(note)
	} else {
		note = statusBarNoteStyle(note)
	}

	// Empty space
	padding := max(0,
		m.common.width-
			ansi.PrintableRuneWidth(logo)-
			ansi.PrintableRuneWidth(note)-
			ansi.PrintableRuneWidth(scrollPercent)-
			ansi.PrintableRuneWidth(helpNote),
	)
	emptySpace := strings.Repeat(" ", padding)
	if showStatusMessage {
		emptySpace = statusBarMessageStyle(emptySpace)
	} else {
		emptySpace = statusBarNoteStyle(emptySpace)
	}

	fmt.Fprintf(b, "%s%s%s%s%s",
		logo,
		note,
		emptySpace,
		scrollPercent,
		helpNote,
	)
}

// note describes the chapter and how fresh the cached copy is.
func (m readerModel) note() string {
	note := fmt.Sprintf("%s · %d/%d", m.novel.Title, m.number, m.novel.Chapters)
	if m.scope == nil {
		return note
	}
	if age, ok := m.scope.CacheAge(m.key()); ok {
		note += " · cached " + humanize.Time(time.Now().Add(-age))
	}
	return note
}

func (m readerModel) helpView() (s string) {
	col1 := []string{
		"g/home  go to top",
		"G/end   go to bottom",
		"n/→     next chapter",
		"p/←     previous chapter",
		"c       copy chapter",
		"r       reload chapter",
		"esc     back to chapters",
	}

	s += "\n"
	s += "k/↑      up                  " + col1[0] + "\n"
	s += "j/↓      down                " + col1[1] + "\n"
	s += "b/pgup   page up             " + col1[2] + "\n"
	s += "f/pgdn   page down           " + col1[3] + "\n"
	s += "u        ½ page up           " + col1[4] + "\n"
	s += "d        ½ page down         " + col1[5] + "\n"
	s += "q        quit                " + col1[6]

	s = indent(s, 2)

	// Fill up empty cells with spaces for background coloring
	if m.common.width > 0 {
		lines := strings.Split(s, "\n")
		for i := 0; i < len(lines); i++ {
			l := runewidth.StringWidth(lines[i])
			n := max(m.common.width-l, 0)
			lines[i] += strings.Repeat(" ", n)
		}

		s = strings.Join(lines, "\n")
	}

	return helpViewStyle(s)
}

// COMMANDS

func renderWithGlamour(m readerModel, ch backend.Chapter) tea.Cmd {
	key := keys.Chapter(ch.NovelID, ch.Number)
	return func() tea.Msg {
		s, err := glamourRender(m, ch)
		if err != nil {
			log.Error("error rendering with Glamour", "error", err)
			return errMsg{err}
		}
		return contentRenderedMsg{key: key, content: s}
	}
}

// chapterMarkdown lays a chapter out as a markdown document.
func chapterMarkdown(ch backend.Chapter) string {
	return fmt.Sprintf("# %s\n\n*%s words*\n\n%s\n", ch.Title, humanize.Comma(int64(ch.Words)), ch.Body)
}

func glamourRender(m readerModel, ch backend.Chapter) (string, error) {
	markdown := chapterMarkdown(ch)
	if !m.common.cfg.GlamourEnabled {
		return markdown, nil
	}

	width := m.viewport.Width
	if limit := int(m.common.cfg.GlamourMaxWidth); limit > 0 && limit < width { //nolint:gosec
		width = limit
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.common.cfg.GlamourStyle),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("error creating glamour renderer: %w", err)
	}

	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("error rendering markdown: %w", err)
	}
	return out, nil
}
