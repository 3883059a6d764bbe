// Package ui provides the terminal browser for the fiction catalog.
package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	te "github.com/muesli/termenv"

	"github.com/inkfolio/folio/internal/app"
	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/keys"
	"github.com/inkfolio/folio/internal/lifecycle"
	"github.com/inkfolio/folio/internal/orchestrator"
)

const (
	statusMessageTimeout = time.Second * 3 // how long to show status messages like "copied!"
	ellipsis             = "…"
)

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, a *app.App) *tea.Program {
	log.Debug("Starting folio", "glamour", cfg.GlamourEnabled, "lookahead", cfg.Lookahead)

	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, a), opts...)
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// fetchedMsg carries the result of a fetch made through a view's scope.
type fetchedMsg struct {
	scope string
	key   string
	value any
	err   error
}

type (
	openNovelMsg   struct{ novel backend.Novel }
	openChapterMsg struct {
		novel  backend.Novel
		number int
	}
	backMsg                 struct{}
	statusMessageTimeoutMsg struct{}
)

// state is the top-level application state.
type state int

const (
	stateShowCatalog state = iota
	stateShowNovel
	stateShowReader
)

func (s state) String() string {
	return map[state]string{
		stateShowCatalog: "showing catalog",
		stateShowNovel:   "showing novel",
		stateShowReader:  "reading chapter",
	}[s]
}

// Common stuff we'll need to access in all models.
type commonModel struct {
	cfg    Config
	app    *app.App
	width  int
	height int
}

type model struct {
	common   *commonModel
	state    state
	fatalErr error

	// Sub-models
	catalog catalogModel
	novel   novelModel
	reader  readerModel
}

func newModel(cfg Config, a *app.App) model {
	if cfg.GlamourStyle == "" || cfg.GlamourStyle == styles.AutoStyle {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}

	common := &commonModel{cfg: cfg, app: a}
	return model{
		common:  common,
		state:   stateShowCatalog,
		catalog: newCatalogModel(common),
		novel:   newNovelModel(common),
		reader:  newReaderModel(common),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.catalog.spinner.Tick, m.catalog.load(false)}
	if id := m.common.cfg.NovelID; id > 0 {
		cmds = append(cmds, openNovelByID(m.common, id))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// If there's been an error, any key exits
	if m.fatalErr != nil {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.closeScopes()
			return m, tea.Quit
		}
	}

	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == stateShowCatalog && m.catalog.filtering() {
				break
			}
			m.closeScopes()
			return m, tea.Quit

		// Ctrl+C always quits no matter where in the application you are.
		case "ctrl+c":
			m.closeScopes()
			return m, tea.Quit

		case "ctrl+z":
			return m, tea.Suspend
		}

	// Window size is received when starting up and on every resize
	case tea.WindowSizeMsg:
		m.common.width = msg.Width
		m.common.height = msg.Height
		m.catalog.setSize(msg.Width, msg.Height)
		m.novel.setSize(msg.Width, msg.Height)
		m.reader.setSize(msg.Width, msg.Height)

	case errMsg:
		m.fatalErr = msg.err
		return m, nil

	case fetchedMsg:
		// Results go to whichever view owns the scope; stale ones are dropped
		var cmd tea.Cmd
		switch {
		case m.catalog.owns(msg.scope):
			m.catalog, cmd = m.catalog.update(msg)
		case m.novel.owns(msg.scope):
			m.novel, cmd = m.novel.update(msg)
		case m.reader.owns(msg.scope):
			m.reader, cmd = m.reader.update(msg)
		default:
			log.Debug("Dropped result for closed view", "key", msg.key)
		}
		return m, cmd

	case openNovelMsg:
		m.reader.unload()
		m.state = stateShowNovel
		return m, m.novel.open(msg.novel)

	case openChapterMsg:
		m.state = stateShowReader
		return m, m.reader.open(msg.novel, msg.number)

	case backMsg:
		switch m.state {
		case stateShowReader:
			m.reader.unload()
			m.state = stateShowNovel
		case stateShowNovel:
			m.novel.unload()
			m.state = stateShowCatalog
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.state {
	case stateShowCatalog:
		m.catalog, cmd = m.catalog.update(msg)
	case stateShowNovel:
		m.novel, cmd = m.novel.update(msg)
	case stateShowReader:
		m.reader, cmd = m.reader.update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.fatalErr != nil {
		return errorView(m.fatalErr, true)
	}

	switch m.state {
	case stateShowNovel:
		return m.novel.view()
	case stateShowReader:
		return m.reader.View()
	default:
		return m.catalog.view()
	}
}

// closeScopes cancels every view's outstanding fetches.
func (m *model) closeScopes() {
	m.reader.unload()
	m.novel.unload()
	m.catalog.unload()
}

func errorView(err error, fatal bool) string {
	exitMsg := "press any key to "
	if fatal {
		exitMsg += "exit"
	} else {
		exitMsg += "return"
	}
	s := fmt.Sprintf("%s\n\n%v\n\n%s",
		errorTitleStyle.Render("ERROR"),
		err,
		subtleStyle.Render(exitMsg),
	)
	return "\n" + indent(s, 3)
}

// friendlyError turns fetch failures into something worth showing.
func friendlyError(err error) string {
	var rle *orchestrator.RateLimitError
	switch {
	case errors.As(err, &rle):
		return fmt.Sprintf("Slow down! Try again in %s.", rle.RetryAfter.Round(time.Second))
	case errors.Is(err, backend.ErrUnavailable):
		return "The catalog is unavailable right now."
	case errors.Is(err, backend.ErrNotFound):
		return "Not found."
	}
	return err.Error()
}

// COMMANDS

// fetchCmd fetches key through s and reports the result as a fetchedMsg.
func fetchCmd(s *lifecycle.Scope, a *app.App, key string, extra ...orchestrator.FetchOption) tea.Cmd {
	id := s.ID()
	return func() tea.Msg {
		work, opts, err := a.Request(key)
		if err != nil {
			return fetchedMsg{scope: id, key: key, err: err}
		}
		v, err := lifecycle.Execute(context.Background(), s, key, work, append(opts, extra...)...)
		return fetchedMsg{scope: id, key: key, value: v, err: err}
	}
}

// prefetch queues keys for the background workers. Failures only matter to
// the log.
func prefetch(a *app.App, priority bool, ks ...string) {
	for _, key := range ks {
		if err := a.Prefetch(key, priority); err != nil {
			log.Debug("Prefetch not queued", "key", key, "err", err)
		}
	}
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

func openNovelByID(common *commonModel, id int) tea.Cmd {
	a := common.app
	return func() tea.Msg {
		v, err := a.Fetch(context.Background(), keys.Novel(id))
		if err != nil {
			return errMsg{err}
		}
		n, ok := v.(*backend.Novel)
		if !ok || n == nil {
			return errMsg{fmt.Errorf("novel %d: %w", id, backend.ErrNotFound)}
		}
		return openNovelMsg{novel: *n}
	}
}
