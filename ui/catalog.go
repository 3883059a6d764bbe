package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"

	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/keys"
	"github.com/inkfolio/folio/internal/lifecycle"
	"github.com/inkfolio/folio/internal/orchestrator"
)

// novelItem is a novel in a list.
type novelItem struct{ novel backend.Novel }

func (i novelItem) Title() string { return i.novel.Title }

func (i novelItem) Description() string {
	n := i.novel
	return fmt.Sprintf("%s · ★ %.1f · %s readers", n.Author, n.Rating, humanize.Comma(int64(n.Readers)))
}

func (i novelItem) FilterValue() string {
	return i.novel.Title + " " + i.novel.Author + " " + strings.Join(i.novel.Genres, " ")
}

// fuzzyFilter ranks list items with sahilm/fuzzy, best match first.
func fuzzyFilter(term string, targets []string) []list.Rank {
	matches := fuzzy.Find(term, targets)
	ranks := make([]list.Rank, len(matches))
	for i, match := range matches {
		ranks[i] = list.Rank{
			Index:          match.Index,
			MatchedIndexes: match.MatchedIndexes,
		}
	}
	return ranks
}

type catalogModel struct {
	common *commonModel
	scope  *lifecycle.Scope

	list    list.Model
	spinner spinner.Model
	input   textinput.Model

	// Key currently shown: trending or a search page
	key       string
	loading   bool
	searching bool
	err       error
}

func newCatalogModel(common *commonModel) catalogModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Trending"
	l.Filter = fuzzyFilter
	l.SetShowStatusBar(false)
	l.DisableQuitKeybindings()

	ti := textinput.New()
	ti.Prompt = "Search: "
	ti.Placeholder = "title, author or genre"
	ti.CharLimit = 64

	return catalogModel{
		common:  common,
		scope:   lifecycle.NewScope(common.app.Orchestrator),
		list:    l,
		spinner: sp,
		input:   ti,
		key:     keys.Trending(),
	}
}

func (m catalogModel) owns(scope string) bool {
	return m.scope != nil && m.scope.ID() == scope
}

func (m *catalogModel) setSize(w, h int) {
	m.list.SetSize(w, h-2)
	m.input.Width = max(0, w-len(m.input.Prompt)-2)
}

func (m catalogModel) filtering() bool {
	return m.searching || m.list.SettingFilter()
}

// load fetches the current key. refresh bypasses the caches.
func (m *catalogModel) load(refresh bool) tea.Cmd {
	m.loading = true
	m.err = nil
	var opts []orchestrator.FetchOption
	if refresh {
		opts = append(opts, orchestrator.SkipCache())
	}
	return fetchCmd(m.scope, m.common.app, m.key, opts...)
}

func (m *catalogModel) unload() {
	if m.scope != nil {
		m.scope.Close()
	}
}

func (m catalogModel) update(msg tea.Msg) (catalogModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case fetchedMsg:
		if msg.key != m.key {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		novels, _ := msg.value.([]backend.Novel)
		items := make([]list.Item, len(novels))
		for i, n := range novels {
			items[i] = novelItem{novel: n}
		}
		cmds = append(cmds, m.list.SetItems(items))

		// Warm the first few novels' chapter lists
		for _, n := range novels[:min(3, len(novels))] {
			prefetch(m.common.app, false, keys.NovelChapters(n.ID))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		if m.list.SettingFilter() {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(novelItem); ok {
				return m, func() tea.Msg { return openNovelMsg{novel: item.novel} }
			}
		case "s":
			m.searching = true
			m.input.SetValue("")
			return m, m.input.Focus()
		case "t":
			if m.key != keys.Trending() {
				m.key = keys.Trending()
				m.list.Title = "Trending"
				return m, tea.Batch(m.spinner.Tick, m.load(false))
			}
		case "r":
			return m, tea.Batch(m.spinner.Tick, m.load(true))
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m catalogModel) updateSearch(msg tea.KeyMsg) (catalogModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.searching = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.searching = false
		m.input.Blur()
		query := strings.TrimSpace(m.input.Value())
		if query == "" {
			return m, nil
		}
		m.key = keys.Search(query, 1)
		m.list.Title = fmt.Sprintf("Results for %q", query)
		return m, tea.Batch(m.spinner.Tick, m.load(false))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m catalogModel) view() string {
	var b strings.Builder

	switch {
	case m.loading && len(m.list.Items()) == 0:
		fmt.Fprintf(&b, "\n  %s Loading…\n", m.spinner.View())
	case m.err != nil && len(m.list.Items()) == 0:
		fmt.Fprintf(&b, "\n  %s\n", errorStyle.Render(friendlyError(m.err)))
	default:
		b.WriteString(m.list.View())
	}

	b.WriteString("\n")
	switch {
	case m.searching:
		b.WriteString(m.input.View())
	case m.loading:
		b.WriteString(subtleStyle.Render(" " + m.spinner.View() + " refreshing"))
	case m.err != nil:
		b.WriteString(errorStyle.Render(" " + friendlyError(m.err)))
	default:
		b.WriteString(dimStyle.Render(" enter open · s search · t trending · / filter · r refresh · q quit"))
	}
	return b.String()
}
