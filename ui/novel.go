package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/keys"
	"github.com/inkfolio/folio/internal/lifecycle"
	"github.com/inkfolio/folio/internal/orchestrator"
)

const headerHeight = 8

var titleCase = cases.Title(language.English)

type chapterItem struct{ chapter backend.Chapter }

func (i chapterItem) Title() string       { return i.chapter.Title }
func (i chapterItem) Description() string { return humanize.Comma(int64(i.chapter.Words)) + " words" }
func (i chapterItem) FilterValue() string { return i.chapter.Title }

type novelModel struct {
	common *commonModel
	scope  *lifecycle.Scope

	novel    backend.Novel
	chapters list.Model
	reviews  []backend.Review
	spinner  spinner.Model

	loading bool
	err     error
}

func newNovelModel(common *commonModel) novelModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Chapters"
	l.Filter = fuzzyFilter
	l.SetShowStatusBar(false)
	l.DisableQuitKeybindings()

	return novelModel{
		common:   common,
		chapters: l,
		spinner:  sp,
	}
}

func (m novelModel) owns(scope string) bool {
	return m.scope != nil && m.scope.ID() == scope
}

func (m *novelModel) setSize(w, h int) {
	m.chapters.SetSize(w, max(0, h-headerHeight-1))
}

// open shows n and starts loading its chapters and reviews in a new scope.
// The first chapter is queued ahead of everything else.
func (m *novelModel) open(n backend.Novel) tea.Cmd {
	m.unload()
	m.scope = lifecycle.NewScope(m.common.app.Orchestrator)
	m.novel = n
	m.reviews = nil
	m.err = nil
	m.loading = true
	m.chapters.Title = "Chapters"
	m.chapters.ResetSelected()

	prefetch(m.common.app, true, keys.Chapter(n.ID, 1))

	return tea.Batch(
		m.spinner.Tick,
		fetchCmd(m.scope, m.common.app, keys.NovelChapters(n.ID)),
		fetchCmd(m.scope, m.common.app, keys.NovelReviews(n.ID)),
	)
}

func (m *novelModel) unload() {
	if m.scope != nil {
		m.scope.Close()
		m.scope = nil
	}
	m.chapters.SetItems(nil)
}

func (m novelModel) update(msg tea.Msg) (novelModel, tea.Cmd) {
	switch msg := msg.(type) {
	case fetchedMsg:
		return m.handleFetched(msg)

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.chapters.SettingFilter() {
			break
		}
		switch msg.String() {
		case "esc", "h", "left", "backspace":
			return m, func() tea.Msg { return backMsg{} }
		case "enter", "l", "right":
			if item, ok := m.chapters.SelectedItem().(chapterItem); ok {
				novel, number := m.novel, item.chapter.Number
				return m, func() tea.Msg { return openChapterMsg{novel: novel, number: number} }
			}
		case "r":
			m.scope.Invalidate(context.Background(), keys.NovelPattern(m.novel.ID))
			m.loading = true
			return m, tea.Batch(
				m.spinner.Tick,
				fetchCmd(m.scope, m.common.app, keys.NovelChapters(m.novel.ID), orchestrator.SkipCache()),
				fetchCmd(m.scope, m.common.app, keys.NovelReviews(m.novel.ID), orchestrator.SkipCache()),
			)
		}
	}

	var cmd tea.Cmd
	m.chapters, cmd = m.chapters.Update(msg)
	return m, cmd
}

func (m novelModel) handleFetched(msg fetchedMsg) (novelModel, tea.Cmd) {
	switch msg.key {
	case keys.NovelChapters(m.novel.ID):
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		chapters, _ := msg.value.([]backend.Chapter)
		items := make([]list.Item, len(chapters))
		for i, ch := range chapters {
			items[i] = chapterItem{chapter: ch}
		}
		return m, m.chapters.SetItems(items)

	case keys.NovelReviews(m.novel.ID):
		// Reviews are optional decoration; a failure just hides them
		if msg.err == nil {
			m.reviews, _ = msg.value.([]backend.Review)
		}
	}
	return m, nil
}

func (m novelModel) view() string {
	var b strings.Builder
	n := m.novel
	width := max(20, m.common.width-4)

	genres := make([]string, len(n.Genres))
	for i, g := range n.Genres {
		genres[i] = titleCase.String(g)
	}

	fmt.Fprintf(&b, "\n  %s %s\n", titleStyle.Render(n.Title), subtleStyle.Render("by "+n.Author))
	fmt.Fprintf(&b, "  %s  %s  %s\n",
		ratingStyle.Render(fmt.Sprintf("★ %.1f", n.Rating)),
		genreStyle.Render(strings.Join(genres, ", ")),
		dimStyle.Render("updated "+humanize.Time(n.UpdatedAt)),
	)
	b.WriteString(indent(wordwrap.String(n.Synopsis, width), 2))
	if len(m.reviews) > 0 {
		r := m.reviews[0]
		quote := fmt.Sprintf("“%s” %s, %s", r.Text, strings.Repeat("★", r.Stars), r.Author)
		b.WriteString(indent(dimStyle.Render(wordwrap.String(quote, width)), 2))
	}
	b.WriteString(dividerStyle.Render(strings.Repeat("─", max(0, m.common.width))) + "\n")

	switch {
	case m.loading && len(m.chapters.Items()) == 0:
		fmt.Fprintf(&b, "\n  %s Loading chapters…\n", m.spinner.View())
	case m.err != nil:
		fmt.Fprintf(&b, "\n  %s\n", errorStyle.Render(friendlyError(m.err)))
	default:
		b.WriteString(m.chapters.View())
	}

	header := lipgloss.NewStyle().MaxHeight(m.common.height).Render(b.String())
	return header + "\n" + dimStyle.Render(" enter read · esc back · r refresh · q quit")
}
