package ui

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkfolio/folio/internal/app"
	"github.com/inkfolio/folio/internal/backend"
	"github.com/inkfolio/folio/internal/config"
	"github.com/inkfolio/folio/internal/keys"
	"github.com/inkfolio/folio/internal/orchestrator"
)

func newTestModel(t *testing.T) model {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.CleanupInterval = 0
	cfg.Durable.Backend = config.BackendMemory
	cfg.Backend.Latency = 0

	a, err := app.New(context.Background(), cfg, app.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	m := newModel(Config{GlamourStyle: "notty", Lookahead: 2}, a)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(model)
}

// collect runs cmd and any batch it expands to, returning the messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var msgs []tea.Msg
		for _, c := range batch {
			msgs = append(msgs, collect(c)...)
		}
		return msgs
	}
	return []tea.Msg{msg}
}

// deliver feeds every fetch or render result produced by cmd back into m.
func deliver(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	for _, msg := range collect(cmd) {
		switch msg.(type) {
		case fetchedMsg, contentRenderedMsg, openNovelMsg, openChapterMsg, backMsg:
			next, cmd := m.Update(msg)
			m = deliver(t, next.(model), cmd)
		}
	}
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loadCatalog(t *testing.T, m model) model {
	t.Helper()
	return deliver(t, m, m.catalog.load(false))
}

func firstNovel(t *testing.T, m model) backend.Novel {
	t.Helper()
	item, ok := m.catalog.list.Items()[0].(novelItem)
	require.True(t, ok)
	return item.novel
}

func TestCatalog_LoadsTrending(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))

	assert.False(t, m.catalog.loading)
	assert.Len(t, m.catalog.list.Items(), backend.TrendingLimit)
	assert.Contains(t, m.View(), firstNovel(t, m).Title)
}

func TestCatalog_Search(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	query := firstNovel(t, m).Author

	next, _ := m.Update(key("s"))
	m = next.(model)
	require.True(t, m.catalog.searching)

	m.catalog.input.SetValue(query)
	next, cmd := m.Update(key("enter"))
	m = deliver(t, next.(model), cmd)

	assert.Equal(t, keys.Search(query, 1), m.catalog.key)
	assert.False(t, m.catalog.loading)
	assert.NotEmpty(t, m.catalog.list.Items())
}

func TestNovel_OpenLoadsChaptersAndBackClosesScope(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	novel := firstNovel(t, m)

	next, cmd := m.Update(openNovelMsg{novel: novel})
	m = deliver(t, next.(model), cmd)

	require.Equal(t, stateShowNovel, m.state)
	assert.Len(t, m.novel.chapters.Items(), novel.Chapters)
	assert.NotEmpty(t, m.novel.reviews)
	assert.Contains(t, m.View(), novel.Title)

	scope := m.novel.scope
	next, _ = m.Update(backMsg{})
	m = next.(model)

	assert.Equal(t, stateShowCatalog, m.state)
	assert.True(t, scope.Closed())
	assert.Nil(t, m.novel.scope)
}

func TestStaleResultsAreDropped(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	novel := firstNovel(t, m)

	next, _ := m.Update(openNovelMsg{novel: novel})
	m = next.(model)
	stale := fetchedMsg{scope: m.novel.scope.ID(), key: keys.NovelChapters(novel.ID), value: []backend.Chapter{{Number: 1}}}

	next, _ = m.Update(backMsg{})
	m = next.(model)
	next, _ = m.Update(stale)
	m = next.(model)

	assert.Equal(t, stateShowCatalog, m.state)
	assert.Empty(t, m.novel.chapters.Items())
}

func TestReader_OpensChapterAndPrefetchesAhead(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	m.common.cfg.GlamourEnabled = false
	novel := firstNovel(t, m)

	next, cmd := m.Update(openChapterMsg{novel: novel, number: 1})
	m = deliver(t, next.(model), cmd)

	require.Equal(t, stateShowReader, m.state)
	require.NotNil(t, m.reader.chapter)
	assert.Equal(t, readerStateBrowse, m.reader.state)
	assert.Contains(t, m.View(), m.reader.chapter.Title)
	assert.Contains(t, m.reader.note(), "cached")

	a := m.common.app
	require.Eventually(t, func() bool {
		_, ok2 := a.Orchestrator.CacheAge(keys.Chapter(novel.ID, 2))
		_, ok3 := a.Orchestrator.CacheAge(keys.Chapter(novel.ID, 3))
		return ok2 && ok3 && a.Runner.Processed() == a.Queue.Stats().TotalEnqueued
	}, 2*time.Second, 10*time.Millisecond)

	// Moving on is served from the warmed cache
	m.common.cfg.Lookahead = 0
	calls := a.Catalog.Calls()
	next, cmd = m.Update(key("n"))
	m = deliver(t, next.(model), cmd)
	assert.Equal(t, 2, m.reader.number)
	assert.Equal(t, 2, m.reader.chapter.Number)
	assert.Equal(t, calls, a.Catalog.Calls())
}

func TestReader_BackClosesScope(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	m.common.cfg.GlamourEnabled = false
	novel := firstNovel(t, m)

	next, cmd := m.Update(openNovelMsg{novel: novel})
	m = deliver(t, next.(model), cmd)
	next, cmd = m.Update(openChapterMsg{novel: novel, number: 1})
	m = deliver(t, next.(model), cmd)

	scope := m.reader.scope
	next, cmd = m.Update(key("esc"))
	m = deliver(t, next.(model), cmd)

	assert.Equal(t, stateShowNovel, m.state)
	assert.True(t, scope.Closed())
}

func TestReader_RendersWithGlamour(t *testing.T) {
	m := newTestModel(t)
	m.common.cfg.GlamourEnabled = true
	ch := backend.Chapter{NovelID: 1, Number: 1, Title: "Chapter 1: Tide", Words: 2000, Body: "It was raining."}

	out, err := glamourRender(m.reader, ch)
	require.NoError(t, err)
	assert.Contains(t, out, "Chapter 1: Tide")
	assert.Contains(t, out, "2,000 words")
}

func TestQuitClosesScopes(t *testing.T) {
	m := loadCatalog(t, newTestModel(t))
	scope := m.catalog.scope

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, scope.Closed())
}

func TestFriendlyError(t *testing.T) {
	rle := &orchestrator.RateLimitError{Endpoint: "search", RetryAfter: 12 * time.Second}
	assert.Equal(t, "Slow down! Try again in 12s.", friendlyError(rle))
	assert.Equal(t, "Not found.", friendlyError(backend.ErrNotFound))
	assert.Equal(t, "boom", friendlyError(errors.New("boom")))
}

func TestFuzzyFilter(t *testing.T) {
	targets := []string{"The Glass Archive", "The Iron Crown", "Paper Lighthouse"}

	ranks := fuzzyFilter("glarc", targets)
	require.NotEmpty(t, ranks)
	assert.Equal(t, 0, ranks[0].Index)
	assert.Empty(t, fuzzyFilter("zzz", targets))
}

func TestErrorView(t *testing.T) {
	out := errorView(errors.New("it broke"), true)
	assert.True(t, strings.Contains(out, "it broke"))
	assert.Contains(t, out, "exit")
}
