// Package backend is an in-process stand-in for the remote fiction catalog.
// Every call waits for a configurable latency, honours context
// cancellation, and fails at a configurable rate.
package backend

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned for injected failures.
	ErrUnavailable = errors.New("backend unavailable")
)

// Novel is a catalog entry.
type Novel struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Synopsis  string    `json:"synopsis"`
	Genres    []string  `json:"genres"`
	Rating    float64   `json:"rating"`
	Chapters  int       `json:"chapters"`
	Readers   int       `json:"readers"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chapter is one chapter of a novel.
type Chapter struct {
	NovelID int    `json:"novel_id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Words   int    `json:"words"`
	Body    string `json:"body,omitempty"`
}

// Review is a reader review.
type Review struct {
	NovelID int    `json:"novel_id"`
	Author  string `json:"author"`
	Stars   int    `json:"stars"`
	Text    string `json:"text"`
}

// Config tunes the simulated backend.
type Config struct {
	Latency     time.Duration
	FailureRate float64 // 0..1
	Seed        uint64
	Size        int // number of novels
}

// Catalog serves a generated set of novels.
type Catalog struct {
	cfg    Config
	novels []Novel

	mu  sync.Mutex
	rnd *rand.Rand

	calls atomic.Int64
}

// New generates a catalog. The same Seed always yields the same novels.
func New(cfg Config) *Catalog {
	if cfg.Size <= 0 {
		cfg.Size = 24
	}
	rnd := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed))
	return &Catalog{
		cfg:    cfg,
		novels: generate(rnd, cfg.Size),
		rnd:    rnd,
	}
}

// Calls returns how many requests the catalog has served or failed.
func (c *Catalog) Calls() int64 {
	return c.calls.Load()
}

// Novel returns one novel.
func (c *Catalog) Novel(ctx context.Context, id int) (*Novel, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	n, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	cp := *n
	return &cp, nil
}

// Trending returns the most read novels, most read first.
func (c *Catalog) Trending(ctx context.Context, limit int) ([]Novel, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	novels := append([]Novel(nil), c.novels...)
	sort.SliceStable(novels, func(i, j int) bool { return novels[i].Readers > novels[j].Readers })
	if limit > 0 && limit < len(novels) {
		novels = novels[:limit]
	}
	return novels, nil
}

// Chapters lists a novel's chapters without their bodies.
func (c *Catalog) Chapters(ctx context.Context, novelID int) ([]Chapter, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	n, err := c.lookup(novelID)
	if err != nil {
		return nil, err
	}
	chapters := make([]Chapter, n.Chapters)
	for i := range chapters {
		chapters[i] = chapterMeta(n, i+1)
	}
	return chapters, nil
}

// Chapter returns one chapter with its body.
func (c *Catalog) Chapter(ctx context.Context, novelID, number int) (*Chapter, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	n, err := c.lookup(novelID)
	if err != nil {
		return nil, err
	}
	if number < 1 || number > n.Chapters {
		return nil, fmt.Errorf("chapter %d of novel %d: %w", number, novelID, ErrNotFound)
	}
	ch := chapterMeta(n, number)
	ch.Body = chapterBody(n, number)
	return &ch, nil
}

// Reviews returns a novel's reviews.
func (c *Catalog) Reviews(ctx context.Context, novelID int) ([]Review, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	n, err := c.lookup(novelID)
	if err != nil {
		return nil, err
	}
	reviews := make([]Review, 0, 3)
	for i := 0; i < 3; i++ {
		reviews = append(reviews, Review{
			NovelID: n.ID,
			Author:  handles[(n.ID+i)%len(handles)],
			Stars:   3 + (n.ID+i)%3,
			Text:    fmt.Sprintf("%s keeps getting better. Chapter %d was a highlight.", n.Title, 1+(n.ID*(i+1))%n.Chapters),
		})
	}
	return reviews, nil
}

// PageSize is the number of search results per page.
const PageSize = 10

// Search returns one page of novels whose title, author or genres contain
// query, case-insensitively. Pages start at 1.
func (c *Catalog) Search(ctx context.Context, query string, page int) ([]Novel, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	q := strings.ToLower(strings.TrimSpace(query))

	var matches []Novel
	for _, n := range c.novels {
		haystack := strings.ToLower(n.Title + " " + n.Author + " " + strings.Join(n.Genres, " "))
		if strings.Contains(haystack, q) {
			matches = append(matches, n)
		}
	}

	start := (page - 1) * PageSize
	if start >= len(matches) {
		return []Novel{}, nil
	}
	return matches[start:min(start+PageSize, len(matches))], nil
}

// Library returns the novels a user follows.
func (c *Catalog) Library(ctx context.Context, userID int) ([]Novel, error) {
	if err := c.call(ctx); err != nil {
		return nil, err
	}
	var library []Novel
	for i, n := range c.novels {
		if (i+userID)%4 == 0 {
			library = append(library, n)
		}
	}
	return library, nil
}

// call simulates the round trip: latency, cancellation and injected failure.
func (c *Catalog) call(ctx context.Context) error {
	c.calls.Add(1)

	if c.cfg.Latency > 0 {
		timer := time.NewTimer(c.cfg.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	if c.cfg.FailureRate > 0 {
		c.mu.Lock()
		roll := c.rnd.Float64()
		c.mu.Unlock()
		if roll < c.cfg.FailureRate {
			return ErrUnavailable
		}
	}
	return nil
}

func (c *Catalog) lookup(id int) (*Novel, error) {
	if id < 1 || id > len(c.novels) {
		return nil, fmt.Errorf("novel %d: %w", id, ErrNotFound)
	}
	return &c.novels[id-1], nil
}
