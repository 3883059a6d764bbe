package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkfolio/folio/internal/keys"
)

// ErrUnknownKey is returned by Resolve for keys outside the key grammar.
var ErrUnknownKey = errors.New("unknown cache key")

// TrendingLimit is the size of the trending list.
const TrendingLimit = 10

// Request is the backend call behind a cache key.
type Request struct {
	Endpoint string
	Work     func(ctx context.Context) (any, error)

	// New returns a pointer to a zero value of the type Work produces.
	New func() any
}

func request[T any](endpoint string, work func(ctx context.Context) (T, error)) Request {
	return Request{
		Endpoint: endpoint,
		Work: func(ctx context.Context) (any, error) {
			v, err := work(ctx)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		New: func() any { return new(T) },
	}
}

// Resolve maps a cache key built by package keys to the catalog call that
// produces its value.
func (c *Catalog) Resolve(key string) (Request, error) {
	parts := strings.Split(key, ":")
	fail := func() (Request, error) {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	switch {
	case parts[0] == keys.NSHome && len(parts) == 2 && parts[1] == "trending":
		return request(keys.EndpointNovels, func(ctx context.Context) ([]Novel, error) {
			return c.Trending(ctx, TrendingLimit)
		}), nil

	case parts[0] == keys.NSNovel && len(parts) >= 2:
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return fail()
		}
		if len(parts) == 2 {
			return request(keys.EndpointNovels, func(ctx context.Context) (*Novel, error) {
				return c.Novel(ctx, id)
			}), nil
		}
		if len(parts) == 3 {
			switch parts[2] {
			case "chapters":
				return request(keys.EndpointChapters, func(ctx context.Context) ([]Chapter, error) {
					return c.Chapters(ctx, id)
				}), nil
			case "reviews":
				return request(keys.EndpointNovels, func(ctx context.Context) ([]Review, error) {
					return c.Reviews(ctx, id)
				}), nil
			}
		}

	case parts[0] == keys.NSChapter && len(parts) == 3:
		novelID, err1 := strconv.Atoi(parts[1])
		number, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return fail()
		}
		return request(keys.EndpointChapters, func(ctx context.Context) (*Chapter, error) {
			return c.Chapter(ctx, novelID, number)
		}), nil

	case parts[0] == keys.NSUser && len(parts) == 3 && parts[2] == "library":
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return fail()
		}
		return request(keys.EndpointLibrary, func(ctx context.Context) ([]Novel, error) {
			return c.Library(ctx, id)
		}), nil

	case parts[0] == keys.NSSearch:
		// The query is quoted and may itself contain colons
		rest := strings.TrimPrefix(key, keys.NSSearch+":")
		i := strings.LastIndex(rest, ":page")
		if i < 0 {
			return fail()
		}
		query, err := strconv.Unquote(rest[:i])
		if err != nil {
			return fail()
		}
		page, err := strconv.Atoi(rest[i+len(":page"):])
		if err != nil {
			return fail()
		}
		return request(keys.EndpointSearch, func(ctx context.Context) ([]Novel, error) {
			return c.Search(ctx, query, page)
		}), nil
	}

	return fail()
}
