// Package keys builds cache keys of the form namespace:id[:subresource][:qualifier].
//
// Invalidation matches by substring: the pattern "novel:1" also matches
// "novel:12". Use NovelPattern to scope an invalidation to one novel.
package keys

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespaces.
const (
	NSNovel   = "novel"
	NSUser    = "user"
	NSSearch  = "search"
	NSHome    = "home"
	NSChapter = "chapter"
)

// Endpoints name rate-limited backend operations.
const (
	EndpointNovels   = "novels"
	EndpointChapters = "chapters"
	EndpointSearch   = "search"
	EndpointLibrary  = "library"
)

// Novel is the key of a novel record.
func Novel(id int) string {
	return join(NSNovel, strconv.Itoa(id))
}

// NovelChapters is the key of a novel's chapter list.
func NovelChapters(id int) string {
	return join(NSNovel, strconv.Itoa(id), "chapters")
}

// NovelReviews is the key of a novel's reviews.
func NovelReviews(id int) string {
	return join(NSNovel, strconv.Itoa(id), "reviews")
}

// NovelPattern matches the subresources of one novel, such as its chapters
// and reviews, but not the novel record or any other novel.
func NovelPattern(id int) string {
	return join(NSNovel, strconv.Itoa(id)) + ":"
}

// Chapter is the key of one chapter's content.
func Chapter(novelID, number int) string {
	return join(NSChapter, strconv.Itoa(novelID), strconv.Itoa(number))
}

// UserLibrary is the key of a user's library.
func UserLibrary(userID int) string {
	return join(NSUser, strconv.Itoa(userID), "library")
}

// Search is the key of one page of search results.
func Search(query string, page int) string {
	return join(NSSearch, strconv.Quote(strings.TrimSpace(query)), fmt.Sprintf("page%d", page))
}

// Trending is the key of the home page trending list.
func Trending() string {
	return join(NSHome, "trending")
}

// Namespace returns the namespace of key.
func Namespace(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
