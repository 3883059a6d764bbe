package backend

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

var (
	adjectives = []string{"Glass", "Hollow", "Crimson", "Silent", "Drowned", "Gilded", "Ashen", "Wandering", "Last", "Iron", "Paper", "Starless"}
	nouns      = []string{"Archive", "Crown", "Lighthouse", "Orchard", "Dragon", "Cartographer", "Tide", "Citadel", "Familiar", "Garden", "Oath", "Library"}
	authors    = []string{"M. Ravensworth", "Ada Quill", "Tomas Erde", "Lin Yue", "R. K. Mallory", "Sefa Okoro", "June Halvorsen", "Ilya Brand"}
	genres     = []string{"fantasy", "mystery", "romance", "litrpg", "science fiction", "horror", "slice of life", "cultivation"}
	handles    = []string{"inkwell", "nightreader", "dogeared", "margins", "bookmark42", "chapterbreak"}
	openings   = []string{
		"The rain had not stopped for nine days when",
		"Nobody in the valley remembered who first noticed that",
		"It was the third bell of the evening watch, and",
		"She counted the steps twice before admitting that",
	}
)

// epoch anchors generated timestamps so catalogs are reproducible.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func generate(rnd *rand.Rand, size int) []Novel {
	novels := make([]Novel, size)
	for i := range novels {
		id := i + 1
		title := fmt.Sprintf("The %s %s", adjectives[rnd.IntN(len(adjectives))], nouns[rnd.IntN(len(nouns))])
		g1 := genres[rnd.IntN(len(genres))]
		g2 := genres[rnd.IntN(len(genres))]
		novelGenres := []string{g1}
		if g2 != g1 {
			novelGenres = append(novelGenres, g2)
		}

		novels[i] = Novel{
			ID:        id,
			Title:     title,
			Author:    authors[rnd.IntN(len(authors))],
			Synopsis:  fmt.Sprintf("%s %s.", openings[rnd.IntN(len(openings))], strings.ToLower(title)),
			Genres:    novelGenres,
			Rating:    float64(30+rnd.IntN(21)) / 10,
			Chapters:  5 + rnd.IntN(60),
			Readers:   100 + rnd.IntN(250_000),
			UpdatedAt: epoch.Add(time.Duration(rnd.IntN(365*24)) * time.Hour),
		}
	}
	return novels
}

func chapterMeta(n *Novel, number int) Chapter {
	return Chapter{
		NovelID: n.ID,
		Number:  number,
		Title:   fmt.Sprintf("Chapter %d: %s", number, nouns[(n.ID+number)%len(nouns)]),
		Words:   1800 + (n.ID*number*37)%2400,
	}
}

func chapterBody(n *Novel, number int) string {
	var b strings.Builder
	for p := 0; p < 4; p++ {
		fmt.Fprintf(&b, "%s the %s changed. ", openings[(number+p)%len(openings)], strings.ToLower(nouns[(n.ID+p)%len(nouns)]))
		fmt.Fprintf(&b, "In %s, %s wrote it down so it would not be forgotten.\n\n", n.Title, n.Author)
	}
	return strings.TrimSpace(b.String())
}
