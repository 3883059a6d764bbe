package ui

// Config contains TUI-specific configuration.
type Config struct {
	EnableMouse     bool
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`

	// Chapters to prefetch ahead of the one being read
	Lookahead int `env:"FOLIO_LOOKAHEAD" envDefault:"2"`

	// Novel to open on start, 0 for the trending list
	NovelID int

	// For debugging the UI
	GlamourEnabled bool `env:"FOLIO_ENABLE_GLAMOUR" envDefault:"true"`
}
