// Package main provides the entry point for the folio CLI application.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/inkfolio/folio/internal/app"
	"github.com/inkfolio/folio/internal/config"
	"github.com/inkfolio/folio/internal/orchestrator"
	"github.com/inkfolio/folio/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	style      string
	width      uint
	mouse      bool
	novelID    int
	warmup     bool

	refresh      bool
	outputFormat string
	ttl          time.Duration
	serveAddr    string
	rewarmEvery  time.Duration

	rootCmd = &cobra.Command{
		Use:   "folio",
		Short: "Browse a fiction catalog from the terminal",
		Long: paragraph(
			fmt.Sprintf("\nBrowse a fiction catalog from the terminal, %s.", keyword("with a cache that remembers")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: runTUI,
	}

	fetchCmd = &cobra.Command{
		Use:   "fetch KEY...",
		Short: "Fetch keys through the cache and print them",
		Long: paragraph(fmt.Sprintf("\n%s each key through the volatile and durable caches, calling the catalog only on a miss.", keyword("Fetch"))),
		Example: paragraph("folio fetch home:trending\n" +
			"folio fetch novel:12 novel:12:chapters --output json\n" +
			"folio fetch chapter:12:3 --refresh"),
		Args: cobra.MinimumNArgs(1),
		RunE: runFetch,
	}

	warmupCmd = &cobra.Command{
		Use:     "warmup [KEY...]",
		Short:   "Load keys into the durable cache ahead of time",
		Long:    paragraph(fmt.Sprintf("\n%s the configured warmup keys, or the keys given, with bounded concurrency.", keyword("Load"))),
		Example: paragraph("folio warmup\nfolio warmup novel:1 novel:1:chapters"),
		RunE:    runWarmup,
	}

	invalidateCmd = &cobra.Command{
		Use:     "invalidate PATTERN",
		Short:   "Remove cached entries whose key contains PATTERN",
		Example: paragraph("folio invalidate novel:12:\nfolio invalidate search:"),
		Args:    cobra.ExactArgs(1),
		RunE:    runInvalidate,
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE:  runClear,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache and rate limit state",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Keep the cache warm and serve Prometheus metrics",
		Long: paragraph(fmt.Sprintf("\n%s the warmup keys on an interval and expose metrics until interrupted. "+
			"Rate limits are reloaded when the config file changes.", keyword("Refresh"))),
		Example: paragraph("folio serve --addr 127.0.0.1:9464 --every 5m"),
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
)

// validateStyle checks that style names one of glamour's standard styles.
func validateStyle(style string) error {
	if style != styles.AutoStyle && styles.DefaultStyles[style] == nil {
		return fmt.Errorf("specified style does not exist: %s", style)
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	// grab config values from Viper
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")

	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	// validate the glamour style
	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	// We want to use a special no-TTY style, when stdout is not a terminal
	// and there was no specific style passed by arg
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// loadConfig merges the config file, FOLIO_* overrides and the runtime
// environment into a validated Config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, err
	}

	e, err := config.ParseEnv()
	if err != nil {
		return config.Config{}, err
	}
	e.Apply(&cfg)

	setLogLevel(cfg.Log.Level)
	return cfg, nil
}

// openApp loads the configuration and starts the application.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := []app.Option{app.WithLogger(log.Default())}
	if e, err := config.ParseEnv(); err == nil && e.DataDir != "" {
		opts = append(opts, app.WithDataDir(config.ExpandPath(e.DataDir)))
	}

	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to start: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		if err := a.ServeMetrics(cfg.Metrics.Addr); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

// watchConfig reloads rate limits and the log level when the config file
// changes. Other settings need a restart.
func watchConfig(a *app.App) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			log.Warn("Ignoring invalid configuration", "path", e.Name, "err", err)
			return
		}
		a.ApplyRateLimits(cfg)
		setLogLevel(cfg.Log.Level)
		log.Info("Reloaded configuration", "path", e.Name)
	})
	viper.WatchConfig()
}

func runTUI(cmd *cobra.Command, _ []string) error {
	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the flag if unset or unknown
	if cfg.GlamourStyle == "" || validateStyle(cfg.GlamourStyle) != nil {
		cfg.GlamourStyle = style
	}
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	cfg.NovelID = novelID

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	watchConfig(a)

	if warmup {
		for _, key := range a.Config.Warmup.Keys {
			if err := a.Prefetch(key, false); err != nil {
				log.Warn("Could not queue warmup key", "key", key, "err", err)
			}
		}
	}

	// Run Bubble Tea program
	if _, err := ui.NewProgram(cfg, a).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}

	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var opts []orchestrator.FetchOption
	if refresh {
		opts = append(opts, orchestrator.SkipCache())
	}
	if ttl > 0 {
		opts = append(opts, orchestrator.WithTTL(ttl))
	}

	w := cmd.OutOrStdout()
	for _, key := range args {
		calls := a.Catalog.Calls()
		start := time.Now()

		v, err := a.Fetch(cmd.Context(), key, opts...)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		source := "cache"
		if a.Catalog.Calls() > calls {
			source = "catalog"
		}
		fmt.Fprintln(w, faint(fmt.Sprintf("# %s from %s in %s", key, source, time.Since(start).Round(time.Millisecond))))
		if err := writeValue(w, v); err != nil {
			return err
		}
	}
	return nil
}

// writeValue prints v in the selected output format.
func writeValue(w io.Writer, v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v) //nolint:wrapcheck
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("unable to encode value: %w", err)
		}
		return enc.Close() //nolint:wrapcheck
	}
	return fmt.Errorf("unknown output format %q: use json or yaml", outputFormat)
}

func runWarmup(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if len(args) > 0 {
		a.Config.Warmup.Keys = args
	}

	res := a.Warmup(cmd.Context())
	printWarmup(cmd.OutOrStdout(), res)
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d of %d keys failed", len(res.Failed), len(a.Config.Warmup.Keys))
	}
	return nil
}

func printWarmup(w io.Writer, res orchestrator.WarmupResult) {
	fmt.Fprintf(w, "Loaded %s in %s\n",
		keyword(humanize.Comma(int64(res.Loaded))+" keys"),
		res.Duration.Round(time.Millisecond))

	failed := make([]string, 0, len(res.Failed))
	for key := range res.Failed {
		failed = append(failed, key)
	}
	sort.Strings(failed)
	for _, key := range failed {
		fmt.Fprintf(w, "  %s %s: %v\n", failure("✗"), key, res.Failed[key])
	}
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	pattern := args[0]
	if strings.TrimSpace(pattern) == "" {
		return errors.New("pattern must not be empty; use folio clear to remove everything")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n := a.Orchestrator.Invalidate(cmd.Context(), pattern)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s\n", keyword(humanize.Comma(int64(n))), pluralize("entry", "entries", n))
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.Orchestrator.ClearAll(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), "Cleared the cache.")
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	printStats(cmd.OutOrStdout(), a.Orchestrator.Stats(cmd.Context()))
	return nil
}

func printStats(w io.Writer, s orchestrator.Stats) {
	fmt.Fprintf(w, "%s %s of %s entries, %s hit rate\n",
		keyword("volatile"),
		humanize.Comma(int64(s.Volatile.Items)),
		humanize.Comma(int64(s.Volatile.Capacity)),
		humanize.FtoaWithDigits(s.Volatile.HitRate*100, 1)+"%")

	if s.Durable == nil {
		fmt.Fprintf(w, "%s %s\n", keyword("durable"), faint("disabled"))
	} else {
		fmt.Fprintf(w, "%s %s %s, %s %s\n",
			keyword("durable"),
			humanize.Comma(int64(s.DurableKeys)), pluralize("entry", "entries", s.DurableKeys),
			humanize.Comma(s.Durable.Faults), pluralize("fault", "faults", int(s.Durable.Faults)))
	}

	if len(s.Pending) > 0 {
		fmt.Fprintf(w, "%s %s\n", keyword("pending"), strings.Join(s.Pending, ", "))
	}

	for _, e := range s.Endpoints {
		fmt.Fprintf(w, "%s %s: %d of %d left per %s\n",
			keyword("ratelimit"), e.Name, e.Remaining, e.Limit.MaxRequests, e.Limit.Window)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if rewarmEvery <= 0 {
		return fmt.Errorf("--every must be positive, got %s", rewarmEvery)
	}
	if serveAddr != "" {
		viper.Set("metrics.addr", serveAddr)
	}
	if viper.GetString("metrics.addr") == "" {
		viper.Set("metrics.addr", "127.0.0.1:9464")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	watchConfig(a)

	a.Lifecycle.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on %s\n", keyword("http://"+a.MetricsAddr().String()+"/metrics"))

	ticker := time.NewTicker(rewarmEvery)
	defer ticker.Stop()
	for {
		res := a.Warmup(cmd.Context())
		log.Info("Warmed cache", "loaded", res.Loaded, "failed", len(res.Failed), "took", res.Duration)

		select {
		case <-ticker.C:
		case <-a.Lifecycle.Done():
			return nil
		case <-cmd.Context().Done():
			return nil
		}
	}
}

func pluralize(one, many string, n int) string {
	if n == 1 {
		return one
	}
	return many
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = closer()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "glamour style name")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap chapters at width (set to 0 to fit the terminal)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	rootCmd.Flags().IntVarP(&novelID, "novel", "n", 0, "open a novel by id")
	rootCmd.Flags().BoolVar(&warmup, "warmup", false, "queue the warmup keys on start")
	_ = rootCmd.Flags().MarkHidden("mouse")

	fetchCmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "skip cached copies and call the catalog")
	fetchCmd.Flags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")
	fetchCmd.Flags().DurationVar(&ttl, "ttl", 0, "cache lifetime of fetched values (default from config)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "metrics listen address (default from config, else 127.0.0.1:9464)")
	serveCmd.Flags().DurationVar(&rewarmEvery, "every", 5*time.Minute, "how often to re-run warmup")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	config.SetDefaults(viper.GetViper())

	configCmd.AddCommand(configPrintCmd)
	rootCmd.AddCommand(configCmd, manCmd, fetchCmd, warmupCmd, invalidateCmd, clearCmd, statsCmd, serveCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "folio")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "folio")}, dirs...)
	}

	if c := os.Getenv("FOLIO_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("folio")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("folio")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "folio.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
