package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Volatile (in-memory) cache
cache:
  # TTL used when a request does not set one
  default_ttl: 5m
  # how often expired entries are swept, 0 to disable
  cleanup_interval: 1m
  volatile:
    max_entries: 100
    # fifo or lru
    eviction: fifo

# Durable cache, kept between runs
durable:
  enabled: true
  # file, sqlite, redis or memory
  backend: file
  # defaults to the user data directory
  # path: ~/.local/share/folio
  # zstd level for large entries, 0 to disable
  compression_level: 3
  redis:
    addr: localhost:6379
    db: 0

# Requests per fixed window, per endpoint
ratelimit:
  max_requests: 30
  window: 1m
  endpoints:
    search:
      max_requests: 10
      window: 1m

# Background prefetching
prefetch:
  workers: 2
  queue_size: 64

# Keys loaded by "folio warmup" and at the start of "folio serve"
warmup:
  concurrency: 4
  rate: 10
  keys:
    - home:trending

# Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464
metrics:
  addr: ""

log:
  # debug, info, warn or error
  level: info
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the folio config file",
	Long:    paragraph(fmt.Sprintf("\n%s the folio config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("folio config\nfolio config --config path/to/config.yml\nfolio config print"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Folio", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration",
	Long:  paragraph(fmt.Sprintf("\n%s the configuration folio runs with, after defaults, the config file and the environment are merged.", keyword("Print"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(cmd.OutOrStdout(), faint("# "+used))
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err //nolint:wrapcheck
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
