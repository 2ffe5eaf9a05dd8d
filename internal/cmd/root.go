// Package cmd provides the command-line interface for WordSpider.
// It handles command parsing, configuration loading, and spider
// execution.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mpetrov/wordspider/internal/config"
	"github.com/mpetrov/wordspider/internal/domainlist"
	"github.com/mpetrov/wordspider/internal/logging"
	"github.com/mpetrov/wordspider/internal/spider"
	"github.com/mpetrov/wordspider/internal/storage"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wordspider [domain-list.csv | URLs...]",
	Short: "A domain crawler that harvests per-domain vocabulary",
	Long: `WordSpider crawls web domains through a remote headless rendering
backend, harvests the text and outbound links of every rendered page,
and stores each domain's vocabulary in SQLite.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSpider,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI.
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wordspider.yml)")
	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	rootCmd.Flags().StringP("backend", "b", "http://localhost:8050", "Render backend base URL")
	rootCmd.Flags().Duration("render-timeout", 90*time.Second, "Backend-side render budget per page")
	rootCmd.Flags().DurationP("timeout", "t", 5*time.Minute, "HTTP request timeout")
	rootCmd.Flags().DurationP("delay", "r", 100*time.Millisecond, "Per-host delay between render requests")
	rootCmd.Flags().Int64("max-in-flight", 64, "Maximum concurrent render calls")
	rootCmd.Flags().StringP("user-agent", "u", "WordSpider/1.0", "HTTP User-Agent header")

	rootCmd.Flags().Duration("cold-restart-delay", 6*time.Second, "Backoff after the first transient backend failure")
	rootCmd.Flags().Duration("retry-delay", 500*time.Millisecond, "Backoff for subsequent retries")
	rootCmd.Flags().Int("retry-budget", 5, "Retries per attempt before giving up on the backend")

	rootCmd.Flags().Duration("domain-timeout", 100*time.Second, "Wall-clock budget per domain")
	rootCmd.Flags().Int("max-connection-failures", 10, "Abort the run after this many consecutive connection failures")

	rootCmd.Flags().StringSlice("languages", []string{}, "Accepted page languages (BCP 47); empty accepts all")
	rootCmd.Flags().StringP("database", "d", "./wordspider.db", "Path to SQLite database file")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().String("log-file", "", "Debug log file path (rotated by size)")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"backend_url", "backend"},
		{"render_timeout", "render-timeout"},
		{"request_timeout", "timeout"},
		{"request_delay", "delay"},
		{"max_in_flight", "max-in-flight"},
		{"user_agent", "user-agent"},
		{"cold_restart_delay", "cold-restart-delay"},
		{"retry_delay", "retry-delay"},
		{"retry_budget", "retry-budget"},
		{"domain_timeout", "domain-timeout"},
		{"max_connection_failures", "max-connection-failures"},
		{"accepted_languages", "languages"},
		{"database_path", "database"},
		{"metrics_addr", "metrics-addr"},
		{"log_level", "log-level"},
		{"log_file", "log-file"},
	}
	for _, bind := range bindFlags {
		if err := viper.BindPFlag(bind.viperKey, rootCmd.Flags().Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("wordspider")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func showCurrentConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: configuration validation failed: %v\n\n", err)
	}
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}
	fmt.Printf("# Current WordSpider configuration\n")
	fmt.Printf("# Config file search path: ./wordspider.yml, env prefix: WS_\n\n")
	fmt.Print(string(yamlData))
	return nil
}

// loadEntries turns the command arguments into the ordered domain
// batch: a single .csv argument is parsed as a domain list, anything
// else is taken as entry URLs.
func loadEntries(args []string) ([]domainlist.Entry, error) {
	if len(args) == 1 && strings.EqualFold(filepath.Ext(args[0]), ".csv") {
		return domainlist.ParseFile(args[0])
	}
	return domainlist.FromURLs(args)
}

func runSpider(cmd *cobra.Command, args []string) error {
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if showConfig {
		return showCurrentConfig(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.FilePath = cfg.LogFile
	if err := logging.SetDefault(logCfg); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	entries, err := loadEntries(args)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no domains to crawl\nUsage: %s [domain-list.csv | URLs...]", os.Args[0])
	}

	if dbDir := filepath.Dir(cfg.DatabasePath); dbDir != "." {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	sp, err := spider.New(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to initialize spider: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sp.Run(ctx, entries)
}
