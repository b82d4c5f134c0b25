package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"relaybot/internal/browser"
	"relaybot/internal/config"
	"relaybot/internal/journal"
	"relaybot/internal/resolver"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

const defaultLoginURL = "https://www.instagram.com/accounts/login/"

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "relaybot",
		Short:        "Relaybot: replaces social media links in Telegram groups with the media",
		Long:         "Relaybot watches Telegram group chats for Instagram, TikTok, Facebook and Twitter/X links and reposts the video or photo behind them.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.relaybot/config.json)")

	root.AddCommand(runCmd())
	root.AddCommand(resolveCmd())
	root.AddCommand(configCmd())
	root.AddCommand(journalCmd())
	root.AddCommand(browserCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot", version)
		},
	}
}

func resolveCmd() *cobra.Command {
	var out string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "resolve [url]",
		Short: "Resolve one link through its platform chain and print the result",
		Long:  "Runs the same fallback chain the bot uses, without Telegram. Useful to check a strategy or a policy file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			registry, err := buildRegistry(cfg, nil)
			if err != nil {
				return err
			}
			p, ok := registry.Select(args[0])
			if !ok {
				return fmt.Errorf("no enabled platform matches %q", args[0])
			}
			link, err := p.Extract(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			res, err := p.Resolve(ctx, link)
			if err != nil {
				return fmt.Errorf("resolve %s: %w (%s)", link.URL, err, resolver.KindName(err))
			}

			fmt.Printf("platform:  %s\n", link.Platform)
			fmt.Printf("url:       %s\n", link.URL)
			fmt.Printf("kind:      %s\n", res.Kind)
			fmt.Printf("strategy:  %s\n", res.Strategy)
			fmt.Printf("elapsed:   %s\n", time.Since(start).Round(time.Millisecond))
			if res.URL != "" {
				fmt.Printf("media url: %s\n", res.URL)
			}
			if len(res.Bytes) > 0 {
				fmt.Printf("size:      %d bytes\n", res.Size())
				if out != "" {
					if err := os.WriteFile(out, res.Bytes, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", out, err)
					}
					fmt.Printf("saved:     %s\n", out)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write downloaded media to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall resolve timeout")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Initialize, get, set, and list configuration values. Changes are saved to the config file.",
	}

	var force bool
	initC := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Tools.ScratchDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "scratch", cfg.Tools.ScratchDir)
			fmt.Println("Set TELEGRAM_TOKEN (or telegram.token) before running `relaybot run`.")
			return nil
		},
	}
	initC.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initC)

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. relay.concurrency)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. relay.concurrency 8)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths and values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, s := range config.ListPaths(config.Sanitize(cfg)) {
				fmt.Fprintf(w, "%s\t%v\n", s.Path, s.Value)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the dispatch journal",
	}

	openJournal := func() (*journal.SQLiteJournal, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return journal.Open(cfg.Journal.DBPath, logger)
	}

	var since time.Duration
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Outcome counts per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer j.Close()
			rows, err := j.Stats(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("no dispatches recorded in that window")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PLATFORM\tSTATUS\tCOUNT")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\n", r.Platform, r.Status, r.Count)
			}
			return w.Flush()
		},
	}
	stats.Flags().DurationVar(&since, "since", 24*time.Hour, "window to aggregate")
	cmd.AddCommand(stats)

	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Most recent dispatch outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer j.Close()
			outcomes, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCHAT\tPLATFORM\tSTATUS\tSTRATEGY\tDURATION\tURL")
			for _, o := range outcomes {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					o.At.Local().Format("2006-01-02 15:04:05"), o.ChatID, o.Platform, o.Status,
					dash(o.Strategy), o.Duration.Round(time.Millisecond), o.URL)
			}
			return w.Flush()
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	cmd.AddCommand(recent)

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete outcomes older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal()
			if err != nil {
				return err
			}
			defer j.Close()
			n, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d rows\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")
	cmd.AddCommand(prune)

	return cmd
}

func browserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browser",
		Short: "Manage the headless browser profile used by the render strategy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "login [url]",
		Short: "Open a visible Chrome window to log in (default: Instagram)",
		Long:  "Cookies are saved in the browser profile and reused by headless rendering.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url := defaultLoginURL
			if len(args) == 1 {
				url = args[0]
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := browser.NewBridge(browser.BridgeConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Logger:     logger,
			})
			if err := os.MkdirAll(filepath.Dir(b.ProfileDir()), 0o755); err != nil {
				return err
			}
			return b.Login(ctx, url)
		},
	})
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
