package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/browser"
	"relaybot/internal/channel"
	"relaybot/internal/journal"
	"relaybot/internal/platform"
	"relaybot/internal/tool"

	"github.com/spf13/cobra"
)

// doctorReport tallies check results while printing them.
type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) { printPass(check, detail); r.passed++ }
func (r *doctorReport) warn(check, detail string) { printWarn(check, detail); r.warned++ }
func (r *doctorReport) fail(check, detail string) { printFail(check, detail); r.failed++ }

func doctorCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, external tools, journal
database and directories are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Relaybot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &doctorReport{}

			// 1. Config file (optional: the environment may carry everything)
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults and environment)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\nRun 'relaybot config init' to create a default configuration.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config validation", "valid")

			// 2. Token
			if err := cfg.RequireToken(); err != nil {
				r.fail("Telegram token", err.Error())
			} else if online {
				tg := channel.NewTelegram(channel.TelegramConfig{Token: cfg.Telegram.Token, Logger: logger})
				if name, err := tg.Connect(); err != nil {
					r.fail("Telegram token", err.Error())
				} else {
					r.pass("Telegram token", "authenticated as @"+name)
				}
			} else {
				r.pass("Telegram token", "set (use --online to verify)")
			}

			// 3. External tools
			runner := tool.NewRunner(tool.RunnerConfig{Logger: logger})
			if path, err := runner.Available(cfg.Tools.YTDLP); err != nil {
				r.warn("yt-dlp", "not found: yt-dlp strategies will fail")
			} else {
				r.pass("yt-dlp", path)
			}
			if cfg.Tools.Compress {
				if path, err := runner.Available(cfg.Tools.FFmpeg); err != nil {
					r.warn("ffmpeg", "not found: oversized videos cannot be compressed")
				} else {
					r.pass("ffmpeg", path)
				}
			}

			// 4. Platform policy
			pf, err := platform.LoadPolicyFile(cfg.Platforms.PolicyFile)
			if err != nil {
				r.fail("Platform policy", err.Error())
			} else if cfg.Platforms.PolicyFile == "" {
				r.pass("Platform policy", "built-in defaults")
			} else {
				r.pass("Platform policy", fmt.Sprintf("%s (%d overrides)", cfg.Platforms.PolicyFile, len(pf.Platforms)))
			}

			// 4b. Chain budgets against the dispatch deadline
			if err == nil {
				if reg, err := buildRegistry(cfg, nil); err != nil {
					r.fail("Chain budget", err.Error())
				} else if over := reg.OverBudget(cfg.Relay.DispatchTimeoutDuration()); len(over) > 0 {
					r.warn("Chain budget", fmt.Sprintf("exceeds relay.dispatchTimeout: %s", strings.Join(over, ", ")))
				} else {
					r.pass("Chain budget", fmt.Sprintf("every chain fits in %s", cfg.Relay.DispatchTimeoutDuration()))
				}
			}

			// 5. Scratch directory writable
			if err := checkWritableDir(cfg.Tools.ScratchDir); err != nil {
				r.fail("Scratch dir", err.Error())
			} else {
				r.pass("Scratch dir", cfg.Tools.ScratchDir)
			}

			// 6. Journal
			if cfg.Journal.Enabled {
				if err := checkJournal(cfg.Journal.DBPath); err != nil {
					r.fail("Journal", err.Error())
				} else {
					r.pass("Journal", cfg.Journal.DBPath)
				}
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkPort(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics port", cfg.Metrics.Addr+" available")
				}
			}

			// 8. Browser profile
			if cfg.Browser.Enabled {
				dir := cfg.Browser.ProfileDir
				if dir == "" {
					dir = browser.DefaultProfileDir()
				}
				if _, err := os.Stat(dir); err != nil {
					r.warn("Browser profile", "no profile yet: run 'relaybot browser login'")
				} else {
					r.pass("Browser profile", dir)
				}
			}

			// 9. Log file writable
			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.Log.File)
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nRelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Relaybot is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "verify the token against the Telegram API")
	return cmd
}

func checkJournal(dbPath string) error {
	j, err := journal.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	return nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
