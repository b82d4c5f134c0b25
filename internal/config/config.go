package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the root configuration for relaybot. Every field can come from
// the JSON file, and the operationally interesting ones from the
// environment as well; the environment wins.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Log       LogConfig       `json:"log"`
	Relay     RelayConfig     `json:"relay"`
	Tools     ToolsConfig     `json:"tools"`
	Endpoints EndpointsConfig `json:"endpoints"`
	Browser   BrowserConfig   `json:"browser"`
	Platforms PlatformsConfig `json:"platforms"`
	Journal   JournalConfig   `json:"journal"`
	Metrics   MetricsConfig   `json:"metrics"`
	Tracing   TracingConfig   `json:"tracing"`
	Janitor   JanitorConfig   `json:"janitor"`
}

type TelegramConfig struct {
	Token       string         `json:"token" env:"TELEGRAM_TOKEN"`
	AllowFrom   FlexStringList `json:"allowFrom,omitempty" env:"RELAYBOT_ALLOW_FROM" envSeparator:","` // chat ids; empty allows every chat
	PollTimeout int            `json:"pollTimeout"`                                                    // long-poll seconds
	Debug       bool           `json:"debug,omitempty" env:"RELAYBOT_TELEGRAM_DEBUG"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["-100123", 456]).
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// Int64s parses the list as chat ids, skipping anything that is not one.
func (f FlexStringList) Int64s() []int64 {
	out := make([]int64, 0, len(f))
	for _, s := range f {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

type LogConfig struct {
	Level  string `json:"level" env:"RELAYBOT_LOG_LEVEL"`   // debug | info | warn | error
	Format string `json:"format" env:"RELAYBOT_LOG_FORMAT"` // text | json
	File   string `json:"file,omitempty" env:"RELAYBOT_LOG_FILE"`
}

type RelayConfig struct {
	Concurrency      int     `json:"concurrency" env:"RELAYBOT_CONCURRENCY"`
	QueueSize        int     `json:"queueSize"`
	DispatchTimeout  int     `json:"dispatchTimeout"` // seconds
	SendTimeout      int     `json:"sendTimeout"`     // seconds
	RateBurst        int     `json:"rateBurst"`
	RatePerMinute    float64 `json:"ratePerMinute"`
	SpammerThreshold int     `json:"spammerThreshold"`
}

type ToolsConfig struct {
	YTDLP        string `json:"ytdlp" env:"RELAYBOT_YTDLP"`
	FFmpeg       string `json:"ffmpeg" env:"RELAYBOT_FFMPEG"`
	CookiesFile  string `json:"cookiesFile,omitempty" env:"RELAYBOT_COOKIES_FILE"`
	ScratchDir   string `json:"scratchDir" env:"RELAYBOT_SCRATCH_DIR"`
	YTDLPTimeout int    `json:"ytdlpTimeout"` // seconds
	MaxUploadMB  int    `json:"maxUploadMB"`
	Compress     bool   `json:"compress"`
}

type EndpointsConfig struct {
	InstagramAPI   string `json:"instagramApi" env:"RELAYBOT_INSTAGRAM_API"`
	Tikwm          string `json:"tikwm"`
	TikTokDownload string `json:"tiktokDownload"`
	Syndication    string `json:"syndication"`
	DDInstagram    string `json:"ddinstagram"`
	FixupX         string `json:"fixupx"`
}

type BrowserConfig struct {
	Enabled    bool   `json:"enabled" env:"RELAYBOT_BROWSER"`
	ProfileDir string `json:"profileDir,omitempty"`
	Headless   bool   `json:"headless"`
}

type PlatformsConfig struct {
	PolicyFile string `json:"policyFile,omitempty" env:"RELAYBOT_POLICY_FILE"` // YAML overrides
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath" env:"RELAYBOT_JOURNAL_DB"`
	RetentionDays int    `json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"RELAYBOT_METRICS"`
	Addr    string `json:"addr" env:"RELAYBOT_METRICS_ADDR"`
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled" env:"RELAYBOT_TRACING"`
	Endpoint    string  `json:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRatio float64 `json:"sampleRatio,omitempty"`
}

type JanitorConfig struct {
	Enabled          bool   `json:"enabled"`
	ScratchMaxAgeMin int    `json:"scratchMaxAgeMinutes"`
	SweepCron        string `json:"sweepCron,omitempty"`
	PruneCron        string `json:"pruneCron,omitempty"`
}

// Durations in config are whole seconds.

func (r RelayConfig) DispatchTimeoutDuration() time.Duration {
	return time.Duration(r.DispatchTimeout) * time.Second
}

func (r RelayConfig) SendTimeoutDuration() time.Duration {
	return time.Duration(r.SendTimeout) * time.Second
}

func (t ToolsConfig) YTDLPTimeoutDuration() time.Duration {
	return time.Duration(t.YTDLPTimeout) * time.Second
}

func (t ToolsConfig) MaxUploadBytes() int {
	return t.MaxUploadMB << 20
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a .env file if present, the JSON config at path, then the
// environment. An empty path means the default location, which may be
// missing: the environment alone is enough to run.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	optional := path == ""
	if optional {
		path = DefaultConfigPath()
	}
	path = ExpandPath(path)

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}

	cfg.Log.File = ExpandPath(cfg.Log.File)
	cfg.Tools.CookiesFile = ExpandPath(cfg.Tools.CookiesFile)
	cfg.Tools.ScratchDir = ExpandPath(cfg.Tools.ScratchDir)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Platforms.PolicyFile = ExpandPath(cfg.Platforms.PolicyFile)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if cfg.Telegram.PollTimeout < 1 || cfg.Telegram.PollTimeout > 120 {
		errs = append(errs, "telegram.pollTimeout must be between 1 and 120")
	}
	for _, id := range cfg.Telegram.AllowFrom {
		if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
			errs = append(errs, fmt.Sprintf("telegram.allowFrom: %q is not a chat id", id))
		}
	}

	if cfg.Relay.Concurrency < 1 || cfg.Relay.Concurrency > 64 {
		errs = append(errs, "relay.concurrency must be between 1 and 64")
	}
	if cfg.Relay.QueueSize < 1 {
		errs = append(errs, "relay.queueSize must be >= 1")
	}
	if cfg.Relay.DispatchTimeout < 1 {
		errs = append(errs, "relay.dispatchTimeout must be >= 1")
	}
	if cfg.Relay.SendTimeout < 1 {
		errs = append(errs, "relay.sendTimeout must be >= 1")
	} else if cfg.Relay.SendTimeout <= cfg.Telegram.PollTimeout {
		errs = append(errs, "relay.sendTimeout must exceed telegram.pollTimeout, the Bot API client serves both")
	}
	if cfg.Relay.RateBurst < 1 || cfg.Relay.RatePerMinute <= 0 {
		errs = append(errs, "relay.rateBurst and relay.ratePerMinute must be positive")
	}
	if cfg.Relay.SpammerThreshold < 1 {
		errs = append(errs, "relay.spammerThreshold must be >= 1")
	}

	if cfg.Tools.YTDLP == "" {
		errs = append(errs, "tools.ytdlp must name the yt-dlp binary")
	}
	if cfg.Tools.Compress && cfg.Tools.FFmpeg == "" {
		errs = append(errs, "tools.ffmpeg is required when tools.compress is on")
	}
	if cfg.Tools.YTDLPTimeout < 1 {
		errs = append(errs, "tools.ytdlpTimeout must be >= 1")
	}
	// Both yt-dlp strategies lead the Instagram, Facebook and Twitter chains.
	if cfg.Relay.DispatchTimeout >= 1 && cfg.Tools.YTDLPTimeout >= 1 && cfg.Relay.DispatchTimeout <= 2*cfg.Tools.YTDLPTimeout {
		errs = append(errs, fmt.Sprintf("relay.dispatchTimeout (%ds) must exceed twice tools.ytdlpTimeout (%ds) or the fallback strategies never run",
			cfg.Relay.DispatchTimeout, cfg.Tools.YTDLPTimeout))
	}
	if cfg.Tools.MaxUploadMB < 1 || cfg.Tools.MaxUploadMB > 2000 {
		errs = append(errs, "tools.maxUploadMB must be between 1 and 2000")
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.DBPath == "" {
			errs = append(errs, "journal.dbPath is required when the journal is enabled")
		}
		if cfg.Journal.RetentionDays < 1 {
			errs = append(errs, "journal.retentionDays must be >= 1")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}
	if cfg.Janitor.Enabled && cfg.Janitor.ScratchMaxAgeMin < 1 {
		errs = append(errs, "janitor.scratchMaxAgeMinutes must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ErrNoToken is returned by RequireToken when the bot cannot start.
var ErrNoToken = errors.New("telegram token is not set (telegram.token or TELEGRAM_TOKEN)")

// RequireToken is the one check that only the run command needs.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrNoToken
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
