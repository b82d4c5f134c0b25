package config

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Relay: RelayConfig{
			Concurrency:      4,
			QueueSize:        100,
			DispatchTimeout:  180,
			SendTimeout:      60,
			RateBurst:        5,
			RatePerMinute:    20,
			SpammerThreshold: 3,
		},
		Tools: ToolsConfig{
			YTDLP:        "yt-dlp",
			FFmpeg:       "ffmpeg",
			ScratchDir:   "~/.relaybot/scratch",
			YTDLPTimeout: 30,
			MaxUploadMB:  8,
			Compress:     true,
		},
		Endpoints: EndpointsConfig{
			InstagramAPI:   "https://instagram-stories-api.vercel.app/api/post",
			Tikwm:          "https://tikwm.com/api/",
			TikTokDownload: "https://api.tiktokdownload.com/api",
			Syndication:    "https://cdn.syndication.twimg.com/tweet-result",
			DDInstagram:    "d.ddinstagram.com",
			FixupX:         "d.fixupx.com",
		},
		Browser: BrowserConfig{
			Enabled:  false,
			Headless: true,
		},
		Journal: JournalConfig{
			Enabled:       true,
			DBPath:        "~/.relaybot/journal.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1,
		},
		Janitor: JanitorConfig{
			Enabled:          true,
			ScratchMaxAgeMin: 60,
		},
	}
}
