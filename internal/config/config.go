package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds all application configuration, loaded from environment
// variables with sensible defaults. A .env file in the working directory is
// loaded first when present.
//
// Environment variables:
//
// Server:
// - ADDR: HTTP listen address (default :8000)
// - DATA_DIR: directory for the sqlite job store (default ./data)
// - STORAGE_DIR: directory for rendered artifacts (default ./storage/videos)
// - UI_DIR: static frontend directory; unset disables the UI
// - LOG_LEVEL: debug|info|warn|error|fatal (default info)
// - LOG_FILE: write logs to a file instead of stdout (optional)
//
// Pipeline:
// - WORKER_COUNT: parallel job runs (default 2)
// - MAX_CLIPS: upper bound on clips per job (default 8)
// - CLEANUP_CRON: cron spec for the artifact janitor (default @hourly)
// - RESOLVE_TIMEOUT / SELECT_TIMEOUT / RENDER_TIMEOUT: per-stage bounds
//
// LLM (any OpenAI-compatible provider):
// - LLM_API_KEY (required), LLM_API_URL, LLM_MODEL, LLM_MAX_TOKENS,
//   LLM_TEMPERATURE, LLM_TIMEOUT
//
// External tools:
// - YTDLP_PATH, FFPROBE_PATH, FFMPEG_PATH, COOKIES_FILE, TRANSCRIPT_LANG,
//   RENDER_CONCURRENCY
type Config struct {
	Addr       string `env:"ADDR" envDefault:":8000"`
	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	StorageDir string `env:"STORAGE_DIR" envDefault:"./storage/videos"`
	UIDir      string `env:"UI_DIR"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile    string `env:"LOG_FILE"`

	Workers     int    `env:"WORKER_COUNT" envDefault:"2"`
	MaxClips    int    `env:"MAX_CLIPS" envDefault:"8"`
	CleanupCron string `env:"CLEANUP_CRON" envDefault:"@hourly"`

	ResolveTimeout time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"10m"`
	SelectTimeout  time.Duration `env:"SELECT_TIMEOUT" envDefault:"2m"`
	RenderTimeout  time.Duration `env:"RENDER_TIMEOUT" envDefault:"15m"`

	LLM    LLMConfig    `envPrefix:"LLM_"`
	Source SourceConfig
	Render RenderConfig
}

type LLMConfig struct {
	APIKey      string  `env:"API_KEY"`
	APIURL      string  `env:"API_URL" envDefault:"https://api.openai.com/v1"`
	Model       string  `env:"MODEL" envDefault:"gpt-4"`
	MaxTokens   int     `env:"MAX_TOKENS" envDefault:"2000"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0.2"`
	Timeout     int     `env:"TIMEOUT" envDefault:"60"`
}

type SourceConfig struct {
	YTDLPPath      string `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFProbePath    string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	CookiesFile    string `env:"COOKIES_FILE"`
	TranscriptLang string `env:"TRANSCRIPT_LANG" envDefault:"en"`
}

// TranscriptTag parses the configured transcript language, falling back to
// English for unparseable values.
func (c SourceConfig) TranscriptTag() language.Tag {
	tag, err := language.Parse(c.TranscriptLang)
	if err != nil {
		return language.English
	}
	return tag
}

type RenderConfig struct {
	FFmpegPath  string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	Concurrency int    `env:"RENDER_CONCURRENCY" envDefault:"2"`
}

// New loads configuration from a .env file (if present) and the environment.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Workers)
	}
	if c.MaxClips <= 0 || c.MaxClips > 50 {
		return fmt.Errorf("MAX_CLIPS must be in 1..50, got %d", c.MaxClips)
	}
	if c.ResolveTimeout <= 0 || c.SelectTimeout <= 0 || c.RenderTimeout <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}
	return nil
}
