package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/clipwave/clipwave/internal/pipeline"
	"github.com/clipwave/clipwave/pkg/log"
)

type Options struct {
	YTDLPPath      string
	FFProbePath    string
	CookiesFile    string
	TranscriptLang language.Tag
	TempRoot       string
}

// YTDLPResolver resolves a video URL to a local media file by shelling out
// to yt-dlp. Download attempts walk a list of player-client strategies so a
// restricted primary path can fall back to plain web scraping.
type YTDLPResolver struct {
	opts Options
}

func NewYTDLPResolver(opts Options) *YTDLPResolver {
	if opts.YTDLPPath == "" {
		opts.YTDLPPath = "yt-dlp"
	}
	if opts.FFProbePath == "" {
		opts.FFProbePath = "ffprobe"
	}
	if opts.TranscriptLang == language.Und {
		opts.TranscriptLang = language.English
	}
	return &YTDLPResolver{opts: opts}
}

// CheckDependencies verifies the external tools the resolver shells out to.
func (r *YTDLPResolver) CheckDependencies() error {
	if _, err := exec.LookPath(r.opts.YTDLPPath); err != nil {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if _, err := exec.LookPath(r.opts.FFProbePath); err != nil {
		return fmt.Errorf("missing dependency: ffprobe is not installed or not on PATH")
	}
	return nil
}

func (r *YTDLPResolver) Resolve(ctx context.Context, rawURL string) (*pipeline.Media, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(r.opts.TempRoot, "clipwave-job-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			if err := os.RemoveAll(tmpDir); err != nil {
				log.Warn("Failed to remove temp dir %s: %v", tmpDir, err)
			}
		})
	}

	meta, err := r.fetchMetadata(ctx, rawURL)
	if err != nil {
		// Metadata probe failing is not fatal on its own; the download
		// strategies below make the final call.
		log.Warn("Metadata probe failed for %s: %v", rawURL, err)
		meta = &videoMetadata{}
	}

	mediaPath := filepath.Join(tmpDir, "input.mp4")
	if err := r.download(ctx, rawURL, mediaPath); err != nil {
		cleanup()
		return nil, err
	}

	duration := meta.Duration
	if duration <= 0 {
		duration, err = r.probeDuration(ctx, mediaPath)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("probe downloaded media: %w", err)
		}
	}

	transcript := r.fetchTranscript(ctx, rawURL, tmpDir)

	return &pipeline.Media{
		Path:       mediaPath,
		Title:      meta.Title,
		Duration:   duration,
		Transcript: transcript,
		Cleanup:    cleanup,
	}, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid video URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid video URL %q: expected an http(s) URL", rawURL)
	}
	return nil
}

type videoMetadata struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

func (r *YTDLPResolver) fetchMetadata(ctx context.Context, rawURL string) (*videoMetadata, error) {
	out, err := r.runYTDLP(ctx, []string{"-J", "--no-playlist", "--no-warnings", rawURL})
	if err != nil {
		return nil, err
	}
	var meta videoMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("parse yt-dlp metadata JSON: %w", err)
	}
	return &meta, nil
}

type downloadStrategy struct {
	name          string
	playerClients string
	format        string
	useCookies    bool
}

func downloadStrategies() []downloadStrategy {
	return []downloadStrategy{
		{
			name:          "cookies with android/web client",
			playerClients: "android,web",
			format:        "bestvideo[height<=720]+bestaudio/best[height<=720]",
			useCookies:    true,
		},
		{
			name:          "mweb client",
			playerClients: "mweb,web",
			format:        "best[height<=720]",
		},
		{
			name:          "web client",
			playerClients: "web",
			format:        "best[height<=720]",
		},
	}
}

func (r *YTDLPResolver) download(ctx context.Context, rawURL, outputPath string) error {
	var lastErr error
	for i, strategy := range downloadStrategies() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		args := r.downloadArgs(strategy, rawURL, outputPath)
		log.Info("Download strategy %d (%s) for %s", i+1, strategy.name, rawURL)
		if _, err := r.runYTDLP(ctx, args); err != nil {
			lastErr = err
			log.Warn("Download strategy %q failed: %v", strategy.name, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("all download strategies failed: %w", lastErr)
}

func (r *YTDLPResolver) downloadArgs(strategy downloadStrategy, rawURL, outputPath string) []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--retries", "2",
		"--fragment-retries", "2",
		"-f", strategy.format,
		"--merge-output-format", "mp4",
		"-o", outputPath,
		"--extractor-args", "youtube:player_client=" + strategy.playerClients,
	}
	if strategy.useCookies && r.opts.CookiesFile != "" {
		if _, err := os.Stat(r.opts.CookiesFile); err == nil {
			args = append(args, "--cookies", r.opts.CookiesFile)
		}
	}
	return append(args, rawURL)
}

func (r *YTDLPResolver) runYTDLP(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.opts.YTDLPPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// probeDuration reads the container duration from ffprobe, mirroring
// `ffprobe -show_entries format=duration -of json`.
func (r *YTDLPResolver) probeDuration(ctx context.Context, mediaPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.opts.FFProbePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		mediaPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var duration float64
	if _, err := fmt.Sscanf(probe.Format.Duration, "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}
