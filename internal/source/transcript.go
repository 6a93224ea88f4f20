package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipwave/clipwave/internal/pipeline"
	"github.com/clipwave/clipwave/pkg/log"
)

// fetchTranscript pulls uploaded or auto-generated subtitles in yt-dlp's
// json3 format. A missing transcript degrades the selection prompt to
// title/duration metadata instead of failing the job.
func (r *YTDLPResolver) fetchTranscript(ctx context.Context, rawURL, tmpDir string) []pipeline.TranscriptSegment {
	lang := r.opts.TranscriptLang.String()
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", lang,
		"--sub-format", "json3",
		"-o", filepath.Join(tmpDir, "transcript"),
		rawURL,
	}
	if _, err := r.runYTDLP(ctx, args); err != nil {
		log.Warn("Transcript fetch failed for %s: %v", rawURL, err)
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "transcript*.json3"))
	if err != nil || len(matches) == 0 {
		log.Warn("No transcript file produced for %s", rawURL)
		return nil
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		log.Warn("Failed to read transcript file %s: %v", matches[0], err)
		return nil
	}

	transcript, err := parseJSON3Transcript(data)
	if err != nil {
		log.Warn("Failed to parse transcript for %s: %v", rawURL, err)
		return nil
	}
	log.Info("Fetched %d transcript segments for %s", len(transcript), rawURL)
	return transcript
}

// json3 is YouTube's timed-text format: a flat list of events carrying
// millisecond offsets and text segments.
type json3Document struct {
	Events []struct {
		StartMs    int64 `json:"tStartMs"`
		DurationMs int64 `json:"dDurationMs"`
		Segs       []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3Transcript(data []byte) ([]pipeline.TranscriptSegment, error) {
	var doc json3Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	segments := make([]pipeline.TranscriptSegment, 0, len(doc.Events))
	for _, event := range doc.Events {
		var b strings.Builder
		for _, seg := range event.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		start := float64(event.StartMs) / 1000
		segments = append(segments, pipeline.TranscriptSegment{
			Text:  text,
			Start: start,
			End:   start + float64(event.DurationMs)/1000,
		})
	}
	return segments, nil
}
