package renderer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clipwave/clipwave/internal/pipeline"
	"github.com/clipwave/clipwave/internal/storage"
	"github.com/clipwave/clipwave/pkg/log"
)

// FFmpegRenderer cuts the selected ranges out of the source media and
// concatenates the survivors into one combined video, all through the ffmpeg
// CLI. Clips render independently: a single failing range is skipped and
// counted, never fatal unless every range fails.
type FFmpegRenderer struct {
	ffmpegPath  string
	layout      *storage.Layout
	concurrency int
}

func NewFFmpegRenderer(ffmpegPath string, layout *storage.Layout, concurrency int) *FFmpegRenderer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &FFmpegRenderer{
		ffmpegPath:  ffmpegPath,
		layout:      layout,
		concurrency: concurrency,
	}
}

func (r *FFmpegRenderer) CheckDependencies() error {
	if _, err := exec.LookPath(r.ffmpegPath); err != nil {
		return fmt.Errorf("missing dependency: ffmpeg is not installed or not on PATH")
	}
	return nil
}

func (r *FFmpegRenderer) Render(ctx context.Context, jobID string, media *pipeline.Media, segments []pipeline.Segment) (*pipeline.RenderResult, error) {
	rendered := make([]*pipeline.RenderedClip, len(segments))
	var mu sync.Mutex
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			clipPath := r.layout.ClipPath(jobID, i+1)
			if err := r.cutClip(gctx, media.Path, seg, clipPath); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("Clip %d of job %s failed to render (%.1f-%.1f): %v", i+1, jobID, seg.Start, seg.End, err)
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return nil // skip-and-continue
			}
			rendered[i] = &pipeline.RenderedClip{
				SegmentIndex: i,
				Path:         clipPath,
				Start:        seg.Start,
				End:          seg.End,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clips := make([]pipeline.RenderedClip, 0, len(segments))
	for _, rc := range rendered {
		if rc != nil {
			clips = append(clips, *rc)
		}
	}
	if len(clips) == 0 {
		return nil, fmt.Errorf("every clip failed to render: %w", lastErr)
	}

	outputPath := r.layout.OutputPath(jobID)
	if err := r.concat(ctx, clips, outputPath); err != nil {
		return nil, err
	}

	return &pipeline.RenderResult{
		Clips:      clips,
		OutputPath: outputPath,
		Failed:     len(segments) - len(clips),
	}, nil
}

func (r *FFmpegRenderer) cutClip(ctx context.Context, input string, seg pipeline.Segment, output string) error {
	return r.runFFmpeg(ctx, cutArgs(input, seg.Start, seg.End, output))
}

// concat stitches the clips with the concat demuxer and stream copy, which
// avoids a re-encode of already-cut segments.
func (r *FFmpegRenderer) concat(ctx context.Context, clips []pipeline.RenderedClip, output string) error {
	listPath := output + ".concat.txt"
	if err := writeConcatList(clips, listPath); err != nil {
		return err
	}
	defer os.Remove(listPath)

	if err := r.runFFmpeg(ctx, concatArgs(listPath, output)); err != nil {
		return fmt.Errorf("concat clips: %w", err)
	}
	return nil
}

func (r *FFmpegRenderer) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastStderrLine(stderr.String()))
	}
	return nil
}

func cutArgs(input string, start, end float64, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-ss", fmt.Sprintf("%.3f", start),
		"-to", fmt.Sprintf("%.3f", end),
		"-avoid_negative_ts", "make_zero",
		output,
	}
}

func concatArgs(listPath, output string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	}
}

func writeConcatList(clips []pipeline.RenderedClip, listPath string) error {
	var b strings.Builder
	for _, clip := range clips {
		fmt.Fprintf(&b, "file '%s'\n", filepath.ToSlash(clip.Path))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// lastStderrLine keeps error messages short: ffmpeg prints its banner and
// progress before the actual failure reason.
func lastStderrLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
