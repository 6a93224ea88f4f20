package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/clipwave/clipwave/internal/jobs"
	"github.com/clipwave/clipwave/pkg/log"
)

// Media is the result of resolving a source URL: a local file plus the
// metadata the selector needs. Cleanup releases the download's temp space and
// is safe to call more than once.
type Media struct {
	Path       string
	Title      string
	Duration   float64 // seconds
	Transcript []TranscriptSegment
	Cleanup    func()
}

type TranscriptSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one candidate clip range chosen by the selector, in seconds.
type Segment struct {
	Title string  `json:"title"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RenderedClip ties a produced artifact back to the segment it came from.
type RenderedClip struct {
	SegmentIndex int
	Path         string
	Start        float64
	End          float64
}

type RenderResult struct {
	Clips      []RenderedClip
	OutputPath string
	Failed     int
}

type Resolver interface {
	Resolve(ctx context.Context, url string) (*Media, error)
}

type Selector interface {
	Select(ctx context.Context, media *Media, instructions string, maxClips int) ([]Segment, error)
}

type Renderer interface {
	Render(ctx context.Context, jobID string, media *Media, segments []Segment) (*RenderResult, error)
}

// Tracker is the pipeline's only write path to the job record. A Checkpoint
// or Complete call that returns jobs.ErrNotFound means the job was deleted
// and the run must stop.
type Tracker interface {
	Checkpoint(id string, progress int, step string) error
	Complete(id string, clips []jobs.Clip, outputPath, videoURL, warning string) error
}

type Config struct {
	MaxClips       int
	ResolveTimeout time.Duration
	SelectTimeout  time.Duration
	RenderTimeout  time.Duration
}

// Progress checkpoints for the four stages. The values are part of the API
// contract with the frontend progress bar.
const (
	progressResolving = 10
	progressSelecting = 40
	progressRendering = 70
)

const (
	stepResolving = "Downloading video..."
	stepSelecting = "Analyzing content and identifying clips..."
	stepRendering = "Rendering clips..."
)

// Pipeline drives a single job through resolve → select → render → finalize.
// Every failure is classified and written to the job record; Run never
// panics into its caller.
type Pipeline struct {
	cfg      Config
	resolver Resolver
	selector Selector
	renderer Renderer
	tracker  Tracker
}

func New(cfg Config, resolver Resolver, selector Selector, renderer Renderer, tracker Tracker) *Pipeline {
	if cfg.MaxClips <= 0 {
		cfg.MaxClips = 8
	}
	return &Pipeline{
		cfg:      cfg,
		resolver: resolver,
		selector: selector,
		renderer: renderer,
		tracker:  tracker,
	}
}

// Run executes the four stages for one claimed job. The returned error is
// already classified; the queue records it as the job's terminal failure.
func (p *Pipeline) Run(ctx context.Context, job *jobs.ClipJob) error {
	if err := p.tracker.Checkpoint(job.ID, progressResolving, stepResolving); err != nil {
		return p.stopped(job.ID, err)
	}
	media, err := p.resolveSource(ctx, job.SourceURL)
	if err != nil {
		return err
	}
	defer func() {
		if media.Cleanup != nil {
			media.Cleanup()
		}
	}()

	if err := p.tracker.Checkpoint(job.ID, progressSelecting, stepSelecting); err != nil {
		return p.stopped(job.ID, err)
	}
	segments, err := p.selectClips(ctx, media, job.Instructions)
	if err != nil {
		return err
	}

	if err := p.tracker.Checkpoint(job.ID, progressRendering, stepRendering); err != nil {
		return p.stopped(job.ID, err)
	}
	result, err := p.renderClips(ctx, job.ID, media, segments)
	if err != nil {
		return err
	}

	clips := buildClips(segments, result.Clips)
	warning := ""
	if result.Failed > 0 {
		warning = fmt.Sprintf("%d of %d clips failed to render and were skipped", result.Failed, len(segments))
	}
	videoURL := "/api/videos/" + job.ID

	if err := p.tracker.Complete(job.ID, clips, result.OutputPath, videoURL, warning); err != nil {
		return p.stopped(job.ID, err)
	}
	return nil
}

// stopped handles a tracker write that failed. ErrNotFound means the job was
// deleted mid-run (cancel-on-delete policy); the run ends silently.
func (p *Pipeline) stopped(jobID string, err error) error {
	if errors.Is(err, jobs.ErrNotFound) {
		log.Info("Job %s was deleted during processing, aborting run", jobID)
		return nil
	}
	return err
}

func (p *Pipeline) resolveSource(ctx context.Context, url string) (*Media, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
	defer cancel()

	media, err := p.resolver.Resolve(ctx, url)
	if err != nil {
		return nil, classify(ctx, KindSourceUnavailable, "failed to resolve source video", err, p.cfg.ResolveTimeout)
	}
	if media == nil || media.Path == "" {
		return nil, NewStageError(KindSourceUnavailable, "resolver returned no media file")
	}
	if media.Duration <= 0 {
		return nil, NewStageError(KindSourceUnavailable, "resolved media has no usable duration")
	}
	return media, nil
}

func (p *Pipeline) selectClips(ctx context.Context, media *Media, instructions string) ([]Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SelectTimeout)
	defer cancel()

	segments, err := p.selector.Select(ctx, media, instructions, p.cfg.MaxClips)
	if err != nil {
		return nil, classify(ctx, KindSelectionFailed, "clip selection failed", err, p.cfg.SelectTimeout)
	}
	if len(segments) == 0 {
		return nil, NewStageError(KindSelectionFailed, "selector returned no clip candidates")
	}
	if len(segments) > p.cfg.MaxClips {
		segments = segments[:p.cfg.MaxClips]
	}
	for i, seg := range segments {
		if seg.End <= seg.Start || seg.Start < 0 || seg.End > media.Duration {
			return nil, NewStageError(KindSelectionFailed, fmt.Sprintf(
				"selector returned invalid range %.1f-%.1f for clip %d (video duration %.1fs)",
				seg.Start, seg.End, i+1, media.Duration))
		}
	}
	return segments, nil
}

func (p *Pipeline) renderClips(ctx context.Context, jobID string, media *Media, segments []Segment) (*RenderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RenderTimeout)
	defer cancel()

	result, err := p.renderer.Render(ctx, jobID, media, segments)
	if err != nil {
		return nil, classify(ctx, KindRenderFailed, "rendering failed", err, p.cfg.RenderTimeout)
	}
	if result == nil || len(result.Clips) == 0 {
		return nil, NewStageError(KindRenderFailed, "no clips could be rendered")
	}
	return result, nil
}

// buildClips maps rendered artifacts back onto the selector's ordering,
// keeping the display formats the frontend expects.
func buildClips(segments []Segment, rendered []RenderedClip) []jobs.Clip {
	clips := make([]jobs.Clip, 0, len(rendered))
	for i, rc := range rendered {
		title := ""
		if rc.SegmentIndex >= 0 && rc.SegmentIndex < len(segments) {
			title = segments[rc.SegmentIndex].Title
		}
		if title == "" {
			title = fmt.Sprintf("Clip %d", i+1)
		}
		clips = append(clips, jobs.Clip{
			ID:        strconv.Itoa(i + 1),
			Title:     title,
			Duration:  fmt.Sprintf("%.1fs", rc.End-rc.Start),
			Timeframe: fmt.Sprintf("%.1fs - %.1fs", rc.Start, rc.End),
			Start:     rc.Start,
			End:       rc.End,
		})
	}
	return clips
}

// classify converts a stage-local error into a StageError, tagging stage
// deadline hits as timeouts. An error the collaborator already classified
// passes through with its original kind.
func classify(ctx context.Context, kind ErrorKind, message string, err error, timeout time.Duration) error {
	var se *StageError
	if errors.As(err, &se) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			se.Timeout = true
		}
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &StageError{
			Kind:    kind,
			Message: fmt.Sprintf("%s: timed out after %s", message, timeout),
			Timeout: true,
			Cause:   err,
		}
	}
	return WrapStageError(kind, message, err)
}
