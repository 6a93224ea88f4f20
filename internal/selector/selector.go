package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clipwave/clipwave/internal/llm"
	"github.com/clipwave/clipwave/internal/pipeline"
	"github.com/clipwave/clipwave/pkg/log"
)

const systemPrompt = `You are a precise and efficient video clipping assistant.

Given a transcript of a video and a user request, your job is to extract the most relevant time intervals that match the intent of the request.

Provide just enough context for the viewer to understand what's happening, but avoid unnecessary filler. Be decisive: separate clips only when the topic, speaker, or scene clearly shifts. Minimize the number of clips while maintaining clarity.

Return only a JSON array of clip objects in this exact format:
[{"title": "short descriptive title", "start": 12.4, "end": 54.6}]

Timestamps are seconds from the start of the video. Do not include any explanation or commentary, just the JSON array.`

const defaultInstructions = "Find the most engaging and important moments in this video"

// LLMSelector asks a chat-completion model to pick clip-worthy time ranges
// from the resolved transcript and metadata.
type LLMSelector struct {
	client *llm.Client
}

func NewLLMSelector(client *llm.Client) *LLMSelector {
	return &LLMSelector{client: client}
}

func (s *LLMSelector) Select(ctx context.Context, media *pipeline.Media, instructions string, maxClips int) ([]pipeline.Segment, error) {
	prompt := buildPrompt(media, instructions, maxClips)

	content, err := s.client.SimpleChat(ctx, prompt, systemPrompt)
	if err != nil {
		return nil, err
	}
	log.Debug("Selector response for %q: %s", media.Title, content)

	segments, err := parseSegments(content)
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func buildPrompt(media *pipeline.Media, instructions string, maxClips int) string {
	if strings.TrimSpace(instructions) == "" {
		instructions = defaultInstructions
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Video title: %s\n", media.Title)
	fmt.Fprintf(&b, "Video duration: %.1f seconds\n\n", media.Duration)

	if len(media.Transcript) > 0 {
		b.WriteString("Transcript with timestamps:\n")
		for _, seg := range media.Transcript {
			fmt.Fprintf(&b, "[%.1f - %.1f] %s\n", seg.Start, seg.End, seg.Text)
		}
	} else {
		b.WriteString("No transcript is available; pick ranges based on the title, duration and instructions.\n")
	}

	fmt.Fprintf(&b, "\nInstructions: %s\n", instructions)
	fmt.Fprintf(&b, "\nIdentify at most %d relevant time intervals within [0, %.1f] seconds.\n", maxClips, media.Duration)
	return b.String()
}

// parseSegments extracts the JSON array from the model output. Models wrap
// answers in prose or code fences often enough that a plain Unmarshal of the
// whole content is not reliable.
func parseSegments(content string) ([]pipeline.Segment, error) {
	raw := extractJSONArray(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON clip array found in model response")
	}

	var segments []pipeline.Segment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, fmt.Errorf("malformed clip array in model response: %w", err)
	}
	return segments, nil
}

func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}
