package selector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipwave/clipwave/internal/llm"
	"github.com/clipwave/clipwave/internal/pipeline"
)

func TestParseSegments(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []pipeline.Segment
		wantErr bool
	}{
		{
			name:    "plain array",
			content: `[{"title": "Intro", "start": 0, "end": 12.5}]`,
			want:    []pipeline.Segment{{Title: "Intro", Start: 0, End: 12.5}},
		},
		{
			name: "code fenced",
			content: "```json\n" +
				`[{"title": "Hook", "start": 10.5, "end": 22}, {"title": "Payoff", "start": 30, "end": 45}]` +
				"\n```",
			want: []pipeline.Segment{
				{Title: "Hook", Start: 10.5, End: 22},
				{Title: "Payoff", Start: 30, End: 45},
			},
		},
		{
			name:    "surrounded by prose",
			content: `Here are the clips you asked for: [{"title": "A", "start": 1, "end": 2}] Let me know if you need more.`,
			want:    []pipeline.Segment{{Title: "A", Start: 1, End: 2}},
		},
		{
			name:    "no array at all",
			content: "I could not find any suitable clips in this video.",
			wantErr: true,
		},
		{
			name:    "broken json",
			content: `[{"title": "A", "start": 1, "end": }]`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSegments(tc.content)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	media := &pipeline.Media{
		Title:    "Launch keynote",
		Duration: 120,
		Transcript: []pipeline.TranscriptSegment{
			{Text: "welcome everyone", Start: 0, End: 3.2},
			{Text: "today we ship", Start: 3.2, End: 6},
		},
	}

	prompt := buildPrompt(media, "find the announcement", 5)

	assert.Contains(t, prompt, "Launch keynote")
	assert.Contains(t, prompt, "120.0 seconds")
	assert.Contains(t, prompt, "[0.0 - 3.2] welcome everyone")
	assert.Contains(t, prompt, "find the announcement")
	assert.Contains(t, prompt, "at most 5")
}

func TestBuildPrompt_Defaults(t *testing.T) {
	media := &pipeline.Media{Title: "Untitled", Duration: 60}

	prompt := buildPrompt(media, "   ", 3)

	assert.Contains(t, prompt, defaultInstructions)
	assert.Contains(t, prompt, "No transcript is available")
}

func TestLLMSelector_Select(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "video clipping assistant")
		assert.Contains(t, req.Messages[1].Content, "Launch keynote")

		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{
				Content: `[{"title": "The announcement", "start": 42.0, "end": 58.5}]`,
			}}},
		})
	}))
	defer server.Close()

	client, err := llm.NewClient(&llm.Config{APIKey: "test-key", APIURL: server.URL, Model: "gpt-4"})
	require.NoError(t, err)

	sel := NewLLMSelector(client)
	segments, err := sel.Select(context.Background(), &pipeline.Media{
		Title:    "Launch keynote",
		Duration: 120,
	}, "find the announcement", 8)

	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "The announcement", segments[0].Title)
	assert.Equal(t, 42.0, segments[0].Start)
	assert.Equal(t, 58.5, segments[0].End)
}

func TestLLMSelector_Select_UnparseableResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(llm.ChatResponse{
			Choices: []llm.Choice{{Message: llm.Message{Content: "Sorry, I cannot help with that."}}},
		})
	}))
	defer server.Close()

	client, err := llm.NewClient(&llm.Config{APIKey: "test-key", APIURL: server.URL, Model: "gpt-4"})
	require.NoError(t, err)

	sel := NewLLMSelector(client)
	_, err = sel.Select(context.Background(), &pipeline.Media{Title: "t", Duration: 60}, "", 8)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON clip array")
}
