package jobs

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further mutation of the job is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type SubmitRequest struct {
	SourceURL    string
	Instructions string
	Owner        string
}

// Clip describes one rendered segment of the source video.
// Duration and Timeframe carry the display formats the frontend expects
// ("12.3s", "10.0s - 22.3s").
type Clip struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Duration  string  `json:"duration"`
	Timeframe string  `json:"timeframe"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// ClipJob is one end-to-end request to turn a source video into clips.
// Seq counts applied mutations; subscribers use it to resume a stream
// without gaps.
type ClipJob struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	Instructions string    `json:"instructions"`
	Owner        string    `json:"owner,omitempty"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStep  string    `json:"current_step"`
	Clips        []Clip    `json:"clips"`
	OutputPath   string    `json:"output_path,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	Warning      string    `json:"warning,omitempty"`
	Error        string    `json:"error,omitempty"`
	Seq          uint64    `json:"seq"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
