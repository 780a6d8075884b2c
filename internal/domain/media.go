package domain

import "time"

// MediaJobStatus tracks a transcoding request through its short life.
type MediaJobStatus string

const (
	MediaJobPending MediaJobStatus = "pending"
	MediaJobDone    MediaJobStatus = "done"
	MediaJobFailed  MediaJobStatus = "failed"
)

// MediaJob represents one transcoding request. The dispatcher owns it for
// the duration of a single inbound event and discards it afterwards.
type MediaJob struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	SourcePath string         `json:"sourcePath"`
	Status     MediaJobStatus `json:"status"`
	OutputPath string         `json:"outputPath,omitempty"`
	Err        string         `json:"err,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
}
