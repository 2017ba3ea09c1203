package domain

import "time"

type JobKind string

const (
	JobThumbnail JobKind = "thumbnail"
	JobTranscode JobKind = "transcode"
	JobOptimize  JobKind = "optimize"
)

// JobsFor lists the background work an artifact of type t needs.
func JobsFor(t FileType) []JobKind {
	switch t {
	case FileImage:
		return []JobKind{JobThumbnail, JobOptimize}
	case FileVideo, FileAudio:
		return []JobKind{JobTranscode}
	default:
		return nil
	}
}

// Job is a unit of background media work handed to external workers.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	ArtifactID  string    `json:"artifact_id"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Exhausted reports whether the job has used all of its attempts.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
