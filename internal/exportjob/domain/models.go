package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Format is the closed set of render targets.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
)

// Status tracks a job through the render pipeline.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRendering Status = "rendering"
	StatusUploading Status = "uploading"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

var (
	ErrUnknownFormat    = errors.New("export: unknown format")
	ErrInvalidRoomID    = errors.New("export: room id is required")
	ErrInvalidWorkID    = errors.New("export: work id is required")
	ErrJobNotFound      = errors.New("export: job not found")
	ErrArtifactNotReady = errors.New("export: artifact not ready")
)

// ParseFormat maps a string onto the closed format set. An empty value
// defaults to wav.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return FormatWAV, nil
	case FormatWAV:
		return FormatWAV, nil
	case FormatMP3:
		return FormatMP3, nil
	case FormatFLAC:
		return FormatFLAC, nil
	default:
		return "", ErrUnknownFormat
	}
}

// Job is one export request and its current pipeline state. The ID is a ULID
// so job order is recoverable from the identifier alone.
type Job struct {
	ID           string    `gorm:"primaryKey;type:text" json:"id"`
	RoomID       string    `gorm:"type:text;not null;index" json:"roomId"`
	WorkID       string    `gorm:"type:text;not null" json:"workId"`
	RequestedBy  string    `gorm:"type:text;not null" json:"requestedBy"`
	Title        string    `gorm:"type:text;not null;default:''" json:"title"`
	Format       Format    `gorm:"type:text;not null" json:"format"`
	Status       Status    `gorm:"type:text;not null;index" json:"status"`
	Progress     int       `gorm:"not null;default:0" json:"progress"`
	FileKey      *string   `gorm:"type:text" json:"fileKey,omitempty"`
	FileURL      *string   `gorm:"type:text" json:"fileUrl,omitempty"`
	ErrorMessage *string   `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Job) TableName() string { return "export_jobs" }

// EnqueueRequest is the client-facing job submission.
type EnqueueRequest struct {
	RoomID string `json:"roomId"`
	WorkID string `json:"workId"`
	Format string `json:"format"`
	Title  string `json:"title"`
}

// Service accepts export requests and answers for their state.
type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest, requestedBy string) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)

	// DownloadURL returns a signed link for a completed job's artifact.
	DownloadURL(ctx context.Context, jobID string, ttlSeconds int64) (string, error)
}
