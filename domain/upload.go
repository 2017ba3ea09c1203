package domain

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// UploadSession tracks the partial receipt of a chunked file transfer.
type UploadSession struct {
	ID          string     `json:"id"`
	TotalChunks int        `json:"total_chunks"`
	Received    []int      `json:"received"`
	FileName    string     `json:"file_name"`
	MediaType   string     `json:"media_type"`
	Owner       IdentityID `json:"owner"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func NewUploadSession(id string, total int, fileName, mediaType string, owner IdentityID, now time.Time) UploadSession {
	return UploadSession{
		ID:          id,
		TotalChunks: total,
		Received:    []int{},
		FileName:    fileName,
		MediaType:   mediaType,
		Owner:       owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s UploadSession) InRange(index int) bool {
	return index >= 0 && index < s.TotalChunks
}

// MarkReceived records index once; it reports whether the set changed.
func (s *UploadSession) MarkReceived(index int, now time.Time) bool {
	s.UpdatedAt = now
	pos, found := slices.BinarySearch(s.Received, index)
	if found {
		return false
	}
	s.Received = slices.Insert(s.Received, pos, index)
	return true
}

func (s UploadSession) Complete() bool {
	return len(s.Received) == s.TotalChunks
}

// Missing lists the indices not received yet, in ascending order.
func (s UploadSession) Missing() []int {
	all := lo.Range(s.TotalChunks)
	missing, _ := lo.Difference(all, s.Received)
	return missing
}

// Age is measured from the last activity on the session.
func (s UploadSession) Age(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

type FileType string

const (
	FileImage    FileType = "image"
	FileVideo    FileType = "video"
	FileAudio    FileType = "audio"
	FileDocument FileType = "document"
	FileOther    FileType = "file"
)

// Attachment is the persisted artifact produced by a completed upload session.
type Attachment struct {
	ID           string      `json:"id"`
	UploadID     string      `json:"upload_id"`
	Owner        IdentityID  `json:"owner"`
	RoomID       string      `json:"room_id"`
	OriginalName string      `json:"original_name"`
	Path         string      `json:"path"`
	URL          string      `json:"url"`
	FileType     FileType    `json:"file_type"`
	MimeType     string      `json:"mime_type"`
	Size         int64       `json:"size"`
	SHA256       string      `json:"sha256"`
	IsPublic     bool        `json:"is_public"`
	Message      *MessageRef `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// ArtifactRef is the client-facing view of an attachment.
type ArtifactRef struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	FileType     FileType `json:"file_type"`
	OriginalName string   `json:"original_name"`
	Size         int64    `json:"size"`
	MimeType     string   `json:"mime_type"`
}

func (a Attachment) Ref() ArtifactRef {
	return ArtifactRef{
		ID:           a.ID,
		URL:          a.URL,
		FileType:     a.FileType,
		OriginalName: a.OriginalName,
		Size:         a.Size,
		MimeType:     a.MimeType,
	}
}

// Visible reports whether viewer may see the attachment.
func (a Attachment) Visible(viewer IdentityID) bool {
	return a.IsPublic || a.Owner == viewer
}
