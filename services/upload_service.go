package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/domain/mimetypes"
	"chat-relay/errors"
	"chat-relay/internal/keylock"
	"chat-relay/observability"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type UploadStore interface {
	FindSession(ctx context.Context, id string) (domain.UploadSession, bool, error)
	SaveSession(ctx context.Context, session domain.UploadSession) error
	Sessions(ctx context.Context) ([]domain.UploadSession, error)
	PutChunk(ctx context.Context, id string, index int, data []byte) error
	ReadChunk(ctx context.Context, id string, index int) ([]byte, error)
	DeleteChunk(ctx context.Context, id string, index int) error
	Discard(ctx context.Context, id string) error
	CommitFinalize(ctx context.Context, sessionID string, attachment domain.Attachment) error
}

// MessageResolver finds the message an upload should be attached to.
type MessageResolver interface {
	MessageForLink(ctx context.Context, owner domain.IdentityID, raw string) (*domain.MessageRef, error)
}

type UploadConfig struct {
	MaxChunkSize   int
	MaxTotalChunks int
	TTL            time.Duration
}

// UploadProgress acknowledges one chunk.
type UploadProgress struct {
	UploadID    string `json:"upload_id"`
	ChunkIndex  int    `json:"chunk_index"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"total_chunks"`
	Complete    bool   `json:"complete"`
}

// UploadStatus lets a client resume an interrupted upload.
type UploadStatus struct {
	UploadID    string  `json:"upload_id"`
	FileName    string  `json:"file_name"`
	TotalChunks int     `json:"total_chunks"`
	Received    []int   `json:"received"`
	Missing     []int   `json:"missing"`
	AgeSeconds  float64 `json:"age_seconds"`
}

// UploadService reassembles chunked uploads into attachments.
// Session metadata changes run under a per-upload lock; chunk payloads are written outside it.
type UploadService struct {
	uploads  UploadStore
	blobs    contract.BlobStore
	jobs     contract.JobQueue
	urls     contract.URLCache
	messages MessageResolver
	locks    *keylock.KeyLock
	cfg      UploadConfig
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewUploadService(log *slog.Logger, uploads UploadStore, blobs contract.BlobStore, jobs contract.JobQueue,
	urls contract.URLCache, messages MessageResolver, cfg UploadConfig, metrics *observability.Metrics) *UploadService {
	return &UploadService{
		uploads:  uploads,
		blobs:    blobs,
		jobs:     jobs,
		urls:     urls,
		messages: messages,
		locks:    keylock.New(),
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReceiveChunk stores one chunk. The first chunk of an upload creates its session.
// Sending an index twice keeps the latest bytes and counts once.
func (s *UploadService) ReceiveChunk(ctx context.Context, cmd chat.UploadChunkCommand) (UploadProgress, error) {
	if cmd.Owner.IsAnonymous() {
		return UploadProgress{}, errors.ErrAnonymous
	}
	if err := chat.Validate(cmd); err != nil {
		return UploadProgress{}, err
	}
	if len(cmd.ChunkData) > s.cfg.MaxChunkSize {
		return UploadProgress{}, errors.ErrChunkTooLarge
	}
	if cmd.TotalChunks > s.cfg.MaxTotalChunks {
		return UploadProgress{}, errors.ErrTooManyChunks
	}

	if err := s.openSession(ctx, cmd); err != nil {
		return UploadProgress{}, err
	}
	if err := s.uploads.PutChunk(ctx, cmd.UploadID, cmd.ChunkIndex, cmd.ChunkData); err != nil {
		return UploadProgress{}, err
	}
	progress, err := s.markReceived(ctx, cmd)
	if err != nil {
		return UploadProgress{}, err
	}
	s.metrics.ChunkReceived(ctx)
	return progress, nil
}

func (s *UploadService) openSession(ctx context.Context, cmd chat.UploadChunkCommand) error {
	unlock := s.locks.Lock(cmd.UploadID)
	defer unlock()

	now := s.now()
	session, found, err := s.uploads.FindSession(ctx, cmd.UploadID)
	if err != nil {
		return err
	}
	if found && session.Owner != cmd.Owner.ID {
		return errors.ErrUploadNotFound
	}
	if found && s.expired(session, now) {
		s.log.Info("Restarting expired upload", "upload_id", session.ID)
		if err := s.uploads.Discard(ctx, session.ID); err != nil {
			return err
		}
		found = false
	}
	if !found {
		session = domain.NewUploadSession(cmd.UploadID, cmd.TotalChunks, cleanFileName(cmd.FileName), cmd.MediaType, cmd.Owner.ID, now)
	}
	if session.TotalChunks != cmd.TotalChunks {
		return errors.ErrTotalMismatch
	}
	if !session.InRange(cmd.ChunkIndex) {
		return errors.ErrChunkOutOfRange
	}
	if found {
		return nil
	}
	return s.uploads.SaveSession(ctx, session)
}

func (s *UploadService) markReceived(ctx context.Context, cmd chat.UploadChunkCommand) (UploadProgress, error) {
	unlock := s.locks.Lock(cmd.UploadID)
	defer unlock()

	session, found, err := s.uploads.FindSession(ctx, cmd.UploadID)
	if err != nil {
		return UploadProgress{}, err
	}
	if !found {
		// Finalized or discarded while the payload was being written.
		if err := s.uploads.DeleteChunk(ctx, cmd.UploadID, cmd.ChunkIndex); err != nil {
			s.log.Warn("Orphan chunk left behind", "upload_id", cmd.UploadID, "chunk_index", cmd.ChunkIndex, "error", err)
		}
		return UploadProgress{}, errors.ErrUploadNotFound
	}
	session.MarkReceived(cmd.ChunkIndex, s.now())
	if err := s.uploads.SaveSession(ctx, session); err != nil {
		return UploadProgress{}, err
	}
	return UploadProgress{
		UploadID:    session.ID,
		ChunkIndex:  cmd.ChunkIndex,
		Received:    len(session.Received),
		TotalChunks: session.TotalChunks,
		Complete:    session.Complete(),
	}, nil
}

// Finalize assembles a complete upload into an attachment.
// It fails with a MissingChunksError while any chunk is absent, and with
// ErrUploadNotFound once the session is gone, including after a successful finalize.
func (s *UploadService) Finalize(ctx context.Context, cmd chat.FinalizeUploadCommand) (domain.ArtifactRef, error) {
	if cmd.Owner.IsAnonymous() {
		return domain.ArtifactRef{}, errors.ErrAnonymous
	}
	if err := chat.Validate(cmd); err != nil {
		return domain.ArtifactRef{}, err
	}

	unlock := s.locks.Lock(cmd.UploadID)
	defer unlock()

	now := s.now()
	session, found, err := s.uploads.FindSession(ctx, cmd.UploadID)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	if !found || session.Owner != cmd.Owner.ID {
		return domain.ArtifactRef{}, errors.ErrUploadNotFound
	}
	if s.expired(session, now) {
		if err := s.uploads.Discard(ctx, session.ID); err != nil {
			s.log.Warn("Expired upload not discarded", "upload_id", session.ID, "error", err)
		}
		return domain.ArtifactRef{}, errors.ErrUploadNotFound
	}
	if !session.Complete() {
		return domain.ArtifactRef{}, &errors.MissingChunksError{UploadID: session.ID, Missing: session.Missing()}
	}
	link, err := s.messages.MessageForLink(ctx, cmd.Owner.ID, cmd.MessageID)
	if err != nil {
		return domain.ArtifactRef{}, err
	}

	attachmentID := uuid.NewString()
	path := fmt.Sprintf("attachments/%s/%s%s", now.Format("2006/01/02"), attachmentID, extension(session.FileName))

	hasher := sha256.New()
	head := &headBuffer{limit: 3072}
	body := io.TeeReader(&chunkReader{ctx: ctx, store: s.uploads, session: session}, io.MultiWriter(hasher, head))
	size, err := s.blobs.Put(ctx, path, body)
	if err != nil {
		return domain.ArtifactRef{}, errors.Transient("write artifact", err)
	}

	mimeType := detectMIME(head.buf, session.MediaType)
	attachment := domain.Attachment{
		ID:           attachmentID,
		UploadID:     session.ID,
		Owner:        session.Owner,
		RoomID:       cmd.RoomID,
		OriginalName: session.FileName,
		Path:         path,
		URL:          s.blobs.URL(path),
		FileType:     mimetypes.Classify(mimeType),
		MimeType:     string(mimeType),
		Size:         size,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		IsPublic:     cmd.IsPublic,
		Message:      link,
		CreatedAt:    now,
	}
	if err := s.uploads.CommitFinalize(ctx, session.ID, attachment); err != nil {
		if delErr := s.blobs.Delete(path); delErr != nil {
			s.log.Warn("Artifact not removed after failed finalize", "path", path, "error", delErr)
		}
		return domain.ArtifactRef{}, err
	}

	for _, kind := range domain.JobsFor(attachment.FileType) {
		if err := s.jobs.Enqueue(ctx, kind, attachment.ID); err != nil {
			s.log.Warn("Job not enqueued", "attachment_id", attachment.ID, "kind", kind, "error", err)
		}
	}
	s.urls.Set(attachment.ID, attachment.URL)
	s.metrics.UploadFinalized(ctx, string(attachment.FileType))
	s.log.Info("Upload finalized", "upload_id", session.ID, "attachment_id", attachment.ID,
		"size", size, "mime", attachment.MimeType)
	return attachment.Ref(), nil
}

// Status reports what an owner has sent so far.
func (s *UploadService) Status(ctx context.Context, owner domain.Identity, id string) (UploadStatus, error) {
	session, err := s.ownedSession(ctx, owner, id)
	if err != nil {
		return UploadStatus{}, err
	}
	return UploadStatus{
		UploadID:    session.ID,
		FileName:    session.FileName,
		TotalChunks: session.TotalChunks,
		Received:    session.Received,
		Missing:     session.Missing(),
		AgeSeconds:  session.Age(s.now()).Seconds(),
	}, nil
}

// Age is the time since the last activity on the session.
func (s *UploadService) Age(ctx context.Context, id string) (time.Duration, error) {
	session, found, err := s.uploads.FindSession(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.ErrUploadNotFound
	}
	return session.Age(s.now()), nil
}

// Discard drops a session and its chunks.
func (s *UploadService) Discard(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.uploads.Discard(ctx, id)
}

// Expired lists the sessions idle for longer than the configured TTL at now.
func (s *UploadService) Expired(ctx context.Context, now time.Time) ([]string, error) {
	sessions, err := s.uploads.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, session := range sessions {
		if s.expired(session, now) {
			ids = append(ids, session.ID)
		}
	}
	return ids, nil
}

// ExpireSessions discards every expired session and returns how many went.
// A session touched since it was listed is kept.
func (s *UploadService) ExpireSessions(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.Expired(ctx, now)
	if err != nil {
		return 0, err
	}
	discarded := 0
	for _, id := range ids {
		age, err := s.Age(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return discarded, err
		}
		if age <= s.cfg.TTL {
			continue
		}
		if err := s.Discard(ctx, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return discarded, err
		}
		discarded++
		s.log.Info("Upload expired", "upload_id", id, "age", age)
	}
	return discarded, nil
}

func (s *UploadService) ownedSession(ctx context.Context, owner domain.Identity, id string) (domain.UploadSession, error) {
	if owner.IsAnonymous() {
		return domain.UploadSession{}, errors.ErrAnonymous
	}
	session, found, err := s.uploads.FindSession(ctx, id)
	if err != nil {
		return domain.UploadSession{}, err
	}
	if !found || session.Owner != owner.ID {
		return domain.UploadSession{}, errors.ErrUploadNotFound
	}
	return session, nil
}

func (s *UploadService) expired(session domain.UploadSession, now time.Time) bool {
	return s.cfg.TTL > 0 && session.Age(now) > s.cfg.TTL
}

// chunkReader streams the chunks of a session in index order, one chunk in memory at a time.
type chunkReader struct {
	ctx     context.Context
	store   UploadStore
	session domain.UploadSession
	next    int
	current []byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.current) == 0 {
		if c.next >= c.session.TotalChunks {
			return 0, io.EOF
		}
		data, err := c.store.ReadChunk(c.ctx, c.session.ID, c.next)
		if err != nil {
			return 0, err
		}
		c.current = data
		c.next++
	}
	n := copy(p, c.current)
	c.current = c.current[n:]
	return n, nil
}

// headBuffer keeps the first bytes written to it for content sniffing.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		h.buf = append(h.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

// detectMIME trusts the content over the client. The declared type is only
// used when the content is not recognised.
func detectMIME(head []byte, declared string) mimetypes.MIME {
	detected := mimetypes.ToMIME(mimetype.Detect(head).String())
	if detected != mimetypes.OctetStream && detected != mimetypes.Unknown {
		return detected
	}
	if fallback := mimetypes.ToMIME(declared); fallback != mimetypes.Unknown {
		return fallback
	}
	return mimetypes.OctetStream
}

var extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

func extension(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !extensionPattern.MatchString(ext) {
		return ""
	}
	return ext
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return "file"
	}
	return name
}
