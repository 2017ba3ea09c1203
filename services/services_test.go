package services

import (
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"chat-relay/mocks"
	"chat-relay/moderation"
	blob "chat-relay/storage"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	alice = domain.Identity{ID: 1, DisplayName: "alice", Status: domain.StatusOnline}
	bob   = domain.Identity{ID: 2, DisplayName: "bob", Status: domain.StatusOnline}
	carol = domain.Identity{ID: 3, DisplayName: "carol", Status: domain.StatusOnline}
)

func setupDB(t *testing.T) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

type uploadFixture struct {
	service     *UploadService
	uploads     *storage.UploadRepository
	attachments *storage.AttachmentRepository
	jobs        *mocks.MockJobQueue
	urls        *mocks.MockURLCache
	db          *badger.DB
	mediaRoot   string
}

func newUploadFixture(t *testing.T) uploadFixture {
	ctrl := gomock.NewController(t)
	db := setupDB(t)
	log := testLogger()
	mediaRoot := t.TempDir()
	blobs, err := blob.NewDiskBlobStore(mediaRoot, "/media", log)
	require.NoError(t, err)

	uploads := storage.NewUploadRepository(db, log)
	attachments := storage.NewAttachmentRepository(db, log)
	jobs := mocks.NewMockJobQueue(ctrl)
	urls := mocks.NewMockURLCache(ctrl)
	cfg := UploadConfig{MaxChunkSize: 1024, MaxTotalChunks: 16, TTL: time.Hour}
	service := NewUploadService(log, uploads, blobs, jobs, urls,
		NewAttachmentService(log, attachments, urls), cfg, nil)
	return uploadFixture{
		service:     service,
		uploads:     uploads,
		attachments: attachments,
		jobs:        jobs,
		urls:        urls,
		db:          db,
		mediaRoot:   mediaRoot,
	}
}

func newRoomMessageStore(t *testing.T, db *badger.DB) *storage.RoomMessageRepository {
	t.Helper()
	return storage.NewRoomMessageRepository(db, testLogger(), 50)
}

func newUUID() uuid.UUID {
	return uuid.New()
}

func testFilter(t *testing.T, words ...string) *moderation.Filter {
	filter, err := moderation.NewFilter(words, moderation.DefaultMask, testLogger())
	require.NoError(t, err)
	return filter
}
