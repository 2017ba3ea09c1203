package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Priority int

const (
	HIGH   Priority = 0
	NORMAL Priority = 1
)

// priorityOf lets thumbnails overtake long transcodes.
func priorityOf(kind domain.JobKind) Priority {
	if kind == domain.JobThumbnail {
		return HIGH
	}
	return NORMAL
}

type IJobRepository interface {
	Enqueue(ctx context.Context, kind domain.JobKind, artifactID string) error
	GetNextBatch(limit int, kinds ...domain.JobKind) ([]domain.Job, error)
	MarkAsProcessing(job domain.Job) error
	Complete(job domain.Job) error
	Fail(job domain.Job, cause error) error
}

// JobRepository is a persistent work queue in BadgerDB.
//
// Keys:
//
//	job:pending:{prio}:{ts019}:{id}
//	job:processing:{id}
//	job:dead:{id}
type JobRepository struct {
	db          *badger.DB
	log         *slog.Logger
	maxAttempts int
}

func NewJobRepository(db *badger.DB, log *slog.Logger, maxAttempts int) *JobRepository {
	return &JobRepository{db: db, log: log, maxAttempts: max(1, maxAttempts)}
}

func pendingJobKey(job domain.Job) string {
	return fmt.Sprintf("job:pending:%d:%s:%s", priorityOf(job.Kind), timeKey(job.QueuedAt.UnixNano()), job.ID)
}

func processingJobKey(id string) string {
	return "job:processing:" + id
}

func deadJobKey(id string) string {
	return "job:dead:" + id
}

// Enqueue persists a new job with a priority-based key.
func (j *JobRepository) Enqueue(_ context.Context, kind domain.JobKind, artifactID string) error {
	now := time.Now().UTC()
	job := domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		ArtifactID:  artifactID,
		MaxAttempts: j.maxAttempts,
		CreatedAt:   now,
		QueuedAt:    now,
	}
	return update(j.db, "enqueue job", func(txn *badger.Txn) error {
		return setJSON(txn, pendingJobKey(job), job)
	})
}

// GetNextBatch retrieves up to limit pending jobs, ordered by priority then enqueue time.
// When kinds is non-empty, other kinds are skipped and stay pending.
func (j *JobRepository) GetNextBatch(limit int, kinds ...domain.JobKind) ([]domain.Job, error) {
	var jobs []domain.Job
	prefix := []byte("job:pending:")

	err := view(j.db, "fetch job batch", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = limit

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(jobs) < limit; it.Next() {
			var job domain.Job
			err := it.Item().Value(func(v []byte) error {
				return jsonDecode(v, &job)
			})
			if err != nil {
				return fmt.Errorf("failed to decode job: %w", err)
			}
			if len(kinds) > 0 && !lo.Contains(kinds, job.Kind) {
				continue
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkAsProcessing moves a job from pending to processing atomically.
// Two dispatchers racing on the same job see exactly one success.
func (j *JobRepository) MarkAsProcessing(job domain.Job) error {
	pendingKey := pendingJobKey(job)
	return update(j.db, "claim job", func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(pendingKey)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", errors.ErrJobNotPending, job.ID)
		} else if err != nil {
			return err
		}
		if err := txn.Delete([]byte(pendingKey)); err != nil {
			return err
		}
		return setJSON(txn, processingJobKey(job.ID), job)
	})
}

// Complete drops a processed job.
func (j *JobRepository) Complete(job domain.Job) error {
	return update(j.db, "complete job", func(txn *badger.Txn) error {
		return txn.Delete([]byte(processingJobKey(job.ID)))
	})
}

// Fail records an attempt. The job goes back to pending until its attempts are
// exhausted, after which it is parked under the dead prefix.
func (j *JobRepository) Fail(job domain.Job, cause error) error {
	job.Attempts++
	job.LastError = cause.Error()
	job.QueuedAt = time.Now().UTC()
	return update(j.db, "fail job", func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(processingJobKey(job.ID))); err != nil {
			return err
		}
		if job.Exhausted() {
			j.log.Warn("Job moved to dead letter", "job_id", job.ID, "kind", job.Kind, "error", job.LastError)
			return setJSON(txn, deadJobKey(job.ID), job)
		}
		return setJSON(txn, pendingJobKey(job), job)
	})
}

// DeadJobs lists the jobs that exhausted their attempts.
func (j *JobRepository) DeadJobs() ([]domain.Job, error) {
	var jobs []domain.Job
	prefix := []byte("job:dead:")
	err := view(j.db, "list dead jobs", func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job domain.Job
			if err := it.Item().Value(func(v []byte) error { return jsonDecode(v, &job) }); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	return jobs, err
}
