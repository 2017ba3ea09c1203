package workers

import (
	"context"
	"log/slog"
	"time"
)

// SessionExpirer discards upload sessions idle past their TTL.
type SessionExpirer interface {
	ExpireSessions(ctx context.Context) (int, error)
}

// UploadSweeper periodically drops abandoned upload sessions and their chunks.
type UploadSweeper struct {
	log      *slog.Logger
	uploads  SessionExpirer
	interval time.Duration
}

func NewUploadSweeper(log *slog.Logger, uploads SessionExpirer, interval time.Duration) *UploadSweeper {
	return &UploadSweeper{log: log, uploads: uploads, interval: interval}
}

// Run sweeps every interval. A failed sweep is logged and retried on the next tick.
func (w *UploadSweeper) Run(ctx context.Context) error {
	w.log.Info("Starting upload sweeper", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.uploads.ExpireSessions(ctx)
			if err != nil {
				w.log.Error("Upload sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Info("Expired upload sessions discarded", "count", n)
			}
		}
	}
}
