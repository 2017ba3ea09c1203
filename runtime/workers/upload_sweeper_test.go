package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingExpirer) ExpireSessions(context.Context) (int, error) {
	c.calls.Add(1)
	if c.fail {
		return 0, fmt.Errorf("storage unavailable")
	}
	return 1, nil
}

func TestUploadSweeper_SweepsUntilCancelled(t *testing.T) {
	req := require.New(t)
	expirer := &countingExpirer{}
	sweeper := NewUploadSweeper(slog.Default(), expirer, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sweeper.Run(ctx)

	req.ErrorIs(err, context.DeadlineExceeded)
	req.GreaterOrEqual(expirer.calls.Load(), int32(3))
}

func TestUploadSweeper_KeepsRunningAfterFailure(t *testing.T) {
	req := require.New(t)
	expirer := &countingExpirer{fail: true}
	sweeper := NewUploadSweeper(slog.Default(), expirer, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sweeper.Run(ctx)

	req.GreaterOrEqual(expirer.calls.Load(), int32(3))
}
