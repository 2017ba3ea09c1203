package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetrics_Snapshot(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMetrics()

	m.MessageStored(ctx, "room")
	m.MessageStored(ctx, "private")
	m.DeliveryDropped(ctx, 2)
	closeConn := m.ConnectionOpened(ctx, "room")
	m.ChunkReceived(ctx)
	m.UploadFinalized(ctx, "image")

	stats := m.Snapshot()
	req.Equal(int64(2), stats.Messages)
	req.Equal(int64(2), stats.Dropped)
	req.Equal(int64(1), stats.Connections)
	req.Equal(int64(1), stats.Chunks)
	req.Equal(int64(1), stats.Finalized)
	req.Positive(stats.Goroutines)
	req.NotZero(stats.RSSMb)

	closeConn()
	req.Equal(int64(0), m.Snapshot().Connections)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.MessageStored(context.Background(), "room")
	m.ConnectionOpened(context.Background(), "room")()
	require.Equal(t, Stats{}, m.Snapshot())
}
