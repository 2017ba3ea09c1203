package observability

import (
	"context"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records the relay's counters on the global OpenTelemetry meter and
// keeps an in-process copy for the health endpoint.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	messages    metric.Int64Counter
	dropped     metric.Int64Counter
	connections metric.Int64UpDownCounter
	chunks      metric.Int64Counter
	finalized   metric.Int64Counter

	messageCount    atomic.Int64
	droppedCount    atomic.Int64
	connectionCount atomic.Int64
	chunkCount      atomic.Int64
	finalizedCount  atomic.Int64
	startedAt       time.Time
	self            *process.Process
}

// Stats is the snapshot served by the health endpoint.
type Stats struct {
	Messages    int64   `json:"messages"`
	Dropped     int64   `json:"dropped"`
	Connections int64   `json:"connections"`
	Chunks      int64   `json:"chunks"`
	Finalized   int64   `json:"finalized"`
	AllocMemMb  uint64  `json:"alloc_mem_mb"`
	RSSMb       uint64  `json:"rss_mb"`
	CPUPercent  float64 `json:"cpu_percent"`
	Goroutines  int     `json:"goroutines"`
	Uptime      string  `json:"uptime"`
}

func NewMetrics() *Metrics {
	meter := otel.Meter("chat-relay")
	m := &Metrics{startedAt: time.Now()}
	// Process stats are optional; the snapshot leaves them at zero when unavailable.
	m.self, _ = process.NewProcess(int32(os.Getpid()))
	m.messages, _ = meter.Int64Counter("chat_messages_total",
		metric.WithDescription("Messages persisted, by kind"))
	m.dropped, _ = meter.Int64Counter("chat_broadcast_dropped_total",
		metric.WithDescription("Deliveries abandoned because a subscriber was slow or gone"))
	m.connections, _ = meter.Int64UpDownCounter("ws_connections",
		metric.WithDescription("Open websocket connections, by endpoint"))
	m.chunks, _ = meter.Int64Counter("upload_chunks_total",
		metric.WithDescription("Upload chunks accepted"))
	m.finalized, _ = meter.Int64Counter("upload_finalized_total",
		metric.WithDescription("Uploads finalized, by file type"))
	return m
}

func (m *Metrics) MessageStored(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.messageCount.Add(1)
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) DeliveryDropped(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.droppedCount.Add(int64(n))
	m.dropped.Add(ctx, int64(n))
}

// ConnectionOpened returns the matching close function.
func (m *Metrics) ConnectionOpened(ctx context.Context, endpoint string) func() {
	if m == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(attribute.String("endpoint", endpoint))
	m.connectionCount.Add(1)
	m.connections.Add(ctx, 1, attrs)
	return func() {
		m.connectionCount.Add(-1)
		m.connections.Add(context.Background(), -1, attrs)
	}
}

func (m *Metrics) ChunkReceived(ctx context.Context) {
	if m == nil {
		return
	}
	m.chunkCount.Add(1)
	m.chunks.Add(ctx, 1)
}

func (m *Metrics) UploadFinalized(ctx context.Context, fileType string) {
	if m == nil {
		return
	}
	m.finalizedCount.Add(1)
	m.finalized.Add(ctx, 1, metric.WithAttributes(attribute.String("file_type", fileType)))
}

func (m *Metrics) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	rss, cpu := m.processStats()
	return Stats{
		Messages:    m.messageCount.Load(),
		Dropped:     m.droppedCount.Load(),
		Connections: m.connectionCount.Load(),
		Chunks:      m.chunkCount.Load(),
		Finalized:   m.finalizedCount.Load(),
		AllocMemMb:  mem.Alloc / 1024 / 1024,
		RSSMb:       rss / 1024 / 1024,
		CPUPercent:  cpu,
		Goroutines:  runtime.NumGoroutine(),
		Uptime:      time.Since(m.startedAt).Round(time.Second).String(),
	}
}

func (m *Metrics) processStats() (uint64, float64) {
	if m.self == nil {
		return 0, 0
	}
	var rss uint64
	if info, err := m.self.MemoryInfo(); err == nil {
		rss = info.RSS
	}
	cpu, _ := m.self.CPUPercent()
	return rss, cpu
}
