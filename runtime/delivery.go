package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"time"
)

// deliver hands e to each sink in turn, bounding every attempt by timeout.
// A failing sink is skipped; it returns the number of sinks that accepted the event.
func deliver(ctx context.Context, log *slog.Logger, timeout time.Duration, sinks []contract.EventSink, e event.DomainEvent) int {
	delivered := 0
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Consume(sinkCtx, e)
		cancel()
		if err != nil {
			log.Debug("Delivery skipped", "type", e.EventType(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
