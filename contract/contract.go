//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"io"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives frames for one connection. Consume must not block past ctx.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IdentityStore is the credential store consumed by the resolver.
// A miss is reported with ok=false, never with an error.
type IdentityStore interface {
	LookupByID(ctx context.Context, id domain.IdentityID) (domain.Identity, bool, error)
	LookupBySession(ctx context.Context, sessionID string) (domain.Identity, bool, error)
}

// JobQueue hands artifacts to background media workers. Fire-and-forget.
type JobQueue interface {
	Enqueue(ctx context.Context, kind domain.JobKind, artifactID string) error
}

// BlobStore keeps finalized artifacts.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
	Delete(path string) error
	URL(path string) string
}

// URLCache accelerates artifact url resolution. A miss is never an error.
type URLCache interface {
	Get(attachmentID string) (string, bool)
	Set(attachmentID, url string)
	Delete(attachmentID string)
}

// Broadcaster fans an event out to every subscriber of a group.
type Broadcaster interface {
	Broadcast(ctx context.Context, group domain.RoomName, e event.DomainEvent) int
}

// Notifier pushes an event on the notification channel of one identity.
type Notifier interface {
	Notify(ctx context.Context, id domain.IdentityID, e event.DomainEvent) int
}
