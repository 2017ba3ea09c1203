package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Categories. Every error returned by the core wraps exactly one of them.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransientIO  = errors.New("storage unavailable")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrRateLimited = errors.New("rate limit exceeded")

	ErrInvalidPayload      = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrInvalidIdentityID   = fmt.Errorf("%w: identity id must be a positive integer", ErrValidation)
	ErrSelfConversation    = fmt.Errorf("%w: a private conversation needs two distinct identities", ErrValidation)
	ErrChunkTooLarge       = fmt.Errorf("%w: chunk exceeds maximum size", ErrValidation)
	ErrTooManyChunks       = fmt.Errorf("%w: total_chunks exceeds maximum", ErrValidation)
	ErrIdentityNotFound    = fmt.Errorf("%w: identity", ErrNotFound)
	ErrConversationMissing = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrMessageNotFound     = fmt.Errorf("%w: message", ErrNotFound)
	ErrUploadNotFound      = fmt.Errorf("%w: upload session", ErrNotFound)
	ErrAttachmentNotFound  = fmt.Errorf("%w: attachment", ErrNotFound)
	ErrChunkOutOfRange     = fmt.Errorf("%w: chunk index out of declared range", ErrConflict)
	ErrTotalMismatch       = fmt.Errorf("%w: total_chunks differs from the session", ErrConflict)
	ErrNotParticipant      = fmt.Errorf("%w: identity is not a participant", ErrForbidden)
	ErrAnonymous           = fmt.Errorf("%w: authentication required", ErrUnauthorized)
	ErrJobNotPending       = fmt.Errorf("%w: job is no longer pending", ErrConflict)
)

// MissingChunksError rejects a finalize whose received set is incomplete.
type MissingChunksError struct {
	UploadID string
	Missing  []int
}

func (e *MissingChunksError) Error() string {
	return fmt.Sprintf("upload %s is missing %d chunk(s): %v", e.UploadID, len(e.Missing), e.Missing)
}

func (e *MissingChunksError) Is(target error) bool {
	return target == ErrConflict
}

// Transient wraps a storage failure so callers can tell it apart from domain rejections.
// An error that is already transient is returned unchanged.
func Transient(op string, err error) error {
	if err == nil || errors.Is(err, ErrTransientIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}

// HTTPStatus maps an error category to the status returned on the HTTP surface.
// Forbidden answers like not-found so that the existence of foreign resources does not leak.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text sent back to a client for err.
func PublicMessage(err error) string {
	if errors.Is(err, ErrForbidden) {
		return ErrNotFound.Error()
	}
	if errors.Is(err, ErrTransientIO) {
		return ErrTransientIO.Error()
	}
	return err.Error()
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
