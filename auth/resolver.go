package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Handshake carries the credentials presented when a connection opens.
type Handshake struct {
	Bearer    string
	SessionID string
}

// HandshakeFromRequest reads the Authorization header, falling back to the
// "token" query parameter since browsers cannot set headers on websocket upgrades.
func HandshakeFromRequest(r *http.Request, sessionCookie string) Handshake {
	var h Handshake
	if value := r.Header.Get("Authorization"); value != "" {
		h.Bearer = strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	} else {
		h.Bearer = r.URL.Query().Get("token")
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		h.SessionID = cookie.Value
	}
	return h
}

// Resolver turns a handshake into an Identity.
// It is stateless and safe for concurrent use; unknown credentials yield domain.Anonymous.
type Resolver struct {
	store  contract.IdentityStore
	tokens TokenVerifier
	log    *slog.Logger
}

func NewResolver(log *slog.Logger, store contract.IdentityStore, tokens TokenVerifier) *Resolver {
	return &Resolver{store: store, tokens: tokens, log: log}
}

// Resolve checks the bearer credential first and the session second.
// Only a failing credential store produces an error.
func (r *Resolver) Resolve(ctx context.Context, h Handshake) (domain.Identity, error) {
	if h.Bearer != "" {
		identity, ok, err := r.byToken(ctx, h.Bearer)
		if err != nil {
			return domain.Anonymous, err
		}
		if ok {
			return identity, nil
		}
	}

	if h.SessionID != "" {
		identity, ok, err := r.store.LookupBySession(ctx, h.SessionID)
		if err != nil {
			return domain.Anonymous, errors.Transient("lookup session", err)
		}
		if ok {
			return identity, nil
		}
	}

	return domain.Anonymous, nil
}

func (r *Resolver) byToken(ctx context.Context, bearer string) (domain.Identity, bool, error) {
	claims, err := r.tokens.ValidateToken(bearer)
	if err != nil {
		r.log.Debug("Bearer rejected", "error", err)
		return domain.Identity{}, false, nil
	}
	identity, ok, err := r.store.LookupByID(ctx, claims.UserID)
	if err != nil {
		return domain.Identity{}, false, errors.Transient("lookup identity", err)
	}
	return identity, ok, nil
}
