package auth

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testSecret = "test-secret-key"
	testIssuer = "chat-relay-test"
)

var alice = domain.Identity{ID: 42, DisplayName: "alice", Status: domain.StatusOnline}

func TestResolver_Resolve(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIdentityStore(ctrl)
	tokens := NewTokenVerifier(testSecret, testIssuer)
	resolver := NewResolver(slog.Default(), store, tokens)
	ctx := context.Background()

	t.Run("valid bearer resolves through the store", func(t *testing.T) {
		token, err := tokens.GenerateToken(alice.ID, []string{"user"}, time.Hour)
		req.NoError(err)
		store.EXPECT().LookupByID(gomock.Any(), alice.ID).Return(alice, true, nil)

		identity, err := resolver.Resolve(ctx, Handshake{Bearer: token})

		req.NoError(err)
		req.Equal(alice, identity)
	})

	t.Run("bearer takes priority over the session", func(t *testing.T) {
		token, err := tokens.GenerateToken(alice.ID, nil, time.Hour)
		req.NoError(err)
		store.EXPECT().LookupByID(gomock.Any(), alice.ID).Return(alice, true, nil)

		identity, err := resolver.Resolve(ctx, Handshake{Bearer: token, SessionID: "other"})

		req.NoError(err)
		req.Equal(alice.ID, identity.ID)
	})

	t.Run("forged bearer falls back to the session", func(t *testing.T) {
		forged, err := NewTokenVerifier("another-secret", testIssuer).GenerateToken(7, nil, time.Hour)
		req.NoError(err)
		store.EXPECT().LookupBySession(gomock.Any(), "sess-1").Return(alice, true, nil)

		identity, err := resolver.Resolve(ctx, Handshake{Bearer: forged, SessionID: "sess-1"})

		req.NoError(err)
		req.Equal(alice, identity)
	})

	t.Run("expired bearer without session is anonymous", func(t *testing.T) {
		token, err := tokens.GenerateToken(alice.ID, nil, -time.Minute)
		req.NoError(err)

		identity, err := resolver.Resolve(ctx, Handshake{Bearer: token})

		req.NoError(err)
		req.True(identity.IsAnonymous())
	})

	t.Run("unknown session is anonymous", func(t *testing.T) {
		store.EXPECT().LookupBySession(gomock.Any(), "nope").Return(domain.Identity{}, false, nil)

		identity, err := resolver.Resolve(ctx, Handshake{SessionID: "nope"})

		req.NoError(err)
		req.Equal(domain.Anonymous, identity)
	})

	t.Run("no credentials is anonymous without touching the store", func(t *testing.T) {
		identity, err := resolver.Resolve(ctx, Handshake{})

		req.NoError(err)
		req.Equal(domain.Anonymous, identity)
	})

	t.Run("store failure is transient", func(t *testing.T) {
		store.EXPECT().LookupBySession(gomock.Any(), "sess-2").Return(domain.Identity{}, false, fmt.Errorf("disk gone"))

		identity, err := resolver.Resolve(ctx, Handshake{SessionID: "sess-2"})

		req.ErrorIs(err, errors.ErrTransientIO)
		req.True(identity.IsAnonymous())
	})
}

func TestHandshakeFromRequest(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest(http.MethodGet, "/ws/rooms/lobby?token=from-query", nil)
	r.AddCookie(&http.Cookie{Name: "sessionid", Value: "abc"})
	h := HandshakeFromRequest(r, "sessionid")
	req.Equal("from-query", h.Bearer)
	req.Equal("abc", h.SessionID)

	r = httptest.NewRequest(http.MethodGet, "/ws/rooms/lobby?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	h = HandshakeFromRequest(r, "sessionid")
	req.Equal("from-header", h.Bearer)
	req.Empty(h.SessionID)
}

func TestTokenVerifier_RejectsWrongIssuer(t *testing.T) {
	req := require.New(t)
	token, err := NewTokenVerifier(testSecret, "someone-else").GenerateToken(alice.ID, nil, time.Hour)
	req.NoError(err)

	_, err = NewTokenVerifier(testSecret, testIssuer).ValidateToken(token)
	req.Error(err)
}
