package api

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/infrastructure/cache"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/ws"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/services"
	blob "chat-relay/storage"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Identity{ID: 1, DisplayName: "alice", Status: domain.StatusOnline}
	bob   = domain.Identity{ID: 2, DisplayName: "bob", Status: domain.StatusOnline}
	carol = domain.Identity{ID: 3, DisplayName: "carol", Status: domain.StatusOnline}
)

type testServer struct {
	http          *httptest.Server
	tokens        auth.TokenVerifier
	groups        *runtime.Registry
	notifications *runtime.NotificationHub
	private       *services.PrivateService
}

func newTestServer(t *testing.T) testServer {
	return newTestServerWith(t, logs.GetLoggerFromLevel(slog.LevelError), ws.Config{BufferSize: 32})
}

func newTestServerWith(t *testing.T, log *slog.Logger, socket ws.Config) testServer {
	gin.SetMode(gin.TestMode)
	req := require.New(t)
	ctx := context.Background()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { db.Close() })

	identities := storage.NewIdentityRepository(db, log)
	for _, identity := range []domain.Identity{alice, bob, carol} {
		req.NoError(identities.PutIdentity(ctx, identity))
	}
	tokens := auth.NewTokenVerifier("test-secret", "chat-relay")
	blobs, err := blob.NewDiskBlobStore(t.TempDir(), "/media", log)
	req.NoError(err)
	urls, err := cache.NewURLCache(100)
	req.NoError(err)
	t.Cleanup(urls.Close)
	filter, err := moderation.NewFilter(nil, moderation.DefaultMask, log)
	req.NoError(err)

	metrics := observability.NewMetrics()
	groups := runtime.NewRegistry(log, 100*time.Millisecond, metrics)
	notifications := runtime.NewNotificationHub(log, 100*time.Millisecond, metrics)
	jobs := storage.NewJobRepository(db, log, 3)
	attachments := services.NewAttachmentService(log, storage.NewAttachmentRepository(db, log), urls)
	uploadCfg := services.UploadConfig{MaxChunkSize: 1024, MaxTotalChunks: 8, TTL: time.Hour}

	deps := Dependencies{
		Resolver: auth.NewResolver(log, identities, tokens),
		Chat: services.NewChatService(log, groups, groups,
			storage.NewRoomMessageRepository(db, log, 10), attachments, filter, metrics),
		Private: services.NewPrivateService(log, identities,
			storage.NewPrivateMessageRepository(db, log, 10), groups, notifications, attachments, filter, metrics),
		Uploads: services.NewUploadService(log, storage.NewUploadRepository(db, log), blobs, jobs, urls,
			attachments, uploadCfg, metrics),
		Attachments:   attachments,
		Groups:        groups,
		Notifications: notifications,
		Metrics:       metrics,
	}
	base, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	server := NewServer(base, log, deps, Config{
		SessionCookie:  "sessionid",
		AllowedOrigins: []string{"*"},
		MaxChunkSize:   1024,
		Socket:         socket,
	})
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)
	return testServer{
		http:          httpServer,
		tokens:        tokens,
		groups:        groups,
		notifications: notifications,
		private:       deps.Private,
	}
}

func (s testServer) token(t *testing.T, identity domain.Identity) string {
	token, err := s.tokens.GenerateToken(identity.ID, nil, time.Hour)
	require.NoError(t, err)
	return token
}

func (s testServer) dial(t *testing.T, path string, identity domain.Identity) *websocket.Conn {
	target := "ws" + strings.TrimPrefix(s.http.URL, "http") + path + "?token=" + url.QueryEscape(s.token(t, identity))
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s testServer) do(t *testing.T, method, path string, identity *domain.Identity, body *bytes.Buffer, contentType string) *http.Response {
	if body == nil {
		body = &bytes.Buffer{}
	}
	r, err := http.NewRequest(method, s.http.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if identity != nil {
		r.Header.Set("Authorization", "Bearer "+s.token(t, *identity))
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// subscribed waits until the server side of the sockets has registered.
func (s testServer) subscribed(t *testing.T, conversation domain.ConversationID, members int, online ...domain.IdentityID) {
	require.Eventually(t, func() bool {
		if len(s.groups.Roster(domain.PrivateGroup(conversation))) != members {
			return false
		}
		for _, id := range online {
			if !s.notifications.Online(id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// expect reads frames until one of the wanted type arrives.
func expect(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", frameType)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == frameType {
			return frame
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame any) {
	require.NoError(t, conn.WriteJSON(frame))
}

func TestRoomSocket_Lobby(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given alice in the lobby
	aliceConn := s.dial(t, "/ws/rooms/lobby", alice)
	list := expect(t, aliceConn, "user_list")
	req.Equal(float64(1), list["count"])

	// When bob joins
	bobConn := s.dial(t, "/ws/rooms/lobby", bob)

	// Then bob sees both and alice is told
	list = expect(t, bobConn, "user_list")
	req.Equal(float64(2), list["count"])
	join := expect(t, aliceConn, "user_join")
	req.Equal("bob", join["user"].(map[string]any)["display_name"])

	// When alice talks, both receive the message
	send(t, aliceConn, map[string]string{"message": "hello lobby"})
	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		message := expect(t, conn, "chat_message")
		req.Equal("hello lobby", message["message"])
		req.Equal("alice", message["sender"])
		req.Equal("lobby", message["scope"])
	}

	// When bob sends garbage, only bob hears about it
	send(t, bobConn, map[string]string{"message": ""})
	errFrame := expect(t, bobConn, "error")
	req.Equal(float64(http.StatusBadRequest), errFrame["code"])

	// When bob leaves, alice sees it
	req.NoError(bobConn.Close())
	leave := expect(t, aliceConn, "user_leave")
	req.Equal(float64(1), leave["count"])

	// And the history holds the message
	resp := s.do(t, http.MethodGet, "/api/rooms/lobby/messages", &alice, nil, "")
	req.Equal(http.StatusOK, resp.StatusCode)
	messages := decode(t, resp)["messages"].([]any)
	req.Len(messages, 1)
}

func TestSockets_RequireIdentity(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	target := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws/rooms/lobby"
	_, resp, err := websocket.DefaultDialer.Dial(target, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	target = "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws/private/1_2?token=" + url.QueryEscape(s.token(t, carol))
	_, resp, err = websocket.DefaultDialer.Dial(target, nil)
	req.Error(err)
	req.Equal(http.StatusNotFound, resp.StatusCode)

	target = "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws/rooms/private:1_2?token=" + url.QueryEscape(s.token(t, carol))
	_, resp, err = websocket.DefaultDialer.Dial(target, nil)
	req.Error(err)
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestPrivateSocket_SendNotifyRead(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	aliceConn := s.dial(t, "/ws/private/1_2", alice)
	bobConn := s.dial(t, "/ws/private/1_2", bob)
	bobNotifications := s.dial(t, "/ws/notifications", bob)
	s.subscribed(t, "1_2", 2, bob.ID)

	// When alice sends with ids as a number and a string
	send(t, aliceConn, map[string]any{"message": "hey bob", "timestamp": "t-1", "user1": 1, "user2": "2"})

	// Then alice gets the message and the delivery ack
	req.Equal("hey bob", expect(t, aliceConn, "chat_message")["message"])
	ack := expect(t, aliceConn, "private_message_delivered")
	req.Equal("t-1", ack["client_timestamp"])
	req.Equal("1_2", ack["conversation"])

	// And bob gets the message and a notification with the unread count
	req.Equal("hey bob", expect(t, bobConn, "chat_message")["message"])
	notification := expect(t, bobNotifications, "private_message_notification")
	req.Equal(float64(1), notification["unread_count"])
	req.Equal("hey bob", notification["preview"])

	resp := s.do(t, http.MethodGet, "/api/unread", &bob, nil, "")
	counters := decode(t, resp)["counters"].([]any)
	req.Len(counters, 1)

	// When bob acknowledges reading
	send(t, bobConn, map[string]any{"type": "read"})
	update := expect(t, bobNotifications, "unread_count_update")
	req.Equal(float64(0), update["unread_count"])

	// A malformed frame is reported to its sender only
	send(t, aliceConn, map[string]any{"message": "oops", "user1": "abc", "user2": 2})
	req.Equal(float64(http.StatusBadRequest), expect(t, aliceConn, "error")["code"])

	// History is visible to participants only
	resp = s.do(t, http.MethodGet, "/api/private/1_2/messages", &bob, nil, "")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Len(decode(t, resp)["messages"].([]any), 1)
	resp = s.do(t, http.MethodGet, "/api/private/1_2/messages", &carol, nil, "")
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestNotificationSocket_PushesCountersOnConnect(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	aliceConn := s.dial(t, "/ws/private/1_3", alice)
	send(t, aliceConn, map[string]any{"message": "hi carol", "user1": 1, "user2": 3})
	expect(t, aliceConn, "private_message_delivered")

	carolNotifications := s.dial(t, "/ws/notifications", carol)
	update := expect(t, carolNotifications, "unread_count_update")
	req.Equal("1_3", update["conversation"])
	req.Equal(float64(1), update["unread_count"])
}

func chunkBody(t *testing.T, uploadID string, index, total int, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := map[string]string{
		"upload_id":    uploadID,
		"chunk_index":  fmt.Sprint(index),
		"total_chunks": fmt.Sprint(total),
		"file_name":    "notes.txt",
		"media_type":   "text/plain",
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	part, err := writer.CreateFormFile("chunk", "blob")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func finalizeBody(t *testing.T, uploadID string) *bytes.Buffer {
	data, err := json.Marshal(map[string]any{"upload_id": uploadID, "room_id": "lobby"})
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func TestUploads_ChunkAndFinalize(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	parts := []string{"first line\n", "second line\n", "third line\n"}

	// Given two of three chunks, sent out of order
	for _, i := range []int{2, 0} {
		body, contentType := chunkBody(t, "up-http", i, 3, []byte(parts[i]))
		resp := s.do(t, http.MethodPost, "/api/uploads/chunk", &alice, body, contentType)
		req.Equal(http.StatusOK, resp.StatusCode)
		ack := decode(t, resp)
		req.Equal(true, ack["success"])
		req.Equal(float64(i), ack["chunk_index"])
	}

	// Then finalize names the missing chunk
	resp := s.do(t, http.MethodPost, "/api/uploads/finalize", &alice, finalizeBody(t, "up-http"), "application/json")
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Equal([]any{float64(1)}, decode(t, resp)["missing"])

	resp = s.do(t, http.MethodGet, "/api/uploads/up-http", &alice, nil, "")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal([]any{float64(1)}, decode(t, resp)["missing"])

	// When the last chunk arrives
	body, contentType := chunkBody(t, "up-http", 1, 3, []byte(parts[1]))
	resp = s.do(t, http.MethodPost, "/api/uploads/chunk", &alice, body, contentType)
	req.Equal(true, decode(t, resp)["complete"])

	// Then finalize succeeds once
	resp = s.do(t, http.MethodPost, "/api/uploads/finalize", &alice, finalizeBody(t, "up-http"), "application/json")
	req.Equal(http.StatusOK, resp.StatusCode)
	file := decode(t, resp)["file"].(map[string]any)
	req.Equal(float64(len(strings.Join(parts, ""))), file["size"])
	req.Equal("document", file["file_type"])
	req.Equal("notes.txt", file["original_name"])

	resp = s.do(t, http.MethodPost, "/api/uploads/finalize", &alice, finalizeBody(t, "up-http"), "application/json")
	req.Equal(http.StatusNotFound, resp.StatusCode)

	// The artifact is private to its owner
	id := file["id"].(string)
	resp = s.do(t, http.MethodGet, "/api/attachments/"+id, &alice, nil, "")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(file["url"], decode(t, resp)["url"])
	resp = s.do(t, http.MethodGet, "/api/attachments/"+id, &bob, nil, "")
	req.Equal(http.StatusNotFound, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/attachments/"+id, nil, nil, "")
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestUploads_Rejections(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	body, contentType := chunkBody(t, "up-big", 0, 1, make([]byte, 2048))
	resp := s.do(t, http.MethodPost, "/api/uploads/chunk", &alice, body, contentType)
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	body, contentType = chunkBody(t, "up-anon", 0, 1, []byte("x"))
	resp = s.do(t, http.MethodPost, "/api/uploads/chunk", nil, body, contentType)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/uploads/finalize", &alice, bytes.NewBufferString("{"), "application/json")
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/uploads/unknown", &alice, nil, "")
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/health", nil, nil, "")
	req.Equal(http.StatusOK, resp.StatusCode)
	req.NotEmpty(resp.Header.Get(RequestIDHeader))
	req.Equal("ok", decode(t, resp)["status"])

	r, err := http.NewRequest(http.MethodGet, s.http.URL+"/health", nil)
	req.NoError(err)
	r.Header.Set(RequestIDHeader, "caller-id")
	resp, err = http.DefaultClient.Do(r)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal("caller-id", resp.Header.Get(RequestIDHeader))
}

func jsonChunkBody(t *testing.T, uploadID string, index, total int, data []byte) *bytes.Buffer {
	raw, err := json.Marshal(map[string]any{
		"upload_id":    uploadID,
		"chunk_index":  index,
		"total_chunks": total,
		"file_name":    "a.txt",
		"media_type":   "text/plain",
		"chunk_data":   data,
	})
	require.NoError(t, err)
	return bytes.NewBuffer(raw)
}

func TestUploads_JSONChunks(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given a single base64 chunk sent as JSON
	resp := s.do(t, http.MethodPost, "/api/uploads/chunk", &alice,
		bytes.NewBufferString(`{"upload_id":"u1","chunk_index":0,"total_chunks":1,"file_name":"a.txt","media_type":"text/plain","chunk_data":"aGVsbG8="}`),
		"application/json")

	// Then it is accepted and completes the upload
	req.Equal(http.StatusOK, resp.StatusCode)
	ack := decode(t, resp)
	req.Equal(true, ack["success"])
	req.Equal(float64(0), ack["chunk_index"])
	req.Equal(true, ack["complete"])

	// When it is finalized, the decoded bytes are what was stored
	resp = s.do(t, http.MethodPost, "/api/uploads/finalize", &alice, finalizeBody(t, "u1"), "application/json")
	req.Equal(http.StatusOK, resp.StatusCode)
	file := decode(t, resp)["file"].(map[string]any)
	req.Equal(float64(len("hello")), file["size"])

	// Chunks of one upload may mix in any order
	for _, i := range []int{1, 0} {
		resp = s.do(t, http.MethodPost, "/api/uploads/chunk", &bob,
			jsonChunkBody(t, "u2", i, 2, []byte(fmt.Sprintf("part %d\n", i))), "application/json")
		req.Equal(http.StatusOK, resp.StatusCode)
	}
	resp = s.do(t, http.MethodGet, "/api/uploads/u2", &bob, nil, "")
	req.Empty(decode(t, resp)["missing"])
}

func TestUploads_JSONChunkRejections(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Invalid base64
	resp := s.do(t, http.MethodPost, "/api/uploads/chunk", &alice,
		bytes.NewBufferString(`{"upload_id":"u3","chunk_index":0,"total_chunks":1,"file_name":"a.txt","chunk_data":"%%%"}`),
		"application/json")
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Missing chunk_data
	resp = s.do(t, http.MethodPost, "/api/uploads/chunk", &alice,
		bytes.NewBufferString(`{"upload_id":"u3","chunk_index":0,"total_chunks":1,"file_name":"a.txt"}`),
		"application/json")
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Decoded payload above the chunk limit
	resp = s.do(t, http.MethodPost, "/api/uploads/chunk", &alice,
		jsonChunkBody(t, "u3", 0, 1, make([]byte, 2048)), "application/json")
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

// syncBuffer collects log output written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNotificationSocket_RefusedCounterIsLogged(t *testing.T) {
	req := require.New(t)
	logged := &syncBuffer{}
	log := slog.New(slog.NewTextHandler(logged, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newTestServerWith(t, log, ws.Config{BufferSize: 1})

	// Given carol has unread messages in two conversations
	for _, sender := range []domain.Identity{alice, bob} {
		_, err := s.private.Send(context.Background(), chat.SendPrivateMessageCommand{
			Sender: sender, User1: sender.ID, User2: carol.ID, Content: "ping",
		})
		req.NoError(err)
	}

	// When she connects with room for a single queued frame
	s.dial(t, "/ws/notifications", carol)

	// Then the refused counter is reported instead of being dropped silently
	req.Eventually(func() bool {
		return strings.Contains(logged.String(), "Unread counter not queued")
	}, 2*time.Second, 10*time.Millisecond)
}
