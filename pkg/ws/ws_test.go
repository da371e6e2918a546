package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/rtguard/pkg/auth"
	rterrors "github.com/tokmz/rtguard/pkg/errors"
)

type fakeAuthorizer struct {
	mu      sync.Mutex
	refresh map[int64]*auth.Context
	revoked map[int64]bool
}

func newFakeAuthorizer() *fakeAuthorizer {
	return &fakeAuthorizer{refresh: map[int64]*auth.Context{}, revoked: map[int64]bool{}}
}

func (f *fakeAuthorizer) AuthorizeAdmin(ac *auth.Context, permission string) bool {
	return ac.IsAdmin() && (permission == "" || ac.HasPermission(permission))
}

func (f *fakeAuthorizer) Refresh(_ context.Context, ac *auth.Context) (*auth.Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked[ac.PrincipalID] {
		return nil, false
	}
	if next, ok := f.refresh[ac.PrincipalID]; ok {
		return next, true
	}
	return ac, true
}

func user(id int64) *auth.Context {
	ac := auth.NewContext(id, "", auth.RoleUser)
	ac.Address = "192.0.2.1"
	return ac
}

func admin(id int64) *auth.Context {
	ac := auth.NewContext(id, "", auth.RoleAdmin)
	ac.Address = "192.0.2.1"
	return ac
}

func newTestManager(t *testing.T, authz Authorizer, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithCheckOrigin(func(*http.Request) bool { return true })}, opts...)
	m, err := NewManager(authz, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// detachedClient 没有底层连接，只用于房间与分发的单元测试
func detachedClient(m *Manager, id, ns string, ac *auth.Context) *Client {
	return newClient(nil, m, id, ns, ac)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = cfg.HeartbeatInterval
	_, err = NewManager(newFakeAuthorizer(), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MessagesPerSecond = 5
	cfg.MessageBurst = 0
	_, err = NewManager(newFakeAuthorizer(), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRegisterNamespace(t *testing.T) {
	m := newTestManager(t, newFakeAuthorizer())

	require.NoError(t, m.RegisterNamespace("/", Handlers{}, false))
	assert.ErrorIs(t, m.RegisterNamespace("", Handlers{}, false), ErrNamespaceExists)
	require.NoError(t, m.RegisterNamespace("/admin", Handlers{}, true))

	require.NoError(t, m.Run())
	assert.ErrorIs(t, m.RegisterNamespace("late", Handlers{}, false), ErrRegistryFrozen)
	assert.ErrorIs(t, m.Use(), ErrRegistryFrozen)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeAuthorizer())

	var got struct {
		Text string `json:"text"`
	}
	var seen *auth.Context
	require.NoError(t, m.RegisterNamespace("/", Handlers{
		"chat.send": func(_ context.Context, req *Request) error {
			seen = req.Auth
			return req.Bind(&got)
		},
		"fail": func(context.Context, *Request) error {
			return errors.New("boom")
		},
	}, false))

	ac := user(1)
	require.NoError(t, m.Dispatch(ctx, "/", "chat.send", json.RawMessage(`{"text":"hi"}`), ac))
	assert.Equal(t, "hi", got.Text)
	assert.Same(t, ac, seen)

	assert.NoError(t, m.Dispatch(ctx, "/", "from.the.future", nil, ac))
	assert.ErrorIs(t, m.Dispatch(ctx, "/", "chat.send", json.RawMessage(`nope`), ac), ErrInvalidMessage)
	assert.EqualError(t, m.Dispatch(ctx, "/", "fail", nil, ac), "boom")
	assert.ErrorIs(t, m.Dispatch(ctx, "/nowhere", "chat.send", nil, ac), ErrNamespaceNotFound)
	assert.ErrorIs(t, m.Dispatch(ctx, "/", "chat.send", nil, nil), ErrUnauthenticated)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeAuthorizer())
	require.NoError(t, m.RegisterNamespace("/", Handlers{
		"boom": func(context.Context, *Request) error {
			panic("handler bug")
		},
		"ok": func(context.Context, *Request) error { return nil },
	}, false))

	var err error
	require.NotPanics(t, func() {
		err = m.Dispatch(ctx, "/", "boom", nil, user(1))
	})
	assert.ErrorIs(t, err, rterrors.ErrServer)
	assert.Equal(t, rterrors.ErrServer.Reason, PublicError(err).Reason)
	assert.NotContains(t, PublicError(err).Error(), "handler bug")

	assert.NoError(t, m.Dispatch(ctx, "/", "ok", nil, user(1)))
}

func TestAdminOnlyNamespace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeAuthorizer())

	calls := 0
	require.NoError(t, m.RegisterNamespace("admin", Handlers{
		"users.list": func(context.Context, *Request) error {
			calls++
			return nil
		},
	}, true))

	for _, frozen := range []bool{false, true} {
		if frozen {
			require.NoError(t, m.Run())
		}
		assert.ErrorIs(t, m.Dispatch(ctx, "/admin", "users.list", nil, user(2)), ErrForbidden)
		assert.NoError(t, m.Dispatch(ctx, "/admin", "unknown", nil, user(2)))
		assert.NoError(t, m.Dispatch(ctx, "/admin", "users.list", nil, admin(1)))
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareOrder(t *testing.T) {
	m := newTestManager(t, newFakeAuthorizer())

	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(_ context.Context, _ *Request, next NextFunc) error {
			order = append(order, name)
			return next()
		}
	}
	require.NoError(t, m.Use(mark("global")))
	require.NoError(t, m.RegisterNamespace("/", Handlers{
		"ping": func(context.Context, *Request) error {
			order = append(order, "handler")
			return nil
		},
	}, false, mark("namespace")))
	require.NoError(t, m.Run())

	require.NoError(t, m.Dispatch(context.Background(), "/", "ping", nil, user(1)))
	assert.Equal(t, []string{"global", "namespace", "handler"}, order)
}

func TestRequireAdminPermission(t *testing.T) {
	authz := newFakeAuthorizer()
	m := newTestManager(t, authz)
	require.NoError(t, m.RegisterNamespace("ops", Handlers{
		"broadcast": func(context.Context, *Request) error { return nil },
	}, false, RequireAdmin(authz, "admin:nonexistent")))

	assert.ErrorIs(t, m.Dispatch(context.Background(), "ops", "broadcast", nil, admin(1)), ErrForbidden)
}

func TestCreateRoom(t *testing.T) {
	m := newTestManager(t, newFakeAuthorizer())
	require.NoError(t, m.RegisterNamespace("/", nil, false))
	require.NoError(t, m.RegisterNamespace("/admin", nil, true))

	room, err := m.CreateRoom("lobby", "/", "public", 7, map[string]any{"topic": "a"})
	require.NoError(t, err)
	assert.Equal(t, "", room.Namespace)

	member := detachedClient(m, "c1", "", user(1))
	require.NoError(t, member.JoinRoom("lobby"))
	assert.ErrorIs(t, member.JoinRoom("lobby"), ErrAlreadyInRoom)

	again, err := m.CreateRoom("lobby", "", "private", 8, map[string]any{"topic": "b"})
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.Equal(t, "private", again.Category())
	assert.Equal(t, int64(8), again.OwnerID())
	assert.Equal(t, map[string]any{"topic": "b"}, again.Metadata())
	assert.Equal(t, 1, again.Size())

	_, err = m.CreateRoom("lobby", "admin", "public", 7, nil)
	assert.ErrorIs(t, err, ErrRoomNamespaceMismatch)
	_, err = m.CreateRoom("x", "missing", "", 0, nil)
	assert.ErrorIs(t, err, ErrNamespaceNotFound)

	adminRoom, err := m.CreateRoom("ops", "admin", "", 1, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.rooms.join(member, adminRoom), ErrRoomNamespaceMismatch)
	assert.ErrorIs(t, member.JoinRoom("ghost"), ErrRoomNotFound)
}

func TestRoomFullAndLeave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Room.MaxRoomSize = 1
	m := newTestManager(t, newFakeAuthorizer(), WithConfig(cfg))
	require.NoError(t, m.RegisterNamespace("/", nil, false))
	_, err := m.CreateRoom("duo", "", "", 0, nil)
	require.NoError(t, err)

	a := detachedClient(m, "a", "", user(1))
	b := detachedClient(m, "b", "", user(2))
	require.NoError(t, a.JoinRoom("duo"))
	assert.ErrorIs(t, b.JoinRoom("duo"), ErrRoomFull)

	a.LeaveRoom("duo")
	assert.Empty(t, a.Rooms())
	require.NoError(t, b.JoinRoom("duo"))

	m.DeleteRoom("duo")
	assert.Empty(t, b.Rooms())
	_, ok := m.GetRoom("duo")
	assert.False(t, ok)
}

func TestBroadcastToRoom(t *testing.T) {
	m := newTestManager(t, newFakeAuthorizer())
	require.NoError(t, m.RegisterNamespace("/", nil, false))
	_, err := m.CreateRoom("r", "", "", 0, nil)
	require.NoError(t, err)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = detachedClient(m, "c"+strconv.Itoa(i), "", user(int64(i+1)))
		require.NoError(t, clients[i].JoinRoom("r"))
	}
	outsider := detachedClient(m, "out", "", user(9))

	require.NoError(t, m.BroadcastToRoom("r", "news", map[string]string{"v": "1"}))
	for _, c := range clients {
		select {
		case raw := <-c.send:
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, MessageTypeNotify, msg.Type)
			assert.Equal(t, "news", msg.Event)
			assert.JSONEq(t, `{"v":"1"}`, string(msg.Data))
		default:
			t.Fatalf("client %s got nothing", c.ID)
		}
	}
	assert.Empty(t, outsider.send)

	assert.ErrorIs(t, m.BroadcastToRoom("missing", "news", nil), ErrRoomNotFound)
}

func TestCleanupEmptyRooms(t *testing.T) {
	rm := NewRoomManager(RoomConfig{MaxRoomSize: 10, CleanupInterval: time.Minute, EmptyRoomTTL: time.Minute}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rm.now = func() time.Time { return now }

	_, err := rm.CreateRoom("stale", "", "", 0, nil)
	require.NoError(t, err)
	_, err = rm.CreateRoom("pinned", "", "", 0, map[string]any{MetaAutoJoin: true})
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, rm.cleanupEmptyRooms())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, rm.cleanupEmptyRooms())
	_, ok := rm.GetRoom("stale")
	assert.False(t, ok)
	_, ok = rm.GetRoom("pinned")
	assert.True(t, ok)
}

func TestPersonalRoomID(t *testing.T) {
	assert.Equal(t, "user:42", PersonalRoomID("", 42))
	assert.Equal(t, "admin:user:42", PersonalRoomID("admin", 42))
}

// 以下测试走真实的 websocket 握手

type testServer struct {
	*httptest.Server
	m *Manager
}

func newTestServer(t *testing.T, authz Authorizer, opts ...Option) *testServer {
	t.Helper()
	m := newTestManager(t, authz, opts...)
	ts := &testServer{m: m}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64)
		ac := user(id)
		if r.URL.Query().Get("role") == "admin" {
			ac = admin(id)
		}
		ns := strings.TrimPrefix(r.URL.Path, "/ws")
		if _, err := m.Admit(w, r, ns, ac); err != nil {
			switch {
			case errors.Is(err, ErrUpgradeFailed):
			case errors.Is(err, ErrForbidden):
				http.Error(w, err.Error(), http.StatusForbidden)
			case errors.Is(err, ErrNamespaceNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			default:
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) dial(t *testing.T, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readMessage(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}

func echoHandlers() Handlers {
	return Handlers{
		"echo": func(_ context.Context, req *Request) error {
			var body map[string]any
			if err := req.Bind(&body); err != nil {
				return err
			}
			return req.Reply(body)
		},
	}
}

func TestAdmitAndEcho(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	require.NoError(t, ts.m.RegisterNamespace("/", echoHandlers(), false))
	require.NoError(t, ts.m.Run())

	conn, _, err := ts.dial(t, "/ws?uid=5")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 1 })

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeRequest, Event: "echo", RequestID: "r1", Data: json.RawMessage(`{"a":1}`)}))
	var resp struct {
		Type      MessageType    `json:"type"`
		RequestID string         `json:"request_id"`
		Data      map[string]any `json:"data"`
	}
	readMessage(t, conn, &resp)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, float64(1), resp.Data["a"])

	require.NoError(t, conn.WriteJSON(Message{Event: "echo", RequestID: "r2"}))
	var errResp ErrorResponse
	readMessage(t, conn, &errResp)
	assert.Equal(t, MessageTypeError, errResp.Type)
	assert.Equal(t, "bad_request", errResp.Reason)

	require.NoError(t, ts.m.SendToPrincipal("/", 5, "hello", "you"))
	var notify Message
	readMessage(t, conn, &notify)
	assert.Equal(t, "hello", notify.Event)

	room, ok := ts.m.GetRoom("user:5")
	require.True(t, ok)
	assert.Equal(t, CategoryPersonal, room.Category())

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return ts.m.ClientCount() == 0 })
	assert.Equal(t, 0, room.Size())
}

func TestAdmitRejections(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	require.NoError(t, ts.m.RegisterNamespace("/admin", echoHandlers(), true))

	_, resp, err := ts.dial(t, "/ws/admin?uid=2")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = ts.dial(t, "/ws/missing?uid=2")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err = ts.dial(t, "/ws/admin?uid=1&role=admin")
	require.NoError(t, err)
}

func TestAdmitOriginRejected(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer(), WithCheckOrigin(func(*http.Request) bool { return false }))
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))

	_, resp, err := ts.dial(t, "/ws?uid=1")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, ts.m.ClientCount())
}

func TestAutoJoinAndNamespaceBroadcast(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))
	require.NoError(t, ts.m.RegisterNamespace("/admin", nil, true))
	_, err := ts.m.CreateRoom("announcements", "/", "system", 0, map[string]any{MetaAutoJoin: true})
	require.NoError(t, err)

	c1, _, err := ts.dial(t, "/ws?uid=1")
	require.NoError(t, err)
	c2, _, err := ts.dial(t, "/ws?uid=2")
	require.NoError(t, err)
	_, _, err = ts.dial(t, "/ws/admin?uid=3&role=admin")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 3 })

	room, _ := ts.m.GetRoom("announcements")
	assert.Equal(t, 2, room.Size())

	require.NoError(t, ts.m.BroadcastToNamespace("/", "motd", "hi"))
	for _, c := range []*websocket.Conn{c1, c2} {
		var msg Message
		readMessage(t, c, &msg)
		assert.Equal(t, "motd", msg.Event)
	}
	assert.ErrorIs(t, ts.m.BroadcastToNamespace("/nope", "motd", nil), ErrNamespaceNotFound)
}

func TestMessageRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.MessageBurst = 1
	ts := newTestServer(t, newFakeAuthorizer(), WithConfig(cfg))
	require.NoError(t, ts.m.RegisterNamespace("/", echoHandlers(), false))

	conn, _, err := ts.dial(t, "/ws?uid=1")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Event: "echo", RequestID: "1", Data: json.RawMessage(`{}`)}))
	var first Response
	readMessage(t, conn, &first)
	assert.Equal(t, MessageTypeResponse, first.Type)

	require.NoError(t, conn.WriteJSON(Message{Event: "echo", RequestID: "2", Data: json.RawMessage(`{}`)}))
	var second ErrorResponse
	readMessage(t, conn, &second)
	assert.Equal(t, "rate_limited", second.Reason)
}

func TestInvalidMessagesCloseConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInvalidMessages = 2
	ts := newTestServer(t, newFakeAuthorizer(), WithConfig(cfg))
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))

	conn, _, err := ts.dial(t, "/ws?uid=1")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 1 })

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	}
	waitFor(t, func() bool { return ts.m.ClientCount() == 0 })
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func TestSessionAuditRevokes(t *testing.T) {
	authz := newFakeAuthorizer()
	ts := newTestServer(t, authz)
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))

	conn, _, err := ts.dial(t, "/ws?uid=4")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 1 })

	ts.m.auditSessions(context.Background())
	assert.Equal(t, 1, ts.m.ClientCount())

	authz.mu.Lock()
	authz.revoked[4] = true
	authz.mu.Unlock()
	ts.m.auditSessions(context.Background())

	assert.Equal(t, CloseSessionRevoked, closeCode(t, conn))
	assert.Equal(t, 0, ts.m.ClientCount())
}

func TestSessionAuditDemotesAdmin(t *testing.T) {
	authz := newFakeAuthorizer()
	ts := newTestServer(t, authz)
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))
	require.NoError(t, ts.m.RegisterNamespace("/admin", nil, true))

	adminConn, _, err := ts.dial(t, "/ws/admin?uid=1&role=admin")
	require.NoError(t, err)
	_, _, err = ts.dial(t, "/ws?uid=1&role=admin")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 2 })

	authz.mu.Lock()
	authz.refresh[1] = user(1)
	authz.mu.Unlock()
	ts.m.auditSessions(context.Background())

	assert.Equal(t, CloseInsufficientPrivilege, closeCode(t, adminConn))
	waitFor(t, func() bool { return ts.m.ClientCount() == 1 })

	var remaining *Client
	ts.m.pool.each(func(c *Client) bool {
		remaining = c
		return false
	})
	require.NotNil(t, remaining)
	assert.Equal(t, auth.RoleUser, remaining.Auth().Role)
}

func TestHandlerPanicKeepsConnection(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	handlers := echoHandlers()
	handlers["boom"] = func(context.Context, *Request) error {
		panic("handler bug")
	}
	require.NoError(t, ts.m.RegisterNamespace("/", handlers, false))
	require.NoError(t, ts.m.Run())

	conn, _, err := ts.dial(t, "/ws?uid=3")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeRequest, Event: "boom", RequestID: "b1"}))
	var errResp ErrorResponse
	readMessage(t, conn, &errResp)
	assert.Equal(t, MessageTypeError, errResp.Type)
	assert.Equal(t, "b1", errResp.RequestID)
	assert.Equal(t, "server_error", errResp.Reason)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeRequest, Event: "echo", RequestID: "e1", Data: json.RawMessage(`{"a":1}`)}))
	var resp Message
	readMessage(t, conn, &resp)
	assert.Equal(t, "e1", resp.RequestID)
	assert.Equal(t, 1, ts.m.ClientCount())
}

func TestShutdownSendsGoingAwayToEveryClient(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))
	require.NoError(t, ts.m.Run())

	const n = 8
	conns := make([]*websocket.Conn, 0, n)
	for i := 0; i < n; i++ {
		conn, _, err := ts.dial(t, "/ws?uid="+strconv.Itoa(i+1))
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	waitFor(t, func() bool { return ts.m.ClientCount() == n })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.m.Shutdown(ctx))

	for i, conn := range conns {
		assert.Equal(t, websocket.CloseGoingAway, closeCode(t, conn), "client %d", i)
	}
	assert.Equal(t, 0, ts.m.ClientCount())
}

func TestShutdownClosesClients(t *testing.T) {
	ts := newTestServer(t, newFakeAuthorizer())
	require.NoError(t, ts.m.RegisterNamespace("/", nil, false))
	require.NoError(t, ts.m.Run())

	conn, _, err := ts.dial(t, "/ws?uid=1")
	require.NoError(t, err)
	waitFor(t, func() bool { return ts.m.ClientCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.m.Shutdown(ctx))
	assert.Equal(t, websocket.CloseGoingAway, closeCode(t, conn))

	_, _, err = ts.dial(t, "/ws?uid=2")
	assert.Error(t, err)
}
