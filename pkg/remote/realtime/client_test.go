package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfogg/sidechain/clientsync/pkg/remote"
)

// fakeServer speaks just enough of the channel protocol for the client
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	joins  []Message
	leaves []Message
	query  string

	rejectJoins atomic.Bool
	ignoreJoins atomic.Bool
	heartbeats  atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/realtime/v1/websocket"
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.query = r.URL.RawQuery
	fs.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case EventJoin:
			fs.mu.Lock()
			fs.joins = append(fs.joins, msg)
			fs.mu.Unlock()
			if fs.ignoreJoins.Load() {
				continue
			}
			status := `{"status":"ok","response":{}}`
			if fs.rejectJoins.Load() {
				status = `{"status":"error","response":{"reason":"Unauthorized"}}`
			}
			fs.write(conn, Message{Topic: msg.Topic, Event: EventReply, Ref: msg.Ref, JoinRef: msg.JoinRef, Payload: jsoniter.RawMessage(status)})
		case EventLeave:
			fs.mu.Lock()
			fs.leaves = append(fs.leaves, msg)
			fs.mu.Unlock()
			fs.write(conn, Message{Topic: msg.Topic, Event: EventReply, Ref: msg.Ref, Payload: jsoniter.RawMessage(`{"status":"ok","response":{}}`)})
		case EventHeartbeat:
			fs.heartbeats.Add(1)
			fs.write(conn, Message{Topic: phoenixTopic, Event: EventReply, Ref: msg.Ref, Payload: jsoniter.RawMessage(`{"status":"ok","response":{}}`)})
		}
	}
}

func (fs *fakeServer) write(conn *websocket.Conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		fs.t.Errorf("marshal: %v", err)
		return
	}
	_ = conn.Write(context.Background(), websocket.MessageText, data)
}

func (fs *fakeServer) latest() *websocket.Conn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		return nil
	}
	return fs.conns[len(fs.conns)-1]
}

func (fs *fakeServer) joinCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.joins)
}

func (fs *fakeServer) lastJoin() Message {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.joins[len(fs.joins)-1]
}

func (fs *fakeServer) push(topic string, data string) {
	payload := `{"ids":[1],"data":` + data + `}`
	fs.write(fs.latest(), Message{Topic: topic, Event: EventPostgresChanges, Payload: jsoniter.RawMessage(payload)})
}

func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	conns := fs.conns
	fs.conns = nil
	fs.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (fs *fakeServer) close() {
	fs.dropAll()
	fs.srv.Close()
}

type recorder struct {
	mu       sync.Mutex
	events   []remote.ChangeEvent
	statuses []remote.Status
}

func (r *recorder) handler() remote.Handler {
	return remote.Handler{
		OnChange: func(ev remote.ChangeEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		OnStatus: func(s remote.Status, _ error) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) hasStatus(s remote.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.statuses {
		if got == s {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, fs *fakeServer, mods ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		URL:               fs.url(),
		APIKey:            "anon-key",
		AccessToken:       "user-token",
		HeartbeatInterval: time.Hour,
		JoinTimeout:       time.Second,
		ReconnectInitial:  10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var notificationsTopic = remote.TableTopic("notifications", remote.EventInsert, "recipient_id=eq.u1")

func TestSubscribeSendsJoinConfig(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	sub, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)
	assert.Equal(t, notificationsTopic, sub.Topic())
	assert.True(t, rec.hasStatus(remote.StatusSubscribed))
	assert.True(t, c.IsConnected())

	join := fs.lastJoin()
	assert.True(t, strings.HasPrefix(join.Topic, "realtime:public:notifications:INSERT"))
	assert.NotEmpty(t, join.Ref)
	assert.Equal(t, join.Ref, join.JoinRef)

	var payload joinPayload
	require.NoError(t, json.Unmarshal(join.Payload, &payload))
	require.Len(t, payload.Config.PostgresChanges, 1)
	assert.Equal(t, changeFilter{Event: "INSERT", Schema: "public", Table: "notifications", Filter: "recipient_id=eq.u1"}, payload.Config.PostgresChanges[0])
	assert.Equal(t, "user-token", payload.AccessToken)

	fs.mu.Lock()
	assert.Contains(t, fs.query, "apikey=anon-key")
	assert.Contains(t, fs.query, "vsn=1.0.0")
	fs.mu.Unlock()
}

func TestChangesAreDelivered(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	_, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)

	topic := fs.lastJoin().Topic
	fs.push(topic, `{"type":"INSERT","schema":"public","table":"notifications","commit_timestamp":"2026-01-02T03:04:05Z","record":{"id":"n1","recipient_id":"u1"}}`)
	// Wrong event type for this topic.
	fs.push(topic, `{"type":"DELETE","schema":"public","table":"notifications","old_record":{"id":"n0"}}`)

	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, remote.EventInsert, ev.Type)
	var row struct {
		ID string `json:"id"`
	}
	require.NoError(t, ev.DecodeRecord(&row))
	assert.Equal(t, "n1", row.ID)
	assert.Equal(t, 2026, ev.CommitTimestamp.Year())
}

func TestJoinRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectJoins.Store(true)
	c := newTestClient(t, fs)

	_, err := c.Subscribe(context.Background(), notificationsTopic, remote.Handler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
	assert.Equal(t, 0, c.Channels())
}

func TestJoinTimeout(t *testing.T) {
	fs := newFakeServer(t)
	fs.ignoreJoins.Store(true)
	c := newTestClient(t, fs, func(cfg *Config) { cfg.JoinTimeout = 30 * time.Millisecond })

	_, err := c.Subscribe(context.Background(), notificationsTopic, remote.Handler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDialFailure(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1/realtime/v1/websocket", DialTimeout: 200 * time.Millisecond})
	defer c.Close()

	_, err := c.Subscribe(context.Background(), notificationsTopic, remote.Handler{})
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	assert.NotEmpty(t, c.GetStats().LastError)
}

func TestUnsubscribeLeavesAndStopsDelivery(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	sub, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)
	topic := fs.lastJoin().Topic

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, c.Channels())

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.leaves) == 1
	}, time.Second, 5*time.Millisecond)

	fs.push(topic, `{"type":"INSERT","table":"notifications","record":{}}`)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, rec.eventCount())
}

func TestReconnectRejoinsChannels(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	_, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)
	require.Equal(t, 1, fs.joinCount())

	fs.dropAll()

	require.Eventually(t, func() bool { return rec.hasStatus(remote.StatusDropped) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.hasStatus(remote.StatusRejoined) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, fs.joinCount())
	assert.Equal(t, 1, c.GetStats().ReconnectCount)
	assert.True(t, c.IsConnected())

	fs.push(fs.lastJoin().Topic, `{"type":"INSERT","table":"notifications","record":{"id":"n2"}}`)
	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestChannelErrorRejoins(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	_, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)
	join := fs.lastJoin()

	fs.write(fs.latest(), Message{Topic: join.Topic, Event: EventError, JoinRef: join.JoinRef, Payload: jsoniter.RawMessage(`{}`)})

	require.Eventually(t, func() bool { return rec.hasStatus(remote.StatusRejoined) }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rec.hasStatus(remote.StatusDropped))
	assert.Equal(t, 2, fs.joinCount())
}

func TestHeartbeats(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs, func(cfg *Config) { cfg.HeartbeatInterval = 10 * time.Millisecond })

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return fs.heartbeats.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Positive(t, c.GetStats().MessagesSent)
}

func TestCloseNotifiesAndRefusesNewSubscriptions(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(t, fs)
	var rec recorder

	_, err := c.Subscribe(context.Background(), notificationsTopic, rec.handler())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, rec.hasStatus(remote.StatusClosed))
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Subscribe(context.Background(), notificationsTopic, remote.Handler{})
	assert.True(t, errors.Is(err, ErrClosed))
}
