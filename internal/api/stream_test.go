package api

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"can-bus-simulator/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	frames chan models.AnnotatedFrame

	mu           sync.Mutex
	subscribed   int
	unsubscribed int
}

func newChanSource() *chanSource {
	return &chanSource{frames: make(chan models.AnnotatedFrame, 4)}
}

func (s *chanSource) Subscribe() (<-chan models.AnnotatedFrame, func()) {
	s.mu.Lock()
	s.subscribed++
	s.mu.Unlock()
	return s.frames, func() {
		s.mu.Lock()
		s.unsubscribed++
		s.mu.Unlock()
	}
}

func (s *chanSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed, s.unsubscribed
}

func dialStream(t *testing.T, source FrameSource) (*websocket.Conn, *Server) {
	t.Helper()

	env := newTestEnv(t, func(d *Deps) { d.Stream = source })
	srv := httptest.NewServer(env.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, env.server
}

func TestStreamDeliversFrames(t *testing.T) {
	source := newChanSource()
	conn, server := dialStream(t, source)

	source.frames <- models.AnnotatedFrame{
		Frame:          models.Frame{ID: "0x1A2", Payload: "AAFFBBCC00000000", Event: "Horn"},
		ChangeDetected: true,
		Label:          "Horn",
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "can_message", msg.Type)
	assert.Equal(t, "0x1A2", msg.Data.ID)
	assert.True(t, msg.Data.ChangeDetected)
	assert.Equal(t, "Horn", msg.Data.Label)
	assert.Equal(t, 1, server.hub.Clients())
}

func TestStreamClosesWhenSourceEnds(t *testing.T) {
	source := newChanSource()
	conn, _ := dialStream(t, source)

	require.Eventually(t, func() bool {
		subscribed, _ := source.counts()
		return subscribed == 1
	}, time.Second, 5*time.Millisecond)
	close(source.frames)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())

	require.Eventually(t, func() bool {
		_, unsubscribed := source.counts()
		return unsubscribed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStreamHubClose(t *testing.T) {
	source := newChanSource()
	conn, server := dialStream(t, source)

	require.Eventually(t, func() bool {
		return server.hub.Clients() == 1
	}, time.Second, 5*time.Millisecond)
	server.hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}

func TestStreamRouteOnlyWithSource(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "GET", "/ws/frames", nil)
	assert.Equal(t, 404, rec.Code)
}
