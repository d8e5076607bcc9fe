package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/config"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/infra/connectivity"
	"github.com/vietddude/outbox/internal/queue"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type backend struct {
	mu    sync.Mutex
	paths []string
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.paths)
}

func testConfig(t *testing.T, baseURL string) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Storage.Driver = config.DriverMemory
	cfg.Network.Source = config.SourceManual
	cfg.Dispatch.BaseURL = baseURL
	require.NoError(t, cfg.Validate())
	return cfg
}

func startApp(t *testing.T, cfg *config.AppConfig) (*App, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	app, err := New(context.Background(), cfg,
		WithClock(clk),
		WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app, clk
}

func TestApp_DrainsQueueAfterStableReconnect(t *testing.T) {
	be := &backend{}
	srv := httptest.NewServer(be)
	defer srv.Close()

	app, clk := startApp(t, testConfig(t, srv.URL))
	ctx := context.Background()

	id, err := app.Publish(ctx, domain.StatusUpdate{MessageID: "m1", ConversationID: "c1", Status: domain.StatusRead})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, app.Queue().GetQueueSize())

	// Offline: the scheduled pass is skipped.
	clk.Advance(time.Second)
	assert.Equal(t, 1, app.Queue().GetQueueSize())
	assert.Equal(t, 0, be.count())

	app.Manual().Emit(connectivity.Connected(domain.TransportWifi))
	clk.Advance(1999 * time.Millisecond)
	assert.Equal(t, 0, be.count())

	clk.Advance(time.Millisecond)
	assert.Equal(t, 0, app.Queue().GetQueueSize())
	require.Equal(t, 1, be.count())
	assert.Equal(t, "/status_update", be.paths[0])
}

func TestApp_HealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(&backend{})
	defer srv.Close()

	app, clk := startApp(t, testConfig(t, srv.URL))
	app.Manual().Emit(connectivity.Connected(domain.TransportEthernet))
	clk.Advance(2 * time.Second)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestApp_PresenceUsesRealtimeChannel(t *testing.T) {
	received := make(chan []byte, 4)
	upgrader := websocket.Upgrader{}
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	defer ws.Close()

	srv := httptest.NewServer(&backend{})
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Realtime.URL = "ws" + strings.TrimPrefix(ws.URL, "http")
	app, _ := startApp(t, cfg)
	require.NotNil(t, app.Tracker())
	assert.True(t, app.Tracker().State().Connected)

	id, err := app.Publish(context.Background(), domain.PresencePulse{UserID: "u1", Online: true, At: epoch})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 0, app.Queue().GetQueueSize())

	select {
	case msg := <-received:
		var env struct {
			Type    string               `json:"type"`
			Payload domain.PresencePulse `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, "presence_pulse", env.Type)
		assert.Equal(t, "u1", env.Payload.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("presence was not sent over the realtime channel")
	}
}

func TestApp_RejectsInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(&backend{})
	defer srv.Close()

	app, _ := startApp(t, testConfig(t, srv.URL))
	_, err := app.Publish(context.Background(), domain.StatusUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestApp_PublishBeforeStart(t *testing.T) {
	srv := httptest.NewServer(&backend{})
	defer srv.Close()

	app, err := New(context.Background(), testConfig(t, srv.URL),
		WithClock(clock.NewFake(epoch)),
		WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer func() { _ = app.Stop(context.Background()) }()

	_, err = app.Publish(context.Background(), domain.StatusUpdate{MessageID: "m1", ConversationID: "c1", Status: domain.StatusRead})
	assert.ErrorIs(t, err, queue.ErrNotInitialized)
}
