package connectivity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/outbox/internal/core/domain"
)

func TestManual_EmitAndFetch(t *testing.T) {
	m := NewManual(Disconnected())

	var got []domain.ConnectivityEvent
	unsubscribe := m.Subscribe(func(ev domain.ConnectivityEvent) { got = append(got, ev) })

	m.Emit(Connected(domain.TransportWifi))
	m.Emit(Connected(domain.TransportWifi))
	require.Len(t, got, 2)

	ev, err := m.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TransportWifi, ev.Type)

	unsubscribe()
	m.Emit(Disconnected())
	assert.Len(t, got, 2)
	assert.Equal(t, 0, m.Subscribers())
}

func TestDetectTransport(t *testing.T) {
	up := net.FlagUp | net.FlagRunning
	tests := []struct {
		name      string
		ifaces    []net.Interface
		want      domain.TransportType
		wantIface string
	}{
		{"none", nil, domain.TransportNone, ""},
		{"loopback only", []net.Interface{{Name: "lo", Flags: up | net.FlagLoopback}}, domain.TransportNone, ""},
		{"down ethernet", []net.Interface{{Name: "eth0"}}, domain.TransportNone, ""},
		{"wifi", []net.Interface{{Name: "wlan0", Flags: up}}, domain.TransportWifi, "wlan0"},
		{"prefers ethernet", []net.Interface{{Name: "wlan0", Flags: up}, {Name: "eth0", Flags: up}}, domain.TransportEthernet, "eth0"},
		{"cellular over vpn", []net.Interface{{Name: "tun0", Flags: up}, {Name: "rmnet0", Flags: up}}, domain.TransportCellular, "rmnet0"},
		{"unknown", []net.Interface{{Name: "xyz1", Flags: up}}, domain.TransportUnknown, "xyz1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, iface := detectTransport(tt.ifaces)
			if got != tt.want || iface != tt.wantIface {
				t.Errorf("detectTransport() = %v/%q, want %v/%q", got, iface, tt.want, tt.wantIface)
			}
		})
	}
}

func TestProbe_FetchEmitsOnChange(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}))
	defer srv.Close()

	ifaces := []net.Interface{{Name: "wlan0", Flags: net.FlagUp}}
	p := NewProbe(ProbeConfig{URL: srv.URL, Timeout: time.Second},
		WithInterfaces(func() ([]net.Interface, error) { return ifaces, nil }),
		WithProbeLogger(slog.New(slog.DiscardHandler)))

	var events []domain.ConnectivityEvent
	p.Subscribe(func(ev domain.ConnectivityEvent) { events = append(events, ev) })

	ctx := context.Background()
	ev, err := p.Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, ev.IsConnected)
	require.NotNil(t, ev.IsInternetReachable)
	assert.True(t, *ev.IsInternetReachable)
	assert.Equal(t, domain.TransportWifi, ev.Type)
	assert.Equal(t, "wlan0", ev.Details.Interface)

	_, err = p.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	mu.Lock()
	status = http.StatusServiceUnavailable
	mu.Unlock()
	ev, err = p.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, *ev.IsInternetReachable)
	assert.Len(t, events, 2)

	ifaces = nil
	ev, err = p.Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, ev.IsConnected)
	assert.Len(t, events, 3)
}

func TestProbe_StartStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewProbe(ProbeConfig{URL: srv.URL, Interval: 10 * time.Millisecond},
		WithInterfaces(func() ([]net.Interface, error) {
			return []net.Interface{{Name: "eth0", Flags: net.FlagUp}}, nil
		}),
		WithProbeLogger(slog.New(slog.DiscardHandler)))

	received := make(chan domain.ConnectivityEvent, 1)
	p.Subscribe(func(ev domain.ConnectivityEvent) {
		select {
		case received <- ev:
		default:
		}
	})

	p.Start(context.Background())
	defer p.Stop()

	select {
	case ev := <-received:
		assert.Equal(t, domain.TransportEthernet, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not emit")
	}
}

func TestFileSource_WatchesStatusFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"is_connected":false}`), 0o644))

	src := NewFileSource(path, slog.New(slog.DiscardHandler))
	ev, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, ev.IsConnected)
	assert.Equal(t, domain.TransportNone, ev.Type)

	received := make(chan domain.ConnectivityEvent, 4)
	src.Subscribe(func(ev domain.ConnectivityEvent) { received <- ev })

	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	status := `{"is_connected":true,"is_internet_reachable":true,"type":"cellular","details":{"cellular_generation":"4g"}}`
	require.NoError(t, os.WriteFile(path, []byte(status), 0o644))

	select {
	case ev := <-received:
		assert.True(t, ev.IsConnected)
		assert.Equal(t, domain.TransportCellular, ev.Type)
		assert.Equal(t, "4g", ev.Details.CellularGeneration)
	case <-time.After(3 * time.Second):
		t.Fatal("file change was not observed")
	}
}

func TestFileSource_MissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.json"), nil)
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrStatusFileMissing)
}
