package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/outbox/internal/core/domain"
)

// ProbeConfig configures active reachability probing.
type ProbeConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultProbeConfig returns sensible probe settings.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		URL:      "https://www.google.com/generate_204",
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// Probe infers connectivity from local interfaces and a periodic HTTP HEAD
// against a reachability URL. It only emits when the result changes.
type Probe struct {
	hub
	cfg        ProbeConfig
	client     *http.Client
	interfaces func() ([]net.Interface, error)
	log        *slog.Logger

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithHTTPClient overrides the client used for reachability checks.
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) { p.client = c }
}

// WithInterfaces overrides interface enumeration.
func WithInterfaces(fn func() ([]net.Interface, error)) ProbeOption {
	return func(p *Probe) { p.interfaces = fn }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *Probe) { p.log = l }
}

// NewProbe creates a probe. Zero config fields fall back to defaults.
func NewProbe(cfg ProbeConfig, opts ...ProbeOption) *Probe {
	def := DefaultProbeConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	p := &Probe{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		interfaces: net.Interfaces,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins periodic probing until Stop or ctx is done.
func (p *Probe) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.Fetch(ctx); err != nil {
					p.log.Warn("Connectivity probe failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (p *Probe) Stop() {
	p.runMu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Fetch probes now, emits the result if it changed and returns it.
func (p *Probe) Fetch(ctx context.Context) (domain.ConnectivityEvent, error) {
	ifaces, err := p.interfaces()
	if err != nil {
		return domain.ConnectivityEvent{}, fmt.Errorf("failed to list interfaces: %w", err)
	}

	transport, name := detectTransport(ifaces)
	if transport == domain.TransportNone {
		ev := Disconnected()
		p.publish(ev, true)
		return ev, nil
	}

	reachable := p.reachable(ctx)
	ev := domain.ConnectivityEvent{
		IsConnected:         true,
		IsInternetReachable: &reachable,
		Type:                transport,
		Details:             domain.TransportDetails{Interface: name},
	}
	if p.publish(ev, true) {
		p.log.Debug("Connectivity changed", "transport", transport, "interface", name, "reachable", reachable)
	}
	return ev, nil
}

func (p *Probe) reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// transportRank orders transports from most to least preferred.
var transportRank = map[domain.TransportType]int{
	domain.TransportEthernet:  6,
	domain.TransportWifi:      5,
	domain.TransportCellular:  4,
	domain.TransportWimax:     3,
	domain.TransportBluetooth: 2,
	domain.TransportVPN:       1,
	domain.TransportUnknown:   0,
}

// detectTransport picks the best active non-loopback interface.
func detectTransport(ifaces []net.Interface) (domain.TransportType, string) {
	best, bestName := domain.TransportNone, ""
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		t := transportFromName(ifc.Name)
		if best == domain.TransportNone || transportRank[t] > transportRank[best] {
			best, bestName = t, ifc.Name
		}
	}
	return best, bestName
}

func transportFromName(name string) domain.TransportType {
	n := strings.ToLower(name)
	switch {
	case hasAnyPrefix(n, "eth", "en", "em"):
		return domain.TransportEthernet
	case hasAnyPrefix(n, "wlan", "wlp", "wl", "wifi", "ath"):
		return domain.TransportWifi
	case hasAnyPrefix(n, "wwan", "rmnet", "ccmni", "pdp_ip", "usb"):
		return domain.TransportCellular
	case hasAnyPrefix(n, "bnep", "bt"):
		return domain.TransportBluetooth
	case hasAnyPrefix(n, "tun", "utun", "tap", "wg", "ppp", "ipsec"):
		return domain.TransportVPN
	default:
		return domain.TransportUnknown
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
