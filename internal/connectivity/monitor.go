// Package connectivity reports whether the remote backend is reachable.
// The host's own network flag is not trusted; reachability is confirmed
// with a periodic lightweight probe against the remote health endpoint.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lapakku/backend/internal/metrics"
)

type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	log      *zap.Logger

	online atomic.Bool

	mu   sync.Mutex
	subs []chan bool
}

func New(probeURL string, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe returns a channel receiving the new state on every
// online/offline transition. Slow receivers miss intermediate
// transitions rather than blocking the monitor.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// CheckNow probes immediately and updates the signal.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	online := m.probe(ctx)
	m.set(online)
	return online
}

// Run probes on a fixed interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		metrics.ProbeCounter.WithLabelValues("unreachable").Inc()
		return false
	}
	defer resp.Body.Close()

	reachable := resp.StatusCode < 500
	if reachable {
		metrics.ProbeCounter.WithLabelValues("ok").Inc()
	} else {
		metrics.ProbeCounter.WithLabelValues("error").Inc()
	}
	return reachable
}

func (m *Monitor) set(online bool) {
	previous := m.online.Swap(online)
	if previous == online {
		return
	}

	if online {
		m.log.Info("remote reachable, going online")
	} else {
		m.log.Warn("remote unreachable, going offline")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}
