package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor probes the central server's health endpoint and reports
// online/offline transitions. It is the narrow connectivity surface the
// optimistic engine consumes, so the engine never touches the network
// environment directly.
type Monitor struct {
	healthURL  string
	interval   time.Duration
	httpClient *http.Client
	onChange   func(online bool)
	logger     *zap.Logger

	mu     sync.RWMutex
	online bool
}

func NewMonitor(baseURL string, interval time.Duration, onChange func(online bool), logger *zap.Logger) *Monitor {
	return &Monitor{
		healthURL: strings.TrimRight(baseURL, "/") + "/health",
		interval:  interval,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		onChange: onChange,
		logger:   logger,
	}
}

// Run probes immediately and then on every interval tick until the context
// is cancelled. Transitions are delivered on the caller's goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) check(ctx context.Context) {
	online := m.probe(ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Info("connectivity restored", zap.String("health_url", m.healthURL))
	} else {
		m.logger.Warn("connectivity lost", zap.String("health_url", m.healthURL))
	}
	if m.onChange != nil {
		m.onChange(online)
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthURL, nil)
	if err != nil {
		return false
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
