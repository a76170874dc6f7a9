package federation

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitorConfig controls the peer health probe loop.
type HealthMonitorConfig struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
}

func (c HealthMonitorConfig) withDefaults() HealthMonitorConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// HealthMonitor periodically probes every active peer's /health endpoint and
// records its reachability, the same ticker-plus-bounded-fanout shape the
// agent endpoint health checker uses.
type HealthMonitor struct {
	repo   federationRepo
	client *peerClient
	cfg    HealthMonitorConfig
	logger *zap.Logger

	mu       sync.Mutex
	snapshot map[string]HealthStatus
}

// NewHealthMonitor creates a HealthMonitor.
func NewHealthMonitor(repo federationRepo, cfg HealthMonitorConfig, logger *zap.Logger) *HealthMonitor {
	cfg = cfg.withDefaults()
	return &HealthMonitor{
		repo:     repo,
		client:   newPeerClient(cfg.ProbeTimeout),
		cfg:      cfg,
		logger:   logger,
		snapshot: make(map[string]HealthStatus),
	}
}

// Start runs the health probe loop until quit is signalled.
func (m *HealthMonitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CheckInterval-time.Second)
			m.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll probes every active peer concurrently and records the result.
func (m *HealthMonitor) CheckAll(ctx context.Context) {
	peers, err := m.repo.ListActive(ctx)
	if err != nil {
		m.logger.Error("federation health: list active peers", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)
		go func(p *FederationPeer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok, latency, probeErr := m.client.probeHealth(ctx, p.RegistryURL, m.cfg.ProbeTimeout)
			status := HealthUnreachable
			if ok {
				status = HealthHealthy
			} else if probeErr == nil {
				status = HealthDegraded
			}

			now := time.Now().UTC()
			if err := m.repo.UpdateHealth(ctx, p.PeerID, status, now); err != nil {
				m.logger.Warn("federation health: update status", zap.String("peer_id", p.PeerID), zap.Error(err))
			}

			m.mu.Lock()
			m.snapshot[p.PeerID] = status
			m.mu.Unlock()

			m.logger.Info("federation health probe",
				zap.String("peer_id", p.PeerID),
				zap.String("name", p.Name),
				zap.String("status", string(status)),
				zap.Duration("latency", latency),
			)
		}(peer)
	}

	wg.Wait()
}

// Snapshot returns the most recently observed status per peer ID.
func (m *HealthMonitor) Snapshot() map[string]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HealthStatus, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out
}
