package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// healthCheckInterval defines interval between endpoint health checks.
	healthCheckInterval = 30 * time.Second
	// healthCheckTimeout defines timeout for a single health check call.
	healthCheckTimeout = 5 * time.Second
)

// HealthMonitor periodically probes every endpoint in the pool and flips its
// health flag so the rotation skips endpoints that are down. A failed
// endpoint therefore never blocks subsequent calls to healthy ones.
type HealthMonitor struct {
	pool         *Pool
	logger       *logrus.Logger
	stopChan     chan struct{}
	isMonitoring bool
	monitorMutex sync.Mutex
}

// NewHealthMonitor creates a health monitor for the pool's endpoints.
func NewHealthMonitor(pool *Pool, logger *logrus.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start starts endpoint monitoring.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.monitorMutex.Lock()
	if m.isMonitoring {
		m.monitorMutex.Unlock()
		return errors.New("endpoint health monitor is already running")
	}
	m.isMonitoring = true
	m.monitorMutex.Unlock()

	go m.monitorEndpoints(ctx)
	return nil
}

// Stop stops endpoint monitoring.
func (m *HealthMonitor) Stop() {
	m.monitorMutex.Lock()
	defer m.monitorMutex.Unlock()

	if !m.isMonitoring {
		return
	}

	close(m.stopChan)
	m.isMonitoring = false
}

func (m *HealthMonitor) monitorEndpoints(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Endpoint health monitoring stopped due to context cancellation")
			return

		case <-m.stopChan:
			m.logger.Info("Endpoint health monitoring stopped")
			return

		case <-ticker.C:
			m.checkEndpoints(ctx)
		}
	}
}

// checkEndpoints probes every endpoint with a cheap block number call and
// updates its health flag.
func (m *HealthMonitor) checkEndpoints(ctx context.Context) {
	for chainID, set := range m.pool.chains {
		for _, ep := range set.endpoints {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			_, err := ep.client.BlockNumber(checkCtx)
			cancel()

			wasHealthy := ep.healthy.Load()
			ep.healthy.Store(err == nil)

			if err != nil && wasHealthy {
				m.logger.WithFields(logrus.Fields{
					"chainId":  chainID,
					"endpoint": ep.url,
				}).WithError(err).Warn("RPC endpoint marked unhealthy")
			}
			if err == nil && !wasHealthy {
				m.logger.WithFields(logrus.Fields{
					"chainId":  chainID,
					"endpoint": ep.url,
				}).Info("RPC endpoint recovered")
			}
		}
	}
}
