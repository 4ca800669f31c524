// Package gateway keeps one venue session per account, each holding its own
// client ID, with LRU eviction and a circuit breaker on failing sessions.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/monitor"
	"execution-core/pkg/venue"
)

var (
	ErrSessionUnhealthy = errors.New("venue session is unhealthy")
	ErrPoolFull         = errors.New("venue session pool is full")
	ErrManagerStopped   = errors.New("venue session pool stopped")
)

// Allocator hands out client IDs.
type Allocator interface {
	Allocate(ctx context.Context, requested int) (int, error)
	Release(ctx context.Context, id int) error
}

// CachedSession holds a session with metadata for lifecycle management.
type CachedSession struct {
	Session   venue.Session
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum number of sessions (LRU eviction)
	IdleTimeout      time.Duration // Time before an idle session is closed
	HealthInterval   time.Duration // Interval between pings
	FailureThreshold int           // Failures before the session is unhealthy
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy session
	// RequestedClientID is tried for the first session; 0 allocates.
	RequestedClientID int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          8,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   2 * time.Minute,
	}
}

// Manager is a pool of venue sessions keyed by account.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*CachedSession // account -> session
	lruOrder []string                  // oldest first
	stopped  bool

	config    Config
	allocator Allocator
	factory   Factory
	log       *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(allocator Allocator, factory Factory, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &Manager{
		sessions:  make(map[string]*CachedSession),
		config:    cfg,
		allocator: allocator,
		factory:   factory,
		log:       log.Named("sessions"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins background idle cleanup and health checks.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.cleanupIdle()
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop closes every session and releases its client ID.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	var closed []*CachedSession
	for account, cached := range m.sessions {
		closed = append(closed, cached)
		delete(m.sessions, account)
	}
	m.lruOrder = nil
	m.mu.Unlock()

	for _, cached := range closed {
		m.closeSession(cached)
	}
	m.publishStats()
}

// Acquire returns the session for account, opening one if needed.
func (m *Manager) Acquire(ctx context.Context, account string) (venue.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return venue.Session{}, ErrManagerStopped
	}

	if cached, ok := m.sessions[account]; ok {
		if cached.Failures >= m.config.FailureThreshold && time.Since(cached.HealthyAt) < m.config.CircuitTimeout {
			return venue.Session{}, fmt.Errorf("%w: %s", ErrSessionUnhealthy, account)
		}
		m.touchLRULocked(account)
		return cached.Session, nil
	}

	if len(m.sessions) >= m.config.MaxSize && !m.evictOldestLocked() {
		return venue.Session{}, ErrPoolFull
	}

	requested := 0
	if len(m.sessions) == 0 {
		requested = m.config.RequestedClientID
	}
	clientID, err := m.allocator.Allocate(ctx, requested)
	if err != nil {
		return venue.Session{}, fmt.Errorf("allocate client id: %w", err)
	}
	v, err := m.factory(account, clientID)
	if err != nil {
		if rerr := m.allocator.Release(ctx, clientID); rerr != nil {
			m.log.Warn("release client id after failed open", zap.Int("client_id", clientID), zap.Error(rerr))
		}
		return venue.Session{}, fmt.Errorf("open session: %w", err)
	}

	now := time.Now()
	s := venue.Session{Venue: v, Account: account, ClientID: clientID}
	m.sessions[account] = &CachedSession{Session: s, CreatedAt: now, LastUsed: now, HealthyAt: now}
	m.lruOrder = append(m.lruOrder, account)
	m.log.Info("session opened", zap.String("account", account), zap.Int("client_id", clientID))
	m.publishStatsLocked()
	return s, nil
}

// Report feeds the circuit breaker. Venue rejections and lookups that found
// nothing say nothing about session health.
func (m *Manager) Report(account string, err error) {
	switch {
	case err == nil:
		m.RecordSuccess(account)
	case countsAsFailure(err):
		m.RecordFailure(account)
	}
}

func countsAsFailure(err error) bool {
	if venue.IsTimeout(err) {
		return true
	}
	for _, benign := range []error{venue.ErrVenueRejected, venue.ErrContractNotFound, venue.ErrAmbiguousContract, venue.ErrNoHistoricalData, context.Canceled} {
		if errors.Is(err, benign) {
			return false
		}
	}
	return true
}

// Remove closes the session of one account.
func (m *Manager) Remove(account string) {
	m.mu.Lock()
	cached, ok := m.sessions[account]
	if ok {
		delete(m.sessions, account)
		m.removeLRULocked(account)
	}
	m.publishStatsLocked()
	m.mu.Unlock()
	if ok {
		m.closeSession(cached)
	}
}

// RecordFailure records a failure for a session.
func (m *Manager) RecordFailure(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.sessions[account]; ok {
		cached.Failures++
		if cached.Failures == m.config.FailureThreshold {
			m.log.Warn("session unhealthy", zap.String("account", account), zap.Int("client_id", cached.Session.ClientID))
		}
	}
	m.publishStatsLocked()
}

// RecordSuccess resets the failure counter.
func (m *Manager) RecordSuccess(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.sessions[account]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
	m.publishStatsLocked()
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() PoolStats {
	stats := PoolStats{
		TotalSessions: len(m.sessions),
		MaxSize:       m.config.MaxSize,
		ClientIDs:     make(map[string]int, len(m.sessions)),
	}
	for account, cached := range m.sessions {
		stats.ClientIDs[account] = cached.Session.ClientID
		if cached.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// PoolStats contains session pool statistics.
type PoolStats struct {
	TotalSessions  int            `json:"total_sessions"`
	MaxSize        int            `json:"max_size"`
	UnhealthyCount int            `json:"unhealthy_count"`
	ClientIDs      map[string]int `json:"client_ids"`
}

// --- Internal helpers ---

func (m *Manager) publishStats() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.publishStatsLocked()
}

func (m *Manager) publishStatsLocked() {
	stats := m.statsLocked()
	ids := make([]int, 0, len(stats.ClientIDs))
	for _, id := range stats.ClientIDs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	monitor.Default.SetSessionStats(stats.TotalSessions, stats.UnhealthyCount, ids)
}

func (m *Manager) closeSession(cached *CachedSession) {
	if closer, ok := cached.Session.Venue.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.allocator.Release(ctx, cached.Session.ClientID); err != nil {
		m.log.Warn("release client id", zap.Int("client_id", cached.Session.ClientID), zap.Error(err))
	}
	m.log.Info("session closed", zap.String("account", cached.Session.Account), zap.Int("client_id", cached.Session.ClientID))
}

func (m *Manager) touchLRULocked(account string) {
	if cached, ok := m.sessions[account]; ok {
		cached.LastUsed = time.Now()
	}
	for i, id := range m.lruOrder {
		if id == account {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, account)
			break
		}
	}
}

func (m *Manager) removeLRULocked(account string) {
	for i, id := range m.lruOrder {
		if id == account {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

// evictOldestLocked closes the least recently used session. The client ID
// release happens in the background so Acquire does not hold the lock
// across a database write.
func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	oldest := m.lruOrder[0]
	m.lruOrder = m.lruOrder[1:]
	if cached, ok := m.sessions[oldest]; ok {
		delete(m.sessions, oldest)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.closeSession(cached)
		}()
	}
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	now := time.Now()
	var idle []*CachedSession
	for account, cached := range m.sessions {
		if now.Sub(cached.LastUsed) > m.config.IdleTimeout {
			idle = append(idle, cached)
			delete(m.sessions, account)
			m.removeLRULocked(account)
		}
	}
	m.publishStatsLocked()
	m.mu.Unlock()

	for _, cached := range idle {
		m.closeSession(cached)
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	accounts := make([]string, 0, len(m.sessions))
	for account := range m.sessions {
		accounts = append(accounts, account)
	}
	m.mu.RUnlock()

	for _, account := range accounts {
		m.healthCheck(ctx, account)
	}
}

func (m *Manager) healthCheck(ctx context.Context, account string) {
	m.mu.RLock()
	cached, ok := m.sessions[account]
	if !ok {
		m.mu.RUnlock()
		return
	}
	v := cached.Session.Venue
	m.mu.RUnlock()

	if pinger, ok := v.(venue.Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := pinger.Ping(pctx)
		cancel()
		if err != nil {
			m.log.Warn("session ping failed", zap.String("account", account), zap.Error(err))
			m.RecordFailure(account)
		} else {
			m.RecordSuccess(account)
		}
	}
}
