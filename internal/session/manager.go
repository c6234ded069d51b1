package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"speech-gateway/internal/apperr"
	"speech-gateway/internal/config"
	"speech-gateway/internal/decoder"
	"speech-gateway/internal/noisefilter"
	"speech-gateway/internal/observability/logging"
	"speech-gateway/internal/observability/metrics"
	"speech-gateway/internal/vad"
)

// ManagerConfig parameterizes the Manager's capacity and idle-sweep policy,
// sourced from config.Service.
type ManagerConfig struct {
	MaxSessions     int
	IdleTTL         time.Duration
	FrameSize       int
	CallTimeout     time.Duration
	MaxFailures     int
	DecoderProvider string
}

// Manager owns the process-wide set of active sessions: it enforces the
// max-concurrent-session limit at creation, retires sessions on Close (via
// each Session's self-retire callback, avoiding a Session->Manager back
// reference per the gateway's design notes), and sweeps idle sessions in
// the background.
type Manager struct {
	cfg         ManagerConfig
	defaults    config.SessionDefaults
	vadDetector vad.Detector
	decoderNew  func(ctx context.Context) (decoder.Decoder, error)
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager constructs a Manager and starts its idle-sweep goroutine.
// decoderNew is called once per created session to obtain that session's
// decoder backend; most backends (e.g. the mock) can share a single
// instance, so a typical decoderNew just returns the same *Decoder every
// time.
func NewManager(cfg ManagerConfig, defaults config.SessionDefaults, vadDetector vad.Detector, decoderNew func(ctx context.Context) (decoder.Decoder, error), m *metrics.Metrics) *Manager {
	mgr := &Manager{
		cfg:         cfg,
		defaults:    defaults,
		vadDetector: vadDetector,
		decoderNew:  decoderNew,
		metrics:     m,
		logger:      logging.WithComponent("session.manager"),
		sessions:    make(map[string]*Session),
		stopCh:      make(chan struct{}),
	}
	mgr.startSweeper()
	return mgr
}

// Create allocates a new Session and registers it, or returns ServerBusy if
// MaxSessions is already reached (§4.7).
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordServerBusy()
		}
		return nil, apperr.New(apperr.ServerBusy, "max concurrent sessions reached")
	}
	m.mu.Unlock()

	dec, err := m.decoderNew(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	created := time.Now()
	s, err := New(Options{
		ID:              id,
		Defaults:        DefaultConfig(m.defaults),
		FrameSize:       m.cfg.FrameSize,
		VADDetector:     m.vadDetector,
		NoiseFilter:     noisefilter.NewPassThrough(),
		DecoderBackend:  dec,
		DecoderProvider: m.cfg.DecoderProvider,
		CallTimeout:     m.cfg.CallTimeout,
		MaxFailures:     m.cfg.MaxFailures,
		Metrics:         m.metrics,
		OnClose:         func() { m.retire(id, time.Since(created)) },
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSessionStart()
	}
	m.logger.Info().Str("sessionId", id).Msg("session created")
	return s, nil
}

// Get looks up an active session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// retire removes a session from the registry. Called from a Session's
// onClose callback, so it must not call back into the Session.
func (m *Manager) retire(id string, lifetime time.Duration) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordSessionEnd("closed", lifetime.Seconds())
	}
	m.logger.Info().Str("sessionId", id).Msg("session retired")
}

// Shutdown stops the idle sweeper and closes every active session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.RLock()
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.mu.RUnlock()

	for _, s := range toClose {
		s.Close()
	}
}

func (m *Manager) startSweeper() {
	if m.cfg.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.IdleTTL / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepIdle()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) sweepIdle() {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	// LastActivity and Close both take s.mu, and closing a session calls
	// back into the Manager (onClose -> retire -> m.mu.Lock()). Evaluating
	// them while still holding m.mu would order m.mu -> s.mu here and
	// s.mu -> m.mu on the close path, deadlocking against any session
	// closing concurrently. Snapshot under the lock, then work lock-free.
	now := time.Now()
	for _, s := range snapshot {
		if now.Sub(s.LastActivity()) < m.cfg.IdleTTL {
			continue
		}
		s.Close()
		if m.metrics != nil {
			m.metrics.RecordIdleSweepClosed()
		}
		m.logger.Info().Str("sessionId", s.ID()).Msg("session closed by idle sweep")
	}
}
