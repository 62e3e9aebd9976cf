package vectorcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectorcached/internal/scope"
)

// ScannerConfig configures periodic background integrity scanning.
type ScannerConfig struct {
	// Interval between sweeps. Default: 5 minutes.
	Interval time.Duration

	// OnCorruption is called for every unhealthy report, each sweep, so a
	// remediation step that failed gets another chance on the next sweep.
	OnCorruption func(key scope.Key, report *IntegrityReport)

	// OnRecovered is called once when a previously unhealthy scope scans
	// clean again.
	OnRecovered func(key scope.Key, report *IntegrityReport)

	// OnError is called when a scan fails outright.
	OnError func(key scope.Key, err error)
}

// StoreSource supplies the stores to sweep. Called once per sweep so the
// scanner follows scopes as they come and go.
type StoreSource func() []*Store

// BackgroundScanner periodically runs the integrity checker over every store
// a source yields, tracking health transitions per scope.
type BackgroundScanner struct {
	checker *IntegrityChecker
	source  StoreSource
	config  *ScannerConfig
	logger  *zap.Logger

	mu          sync.RWMutex
	lastReports map[scope.Key]*IntegrityReport
	running     bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBackgroundScanner creates a scanner over the given source.
func NewBackgroundScanner(checker *IntegrityChecker, source StoreSource, config *ScannerConfig, logger *zap.Logger) *BackgroundScanner {
	if config == nil {
		config = &ScannerConfig{}
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackgroundScanner{
		checker:     checker,
		source:      source,
		config:      config,
		logger:      logger,
		lastReports: make(map[scope.Key]*IntegrityReport),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins periodic scanning. Returns immediately; sweeps happen in a
// goroutine.
func (s *BackgroundScanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting background integrity scanner",
		zap.Duration("interval", s.config.Interval))

	go s.run(ctx)
}

// Stop halts the scanner and waits for the in-flight sweep to finish.
func (s *BackgroundScanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Info("stopping background integrity scanner")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning reports whether the scanner is active.
func (s *BackgroundScanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastReport returns the most recent report for the scope, if any.
func (s *BackgroundScanner) LastReport(key scope.Key) (*IntegrityReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastReports[key]
	return r, ok
}

func (s *BackgroundScanner) run(ctx context.Context) {
	defer close(s.doneCh)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background scanner stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("background scanner stopped: stop requested")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep scans every current store once.
func (s *BackgroundScanner) sweep(ctx context.Context) {
	stores := s.source()
	s.logger.Debug("running integrity sweep", zap.Int("stores", len(stores)))

	seen := make(map[scope.Key]struct{}, len(stores))
	for _, store := range stores {
		key := store.Scope()
		seen[key] = struct{}{}

		report, err := s.checker.Scan(ctx, store)
		if err != nil {
			s.logger.Error("integrity scan failed",
				zap.String("scope", key.String()), zap.Error(err))
			if s.config.OnError != nil {
				s.config.OnError(key, err)
			}
			continue
		}

		s.mu.Lock()
		previous := s.lastReports[key]
		s.lastReports[key] = report
		s.mu.Unlock()

		wasHealthy := previous == nil || previous.IsHealthy()
		isHealthy := report.IsHealthy()

		switch {
		case !isHealthy:
			if wasHealthy {
				s.logger.Warn("scope entered degraded state",
					zap.String("scope", key.String()),
					zap.String("status", report.Status()),
					zap.Int("affected", report.Affected))
			}
			if s.config.OnCorruption != nil {
				s.config.OnCorruption(key, report)
			}
		case !wasHealthy:
			s.logger.Info("scope recovered to healthy state",
				zap.String("scope", key.String()),
				zap.Int("total", report.Total))
			if s.config.OnRecovered != nil {
				s.config.OnRecovered(key, report)
			}
		}
	}

	// Forget scopes that disappeared so a future scope reusing the key
	// starts from a clean slate.
	s.mu.Lock()
	for key := range s.lastReports {
		if _, ok := seen[key]; !ok {
			delete(s.lastReports, key)
		}
	}
	s.mu.Unlock()
}
