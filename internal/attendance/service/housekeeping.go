package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/attendance/metrics"
	"github.com/aussiebroadwan/rollcall/internal/attendance/store"
)

const (
	DefaultHousekeepingInterval = time.Hour
	DefaultTokenRetention       = 24 * time.Hour
)

// HousekeepingService periodically deletes QR tokens that expired more than
// Retention ago. Check-ins survive with their token reference cleared.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHousekeepingService fills zero durations with the defaults.
func NewHousekeepingService(s store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	if retention < 0 {
		retention = DefaultTokenRetention
	}
	return &HousekeepingService{
		Store:     s,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		Now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started",
		"interval", s.Interval,
		"retention", s.Retention,
	)
}

// Stop waits for an in-flight cleanup to finish.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup performs one pass and returns the number of tokens deleted.
func (s *HousekeepingService) Cleanup(ctx context.Context) int64 {
	cutoff := s.Now().UTC().Add(-s.Retention)

	n, err := s.Store.QRTokens().DeleteExpiredQRTokens(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to delete expired QR tokens", "error", err)
		return 0
	}

	metrics.QRTokensPurged.Add(float64(n))
	s.Logger.Debug("housekeeping cleanup completed", "deleted_tokens", n, "cutoff", cutoff)
	return n
}
