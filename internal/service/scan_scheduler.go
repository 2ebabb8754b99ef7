package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-hr-workflows/internal/logger"
)

// ScanScheduler runs the deadline monitor's warning and overdue scans on a
// fixed cron schedule. The two scans are independent and safe to run
// concurrently with each other and with approval decisions.
type ScanScheduler struct {
	cron    *cron.Cron
	monitor *DeadlineMonitor
	log     *logger.Logger
}

// NewScanScheduler creates a scheduler running both scans at spec
// (e.g. "@hourly").
func NewScanScheduler(monitor *DeadlineMonitor, spec string, log *logger.Logger) (*ScanScheduler, error) {
	s := &ScanScheduler{
		cron:    cron.New(),
		monitor: monitor,
		log:     log,
	}

	if _, err := s.cron.AddFunc(spec, s.warningScan); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(spec, s.overdueScan); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling. Non-blocking.
func (s *ScanScheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Deadline scan scheduler started")
}

// Stop stops scheduling and waits for any running scan to finish.
func (s *ScanScheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.log.Warn().Msg("Timed out waiting for running scans to finish")
	}
	s.log.Info().Msg("Deadline scan scheduler stopped")
}

func (s *ScanScheduler) warningScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.monitor.RunWarningScan(ctx); err != nil {
		s.log.Error().Err(err).Msg("Warning scan failed")
	}
}

func (s *ScanScheduler) overdueScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.monitor.RunOverdueScan(ctx); err != nil {
		s.log.Error().Err(err).Msg("Overdue scan failed")
	}
}
