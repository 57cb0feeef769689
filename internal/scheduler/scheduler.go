package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"hometrack/server/config"
	"hometrack/server/internal/archive"
	"hometrack/server/internal/rollup"
)

// Scheduler manages the periodic aggregation run and archival sweep. The
// sweep runs on every aggregation cycle as a consistency pass, catching
// cascades the immediate trigger missed; archive cleanup runs once a day.
type Scheduler struct {
	aggregator *rollup.Aggregator
	engine     *archive.Engine
	cfg        *config.Config
	logger     *logrus.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	jobMutex   sync.Mutex // Ensures sequential job execution
}

// NewScheduler creates a new scheduler.
func NewScheduler(aggregator *rollup.Aggregator, engine *archive.Engine, cfg *config.Config, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		aggregator: aggregator,
		engine:     engine,
		cfg:        cfg,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the scheduled tasks.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	// Run a full cycle at startup so the rollups reflect the current
	// ledgers before the first tick.
	go func() {
		s.jobMutex.Lock()
		defer s.jobMutex.Unlock()
		s.logger.Info("Running startup aggregation cycle")
		s.runCycle()
		s.logger.Info("Startup aggregation cycle completed")
	}()

	interval := time.Duration(s.cfg.Aggregation.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.jobMutex.Lock()
			s.runCycle()
			s.jobMutex.Unlock()
		case <-cleanupTicker.C:
			s.jobMutex.Lock()
			s.runCleanup()
			s.jobMutex.Unlock()
		}
	}
}

// runCycle executes sweep-then-aggregate. The sweep goes first so freshly
// cascaded entities already count as archived in the rollups.
func (s *Scheduler) runCycle() {
	ctx := context.Background()

	result, err := s.engine.RunSweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Archival sweep failed")
	} else if result.Attempted > 0 {
		s.logger.WithFields(logrus.Fields{
			"attempted": result.Attempted,
			"archived":  result.Archived,
			"failed":    len(result.FailedIDs),
		}).Info("Archival sweep completed")
	}

	regions, err := s.aggregator.RunAggregation(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Aggregation run failed")
		return
	}
	s.logger.WithField("regions", regions).Info("Aggregation run completed")
}

func (s *Scheduler) runCleanup() {
	removed, err := s.engine.CleanupArchived(s.cfg.Archive.RetentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Archive cleanup failed")
		return
	}
	s.logger.WithField("removed", removed).Info("Archive cleanup completed")
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
