package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/collector"
	"github.com/i474232898/climate-data-collector/internal/processing"
)

const defaultInterval = 6 * time.Hour

// Runner executes one collection run.
type Runner interface {
	Run(ctx context.Context, kind processing.Kind) (collector.RunSummary, error)
}

// Scheduler periodically runs collections for the configured kinds.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	kinds     []processing.Kind
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a new Scheduler. Kinds run one after another on every tick.
func New(runner Runner, interval time.Duration, kinds []processing.Kind, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		kinds:     kinds,
		interval:  interval,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately. Runs are bounded by ctx and by the interval.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.kinds) == 0 {
		s.logger.Warn("no collection kinds configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.tick(ctx)
	})
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, kind := range s.kinds {
		if ctx.Err() != nil {
			return
		}

		runCtx, cancel := context.WithTimeout(ctx, s.interval)
		summary, err := s.runner.Run(runCtx, kind)
		cancel()

		if err != nil {
			s.logger.Error("scheduled collection failed", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled collection completed",
			zap.String("kind", string(kind)),
			zap.String("run_id", summary.RunID),
			zap.Int("records", summary.Records),
		)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
