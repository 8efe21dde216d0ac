package collector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/export"
	"github.com/i474232898/climate-data-collector/internal/observability"
	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/store"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

const dailyWindowDays = 7

// Source is the subset of weather.Service the collector needs.
type Source interface {
	Daily(ctx context.Context, q weather.Query) []weather.Record
	Monthly(ctx context.Context, q weather.Query) []weather.Record
	Historical(ctx context.Context, latitude, longitude float64, years int) []weather.Record
}

// Config wires a Collector. Exporter and Store are optional.
type Config struct {
	Locations []weather.Location
	// Years is the historical window; non-positive values mean 5.
	Years     int
	Processor *processing.Processor
	Exporter  export.Exporter
	Store     *store.MemoryStore
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// RunSummary describes one completed run.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Kind      processing.Kind `json:"kind"`
	Locations int             `json:"locations"`
	Records   int             `json:"records"`
	Files     []string        `json:"files"`
	Duration  time.Duration   `json:"duration"`
}

// Collector runs the collect, process and export pipeline over every
// configured location.
type Collector struct {
	source    Source
	locations []weather.Location
	years     int
	processor *processing.Processor
	exporter  export.Exporter
	store     *store.MemoryStore
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func New(source Source, cfg Config) *Collector {
	if cfg.Years <= 0 {
		cfg.Years = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Processor == nil {
		cfg.Processor = processing.NewProcessor(processing.Options{}, cfg.Logger)
	}
	return &Collector{
		source:    source,
		locations: cfg.Locations,
		years:     cfg.Years,
		processor: cfg.Processor,
		exporter:  cfg.Exporter,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Run collects kind for every location. Locations that yield nothing are
// skipped; only context cancellation and export errors abort the run.
func (c *Collector) Run(ctx context.Context, kind processing.Kind) (summary RunSummary, err error) {
	summary = RunSummary{
		RunID: uuid.NewString(),
		Kind:  kind,
		Files: []string{},
	}
	logger := c.logger.With(zap.String("run_id", summary.RunID), zap.String("kind", string(kind)))
	start := c.clock.Now()
	defer func() {
		summary.Duration = c.clock.Since(start)
		if c.metrics != nil {
			c.metrics.RunDuration.WithLabelValues(string(kind)).Observe(summary.Duration.Seconds())
		}
	}()

	logger.Info("collection run started", zap.Int("locations", len(c.locations)))

	var batches []export.Batch
	for _, loc := range c.locations {
		if err = ctx.Err(); err != nil {
			return summary, err
		}

		locLogger := logger.With(zap.String("location", loc.Name))
		records := c.collect(ctx, loc, kind)
		if len(records) == 0 {
			locLogger.Warn("no climate data found for location")
			continue
		}

		rows := c.processor.Process(records, kind)
		if len(rows) == 0 {
			locLogger.Warn("no records left after processing")
			continue
		}
		locLogger.Info("location collected", zap.Int("records", len(rows)))

		if c.store != nil {
			c.store.Save(store.Snapshot{
				RunID:       summary.RunID,
				Kind:        kind,
				Location:    loc,
				CollectedAt: c.clock.Now(),
				Rows:        rows,
			})
		}
		batches = append(batches, export.Batch{Location: loc.Name, Rows: rows})
		summary.Locations++
		summary.Records += len(rows)
	}

	if c.exporter != nil && len(batches) > 0 {
		files, err := c.exporter.ExportAll(ctx, batches, kind)
		summary.Files = append(summary.Files, files...)
		if err != nil {
			logger.Error("export failed", zap.Error(err))
			return summary, err
		}
	}

	logger.Info("collection run finished",
		zap.Int("locations_with_data", summary.Locations),
		zap.Int("records", summary.Records),
		zap.Strings("files", summary.Files),
	)
	return summary, nil
}

func (c *Collector) collect(ctx context.Context, loc weather.Location, kind processing.Kind) []weather.Record {
	switch kind {
	case processing.KindMonthly:
		return c.source.Monthly(ctx, weather.Query{Latitude: loc.Latitude, Longitude: loc.Longitude})
	case processing.KindHistorical:
		return c.source.Historical(ctx, loc.Latitude, loc.Longitude, c.years)
	default:
		today := weather.Today(c.clock)
		return c.source.Daily(ctx, weather.Query{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Start:     today.AddDays(-dailyWindowDays),
			End:       today,
		})
	}
}
