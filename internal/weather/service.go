package weather

import (
	"context"

	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/observability"
)

// Service orchestrates the primary and secondary providers according to a
// FallbackMode. It holds no mutable state and never returns an error: provider
// failures are logged and degrade to an empty contribution.
type Service struct {
	mode      FallbackMode
	primary   Provider
	secondary Provider
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewService creates a new Service. Either provider may be nil; a mode that
// needs a missing provider is reported once here and yields empty results.
func NewService(mode FallbackMode, primary, secondary Provider, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("mode", string(mode)))

	if (mode == ModePrimary || mode == ModeBoth) && primary == nil {
		logger.Warn("fallback mode requires the primary provider, but none is configured")
	}
	if (mode == ModeSecondary || mode == ModeBoth) && secondary == nil {
		logger.Warn("fallback mode requires the secondary provider, but none is configured")
	}
	if primary != nil {
		logger.Info("primary provider initialised", zap.String("provider", primary.Name()))
	}
	if secondary != nil {
		logger.Info("secondary provider initialised", zap.String("provider", secondary.Name()))
	}

	return &Service{
		mode:      mode,
		primary:   primary,
		secondary: secondary,
		logger:    logger,
		metrics:   metrics,
	}
}

// Mode returns the configured fallback mode.
func (s *Service) Mode() FallbackMode {
	return s.mode
}

// Daily returns daily records for q.
func (s *Service) Daily(ctx context.Context, q Query) []Record {
	return s.run("daily", q.Latitude, q.Longitude, func(p Provider) ([]Record, error) {
		return p.Daily(ctx, q)
	})
}

// Monthly returns monthly records for q.
func (s *Service) Monthly(ctx context.Context, q Query) []Record {
	return s.run("monthly", q.Latitude, q.Longitude, func(p Provider) ([]Record, error) {
		return p.Monthly(ctx, q)
	})
}

// Historical returns daily records covering the last years years.
func (s *Service) Historical(ctx context.Context, latitude, longitude float64, years int) []Record {
	return s.run("historical", latitude, longitude, func(p Provider) ([]Record, error) {
		return p.Historical(ctx, latitude, longitude, years)
	})
}

type providerCall func(p Provider) ([]Record, error)

func (s *Service) run(query string, lat, lon float64, call providerCall) []Record {
	logger := s.logger.With(
		zap.String("query", query),
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lon),
	)

	var result []Record
	switch s.mode {
	case ModeBoth:
		primary := s.attempt(logger, s.primary, call)
		secondary := s.attempt(logger, s.secondary, call)
		result = make([]Record, 0, len(primary)+len(secondary))
		result = append(result, tag(primary, OriginPrimary)...)
		result = append(result, tag(secondary, OriginSecondary)...)

	case ModePrimary:
		if records := s.attempt(logger, s.primary, call); len(records) > 0 {
			result = tag(records, OriginPrimary)
			break
		}
		if s.secondary != nil {
			logger.Info("primary provider returned nothing; falling back to secondary")
		}
		result = tag(s.attempt(logger, s.secondary, call), OriginSecondaryFallback)

	case ModeSecondary:
		result = tag(s.attempt(logger, s.secondary, call), OriginSecondary)

	default:
		logger.Error("unknown fallback mode")
	}

	if len(result) == 0 {
		logger.Warn("no climate data obtained for location")
		if s.metrics != nil {
			s.metrics.EmptyResults.WithLabelValues(query).Inc()
		}
		return []Record{}
	}

	if s.metrics != nil {
		for _, r := range result {
			s.metrics.RecordsByOrigin.WithLabelValues(string(r.Origin)).Inc()
		}
	}
	return result
}

// attempt calls p and converts an error into an empty contribution.
func (s *Service) attempt(logger *zap.Logger, p Provider, call providerCall) []Record {
	if p == nil {
		return nil
	}
	records, err := call(p)
	if err != nil {
		logger.Error("provider call failed", zap.String("provider", p.Name()), zap.Error(err))
		return nil
	}
	return records
}

func tag(records []Record, origin Origin) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Origin = origin
		out[i] = r
	}
	return out
}
