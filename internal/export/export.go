package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/i474232898/climate-data-collector/internal/observability"
	"github.com/i474232898/climate-data-collector/internal/processing"
)

// Format selects the file writer.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
)

// Layout decides whether locations share an output file.
type Layout string

const (
	LayoutSeparate Layout = "separate"
	LayoutCombined Layout = "combined"
)

const combinedName = "all_locations"

var ErrUnknownFormat = errors.New("unknown output format")

// Batch is the processed output of one location.
type Batch struct {
	Location string
	Rows     []processing.Row
}

// Exporter writes processed rows to files and returns the paths written.
type Exporter interface {
	Export(ctx context.Context, rows []processing.Row, location string, kind processing.Kind) ([]string, error)
	ExportAll(ctx context.Context, batches []Batch, kind processing.Kind) ([]string, error)
}

// locatedRow is a row tagged with the location it was collected for.
type locatedRow struct {
	Location string `json:"location,omitempty"`
	processing.Row
}

type writer interface {
	extension() string
	write(ctx context.Context, path string, rows []locatedRow) error
}

// FileExporter writes one file per location or one combined file per kind.
type FileExporter struct {
	format  Format
	dir     string
	layout  Layout
	writer  writer
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates the exporter for format and makes sure dir exists.
func New(format Format, dir string, layout Layout, logger *zap.Logger, metrics *observability.Metrics) (*FileExporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var w writer
	switch Format(strings.ToLower(string(format))) {
	case FormatCSV, "":
		format, w = FormatCSV, csvWriter{}
	case FormatJSON:
		format, w = FormatJSON, jsonWriter{}
	case FormatSQLite:
		format, w = FormatSQLite, sqliteWriter{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if layout != LayoutCombined {
		layout = LayoutSeparate
	}
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	logger.Info("exporter initialised",
		zap.String("format", string(format)),
		zap.String("layout", string(layout)),
		zap.String("dir", dir),
	)
	return &FileExporter{
		format:  format,
		dir:     dir,
		layout:  layout,
		writer:  w,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Export writes rows for a single location. No file is written for an empty slice.
func (e *FileExporter) Export(ctx context.Context, rows []processing.Row, location string, kind processing.Kind) ([]string, error) {
	if len(rows) == 0 {
		e.logger.Warn("nothing to export", zap.String("location", location))
		return []string{}, nil
	}

	located := make([]locatedRow, len(rows))
	for i, r := range rows {
		located[i] = locatedRow{Row: r}
	}
	path := e.Path(location, kind)
	if err := e.write(ctx, path, located, kind); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// ExportAll writes every batch following the configured layout.
func (e *FileExporter) ExportAll(ctx context.Context, batches []Batch, kind processing.Kind) ([]string, error) {
	if e.layout == LayoutSeparate {
		files := []string{}
		for _, b := range batches {
			written, err := e.Export(ctx, b.Rows, b.Location, kind)
			if err != nil {
				return files, fmt.Errorf("export %s: %w", b.Location, err)
			}
			files = append(files, written...)
		}
		return files, nil
	}

	var combined []locatedRow
	for _, b := range batches {
		for _, r := range b.Rows {
			combined = append(combined, locatedRow{Location: b.Location, Row: r})
		}
	}
	if len(combined) == 0 {
		e.logger.Warn("nothing to export")
		return []string{}, nil
	}

	path := e.Path(combinedName, kind)
	if err := e.write(ctx, path, combined, kind); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// Path returns the output file for location and kind.
func (e *FileExporter) Path(location string, kind processing.Kind) string {
	return filepath.Join(e.dir, FileName(location, kind, e.writer.extension()))
}

// FileName builds clima_<location>_<kind>.<ext> with the location lowercased
// and spaces or hyphens replaced by underscores.
func FileName(location string, kind processing.Kind, ext string) string {
	name := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(location)))
	return fmt.Sprintf("clima_%s_%s.%s", name, kind, ext)
}

func (e *FileExporter) write(ctx context.Context, path string, rows []locatedRow, kind processing.Kind) error {
	if err := e.writer.write(ctx, path, rows); err != nil {
		e.logger.Error("export failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("write %s: %w", path, err)
	}
	if e.metrics != nil {
		e.metrics.RecordsExported.WithLabelValues(string(kind), string(e.format)).Add(float64(len(rows)))
	}
	e.logger.Info("records exported",
		zap.String("path", path),
		zap.Int("records", len(rows)),
	)
	return nil
}
