package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/store"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

const defaultYears = 5

var validate = validator.New()

// Source answers climate queries; *weather.Service implements it.
type Source interface {
	Daily(ctx context.Context, q weather.Query) []weather.Record
	Monthly(ctx context.Context, q weather.Query) []weather.Record
	Historical(ctx context.Context, latitude, longitude float64, years int) []weather.Record
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. snapshots may be
// nil, in which case the latest and history endpoints are not registered.
func RegisterRoutes(app *fiber.App, source Source, snapshots *store.MemoryStore) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1/climate")

	v1.Get("/daily", func(c *fiber.Ctx) error {
		q, err := parseWindowQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return respond(c, source.Daily(c.UserContext(), q))
	})

	v1.Get("/monthly", func(c *fiber.Ctx) error {
		q, err := parseWindowQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return respond(c, source.Monthly(c.UserContext(), q))
	})

	v1.Get("/historical", func(c *fiber.Ctx) error {
		var req historicalQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return respond(c, source.Historical(c.UserContext(), *req.Latitude, *req.Longitude, req.Years))
	})

	if snapshots == nil {
		return
	}

	v1.Get("/latest", func(c *fiber.Ctx) error {
		var req latestQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := weather.Location{Name: req.Name, Latitude: *req.Latitude, Longitude: *req.Longitude}
		snapshot, err := snapshots.Latest(loc, processing.Kind(req.Kind))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no climate data collected for requested location")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read collected climate data")
		}
		return c.JSON(snapshot)
	})

	v1.Get("/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := weather.Location{Name: req.Name, Latitude: *req.Latitude, Longitude: *req.Longitude}
		snaps, err := snapshots.Range(loc, processing.Kind(req.Kind), req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no climate history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read climate history")
		}

		return c.JSON(fiber.Map{
			"location":  loc,
			"kind":      req.Kind,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snaps,
		})
	})
}

func respond(c *fiber.Ctx, records []weather.Record) error {
	if records == nil {
		records = []weather.Record{}
	}
	return c.JSON(fiber.Map{
		"records": records,
		"count":   len(records),
	})
}

// pointQuery holds the coordinates shared by every climate query.
type pointQuery struct {
	Latitude  *float64 `validate:"required,gte=-90,lte=90"`
	Longitude *float64 `validate:"required,gte=-180,lte=180"`
}

func (p *pointQuery) bind(c *fiber.Ctx) error {
	lat, err := parseOptionalFloat(c.Query("lat"), "lat")
	if err != nil {
		return err
	}
	lon, err := parseOptionalFloat(c.Query("lon"), "lon")
	if err != nil {
		return err
	}
	p.Latitude = lat
	p.Longitude = lon
	return nil
}

// windowQuery holds query parameters for the daily and monthly endpoints.
type windowQuery struct {
	pointQuery
	Start time.Time
	End   time.Time `validate:"omitempty,gtefield=Start"`
}

func parseWindowQuery(c *fiber.Ctx) (weather.Query, error) {
	var req windowQuery
	if err := req.bind(c); err != nil {
		return weather.Query{}, err
	}

	start, err := parseOptionalDay(c.Query("start"), "start")
	if err != nil {
		return weather.Query{}, err
	}
	end, err := parseOptionalDay(c.Query("end"), "end")
	if err != nil {
		return weather.Query{}, err
	}
	req.Start = start.Time
	req.End = end.Time

	if err := validate.Struct(req); err != nil {
		return weather.Query{}, err
	}

	return weather.Query{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Start:     start,
		End:       end,
	}, nil
}

// historicalQuery holds query parameters for the historical endpoint.
type historicalQuery struct {
	pointQuery
	Years int `validate:"gte=1,lte=30"`
}

func (h *historicalQuery) bind(c *fiber.Ctx) error {
	if err := h.pointQuery.bind(c); err != nil {
		return err
	}
	h.Years = defaultYears
	if s := c.Query("years"); s != "" {
		years, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid years %q", s)
		}
		h.Years = years
	}
	return nil
}

// latestQuery identifies a configured location and a collection kind.
type latestQuery struct {
	pointQuery
	Name string `validate:"required"`
	Kind string `validate:"oneof=daily monthly historical"`
}

func (l *latestQuery) bind(c *fiber.Ctx) error {
	if err := l.pointQuery.bind(c); err != nil {
		return err
	}
	l.Name = c.Query("name")
	l.Kind = c.Query("kind", string(processing.KindDaily))
	return nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	latestQuery
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	if err := h.latestQuery.bind(c); err != nil {
		return err
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

func parseOptionalFloat(s, name string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return &v, nil
}

func parseOptionalDay(s, name string) (weather.Day, error) {
	if s == "" {
		return weather.Day{}, nil
	}
	d, err := weather.ParseDay(s)
	if err != nil {
		return weather.Day{}, fmt.Errorf("invalid %s: use YYYY-MM-DD", name)
	}
	return d, nil
}
