package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/climate-data-collector/internal/common"
	"github.com/i474232898/climate-data-collector/internal/processing"
	"github.com/i474232898/climate-data-collector/internal/weather"
)

type AppConfig struct {
	General   GeneralConfig    `yaml:"general"`
	Locations []LocationConfig `yaml:"locations" validate:"dive"`
	Variables []VariableConfig `yaml:"variables" validate:"dive"`
	Frequency FrequencyConfig  `yaml:"frequency"`
	APIs      APIsConfig       `yaml:"apis"`
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Store     StoreConfig      `yaml:"store"`
	Breaker   BreakerConfig    `yaml:"breaker"`

	// Warnings collects non-fatal problems found while loading; they are
	// logged once a logger exists.
	Warnings []string `yaml:"-"`
}

type GeneralConfig struct {
	Mode         string       `yaml:"mode" validate:"required,oneof=primary secondary both"`
	OutputFormat string       `yaml:"output_format" validate:"required,oneof=csv json sqlite"`
	Output       OutputConfig `yaml:"output"`
}

type OutputConfig struct {
	Layout string `yaml:"layout" validate:"required,oneof=separate combined"`
	Dir    string `yaml:"dir" validate:"required"`
}

type LocationConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	Latitude  *float64 `yaml:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `yaml:"longitude" validate:"required,gte=-180,lte=180"`
}

type VariableConfig struct {
	Name   string `yaml:"name" validate:"required,oneof=temperature precipitation humidity"`
	Unit   string `yaml:"unit,omitempty"`
	Active *bool  `yaml:"active,omitempty"`
}

type FrequencyConfig struct {
	Kind             string        `yaml:"kind" validate:"required,oneof=daily monthly"`
	History          HistoryConfig `yaml:"history"`
	ScheduleInterval time.Duration `yaml:"schedule_interval" validate:"gte=0"`
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	Years   int  `yaml:"years" validate:"gte=1,lte=30"`
}

type APIsConfig struct {
	OpenWeather *APIConfig `yaml:"openweather,omitempty"`
	Inmet       *APIConfig `yaml:"inmet,omitempty"`
}

type APIConfig struct {
	Key     string `yaml:"key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Timeout in seconds.
	Timeout  int `yaml:"timeout" validate:"gte=0"`
	Attempts int `yaml:"attempts" validate:"gte=0,lte=10"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=console json"`
}

type StoreConfig struct {
	MaxHistory int           `yaml:"max_history" validate:"gte=0"`
	MaxAge     time.Duration `yaml:"max_age" validate:"gte=0"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	active := true
	lat, lon := -23.5505, -46.6333
	return &AppConfig{
		General: GeneralConfig{
			Mode:         string(weather.ModePrimary),
			OutputFormat: "csv",
			Output:       OutputConfig{Layout: "separate", Dir: "data"},
		},
		Locations: []LocationConfig{
			{Name: "São Paulo", Latitude: &lat, Longitude: &lon},
		},
		Variables: []VariableConfig{
			{Name: "temperature", Unit: "celsius", Active: &active},
			{Name: "precipitation", Unit: "mm", Active: &active},
			{Name: "humidity", Unit: "percent", Active: &active},
		},
		Frequency: FrequencyConfig{
			Kind:             "daily",
			History:          HistoryConfig{Enabled: false, Years: 5},
			ScheduleInterval: 6 * time.Hour,
		},
		APIs: APIsConfig{
			OpenWeather: &APIConfig{
				Key:      "${OPENWEATHER_API_KEY}",
				BaseURL:  "https://api.openweathermap.org/data/2.5",
				Timeout:  30,
				Attempts: 3,
			},
			Inmet: &APIConfig{
				Key:      "${INMET_API_KEY}",
				BaseURL:  "https://apitempo.inmet.gov.br/api",
				Timeout:  30,
				Attempts: 3,
			},
		},
		Server:  ServerConfig{Port: "8080"},
		Log:     LogConfig{Level: "info", Format: "console"},
		Store:   StoreConfig{MaxHistory: 24, MaxAge: 7 * 24 * time.Hour},
		Breaker: BreakerConfig{ConsecutiveFailures: 3, OpenTimeout: 2 * time.Minute},
	}
}

// Overrides carries command-line settings. Zero values leave the loaded
// configuration untouched.
type Overrides struct {
	Mode       string
	Kind       string
	Format     string
	Layout     string
	OutputDir  string
	Historical bool
	Years      int
	Verbose    bool
}

func (o Overrides) apply(c *AppConfig) {
	if o.Mode != "" {
		c.General.Mode = o.Mode
	}
	if o.Kind != "" {
		c.Frequency.Kind = o.Kind
	}
	if o.Format != "" {
		c.General.OutputFormat = o.Format
	}
	if o.Layout != "" {
		c.General.Output.Layout = o.Layout
	}
	if o.OutputDir != "" {
		c.General.Output.Dir = o.OutputDir
	}
	if o.Historical {
		c.Frequency.History.Enabled = true
	}
	if o.Years != 0 {
		c.Frequency.History.Years = o.Years
	}
	if o.Verbose {
		c.Log.Level = "debug"
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and environment variables (a .env file is loaded first when present),
// then validates it.
func Load(path string) (*AppConfig, error) {
	return LoadWithOverrides(path, Overrides{})
}

// LoadWithOverrides is Load with command-line overrides applied last.
func LoadWithOverrides(path string, overrides Overrides) (*AppConfig, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cfg.warnf("could not load .env file: %v", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// a file describes its own locations and APIs
		cfg.Locations = nil
		cfg.APIs = APIsConfig{}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.expandEnv()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	overrides.apply(cfg)

	mode, err := weather.ParseFallbackMode(cfg.General.Mode)
	if err != nil {
		return nil, err
	}
	cfg.General.Mode = string(mode)
	cfg.General.OutputFormat = strings.ToLower(cfg.General.OutputFormat)
	cfg.Frequency.Kind = strings.ToLower(cfg.Frequency.Kind)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Locations) == 0 {
		return nil, errors.New("invalid configuration: no locations configured")
	}
	cfg.checkMode(mode)

	return cfg, nil
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnv resolves ${VAR} references in API settings. Unset variables
// resolve to an empty value.
func (c *AppConfig) expandEnv() {
	for name, api := range c.apis() {
		for _, field := range []*string{&api.Key, &api.BaseURL} {
			m := envRef.FindStringSubmatch(*field)
			if m == nil {
				continue
			}
			v, ok := os.LookupEnv(m[1])
			if !ok || v == "" {
				c.warnf("environment variable %s referenced by apis.%s is not set", m[1], name)
			}
			*field = v
		}
	}
}

func (c *AppConfig) applyEnv() error {
	setString(&c.General.Mode, "CLIMATE_MODE")
	setString(&c.General.OutputFormat, "OUTPUT_FORMAT")
	setString(&c.General.Output.Dir, "OUTPUT_DIR")
	setString(&c.General.Output.Layout, "OUTPUT_LAYOUT")
	setString(&c.Frequency.Kind, "CLIMATE_KIND")
	setString(&c.Server.Port, "PORT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if c.APIs.OpenWeather != nil {
		setString(&c.APIs.OpenWeather.Key, "OPENWEATHER_API_KEY")
	}
	if c.APIs.Inmet != nil {
		setString(&c.APIs.Inmet.Key, "INMET_API_KEY")
	}

	if v := os.Getenv("CLIMATE_LOCATIONS"); v != "" {
		locs, err := ParseLocations(v)
		if err != nil {
			return fmt.Errorf("invalid CLIMATE_LOCATIONS: %w", err)
		}
		c.Locations = locs
	}

	if err := setDuration(&c.Frequency.ScheduleInterval, "SCHEDULE_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.Store.MaxAge, "STORE_MAX_AGE"); err != nil {
		return err
	}
	if err := setInt(&c.Store.MaxHistory, "STORE_MAX_HISTORY"); err != nil {
		return err
	}
	if err := setInt(&c.Frequency.History.Years, "HISTORY_YEARS"); err != nil {
		return err
	}
	if v := os.Getenv("BREAKER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BREAKER_ENABLED: %w", err)
		}
		c.Breaker.Enabled = enabled
	}
	return nil
}

func (c *AppConfig) checkMode(mode weather.FallbackMode) {
	if (mode == weather.ModePrimary || mode == weather.ModeBoth) && c.APIs.OpenWeather == nil {
		c.warnf("mode %s needs the openweather API, which is not configured", mode)
	}
	if (mode == weather.ModeSecondary || mode == weather.ModeBoth) && c.APIs.Inmet == nil {
		c.warnf("mode %s needs the inmet API, which is not configured", mode)
	}
}

func (c *AppConfig) apis() map[string]*APIConfig {
	out := make(map[string]*APIConfig, 2)
	if c.APIs.OpenWeather != nil {
		out["openweather"] = c.APIs.OpenWeather
	}
	if c.APIs.Inmet != nil {
		out["inmet"] = c.APIs.Inmet
	}
	return out
}

func (c *AppConfig) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// Mode returns the validated fallback mode.
func (c *AppConfig) Mode() weather.FallbackMode {
	return weather.FallbackMode(c.General.Mode)
}

// WeatherLocations converts the configured locations.
func (c *AppConfig) WeatherLocations() []weather.Location {
	out := make([]weather.Location, 0, len(c.Locations))
	for _, l := range c.Locations {
		out = append(out, weather.Location{Name: l.Name, Latitude: *l.Latitude, Longitude: *l.Longitude})
	}
	return out
}

// ActiveVariables lists the variables not explicitly disabled.
func (c *AppConfig) ActiveVariables() []string {
	var out []string
	for _, v := range c.Variables {
		if v.Active == nil || *v.Active {
			out = append(out, v.Name)
		}
	}
	return out
}

// Kinds lists the collections to run: the configured frequency, followed by
// the historical sweep when enabled.
func (c *AppConfig) Kinds() []processing.Kind {
	kinds := []processing.Kind{processing.Kind(c.Frequency.Kind)}
	if c.Frequency.History.Enabled {
		kinds = append(kinds, processing.KindHistorical)
	}
	return kinds
}

// Fahrenheit reports whether temperatures should be exported in Fahrenheit.
func (c *AppConfig) Fahrenheit() bool {
	for _, v := range c.Variables {
		if v.Name == "temperature" {
			return strings.EqualFold(v.Unit, "fahrenheit")
		}
	}
	return false
}

// Provider converts an API section into the provider settings. A nil
// section yields nil.
func Provider(api *APIConfig) *weather.ProviderConfig {
	if api == nil {
		return nil
	}
	return &weather.ProviderConfig{
		BaseURL:     api.BaseURL,
		APIKey:      api.Key,
		Timeout:     time.Duration(api.Timeout) * time.Second,
		MaxAttempts: api.Attempts,
	}
}

// ParseLocations parses "name:lat:lon" entries separated by commas or semicolons.
func ParseLocations(s string) ([]LocationConfig, error) {
	var out []LocationConfig
	for _, entry := range common.SplitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("location %q: want name:latitude:longitude", entry)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("location %q: invalid latitude: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("location %q: invalid longitude: %w", entry, err)
		}
		out = append(out, LocationConfig{Name: strings.TrimSpace(parts[0]), Latitude: &lat, Longitude: &lon})
	}
	return out, nil
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	b, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, b, 0o644)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
