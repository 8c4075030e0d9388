// Package config loads job settings from defaults, an optional YAML file and
// the environment, in that order of precedence (later wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NumberOfPeople   int           `yaml:"number_of_people"`
	ProcessingDelay  time.Duration `yaml:"processing_delay"`
	SWAPIBaseURL     string        `yaml:"swapi_base_url"`
	FetchMaxJitter   time.Duration `yaml:"fetch_max_jitter"`
	FetchRatePerSec  float64       `yaml:"fetch_rate_per_sec"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	DataDir          string        `yaml:"data_dir"`
	NATSURL          string        `yaml:"nats_url"`
	EventSubject     string        `yaml:"event_subject"`
	DatabaseURL      string        `yaml:"database_url"`
	LogLevel         string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		NumberOfPeople:   5,
		ProcessingDelay:  time.Second,
		SWAPIBaseURL:     "https://swapi.dev/api",
		FetchMaxJitter:   time.Second,
		FetchConcurrency: 1,
		FetchTimeout:     30 * time.Second,
		DataDir:          "./data",
		EventSubject:     "swapi.jobs",
		LogLevel:         "info",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	if cfg.NumberOfPeople, err = envInt("NUMBER_OF_PEOPLE", cfg.NumberOfPeople); err != nil {
		return err
	}
	if cfg.ProcessingDelay, err = envMillis("PROCESSING_DELAY_IN_MS", cfg.ProcessingDelay); err != nil {
		return err
	}
	if cfg.FetchMaxJitter, err = envMillis("FETCH_MAX_JITTER_MS", cfg.FetchMaxJitter); err != nil {
		return err
	}
	if cfg.FetchRatePerSec, err = envFloat("FETCH_RATE_PER_SEC", cfg.FetchRatePerSec); err != nil {
		return err
	}
	if cfg.FetchConcurrency, err = envInt("FETCH_CONCURRENCY", cfg.FetchConcurrency); err != nil {
		return err
	}
	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", cfg.FetchTimeout); err != nil {
		return err
	}
	if cfg.JobTimeout, err = envDuration("JOB_TIMEOUT", cfg.JobTimeout); err != nil {
		return err
	}
	cfg.SWAPIBaseURL = getenv("SWAPI_BASE_URL", cfg.SWAPIBaseURL)
	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)
	cfg.NATSURL = getenv("NATS_URL", cfg.NATSURL)
	cfg.EventSubject = getenv("EVENT_SUBJECT", cfg.EventSubject)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.NumberOfPeople < 0:
		return fmt.Errorf("NUMBER_OF_PEOPLE must not be negative, got %d", c.NumberOfPeople)
	case c.FetchConcurrency < 1:
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency)
	case c.ProcessingDelay < 0 || c.FetchMaxJitter < 0 || c.FetchTimeout < 0 || c.JobTimeout < 0:
		return errors.New("durations must not be negative")
	case c.FetchRatePerSec < 0:
		return fmt.Errorf("FETCH_RATE_PER_SEC must not be negative, got %v", c.FetchRatePerSec)
	case strings.TrimSpace(c.DataDir) == "":
		return errors.New("DATA_DIR is required")
	case c.NATSURL != "" && strings.TrimSpace(c.EventSubject) == "":
		return errors.New("EVENT_SUBJECT is required when NATS_URL is set")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return lvl, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return n, nil
}

func envFloat(k string, d float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return f, nil
}

func envMillis(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func envDuration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", k, v, err)
	}
	return dur, nil
}
