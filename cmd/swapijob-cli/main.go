package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"swapijob/internal/adapters/localstorage"
	"swapijob/internal/adapters/natsbus"
	"swapijob/internal/adapters/pgstore"
	"swapijob/internal/adapters/swapi"
	"swapijob/internal/config"
	"swapijob/internal/service"
	"swapijob/internal/transform"
)

func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, envErr == nil)
	stop()
	os.Exit(code)
}

// run executes one job and returns the process exit code. Every resource it
// opens is released before it returns.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, dotenv bool) int {
	fs := flag.NewFlagSet("swapijob-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Optional YAML config file")
	people := fs.Int("n", -1, "Number of people to process (overrides NUMBER_OF_PEOPLE)")
	dataDir := fs.String("data-dir", "", "Base directory for storing job data (overrides DATA_DIR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	if *people >= 0 {
		cfg.NumberOfPeople = *people
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	if !dotenv {
		logger.Debug("no .env file found")
	}
	logger.Info("swapijob starting",
		"people", cfg.NumberOfPeople,
		"processing_delay", cfg.ProcessingDelay,
		"data_dir", cfg.DataDir,
		"swapi", cfg.SWAPIBaseURL,
	)

	fetcher, err := swapi.NewClient(swapi.Options{
		BaseURL:    cfg.SWAPIBaseURL,
		Timeout:    cfg.FetchTimeout,
		RatePerSec: cfg.FetchRatePerSec,
		MaxJitter:  cfg.FetchMaxJitter,
	}, logger.With("component", "swapi"))
	if err != nil {
		return fail(logger, "failed to initialize swapi client", err)
	}

	opts := []service.Option{
		service.WithConcurrency(cfg.FetchConcurrency),
		service.WithJobTimeout(cfg.JobTimeout),
	}

	if cfg.NATSURL != "" {
		bus, err := natsbus.Connect(cfg.NATSURL, cfg.EventSubject, logger.With("component", "natsbus"))
		if err != nil {
			return fail(logger, "failed to connect to nats", err, "url", cfg.NATSURL)
		}
		defer bus.Close()
		opts = append(opts, service.WithEventPublisher(bus))
		logger.Info("publishing job events", "subject", cfg.EventSubject+".<job_id>")
	}

	if cfg.DatabaseURL != "" {
		store, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(logger, "failed to open result store", err)
		}
		defer store.Close()
		opts = append(opts, service.WithResultSinks(store))
	}

	orchestrator := service.NewOrchestrator(
		fetcher,
		transform.NewDelayed(cfg.ProcessingDelay),
		localstorage.NewLocalStorage(cfg.DataDir),
		logger,
		opts...,
	)

	result, err := orchestrator.RunJob(ctx, cfg.NumberOfPeople)
	if err != nil {
		return fail(logger, "job failed", err)
	}

	out, err := json.MarshalIndent(result.Results, "", "  ")
	if err != nil {
		return fail(logger, "failed to encode results", err)
	}
	fmt.Fprintln(stdout, string(out))
	fmt.Fprintf(stdout, "Processed %d people\n", len(result.Results))

	fmt.Fprintln(stdout, "\n=== Job Summary ===")
	fmt.Fprintf(stdout, "Job ID:       %s\n", result.Job.ID)
	fmt.Fprintf(stdout, "Requested:    %d\n", result.Job.Requested)
	fmt.Fprintf(stdout, "Dispatched:   %d\n", result.Job.Dispatched)
	fmt.Fprintf(stdout, "Results:      %s\n", result.ResultsPath)
	fmt.Fprintf(stdout, "Completed At: %s\n", result.Job.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
	return 0
}

func fail(logger *slog.Logger, msg string, err error, attrs ...any) int {
	logger.Error(msg, append(attrs, "err", err)...)
	return 1
}
