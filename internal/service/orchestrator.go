package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"swapijob/internal/core/domain"
	"swapijob/internal/core/ports"
	"swapijob/internal/protocol"
	"swapijob/internal/worker"
)

var (
	ErrWorkerExited      = errors.New("worker exited before completion")
	ErrProtocolViolation = errors.New("orchestrator: protocol violation")
)

// SpawnFunc starts the worker for one job.
type SpawnFunc func(ctx context.Context) *worker.Handle

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets how many fetches may be in flight at once. 1 (the
// default) dispatches strictly in index order.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithJobTimeout bounds a whole job. Zero means no limit.
func WithJobTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.jobTimeout = d }
}

// WithResultSinks adds destinations that receive the results of completed jobs.
func WithResultSinks(sinks ...ports.ResultSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithEventPublisher mirrors every worker message to p.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithSpawner replaces the default worker.
func WithSpawner(spawn SpawnFunc) Option {
	return func(o *Orchestrator) { o.spawn = spawn }
}

// WithClock overrides time.Now for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator coordinates one producer and one worker per job.
type Orchestrator struct {
	fetcher     ports.Fetcher
	storage     ports.Storage
	sinks       []ports.ResultSink
	events      ports.EventPublisher
	spawn       SpawnFunc
	concurrency int
	jobTimeout  time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	fetcher ports.Fetcher,
	transformer ports.Transformer,
	storage ports.Storage,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		fetcher:     fetcher,
		storage:     storage,
		concurrency: 1,
		now:         time.Now,
		logger:      logger,
	}
	o.spawn = func(ctx context.Context) *worker.Handle {
		return worker.Spawn(ctx, transformer, logger.With("component", "worker"))
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunJob fetches people 1..n, streams them through a fresh worker and
// returns the processed people in completion order. People whose fetch
// fails are skipped, so len(Results) <= n. Any worker fault fails the whole
// job and no results are returned.
func (o *Orchestrator) RunJob(ctx context.Context, n int) (*domain.JobResult, error) {
	if n < 0 {
		return nil, fmt.Errorf("number of people must not be negative, got %d", n)
	}

	job := domain.Job{
		ID:        uuid.New().String(),
		Requested: n,
		State:     domain.JobStatePending,
		CreatedAt: o.now().UTC(),
	}
	logger := o.logger.With("job_id", job.ID)
	result := &domain.JobResult{Job: job}
	logger.Info("starting job", "requested", n, "concurrency", o.concurrency)

	if err := o.storage.InitJob(ctx, job.ID); err != nil {
		return o.fail(result, logger, fmt.Errorf("failed to init job: %w", err))
	}
	input, _ := json.MarshalIndent(job, "", "  ")
	if err := o.storage.SaveInput(ctx, job.ID, input); err != nil {
		logger.Warn("failed to save job input", "err", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	h := o.spawn(ctx)
	defer h.Terminate()

	job.MarkRunning()
	results, err := o.supervise(ctx, &job, h, logger)
	result.Job = job
	if err != nil {
		return o.fail(result, logger, err)
	}

	job.MarkCompleted(o.now().UTC())
	if err := o.persist(ctx, &job, results, logger); err != nil {
		result.Job = job
		return o.fail(result, logger, err)
	}

	result.Job = job
	result.Results = results
	result.ResultsPath = filepath.Join(o.storage.GetJobPath(job.ID), "results.json")
	logger.Info("job completed",
		"requested", job.Requested,
		"dispatched", job.Dispatched,
		"processed", len(results),
		"duration", job.CompletedAt.Sub(job.CreatedAt),
	)
	return result, nil
}

// supervise runs the orchestrator side of the protocol until the worker
// reports Done or the job fails.
func (o *Orchestrator) supervise(ctx context.Context, job *domain.Job, h *worker.Handle, logger *slog.Logger) ([]domain.ProcessedPerson, error) {
	port := h.Port()
	var (
		started      bool
		failed       int
		results      []domain.ProcessedPerson
		producer     *producerRun
		dispatchDone <-chan error
	)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("job cancelled: %w", ctx.Err())

		case err := <-h.Exited():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("job cancelled: %w", ctx.Err())
			}
			if err == nil {
				return nil, ErrWorkerExited
			}
			return nil, fmt.Errorf("%w: %w", ErrWorkerExited, err)

		case err := <-dispatchDone:
			dispatchDone = nil
			job.Dispatched = int(producer.sent.Load())
			if err != nil {
				return nil, fmt.Errorf("dispatch: %w", err)
			}

		case msg, ok := <-port.Recv():
			if !ok {
				return nil, ErrWorkerExited
			}
			o.mirror(ctx, job.ID, msg, logger)

			if _, isStarted := msg.(protocol.Started); !started && !isStarted {
				return nil, fmt.Errorf("%w: %s before started", ErrProtocolViolation, msg.Kind())
			}

			switch m := msg.(type) {
			case protocol.Started:
				if started {
					return nil, fmt.Errorf("%w: worker started twice", ErrProtocolViolation)
				}
				started = true
				logger.Info("worker started, beginning data processing")
				producer = o.dispatch(ctx, job.Requested, port, logger)
				dispatchDone = producer.done

			case protocol.Result:
				results = append(results, m.Item)
				logger.Info("processed person", "person_id", m.Item.ID, "name", m.Item.Name)

			case protocol.Failed:
				failed++
				logger.Warn("worker failed to process person", "person_id", m.ID, "reason", m.Reason)

			case protocol.Progress:
				if m.Done < job.Processed {
					return nil, fmt.Errorf("%w: progress went from %d to %d", ErrProtocolViolation, job.Processed, m.Done)
				}
				job.Processed = m.Done
				logger.Info("progress", "done", m.Done, "total", m.Total.String())

			case protocol.Log:
				logger.Info(m.Text, "source", "worker", "data", m.Data)

			case protocol.Done:
				if !producer.allSent.Load() {
					return nil, fmt.Errorf("%w: done before all-sent", ErrProtocolViolation)
				}
				job.Dispatched = int(producer.sent.Load())
				if got := len(results) + failed; got != job.Dispatched {
					return nil, fmt.Errorf("%w: done after %d of %d items", ErrProtocolViolation, got, job.Dispatched)
				}
				logger.Info("worker finished processing")
				h.Terminate()
				return results, nil

			default:
				return nil, fmt.Errorf("%w: unexpected %s from worker", ErrProtocolViolation, msg.Kind())
			}
		}
	}
}

// producerRun tracks one dispatch. allSent is set before AllSent is queued,
// so a Done sent in response always observes it along with the final sent count.
type producerRun struct {
	sent    atomic.Int64
	allSent atomic.Bool
	done    chan error
}

// dispatch fetches 1..n and forwards each success to the worker, then sends
// AllSent once every index has an outcome.
func (o *Orchestrator) dispatch(ctx context.Context, n int, port *protocol.Port, logger *slog.Logger) *producerRun {
	d := &producerRun{done: make(chan error, 1)}
	go func() {
		d.done <- o.dispatchAll(ctx, d, n, port, logger)
	}()
	return d
}

func (o *Orchestrator) dispatchAll(ctx context.Context, d *producerRun, n int, port *protocol.Port, logger *slog.Logger) error {
	total := protocol.KnownTotal(n)

	if err := port.Send(protocol.Log{Text: fmt.Sprintf("dispatching %d people", n)}); err != nil {
		return err
	}

	fetchAndSend := func(ctx context.Context, id int) error {
		p, err := o.fetcher.Fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("failed to fetch person, skipping", "person_id", id, "err", err)
			return nil
		}
		logger.Info("fetched person", "person_id", id, "name", p.Name)
		if err := port.Send(protocol.Process{Item: p, Total: total}); err != nil {
			return fmt.Errorf("send person %d: %w", id, err)
		}
		d.sent.Add(1)
		return nil
	}

	if o.concurrency <= 1 {
		for id := 1; id <= n; id++ {
			if err := fetchAndSend(ctx, id); err != nil {
				return err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.concurrency)
		for id := 1; id <= n; id++ {
			g.Go(func() error { return fetchAndSend(gctx, id) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	logger.Info("sending all-sent signal to worker", "dispatched", d.sent.Load())
	d.allSent.Store(true)
	if err := port.Send(protocol.AllSent{}); err != nil {
		return fmt.Errorf("send all-sent: %w", err)
	}
	return nil
}

func (o *Orchestrator) mirror(ctx context.Context, jobID string, msg protocol.Message, logger *slog.Logger) {
	if o.events == nil {
		return
	}
	env, err := protocol.Encode(msg)
	if err == nil {
		err = o.events.Publish(ctx, jobID, env)
	}
	if err != nil {
		logger.Warn("failed to publish job event", "type", msg.Kind(), "err", err)
	}
}

// persist writes results.json and feeds every optional sink. Sink failures
// are logged; only the job directory is required.
func (o *Orchestrator) persist(ctx context.Context, job *domain.Job, results []domain.ProcessedPerson, logger *slog.Logger) error {
	if results == nil {
		results = []domain.ProcessedPerson{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := o.storage.SaveResults(ctx, job.ID, data); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	for _, sink := range o.sinks {
		if err := sink.SaveResults(ctx, *job, results); err != nil {
			logger.Error("result sink failed", "sink", fmt.Sprintf("%T", sink), "err", err)
		}
	}
	return nil
}

func (o *Orchestrator) fail(result *domain.JobResult, logger *slog.Logger, err error) (*domain.JobResult, error) {
	result.Job.MarkFailed(o.now().UTC(), err)
	result.Results = nil
	logger.Error("job failed", "err", err)
	return result, err
}
