// Package worker implements the long-lived processor side of a job: it
// accepts Process messages, transforms each person, reports results and
// progress, and emits Done once AllSent has arrived and every accepted item
// has been processed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"swapijob/internal/core/domain"
	"swapijob/internal/core/ports"
	"swapijob/internal/protocol"
)

var (
	ErrFault       = errors.New("worker: fault")
	ErrInboxClosed = errors.New("worker: inbox closed")
)

type completion struct {
	item   domain.Person
	result domain.ProcessedPerson
	err    error
}

// Worker owns the processed count and the completion barrier. All of its
// state is touched only from the Run loop; transforms run on their own
// goroutines and report back through completions.
type Worker struct {
	port        *protocol.Port
	transformer ports.Transformer
	logger      *slog.Logger

	barrier     Barrier
	total       protocol.Total
	completions chan completion
	faults      chan error
}

// New creates a worker speaking on port.
func New(port *protocol.Port, transformer ports.Transformer, logger *slog.Logger) *Worker {
	return &Worker{
		port:        port,
		transformer: transformer,
		logger:      logger,
		completions: make(chan completion),
		faults:      make(chan error),
	}
}

// Run announces readiness and serves messages until ctx is cancelled or a
// fault occurs. Cancellation is a normal termination and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.barrier.Start(); err != nil {
		return err
	}
	if err := w.send(protocol.Started{}); err != nil {
		return err
	}
	w.logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.faults:
			return err
		case c := <-w.completions:
			if err := w.complete(c); err != nil {
				return err
			}
		case msg, ok := <-w.port.Recv():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrInboxClosed
			}
			if err := w.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg protocol.Message) error {
	if err := w.log("received message", msg.Kind()); err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.Process:
		if err := w.barrier.Accept(); err != nil {
			return err
		}
		if _, known := m.Total.Value(); known {
			w.total = m.Total
		}
		if err := w.log(fmt.Sprintf("processing person %d: %s", m.Item.ID, m.Item.Name), nil); err != nil {
			return err
		}
		go w.transform(ctx, m.Item)
		return nil
	case protocol.AllSent:
		released, err := w.barrier.Seal()
		if err != nil {
			return err
		}
		if released {
			return w.finish()
		}
		return w.log(fmt.Sprintf("all items sent, waiting for %d outstanding", w.barrier.Outstanding()), nil)
	case protocol.Log:
		w.logger.Debug("orchestrator log", "message", m.Text)
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s message", ErrProtocolViolation, msg.Kind())
	}
}

func (w *Worker) transform(ctx context.Context, item domain.Person) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: transform panicked on person %d: %v", ErrFault, item.ID, r)
			select {
			case w.faults <- err:
			case <-ctx.Done():
			}
		}
	}()

	c := completion{item: item}
	c.result, c.err = w.transformer.Transform(ctx, item)
	select {
	case w.completions <- c:
	case <-ctx.Done():
	}
}

func (w *Worker) complete(c completion) error {
	released, err := w.barrier.Complete()
	if err != nil {
		return err
	}

	if c.err != nil {
		w.logger.Warn("transform failed", "person_id", c.item.ID, "err", c.err)
		err = w.send(protocol.Failed{ID: c.item.ID, Reason: c.err.Error()})
	} else {
		err = w.send(protocol.Result{Item: c.result})
	}
	if err != nil {
		return err
	}

	processed := w.barrier.Processed()
	if err := w.send(protocol.Progress{Done: processed, Total: w.total}); err != nil {
		return err
	}
	if err := w.log(fmt.Sprintf("processed %d of %s people", processed, w.total), nil); err != nil {
		return err
	}
	if n, known := w.total.Value(); known && processed == n {
		w.logger.Debug("last expected item processed", "total", n)
	}

	if released {
		return w.finish()
	}
	return nil
}

func (w *Worker) finish() error {
	if err := w.log(fmt.Sprintf("worker finished processing %d people", w.barrier.Processed()), nil); err != nil {
		return err
	}
	return w.send(protocol.Done{})
}

func (w *Worker) log(text string, data any) error {
	return w.send(protocol.Log{Text: text, Data: data})
}

func (w *Worker) send(msg protocol.Message) error {
	if err := w.port.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	return nil
}

// Handle is the orchestrator's ownership of a running worker.
type Handle struct {
	port   *protocol.Port
	cancel context.CancelFunc
	exited chan error
	once   sync.Once
}

// RunFunc is the body of a worker goroutine speaking on port.
type RunFunc func(ctx context.Context, port *protocol.Port) error

// Spawn starts a Worker goroutine and returns its handle. The caller must
// eventually call Terminate.
func Spawn(ctx context.Context, transformer ports.Transformer, logger *slog.Logger) *Handle {
	return Start(ctx, func(ctx context.Context, port *protocol.Port) error {
		return New(port, transformer, logger).Run(ctx)
	})
}

// Start runs fn on its own goroutine, connected to the returned handle.
func Start(ctx context.Context, fn RunFunc) *Handle {
	orchestratorSide, workerSide := protocol.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		port:   orchestratorSide,
		cancel: cancel,
		exited: make(chan error, 1),
	}
	go func() {
		h.exited <- fn(ctx, workerSide)
	}()
	return h
}

// Port is the orchestrator's end of the message pipe.
func (h *Handle) Port() *protocol.Port { return h.port }

// Exited yields the worker's exit error (nil after Terminate) exactly once.
func (h *Handle) Exited() <-chan error { return h.exited }

// Terminate stops the worker and its in-flight transforms.
func (h *Handle) Terminate() {
	h.once.Do(func() {
		h.cancel()
		h.port.Close()
	})
}
