package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"swapijob/internal/core/domain"
	"swapijob/internal/core/ports"
	"swapijob/internal/protocol"
)

var echo = ports.TransformerFunc(func(_ context.Context, p domain.Person) (domain.ProcessedPerson, error) {
	return domain.ProcessedPerson{ID: p.ID, Name: p.Name}, nil
})

func startWorker(t *testing.T, tr ports.Transformer) (*protocol.Port, <-chan error) {
	t.Helper()
	orch, wrk := protocol.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(wrk, tr, slog.New(slog.DiscardHandler))

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		orch.Close()
	})
	return orch, errc
}

// next returns the next non-Log message, or nil if none arrives within d.
func next(t *testing.T, p *protocol.Port, d time.Duration) protocol.Message {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg, ok := <-p.Recv():
			if !ok {
				t.Fatal("port closed")
			}
			if _, isLog := msg.(protocol.Log); isLog {
				continue
			}
			return msg
		case <-deadline:
			return nil
		}
	}
}

func mustSend(t *testing.T, p *protocol.Port, msg protocol.Message) {
	t.Helper()
	if err := p.Send(msg); err != nil {
		t.Fatalf("send %s: %v", msg.Kind(), err)
	}
}

func expectStarted(t *testing.T, p *protocol.Port) {
	t.Helper()
	select {
	case msg := <-p.Recv():
		if _, ok := msg.(protocol.Started); !ok {
			t.Fatalf("first message was %T, want Started", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("worker never sent Started")
	}
}

// collectUntilDone gathers every non-Log message up to and including Done.
func collectUntilDone(t *testing.T, p *protocol.Port) []protocol.Message {
	t.Helper()
	var got []protocol.Message
	for {
		msg := next(t, p, 2*time.Second)
		if msg == nil {
			t.Fatalf("timed out before Done; got %d messages", len(got))
		}
		got = append(got, msg)
		if _, ok := msg.(protocol.Done); ok {
			return got
		}
	}
}

func TestWorkerProcessesAllItemsThenDone(t *testing.T) {
	orch, _ := startWorker(t, echo)
	expectStarted(t, orch)

	for i := 1; i <= 3; i++ {
		mustSend(t, orch, protocol.Process{Item: domain.Person{ID: i, Name: "p"}, Total: protocol.KnownTotal(3)})
	}
	mustSend(t, orch, protocol.AllSent{})

	msgs := collectUntilDone(t, orch)

	results, lastDone := 0, 0
	for _, msg := range msgs {
		switch m := msg.(type) {
		case protocol.Result:
			results++
		case protocol.Progress:
			if m.Done < lastDone {
				t.Fatalf("progress went backwards: %d after %d", m.Done, lastDone)
			}
			lastDone = m.Done
			if n, known := m.Total.Value(); !known || n != 3 {
				t.Fatalf("expected known total 3, got %s", m.Total)
			}
		case protocol.Done:
		default:
			t.Fatalf("unexpected message %T", msg)
		}
	}
	if results != 3 || lastDone != 3 {
		t.Fatalf("expected 3 results and progress 3, got %d and %d", results, lastDone)
	}
	if extra := next(t, orch, 50*time.Millisecond); extra != nil {
		t.Fatalf("unexpected message after Done: %T", extra)
	}
}

func TestAllSentBeforeLastResultHoldsDone(t *testing.T) {
	release := make(chan struct{})
	gated := ports.TransformerFunc(func(ctx context.Context, p domain.Person) (domain.ProcessedPerson, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.ProcessedPerson{}, ctx.Err()
		}
		return domain.ProcessedPerson{ID: p.ID, Name: p.Name}, nil
	})

	orch, _ := startWorker(t, gated)
	expectStarted(t, orch)

	mustSend(t, orch, protocol.Process{Item: domain.Person{ID: 1, Name: "Luke"}, Total: protocol.KnownTotal(1)})
	mustSend(t, orch, protocol.AllSent{})

	if msg := next(t, orch, 100*time.Millisecond); msg != nil {
		t.Fatalf("worker emitted %T before its only item was processed", msg)
	}

	close(release)
	msgs := collectUntilDone(t, orch)
	if len(msgs) != 3 {
		t.Fatalf("expected Result, Progress, Done; got %d messages", len(msgs))
	}
	if r, ok := msgs[0].(protocol.Result); !ok || r.Item.Name != "Luke" {
		t.Fatalf("expected Result first, got %#v", msgs[0])
	}
	if p, ok := msgs[1].(protocol.Progress); !ok || p.Done != 1 {
		t.Fatalf("expected Progress 1 second, got %#v", msgs[1])
	}
}

func TestAllSentWithNoItemsIsImmediatelyDone(t *testing.T) {
	orch, _ := startWorker(t, echo)
	expectStarted(t, orch)

	mustSend(t, orch, protocol.AllSent{})
	if _, ok := next(t, orch, time.Second).(protocol.Done); !ok {
		t.Fatal("expected Done for an empty job")
	}
}

func TestTransformErrorStillAdvancesBarrier(t *testing.T) {
	failing := ports.TransformerFunc(func(_ context.Context, p domain.Person) (domain.ProcessedPerson, error) {
		if p.ID == 2 {
			return domain.ProcessedPerson{}, errors.New("bad record")
		}
		return domain.ProcessedPerson{ID: p.ID}, nil
	})
	orch, _ := startWorker(t, failing)
	expectStarted(t, orch)

	mustSend(t, orch, protocol.Process{Item: domain.Person{ID: 1}})
	mustSend(t, orch, protocol.Process{Item: domain.Person{ID: 2}})
	mustSend(t, orch, protocol.AllSent{})

	var results, failed int
	var last protocol.Progress
	for _, msg := range collectUntilDone(t, orch) {
		switch m := msg.(type) {
		case protocol.Result:
			results++
		case protocol.Failed:
			failed++
			if m.ID != 2 || m.Reason != "bad record" {
				t.Fatalf("unexpected failed message: %+v", m)
			}
		case protocol.Progress:
			last = m
		}
	}
	if results != 1 || failed != 1 {
		t.Fatalf("expected 1 result and 1 failure, got %d and %d", results, failed)
	}
	if last.Done != 2 {
		t.Fatalf("expected final progress 2, got %d", last.Done)
	}
	if _, known := last.Total.Value(); known {
		t.Fatalf("expected unknown total without a Process total, got %s", last.Total)
	}
}

func TestTransformPanicIsWorkerFault(t *testing.T) {
	panicky := ports.TransformerFunc(func(context.Context, domain.Person) (domain.ProcessedPerson, error) {
		panic("corrupted state")
	})
	orch, errc := startWorker(t, panicky)
	expectStarted(t, orch)
	mustSend(t, orch, protocol.Process{Item: domain.Person{ID: 1}})

	select {
	case err := <-errc:
		if !errors.Is(err, ErrFault) {
			t.Fatalf("expected ErrFault, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after panic")
	}
}

func TestProcessAfterAllSentIsProtocolViolation(t *testing.T) {
	orch, errc := startWorker(t, echo)
	expectStarted(t, orch)

	mustSend(t, orch, protocol.AllSent{})
	mustSend(t, orch, protocol.Process{Item: domain.Person{ID: 1}})

	select {
	case err := <-errc:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected ErrProtocolViolation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker accepted Process after AllSent")
	}
}

func TestWorkerRejectsWorkerBoundVariants(t *testing.T) {
	orch, errc := startWorker(t, echo)
	expectStarted(t, orch)

	mustSend(t, orch, protocol.Done{})

	select {
	case err := <-errc:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("expected ErrProtocolViolation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker accepted a Done message")
	}
}

func TestSpawnTerminate(t *testing.T) {
	h := Spawn(context.Background(), echo, slog.New(slog.DiscardHandler))
	expectStarted(t, h.Port())

	h.Terminate()
	h.Terminate()

	select {
	case err := <-h.Exited():
		if err != nil {
			t.Fatalf("expected clean exit after Terminate, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Terminate")
	}
}
