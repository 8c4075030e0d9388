package protocol

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("protocol: port closed")

// Port is one end of a duplex pipe. Send never blocks: each direction is an
// unbounded FIFO mailbox drained by its own goroutine.
type Port struct {
	in   *mailbox
	out  *mailbox
	link *link
}

type link struct {
	once sync.Once
	done chan struct{}
}

// Pipe returns two connected ports. Messages sent on one are received, in
// order, on the other.
func Pipe() (*Port, *Port) {
	l := &link{done: make(chan struct{})}
	ab := newMailbox(l.done)
	ba := newMailbox(l.done)
	return &Port{in: ba, out: ab, link: l}, &Port{in: ab, out: ba, link: l}
}

// Send queues msg for the peer.
func (p *Port) Send(msg Message) error {
	if msg == nil {
		return errors.New("protocol: nil message")
	}
	return p.out.put(msg)
}

// Recv delivers messages from the peer. It is closed once the pipe is closed.
func (p *Port) Recv() <-chan Message { return p.in.out }

// Close tears down both directions. Undelivered messages are dropped.
func (p *Port) Close() {
	p.link.once.Do(func() { close(p.link.done) })
}

// Closed is closed once either end has called Close.
func (p *Port) Closed() <-chan struct{} { return p.link.done }

type mailbox struct {
	mu    sync.Mutex
	queue []Message
	wake  chan struct{}
	done  <-chan struct{}
	out   chan Message
}

func newMailbox(done <-chan struct{}) *mailbox {
	m := &mailbox{
		wake: make(chan struct{}, 1),
		done: done,
		out:  make(chan Message),
	}
	go m.pump()
	return m
}

func (m *mailbox) put(msg Message) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			}
		}
		msg := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- msg:
		case <-m.done:
			return
		}
	}
}
