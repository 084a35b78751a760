// Package actor implements the thin facade described in spec §4.1: every
// long-lived subsystem in this module (compute services, batch schedulers,
// job managers, alarms) is an actor — a single goroutine bound to a
// simulated host, reading from exactly one mailbox. Cross-actor
// communication happens only through typed messages sent to mailboxes;
// there are no shared mutable data structures across actors (§5).
package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wrenchsim/wrenchsim/pkg/failure"
	"github.com/wrenchsim/wrenchsim/pkg/log"
	"github.com/wrenchsim/wrenchsim/pkg/simclock"
)

// Message is anything that can be sent through a mailbox. PayloadSize models
// the serialized size (bytes) used to compute transfer delay (§4.1, §6).
type Message interface {
	PayloadSize() int64
}

// Name addresses a mailbox; mailboxes are string-addressed FIFOs (§4.1).
type Name string

// Mailbox is a single-owner FIFO. It is safe for many senders and one
// receiver, matching the "one incoming mailbox per actor" contract.
type Mailbox struct {
	name   Name
	ch     chan Message
	closed chan struct{}
	once   sync.Once
}

func newMailbox(name Name, buffer int) *Mailbox {
	return &Mailbox{
		name:   name,
		ch:     make(chan Message, buffer),
		closed: make(chan struct{}),
	}
}

// Name returns the mailbox's address.
func (m *Mailbox) Name() Name { return m.name }

// Close marks the mailbox as gone. Subsequent sends fail with NetworkError;
// pending Recv calls return ErrMailboxClosed.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.closed) })
}

// System is the shared runtime every actor is spawned into: it owns the
// simulated clock and a link-bandwidth model used to compute send delay,
// and tracks mailboxes by name so a Send can address a mailbox it didn't
// create (e.g. a job manager's reply mailbox known only by name).
type System struct {
	Clock           *simclock.Clock
	BandwidthBps    float64 // simulated link bandwidth, bytes/sec; 0 = instantaneous transfer
	logger          zerolog.Logger
	mu              sync.Mutex
	mailboxes       map[Name]*Mailbox
	defaultBuffer   int
}

// NewSystem creates an actor system. bandwidthBps == 0 models an
// infinitely-fast link (transfer delay always 0), which is the common case
// in unit tests; production simulations should set a realistic link speed.
func NewSystem(clock *simclock.Clock, bandwidthBps float64) *System {
	return &System{
		Clock:         clock,
		BandwidthBps:  bandwidthBps,
		logger:        log.WithComponent("actor"),
		mailboxes:     make(map[Name]*Mailbox),
		defaultBuffer: 64,
	}
}

// NewMailbox allocates and registers a fresh, uniquely-named mailbox (a
// convenience for "private reply mailbox" patterns used throughout the
// executor and data-movement manager).
func (s *System) NewMailbox(prefix string) *Mailbox {
	name := Name(fmt.Sprintf("%s-%s", prefix, uuid.NewString()))
	return s.Register(name)
}

// Register creates (or returns, if already present) a named mailbox.
func (s *System) Register(name Name) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.mailboxes[name]; ok {
		return mb
	}
	mb := newMailbox(name, s.defaultBuffer)
	s.mailboxes[name] = mb
	return mb
}

// Unregister removes and closes a mailbox, e.g. when its owning actor
// terminates.
func (s *System) Unregister(name Name) {
	s.mu.Lock()
	mb, ok := s.mailboxes[name]
	delete(s.mailboxes, name)
	s.mu.Unlock()
	if ok {
		mb.Close()
	}
}

func (s *System) lookup(name Name) (*Mailbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[name]
	return mb, ok
}

// transferDelay models the simulated time to move msg's payload across the
// link, per §4.1 ("transfer delay modeled from message payload size and
// link bandwidth").
func (s *System) transferDelay(msg Message) simclock.Time {
	if s.BandwidthBps <= 0 {
		return 0
	}
	return simclock.Time(float64(msg.PayloadSize()) / s.BandwidthBps)
}

// Send delivers msg to the mailbox named `to`, blocking for the simulated
// transfer delay before returning (§4.1: "synchronous in simulated time").
// Returns a NetworkError failure.Cause if the mailbox does not exist or has
// been closed.
func (s *System) Send(ctx context.Context, to Name, msg Message) error {
	mb, ok := s.lookup(to)
	if !ok {
		return failure.New(failure.NetworkError, "mailbox %s does not exist", to)
	}
	if err := s.Clock.Sleep(ctx, s.transferDelay(msg)); err != nil {
		return err
	}
	select {
	case <-mb.closed:
		return failure.New(failure.NetworkError, "mailbox %s is closed", to)
	default:
	}
	select {
	case mb.ch <- msg:
		return nil
	case <-mb.closed:
		return failure.New(failure.NetworkError, "mailbox %s is closed", to)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DSend is the detached, fire-and-forget send (§4.1): the sender does not
// wait for the transfer delay or observe delivery. With a zero transfer
// delay and room in the target's buffer, the message is enqueued before
// DSend returns, so successive such DSends from one caller arrive in call
// order. Otherwise delivery happens on a detached goroutine, registered
// with the clock so it still participates in quiescence, that sleeps the
// transfer delay and then enqueues; messages delivered that way carry no
// ordering guarantee relative to each other.
func (s *System) DSend(ctx context.Context, to Name, msg Message) error {
	mb, ok := s.lookup(to)
	if !ok {
		return failure.New(failure.NetworkError, "mailbox %s does not exist", to)
	}
	delay := s.transferDelay(msg)
	if delay <= 0 {
		select {
		case mb.ch <- msg:
			return nil
		default:
		}
	}
	s.Clock.RegisterActor()
	go func() {
		defer s.Clock.UnregisterActor()
		if err := s.Clock.Sleep(context.Background(), delay); err != nil {
			return
		}
		select {
		case mb.ch <- msg:
		case <-mb.closed:
			s.logger.Warn().Str("mailbox", string(to)).Msg("dsend target mailbox closed before delivery")
		}
	}()
	return nil
}

// ErrTimeout is returned by Recv when no message arrives within the
// requested timeout.
var ErrTimeout = fmt.Errorf("actor: receive timed out")

// ErrMailboxClosed is returned by Recv once its mailbox has been closed and
// drained.
var ErrMailboxClosed = fmt.Errorf("actor: mailbox closed")

// Recv blocks for up to timeout simulated seconds waiting for the next
// message on mb. A timeout <= 0 means block indefinitely (§4.1: "timeout?").
func Recv(ctx context.Context, clock *simclock.Clock, mb *Mailbox, timeout simclock.Time) (Message, error) {
	if timeout <= 0 {
		clock.BeginWait()
		defer clock.EndWait()
		select {
		case msg := <-mb.ch:
			return msg, nil
		case <-mb.closed:
			return drainOrClosed(mb)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timeoutCh, cancel := clock.RegisterTimeout(timeout)
	defer cancel()
	select {
	case msg := <-mb.ch:
		return msg, nil
	case <-mb.closed:
		return drainOrClosed(mb)
	case <-timeoutCh:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drainOrClosed returns any message still buffered in a just-closed mailbox
// before reporting ErrMailboxClosed, so in-flight sends aren't silently lost.
func drainOrClosed(mb *Mailbox) (Message, error) {
	select {
	case msg := <-mb.ch:
		return msg, nil
	default:
		return nil, ErrMailboxClosed
	}
}

// Handle is a reference to a spawned actor, letting the spawner wait for it
// to exit (used for clean shutdown ordering, §4.4/§5).
type Handle struct {
	Host    string
	Name    string
	Mailbox *Mailbox
	done    chan struct{}
}

// Done returns a channel closed once the actor's main function returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Spawn starts main on a goroutine bound to host, with a fresh mailbox
// registered for it, and registers the actor with the clock for quiescence
// accounting (§4.1: "spawn(host, main_fn) — starts the actor; main_fn runs
// until it returns").
func (s *System) Spawn(host, name string, main func(ctx context.Context, mb *Mailbox)) *Handle {
	mb := s.Register(Name(name))
	h := &Handle{Host: host, Name: name, Mailbox: mb, done: make(chan struct{})}
	s.Clock.RegisterActor()
	go func() {
		defer close(h.done)
		defer s.Clock.UnregisterActor()
		defer s.Unregister(Name(name))
		main(context.Background(), mb)
	}()
	return h
}
