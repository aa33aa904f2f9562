package modem

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"i4.energy/across/piguard/at"
	"i4.energy/across/piguard/diag"
)

// Engine drives a GSM modem over AT commands. All transport I/O happens in
// Loop; callers submit commands to it over channels, so every exported
// method is safe for concurrent use.
//
// Exactly one command is on the wire at any time. A failed command is
// retried before anything queued behind it, and a lost link is recovered
// by the engine itself.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
	start  time.Time

	// commands carries submissions to the Loop
	commands chan *commandRequest
	// attach and detach hand links between the supervisor and the Loop
	attach chan *link
	detach chan *link
	// urcChan receives unsolicited lines, dropped when full
	urcChan chan string
	// wake nudges the Loop after a link state change
	wake chan struct{}

	state  *linkMachine
	flight singleflight.Group

	closed *atomic.Bool
	// initialized is set by the first successful Initialize
	initialized *atomic.Bool
	// fatal is set when reconnecting has been exhausted and cleared by
	// the next successful Initialize
	fatal *atomic.Bool

	// workflow serializes multi-command operations, so an SMS recipient
	// prompt is never interleaved with another workflow's commands.
	workflow sync.Mutex

	statusMu sync.RWMutex
	snapshot loopSnapshot

	diagMu      sync.RWMutex
	diagnostics diag.Record

	loopMu   sync.Mutex
	loopDone chan struct{}
	// closeErr is the error from closing the link when the last Loop ended
	closeErr error

	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// Status is a point-in-time view of the engine.
type Status struct {
	// Ready reports whether the engine is initialized and the link is open.
	Ready bool `json:"ready"`
	// LinkOpen reports whether a transport is currently attached.
	LinkOpen  bool      `json:"linkOpen"`
	LinkState LinkState `json:"linkState"`
	// QueueDepth counts the commands waiting for their turn.
	QueueDepth int `json:"queueDepth"`
	// InFlightCommand is the command awaiting its response, if any.
	InFlightCommand string `json:"inFlightCommand,omitempty"`
}

// loopSnapshot is the part of Status owned by the Loop.
type loopSnapshot struct {
	linkOpen   bool
	queueDepth int
	inFlight   string
}

// New creates an Engine with the given configuration. No I/O happens until
// Loop is running and Initialize is called.
func New(config Config) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()
	config.Recipients = slices.Clone(config.Recipients)

	e := &Engine{
		config:      config,
		logger:      config.Logger.With("component", "modem"),
		now:         time.Now,
		commands:    make(chan *commandRequest),
		attach:      make(chan *link),
		detach:      make(chan *link),
		urcChan:     make(chan string, 100),
		wake:        make(chan struct{}, 1),
		closed:      atomic.NewBool(false),
		initialized: atomic.NewBool(false),
		fatal:       atomic.NewBool(false),
	}
	e.start = e.now()
	e.state = newLinkMachine(e.logger, e.poke)
	e.loopCtx, e.loopCancel = context.WithCancel(context.Background())
	return e, nil
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	snap := e.snapshot
	e.statusMu.RUnlock()

	state := e.state.current()
	return Status{
		Ready:           e.initialized.Load() && !e.closed.Load() && state == LinkStateOpen,
		LinkOpen:        snap.linkOpen,
		LinkState:       state,
		QueueDepth:      snap.queueDepth,
		InFlightCommand: snap.inFlight,
	}
}

// URC returns a read-only channel that receives unsolicited lines, such as
// new message notifications. The channel is buffered, but lines are dropped
// when it is not consumed fast enough.
func (e *Engine) URC() <-chan string {
	return e.urcChan
}

// Diagnostics returns a copy of the diagnostics gathered so far.
func (e *Engine) Diagnostics() diag.Record {
	e.diagMu.RLock()
	defer e.diagMu.RUnlock()
	return e.diagnostics.Clone()
}

// Close stops the Loop, fails every pending command and closes the link.
// The engine cannot be reused afterwards.
func (e *Engine) Close() error {
	e.loopMu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.loopMu.Unlock()
		return ErrAlreadyClosed
	}
	done := e.loopDone
	e.loopMu.Unlock()

	e.loopCancel()
	if done != nil {
		<-done
	}
	_ = e.state.fire(eventShutdown)
	return e.closeErr
}

func (e *Engine) mergeDiagnostics(r diag.Record) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	e.diagnostics.Merge(r)
}

func (e *Engine) uptime() time.Duration {
	return e.now().Sub(e.start)
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) publishURC(line string) {
	select {
	case e.urcChan <- line:
	default:
		e.logger.Warn("URC dropped", "line", line)
	}
}

func (e *Engine) newRequest(text, expect string) *commandRequest {
	req := newCommandRequest(text, expect, e.now())
	req.retryLimit = e.config.retryLimit()
	return req
}

// exec sends a command and waits for the line containing expect. An empty
// expect returns as soon as the command has been written.
func (e *Engine) exec(ctx context.Context, cmd, expect string) (string, error) {
	return e.submit(ctx, e.newRequest(cmd, expect))
}

// execSystem runs one command of the link initialization sequence. It is
// dispatched even though the link is not open yet.
func (e *Engine) execSystem(ctx context.Context, cmd string) (string, error) {
	req := e.newRequest(cmd, at.OK)
	req.system = true
	return e.submit(ctx, req)
}

func (e *Engine) submit(ctx context.Context, req *commandRequest) (string, error) {
	if e.closed.Load() {
		return "", ErrAlreadyClosed
	}
	if !req.system {
		if !e.initialized.Load() {
			return "", ErrNotInitialized
		}
		if e.fatal.Load() {
			return "", ErrReconnectExhausted
		}
	}

	if err := deliver(ctx, e, e.commands, req); err != nil {
		return "", err
	}

	// The Loop settles every request it accepted, so only the caller's
	// own context can end this wait early.
	select {
	case resp := <-req.respChan:
		return resp.response, resp.err
	case <-ctx.Done():
		return "", fmt.Errorf("command %s: %w", at.Printable(req.text), ctx.Err())
	}
}

// deliver hands v to the Loop. A Loop that is not running within the link
// wait fails the handoff with ErrLinkUnavailable.
func deliver[T any](ctx context.Context, e *Engine, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	default:
	}

	t := time.NewTimer(e.config.LinkWaitTimeout)
	defer t.Stop()
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.loopCtx.Done():
		return ErrAlreadyClosed
	case <-t.C:
		return fmt.Errorf("%w: modem loop not running after %s", ErrLinkUnavailable, e.config.LinkWaitTimeout)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
