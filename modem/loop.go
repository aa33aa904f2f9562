package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/piguard/at"
)

// Loop is the event loop that owns the link, the command queue and the
// response correlator. It must be running for any command to be executed,
// including the ones Initialize sends. The Loop coordinates all
// communication with the modem:
//
//  1. Queues submitted commands and dispatches them one at a time
//  2. Feeds received lines to the command in flight
//  3. Enforces command deadlines and the bounded link wait
//  4. Retries failed commands ahead of everything else queued
//  5. Clears the queue and requests recovery when the link is lost
//  6. Dispatches unsolicited lines to URC subscribers
//
// Loop runs until ctx is cancelled or Close is called. A lost link does not
// stop it. When Loop returns every pending command has been failed and the
// link is closed; it may be called again unless the engine was closed.
//
// Usage:
//
//	engine, err := modem.New(config)
//	if err != nil { return err }
//
//	go engine.Loop(ctx)
//
//	if err := engine.Initialize(ctx); err != nil { return err }
func (e *Engine) Loop(ctx context.Context) error {
	done, err := e.enterLoop()
	if err != nil {
		return err
	}
	defer e.leaveLoop(done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.loopCtx, cancel)
	defer stop()

	r := &run{e: e, ctx: runCtx, timer: time.NewTimer(time.Hour)}
	r.timer.Stop()
	defer r.timer.Stop()

	return r.serve()
}

func (e *Engine) enterLoop() (chan struct{}, error) {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	if e.loopDone != nil {
		return nil, ErrLoopRunning
	}
	e.loopDone = make(chan struct{})
	e.closeErr = nil
	return e.loopDone, nil
}

func (e *Engine) leaveLoop(done chan struct{}) {
	e.loopMu.Lock()
	e.loopDone = nil
	e.loopMu.Unlock()
	close(done)
}

// run is the state of one Loop invocation. Only the Loop goroutine touches
// it.
type run struct {
	e   *Engine
	ctx context.Context

	link  *link
	queue commandQueue
	corr  correlator
	timer *time.Timer

	// idleError is the last error line that arrived with nothing in
	// flight since the previous write.
	idleError string
}

func (r *run) serve() error {
	for {
		r.step(r.e.now())

		var lines <-chan string
		if r.link != nil {
			lines = r.link.lines
		}

		select {
		case <-r.ctx.Done():
			return r.shutdown()

		case req := <-r.e.commands:
			r.accept(req, r.e.now())

		case l := <-r.e.attach:
			if r.link != nil {
				r.drop(ErrLinkClosed)
			}
			r.link = l

		case l := <-r.e.detach:
			if r.link == l {
				r.drop(ErrLinkClosed)
			}
			_ = l.close()

		case line, ok := <-lines:
			if !ok {
				r.lost()
				continue
			}
			r.receive(line)

		case <-r.timer.C:
			r.expire(r.e.now())

		case <-r.e.wake:
			// Link state changed; step re-evaluates what can be dispatched.
		}
	}
}

// step runs after every event: it fails what can no longer succeed,
// dispatches what can, publishes the status and re-arms the timer.
func (r *run) step(now time.Time) {
	open := r.e.state.is(LinkStateOpen)
	if !open && r.e.fatal.Load() {
		for _, req := range r.queue.remove(isUserRequest) {
			req.fail(ErrReconnectExhausted)
		}
	}
	r.dispatch(now, open)
	r.publish()
	r.arm(open)
}

func (r *run) accept(req *commandRequest, now time.Time) {
	if req.system {
		if r.link == nil {
			req.fail(ErrLinkClosed)
			return
		}
		r.queue.push(req)
		return
	}

	if r.e.fatal.Load() {
		req.fail(ErrReconnectExhausted)
		return
	}
	switch r.e.state.current() {
	case LinkStateOpen:
	case LinkStateClosed:
		req.waitUntil = now.Add(r.e.config.LinkWaitTimeout)
		r.requestRecovery()
	default:
		req.waitUntil = now.Add(r.e.config.LinkWaitTimeout)
	}
	r.queue.push(req)
}

func (r *run) dispatch(now time.Time, open bool) {
	for r.link != nil && r.corr.idle() {
		req := r.queue.next(open)
		if req == nil {
			return
		}

		idleError := r.idleError
		r.idleError = ""
		if req.abortOnError && idleError != "" {
			r.e.logger.Warn("command aborted", "command", at.Printable(req.text), "line", idleError)
			req.fail(fmt.Errorf("%w: %s", ErrModemError, idleError))
			continue
		}

		r.e.logger.Debug("dispatching command", "command", at.Printable(req.text), "retry", req.retries)
		var err error
		if req.raw {
			err = r.link.writeRaw(req.text)
		} else {
			err = r.link.writeCommand(req.text)
		}
		switch {
		case errors.Is(err, ErrLinkClosed):
			r.writeLost(req, err)
			return
		case err != nil:
			r.settle(&outcome{req: req, err: err})
		case req.expect == "":
			req.resolve("")
		default:
			r.corr.await(req, now, r.e.config.ATTimeout)
		}
	}
}

// settle completes a command, or requeues it at the head of the queue when
// its failure is retryable and it has retries left.
func (r *run) settle(out *outcome) {
	req := out.req
	if out.err == nil {
		req.resolve(out.resp)
		return
	}
	if r.queue.retry(req, out.err) {
		r.e.logger.Warn("retrying command",
			"command", at.Printable(req.text), "retry", req.retries, "max", req.retryLimit, "error", out.err)
		return
	}
	r.e.logger.Error("command failed",
		"command", at.Printable(req.text), "retries", req.retries, "error", out.err)
	req.fail(out.err)
}

func (r *run) receive(line string) {
	out, unsolicited := r.corr.feed(line)
	if out != nil {
		r.settle(out)
	}

	switch kind := at.Classify(line); {
	case kind == at.TypePrompt:
		// The SMS prompt carries no information once the recipient step
		// has been written.
	case unsolicited:
		r.e.logger.Debug("unsolicited line", "line", line)
		if at.IsError(line) {
			r.idleError = line
		}
		r.e.publishURC(line)
	case kind == at.TypeURC:
		r.e.publishURC(line)
	}
}

func (r *run) expire(now time.Time) {
	if out := r.corr.expire(now); out != nil {
		r.settle(out)
	}
	if r.e.state.is(LinkStateOpen) {
		return
	}
	for _, req := range r.queue.expire(now) {
		req.fail(fmt.Errorf("%w after %s", ErrLinkUnavailable, r.e.config.LinkWaitTimeout))
	}
}

// lost handles the reader of the current link giving up.
func (r *run) lost() {
	cause := r.link.err
	if cause == nil {
		cause = ErrLinkClosed
	}
	r.linkLost(cause)
}

// writeLost handles a write that found the transport closed. The command
// never reached the modem, so a user command waits for recovery like any
// other submission; an initialization command fails with its link.
func (r *run) writeLost(req *commandRequest, cause error) {
	r.linkLost(cause)
	if req.system {
		req.fail(cause)
		return
	}
	r.accept(req, r.e.now())
}

func (r *run) linkLost(cause error) {
	err := cause
	if !errors.Is(cause, ErrLinkClosed) {
		err = fmt.Errorf("%w: %w", ErrLinkClosed, cause)
	}
	r.e.logger.Warn("link lost", "error", cause, "state", r.e.state.current())

	r.drop(err)
	if r.e.state.is(LinkStateOpen) {
		_ = r.e.state.fire(eventLose)
		r.clear(err)
		r.requestRecovery()
	}
}

// drop closes the current link. The command in flight and any queued
// initialization commands fail with err; user commands stay queued.
func (r *run) drop(err error) {
	_ = r.link.close()
	r.link = nil
	if req := r.corr.abort(); req != nil {
		req.fail(err)
	}
	for _, req := range r.queue.remove(isSystemRequest) {
		req.fail(err)
	}
}

// clear fails the command in flight and every queued command.
func (r *run) clear(cause error) {
	err := fmt.Errorf("%w: %w", ErrQueueCleared, cause)
	if req := r.corr.abort(); req != nil {
		req.fail(err)
	}
	pending := r.queue.drain()
	for _, req := range pending {
		req.fail(err)
	}
	if len(pending) > 0 {
		r.e.logger.Warn("queue cleared", "commands", len(pending), "cause", cause)
	}
}

// requestRecovery asks the supervisor to re-establish the link. Requests made
// while a recovery is running join it.
func (r *run) requestRecovery() {
	go func() {
		_ = r.e.reconnect(r.ctx)
	}()
}

func (r *run) shutdown() error {
	cause := r.ctx.Err()
	if r.e.closed.Load() {
		cause = ErrAlreadyClosed
	}
	r.clear(cause)
	if r.link != nil {
		r.e.closeErr = r.link.close()
		r.link = nil
	}
	_ = r.e.state.fire(eventShutdown)
	r.publish()

	if r.e.closed.Load() {
		return nil
	}
	return r.ctx.Err()
}

func (r *run) publish() {
	snap := loopSnapshot{
		linkOpen:   r.link != nil,
		queueDepth: r.queue.len(),
	}
	if x := r.corr.inflight; x != nil {
		snap.inFlight = at.Printable(x.req.text)
	}
	r.e.statusMu.Lock()
	r.e.snapshot = snap
	r.e.statusMu.Unlock()
}

// arm sets the timer to the nearest command or link wait deadline.
func (r *run) arm(open bool) {
	next, ok := r.corr.deadline()
	if !open {
		if w, waiting := r.queue.earliestWait(); waiting && (!ok || w.Before(next)) {
			next, ok = w, true
		}
	}
	if !ok {
		r.timer.Stop()
		return
	}
	r.timer.Reset(next.Sub(r.e.now()))
}

func isSystemRequest(req *commandRequest) bool {
	return req.system
}

func isUserRequest(req *commandRequest) bool {
	return !req.system
}
