package modem

import (
	"context"
	"fmt"

	"github.com/jpillora/backoff"

	"i4.energy/across/piguard/at"
	"i4.energy/across/piguard/diag"
)

// linkFlight is the singleflight key shared by Initialize and reconnect, so
// at most one attempt to establish the link runs at a time.
const linkFlight = "link"

// initSequence is run, in order, every time a link is established.
var initSequence = []string{
	at.CmdAt,
	at.CmdEchoOff,
	at.CmdTextMode,
	at.CmdNotifyMode,
	at.CmdCharsetGSM,
}

// Initialize opens the link and runs the initialization sequence. It is a
// single attempt bounded by Config.InitTimeout; Loop must be running. Once
// Initialize has succeeded the engine recovers lost links on its own.
// Calling Initialize again after reconnecting was exhausted starts a new
// session.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.closed.Load() {
		return ErrAlreadyClosed
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.InitTimeout)
	defer cancel()

	return e.coalesce(ctx, func() error {
		if e.state.is(LinkStateOpen) {
			return nil
		}
		if err := e.establish(ctx); err != nil {
			return fmt.Errorf("initialize modem: %w", err)
		}
		e.fatal.Store(false)
		e.initialized.Store(true)
		return e.state.fire(eventConnect)
	})
}

// reconnect re-establishes a lost link, making up to MaxReconnectAttempts
// attempts separated by ReconnectBackoff. Exhausting them is fatal for the
// session.
func (e *Engine) reconnect(ctx context.Context) error {
	return e.coalesce(ctx, func() error {
		if !e.state.is(LinkStateClosed) || !e.initialized.Load() || e.fatal.Load() || ctx.Err() != nil {
			return nil
		}
		if err := e.state.fire(eventReconnect); err != nil {
			return err
		}

		b := &backoff.Backoff{
			Min:    e.config.ReconnectBackoff,
			Max:    e.config.ReconnectBackoff,
			Factor: 1,
		}
		attempts := e.config.MaxReconnectAttempts

		var err error
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				if serr := sleep(ctx, b.Duration()); serr != nil {
					_ = e.state.fire(eventShutdown)
					return serr
				}
			}

			e.logger.Info("reconnecting", "attempt", attempt, "max", attempts)
			if err = e.establish(ctx); err == nil {
				e.logger.Info("link recovered", "attempt", attempt)
				return e.state.fire(eventRecover)
			}
			if ctx.Err() != nil {
				_ = e.state.fire(eventShutdown)
				return ctx.Err()
			}
			e.logger.Warn("reconnect attempt failed", "attempt", attempt, "max", attempts, "error", err)
		}

		e.fatal.Store(true)
		_ = e.state.fire(eventGiveUp)
		e.logger.Error("reconnect attempts exhausted", "attempts", attempts, "error", err)
		return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempts, err)
	})
}

// coalesce runs fn unless an attempt is already running, in which case it
// waits for that attempt's result instead.
func (e *Engine) coalesce(ctx context.Context, fn func() error) error {
	ch := e.flight.DoChan(linkFlight, func() (any, error) {
		return nil, fn()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// establish makes one attempt to dial the modem, hand the link to the Loop
// and initialize it. A link that fails initialization is closed again.
func (e *Engine) establish(ctx context.Context) error {
	t, err := e.config.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial modem: %w", err)
	}
	if t == nil {
		return ErrNotInitialized
	}

	l := openLink(t, e.logger)
	if err := deliver(ctx, e, e.attach, l); err != nil {
		_ = l.close()
		return err
	}

	if err := e.initLink(ctx); err != nil {
		if derr := deliver(ctx, e, e.detach, l); derr != nil {
			_ = l.close()
		}
		return err
	}
	return nil
}

func (e *Engine) initLink(ctx context.Context) error {
	// The modem needs a moment after the port opens before it answers.
	if err := sleep(ctx, e.config.startupDelay()); err != nil {
		return err
	}

	for _, cmd := range initSequence {
		if _, err := e.execSystem(ctx, cmd); err != nil {
			return fmt.Errorf("init %s: %w", cmd, err)
		}
	}

	resp, err := e.execSystem(ctx, at.CmdRegistration)
	if err != nil {
		e.logger.Warn("registration query failed", "error", err)
		return nil
	}
	if rec, ok := diag.ParseRegistrationRecord(resp); ok {
		e.mergeDiagnostics(rec)
	}
	return nil
}
