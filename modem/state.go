package modem

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
)

// LinkState is the lifecycle state of the link to the modem.
type LinkState string

const (
	// LinkStateClosed means no usable link. Commands wait for recovery, or
	// fail fast once recovery has been exhausted.
	LinkStateClosed LinkState = "closed"
	// LinkStateOpen means the link is up and initialized.
	LinkStateOpen LinkState = "open"
	// LinkStateReconnecting means the supervisor is re-establishing the link.
	LinkStateReconnecting LinkState = "reconnecting"
)

const (
	eventConnect   = "connect"
	eventLose      = "lose"
	eventReconnect = "reconnect"
	eventRecover   = "recover"
	eventGiveUp    = "give_up"
	eventShutdown  = "shutdown"
)

// linkMachine drives LinkState transitions. It is safe for concurrent use;
// changed is called after every transition.
type linkMachine struct {
	fsm *fsm.FSM
}

func newLinkMachine(logger *slog.Logger, changed func()) *linkMachine {
	closed, open, reconnecting := string(LinkStateClosed), string(LinkStateOpen), string(LinkStateReconnecting)

	return &linkMachine{
		fsm: fsm.NewFSM(
			closed,
			fsm.Events{
				{Name: eventConnect, Src: []string{closed}, Dst: open},
				{Name: eventLose, Src: []string{open}, Dst: closed},
				{Name: eventReconnect, Src: []string{closed}, Dst: reconnecting},
				{Name: eventRecover, Src: []string{reconnecting}, Dst: open},
				{Name: eventGiveUp, Src: []string{reconnecting}, Dst: closed},
				{Name: eventShutdown, Src: []string{open, reconnecting}, Dst: closed},
			},
			fsm.Callbacks{
				"enter_state": func(_ context.Context, e *fsm.Event) {
					logger.Info("link state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
					changed()
				},
			},
		),
	}
}

func (m *linkMachine) current() LinkState {
	return LinkState(m.fsm.Current())
}

func (m *linkMachine) is(s LinkState) bool {
	return m.fsm.Is(string(s))
}

// fire applies event. Transitions are synchronous and must not be aborted
// half way, so the caller's context is not passed to the machine.
func (m *linkMachine) fire(event string) error {
	err := m.fsm.Event(context.Background(), event)
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return nil
	}
	return err
}
