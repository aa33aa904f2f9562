package modem

import (
	"fmt"
	"strings"
	"time"

	"i4.energy/across/piguard/at"
)

// expectation is the single command awaiting its response.
type expectation struct {
	req      *commandRequest
	deadline time.Time
	timeout  time.Duration
	lines    []string
}

// outcome is how a command in flight was settled.
type outcome struct {
	req  *commandRequest
	resp string
	err  error
}

// correlator matches received lines to the command in flight. It is Idle
// when inflight is nil and Awaiting otherwise. It is owned by the engine
// loop and is not safe for concurrent use.
type correlator struct {
	inflight *expectation
}

func (c *correlator) idle() bool {
	return c.inflight == nil
}

// await enters Awaiting for req.
func (c *correlator) await(req *commandRequest, now time.Time, timeout time.Duration) {
	c.inflight = &expectation{req: req, deadline: now.Add(timeout), timeout: timeout}
}

// feed offers a received line to the command in flight. When the line
// settles the command, feed returns its outcome and the correlator is Idle
// again. Error tokens are checked before the expected token, so an ERROR
// line can never satisfy a match.
//
// A line received while Idle is unsolicited; feed returns nil and
// unsolicited true.
func (c *correlator) feed(line string) (out *outcome, unsolicited bool) {
	if c.inflight == nil {
		return nil, true
	}
	x := c.inflight
	x.lines = append(x.lines, line)

	switch {
	case at.IsError(line):
		c.inflight = nil
		return &outcome{req: x.req, err: fmt.Errorf("%w: %s", ErrModemError, line)}, false
	case at.Matches(line, x.req.expect):
		c.inflight = nil
		return &outcome{req: x.req, resp: strings.Join(x.lines, "\n")}, false
	default:
		return nil, false
	}
}

// expire rejects the command in flight when its deadline has passed.
func (c *correlator) expire(now time.Time) *outcome {
	if c.inflight == nil || now.Before(c.inflight.deadline) {
		return nil
	}
	x := c.inflight
	c.inflight = nil
	err := fmt.Errorf("%w: %s after %s", ErrCommandTimeout, at.Printable(x.req.text), x.timeout)
	return &outcome{req: x.req, err: err}
}

// abort drops the command in flight, if any, and returns it.
func (c *correlator) abort() *commandRequest {
	if c.inflight == nil {
		return nil
	}
	req := c.inflight.req
	c.inflight = nil
	return req
}

// deadline returns the deadline of the command in flight.
func (c *correlator) deadline() (time.Time, bool) {
	if c.inflight == nil {
		return time.Time{}, false
	}
	return c.inflight.deadline, true
}
