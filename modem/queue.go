package modem

import (
	"slices"
	"time"
)

// commandRequest represents an AT command request to be executed by the Loop.
// It is owned by the command queue until it is resolved or permanently
// failed; only retries is mutated after creation.
type commandRequest struct {
	// text is the command, or the payload when raw is set
	text string
	// expect is the token that completes the command; empty means the
	// command resolves as soon as it has been written
	expect string
	// raw payloads are written verbatim, without a line terminator
	raw bool
	// system commands belong to the link initialization sequence and may
	// be dispatched before the link is open
	system bool
	// abortOnError fails the command unwritten when the modem reported an
	// error since the previous command was written
	abortOnError bool
	// retryLimit is the number of retries this command is allowed
	retryLimit int
	// retries counts the retries used so far
	retries int

	createdAt time.Time
	// waitUntil bounds the time spent waiting for the link to open
	waitUntil time.Time

	// respChan receives exactly one commandResponse
	respChan chan commandResponse
}

// commandResponse contains the result of an AT command execution.
type commandResponse struct {
	// response contains the lines received since the command was written
	response string
	// err contains any error that occurred during command execution
	err error
}

func newCommandRequest(text, expect string, now time.Time) *commandRequest {
	return &commandRequest{
		text:      text,
		expect:    expect,
		createdAt: now,
		respChan:  make(chan commandResponse, 1),
	}
}

func (r *commandRequest) resolve(response string) {
	r.respChan <- commandResponse{response: response}
}

func (r *commandRequest) fail(err error) {
	r.respChan <- commandResponse{err: err}
}

// commandQueue is the FIFO of requests waiting for their turn. It is owned
// by the engine loop and is not safe for concurrent use.
type commandQueue struct {
	items []*commandRequest
}

func (q *commandQueue) len() int {
	return len(q.items)
}

func (q *commandQueue) push(req *commandRequest) {
	q.items = append(q.items, req)
}

func (q *commandQueue) pushFront(req *commandRequest) {
	q.items = slices.Insert(q.items, 0, req)
}

// next removes and returns the next request to dispatch. While the link is
// open that is the head of the queue; otherwise it is the first system
// request, and user requests keep waiting in order.
func (q *commandQueue) next(open bool) *commandRequest {
	for i, req := range q.items {
		if open || req.system {
			q.items = slices.Delete(q.items, i, i+1)
			return req
		}
	}
	return nil
}

// retry puts a failed request back at the head of the queue when the
// failure is retryable and the request has retries left. It reports
// whether the request was requeued. Retries are not delayed.
func (q *commandQueue) retry(req *commandRequest, err error) bool {
	if !retryable(err) || req.retries >= req.retryLimit {
		return false
	}
	req.retries++
	q.pushFront(req)
	return true
}

// expire removes and returns the user requests whose link wait has ended.
func (q *commandQueue) expire(now time.Time) []*commandRequest {
	return q.remove(func(req *commandRequest) bool {
		return !req.system && !req.waitUntil.IsZero() && !now.Before(req.waitUntil)
	})
}

// remove takes every request matching match out of the queue, preserving
// the order of both the removed and the remaining requests.
func (q *commandQueue) remove(match func(*commandRequest) bool) []*commandRequest {
	var removed []*commandRequest
	q.items = slices.DeleteFunc(q.items, func(req *commandRequest) bool {
		if !match(req) {
			return false
		}
		removed = append(removed, req)
		return true
	})
	return removed
}

// earliestWait returns the soonest link wait deadline of the queued user
// requests.
func (q *commandQueue) earliestWait() (time.Time, bool) {
	var earliest time.Time
	for _, req := range q.items {
		if req.system || req.waitUntil.IsZero() {
			continue
		}
		if earliest.IsZero() || req.waitUntil.Before(earliest) {
			earliest = req.waitUntil
		}
	}
	return earliest, !earliest.IsZero()
}

// drain empties the queue and returns what it held, head first.
func (q *commandQueue) drain() []*commandRequest {
	items := q.items
	q.items = nil
	return items
}
