package modem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"i4.energy/across/piguard/at"
)

// fakeModem is an in-memory Transport that answers written commands the
// way a scripted modem would. Reads block until a reply is queued or the
// modem is closed, like a real serial port.
type fakeModem struct {
	mu         sync.Mutex
	script     map[string][]string
	written    []string
	failWrites int
	// writesClosed makes writes report a closed transport while reads
	// still block
	writesClosed bool

	incoming chan string
	done     chan struct{}
	once     sync.Once

	// pending is only touched by the reader goroutine
	pending string
}

func newFakeModem() *fakeModem {
	return &fakeModem{
		script:   make(map[string][]string),
		incoming: make(chan string, 64),
		done:     make(chan struct{}),
	}
}

// reply scripts the answers to cmd, one per write. The last answer is
// repeated; an empty answer means silence. Unscripted commands are
// answered with OK, the SMS recipient step with the prompt and an SMS body
// with a message reference.
func (f *fakeModem) reply(cmd string, answers ...string) *fakeModem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[cmd] = answers
	return f
}

// failNextWrites makes the next n writes fail.
func (f *fakeModem) failNextWrites(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = n
}

// closeWrites makes every further write fail with io.ErrClosedPipe.
func (f *fakeModem) closeWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writesClosed = true
}

func (f *fakeModem) Write(p []byte) (int, error) {
	select {
	case <-f.done:
		return 0, io.ErrClosedPipe
	default:
	}

	cmd := strings.TrimSuffix(string(p), at.CRLF)

	f.mu.Lock()
	if f.writesClosed {
		f.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if f.failWrites > 0 {
		f.failWrites--
		f.mu.Unlock()
		return 0, errors.New("device busy")
	}
	f.written = append(f.written, cmd)
	answer := f.answer(cmd)
	f.mu.Unlock()

	if answer != "" {
		f.push(answer)
	}
	return len(p), nil
}

func (f *fakeModem) answer(cmd string) string {
	if answers, ok := f.script[cmd]; ok && len(answers) > 0 {
		a := answers[0]
		if len(answers) > 1 {
			f.script[cmd] = answers[1:]
		}
		return a
	}
	switch {
	case strings.HasSuffix(cmd, at.CtrlZ):
		return "+CMGS: 7\r\nOK"
	case strings.HasPrefix(cmd, "AT+CMGS="):
		return at.Prompt
	default:
		return at.OK
	}
}

func (f *fakeModem) push(answer string) {
	if answer != at.Prompt {
		answer += at.CRLF
	}
	select {
	case f.incoming <- answer:
	case <-f.done:
	}
}

// inject delivers an unsolicited line.
func (f *fakeModem) inject(line string) {
	f.push(line)
}

func (f *fakeModem) Read(p []byte) (int, error) {
	if f.pending == "" {
		select {
		case s := <-f.incoming:
			f.pending = s
		case <-f.done:
			return 0, io.EOF
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeModem) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// drop simulates the device going away.
func (f *fakeModem) drop() {
	_ = f.Close()
}

func (f *fakeModem) isClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeModem) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.written)
}

func (f *fakeModem) count(cmd string) int {
	n := 0
	for _, c := range f.sent() {
		if c == cmd {
			n++
		}
	}
	return n
}

// sentAfterInit drops the initialization sequence and the registration
// query from the recorded writes.
func (f *fakeModem) sentAfterInit(t *testing.T) []string {
	t.Helper()
	sent := f.sent()
	n := len(initSequence) + 1
	if len(sent) < n {
		t.Fatalf("expected the init sequence to be sent, got %q", sent)
	}
	return sent[n:]
}

func initWrites() []string {
	return append(slices.Clone(initSequence), at.CmdRegistration)
}

func testConfig(dialer Dialer) *ConfigBuilder {
	return NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(slog.New(slog.DiscardHandler)).
		WithATTimeout(200 * time.Millisecond).
		WithStartupDelay(-1).
		WithSettleDelay(time.Millisecond).
		WithReconnectBackoff(10 * time.Millisecond).
		WithLinkWaitTimeout(time.Second)
}

// startEngine builds an Engine and runs its Loop until the test ends.
// setup runs before the Loop starts.
func startEngine(t *testing.T, b *ConfigBuilder, setup ...func(*Engine)) *Engine {
	t.Helper()

	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	e, err := New(config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	for _, fn := range setup {
		fn(e)
	}

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- e.Loop(context.Background())
	}()
	t.Cleanup(func() {
		_ = e.Close()
		<-loopDone
	})
	return e
}

// startInitialized is startEngine followed by a successful Initialize.
func startInitialized(t *testing.T, b *ConfigBuilder, setup ...func(*Engine)) *Engine {
	t.Helper()
	e := startEngine(t, b, setup...)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error from Initialize(): %v", err)
	}
	return e
}

// eventually fails the test when cond does not hold within two seconds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type execResult struct {
	resp string
	err  error
}

// goExec runs exec in the background.
func goExec(e *Engine, cmd, expect string) <-chan execResult {
	ch := make(chan execResult, 1)
	go func() {
		resp, err := e.exec(context.Background(), cmd, expect)
		ch <- execResult{resp, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan execResult) execResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("command did not complete")
		return execResult{}
	}
}
