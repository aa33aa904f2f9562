package modem

import (
	"io"
	"sync"

	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/piguard/at"
)

// mockSequence scripts a MockTransport as a modem. Each expected write
// queues its reply for the reader; reads block until a reply is queued or
// the transport is closed. Build returns the writes and the close, in
// order, for gomock.InOrder.
type mockSequence struct {
	transport *MockTransport
	calls     []any

	replies   chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockSequence(transport *MockTransport) *mockSequence {
	s := &mockSequence{
		transport: transport,
		replies:   make(chan string, 16),
		closed:    make(chan struct{}),
	}
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(s.read).AnyTimes()
	return s
}

func (s *mockSequence) read(p []byte) (int, error) {
	select {
	case r := <-s.replies:
		return copy(p, r), nil
	case <-s.closed:
		return 0, io.EOF
	}
}

// Expect adds a command and the reply the modem sends for it.
func (s *mockSequence) Expect(cmd, reply string) *mockSequence {
	return s.expectWire([]byte(cmd+at.CRLF), reply)
}

// ExpectRaw adds a payload written without a line terminator.
func (s *mockSequence) ExpectRaw(payload, reply string) *mockSequence {
	return s.expectWire([]byte(payload), reply)
}

func (s *mockSequence) expectWire(wire []byte, reply string) *mockSequence {
	s.calls = append(s.calls,
		s.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			if reply != "" {
				s.replies <- reply
			}
			return len(p), nil
		}),
	)
	return s
}

// FailWrite adds a write of cmd that the transport rejects.
func (s *mockSequence) FailWrite(cmd string, err error) *mockSequence {
	s.calls = append(s.calls,
		s.transport.EXPECT().Write([]byte(cmd+at.CRLF)).Return(0, err),
	)
	return s
}

// Init adds the link initialization sequence, answered with OK, and the
// registration query, answered with a home network registration.
func (s *mockSequence) Init() *mockSequence {
	for _, cmd := range initSequence {
		s.Expect(cmd, "OK\r\n")
	}
	return s.Expect(at.CmdRegistration, "+CREG: 0,1\r\nOK\r\n")
}

// Close adds the final Close of the transport.
func (s *mockSequence) Close(err error) *mockSequence {
	s.calls = append(s.calls,
		s.transport.EXPECT().Close().DoAndReturn(func() error {
			s.closeOnce.Do(func() { close(s.closed) })
			return err
		}),
	)
	return s
}

func (s *mockSequence) Build() []any {
	return s.calls
}
