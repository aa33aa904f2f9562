package modem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"

	"i4.energy/across/piguard/at"
)

// maxLineLength bounds a single response line. Anything longer is a
// framing error, not a modem reply.
const maxLineLength = 4096

// link owns one open Transport. A reader goroutine frames the byte stream
// into trimmed, non-empty lines and delivers them on lines until the
// Transport fails or the link is closed; lines is then closed and err
// reports why.
type link struct {
	transport Transport
	logger    *slog.Logger

	lines chan string
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	// err is only valid after lines has been closed.
	err error
}

func openLink(t Transport, logger *slog.Logger) *link {
	l := &link{
		transport: t,
		logger:    logger,
		lines:     make(chan string, 16),
		done:      make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *link) readLoop() {
	defer close(l.lines)

	scanner := bufio.NewScanner(l.transport)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)
	scanner.Split(at.Splitter)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.logger.Debug("<<", "line", at.Printable(line))
		select {
		case l.lines <- line:
		case <-l.done:
			return
		}
	}

	err := scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		err = ErrLineTooLong
	case err == nil:
		err = ErrLinkClosed
	}
	l.err = err
}

// writeCommand sends text followed by the line terminator.
func (l *link) writeCommand(text string) error {
	l.logger.Debug(">>", "line", at.Printable(text))
	return l.write(strings.TrimSpace(text) + at.CRLF)
}

// writeRaw sends payload verbatim, without a terminator.
func (l *link) writeRaw(payload string) error {
	l.logger.Debug(">>", "raw", at.Printable(payload))
	return l.write(payload)
}

func (l *link) write(s string) error {
	n, err := l.transport.Write([]byte(s))
	switch {
	case closedTransport(err):
		return fmt.Errorf("%w: %w", ErrLinkClosed, err)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	if n < len(s) {
		return fmt.Errorf("%w: short write %d of %d bytes", ErrWriteFailure, n, len(s))
	}
	return nil
}

// closedTransport reports whether a write failed because the transport is
// gone rather than busy.
func closedTransport(err error) bool {
	if err == nil {
		return false
	}
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
		return true
	}
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}

func (l *link) close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.transport.Close()
	})
	return l.closeErr
}
