package modem

import "errors"

var (
	// ErrNoDialer is returned when an Engine is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when a command is submitted before the
	// link has ever been initialized, or when a Dialer hands back no
	// Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on an Engine that has
	// already been closed, and by every operation attempted afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still running.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrWriteFailure is returned when the transport did not accept the
	// command bytes. It is retried by the command queue.
	ErrWriteFailure = errors.New("write failure")

	// ErrCommandTimeout is returned when neither a matching nor an error
	// line arrived before the command deadline. It is retried by the
	// command queue.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrModemError is returned when the modem answered with an ERROR or
	// FAIL line. The wrapping error carries the line. It is retried by the
	// command queue.
	ErrModemError = errors.New("modem error")

	// ErrLinkClosed is returned when the link closed while a command was in
	// flight. It is never retried; the supervisor recovers the link
	// separately.
	ErrLinkClosed = errors.New("link closed")

	// ErrQueueCleared is returned to every command still pending when the
	// queue is cleared, usually because the link went away.
	ErrQueueCleared = errors.New("queue cleared")

	// ErrLinkUnavailable is returned when a command waited for the link to
	// come back for longer than the configured link wait.
	ErrLinkUnavailable = errors.New("link unavailable")

	// ErrReconnectExhausted is returned when every reconnect attempt failed.
	// It is fatal for the session: commands fail fast until Initialize is
	// called again.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrInvalidRecipient is returned for a recipient that is not a phone
	// number. Nothing is written to the modem.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidMessage is returned for a message body carrying the SMS
	// terminator or the escape character. Nothing is written to the modem.
	ErrInvalidMessage = errors.New("invalid message")
)

// retryable reports whether the command queue may retry a failure.
func retryable(err error) bool {
	return errors.Is(err, ErrWriteFailure) ||
		errors.Is(err, ErrCommandTimeout) ||
		errors.Is(err, ErrModemError)
}
