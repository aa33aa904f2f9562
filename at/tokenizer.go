package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also recognizes the SMS
// input prompt ("> "), which the modem emits without a line terminator.
// A lone CR or LF is also accepted as a terminator because some firmware
// only sends one of them; the empty tokens this produces are dropped by the
// reader.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		if j := bytes.IndexAny(data[:i], "\r\n"); j >= 0 {
			return j + 1, data[0:j], nil
		}
		return i + len(CRLF), data[0:i], nil
	}

	// 3. Bare LF, or a CR that is not the last byte seen so far
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[0:i], nil
	}
	if i := bytes.IndexByte(data, '\r'); i >= 0 && i < len(data)-1 {
		return i + 1, data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of a trimmed modem line.
func Classify(line string) ResponseType {
	if line == PromptToken || line == Prompt {
		return TypePrompt
	}

	switch {
	case line == OK, IsError(line):
		return TypeFinal
	case strings.HasPrefix(line, UrcNewMsg), strings.HasPrefix(line, UrcMsgDeliver), line == UrcCall:
		return TypeURC
	default:
		return TypeData
	}
}

// IsError reports whether the line carries an error token. It covers the
// bare ERROR result, +CME ERROR/+CMS ERROR and vendor FAIL reports.
func IsError(line string) bool {
	return strings.Contains(line, ERROR) || strings.Contains(line, FAIL)
}

// Matches reports whether line satisfies the expected token. The match is a
// plain substring test: modem firmware formats its replies loosely, so
// nothing stricter is attempted. An empty token never matches.
func Matches(line, expected string) bool {
	if expected == "" {
		return false
	}
	return line == expected || strings.Contains(line, expected)
}

// Printable renders a payload for logging, replacing the CtrlZ terminator
// with PayloadPlaceholder so the raw control byte never reaches a log sink.
func Printable(s string) string {
	return strings.ReplaceAll(s, CtrlZ, PayloadPlaceholder)
}
