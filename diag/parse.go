// Package diag extracts structured modem diagnostics from raw AT command
// responses and renders them for consoles and SMS reports.
//
// Every parser takes the full multi-line response of one probe command and
// returns the parsed value and whether a well formed match was found. A
// false result is not an error: the caller keeps whatever it knew before.
package diag

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	rePIN           = regexp.MustCompile(`\+CPIN:\s*([^\r\n]+)`)
	reMessageFormat = regexp.MustCompile(`\+CMGF:\s*([01])\b`)
	reRegistration  = regexp.MustCompile(`\+CREG:\s*(\d+)\s*,\s*(\d+)`)
	reSignal        = regexp.MustCompile(`\+CSQ:\s*(\d+)\s*,\s*(\d+)`)
	reServiceCenter = regexp.MustCompile(`\+CSCA:\s*"([^"]*)"(?:\s*,\s*(\d+))?`)
	reOperator      = regexp.MustCompile(`\+COPS:\s*(\d+)\s*,\s*(\d+)\s*,\s*(?:"([^"]*)"|([0-9]+))(?:\s*,\s*(\d+))?`)
)

// ParsePIN parses a +CPIN response.
func ParsePIN(resp string) (PINStatus, bool) {
	m := rePIN.FindStringSubmatch(resp)
	if m == nil {
		return PINStatus{}, false
	}
	code := strings.TrimSpace(m[1])
	if code == "" {
		return PINStatus{}, false
	}
	return PINStatus{Code: code}, true
}

// ParseMessageFormat parses a +CMGF response.
func ParseMessageFormat(resp string) (MessageFormat, bool) {
	m := reMessageFormat.FindStringSubmatch(resp)
	if m == nil {
		return MessageFormat{}, false
	}
	return MessageFormat{Text: m[1] == "1"}, true
}

// ParseRegistration parses a +CREG response. Values outside the ranges
// defined by 3GPP TS 27.007 are rejected rather than defaulted.
func ParseRegistration(resp string) (Registration, bool) {
	m := reRegistration.FindStringSubmatch(resp)
	if m == nil {
		return Registration{}, false
	}
	mode, err := strconv.Atoi(m[1])
	if err != nil || mode < 0 || mode >= len(registrationModes) {
		return Registration{}, false
	}
	stat, err := strconv.Atoi(m[2])
	if err != nil || stat < 0 || stat >= len(registrationStatuses) {
		return Registration{}, false
	}
	return Registration{Mode: mode, Status: stat}, true
}

// ParseSignal parses a +CSQ response. rssi must be 0-31 or 99 and ber
// 0-7 or 99.
func ParseSignal(resp string) (Signal, bool) {
	m := reSignal.FindStringSubmatch(resp)
	if m == nil {
		return Signal{}, false
	}
	rssi, err := strconv.Atoi(m[1])
	if err != nil || !(rssi >= 0 && rssi <= 31 || rssi == Unknown) {
		return Signal{}, false
	}
	ber, err := strconv.Atoi(m[2])
	if err != nil || !(ber >= 0 && ber <= 7 || ber == Unknown) {
		return Signal{}, false
	}
	return Signal{RSSI: rssi, BER: ber}, true
}

// ParseServiceCenter parses a +CSCA response.
func ParseServiceCenter(resp string) (ServiceCenter, bool) {
	m := reServiceCenter.FindStringSubmatch(resp)
	if m == nil || m[1] == "" {
		return ServiceCenter{}, false
	}
	sc := ServiceCenter{Address: m[1], Type: -1}
	if m[2] != "" {
		sc.Type, _ = strconv.Atoi(m[2])
	}
	return sc, true
}

// ParseOperator parses a +COPS response. The operator may be given as a
// quoted name or as an unquoted numeric MCC/MNC.
func ParseOperator(resp string) (Operator, bool) {
	m := reOperator.FindStringSubmatch(resp)
	if m == nil {
		return Operator{}, false
	}
	op := Operator{Name: m[3], AccessTech: -1}
	if op.Name == "" {
		op.Name = m[4]
	}
	if op.Name == "" {
		return Operator{}, false
	}
	op.Mode, _ = strconv.Atoi(m[1])
	op.Format, _ = strconv.Atoi(m[2])
	if m[5] != "" {
		op.AccessTech, _ = strconv.Atoi(m[5])
	}
	return op, true
}
