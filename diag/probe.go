package diag

import "i4.energy/across/piguard/at"

// Probe pairs a query command with the parser for its response. Parse
// returns a partial Record holding only the field the command reports.
type Probe struct {
	Command string
	Parse   func(resp string) (Record, bool)
}

// Probes is the full diagnostics sequence in the order it is run.
var Probes = []Probe{
	{Command: at.CmdSimStatus, Parse: lift(ParsePIN, func(r *Record, v PINStatus) { r.PIN = &v })},
	{Command: at.CmdMessageFormat, Parse: lift(ParseMessageFormat, func(r *Record, v MessageFormat) { r.MessageFormat = &v })},
	{Command: at.CmdRegistration, Parse: ParseRegistrationRecord},
	{Command: at.CmdSignalQuality, Parse: lift(ParseSignal, func(r *Record, v Signal) { r.Signal = &v })},
	{Command: at.CmdServiceCenter, Parse: lift(ParseServiceCenter, func(r *Record, v ServiceCenter) { r.ServiceCenter = &v })},
	{Command: at.CmdOperator, Parse: lift(ParseOperator, func(r *Record, v Operator) { r.Operator = &v })},
}

// ParseRegistrationRecord is ParseRegistration shaped for Record merging.
// It is also used on its own right after link initialization.
var ParseRegistrationRecord = lift(ParseRegistration, func(r *Record, v Registration) { r.Registration = &v })

func lift[T any](parse func(string) (T, bool), set func(*Record, T)) func(string) (Record, bool) {
	return func(resp string) (Record, bool) {
		v, ok := parse(resp)
		if !ok {
			return Record{}, false
		}
		var r Record
		set(&r, v)
		return r, true
	}
}
