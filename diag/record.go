package diag

import (
	"fmt"
	"time"
)

// Unknown is the 27.007 sentinel for a signal metric the modem cannot
// measure.
const Unknown = 99

// PINStatus is the SIM state reported by +CPIN.
type PINStatus struct {
	Code string `json:"code"`
}

type pinText struct {
	short, long string
}

var pinCodes = map[string]pinText{
	"READY":         {"OK", "SIM ready"},
	"SIM PIN":       {"PIN", "SIM PIN required"},
	"SIM PUK":       {"PUK", "SIM PUK required"},
	"SIM PIN2":      {"PIN2", "SIM PIN2 required"},
	"SIM PUK2":      {"PUK2", "SIM PUK2 required"},
	"PH-SIM PIN":    {"PHPIN", "phone-to-SIM password required"},
	"PH-NET PIN":    {"NETPIN", "network personalisation password required"},
	"NOT INSERTED":  {"NOSIM", "SIM not inserted"},
	"NOT READY":     {"NRDY", "SIM not ready"},
	"SIM NOT READY": {"NRDY", "SIM not ready"},
}

// Short returns a compact code for SMS reports. Unknown codes pass through.
func (p PINStatus) Short() string {
	if t, ok := pinCodes[p.Code]; ok {
		return t.short
	}
	return p.Code
}

// Description returns a human readable description. Unknown codes pass
// through verbatim.
func (p PINStatus) Description() string {
	if t, ok := pinCodes[p.Code]; ok {
		return t.long
	}
	return p.Code
}

// Ready reports whether the SIM needs no further unlocking.
func (p PINStatus) Ready() bool {
	return p.Code == "READY"
}

// MessageFormat is the SMS mode reported by +CMGF.
type MessageFormat struct {
	Text bool `json:"text"`
}

func (f MessageFormat) Description() string {
	if f.Text {
		return "text mode"
	}
	return "PDU mode"
}

var registrationModes = []string{
	"notifications disabled",
	"notifications enabled",
	"notifications enabled with location",
}

var registrationStatuses = []struct {
	short, long string
}{
	{"NOREG", "not registered"},
	{"HOME", "home network"},
	{"SEARCH", "searching"},
	{"DENIED", "registration denied"},
	{"UNKNOWN", "unknown"},
	{"ROAM", "roaming"},
}

// Registration is the network registration state reported by +CREG.
type Registration struct {
	Mode   int `json:"mode"`
	Status int `json:"status"`
}

func (r Registration) ModeDescription() string {
	return registrationModes[r.Mode]
}

func (r Registration) StatusDescription() string {
	return registrationStatuses[r.Status].long
}

func (r Registration) Short() string {
	return registrationStatuses[r.Status].short
}

// Registered reports whether the modem is attached to a home or roaming
// network.
func (r Registration) Registered() bool {
	return r.Status == 1 || r.Status == 5
}

// Signal is the signal quality reported by +CSQ.
type Signal struct {
	RSSI int `json:"rssi"`
	BER  int `json:"ber"`
}

// DBm converts RSSI to dBm. The bounds 0 and 31 are open ended and are
// reported as -113 and -51, see DBmString.
func (s Signal) DBm() (int, bool) {
	if s.RSSI == Unknown {
		return 0, false
	}
	return -113 + 2*s.RSSI, true
}

func (s Signal) DBmString() string {
	switch {
	case s.RSSI == Unknown:
		return "Unknown"
	case s.RSSI == 0:
		return "≤ -113 dBm"
	case s.RSSI == 31:
		return "≥ -51 dBm"
	default:
		dbm, _ := s.DBm()
		return fmt.Sprintf("%d dBm", dbm)
	}
}

// Quality buckets RSSI into a qualitative strength.
func (s Signal) Quality() string {
	switch {
	case s.RSSI == Unknown:
		return "Unknown"
	case s.RSSI >= 20:
		return "Excellent"
	case s.RSSI >= 15:
		return "Good"
	case s.RSSI >= 10:
		return "Fair"
	case s.RSSI >= 5:
		return "Poor"
	default:
		return "Very Poor"
	}
}

var berLadder = []string{
	"Excellent (<0.2%)",
	"Very Good (0.2-0.4%)",
	"Good (0.4-0.8%)",
	"Fair (0.8-1.6%)",
	"Poor (1.6-3.2%)",
	"Very Poor (3.2-6.4%)",
	"Bad (6.4-12.8%)",
	"Extremely Bad (>12.8%)",
}

// BERDescription maps the bit error rate class to its severity.
func (s Signal) BERDescription() string {
	if s.BER < 0 || s.BER >= len(berLadder) {
		return "Unknown"
	}
	return berLadder[s.BER]
}

// ServiceCenter is the SMS service-center address reported by +CSCA.
// Type is -1 when the modem omits the address type.
type ServiceCenter struct {
	Address string `json:"address"`
	Type    int    `json:"type"`
}

var accessTechs = []struct {
	generation, name string
}{
	{"2G", "GSM"},
	{"2G", "GSM Compact"},
	{"3G", "UTRAN"},
	{"2G", "GSM w/EGPRS"},
	{"3.5G", "UTRAN w/HSDPA"},
	{"3.5G", "UTRAN w/HSUPA"},
	{"3.5G", "UTRAN w/HSDPA and HSUPA"},
	{"4G", "E-UTRAN"},
}

// Operator is the current network operator reported by +COPS. AccessTech
// is -1 when the modem omits it.
type Operator struct {
	Mode       int    `json:"mode"`
	Format     int    `json:"format"`
	Name       string `json:"name"`
	AccessTech int    `json:"accessTech"`
}

// Generation maps the access technology to a marketing generation such
// as "4G". It is empty when the technology is absent or out of range.
func (o Operator) Generation() string {
	if o.AccessTech < 0 || o.AccessTech >= len(accessTechs) {
		return ""
	}
	return accessTechs[o.AccessTech].generation
}

func (o Operator) AccessTechDescription() string {
	if o.AccessTech < 0 || o.AccessTech >= len(accessTechs) {
		return "Unknown"
	}
	t := accessTechs[o.AccessTech]
	return t.generation + " (" + t.name + ")"
}

// Record accumulates diagnostics. Fields are nil until the matching probe
// has produced a well formed response.
type Record struct {
	PIN           *PINStatus     `json:"pin,omitempty"`
	MessageFormat *MessageFormat `json:"messageFormat,omitempty"`
	Registration  *Registration  `json:"registration,omitempty"`
	Signal        *Signal        `json:"signal,omitempty"`
	ServiceCenter *ServiceCenter `json:"serviceCenter,omitempty"`
	Operator      *Operator      `json:"operator,omitempty"`

	// UpdatedAt is the time of the last merge that changed a field.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Merge copies every field set in other into r. Fields other leaves nil
// are kept as they are.
func (r *Record) Merge(other Record) {
	changed := false
	if other.PIN != nil {
		r.PIN, changed = ptr(*other.PIN), true
	}
	if other.MessageFormat != nil {
		r.MessageFormat, changed = ptr(*other.MessageFormat), true
	}
	if other.Registration != nil {
		r.Registration, changed = ptr(*other.Registration), true
	}
	if other.Signal != nil {
		r.Signal, changed = ptr(*other.Signal), true
	}
	if other.ServiceCenter != nil {
		r.ServiceCenter, changed = ptr(*other.ServiceCenter), true
	}
	if other.Operator != nil {
		r.Operator, changed = ptr(*other.Operator), true
	}
	if changed {
		r.UpdatedAt = other.UpdatedAt
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = time.Now()
		}
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	var c Record
	c.Merge(r)
	c.UpdatedAt = r.UpdatedAt
	return c
}

// Empty reports whether no field has been parsed yet.
func (r Record) Empty() bool {
	return r.PIN == nil && r.MessageFormat == nil && r.Registration == nil &&
		r.Signal == nil && r.ServiceCenter == nil && r.Operator == nil
}

func ptr[T any](v T) *T {
	return &v
}
