package diag

import (
	"fmt"
	"strings"
	"time"
)

const missing = "?"

// CompactInfo carries the facts a compact report needs that the modem does
// not report itself.
type CompactInfo struct {
	// Recipients is the number of configured alert recipients.
	Recipients int
	// Uptime is how long the engine has been running.
	Uptime time.Duration
	// Inputs describes the monitored inputs, for example "1:0 2:1". It is
	// left out of the report when empty.
	Inputs string
}

// Compact renders r as a single line short enough for one SMS, e.g.
//
//	SIM:OK NET:HOME OP:T-Mobile/4G SIG:-73dBm/Excellent PH:2 UPT:3h12m
func (r Record) Compact(info CompactInfo) string {
	parts := []string{
		"SIM:" + missing,
		"NET:" + missing,
		"OP:" + missing,
		"SIG:" + missing,
	}
	if r.PIN != nil {
		parts[0] = "SIM:" + r.PIN.Short()
	}
	if r.Registration != nil {
		parts[1] = "NET:" + r.Registration.Short()
	}
	if r.Operator != nil {
		op := r.Operator.Name
		if g := r.Operator.Generation(); g != "" {
			op += "/" + g
		}
		parts[2] = "OP:" + op
	}
	if r.Signal != nil {
		parts[3] = "SIG:" + strings.ReplaceAll(r.Signal.DBmString(), " ", "") + "/" + r.Signal.Quality()
	}
	parts = append(parts,
		fmt.Sprintf("PH:%d", info.Recipients),
		"UPT:"+formatUptime(info.Uptime),
	)
	if info.Inputs != "" {
		parts = append(parts, "IN:"+info.Inputs)
	}
	return strings.Join(parts, " ")
}

// Verbose renders r as a multi-line report for consoles and logs.
func (r Record) Verbose() string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "%-16s %s\n", label+":", value)
	}

	b.WriteString("=== Modem Diagnostics ===\n")
	if r.PIN != nil {
		line("SIM", fmt.Sprintf("%s (%s)", r.PIN.Description(), r.PIN.Code))
	} else {
		line("SIM", missing)
	}
	if r.MessageFormat != nil {
		line("Message format", r.MessageFormat.Description())
	} else {
		line("Message format", missing)
	}
	if r.Registration != nil {
		line("Registration", fmt.Sprintf("%s, %s", r.Registration.StatusDescription(), r.Registration.ModeDescription()))
	} else {
		line("Registration", missing)
	}
	if r.Signal != nil {
		line("Signal", fmt.Sprintf("%s, %s (rssi %d)", r.Signal.Quality(), r.Signal.DBmString(), r.Signal.RSSI))
		line("Bit error rate", r.Signal.BERDescription())
	} else {
		line("Signal", missing)
		line("Bit error rate", missing)
	}
	if r.Operator != nil {
		line("Operator", r.Operator.Name)
		line("Access tech", r.Operator.AccessTechDescription())
	} else {
		line("Operator", missing)
		line("Access tech", missing)
	}
	if r.ServiceCenter != nil {
		line("Service center", r.ServiceCenter.Address)
	} else {
		line("Service center", missing)
	}
	if !r.UpdatedAt.IsZero() {
		line("Updated", r.UpdatedAt.Format(time.DateTime))
	}
	return b.String()
}

// formatUptime renders d as days, hours and minutes, dropping leading zero
// units: 3d4h5m, 4h5m, 5m.
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
