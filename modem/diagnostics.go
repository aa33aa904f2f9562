package modem

import (
	"context"
	"errors"
	"fmt"

	"i4.energy/across/piguard/at"
	"i4.energy/across/piguard/diag"
)

// RunDiagnosticsProbe queries SIM, message format, registration, signal,
// service center and operator, in that order, and merges every response it
// can parse into the diagnostics record. A malformed response leaves the
// field as it was. Commands that fail are reported together in the
// returned error; the record returned includes everything gathered so far.
func (e *Engine) RunDiagnosticsProbe(ctx context.Context) (diag.Record, error) {
	e.workflow.Lock()
	defer e.workflow.Unlock()
	return e.runProbe(ctx)
}

func (e *Engine) runProbe(ctx context.Context) (diag.Record, error) {
	var errs []error
	for _, probe := range diag.Probes {
		resp, err := e.exec(ctx, probe.Command, at.OK)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", probe.Command, err))
			continue
		}
		rec, ok := probe.Parse(resp)
		if !ok {
			e.logger.Debug("unrecognized probe response", "command", probe.Command, "response", resp)
			continue
		}
		e.mergeDiagnostics(rec)
	}
	return e.Diagnostics(), errors.Join(errs...)
}
