package modem

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"i4.energy/across/piguard/at"
	"i4.energy/across/piguard/diag"
)

// recipientPattern accepts the phone numbers AT+CMGS takes in text mode.
var recipientPattern = regexp.MustCompile(`^\+?[0-9]{3,20}$`)

// SendResult is the outcome of sending one message to one recipient.
type SendResult struct {
	Recipient string
	Success   bool
	// Error is set when Success is false.
	Error error
}

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890").
//
// This method blocks until the modem accepted the message or an error
// occurs. Network delivery (to the final recipient) happens asynchronously.
func (e *Engine) SendSMS(ctx context.Context, recipient, message string) error {
	e.workflow.Lock()
	defer e.workflow.Unlock()
	return e.sendSMS(ctx, recipient, message)
}

// SendToAll sends message to every configured recipient, in order. A
// failure for one recipient does not stop the others. When
// Config.ProbeBeforeSend is set the diagnostics probe runs first; its
// failure is logged and does not prevent sending.
func (e *Engine) SendToAll(ctx context.Context, message string) []SendResult {
	e.workflow.Lock()
	defer e.workflow.Unlock()

	if e.config.ProbeBeforeSend && len(e.config.Recipients) > 0 {
		if _, err := e.runProbe(ctx); err != nil {
			e.logger.Warn("diagnostics probe before send failed", "error", err)
		}
	}
	return e.sendToAll(ctx, message)
}

// SendAlert notifies every recipient that the named trigger fired.
func (e *Engine) SendAlert(ctx context.Context, name string) []SendResult {
	message := fmt.Sprintf("ALERT: %s triggered at %s", name, e.now().Format(time.DateTime))
	return e.SendToAll(ctx, message)
}

// SendDiagnosticsReport runs the diagnostics probe and sends the compact
// rendering of the result to every recipient. inputs describes the state
// of the monitored inputs and may be empty. A probe failure is returned
// alongside the results; the report is sent regardless, with whatever the
// probe could gather.
func (e *Engine) SendDiagnosticsReport(ctx context.Context, inputs string) ([]SendResult, error) {
	e.workflow.Lock()
	defer e.workflow.Unlock()

	record, err := e.runProbe(ctx)
	report := record.Compact(diag.CompactInfo{
		Recipients: len(e.config.Recipients),
		Uptime:     e.uptime(),
		Inputs:     inputs,
	})
	return e.sendToAll(ctx, report), err
}

func (e *Engine) sendToAll(ctx context.Context, message string) []SendResult {
	if len(e.config.Recipients) == 0 {
		e.logger.Warn("no recipients configured")
		return []SendResult{}
	}

	results := make([]SendResult, 0, len(e.config.Recipients))
	for _, recipient := range e.config.Recipients {
		err := e.sendSMS(ctx, recipient, message)
		if err != nil {
			e.logger.Error("SMS failed", "to", recipient, "error", err)
		}
		results = append(results, SendResult{Recipient: recipient, Success: err == nil, Error: err})
	}
	return results
}

// sendSMS addresses the recipient, waits for the modem to settle, then
// writes the body and its terminator in one go. The recipient step expects
// no reply; the prompt the modem answers with is discarded by the Loop. The
// body is never retried, as a second body without a fresh prompt would be
// taken as plain input. An error the modem raised against the recipient
// step fails the send before the body is written.
func (e *Engine) sendSMS(ctx context.Context, recipient, message string) error {
	if !recipientPattern.MatchString(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	message, err := textBody(message)
	if err != nil {
		return err
	}

	if _, err := e.exec(ctx, fmt.Sprintf(at.CmdSendSMS, recipient), ""); err != nil {
		return fmt.Errorf("address recipient %s: %w", recipient, err)
	}

	if err := sleep(ctx, e.config.SettleDelay); err != nil {
		return err
	}

	body := e.newRequest(message+at.CtrlZ, at.OK)
	body.raw = true
	body.retryLimit = 0
	body.abortOnError = true
	if _, err := e.submit(ctx, body); err != nil {
		return fmt.Errorf("send message to %s: %w", recipient, err)
	}

	e.logger.Info("SMS sent", "to", recipient, "message_length", len(message))
	return nil
}

// textBody prepares message for text mode. Ctrl-Z would end the message
// early and ESC would abort it, so both are refused; CR is folded into LF
// because the modem answers a bare CR with another prompt.
func textBody(message string) (string, error) {
	if i := strings.IndexAny(message, at.CtrlZ+at.Esc); i >= 0 {
		return "", fmt.Errorf("%w: control character %q at offset %d", ErrInvalidMessage, message[i], i)
	}
	message = strings.ReplaceAll(message, "\r\n", "\n")
	return strings.ReplaceAll(message, "\r", "\n"), nil
}
