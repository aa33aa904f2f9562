package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"i4.energy/across/piguard/diag"
	"i4.energy/across/piguard/modem"
)

// Engine is the part of *modem.Engine the HTTP server needs.
type Engine interface {
	SendSMS(ctx context.Context, recipient, message string) error
	SendToAll(ctx context.Context, message string) []modem.SendResult
	SendAlert(ctx context.Context, name string) []modem.SendResult
	SendDiagnosticsReport(ctx context.Context, inputs string) ([]modem.SendResult, error)
	RunDiagnosticsProbe(ctx context.Context) (diag.Record, error)
	Diagnostics() diag.Record
	Status() modem.Status
}

var _ Engine = (*modem.Engine)(nil)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Server handles incoming HTTP requests for interacting with the
// configured modem engine
type Server struct {
	Logger *slog.Logger
	Modem  Engine
	// StatusInterval is how often /ws pushes a status snapshot. Defaults to
	// five seconds.
	StatusInterval time.Duration

	once sync.Once
	mux  *http.ServeMux
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /sms", s.handleSMS)
		mux.HandleFunc("POST /alert", s.handleAlert)
		mux.HandleFunc("GET /status", s.handleStatus)
		mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
		mux.HandleFunc("POST /diagnostics/probe", s.handleProbe)
		mux.HandleFunc("POST /diagnostics/report", s.handleReport)
		mux.HandleFunc("GET /ws", s.handleWS)
		s.mux = mux
	})
	s.mux.ServeHTTP(w, r)
}

// sendResult is the wire form of modem.SendResult.
type sendResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type diagnosticsResponse struct {
	Diagnostics diag.Record `json:"diagnostics"`
	Summary     string      `json:"summary"`
	Error       string      `json:"error,omitempty"`
}

func toSendResults(results []modem.SendResult) []sendResult {
	out := make([]sendResult, 0, len(results))
	for _, r := range results {
		res := sendResult{Recipient: r.Recipient, Success: r.Success}
		if r.Error != nil {
			res.Error = r.Error.Error()
		}
		out = append(out, res)
	}
	return out
}

// resultsStatus is 200 when every recipient was reached and 502 otherwise.
func resultsStatus(results []modem.SendResult) int {
	for _, r := range results {
		if !r.Success {
			return http.StatusBadGateway
		}
	}
	return http.StatusOK
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, modem.ErrInvalidRecipient),
		errors.Is(err, modem.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrNotInitialized),
		errors.Is(err, modem.ErrReconnectExhausted),
		errors.Is(err, modem.ErrLinkUnavailable),
		errors.Is(err, modem.ErrAlreadyClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

// decode reads an optional JSON body into v. An empty body leaves v alone.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleSMS sends a message to one recipient when "to" is set and to every
// configured recipient otherwise
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Message == "" {
		s.sendError(w, "'message' field is required", http.StatusBadRequest)
		return
	}

	if req.To == "" {
		results := s.Modem.SendToAll(r.Context(), req.Message)
		s.sendJSON(w, toSendResults(results), resultsStatus(results))
		return
	}

	if err := s.Modem.SendSMS(r.Context(), req.To, req.Message); err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	type AlertRequest struct {
		Name string `json:"name"`
	}

	var req AlertRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.sendError(w, "'name' field is required", http.StatusBadRequest)
		return
	}

	s.Logger.Info("Alert triggered", "name", req.Name)
	results := s.Modem.SendAlert(r.Context(), req.Name)
	s.sendJSON(w, toSendResults(results), resultsStatus(results))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.Modem.Status(), http.StatusOK)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	rec := s.Modem.Diagnostics()
	s.sendJSON(w, diagnosticsResponse{Diagnostics: rec, Summary: rec.Verbose()}, http.StatusOK)
}

// handleProbe runs the diagnostics probe. A partial failure still returns
// what was gathered, with the error alongside.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Modem.RunDiagnosticsProbe(r.Context())
	resp := diagnosticsResponse{Diagnostics: rec, Summary: rec.Verbose()}
	status := http.StatusOK
	if err != nil {
		s.Logger.Warn("Diagnostics probe failed", "error", err)
		resp.Error = err.Error()
		status = errorStatus(err)
	}
	s.sendJSON(w, resp, status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	type ReportRequest struct {
		Inputs string `json:"inputs"`
	}

	var req ReportRequest
	if err := decode(r, &req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.Modem.SendDiagnosticsReport(r.Context(), req.Inputs)
	if err != nil {
		s.Logger.Warn("Diagnostics probe before report failed", "error", err)
	}
	s.sendJSON(w, toSendResults(results), resultsStatus(results))
}

// handleWS upgrades to a websocket and pushes a status snapshot right away
// and then on every interval until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.Logger.Debug("Failed to close websocket", "error", err)
		}
	}()

	// The reader only notices the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	send := func() error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(s.Modem.Status())
	}

	for {
		if err := send(); err != nil {
			s.Logger.Debug("Websocket client dropped", "error", err)
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}
