package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"i4.energy/across/fieldctl/hw"
	"i4.energy/across/fieldctl/irrigation"
	"i4.energy/across/fieldctl/notify"
)

// Engine is the part of *irrigation.Engine the server uses.
type Engine interface {
	Status() irrigation.Status
	Submit(ctx context.Context, cmd irrigation.Command) (string, error)
}

// maxCommandLength bounds a POST /command body; commands fit one SMS.
const maxCommandLength = 160

// Server handles incoming HTTP requests for inspecting and commanding the
// controller
type Server struct {
	Logger  *slog.Logger
	Modem   notify.SMSSender
	Engine  Engine
	Decoder irrigation.Decoder
	// Sim enables the bench endpoints when the controller runs on a
	// simulated board.
	Sim *hw.Sim
}

// CommandResponse is the reply to POST /command.
type CommandResponse struct {
	Reply string `json:"reply"`
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.HandleFunc("GET /sim", s.handleSimState)
	mux.HandleFunc("POST /sim", s.handleSimInputs)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to encode response", "error", err)
	}
}

// handleStatus returns the latest engine snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, s.Engine.Status())
}

// handleCommand decodes the text body as a console command and runs it as
// the local operator
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandLength+1))
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxCommandLength {
		s.sendError(w, "command too long", http.StatusRequestEntityTooLarge)
		return
	}

	text := strings.TrimSpace(string(body))
	cmd, err := s.Decoder(text)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply, err := s.Engine.Submit(r.Context(), cmd)
	if err != nil {
		s.Logger.Warn("Command failed", "command", text, "error", err)
		s.sendError(w, err.Error(), commandStatus(err))
		return
	}

	s.Logger.Info("Command executed", "command", text)
	s.sendJSON(w, CommandResponse{Reply: reply})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, irrigation.ErrInvalidField),
		errors.Is(err, irrigation.ErrInvalidInjector),
		errors.Is(err, irrigation.ErrInvalidSetting),
		errors.Is(err, irrigation.ErrNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, irrigation.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, irrigation.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, irrigation.ErrEngineStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	if err := s.Modem.SendSMS(r.Context(), req.To, req.Message); err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message))
	w.WriteHeader(http.StatusOK)
}

// SimRequest changes the inputs of a simulated board. Nil fields are left
// unchanged.
type SimRequest struct {
	Phases        *bool          `json:"phases"`
	RTCBatteryLow *bool          `json:"rtc_battery_low"`
	ProbeFailed   *bool          `json:"probe_failed"`
	Current       *uint16        `json:"current"`
	Moisture      map[int]uint32 `json:"moisture"`
}

func (s *Server) handleSimState(w http.ResponseWriter, r *http.Request) {
	if s.Sim == nil {
		s.sendError(w, "controller is not running on a simulated board", http.StatusNotFound)
		return
	}
	s.sendJSON(w, s.Sim.State())
}

func (s *Server) handleSimInputs(w http.ResponseWriter, r *http.Request) {
	if s.Sim == nil {
		s.sendError(w, "controller is not running on a simulated board", http.StatusNotFound)
		return
	}

	var req SimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	for field := range req.Moisture {
		if field < 1 || field > irrigation.FieldCount {
			s.sendError(w, irrigation.ErrInvalidField.Error(), http.StatusBadRequest)
			return
		}
	}

	if req.Phases != nil {
		s.Sim.SetPhases(*req.Phases)
	}
	if req.RTCBatteryLow != nil {
		s.Sim.SetRTCBatteryLow(*req.RTCBatteryLow)
	}
	if req.ProbeFailed != nil {
		s.Sim.FailProbe(*req.ProbeFailed)
	}
	if req.Current != nil {
		s.Sim.SetCurrent(*req.Current)
	}
	for field, level := range req.Moisture {
		s.Sim.SetMoisture(field, level)
	}

	s.Logger.Info("Simulated inputs changed")
	s.sendJSON(w, s.Sim.State())
}
