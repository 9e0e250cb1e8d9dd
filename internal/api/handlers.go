package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/larsks/switchsync/internal/switchstate"
	"github.com/larsks/switchsync/internal/switchsync"
)

const (
	statusOK    = "ok"
	statusError = "error"

	switchStateOn     = "on"
	switchStateOff    = "off"
	switchStateToggle = "toggle"
)

type (
	// APIResponse is the body of every response.
	APIResponse struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
		State   string `json:"state,omitempty"`
	}

	switchRequest struct {
		State string `json:"state"`
	}
)

func (s *Server) sendResponse(w http.ResponseWriter, resp APIResponse, httpCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Errorf("failed to encode response: %v", err)
	}
}

func (s *Server) sendState(w http.ResponseWriter, state switchstate.State) {
	s.sendResponse(w, APIResponse{Status: statusOK, State: state.String()}, http.StatusOK)
}

func (s *Server) sendError(w http.ResponseWriter, message string, httpCode int) {
	s.sendResponse(w, APIResponse{Status: statusError, Message: message}, httpCode)
}

// sendSwitchError maps a switch failure to a response.
func (s *Server) sendSwitchError(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, switchsync.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, switchsync.ErrTransport):
		code = http.StatusBadGateway
	case errors.Is(err, switchsync.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// client went away
		return
	}
	s.log.Errorf("failed to %s: %v", op, err)
	s.sendError(w, fmt.Sprintf("Failed to %s: %v", op, err), code)
}

func (s *Server) switchStatusHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.sw.GetState(r.Context())
	if err != nil {
		s.sendSwitchError(w, "get switch state", err)
		return
	}
	s.sendState(w, state)
}

func (s *Server) switchHandler(w http.ResponseWriter, r *http.Request) {
	req := r.Context().Value(switchRequestKey).(switchRequest)
	ctx := r.Context()

	var (
		state switchstate.State
		err   error
	)

	switch req.State {
	case switchStateToggle:
		state, err = switchsync.Toggle(ctx, s.sw)
	default:
		// already validated
		state, _ = switchstate.ParseState(req.State)
		err = s.sw.SetState(ctx, state)
	}

	if err != nil {
		s.sendSwitchError(w, "set switch state", err)
		return
	}

	s.log.Infof("switch set to %s", state)
	s.sendState(w, state)
}

func (s *Server) switchWaitHandler(w http.ResponseWriter, r *http.Request) {
	timeout := s.config.WaitTimeout
	if value := r.URL.Query().Get("timeout"); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < 0 {
			s.sendError(w, fmt.Sprintf("Invalid timeout: %s", value), http.StatusBadRequest)
			return
		}
		timeout = parsed
	}

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	state, err := s.sw.WaitForChange(ctx)
	if err != nil {
		if errors.Is(err, switchsync.ErrTimeout) {
			s.sendError(w, "Timed out waiting for change", http.StatusGatewayTimeout)
			return
		}
		s.sendSwitchError(w, "wait for change", err)
		return
	}
	s.sendState(w, state)
}
