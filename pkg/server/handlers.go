package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/entrhq/parley/pkg/agent"
	"github.com/entrhq/parley/pkg/llm"
	"github.com/entrhq/parley/pkg/llm/retry"
	"github.com/entrhq/parley/pkg/session"
	"github.com/google/uuid"
)

// GenerateRequest is the JSON body of /api/generate.
type GenerateRequest struct {
	SessionID string `json:"session_id"`
	UserInput string `json:"user_input"`
	Memory    string `json:"memory,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// GenerateResponse is returned by /api/generate.
type GenerateResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
	Stage     int    `json:"stage"`
}

// ClearRequest is the JSON body of /api/clear.
type ClearRequest struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeGenerate(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
		debugLog.Infof("Created session %s", req.SessionID)
	}

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	result, err := s.engine.SubmitTurn(r.Context(), agent.TurnRequest{
		SessionID: req.SessionID,
		Text:      req.UserInput,
		Memory:    req.Memory,
		UserName:  req.UserName,
		UserID:    req.UserID,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			debugLog.Errorf("Turn failed for session %s: %v", req.SessionID, err)
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		SessionID: req.SessionID,
		Stage:     result.Stage,
		Response:  result.Reply,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid form body: %w", err))
			return
		}
		req.SessionID = r.PostForm.Get("session_id")
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	unlock := s.locks.Lock(req.SessionID)
	defer unlock()

	if err := s.engine.ClearSession(r.Context(), req.SessionID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": req.SessionID, "status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeGenerate reads a JSON body, or a form body carrying prompt and
// session_id.
func decodeGenerate(w http.ResponseWriter, r *http.Request) (GenerateRequest, error) {
	var req GenerateRequest
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("invalid form body: %w", err)
		}
		req.SessionID = r.PostForm.Get("session_id")
		req.UserInput = r.PostForm.Get("prompt")
		return req, nil
	}
	err := decodeJSON(w, r, &req)
	return req, err
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && (mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data")
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var fatal *llm.FatalError
	var transient *llm.TransientError
	var exhausted *retry.ExhaustedError

	switch {
	case errors.Is(err, agent.ErrValidation):
		return http.StatusBadRequest
	case llm.IsQuotaExhausted(err), errors.Is(err, session.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &fatal), errors.As(err, &transient), errors.As(err, &exhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debugLog.Warnf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
