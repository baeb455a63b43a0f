// Package api provides HTTP handlers for the wsrm gateway REST API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Handler holds dependencies for API handlers.
type Handler struct {
	engine *wsrm.Engine
	logger wsrm.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *wsrm.Engine, logger wsrm.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Register installs the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sequences", h.HandleCreateSequence)
	mux.HandleFunc("GET /api/v1/sequences", h.HandleOutgoingReport)
	mux.HandleFunc("GET /api/v1/sequences/{id}", h.HandleSequenceReport)
	mux.HandleFunc("POST /api/v1/sequences/terminate", h.HandleTerminate)
	mux.HandleFunc("POST /api/v1/sequences/close", h.HandleClose)
	mux.HandleFunc("POST /api/v1/sequences/ackrequest", h.HandleAckRequest)
	mux.HandleFunc("POST /api/v1/messages", h.HandleSend)
	mux.HandleFunc("GET /api/v1/incoming", h.HandleIncomingReports)
	mux.HandleFunc("GET /api/v1/report", h.HandleAggregateReport)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
}

// SequenceRequest addresses an outbound sequence.
type SequenceRequest struct {
	Destination string `json:"destination"`
	Key         string `json:"key"`
}

// CreateSequenceRequest represents a sequence creation request.
type CreateSequenceRequest struct {
	SequenceRequest
	Offer         bool   `json:"offer"`
	SecurityToken string `json:"securityToken,omitempty"`
	SpecVersion   string `json:"specVersion,omitempty"`
}

// SendRequest represents an application send request.
type SendRequest struct {
	SequenceRequest
	Payload     json.RawMessage `json:"payload"`
	LastMessage bool            `json:"lastMessage"`
}

// SendResponse carries the number assigned to a sent message.
type SendResponse struct {
	MessageNumber int64 `json:"messageNumber"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleCreateSequence handles POST /api/v1/sequences
func (h *Handler) HandleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var req CreateSequenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	internalID, err := h.engine.CreateSequence(r.Context(), req.Destination, req.Key, wsrm.CreateOptions{
		Offer:         req.Offer,
		SecurityToken: req.SecurityToken,
		SpecVersion:   model.SpecVersion(req.SpecVersion),
	})
	if err != nil {
		h.respondEngineError(w, "Failed to create sequence", err)
		return
	}

	h.respondSuccess(w, http.StatusCreated, map[string]string{"internalSequenceID": internalID}, "Sequence created")
}

// HandleSend handles POST /api/v1/messages
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.engine.Send(r.Context(), req.Destination, req.Key, req.Payload, wsrm.SendOptions{
		LastMessage: req.LastMessage,
	})
	if err != nil {
		h.respondEngineError(w, "Failed to send message", err)
		return
	}

	h.respondSuccess(w, http.StatusAccepted, SendResponse{MessageNumber: n}, "Message accepted")
}

// HandleTerminate handles POST /api/v1/sequences/terminate
func (h *Handler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.TerminateSequence(r.Context(), req.Destination, req.Key); err != nil {
		h.respondEngineError(w, "Failed to terminate sequence", err)
		return
	}
	h.respondSuccess(w, http.StatusAccepted, nil, "Termination requested")
}

// HandleClose handles POST /api/v1/sequences/close
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.CloseSequence(r.Context(), req.Destination, req.Key); err != nil {
		h.respondEngineError(w, "Failed to close sequence", err)
		return
	}
	h.respondSuccess(w, http.StatusAccepted, nil, "Close requested")
}

// HandleAckRequest handles POST /api/v1/sequences/ackrequest
func (h *Handler) HandleAckRequest(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.SendAckRequest(r.Context(), req.Destination, req.Key); err != nil {
		h.respondEngineError(w, "Failed to request acknowledgement", err)
		return
	}
	h.respondSuccess(w, http.StatusAccepted, nil, "Acknowledgement requested")
}

// HandleOutgoingReport handles GET /api/v1/sequences?destination=...&key=...
func (h *Handler) HandleOutgoingReport(w http.ResponseWriter, r *http.Request) {
	destination := r.URL.Query().Get("destination")
	key := r.URL.Query().Get("key")

	report, err := h.engine.OutgoingSequenceReport(r.Context(), destination, key)
	if err != nil {
		h.respondEngineError(w, "Failed to read sequence", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, report, "")
}

// HandleSequenceReport handles GET /api/v1/sequences/{id}
func (h *Handler) HandleSequenceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.SequenceReport(r.Context(), r.PathValue("id"))
	if err != nil {
		if wsrm.IsNoData(err) {
			h.respondError(w, http.StatusNotFound, "Sequence not found", wsrm.ErrCodeNoData)
			return
		}
		h.respondEngineError(w, "Failed to read sequence", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, report, "")
}

// HandleIncomingReports handles GET /api/v1/incoming
func (h *Handler) HandleIncomingReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.engine.IncomingSequenceReports(r.Context())
	if err != nil {
		h.respondEngineError(w, "Failed to list incoming sequences", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, reports, "")
}

// HandleAggregateReport handles GET /api/v1/report
func (h *Handler) HandleAggregateReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.AggregateReport(r.Context())
	if err != nil {
		h.respondEngineError(w, "Failed to build report", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, report, "")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return false
	}
	return true
}

// respondEngineError maps an engine error to a status code.
func (h *Handler) respondEngineError(w http.ResponseWriter, message string, err error) {
	var e *wsrm.Error
	if !errors.As(err, &e) {
		h.logger.Errorf("%s: %v", message, err)
		h.respondError(w, http.StatusInternalServerError, message, "INTERNAL_ERROR")
		return
	}

	status := http.StatusInternalServerError
	switch e.Code {
	case wsrm.ErrCodeConfiguration, wsrm.ErrCodeProtocolVersion:
		status = http.StatusBadRequest
	case wsrm.ErrCodeNoData:
		status = http.StatusNotFound
	case wsrm.ErrCodeNotEstablished, wsrm.ErrCodeInvalidState:
		status = http.StatusConflict
	case wsrm.ErrCodeTransport:
		status = http.StatusBadGateway
	default:
		h.logger.Errorf("%s: %v", message, err)
	}
	h.respondError(w, status, e.Message, e.Code)
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
