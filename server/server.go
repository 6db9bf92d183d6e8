package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"whatsapp-bulk-gateway/dispatch"
	"whatsapp-bulk-gateway/whatsapp"

	"github.com/rs/zerolog"
)

// SessionManager is the session-side surface the gateway exposes 1:1.
type SessionManager interface {
	Connect(ctx context.Context) (whatsapp.ConnectionState, error)
	Status() (whatsapp.ConnectionState, string)
	Disconnect(ctx context.Context)
}

// BulkDispatcher is the pipeline-side surface the gateway exposes 1:1.
type BulkDispatcher interface {
	Submit(items []dispatch.Item) (string, error)
	Job(id string) (dispatch.JobStatus, bool)
}

// Server translates HTTP calls into commands and reads against the session
// manager and the dispatch pipeline. It does no business logic beyond input
// shape validation and status-code mapping.
type Server struct {
	session    SessionManager
	dispatcher BulkDispatcher
	metrics    http.Handler
	log        zerolog.Logger
	mux        *http.ServeMux
}

func New(session SessionManager, dispatcher BulkDispatcher, metrics http.Handler, log zerolog.Logger) *Server {
	s := &Server{
		session:    session,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.With().Str("component", "http").Logger(),
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/whatsapp/connect", s.handleConnect)
	s.mux.HandleFunc("GET /api/whatsapp/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/whatsapp/send-bulk", s.handleSendBulk)
	s.mux.HandleFunc("POST /api/whatsapp/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("GET /api/whatsapp/jobs/{id}", s.handleJob)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the CORS-wrapped root handler.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	// Initialization outlives the request, so it must not ride on r.Context().
	state, err := s.session.Connect(context.Background())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, ConnectResponse{Status: state.String()})
		return
	}
	code := http.StatusAccepted
	if state == whatsapp.StateConnected {
		code = http.StatusOK
	}
	s.writeJSON(w, code, ConnectResponse{Status: state.String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, qr := s.session.Status()
	resp := StatusResponse{Status: state.String()}
	if qr != "" {
		resp.QRCode = &qr
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ResultResponse{Message: "invalid JSON body"})
		return
	}
	if req.Messages == nil {
		s.writeJSON(w, http.StatusBadRequest, ResultResponse{Message: "messages must be an array"})
		return
	}

	items := make([]dispatch.Item, 0, len(req.Messages))
	for i, m := range req.Messages {
		image, err := base64.StdEncoding.DecodeString(m.ImageBase64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, ResultResponse{
				Message: fmt.Sprintf("messages[%d]: imageBase64 is not valid base64", i),
			})
			return
		}
		items = append(items, dispatch.Item{Phone: m.Phone, Caption: m.Message, Image: image})
	}

	jobID, err := s.dispatcher.Submit(items)
	switch {
	case errors.Is(err, dispatch.ErrNotConnected):
		s.writeJSON(w, http.StatusBadRequest, ResultResponse{Message: "WhatsApp is not connected"})
		return
	case errors.Is(err, dispatch.ErrJobActive):
		s.writeJSON(w, http.StatusConflict, ResultResponse{Message: "a bulk job is already in progress"})
		return
	case err != nil:
		s.log.Error().Err(err).Msg("failed to submit bulk job")
		s.writeJSON(w, http.StatusInternalServerError, ResultResponse{Message: "internal error"})
		return
	}

	s.writeJSON(w, http.StatusOK, ResultResponse{
		Success: true,
		Message: fmt.Sprintf("dispatching %d messages in the background", len(items)),
		JobID:   jobID,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.session.Disconnect(r.Context())
	s.writeJSON(w, http.StatusOK, ResultResponse{Success: true, Message: "disconnected"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.dispatcher.Job(r.PathValue("id"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, ResultResponse{Message: "job not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
