package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/gateway"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/session"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
)

// Server is the daemon HTTP API.
type Server struct {
	gateway  *gateway.Gateway
	specs    *spec.Registry
	registry *prometheus.Registry
	version  string

	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates the API server.
func NewServer(listen string, gw *gateway.Gateway, specs *spec.Registry, promReg *prometheus.Registry, version string) *Server {
	s := &Server{
		gateway:  gw,
		specs:    specs,
		registry: promReg,
		version:  version,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Addr: listen, Handler: s.mux}
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/v1/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/protocols", s.handleProtocols)
	s.mux.HandleFunc("/api/v1/devices", s.handleDevices)
	s.mux.HandleFunc("/api/v1/devices/", s.handleDeviceRoutes)
	s.mux.HandleFunc("/api/v1/query", s.handleQuery)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Close shuts down the server.
func (s *Server) Close() error {
	return s.server.Close()
}

// handleHealth returns the daemon health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleProtocols lists the registered protocol names.
func (s *Server) handleProtocols(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"protocols": s.specs.Names()})
}

// handleDevices lists devices (GET) or registers one (POST).
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.gateway.Devices().List())

	case http.MethodPost:
		desc := &device.Descriptor{}
		if err := json.NewDecoder(r.Body).Decode(desc); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		id, err := s.gateway.RegisterDevice(desc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDeviceRoutes routes /api/v1/devices/:id and its subresources.
func (s *Server) handleDeviceRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch sub {
	case "":
		s.handleDevice(w, r, id)
	case "context":
		s.handleContext(w, r, id)
	case "troubleshoot":
		s.handleTroubleshoot(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// handleDevice returns (GET) or deregisters (DELETE) one device.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		desc, err := s.gateway.Devices().Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, desc)

	case http.MethodDelete:
		if err := s.gateway.Devices().Deregister(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContext returns the cached context record for a device.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	record, err := s.gateway.DeviceContext(id)
	if err != nil {
		writeError(w, contextStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleTroubleshoot resolves ?code= against the device's error table.
func (s *Server) handleTroubleshoot(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code parameter"})
		return
	}
	diagnosis, err := s.gateway.Troubleshoot(id, code)
	if err != nil {
		writeError(w, contextStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, diagnosis)
}

// handleQuery executes one read or write intent.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var intent gateway.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reading, err := s.gateway.Query(r.Context(), intent)
	if err != nil {
		writeError(w, queryStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// queryStatus maps execution failures to HTTP statuses.
func queryStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownProtocol):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnreachable):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrDeviceRejected), errors.Is(err, session.ErrDecodeError):
		return http.StatusBadGateway
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// contextStatus maps context lookup failures to HTTP statuses.
func contextStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, devctx.ErrContextUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
