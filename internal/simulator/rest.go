package simulator

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// RESTSimulator is a minimal HTTP/JSON device. Parameters live under
// /api/<name>: GET returns {"<name>": value, "unit": unit}, POST with
// {"value": v} updates the parameter.
type RESTSimulator struct {
	mu     sync.Mutex
	values map[string]any

	unit string

	// busyRemaining makes the next N requests answer 503.
	busyRemaining atomic.Int32

	listener net.Listener
	server   *http.Server
}

// NewRESTSimulator creates a simulator serving the given parameter values.
func NewRESTSimulator(values map[string]any, unit string) *RESTSimulator {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &RESTSimulator{values: copied, unit: unit}
}

// SetBusy makes the next n requests answer 503 device busy.
func (s *RESTSimulator) SetBusy(n int) {
	s.busyRemaining.Store(int32(n))
}

// Start binds a loopback port and begins serving.
func (s *RESTSimulator) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.listener = listener
	s.server = &http.Server{Handler: http.HandlerFunc(s.handle)}

	go s.server.Serve(listener)
	return listener.Addr().String(), nil
}

// Close stops the simulator.
func (s *RESTSimulator) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *RESTSimulator) handle(w http.ResponseWriter, r *http.Request) {
	if s.busyRemaining.Load() > 0 {
		s.busyRemaining.Add(-1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "device busy"})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/")

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[name]
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown parameter"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		body := map[string]any{name: value}
		if s.unit != "" {
			body["unit"] = s.unit
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)

	case http.MethodPost:
		var req struct {
			Value any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid body"})
			return
		}
		s.values[name] = req.Value
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"value": req.Value})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
