package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldgate-protocol/fieldgate-go/internal/simulator"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/gateway"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/metric"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/protocol"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/session"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// testAPI starts the HTTP API backed by a REST simulator and returns the
// base URL, the simulator, and the registered device id.
func testAPI(t *testing.T) (string, *simulator.RESTSimulator, string) {
	t.Helper()

	sim := simulator.NewRESTSimulator(map[string]any{"temperature": 21.5}, "°C")
	addr, err := sim.Start()
	if err != nil {
		t.Fatalf("simulator start: %v", err)
	}
	t.Cleanup(func() { sim.Close() })

	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split simulator address: %v", err)
	}
	port, _ := strconv.Atoi(portText)

	specs, err := spec.NewRegistry(&spec.ProtocolSpec{
		Name:        "rest",
		Transport:   transport.KindStream,
		DefaultPort: spec.PortREST,
		Timing: spec.Timing{
			ConnectTimeout:    2 * time.Second,
			RequestTimeout:    2 * time.Second,
			RetryCount:        2,
			BackoffInitial:    20 * time.Millisecond,
			BackoffMax:        50 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffJitter:     0,
		},
	})
	if err != nil {
		t.Fatalf("spec registry: %v", err)
	}

	promReg := prometheus.NewRegistry()
	metrics := metric.New(promReg)

	executor := session.NewExecutor(session.Config{
		Specs:      specs,
		Protocols:  protocol.NewRegistry(protocol.NewRESTCapability()),
		Transports: transport.DefaultRegistry(nil),
		Metrics:    metrics,
	})

	gw := gateway.New(gateway.Config{
		Devices:  device.NewRegistry(),
		Executor: executor,
		Specs:    specs,
		Cache:    devctx.NewCache(devctx.CacheConfig{}),
	})
	t.Cleanup(gw.Close)

	id, err := gw.RegisterDevice(&device.Descriptor{
		Name:     "thermostat-1",
		Protocol: "rest",
		Address:  host,
		Port:     port,
		Parameters: map[string]device.ParameterAddress{
			"temperature": {Endpoint: "/api/temperature", Unit: "°C"},
		},
	})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	server := NewServer(":0", gw, specs, promReg, "test")
	api := httptest.NewServer(server.mux)
	t.Cleanup(api.Close)

	return api.URL, sim, id
}

// getJSON decodes a GET response body into out and returns the status.
func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// postJSON posts body as JSON and decodes the response into out.
func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	base, _, _ := testAPI(t)

	var health map[string]string
	if status := getJSON(t, base+"/api/v1/health", &health); status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if health["status"] != "ok" || health["version"] != "test" {
		t.Errorf("health = %v", health)
	}
}

func TestProtocolsEndpoint(t *testing.T) {
	base, _, _ := testAPI(t)

	var body struct {
		Protocols []string `json:"protocols"`
	}
	if status := getJSON(t, base+"/api/v1/protocols", &body); status != http.StatusOK {
		t.Fatalf("protocols status = %d", status)
	}
	if len(body.Protocols) != 1 || body.Protocols[0] != "rest" {
		t.Errorf("protocols = %v", body.Protocols)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	base, _, _ := testAPI(t)

	var created map[string]string
	status := postJSON(t, base+"/api/v1/devices", &device.Descriptor{
		Name:     "meter-1",
		Protocol: "rest",
		Address:  "192.0.2.50",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("register status = %d", status)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("register returned no id")
	}

	var listed []*device.Descriptor
	if status := getJSON(t, base+"/api/v1/devices", &listed); status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	if len(listed) != 2 {
		t.Errorf("list returned %d devices, want 2", len(listed))
	}

	var fetched device.Descriptor
	if status := getJSON(t, base+"/api/v1/devices/"+id, &fetched); status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	if fetched.Name != "meter-1" {
		t.Errorf("fetched name = %q", fetched.Name)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/v1/devices/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	if status := getJSON(t, base+"/api/v1/devices/"+id, nil); status != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", status)
	}
}

func TestRegisterDeviceRejectsUnknownProtocol(t *testing.T) {
	base, _, _ := testAPI(t)

	status := postJSON(t, base+"/api/v1/devices", &device.Descriptor{
		Protocol: "opc-ua",
		Address:  "192.0.2.50",
	}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("register status = %d, want 400", status)
	}
}

func TestQueryEndpoint(t *testing.T) {
	base, _, id := testAPI(t)

	var reading protocol.Reading
	status := postJSON(t, base+"/api/v1/query", gateway.Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	}, &reading)
	if status != http.StatusOK {
		t.Fatalf("query status = %d", status)
	}
	if reading.Value != 21.5 || reading.Unit != "°C" {
		t.Errorf("reading = %+v", reading)
	}
}

func TestQueryEndpointStatuses(t *testing.T) {
	base, sim, id := testAPI(t)

	// Unknown device.
	if status := postJSON(t, base+"/api/v1/query", gateway.Intent{
		DeviceID:  "missing",
		Parameter: "temperature",
	}, nil); status != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", status)
	}

	// Malformed body.
	resp, err := http.Post(base+"/api/v1/query", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}

	// Unreachable device: the simulator stays busy past the retry budget.
	sim.SetBusy(10)
	if status := postJSON(t, base+"/api/v1/query", gateway.Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	}, nil); status != http.StatusGatewayTimeout {
		t.Errorf("unreachable device status = %d, want 504", status)
	}
}

func TestContextEndpointNotFound(t *testing.T) {
	base, _, id := testAPI(t)

	// No contact yet, so no context is cached.
	if status := getJSON(t, base+"/api/v1/devices/"+id+"/context", nil); status != http.StatusNotFound {
		t.Errorf("context status = %d, want 404", status)
	}
	if status := getJSON(t, base+"/api/v1/devices/missing/context", nil); status != http.StatusNotFound {
		t.Errorf("context for unknown device status = %d, want 404", status)
	}
}

func TestTroubleshootEndpointRequiresCode(t *testing.T) {
	base, _, id := testAPI(t)

	if status := getJSON(t, base+"/api/v1/devices/"+id+"/troubleshoot", nil); status != http.StatusBadRequest {
		t.Errorf("troubleshoot without code status = %d, want 400", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	base, _, id := testAPI(t)

	// Drive one query so the session counters exist.
	if status := postJSON(t, base+"/api/v1/query", gateway.Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	}, nil); status != http.StatusOK {
		t.Fatalf("query status = %d", status)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{
		"fieldgate_session_attempts_total",
		"fieldgate_session_executions_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	base, _, _ := testAPI(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/health"},
		{http.MethodDelete, "/api/v1/protocols"},
		{http.MethodGet, "/api/v1/query"},
		{http.MethodPut, "/api/v1/devices"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, base+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tt.method, tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", resp.StatusCode)
			}
		})
	}
}
