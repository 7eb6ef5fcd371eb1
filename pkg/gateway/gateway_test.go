package gateway

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/internal/simulator"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/protocol"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/session"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// stubResolver returns a canned record for any fingerprint.
type stubResolver struct {
	calls      atomic.Int32
	confidence float64
}

func (r *stubResolver) Resolve(ctx context.Context, fingerprint string, features devctx.Features) (*devctx.ContextRecord, error) {
	r.calls.Add(1)
	return &devctx.ContextRecord{
		Fingerprint: fingerprint,
		Profile:     devctx.Profile{Manufacturer: "Acme", Model: "TH-100", DeviceType: "thermostat"},
		ErrorCodes: map[string]string{
			"http-503": "device is busy processing another request",
		},
		Troubleshooting: []string{"power-cycle the device", "check the network cable"},
		Maintenance:     map[string]int{"filter": 90},
		RetrievedAt:     time.Now(),
		Confidence:      r.confidence,
	}, nil
}

// testGateway wires a gateway against a running REST simulator.
func testGateway(t *testing.T, resolver devctx.Resolver) (*Gateway, *simulator.RESTSimulator, string) {
	t.Helper()

	sim := simulator.NewRESTSimulator(map[string]any{"temperature": 21.5, "target": 20.0}, "°C")
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
			RetryCount:        3,
			BackoffInitial:    50 * time.Millisecond,
			BackoffMax:        200 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffJitter:     0,
		},
	})
	if err != nil {
		t.Fatalf("spec registry: %v", err)
	}

	executor := session.NewExecutor(session.Config{
		Specs:      specs,
		Protocols:  protocol.NewRegistry(protocol.NewRESTCapability()),
		Transports: transport.DefaultRegistry(nil),
	})

	var cache *devctx.Cache
	if resolver != nil {
		cache = devctx.NewCache(devctx.CacheConfig{Resolver: resolver})
	}

	gw := New(Config{
		Devices:  device.NewRegistry(),
		Executor: executor,
		Specs:    specs,
		Cache:    cache,
	})
	t.Cleanup(gw.Close)

	id, err := gw.RegisterDevice(&device.Descriptor{
		Name:     "thermostat-1",
		Protocol: "rest",
		Address:  host,
		Port:     port,
		Parameters: map[string]device.ParameterAddress{
			"temperature": {Endpoint: "/api/temperature", Unit: "°C"},
			"target":      {Endpoint: "/api/target", Writable: true},
		},
	})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	return gw, sim, id
}

func TestQueryRead(t *testing.T) {
	gw, _, id := testGateway(t, nil)

	reading, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if reading.Value != 21.5 {
		t.Errorf("Value = %v, want 21.5", reading.Value)
	}
	if reading.Unit != "°C" {
		t.Errorf("Unit = %q, want °C", reading.Unit)
	}
	if reading.Protocol != "rest" {
		t.Errorf("Protocol = %q, want rest", reading.Protocol)
	}
}

func TestQueryByAddress(t *testing.T) {
	gw, _, _ := testGateway(t, nil)

	desc := gw.Devices().List()[0]
	reading, err := gw.Query(context.Background(), Intent{
		Address:   desc.Address,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	})
	if err != nil {
		t.Fatalf("Query() by address error = %v", err)
	}
	if reading.Value != 21.5 {
		t.Errorf("Value = %v, want 21.5", reading.Value)
	}
}

func TestQueryWriteThenRead(t *testing.T) {
	gw, _, id := testGateway(t, nil)

	if _, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "target",
		Kind:      protocol.OpWrite,
		Value:     22.5,
	}); err != nil {
		t.Fatalf("write Query() error = %v", err)
	}

	reading, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "target",
		Kind:      protocol.OpRead,
	})
	if err != nil {
		t.Fatalf("read-back Query() error = %v", err)
	}
	if reading.Value != 22.5 {
		t.Errorf("read-back Value = %v, want 22.5", reading.Value)
	}
}

func TestQueryRetriesBusyDevice(t *testing.T) {
	gw, sim, id := testGateway(t, nil)

	sim.SetBusy(2)

	start := time.Now()
	reading, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Query() against busy device error = %v", err)
	}
	if reading.Value != 21.5 {
		t.Errorf("Value = %v, want 21.5", reading.Value)
	}
	// Two backoffs before the third attempt: 50ms then 100ms.
	if elapsed < 150*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 150ms of backoff", elapsed)
	}
}

func TestQueryBusyDeviceExhaustsRetries(t *testing.T) {
	gw, sim, id := testGateway(t, nil)

	sim.SetBusy(10)

	_, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	})
	if !errors.Is(err, session.ErrUnreachable) {
		t.Errorf("Query() error = %v, want ErrUnreachable after exhausted retries", err)
	}

	var execErr *session.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error is %T, want *session.ExecutionError", err)
	}
	if len(execErr.Attempts) != 3 {
		t.Errorf("attempt log has %d entries, want 3", len(execErr.Attempts))
	}
}

func TestQueryTargets(t *testing.T) {
	gw, _, _ := testGateway(t, nil)

	if _, err := gw.Query(context.Background(), Intent{Parameter: "temperature"}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("Query() without target error = %v, want ErrNoTarget", err)
	}
	if _, err := gw.Query(context.Background(), Intent{DeviceID: "missing", Parameter: "temperature"}); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Query() with unknown id error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegisterDeviceUnknownProtocol(t *testing.T) {
	gw, _, _ := testGateway(t, nil)

	_, err := gw.RegisterDevice(&device.Descriptor{
		Protocol: "opc-ua",
		Address:  "10.0.0.1",
	})
	if !errors.Is(err, spec.ErrSpecNotFound) {
		t.Errorf("RegisterDevice() error = %v, want ErrSpecNotFound", err)
	}
}

func TestFirstContactPopulatesContext(t *testing.T) {
	resolver := &stubResolver{confidence: 0.9}
	gw, _, id := testGateway(t, resolver)

	if _, ok := gw.Fingerprint(id); ok {
		t.Error("device fingerprinted before first contact")
	}

	for i := 0; i < 3; i++ {
		if _, err := gw.Query(context.Background(), Intent{
			DeviceID:  id,
			Parameter: "temperature",
			Kind:      protocol.OpRead,
		}); err != nil {
			t.Fatalf("Query() error = %v", err)
		}
	}
	gw.Close() // wait for background population

	fp, ok := gw.Fingerprint(id)
	if !ok {
		t.Fatal("no fingerprint recorded after first contact")
	}
	if !devctx.ValidFingerprint(fp) {
		t.Errorf("fingerprint %q is malformed", fp)
	}
	if resolver.calls.Load() != 1 {
		t.Errorf("resolver calls = %d, want 1 (population runs once per device)", resolver.calls.Load())
	}

	record, err := gw.DeviceContext(id)
	if err != nil {
		t.Fatalf("DeviceContext() error = %v", err)
	}
	if record.Profile.Manufacturer != "Acme" {
		t.Errorf("Manufacturer = %q, want Acme", record.Profile.Manufacturer)
	}
}

func TestDeviceContextBeforeContact(t *testing.T) {
	gw, _, id := testGateway(t, &stubResolver{confidence: 0.9})

	if _, err := gw.DeviceContext(id); !errors.Is(err, devctx.ErrContextUnavailable) {
		t.Errorf("DeviceContext() before contact error = %v, want ErrContextUnavailable", err)
	}
	if _, err := gw.DeviceContext("missing"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("DeviceContext(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestTroubleshoot(t *testing.T) {
	gw, _, id := testGateway(t, &stubResolver{confidence: 0.9})

	if _, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	gw.Close()

	diagnosis, err := gw.Troubleshoot(id, "http-503")
	if err != nil {
		t.Fatalf("Troubleshoot() error = %v", err)
	}
	if diagnosis.Description == "" {
		t.Error("Description is empty")
	}
	if len(diagnosis.Troubleshooting) != 2 {
		t.Errorf("Troubleshooting has %d notes, want 2", len(diagnosis.Troubleshooting))
	}
	if diagnosis.Advisory {
		t.Error("high-confidence record produced an advisory diagnosis")
	}

	if _, err := gw.Troubleshoot(id, "E-UNKNOWN"); err == nil {
		t.Error("Troubleshoot() with undocumented code succeeded, want error")
	}
}

func TestTroubleshootAdvisory(t *testing.T) {
	gw, _, id := testGateway(t, &stubResolver{confidence: 0.2})

	if _, err := gw.Query(context.Background(), Intent{
		DeviceID:  id,
		Parameter: "temperature",
		Kind:      protocol.OpRead,
	}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	gw.Close()

	diagnosis, err := gw.Troubleshoot(id, "http-503")
	if err != nil {
		t.Fatalf("Troubleshoot() error = %v", err)
	}
	if !diagnosis.Advisory {
		t.Error("low-confidence record did not produce an advisory diagnosis")
	}
}
