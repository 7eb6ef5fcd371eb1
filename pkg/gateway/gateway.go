package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/log"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/protocol"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/session"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
)

// Gateway errors.
var (
	// ErrNoTarget indicates an intent with neither device id nor address.
	ErrNoTarget = errors.New("intent names no device")
)

// contextResolveTimeout bounds one background context population.
const contextResolveTimeout = 30 * time.Second

// Intent is one caller request against a device.
type Intent struct {
	// DeviceID selects the device by registry id.
	DeviceID string `json:"device_id,omitempty"`

	// Address selects the device by network address when no id is known.
	Address string `json:"address,omitempty"`

	// Parameter is the parameter to read or write.
	Parameter string `json:"parameter"`

	// Kind selects read or write.
	Kind protocol.OpKind `json:"kind"`

	// Value is the value to write (writes only).
	Value any `json:"value,omitempty"`
}

// Config configures a Gateway.
type Config struct {
	// Devices is the device registry (required).
	Devices *device.Registry

	// Executor drives sessions (required).
	Executor *session.Executor

	// Specs resolves protocol defaults (required).
	Specs *spec.Registry

	// Cache is the device context cache; nil disables context population.
	Cache *devctx.Cache

	// Logger receives gateway events (default: NoopLogger).
	Logger log.Logger
}

// Gateway orchestrates queries against registered devices.
type Gateway struct {
	devices  *device.Registry
	executor *session.Executor
	specs    *spec.Registry
	cache    *devctx.Cache
	logger   log.Logger

	// fingerprints maps device id to the fingerprint computed on first
	// contact. Presence also marks that context population ran.
	mu           sync.Mutex
	fingerprints map[string]string

	wg sync.WaitGroup
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Gateway{
		devices:      cfg.Devices,
		executor:     cfg.Executor,
		specs:        cfg.Specs,
		cache:        cfg.Cache,
		logger:       logger,
		fingerprints: make(map[string]string),
	}
}

// Devices returns the device registry.
func (g *Gateway) Devices() *device.Registry { return g.devices }

// RegisterDevice registers a device and returns its id.
func (g *Gateway) RegisterDevice(desc *device.Descriptor) (string, error) {
	if _, err := g.specs.Lookup(desc.Protocol); err != nil {
		return "", err
	}
	return g.devices.Register(desc)
}

// Query performs one read or write described by the intent.
func (g *Gateway) Query(ctx context.Context, intent Intent) (*protocol.Reading, error) {
	desc, err := g.resolve(intent)
	if err != nil {
		return nil, err
	}

	op := protocol.Operation{
		Kind:      intent.Kind,
		Parameter: intent.Parameter,
		Value:     intent.Value,
	}

	reading, err := g.executor.Execute(ctx, desc, op)
	if err != nil {
		return nil, err
	}

	// First contact: fingerprint and populate context off the hot path.
	g.populateContext(desc, reading)

	return reading, nil
}

// DeviceContext returns the cached context record for a device, or
// devctx.ErrContextUnavailable when the device has not been fingerprinted
// or no record is cached.
func (g *Gateway) DeviceContext(deviceID string) (*devctx.ContextRecord, error) {
	if _, err := g.devices.Get(deviceID); err != nil {
		return nil, err
	}
	if g.cache == nil {
		return nil, fmt.Errorf("%w: context cache disabled", devctx.ErrContextUnavailable)
	}

	g.mu.Lock()
	fingerprint, ok := g.fingerprints[deviceID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %s not yet contacted", devctx.ErrContextUnavailable, deviceID)
	}

	record, ok := g.cache.Get(fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: no record for %s", devctx.ErrContextUnavailable, fingerprint)
	}
	return record, nil
}

// Fingerprint returns the fingerprint computed for a device, when known.
func (g *Gateway) Fingerprint(deviceID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fp, ok := g.fingerprints[deviceID]
	return fp, ok
}

// Close waits for background context population to finish.
func (g *Gateway) Close() {
	g.wg.Wait()
}

// resolve maps an intent to a device descriptor.
func (g *Gateway) resolve(intent Intent) (*device.Descriptor, error) {
	switch {
	case intent.DeviceID != "":
		return g.devices.Get(intent.DeviceID)
	case intent.Address != "":
		return g.devices.FindByAddress(intent.Address)
	default:
		return nil, ErrNoTarget
	}
}

// populateContext fingerprints the device after its first successful
// contact and resolves its context in the background. The read/write
// path never waits on this.
func (g *Gateway) populateContext(desc *device.Descriptor, reading *protocol.Reading) {
	if g.cache == nil {
		return
	}

	g.mu.Lock()
	if _, done := g.fingerprints[desc.ID]; done {
		g.mu.Unlock()
		return
	}

	features := g.features(desc, reading)
	fingerprint := features.Fingerprint()
	g.fingerprints[desc.ID] = fingerprint
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), contextResolveTimeout)
		defer cancel()

		if _, err := g.cache.ResolveContext(ctx, fingerprint, features); err != nil {
			g.logger.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionNone,
				Layer:     log.LayerContext,
				Category:  log.CategoryError,
				DeviceID:  desc.ID,
				Error: &log.ErrorEventData{
					Layer:   log.LayerContext,
					Message: fmt.Sprintf("context population failed for %s: %v", desc.ID, err),
				},
			})
		}
	}()
}

// features builds fingerprint features from what the first contact
// observed. Sampled values never enter the features; only the bucketed
// response timing does.
func (g *Gateway) features(desc *device.Descriptor, reading *protocol.Reading) devctx.Features {
	port := desc.Port
	if port == 0 {
		if ps, err := g.specs.Lookup(desc.Protocol); err == nil {
			port = ps.DefaultPort
		}
	}
	return devctx.Features{
		Protocol:       desc.Protocol,
		Port:           port,
		ResponseTiming: devctx.BucketResponseTime(reading.Latency),
	}
}
