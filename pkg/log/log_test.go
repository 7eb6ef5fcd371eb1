package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEventRoundtrip(t *testing.T) {
	event := Event{
		Timestamp:    time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		ConnectionID: "11111111-2222-3333-4444-555555555555",
		Direction:    DirectionOut,
		Layer:        LayerSession,
		Category:     CategoryAttempt,
		Protocol:     "modbus-tcp",
		DeviceID:     "meter-7",
		RemoteAddr:   "192.0.2.10:502",
		Attempt: &AttemptEvent{
			Number:  2,
			Outcome: "transient",
			Latency: 87 * time.Millisecond,
			Backoff: 500 * time.Millisecond,
			Detail:  "no response within deadline",
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}

	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("Timestamp = %v, want %v (nanosecond precision)", decoded.Timestamp, event.Timestamp)
	}
	if decoded.Protocol != "modbus-tcp" || decoded.DeviceID != "meter-7" {
		t.Errorf("identifiers = %q/%q", decoded.Protocol, decoded.DeviceID)
	}
	if decoded.Attempt == nil {
		t.Fatal("Attempt payload lost in roundtrip")
	}
	if decoded.Attempt.Number != 2 || decoded.Attempt.Outcome != "transient" {
		t.Errorf("Attempt = %+v", decoded.Attempt)
	}
	if decoded.Attempt.Backoff != 500*time.Millisecond {
		t.Errorf("Backoff = %v, want 500ms", decoded.Attempt.Backoff)
	}
	if decoded.Frame != nil || decoded.Error != nil {
		t.Error("unset payloads decoded as non-nil")
	}
}

func TestDecodeEventMalformed(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Error("DecodeEvent() with garbage succeeded, want error")
	}
}

func TestFileLoggerWritesDecodableStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cborlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		logger.Log(Event{
			Timestamp: time.Now(),
			Layer:     LayerTransport,
			Category:  CategoryMessage,
			Direction: DirectionIn,
			Frame:     &FrameEvent{Size: 12 + i, Data: []byte{0x81, 0x0a}},
		})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Logging after Close is ignored, and a second Close is a no-op.
	logger.Log(Event{Timestamp: time.Now()})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	reopened, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("reopen NewFileLogger() error = %v", err)
	}
	reopened.Log(Event{
		Timestamp: time.Now(),
		Layer:     LayerContext,
		Category:  CategoryCache,
		Direction: DirectionNone,
		Cache:     &CacheEvent{Fingerprint: "aaaa111122223333", Result: "hit"},
	})
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close() after reopen error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	dec := NewDecoder(f)

	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode stream: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("decoded %d events, want 4 (3 original + 1 appended)", len(events))
	}
	if events[0].Frame == nil || events[0].Frame.Size != 12 {
		t.Errorf("events[0].Frame = %+v", events[0].Frame)
	}
	if events[3].Cache == nil || events[3].Cache.Result != "hit" {
		t.Errorf("appended event = %+v", events[3].Cache)
	}
}

// captureLogger appends events for inspection.
type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(event Event) { c.events = append(c.events, event) }

func TestMultiLoggerFansOut(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}
	multi := NewMultiLogger(a, b, NoopLogger{})

	multi.Log(Event{Timestamp: time.Now(), Category: CategoryState})
	multi.Log(Event{Timestamp: time.Now(), Category: CategoryError})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("fan-out delivered %d/%d events, want 2/2", len(a.events), len(b.events))
	}
	if a.events[1].Category != CategoryError {
		t.Errorf("second event category = %v", a.events[1].Category)
	}
}

func TestEnumStrings(t *testing.T) {
	if got := DirectionIn.String(); got != "IN" {
		t.Errorf("DirectionIn = %q", got)
	}
	if got := Direction(9).String(); got != "UNKNOWN" {
		t.Errorf("Direction(9) = %q", got)
	}
	if got := LayerSession.String(); got != "SESSION" {
		t.Errorf("LayerSession = %q", got)
	}
	if got := CategoryCache.String(); got != "CACHE" {
		t.Errorf("CategoryCache = %q", got)
	}
}

func TestEncoderDecoderPair(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.Encode(Event{Timestamp: time.Now(), Category: CategoryMessage}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var ev Event
	if err := NewDecoder(&buf).Decode(&ev); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.Category != CategoryMessage {
		t.Errorf("Category = %v", ev.Category)
	}
}
