package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes engine events to an slog.Logger.
// Useful for development when you want to see engine events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
// Error events are written at Warn level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.Protocol != "" {
		attrs = append(attrs, slog.String("protocol", event.Protocol))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	if event.Direction != DirectionNone {
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
	}

	level := slog.LevelDebug

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Attempt != nil:
		attrs = append(attrs,
			slog.Int("attempt", event.Attempt.Number),
			slog.String("outcome", event.Attempt.Outcome),
			slog.Duration("latency", event.Attempt.Latency),
		)
		if event.Attempt.Backoff > 0 {
			attrs = append(attrs, slog.Duration("backoff", event.Attempt.Backoff))
		}
		if event.Attempt.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.Attempt.Detail))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Cache != nil:
		attrs = append(attrs,
			slog.String("fingerprint", event.Cache.Fingerprint),
			slog.String("result", event.Cache.Result),
		)
		if event.Cache.Confidence > 0 {
			attrs = append(attrs, slog.Float64("confidence", event.Cache.Confidence))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
	}

	a.logger.LogAttrs(context.Background(), level, "engine event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
