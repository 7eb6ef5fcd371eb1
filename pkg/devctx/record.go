package devctx

import "time"

// Profile identifies the matched device type.
type Profile struct {
	// Manufacturer is the device manufacturer name.
	Manufacturer string `json:"manufacturer,omitempty"`

	// Model is the device model name.
	Model string `json:"model,omitempty"`

	// DeviceType is the device category (e.g. "thermostat", "vav-controller").
	DeviceType string `json:"device_type,omitempty"`
}

// ContextRecord is the resolved knowledge about one device fingerprint.
// Records are immutable once stored in the cache; the cache hands out
// copies so readers never observe a half-written record.
type ContextRecord struct {
	// Fingerprint keys the record.
	Fingerprint string `json:"fingerprint"`

	// Profile is the matched device profile.
	Profile Profile `json:"profile"`

	// Parameters maps parameter names to human-readable descriptions or
	// addressing hints from the device documentation.
	Parameters map[string]string `json:"parameters,omitempty"`

	// ErrorCodes maps protocol error codes to their documented meaning.
	ErrorCodes map[string]string `json:"error_codes,omitempty"`

	// Troubleshooting holds ordered troubleshooting notes.
	Troubleshooting []string `json:"troubleshooting,omitempty"`

	// Maintenance maps maintenance tasks to their interval in days.
	Maintenance map[string]int `json:"maintenance,omitempty"`

	// RetrievedAt is when the resolver produced the record.
	RetrievedAt time.Time `json:"retrieved_at"`

	// Confidence is the resolver's match confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Stale marks a record served past its TTL because the resolver was
	// unavailable.
	Stale bool `json:"stale,omitempty"`
}

// Authoritative reports whether the record is trustworthy enough to act
// on without operator review: fresh and at or above the confidence
// threshold. Low-confidence records are still returned as advisory.
func (r *ContextRecord) Authoritative(threshold float64) bool {
	return r != nil && !r.Stale && r.Confidence >= threshold
}

// clone returns a deep copy of the record.
func (r *ContextRecord) clone() *ContextRecord {
	if r == nil {
		return nil
	}
	out := *r

	if r.Parameters != nil {
		out.Parameters = make(map[string]string, len(r.Parameters))
		for k, v := range r.Parameters {
			out.Parameters[k] = v
		}
	}
	if r.ErrorCodes != nil {
		out.ErrorCodes = make(map[string]string, len(r.ErrorCodes))
		for k, v := range r.ErrorCodes {
			out.ErrorCodes[k] = v
		}
	}
	if r.Troubleshooting != nil {
		out.Troubleshooting = append([]string(nil), r.Troubleshooting...)
	}
	if r.Maintenance != nil {
		out.Maintenance = make(map[string]int, len(r.Maintenance))
		for k, v := range r.Maintenance {
			out.Maintenance[k] = v
		}
	}
	return &out
}
