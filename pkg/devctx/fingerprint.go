package devctx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FingerprintLength is the length of a fingerprint string (16 hex chars,
// the first 64 bits of the SHA-256).
const FingerprintLength = 16

// Response time buckets. Bucketing keeps the fingerprint stable across
// measurements; raw latencies would make every probe a new device.
const (
	TimingFast   = "fast"   // < 50ms
	TimingMedium = "medium" // < 250ms
	TimingSlow   = "slow"   // >= 250ms
)

// BucketResponseTime maps a measured response time to its bucket name.
func BucketResponseTime(d time.Duration) string {
	switch {
	case d < 50*time.Millisecond:
		return TimingFast
	case d < 250*time.Millisecond:
		return TimingMedium
	default:
		return TimingSlow
	}
}

// Features are the stable observable traits of a device used for
// fingerprinting. Sampled payload values never belong here; only traits
// that survive across probes may enter the fingerprint.
type Features struct {
	// Protocol is the protocol the device answered on.
	Protocol string `json:"protocol"`

	// Port is the port the device answered on.
	Port int `json:"port"`

	// VendorID is the vendor identifier, when the protocol exposes one.
	VendorID string `json:"vendor_id,omitempty"`

	// Model is the model string, when known.
	Model string `json:"model,omitempty"`

	// Firmware is the firmware revision, when known.
	Firmware string `json:"firmware,omitempty"`

	// OpenPorts lists other ports found open during discovery.
	OpenPorts []int `json:"open_ports,omitempty"`

	// Banner is the identification banner or server header, when any.
	Banner string `json:"banner,omitempty"`

	// ResponseTiming is the bucketed response-time signature.
	ResponseTiming string `json:"response_timing,omitempty"`
}

// Fingerprint computes the device fingerprint: the first 64 bits
// (16 hex chars) of SHA-256 over a canonical rendering of the features.
// Deterministic: equal features always produce equal fingerprints.
func (f Features) Fingerprint() string {
	ports := make([]int, len(f.OpenPorts))
	copy(ports, f.OpenPorts)
	sort.Ints(ports)

	portText := make([]string, len(ports))
	for i, p := range ports {
		portText[i] = strconv.Itoa(p)
	}

	canonical := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s",
		f.Protocol,
		f.Port,
		f.VendorID,
		f.Model,
		f.Firmware,
		strings.Join(portText, ","),
		f.Banner,
		f.ResponseTiming,
	)

	hash := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(hash[:8])
}

// ValidFingerprint checks whether s is a well-formed fingerprint.
func ValidFingerprint(s string) bool {
	if len(s) != FingerprintLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
