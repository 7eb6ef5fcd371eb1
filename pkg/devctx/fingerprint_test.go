package devctx

import (
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	f := Features{
		Protocol:       "modbus-tcp",
		Port:           502,
		VendorID:       "42",
		Model:          "PM5300",
		OpenPorts:      []int{80, 502},
		ResponseTiming: TimingFast,
	}

	fp1 := f.Fingerprint()
	fp2 := f.Fingerprint()
	if fp1 != fp2 {
		t.Errorf("Fingerprint() not deterministic: %s vs %s", fp1, fp2)
	}
	if !ValidFingerprint(fp1) {
		t.Errorf("Fingerprint() = %q, not a valid fingerprint", fp1)
	}
}

func TestFingerprintIgnoresPortOrder(t *testing.T) {
	a := Features{Protocol: "rest", Port: 80, OpenPorts: []int{443, 80, 8080}}
	b := Features{Protocol: "rest", Port: 80, OpenPorts: []int{8080, 80, 443}}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("open port order changed the fingerprint")
	}
}

func TestFingerprintDistinguishesDevices(t *testing.T) {
	base := Features{Protocol: "modbus-tcp", Port: 502, VendorID: "42"}

	variants := []Features{
		{Protocol: "bacnet-ip", Port: 502, VendorID: "42"},
		{Protocol: "modbus-tcp", Port: 1502, VendorID: "42"},
		{Protocol: "modbus-tcp", Port: 502, VendorID: "99"},
		{Protocol: "modbus-tcp", Port: 502, VendorID: "42", Model: "PM5300"},
	}

	for i, v := range variants {
		if v.Fingerprint() == base.Fingerprint() {
			t.Errorf("variant %d collides with the base fingerprint", i)
		}
	}
}

func TestBucketResponseTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Millisecond, TimingFast},
		{49 * time.Millisecond, TimingFast},
		{50 * time.Millisecond, TimingMedium},
		{249 * time.Millisecond, TimingMedium},
		{250 * time.Millisecond, TimingSlow},
		{5 * time.Second, TimingSlow},
	}

	for _, tt := range tests {
		if got := BucketResponseTime(tt.d); got != tt.want {
			t.Errorf("BucketResponseTime(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestValidFingerprint(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0123456789abcdef", true},
		{"0123456789ABCDEF", false}, // uppercase is not canonical
		{"0123456789abcde", false},  // too short
		{"0123456789abcdef0", false},
		{"0123456789abcdeg", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ValidFingerprint(tt.in); got != tt.want {
			t.Errorf("ValidFingerprint(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAuthoritative(t *testing.T) {
	tests := []struct {
		name   string
		record *ContextRecord
		want   bool
	}{
		{"HighConfidence", &ContextRecord{Confidence: 0.9}, true},
		{"AtThreshold", &ContextRecord{Confidence: 0.5}, true},
		{"LowConfidence", &ContextRecord{Confidence: 0.3}, false},
		{"Stale", &ContextRecord{Confidence: 0.9, Stale: true}, false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Authoritative(0.5); got != tt.want {
				t.Errorf("Authoritative(0.5) = %v, want %v", got, tt.want)
			}
		})
	}
}
