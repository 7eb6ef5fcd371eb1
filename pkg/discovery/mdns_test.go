package discovery

import (
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/devctx"
)

func TestParseTXT(t *testing.T) {
	txt := parseTXT([]string{
		"vendor=42",
		"model=TH-100",
		"fw=2.1.0",
		"banner=Acme Thermostat",
		"novalue",
		"=orphan",
		"empty=",
	})

	want := map[string]string{
		"vendor": "42",
		"model":  "TH-100",
		"fw":     "2.1.0",
		"banner": "Acme Thermostat",
		"empty":  "",
	}
	if !reflect.DeepEqual(txt, want) {
		t.Errorf("parseTXT() = %v, want %v", txt, want)
	}
}

func TestEntryToDevice(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "thermostat-1"},
		Port:          8080,
		Text:          []string{"vendor=42", "model=TH-100", "fw=2.1.0"},
		AddrIPv4:      []net.IP{net.ParseIP("192.0.2.7")},
	}

	dev := entryToDevice(entry)
	if dev == nil {
		t.Fatal("entryToDevice() = nil")
	}
	if dev.Protocol != "rest" || dev.Source != SourceMDNS {
		t.Errorf("Protocol/Source = %q/%q", dev.Protocol, dev.Source)
	}
	if dev.Address != "192.0.2.7" || dev.Port != 8080 {
		t.Errorf("endpoint = %s:%d", dev.Address, dev.Port)
	}
	if dev.Name != "thermostat-1" {
		t.Errorf("Name = %q", dev.Name)
	}
	if dev.VendorID != "42" || dev.Model != "TH-100" || dev.Firmware != "2.1.0" {
		t.Errorf("TXT fields = %q/%q/%q", dev.VendorID, dev.Model, dev.Firmware)
	}
}

func TestEntryToDeviceNoAddresses(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
		Port:          8080,
	}
	if dev := entryToDevice(entry); dev != nil {
		t.Errorf("entryToDevice() without addresses = %+v, want nil", dev)
	}
}

func TestMergeAddresses(t *testing.T) {
	merged := mergeAddresses(
		[]string{"192.0.2.1", "192.0.2.2"},
		[]string{"192.0.2.2", "192.0.2.3"},
	)

	want := []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("mergeAddresses() = %v, want %v", merged, want)
	}
}

func TestDiscoveredDeviceFeatures(t *testing.T) {
	dev := &DiscoveredDevice{
		Protocol:     "rest",
		Address:      "192.0.2.7",
		Port:         8080,
		VendorID:     "42",
		Model:        "TH-100",
		Firmware:     "2.1.0",
		Banner:       "Acme Thermostat",
		ResponseTime: 30 * time.Millisecond,
	}

	features := dev.Features()
	if features.Protocol != "rest" || features.Port != 8080 {
		t.Errorf("Protocol/Port = %q/%d", features.Protocol, features.Port)
	}
	if features.VendorID != "42" || features.Model != "TH-100" {
		t.Errorf("identity = %q/%q", features.VendorID, features.Model)
	}
	if features.ResponseTiming != devctx.TimingFast {
		t.Errorf("ResponseTiming = %q, want %q", features.ResponseTiming, devctx.TimingFast)
	}
	if !devctx.ValidFingerprint(features.Fingerprint()) {
		t.Error("features do not produce a valid fingerprint")
	}
}
