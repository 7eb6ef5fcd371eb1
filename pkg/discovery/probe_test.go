package discovery

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestWhoIsFrame(t *testing.T) {
	frame := whoIsFrame()

	want := []byte{0x81, 0x0B, 0x00, 0x08, 0x01, 0x00, 0x10, 0x08}
	if len(frame) != len(want) {
		t.Fatalf("frame length = %d, want %d", len(frame), len(want))
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Errorf("frame[%d] = %#02x, want %#02x", i, frame[i], want[i])
		}
	}
}

// iAmFrame builds an I-Am response for a device object instance.
func iAmFrame(instance uint32, vendorID byte) []byte {
	apdu := []byte{apduUnconfirmed, serviceIAm}

	// Object identifier, type 8 (device).
	objectID := uint32(8)<<22 | instance
	apdu = append(apdu, 0xC4)
	apdu = binary.BigEndian.AppendUint32(apdu, objectID)

	apdu = append(apdu, 0x22, 0x05, 0xC4) // max APDU 1476
	apdu = append(apdu, 0x91, 0x03)       // segmentation: none
	apdu = append(apdu, 0x21, vendorID)

	npdu := []byte{npduVersion, 0x00}
	total := 4 + len(npdu) + len(apdu)

	frame := make([]byte, 0, total)
	frame = append(frame, bvlcType, 0x0A)
	frame = binary.BigEndian.AppendUint16(frame, uint16(total))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)
	return frame
}

func TestParseIAm(t *testing.T) {
	dev := parseIAm(iAmFrame(1234, 42))
	if dev == nil {
		t.Fatal("parseIAm() = nil for a well-formed I-Am")
	}
	if dev.Protocol != "bacnet-ip" {
		t.Errorf("Protocol = %q", dev.Protocol)
	}
	if dev.ObjectInstance != 1234 {
		t.Errorf("ObjectInstance = %d, want 1234", dev.ObjectInstance)
	}
	// Vendor id is the last unsigned in the body, after max APDU.
	if dev.VendorID != "42" {
		t.Errorf("VendorID = %q, want 42", dev.VendorID)
	}
	if dev.Source != SourceBroadcast {
		t.Errorf("Source = %q", dev.Source)
	}
}

func TestParseIAmRejectsMalformed(t *testing.T) {
	valid := iAmFrame(1, 1)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"Empty", nil},
		{"Truncated", valid[:5]},
		{"NotBVLC", append([]byte{0x42}, valid[1:]...)},
		{"WrongNPDUVersion", func() []byte {
			f := append([]byte(nil), valid...)
			f[4] = 0x02
			return f
		}()},
		{"WhoIsNotIAm", whoIsFrame()},
		{"WrongObjectTag", func() []byte {
			f := append([]byte(nil), valid...)
			f[8] = 0xC3
			return f
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if dev := parseIAm(tt.frame); dev != nil {
				t.Errorf("parseIAm() = %+v, want nil", dev)
			}
		})
	}
}

func TestBroadcastProbeCollectsIAm(t *testing.T) {
	// A fake BACnet device on loopback: answer Who-Is with one I-Am.
	device, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer device.Close()

	go func() {
		buf := make([]byte, 1500)
		n, from, err := device.ReadFrom(buf)
		if err != nil {
			return
		}
		frame := buf[:n]
		if len(frame) < 8 || frame[7] != serviceWhoIs {
			return
		}
		device.WriteTo(iAmFrame(9001, 99), from)
	}()

	port := device.LocalAddr().(*net.UDPAddr).Port
	probe := &BroadcastProbe{Port: port, Timeout: 300 * time.Millisecond}

	devices, err := probe.Run(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Run() found %d devices, want 1", len(devices))
	}
	if devices[0].ObjectInstance != 9001 || devices[0].VendorID != "99" {
		t.Errorf("device = %+v", devices[0])
	}
	if devices[0].Address != "127.0.0.1" || devices[0].Port != port {
		t.Errorf("address = %s:%d", devices[0].Address, devices[0].Port)
	}
}

func TestScanProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	probe := &ScanProbe{Port: port, Timeout: 300 * time.Millisecond}

	devices := probe.Run(context.Background(), []string{"127.0.0.1"})
	if len(devices) != 1 {
		t.Fatalf("Run() found %d devices, want 1", len(devices))
	}
	if devices[0].Protocol != "modbus-tcp" || devices[0].Source != SourceScan {
		t.Errorf("device = %+v", devices[0])
	}

	// A closed port yields no device.
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedPort := closed.Addr().(*net.TCPAddr).Port
	closed.Close()

	probe = &ScanProbe{Port: closedPort, Timeout: 300 * time.Millisecond}
	if devices := probe.Run(context.Background(), []string{"127.0.0.1"}); len(devices) != 0 {
		t.Errorf("Run() against a closed port found %d devices, want 0", len(devices))
	}
}

func TestScanProbeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := &ScanProbe{Port: 1502, Timeout: 300 * time.Millisecond}
	if devices := probe.Run(ctx, []string{"127.0.0.1", "127.0.0.2"}); len(devices) != 0 {
		t.Errorf("Run() with a cancelled context found %d devices, want 0", len(devices))
	}
}
