package simulator

import (
	"encoding/binary"
	"math"
	"net"
	"sync"
	"sync/atomic"
)

// BACnetSimulator is a minimal BACnet/IP server answering ReadProperty
// and WriteProperty against present-value. Values are keyed by the full
// 32-bit object identifier (type<<22 | instance).
type BACnetSimulator struct {
	mu     sync.Mutex
	values map[uint32]float32

	// busyRemaining makes the next N requests answer an Abort.
	busyRemaining atomic.Int32

	conn net.PacketConn
}

// ObjectID builds a BACnet object identifier word.
func ObjectID(objectType uint16, instance uint32) uint32 {
	return uint32(objectType)<<22 | instance&0x3FFFFF
}

// NewBACnetSimulator creates a simulator with the given object values.
func NewBACnetSimulator(values map[uint32]float32) *BACnetSimulator {
	copied := make(map[uint32]float32, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &BACnetSimulator{values: copied}
}

// SetBusy makes the next n requests answer an Abort.
func (s *BACnetSimulator) SetBusy(n int) {
	s.busyRemaining.Store(int32(n))
}

// Value returns the current present-value of an object.
func (s *BACnetSimulator) Value(objectID uint32) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[objectID]
}

// Start binds a loopback UDP port and begins serving.
func (s *BACnetSimulator) Start() (string, error) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.conn = conn

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			response := s.respond(buf[:n])
			if response != nil {
				conn.WriteTo(response, from)
			}
		}
	}()
	return conn.LocalAddr().String(), nil
}

// Close stops the simulator.
func (s *BACnetSimulator) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// respond parses one request frame and builds the response APDU.
func (s *BACnetSimulator) respond(request []byte) []byte {
	if len(request) < 6 || request[0] != 0x81 {
		return nil
	}
	apdu := request[6:]
	if len(apdu) < 11 || apdu[0] != 0x00 {
		return nil
	}
	invokeID := apdu[2]
	service := apdu[3]

	if s.busyRemaining.Load() > 0 {
		s.busyRemaining.Add(-1)
		return bvlc([]byte{0x70, invokeID, 0x03}) // abort: preempted
	}

	// Context tag 0: object identifier.
	if apdu[4] != 0x0C {
		return bvlc([]byte{0x60, invokeID, 0x00}) // reject: other
	}
	objectID := binary.BigEndian.Uint32(apdu[5:9])

	switch service {
	case 0x0C: // ReadProperty
		s.mu.Lock()
		value, ok := s.values[objectID]
		s.mu.Unlock()
		if !ok {
			// Error PDU: class object (1), code unknown-object (31).
			return bvlc([]byte{0x50, invokeID, service, 0x91, 0x01, 0x91, 0x1F})
		}

		ack := []byte{0x30, invokeID, service}
		ack = append(ack, 0x0C)
		ack = binary.BigEndian.AppendUint32(ack, objectID)
		ack = append(ack, 0x19, apdu[10]) // echo property id
		ack = append(ack, 0x3E, 0x44)
		ack = binary.BigEndian.AppendUint32(ack, math.Float32bits(value))
		ack = append(ack, 0x3F)
		return bvlc(ack)

	case 0x0F: // WriteProperty
		// Value: opening tag 3, application real, after the property id.
		idx := 11
		if len(apdu) < idx+7 || apdu[idx] != 0x3E || apdu[idx+1] != 0x44 {
			return bvlc([]byte{0x60, invokeID, 0x09}) // reject: invalid tag
		}
		value := math.Float32frombits(binary.BigEndian.Uint32(apdu[idx+2 : idx+6]))

		s.mu.Lock()
		s.values[objectID] = value
		s.mu.Unlock()

		return bvlc([]byte{0x20, invokeID, service}) // simple ack

	default:
		return bvlc([]byte{0x60, invokeID, 0x00})
	}
}

// bvlc wraps an APDU in NPDU and BVLC headers.
func bvlc(apdu []byte) []byte {
	npdu := []byte{0x01, 0x00}
	total := 4 + len(npdu) + len(apdu)
	frame := make([]byte, 0, total)
	frame = append(frame, 0x81, 0x0A)
	frame = binary.BigEndian.AppendUint16(frame, uint16(total))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)
	return frame
}
