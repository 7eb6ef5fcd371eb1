package simulator

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// ModbusSimulator is a minimal Modbus TCP server holding a register
// table. Read holding/input registers (0x03/0x04) and write single
// register (0x06) are supported.
type ModbusSimulator struct {
	mu        sync.Mutex
	registers map[uint16]uint16

	// busyRemaining makes the next N requests answer exception 06.
	busyRemaining atomic.Int32

	listener net.Listener
	closed   atomic.Bool
}

// NewModbusSimulator creates a simulator with the given register table.
func NewModbusSimulator(registers map[uint16]uint16) *ModbusSimulator {
	copied := make(map[uint16]uint16, len(registers))
	for k, v := range registers {
		copied[k] = v
	}
	return &ModbusSimulator{registers: copied}
}

// SetBusy makes the next n requests answer server-device-busy.
func (s *ModbusSimulator) SetBusy(n int) {
	s.busyRemaining.Store(int32(n))
}

// Register returns the current value of a register.
func (s *ModbusSimulator) Register(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[addr]
}

// Start binds a loopback port and begins serving.
func (s *ModbusSimulator) Start() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return listener.Addr().String(), nil
}

// Close stops the simulator.
func (s *ModbusSimulator) Close() error {
	s.closed.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *ModbusSimulator) serve(conn net.Conn) {
	defer conn.Close()

	for {
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		if length < 1 || length > 260 {
			return
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.respond(header, pdu)
		if response == nil {
			return
		}
		if _, err := conn.Write(response); err != nil {
			return
		}
	}
}

// respond builds the response frame for one request.
func (s *ModbusSimulator) respond(header, pdu []byte) []byte {
	if len(pdu) == 0 {
		return nil
	}
	function := pdu[0]

	if s.busyRemaining.Load() > 0 {
		s.busyRemaining.Add(-1)
		return frame(header, []byte{function | 0x80, 0x06})
	}

	switch function {
	case 0x03, 0x04:
		if len(pdu) < 5 {
			return frame(header, []byte{function | 0x80, 0x03})
		}
		start := binary.BigEndian.Uint16(pdu[1:3])
		quantity := binary.BigEndian.Uint16(pdu[3:5])
		if quantity == 0 || quantity > 125 {
			return frame(header, []byte{function | 0x80, 0x03})
		}

		s.mu.Lock()
		body := make([]byte, 2+quantity*2)
		body[0] = function
		body[1] = byte(quantity * 2)
		for i := uint16(0); i < quantity; i++ {
			value, ok := s.registers[start+i]
			if !ok {
				s.mu.Unlock()
				return frame(header, []byte{function | 0x80, 0x02})
			}
			binary.BigEndian.PutUint16(body[2+i*2:], value)
		}
		s.mu.Unlock()
		return frame(header, body)

	case 0x06:
		if len(pdu) < 5 {
			return frame(header, []byte{function | 0x80, 0x03})
		}
		addr := binary.BigEndian.Uint16(pdu[1:3])
		value := binary.BigEndian.Uint16(pdu[3:5])

		s.mu.Lock()
		s.registers[addr] = value
		s.mu.Unlock()

		// Write single register echoes the request.
		return frame(header, pdu[:5])

	default:
		return frame(header, []byte{function | 0x80, 0x01})
	}
}

// frame wraps a response PDU in an MBAP header echoing the request's
// transaction and unit ids.
func frame(requestHeader, pdu []byte) []byte {
	out := make([]byte, 7+len(pdu))
	copy(out[0:2], requestHeader[0:2]) // transaction id
	// protocol id stays zero
	binary.BigEndian.PutUint16(out[4:6], uint16(1+len(pdu)))
	out[6] = requestHeader[6] // unit id
	copy(out[7:], pdu)
	return out
}
