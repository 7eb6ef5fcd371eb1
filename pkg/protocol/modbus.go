package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// Modbus function codes used by the capability.
const (
	modbusFuncReadHolding  = 0x03
	modbusFuncReadInput    = 0x04
	modbusFuncWriteSingle  = 0x06
	modbusExceptionFlag    = 0x80
	modbusProtocolID       = 0x0000
	mbapHeaderSize         = 7
)

// Modbus exception codes.
const (
	modbusExcIllegalFunction = 0x01
	modbusExcIllegalAddress  = 0x02
	modbusExcIllegalValue    = 0x03
	modbusExcDeviceFailure   = 0x04
	modbusExcAcknowledge     = 0x05
	modbusExcDeviceBusy      = 0x06
)

// modbusExceptionText maps exception codes to their standard names.
var modbusExceptionText = map[byte]string{
	modbusExcIllegalFunction: "illegal function",
	modbusExcIllegalAddress:  "illegal data address",
	modbusExcIllegalValue:    "illegal data value",
	modbusExcDeviceFailure:   "server device failure",
	modbusExcAcknowledge:     "acknowledge",
	modbusExcDeviceBusy:      "server device busy",
}

// modbusMeta carries per-exchange state needed to validate the response.
type modbusMeta struct {
	txnID    uint16
	unitID   uint8
	function byte
	quantity uint16
}

// ModbusCapability speaks Modbus TCP over the stream transport: MBAP
// framing with read-holding/input-register and write-single-register PDUs.
// Register addressing and optional transform expressions come from the
// device descriptor's register map.
type ModbusCapability struct {
	txnCounter atomic.Uint32
}

// NewModbusCapability creates the Modbus TCP capability.
func NewModbusCapability() *ModbusCapability {
	return &ModbusCapability{}
}

// Name returns "modbus-tcp".
func (c *ModbusCapability) Name() string { return "modbus-tcp" }

// TransportKind returns KindStream.
func (c *ModbusCapability) TransportKind() transport.Kind { return transport.KindStream }

// EncodeRead builds a read-registers exchange for the parameter.
func (c *ModbusCapability) EncodeRead(desc *device.Descriptor, parameter string) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}

	quantity := param.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity > 2 {
		return nil, fmt.Errorf("%w: parameter %q spans %d registers, max 2", device.ErrInvalidDescriptor, parameter, quantity)
	}

	function := byte(modbusFuncReadHolding)
	if param.RegisterType == "input" {
		function = modbusFuncReadInput
	}

	txnID := uint16(c.txnCounter.Add(1))
	pdu := make([]byte, 5)
	pdu[0] = function
	binary.BigEndian.PutUint16(pdu[1:3], param.Register)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)

	return &Exchange{
		Payload:   mbapFrame(txnID, desc.UnitID, pdu),
		Complete:  modbusComplete,
		Operation: Operation{Kind: OpRead, Parameter: parameter},
		Param:     param,
		Meta:      &modbusMeta{txnID: txnID, unitID: desc.UnitID, function: function, quantity: quantity},
	}, nil
}

// EncodeWrite builds a write-single-register exchange for the parameter.
func (c *ModbusCapability) EncodeWrite(desc *device.Descriptor, parameter string, value any) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}
	if !param.Writable {
		return nil, fmt.Errorf("%w: %q", ErrNotWritable, parameter)
	}

	raw, err := toRegisterValue(value)
	if err != nil {
		return nil, err
	}

	txnID := uint16(c.txnCounter.Add(1))
	pdu := make([]byte, 5)
	pdu[0] = modbusFuncWriteSingle
	binary.BigEndian.PutUint16(pdu[1:3], param.Register)
	binary.BigEndian.PutUint16(pdu[3:5], raw)

	return &Exchange{
		Payload:   mbapFrame(txnID, desc.UnitID, pdu),
		Complete:  modbusComplete,
		Operation: Operation{Kind: OpWrite, Parameter: parameter, Value: value},
		Param:     param,
		Meta:      &modbusMeta{txnID: txnID, unitID: desc.UnitID, function: modbusFuncWriteSingle, quantity: 1},
	}, nil
}

// Decode validates the MBAP header and parses the PDU into a Reading.
func (c *ModbusCapability) Decode(ex *Exchange, response []byte) (*Reading, error) {
	meta, ok := ex.Meta.(*modbusMeta)
	if !ok {
		return nil, fmt.Errorf("%w: exchange missing modbus metadata", ErrMalformedResponse)
	}

	if len(response) < mbapHeaderSize+1 {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedResponse, len(response), mbapHeaderSize+1)
	}

	txnID := binary.BigEndian.Uint16(response[0:2])
	protoID := binary.BigEndian.Uint16(response[2:4])
	length := binary.BigEndian.Uint16(response[4:6])
	unitID := response[6]

	if protoID != modbusProtocolID {
		return nil, fmt.Errorf("%w: protocol id %d", ErrMalformedResponse, protoID)
	}
	if txnID != meta.txnID {
		return nil, fmt.Errorf("%w: transaction id %d, want %d", ErrMalformedResponse, txnID, meta.txnID)
	}
	if unitID != meta.unitID {
		return nil, fmt.Errorf("%w: unit id %d, want %d", ErrMalformedResponse, unitID, meta.unitID)
	}
	if int(length) != len(response)-6 {
		return nil, fmt.Errorf("%w: declared length %d, have %d", ErrMalformedResponse, length, len(response)-6)
	}

	pdu := response[mbapHeaderSize:]
	function := pdu[0]

	// Exception response: original function with the high bit set.
	if function == meta.function|modbusExceptionFlag {
		if len(pdu) < 2 {
			return nil, fmt.Errorf("%w: truncated exception", ErrMalformedResponse)
		}
		code := pdu[1]
		text, known := modbusExceptionText[code]
		if !known {
			text = "unknown exception"
		}
		return nil, &DeviceError{
			Protocol:  c.Name(),
			Code:      fmt.Sprintf("exception-%d", code),
			Detail:    text,
			Temporary: code == modbusExcDeviceBusy || code == modbusExcAcknowledge,
		}
	}
	if function != meta.function {
		return nil, fmt.Errorf("%w: function %#x, want %#x", ErrMalformedResponse, function, meta.function)
	}

	switch function {
	case modbusFuncReadHolding, modbusFuncReadInput:
		return c.decodeRead(ex, meta, pdu)
	case modbusFuncWriteSingle:
		// Echo of the request confirms the write.
		return &Reading{
			Parameter: ex.Operation.Parameter,
			Value:     ex.Operation.Value,
			Unit:      ex.Param.Unit,
			Protocol:  c.Name(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected function %#x", ErrMalformedResponse, function)
	}
}

// decodeRead parses a read-registers response body.
func (c *ModbusCapability) decodeRead(ex *Exchange, meta *modbusMeta, pdu []byte) (*Reading, error) {
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: truncated read response", ErrMalformedResponse)
	}
	byteCount := int(pdu[1])
	if byteCount != int(meta.quantity)*2 || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrMalformedResponse, byteCount, meta.quantity)
	}

	data := pdu[2 : 2+byteCount]
	var raw float64
	switch meta.quantity {
	case 1:
		raw = float64(binary.BigEndian.Uint16(data))
	case 2:
		raw = float64(binary.BigEndian.Uint32(data))
	}

	value, err := applyTransform(ex.Param.Transform, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return &Reading{
		Parameter: ex.Operation.Parameter,
		Value:     value,
		Unit:      ex.Param.Unit,
		Protocol:  c.Name(),
	}, nil
}

// Classify reports whether a Modbus device error is retryable.
func (c *ModbusCapability) Classify(err error) Class {
	var devErr *DeviceError
	if errors.As(err, &devErr) && devErr.Temporary {
		return ClassRetryable
	}
	return ClassFatal
}

// mbapFrame prepends the MBAP header to a PDU.
func mbapFrame(txnID uint16, unitID uint8, pdu []byte) []byte {
	frame := make([]byte, mbapHeaderSize+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txnID)
	binary.BigEndian.PutUint16(frame[2:4], modbusProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], uint16(1+len(pdu)))
	frame[6] = unitID
	copy(frame[mbapHeaderSize:], pdu)
	return frame
}

// modbusComplete delimits Modbus TCP responses: the MBAP header declares
// the remaining length.
func modbusComplete(buf []byte) (int, bool) {
	if len(buf) < 6 {
		return 0, false
	}
	total := 6 + int(binary.BigEndian.Uint16(buf[4:6]))
	if len(buf) < total {
		return 0, false
	}
	return total, true
}

// toRegisterValue converts a write value to a 16-bit register value.
func toRegisterValue(value any) (uint16, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint16:
		return v, nil
	default:
		return 0, fmt.Errorf("unsupported write value type %T", value)
	}
	if f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
		return 0, fmt.Errorf("value %v does not fit a 16-bit register", f)
	}
	return uint16(f), nil
}
