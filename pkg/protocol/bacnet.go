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

// BACnet/IP frame constants.
const (
	bvlcType           = 0x81
	bvlcOriginalUnicast = 0x0A

	npduVersion        = 0x01
	npduExpectingReply = 0x04

	apduConfirmedRequest = 0x00
	apduComplexAck       = 0x30
	apduSimpleAck        = 0x20
	apduError            = 0x50
	apduReject           = 0x60
	apduAbort            = 0x70

	serviceReadProperty  = 0x0C
	serviceWriteProperty = 0x0F

	propertyPresentValue = 85

	// Max-segments/max-APDU octet: no segmentation, 1476-byte APDU.
	maxAPDUOctet = 0x05
)

// bacnetObjectTypes maps descriptor object type names to BACnet object
// type numbers.
var bacnetObjectTypes = map[string]uint16{
	"analog-input":      0,
	"analog-output":     1,
	"analog-value":      2,
	"binary-input":      3,
	"binary-output":     4,
	"binary-value":      5,
	"device":            8,
	"multi-state-input": 13,
	"multi-state-value": 19,
}

// bacnetMeta carries the invoke id for response matching.
type bacnetMeta struct {
	invokeID byte
	service  byte
}

// BACnetCapability speaks BACnet/IP ReadProperty and WriteProperty over
// the datagram transport: BVLC original-unicast framing, a minimal NPDU
// and confirmed-request APDUs against present-value.
type BACnetCapability struct {
	invokeCounter atomic.Uint32
}

// NewBACnetCapability creates the BACnet/IP capability.
func NewBACnetCapability() *BACnetCapability {
	return &BACnetCapability{}
}

// Name returns "bacnet-ip".
func (c *BACnetCapability) Name() string { return "bacnet-ip" }

// TransportKind returns KindDatagram.
func (c *BACnetCapability) TransportKind() transport.Kind { return transport.KindDatagram }

// EncodeRead builds a ReadProperty present-value request for the parameter.
func (c *BACnetCapability) EncodeRead(desc *device.Descriptor, parameter string) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}

	objType, err := bacnetObjectType(param.ObjectType)
	if err != nil {
		return nil, err
	}

	invokeID := byte(c.invokeCounter.Add(1))
	apdu := []byte{
		apduConfirmedRequest,
		maxAPDUOctet,
		invokeID,
		serviceReadProperty,
	}
	apdu = appendObjectID(apdu, 0, objType, param.ObjectInstance)
	apdu = appendContextUnsigned(apdu, 1, propertyPresentValue)

	return &Exchange{
		Payload:   bacnetFrame(apdu),
		Operation: Operation{Kind: OpRead, Parameter: parameter},
		Param:     param,
		Meta:      &bacnetMeta{invokeID: invokeID, service: serviceReadProperty},
	}, nil
}

// EncodeWrite builds a WriteProperty present-value request for the parameter.
func (c *BACnetCapability) EncodeWrite(desc *device.Descriptor, parameter string, value any) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}
	if !param.Writable {
		return nil, fmt.Errorf("%w: %q", ErrNotWritable, parameter)
	}

	objType, err := bacnetObjectType(param.ObjectType)
	if err != nil {
		return nil, err
	}

	f, err := toFloat(value)
	if err != nil {
		return nil, err
	}

	invokeID := byte(c.invokeCounter.Add(1))
	apdu := []byte{
		apduConfirmedRequest,
		maxAPDUOctet,
		invokeID,
		serviceWriteProperty,
	}
	apdu = appendObjectID(apdu, 0, objType, param.ObjectInstance)
	apdu = appendContextUnsigned(apdu, 1, propertyPresentValue)
	// Property value: opening tag 3, application-tagged real, closing tag 3.
	apdu = append(apdu, 0x3E)
	apdu = appendApplicationReal(apdu, float32(f))
	apdu = append(apdu, 0x3F)

	return &Exchange{
		Payload:   bacnetFrame(apdu),
		Operation: Operation{Kind: OpWrite, Parameter: parameter, Value: value},
		Param:     param,
		Meta:      &bacnetMeta{invokeID: invokeID, service: serviceWriteProperty},
	}, nil
}

// Decode parses a BACnet/IP response frame into a Reading.
func (c *BACnetCapability) Decode(ex *Exchange, response []byte) (*Reading, error) {
	meta, ok := ex.Meta.(*bacnetMeta)
	if !ok {
		return nil, fmt.Errorf("%w: exchange missing bacnet metadata", ErrMalformedResponse)
	}

	apdu, err := stripBVLCAndNPDU(response)
	if err != nil {
		return nil, err
	}
	if len(apdu) < 2 {
		return nil, fmt.Errorf("%w: truncated APDU", ErrMalformedResponse)
	}

	pduType := apdu[0] & 0xF0

	switch pduType {
	case apduComplexAck:
		if len(apdu) < 3 {
			return nil, fmt.Errorf("%w: truncated complex ack", ErrMalformedResponse)
		}
		if apdu[1] != meta.invokeID {
			return nil, fmt.Errorf("%w: invoke id %d, want %d", ErrMalformedResponse, apdu[1], meta.invokeID)
		}
		if apdu[2] != meta.service {
			return nil, fmt.Errorf("%w: service %#x, want %#x", ErrMalformedResponse, apdu[2], meta.service)
		}
		return c.decodeAck(ex, apdu[3:])

	case apduSimpleAck:
		if apdu[1] != meta.invokeID {
			return nil, fmt.Errorf("%w: invoke id %d, want %d", ErrMalformedResponse, apdu[1], meta.invokeID)
		}
		return &Reading{
			Parameter: ex.Operation.Parameter,
			Value:     ex.Operation.Value,
			Unit:      ex.Param.Unit,
			Protocol:  c.Name(),
		}, nil

	case apduError:
		return nil, c.decodeError(apdu)

	case apduReject:
		return nil, &DeviceError{
			Protocol:  c.Name(),
			Code:      fmt.Sprintf("reject-%d", rejectReason(apdu)),
			Detail:    "request rejected",
			Temporary: false,
		}

	case apduAbort:
		return nil, &DeviceError{
			Protocol:  c.Name(),
			Code:      fmt.Sprintf("abort-%d", rejectReason(apdu)),
			Detail:    "request aborted",
			Temporary: true,
		}

	default:
		return nil, fmt.Errorf("%w: unexpected PDU type %#x", ErrMalformedResponse, pduType)
	}
}

// decodeAck parses a ReadProperty complex-ack service body.
func (c *BACnetCapability) decodeAck(ex *Exchange, body []byte) (*Reading, error) {
	// Skip the echoed object identifier (context tag 0) and property
	// identifier (context tag 1), then read the value between the
	// opening/closing context tag 3.
	rest := body
	var err error
	if rest, err = skipContextTag(rest, 0); err != nil {
		return nil, err
	}
	if rest, err = skipContextTag(rest, 1); err != nil {
		return nil, err
	}
	// Optional array index (context tag 2).
	if len(rest) > 0 && rest[0]>>4 == 2 && rest[0]&0x08 != 0 {
		if rest, err = skipContextTag(rest, 2); err != nil {
			return nil, err
		}
	}
	if len(rest) == 0 || rest[0] != 0x3E {
		return nil, fmt.Errorf("%w: missing property value opening tag", ErrMalformedResponse)
	}
	rest = rest[1:]

	raw, err := decodeApplicationValue(rest)
	if err != nil {
		return nil, err
	}

	value := raw
	if ex.Param.Transform != "" {
		transformed, err := applyTransform(ex.Param.Transform, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		value = transformed
	}

	return &Reading{
		Parameter: ex.Operation.Parameter,
		Value:     value,
		Unit:      ex.Param.Unit,
		Protocol:  c.Name(),
	}, nil
}

// decodeError parses a BACnet Error PDU into a DeviceError.
func (c *BACnetCapability) decodeError(apdu []byte) error {
	// Error PDU: type, invoke id, service, then error class and code as
	// application-tagged enumerated values.
	code := "error"
	temporary := false
	if len(apdu) >= 7 {
		class := apdu[4]
		errCode := apdu[6]
		code = fmt.Sprintf("error-%d-%d", class, errCode)
		// Error class device (0) covers busy-style failures; object,
		// property and the rest are configuration errors.
		temporary = class == 0
	}
	return &DeviceError{
		Protocol:  c.Name(),
		Code:      code,
		Detail:    "device returned error",
		Temporary: temporary,
	}
}

// Classify reports whether a BACnet device error is retryable.
func (c *BACnetCapability) Classify(err error) Class {
	var devErr *DeviceError
	if errors.As(err, &devErr) && devErr.Temporary {
		return ClassRetryable
	}
	return ClassFatal
}

// bacnetObjectType resolves a descriptor object type name.
func bacnetObjectType(name string) (uint16, error) {
	t, ok := bacnetObjectTypes[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown BACnet object type %q", device.ErrInvalidDescriptor, name)
	}
	return t, nil
}

// bacnetFrame wraps an APDU in NPDU and BVLC headers.
func bacnetFrame(apdu []byte) []byte {
	npdu := []byte{npduVersion, npduExpectingReply}
	total := 4 + len(npdu) + len(apdu)
	frame := make([]byte, 0, total)
	frame = append(frame, bvlcType, bvlcOriginalUnicast)
	frame = binary.BigEndian.AppendUint16(frame, uint16(total))
	frame = append(frame, npdu...)
	frame = append(frame, apdu...)
	return frame
}

// stripBVLCAndNPDU validates the outer headers and returns the APDU.
func stripBVLCAndNPDU(frame []byte) ([]byte, error) {
	if len(frame) < 6 {
		return nil, fmt.Errorf("%w: %d bytes, need at least 6", ErrMalformedResponse, len(frame))
	}
	if frame[0] != bvlcType {
		return nil, fmt.Errorf("%w: BVLC type %#x", ErrMalformedResponse, frame[0])
	}
	length := int(binary.BigEndian.Uint16(frame[2:4]))
	if length != len(frame) {
		return nil, fmt.Errorf("%w: BVLC length %d, have %d", ErrMalformedResponse, length, len(frame))
	}
	if frame[4] != npduVersion {
		return nil, fmt.Errorf("%w: NPDU version %d", ErrMalformedResponse, frame[4])
	}
	// Local responses carry no routing information.
	if frame[5]&0x20 != 0 || frame[5]&0x08 != 0 {
		return nil, fmt.Errorf("%w: routed NPDU not supported", ErrMalformedResponse)
	}
	return frame[6:], nil
}

// appendObjectID appends a context-tagged BACnetObjectIdentifier:
// 10-bit object type, 22-bit instance.
func appendObjectID(buf []byte, tag byte, objType uint16, instance uint32) []byte {
	buf = append(buf, tag<<4|0x08|0x04)
	id := uint32(objType)<<22 | instance&0x3FFFFF
	return binary.BigEndian.AppendUint32(buf, id)
}

// appendContextUnsigned appends a context-tagged unsigned value using the
// minimal encoding.
func appendContextUnsigned(buf []byte, tag byte, v uint32) []byte {
	switch {
	case v < 0x100:
		return append(buf, tag<<4|0x08|0x01, byte(v))
	case v < 0x10000:
		buf = append(buf, tag<<4|0x08|0x02)
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	default:
		buf = append(buf, tag<<4|0x08|0x04)
		return binary.BigEndian.AppendUint32(buf, v)
	}
}

// appendApplicationReal appends an application-tagged IEEE-754 real.
func appendApplicationReal(buf []byte, v float32) []byte {
	buf = append(buf, 0x44)
	return binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
}

// decodeApplicationValue decodes the application-tagged value at the head
// of buf as a float64. Reals, unsigned ints and enumerated values are
// supported; enumerated covers binary present-values.
func decodeApplicationValue(buf []byte) (float64, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: empty property value", ErrMalformedResponse)
	}
	tag := buf[0] >> 4
	length := int(buf[0] & 0x07)
	data := buf[1:]
	if len(data) < length {
		return 0, fmt.Errorf("%w: truncated property value", ErrMalformedResponse)
	}

	switch tag {
	case 0x4: // real
		if length != 4 {
			return 0, fmt.Errorf("%w: real with length %d", ErrMalformedResponse, length)
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data[:4]))), nil
	case 0x2, 0x9: // unsigned, enumerated
		var v uint64
		for _, b := range data[:length] {
			v = v<<8 | uint64(b)
		}
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: unsupported application tag %d", ErrMalformedResponse, tag)
	}
}

// skipContextTag advances past the context-tagged value with the given
// tag number at the head of buf.
func skipContextTag(buf []byte, tag byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: missing context tag %d", ErrMalformedResponse, tag)
	}
	head := buf[0]
	if head>>4 != tag || head&0x08 == 0 {
		return nil, fmt.Errorf("%w: expected context tag %d, got %#x", ErrMalformedResponse, tag, head)
	}
	length := int(head & 0x07)
	if len(buf) < 1+length {
		return nil, fmt.Errorf("%w: truncated context tag %d", ErrMalformedResponse, tag)
	}
	return buf[1+length:], nil
}

// rejectReason extracts the reason octet of a Reject or Abort PDU.
func rejectReason(apdu []byte) byte {
	if len(apdu) >= 3 {
		return apdu[2]
	}
	return 0
}

// toFloat converts a write value to float64.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported write value type %T", value)
	}
}
