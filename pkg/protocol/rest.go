package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/device"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/spec"
	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// RESTCapability speaks HTTP/1.1 with JSON bodies over the stream
// transport. Reads are GETs against the parameter's endpoint path; writes
// POST a JSON body {"value": v}. Requests carry Connection: close so the
// response is delimited by the peer closing the stream.
type RESTCapability struct {
	defaultPort int
}

// NewRESTCapability creates the REST capability.
func NewRESTCapability() *RESTCapability {
	return &RESTCapability{defaultPort: spec.PortREST}
}

// Name returns "rest".
func (c *RESTCapability) Name() string { return "rest" }

// TransportKind returns KindStream.
func (c *RESTCapability) TransportKind() transport.Kind { return transport.KindStream }

// EncodeRead builds a GET request for the parameter endpoint.
func (c *RESTCapability) EncodeRead(desc *device.Descriptor, parameter string) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}
	if param.Endpoint == "" {
		return nil, fmt.Errorf("%w: parameter %q has no endpoint", device.ErrInvalidDescriptor, parameter)
	}

	req, err := c.newRequest(http.MethodGet, desc, param.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	payload, err := requestBytes(req)
	if err != nil {
		return nil, err
	}

	return &Exchange{
		Payload:   payload,
		Operation: Operation{Kind: OpRead, Parameter: parameter},
		Param:     param,
	}, nil
}

// EncodeWrite builds a POST request writing value to the parameter endpoint.
func (c *RESTCapability) EncodeWrite(desc *device.Descriptor, parameter string, value any) (*Exchange, error) {
	param, err := desc.Parameter(parameter)
	if err != nil {
		return nil, err
	}
	if param.Endpoint == "" {
		return nil, fmt.Errorf("%w: parameter %q has no endpoint", device.ErrInvalidDescriptor, parameter)
	}
	if !param.Writable {
		return nil, fmt.Errorf("%w: %q", ErrNotWritable, parameter)
	}

	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode write body: %w", err)
	}

	req, err := c.newRequest(http.MethodPost, desc, param.Endpoint, body)
	if err != nil {
		return nil, err
	}

	payload, err := requestBytes(req)
	if err != nil {
		return nil, err
	}

	return &Exchange{
		Payload:   payload,
		Operation: Operation{Kind: OpWrite, Parameter: parameter, Value: value},
		Param:     param,
	}, nil
}

// newRequest builds an http.Request addressed to the device.
func (c *RESTCapability) newRequest(method string, desc *device.Descriptor, endpoint string, body []byte) (*http.Request, error) {
	host := desc.Endpoint(c.defaultPort)
	u := &url.URL{Scheme: "http", Host: host, Path: endpoint}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = int64(len(body))
	}
	// Response framing: the device closes the stream after responding.
	req.Close = true
	return req, nil
}

// requestBytes serializes the request to its HTTP/1.1 wire form.
func requestBytes(req *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := req.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize request: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses the HTTP response and extracts the parameter value from
// the JSON body.
func (c *RESTCapability) Decode(ex *Exchange, response []byte) (*Reading, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(response)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrMalformedResponse, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &DeviceError{
			Protocol:  c.Name(),
			Code:      "http-" + strconv.Itoa(resp.StatusCode),
			Detail:    httpErrorDetail(resp.StatusCode, body),
			Temporary: isRetryableStatus(resp.StatusCode),
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", ErrMalformedResponse, err)
	}

	value, ok := fields[ex.Operation.Parameter]
	if !ok {
		value, ok = fields["value"]
	}
	if !ok {
		return nil, fmt.Errorf("%w: body has neither %q nor \"value\"", ErrMalformedResponse, ex.Operation.Parameter)
	}

	unit := ex.Param.Unit
	if u, ok := fields["unit"].(string); ok && u != "" {
		unit = u
	}

	if num, isNum := value.(float64); isNum && ex.Param.Transform != "" {
		transformed, err := applyTransform(ex.Param.Transform, num)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		value = transformed
	}

	return &Reading{
		Parameter: ex.Operation.Parameter,
		Value:     value,
		Unit:      unit,
		Protocol:  c.Name(),
	}, nil
}

// Classify reports whether an HTTP-level device error is retryable.
func (c *RESTCapability) Classify(err error) Class {
	var devErr *DeviceError
	if errors.As(err, &devErr) && devErr.Temporary {
		return ClassRetryable
	}
	return ClassFatal
}

// isRetryableStatus reports whether an HTTP status is worth retrying:
// timeouts, throttling and transient server errors.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented:
		return false
	}
	return status >= 500
}

// httpErrorDetail extracts an error message from a JSON error body,
// falling back to the status text.
func httpErrorDetail(status int, body []byte) string {
	var fields struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		if fields.Error != "" {
			return fields.Error
		}
		if fields.Message != "" {
			return fields.Message
		}
	}
	return http.StatusText(status)
}
