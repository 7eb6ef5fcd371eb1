package devctx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Resolver answers fingerprint lookups against an external knowledge
// source, typically a similarity-search service over device documentation.
type Resolver interface {
	// Resolve returns the context record for a fingerprint. The features
	// that produced the fingerprint are included so the service can run
	// a similarity match when the exact fingerprint is unknown.
	Resolve(ctx context.Context, fingerprint string, features Features) (*ContextRecord, error)
}

// DefaultResolverTimeout bounds one resolver round trip.
const DefaultResolverTimeout = 10 * time.Second

// HTTPResolver resolves context records against an HTTP service.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver creates a resolver posting to endpoint.
// Zero timeout uses DefaultResolverTimeout.
func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if timeout == 0 {
		timeout = DefaultResolverTimeout
	}
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// resolveRequest is the wire form of a lookup.
type resolveRequest struct {
	Fingerprint string   `json:"fingerprint"`
	Features    Features `json:"features"`
}

// Resolve posts the fingerprint and features and decodes the record.
func (r *HTTPResolver) Resolve(ctx context.Context, fingerprint string, features Features) (*ContextRecord, error) {
	body, err := json.Marshal(resolveRequest{Fingerprint: fingerprint, Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to encode resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver returned status %d", resp.StatusCode)
	}

	record := &ContextRecord{}
	if err := json.NewDecoder(resp.Body).Decode(record); err != nil {
		return nil, fmt.Errorf("failed to decode resolver response: %w", err)
	}

	if record.Fingerprint == "" {
		record.Fingerprint = fingerprint
	}
	if record.RetrievedAt.IsZero() {
		record.RetrievedAt = time.Now()
	}
	return record, nil
}

// Compile-time interface satisfaction check.
var _ Resolver = (*HTTPResolver)(nil)
