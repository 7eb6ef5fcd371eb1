package devctx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPResolverResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aaaa111122223333", req.Fingerprint)
		assert.Equal(t, "modbus-tcp", req.Features.Protocol)

		json.NewEncoder(w).Encode(&ContextRecord{
			Profile:    Profile{Manufacturer: "Acme", Model: "PM5300"},
			ErrorCodes: map[string]string{"exception-6": "device busy, retry later"},
			Confidence: 0.85,
		})
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, time.Second)
	record, err := resolver.Resolve(context.Background(), "aaaa111122223333", Features{Protocol: "modbus-tcp", Port: 502})
	require.NoError(t, err)

	assert.Equal(t, "PM5300", record.Profile.Model)
	// The resolver fills fields the service left out.
	assert.Equal(t, "aaaa111122223333", record.Fingerprint)
	assert.False(t, record.RetrievedAt.IsZero())
}

func TestHTTPResolverErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"ServerError", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"NotJSON", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			resolver := NewHTTPResolver(srv.URL, time.Second)
			_, err := resolver.Resolve(context.Background(), "aaaa111122223333", Features{})
			assert.Error(t, err)
		})
	}
}

func TestHTTPResolverUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	resolver := NewHTTPResolver(url, 200*time.Millisecond)
	_, err := resolver.Resolve(context.Background(), "aaaa111122223333", Features{})
	assert.Error(t, err)
}
