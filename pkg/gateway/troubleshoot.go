package gateway

import (
	"fmt"
)

// Diagnosis is the result of resolving an error code against a device's
// cached context.
type Diagnosis struct {
	// Code is the error code that was looked up.
	Code string `json:"code"`

	// Description is the documented meaning of the code.
	Description string `json:"description"`

	// Troubleshooting holds the record's ordered troubleshooting notes.
	Troubleshooting []string `json:"troubleshooting,omitempty"`

	// Maintenance maps maintenance tasks to their interval in days.
	Maintenance map[string]int `json:"maintenance,omitempty"`

	// Advisory marks diagnoses built from a stale or low-confidence
	// record; operators should verify against the device documentation.
	Advisory bool `json:"advisory,omitempty"`
}

// Troubleshoot resolves a device error code against the cached context
// record. The device must have been contacted at least once so a record
// exists; otherwise devctx.ErrContextUnavailable is returned.
func (g *Gateway) Troubleshoot(deviceID, errorCode string) (*Diagnosis, error) {
	record, err := g.DeviceContext(deviceID)
	if err != nil {
		return nil, err
	}

	description, ok := record.ErrorCodes[errorCode]
	if !ok {
		return nil, fmt.Errorf("error code %q not documented for device %s", errorCode, deviceID)
	}

	return &Diagnosis{
		Code:            errorCode,
		Description:     description,
		Troubleshooting: record.Troubleshooting,
		Maintenance:     record.Maintenance,
		Advisory:        !record.Authoritative(g.cache.ConfidenceThreshold()),
	}, nil
}
