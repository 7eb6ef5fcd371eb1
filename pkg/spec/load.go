package spec

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldgate-protocol/fieldgate-go/pkg/transport"
)

// specFile is the YAML document shape for protocol spec files.
type specFile struct {
	Protocols []specEntry `yaml:"protocols"`
}

type specEntry struct {
	Name           string     `yaml:"name"`
	Transport      string     `yaml:"transport"`
	Port           int        `yaml:"port"`
	Discovery      string     `yaml:"discovery"`
	Description    string     `yaml:"description"`
	MaxMessageSize uint32     `yaml:"max_message_size"`
	Timing         timingYAML `yaml:"timing"`
}

type timingYAML struct {
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	RequestTimeout    Duration `yaml:"request_timeout"`
	RetryCount        int      `yaml:"retry_count"`
	BackoffInitial    Duration `yaml:"backoff_initial"`
	BackoffMax        Duration `yaml:"backoff_max"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	BackoffJitter     float64  `yaml:"backoff_jitter"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Parse parses a YAML protocol spec document into validated specs.
func Parse(data []byte) ([]*ProtocolSpec, error) {
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}
	if len(file.Protocols) == 0 {
		return nil, fmt.Errorf("%w: spec file declares no protocols", ErrInvalidSpec)
	}

	specs := make([]*ProtocolSpec, 0, len(file.Protocols))
	for _, e := range file.Protocols {
		kind, err := transport.ParseKind(e.Transport)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSpec, e.Name, err)
		}
		s := &ProtocolSpec{
			Name:           e.Name,
			Transport:      kind,
			DefaultPort:    e.Port,
			Discovery:      e.Discovery,
			Description:    e.Description,
			MaxMessageSize: e.MaxMessageSize,
			Timing: Timing{
				ConnectTimeout:    time.Duration(e.Timing.ConnectTimeout),
				RequestTimeout:    time.Duration(e.Timing.RequestTimeout),
				RetryCount:        e.Timing.RetryCount,
				BackoffInitial:    time.Duration(e.Timing.BackoffInitial),
				BackoffMax:        time.Duration(e.Timing.BackoffMax),
				BackoffMultiplier: e.Timing.BackoffMultiplier,
				BackoffJitter:     e.Timing.BackoffJitter,
			},
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// LoadFile reads and parses a YAML protocol spec file.
func LoadFile(path string) ([]*ProtocolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return Parse(data)
}
