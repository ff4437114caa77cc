package workload

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/copysplit/split"
)

// Spec is the top-level workload configuration.
// Loaded from YAML via LoadSpec(path).
type Spec struct {
	Seed      int64       `yaml:"seed"`
	Mode      string      `yaml:"mode,omitempty"` // submission mode override: sync, async, relaxed
	Transfers []GroupSpec `yaml:"transfers"`
}

// GroupSpec describes Count transfers that share a direction and operation.
type GroupSpec struct {
	Name      string         `yaml:"name"`
	Direction string         `yaml:"direction"`       // d2d, d2h-usm, d2h, h2d-usm, h2d, h2h
	Op        string         `yaml:"op,omitempty"`    // copy (default), copy-region, fill, page-fault-copy
	Count     int            `yaml:"count,omitempty"` // default 1
	Size      split.ByteSize `yaml:"size,omitempty"`  // fixed size; mutually exclusive with size_distribution
	SizeDist  *DistSpec      `yaml:"size_distribution,omitempty"`
	Rows      int            `yaml:"rows,omitempty"`          // copy-region: number of rows the size is laid out in
	Pitch     split.ByteSize `yaml:"pitch,omitempty"`         // copy-region: row pitch (default: row width)
	Pattern   int            `yaml:"pattern_bytes,omitempty"` // fill: pattern length (default 4)
	Chain     bool           `yaml:"chain,omitempty"`         // wait on the previous transfer's completion
}

// DistSpec parameterizes a size distribution. Params are byte sizes.
type DistSpec struct {
	Type   string                    `yaml:"type"`
	Params map[string]split.ByteSize `yaml:"params,omitempty"`
}

// LoadSpec reads and parses a YAML workload specification file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses a YAML workload specification.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing workload spec: %w", err)
	}
	return &spec, nil
}

// Validate checks that all fields in the spec are valid.
func (s *Spec) Validate() error {
	if s.Mode != "" {
		if _, err := split.ParseSubmissionMode(s.Mode); err != nil {
			return err
		}
	}
	if len(s.Transfers) == 0 {
		return fmt.Errorf("at least one transfer group required")
	}
	for i := range s.Transfers {
		if err := validateGroup(&s.Transfers[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validateGroup(g *GroupSpec, idx int) error {
	prefix := fmt.Sprintf("transfers[%d]", idx)
	if g.Name != "" {
		prefix = fmt.Sprintf("transfers[%d] (%s)", idx, g.Name)
	}
	if _, err := split.ParseDirection(g.Direction); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	op, err := split.ParseOperation(g.Op)
	if err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if g.Count < 0 {
		return fmt.Errorf("%s: count must be non-negative, got %d", prefix, g.Count)
	}
	switch {
	case g.Size == 0 && g.SizeDist == nil:
		return fmt.Errorf("%s: size or size_distribution required", prefix)
	case g.Size != 0 && g.SizeDist != nil:
		return fmt.Errorf("%s: size and size_distribution are mutually exclusive", prefix)
	case g.SizeDist != nil && !validDistTypes[g.SizeDist.Type]:
		return fmt.Errorf("%s: unknown distribution type %q; valid: constant, uniform, gaussian, exponential", prefix, g.SizeDist.Type)
	}
	if op == split.OpCopyRegion {
		if g.Rows < 1 {
			return fmt.Errorf("%s: copy-region requires rows >= 1, got %d", prefix, g.Rows)
		}
	} else if g.Rows != 0 || g.Pitch != 0 {
		return fmt.Errorf("%s: rows and pitch only apply to copy-region", prefix)
	}
	if g.Pattern < 0 || (g.Pattern > 0 && op != split.OpFill) {
		return fmt.Errorf("%s: pattern_bytes only applies to fill and must be positive", prefix)
	}
	return nil
}
