package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// topLevelFields are the keys a scenario may define. The YAML decoder
// enforces this with KnownFields; CUE values are checked against it.
var topLevelFields = []string{
	"name", "description", "nodes", "node_count", "clock", "bus",
	"send_retries", "retry_backoff", "max_drift", "timeout", "run_id",
	"script", "assertions",
}

// Load reads a scenario from a .yaml, .yml or .cue file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s *Scenario
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		s, err = ParseYAML(data)
	case ".cue":
		s, err = ParseCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported scenario extension %q (want .yaml, .yml or .cue)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseYAML decodes and validates a YAML scenario. Unknown fields are
// rejected so typos like "assertion:" fail loudly.
func ParseYAML(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// ParseCUE compiles and validates a CUE scenario. filename is used in
// error positions only.
func ParseCUE(data []byte, filename string) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %w", err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, fmt.Errorf("scenario must be a CUE struct: %w", err)
	}
	for iter.Next() {
		if label := iter.Label(); !slices.Contains(topLevelFields, label) {
			return nil, fmt.Errorf("%s: unknown field %q", iter.Value().Pos(), label)
		}
	}

	var s Scenario
	if err := v.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// Validate checks required fields and converts the scenario once to
// surface configuration errors before anything runs.
func Validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("script list is required and must be non-empty")
	}

	for i, st := range s.Script {
		if st.Node == "" {
			return fmt.Errorf("script[%d]: node is required", i)
		}
		if st.Op == "" {
			return fmt.Errorf("script[%d]: op is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	if _, err := s.Config(); err != nil {
		return err
	}
	return nil
}

// Marshal renders s as YAML.
func Marshal(s *Scenario) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode scenario: %w", err)
	}
	return buf.Bytes(), nil
}
