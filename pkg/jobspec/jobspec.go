// Package jobspec loads job submissions from YAML or JSON files.
//
// A spec names the job kind, an optional display name, and free-form
// inputs interpreted by the kind:
//
//	kind: archive
//	name: roads
//	inputs:
//	  source: s3://exports/layers/
//	  includes: ["**/*.shp", "**/*.dbf"]
package jobspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is a job submission.
type Spec struct {
	Kind   string         `yaml:"kind" json:"kind"`
	Name   string         `yaml:"name,omitempty" json:"name,omitempty"`
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// ErrValidationFailed is wrapped by ValidationErrors.
var ErrValidationFailed = errors.New("job spec validation failed")

// ValidationError is a single problem with a spec field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "job spec validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

var (
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// Validate checks the structural rules shared by all kinds. Kind-specific
// inputs are checked when the job is built.
func (s *Spec) Validate() error {
	var errs ValidationErrors
	switch {
	case s.Kind == "":
		errs = append(errs, ValidationError{Field: "kind", Message: "is required"})
	case !kindPattern.MatchString(s.Kind):
		errs = append(errs, ValidationError{Field: "kind", Message: fmt.Sprintf("%q is not a valid kind name", s.Kind)})
	}
	if s.Name != "" && (len(s.Name) > 128 || !namePattern.MatchString(s.Name)) {
		errs = append(errs, ValidationError{Field: "name", Message: "must be 1-128 characters of letters, digits, '.', '_' or '-'"})
	}
	for k := range s.Inputs {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, ValidationError{Field: "inputs", Message: "input names must not be empty"})
			break
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Load reads and validates a spec file. The format follows the extension
// (.yaml, .yml, .json); anything else is tried as YAML, then JSON.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("job spec file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading job spec: %s", path)
		}
		return nil, fmt.Errorf("failed to read job spec file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a spec from r. path is only used for
// format detection and may be empty.
func LoadFromReader(r io.Reader, path string) (*Spec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read job spec: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a spec. Unknown top-level fields are
// rejected.
func LoadFromBytes(data []byte, path string) (*Spec, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("job spec is empty")
	}

	var (
		spec *Spec
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		spec, err = parseJSON(data)
	case ".yaml", ".yml":
		spec, err = parseYAML(data)
	default:
		var yamlErr error
		spec, yamlErr = parseYAML(data)
		if yamlErr != nil {
			var jsonErr error
			if spec, jsonErr = parseJSON(data); jsonErr != nil {
				err = fmt.Errorf("failed to parse job spec (tried YAML and JSON): %w", yamlErr)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseJSON(data []byte) (*Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("invalid JSON in job spec: %w", err)
	}
	return &spec, nil
}

func parseYAML(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("invalid YAML in job spec: %w", err)
	}
	return &spec, nil
}
