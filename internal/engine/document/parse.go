package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnsupportedVersionError reports a document whose specVersion major does
// not match SpecVersionMajor.
type UnsupportedVersionError struct {
	SpecVersion string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("document: unsupported spec version %q (supported major: %s)", e.SpecVersion, SpecVersionMajor)
}

// Parse parses a collection document from JSON or YAML bytes. A document
// whose first non-whitespace byte is '{' is treated as JSON, anything
// else as YAML.
//
// Precondition: data must be non-empty.
// Postcondition: returns a non-nil Document that passed CheckVersion and
// Validate, or a non-nil error.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("document: empty input")
	}

	var d Document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, fmt.Errorf("document: parsing JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("document: parsing YAML: %w", err)
		}
	}

	if err := d.CheckVersion(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("document %q: %w", d.Metadata.Name, err)
	}
	return &d, nil
}

// CheckVersion verifies the document's specVersion major. A missing
// specVersion passes; the loader logs a warning for it instead.
//
// Postcondition: returns *UnsupportedVersionError for a non-"1" major.
func (d *Document) CheckVersion() error {
	v := d.Metadata.SpecVersion
	if v == "" {
		return nil
	}
	major, _, _ := strings.Cut(v, ".")
	if major != SpecVersionMajor {
		return &UnsupportedVersionError{SpecVersion: v}
	}
	return nil
}
