package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a policy file over the defaults and validates it.
// Fields absent from the file keep their default values. Unknown fields fail.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. An empty document is the defaults.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Hash is the sha256 of the policy's canonical JSON.
// Struct field order keeps it stable across runs.
func Hash(p *Policy) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// YAML renders the policy, e.g. for `forge policy` output.
func YAML(p *Policy) ([]byte, error) {
	return yaml.Marshal(p)
}
